/*
Copyright 2026 The cryptobackup authors.

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package clientengine

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/onsi/gomega"

	"github.com/backube/cryptobackup/internal/apperrors"
	"github.com/backube/cryptobackup/internal/crc32cksum"
	"github.com/backube/cryptobackup/internal/cryptoutil"
	"github.com/backube/cryptobackup/internal/framer"
	"github.com/backube/cryptobackup/internal/protocol"
)

func writeFixture(t *testing.T, contents []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.pdf")
	if err := os.WriteFile(path, contents, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

// fakeServer is a scripted stand-in for the real session handler, good
// enough to drive an Engine through Register, key exchange, and upload
// without pulling in the full server package. badAttempts controls how
// many times in a row it reports a deliberately wrong CRC before reporting
// the true one.
func fakeServer(t *testing.T, conn net.Conn, badAttempts int) {
	t.Helper()
	codec := protocol.NewCodec(framer.New(conn))
	var clientID protocol.ClientID
	for i := range clientID {
		clientID[i] = byte(0xC0 + i)
	}

	reqHeader, payload, err := codec.ReadRequest()
	if err != nil {
		t.Errorf("fakeServer: read Register: %v", err)
		return
	}
	if reqHeader.Code != protocol.ReqRegister {
		t.Errorf("fakeServer: expected Register, got %s", reqHeader.Code)
		return
	}
	respPayload, _ := protocol.RegisterOkPayload{ClientID: clientID}.MarshalBinary()
	if err := codec.WriteResponse(protocol.ResponseHeader{Version: protocol.ProtocolVersion, Code: protocol.RespRegisterOk}, respPayload); err != nil {
		t.Errorf("fakeServer: write RegisterOk: %v", err)
		return
	}

	reqHeader, payload, err = codec.ReadRequest()
	if err != nil {
		t.Errorf("fakeServer: read SendPublicKey: %v", err)
		return
	}
	if reqHeader.Code != protocol.ReqSendPublicKey {
		t.Errorf("fakeServer: expected SendPublicKey, got %s", reqHeader.Code)
		return
	}
	spk, err := protocol.UnmarshalSendPublicKeyPayload(payload)
	if err != nil {
		t.Errorf("fakeServer: decode SendPublicKey: %v", err)
		return
	}
	pub, err := cryptoutil.ParsePublicKeyDER(spk.PublicKey[:])
	if err != nil {
		t.Errorf("fakeServer: parse public key: %v", err)
		return
	}
	aesKey, err := cryptoutil.GenerateAESKey()
	if err != nil {
		t.Errorf("fakeServer: generate AES key: %v", err)
		return
	}
	wrapped, err := cryptoutil.WrapAESKey(pub, aesKey)
	if err != nil {
		t.Errorf("fakeServer: wrap AES key: %v", err)
		return
	}
	var wrappedArr [protocol.WrappedAESSize]byte
	copy(wrappedArr[:], wrapped)
	respPayload, _ = protocol.PublicKeyReceivedPayload{ClientID: clientID, WrappedAES: wrappedArr}.MarshalBinary()
	if err := codec.WriteResponse(protocol.ResponseHeader{Version: protocol.ProtocolVersion, Code: protocol.RespPublicKeyReceived}, respPayload); err != nil {
		t.Errorf("fakeServer: write PublicKeyReceived: %v", err)
		return
	}

	attempt := 0
	for {
		dec, err := cryptoutil.NewDecrypter(aesKey)
		if err != nil {
			t.Errorf("fakeServer: build decrypter: %v", err)
			return
		}
		var plaintext []byte
		var filename string
		var totalPackets, packetsRead uint16

		for {
			reqHeader, payload, err = codec.ReadRequest()
			if err != nil {
				t.Errorf("fakeServer: read SendFile: %v", err)
				return
			}
			if reqHeader.Code != protocol.ReqSendFile {
				t.Errorf("fakeServer: expected SendFile, got %s", reqHeader.Code)
				return
			}
			hdr, ciphertext, err := protocol.UnmarshalSendFileFrame(payload)
			if err != nil {
				t.Errorf("fakeServer: decode SendFile: %v", err)
				return
			}
			filename = hdr.Filename
			totalPackets = hdr.TotalPackets
			pt, err := dec.Write(ciphertext)
			if err != nil {
				t.Errorf("fakeServer: decrypt chunk: %v", err)
				return
			}
			plaintext = append(plaintext, pt...)
			packetsRead++
			if packetsRead >= totalPackets {
				break
			}
		}
		tail, err := dec.Close()
		if err != nil {
			t.Errorf("fakeServer: finalize decryption: %v", err)
			return
		}
		plaintext = append(plaintext, tail...)

		crc := crc32cksum.CRC32(plaintext)
		reported := crc
		if attempt < badAttempts {
			reported = ^crc
		}
		respPayload, _ = protocol.FileReceivedPayload{ClientID: clientID, ContentSize: uint32(len(plaintext)), Filename: filename, Crc: reported}.MarshalBinary()
		if err := codec.WriteResponse(protocol.ResponseHeader{Version: protocol.ProtocolVersion, Code: protocol.RespFileReceived}, respPayload); err != nil {
			t.Errorf("fakeServer: write FileReceived: %v", err)
			return
		}

		reqHeader, _, err = codec.ReadRequest()
		if err != nil {
			t.Errorf("fakeServer: read CRC outcome: %v", err)
			return
		}
		switch reqHeader.Code {
		case protocol.ReqCrcValid, protocol.ReqCrcInvalidAbort:
			respPayload, _ = protocol.ClientIDPayload{ClientID: clientID}.MarshalBinary()
			if err := codec.WriteResponse(protocol.ResponseHeader{Version: protocol.ProtocolVersion, Code: protocol.RespMessageConfirmed}, respPayload); err != nil {
				t.Errorf("fakeServer: write MessageConfirmed: %v", err)
			}
			return
		case protocol.ReqCrcInvalidRetry:
			attempt++
			continue
		default:
			t.Errorf("fakeServer: unexpected request after FileReceived: %s", reqHeader.Code)
			return
		}
	}
}

func TestEngineRunRegistersAndUploadsAcrossMultiplePackets(t *testing.T) {
	g := gomega.NewWithT(t)

	contents := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog\n"), 50)
	filePath := writeFixture(t, contents)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fakeServer(t, serverConn, 0)
	}()

	codec := protocol.NewCodec(framer.New(clientConn))
	dir := t.TempDir()
	eng := New(codec, logr.Discard(), Paths{MeInfo: filepath.Join(dir, "me.info")}).WithChunkSize(64)

	err := eng.Run("alice", filePath)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	<-done

	g.Expect(filepath.Join(dir, "me.info")).To(gomega.BeAnExistingFile())
}

func TestEngineRunRetriesThenSucceedsOnCrcMismatch(t *testing.T) {
	g := gomega.NewWithT(t)

	filePath := writeFixture(t, []byte("short file"))

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fakeServer(t, serverConn, 2)
	}()

	codec := protocol.NewCodec(framer.New(clientConn))
	dir := t.TempDir()
	eng := New(codec, logr.Discard(), Paths{MeInfo: filepath.Join(dir, "me.info")})

	err := eng.Run("bob", filePath)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	<-done
}

func TestEngineRunAbortsAfterMaxRetries(t *testing.T) {
	g := gomega.NewWithT(t)

	filePath := writeFixture(t, []byte("always corrupted"))

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fakeServer(t, serverConn, 99)
	}()

	codec := protocol.NewCodec(framer.New(clientConn))
	dir := t.TempDir()
	eng := New(codec, logr.Discard(), Paths{MeInfo: filepath.Join(dir, "me.info")})

	err := eng.Run("carol", filePath)
	g.Expect(err).To(gomega.HaveOccurred())
	g.Expect(apperrors.ClientExitCode(err)).To(gomega.Equal(4))
	<-done
}

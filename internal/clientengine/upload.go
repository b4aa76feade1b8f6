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
	"io"
	"path/filepath"

	"github.com/backube/cryptobackup/internal/apperrors"
	"github.com/backube/cryptobackup/internal/crc32cksum"
	"github.com/backube/cryptobackup/internal/cryptoutil"
	"github.com/backube/cryptobackup/internal/protocol"
	"github.com/backube/cryptobackup/internal/session"
	"github.com/backube/cryptobackup/internal/validate"
)

// readBufSize is how much plaintext is pulled from disk per Read call. It is
// independent of chunkSize, the network frame size, since the two serve
// different purposes (disk I/O granularity vs. wire framing).
const readBufSize = 32 * 1024

// uploadWithRetry drives the upload loop: send the file, compare
// CRCs, and on mismatch resend up to session.MaxCRCRetries times before
// giving up.
func (e *Engine) uploadWithRetry(ids *identityState, filePath string) error {
	filename, err := validate.Filename(filepath.Base(filePath))
	if err != nil {
		return apperrors.Wrap(apperrors.KindConfigError, err, "client: validate filename")
	}

	retries := 0
	for {
		localCRC, serverCRC, err := e.sendFileOnce(ids, filePath, filename)
		if err != nil {
			return err
		}

		if localCRC == serverCRC {
			return e.confirm(ids.clientID, filename, protocol.ReqCrcValid)
		}

		e.log.Info("CRC mismatch", "phase", session.PhaseUploading, "retry", retries, "localCRC", localCRC, "serverCRC", serverCRC)
		if retries >= session.MaxCRCRetries {
			if err := e.confirm(ids.clientID, filename, protocol.ReqCrcInvalidAbort); err != nil {
				return err
			}
			return apperrors.New(apperrors.KindCrcMismatch, "client: CRC mismatch persisted after max retries")
		}
		retries++
		if err := e.sendCrcOutcome(ids.clientID, filename, protocol.ReqCrcInvalidRetry); err != nil {
			return err
		}
		// No response is expected for CrcInvalidRetry; the server simply
		// waits for the next SendFile stream to begin.
	}
}

// sendFileOnce streams filePath to the server as one or more SendFile
// frames and returns the locally computed plaintext CRC alongside the CRC
// the server reports back.
func (e *Engine) sendFileOnce(ids *identityState, filePath, filename string) (localCRC, serverCRC uint32, err error) {
	f, err := openFile(filePath)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, 0, apperrors.Wrap(apperrors.KindConfigError, err, "client: stat file to upload")
	}
	origSize := info.Size()
	ciphertextLen := cipherTextLength(origSize)
	totalPackets := ceilDiv(ciphertextLen, int64(e.chunkSize))
	if totalPackets == 0 {
		totalPackets = 1
	}

	enc, err := cryptoutil.NewEncrypter(ids.aesKey)
	if err != nil {
		return 0, 0, apperrors.Wrap(apperrors.KindCryptoError, err, "client: build encrypter")
	}

	var crc crc32cksum.Stream
	var pending []byte
	packetNum := uint16(1)
	readBuf := make([]byte, readBufSize)

	flush := func(final bool) error {
		for len(pending) >= e.chunkSize || (final && len(pending) > 0) {
			n := e.chunkSize
			if n > len(pending) {
				n = len(pending)
			}
			chunk := pending[:n]
			pending = pending[n:]

			frame := protocol.SendFileHeader{
				ContentSize:  uint32(len(chunk)),
				OrigSize:     uint32(origSize),
				PacketNum:    packetNum,
				TotalPackets: uint16(totalPackets),
				Filename:     filename,
			}
			payload, ferr := protocol.MarshalSendFileFrame(frame, chunk)
			if ferr != nil {
				return apperrors.Wrap(apperrors.KindConfigError, ferr, "client: encode SendFile frame")
			}
			reqHeader := protocol.RequestHeader{ClientID: ids.clientID, Version: protocol.ProtocolVersion, Code: protocol.ReqSendFile}
			if werr := e.codec.WriteRequest(reqHeader, payload); werr != nil {
				return apperrors.Wrap(apperrors.KindIoError, werr, "client: send SendFile frame")
			}
			packetNum++
		}
		return nil
	}

	e.log.Info("uploading", "phase", session.PhaseUploading, "file", filename, "bytes", origSize, "packets", totalPackets)

	for {
		n, rerr := f.Read(readBuf)
		if n > 0 {
			crc.Update(readBuf[:n])
			ct, eerr := enc.Write(readBuf[:n])
			if eerr != nil {
				return 0, 0, apperrors.Wrap(apperrors.KindCryptoError, eerr, "client: encrypt chunk")
			}
			pending = append(pending, ct...)
			if err := flush(false); err != nil {
				return 0, 0, err
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return 0, 0, apperrors.Wrap(apperrors.KindIoError, rerr, "client: read file to upload")
		}
	}

	tail, err := enc.Close()
	if err != nil {
		return 0, 0, apperrors.Wrap(apperrors.KindCryptoError, err, "client: finalize encryption")
	}
	pending = append(pending, tail...)
	if err := flush(true); err != nil {
		return 0, 0, err
	}

	respHeader, respPayload, err := e.codec.ReadResponse()
	if err != nil {
		return 0, 0, apperrors.Wrap(apperrors.KindIoError, err, "client: read FileReceived response")
	}
	if respHeader.Code != protocol.RespFileReceived {
		return 0, 0, apperrors.New(apperrors.KindProtocolViolation, "client: unexpected response to SendFile")
	}
	resp, err := protocol.UnmarshalFileReceivedPayload(respPayload)
	if err != nil {
		return 0, 0, apperrors.Wrap(apperrors.KindProtocolViolation, err, "client: decode FileReceived")
	}
	return crc.Finalize(), resp.Crc, nil
}

// confirm sends a terminal CRC outcome (CrcValid or CrcInvalidAbort, both of
// which the server acknowledges with MessageConfirmed) and waits for that
// acknowledgment.
func (e *Engine) confirm(clientID protocol.ClientID, filename string, code protocol.RequestCode) error {
	if err := e.sendCrcOutcome(clientID, filename, code); err != nil {
		return err
	}
	respHeader, _, err := e.codec.ReadResponse()
	if err != nil {
		return apperrors.Wrap(apperrors.KindIoError, err, "client: read MessageConfirmed")
	}
	if respHeader.Code != protocol.RespMessageConfirmed {
		return apperrors.New(apperrors.KindProtocolViolation, "client: unexpected response to CRC outcome")
	}
	return nil
}

func (e *Engine) sendCrcOutcome(clientID protocol.ClientID, filename string, code protocol.RequestCode) error {
	payload, err := protocol.FilenamePayload{Filename: filename}.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(apperrors.KindConfigError, err, "client: encode CRC outcome payload")
	}
	reqHeader := protocol.RequestHeader{ClientID: clientID, Version: protocol.ProtocolVersion, Code: code}
	if err := e.codec.WriteRequest(reqHeader, payload); err != nil {
		return apperrors.Wrap(apperrors.KindIoError, err, "client: send CRC outcome")
	}
	return nil
}

// cipherTextLength returns the AES-256-CBC + PKCS#7 ciphertext length for a
// plaintext of origSize bytes: always rounds up to the next block boundary,
// adding a full extra block when origSize is already block-aligned.
func cipherTextLength(origSize int64) int64 {
	const blockSize = 16
	pad := blockSize - (origSize % blockSize)
	return origSize + pad
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

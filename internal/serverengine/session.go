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

// Package serverengine drives the server side of one connection's session
// state machine: it dispatches incoming request frames by the
// client's current phase, talks to the registry for identity and file
// bookkeeping, and streams decrypted file contents to disk without ever
// holding a whole file in memory.
package serverengine

import (
	stderrors "errors"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"

	"github.com/backube/cryptobackup/internal/apperrors"
	"github.com/backube/cryptobackup/internal/crc32cksum"
	"github.com/backube/cryptobackup/internal/cryptoutil"
	"github.com/backube/cryptobackup/internal/framer"
	"github.com/backube/cryptobackup/internal/protocol"
	"github.com/backube/cryptobackup/internal/registry"
	"github.com/backube/cryptobackup/internal/session"
	"github.com/backube/cryptobackup/internal/validate"
)

// MaxCRCRetries mirrors the client's retry budget; a client that retries
// more than this is itself a protocol violation.
const MaxCRCRetries = session.MaxCRCRetries

// uploadState tracks one in-flight SendFile stream: the decrypter, the
// temp file its plaintext is being written to, and the running CRC.
type uploadState struct {
	dec          *cryptoutil.Decrypter
	crcStream    crc32cksum.Stream
	tmpFile      *os.File
	tmpPath      string
	finalPath    string
	origSize     uint32
	totalPackets uint16
	nextPacket   uint16
	awaitVerdict bool
}

// Session drives a single connection from Start through Done/Failed.
type Session struct {
	codec      *protocol.Codec
	reg        *registry.Registry
	storageDir string
	log        logr.Logger

	clientID        protocol.ClientID
	aesKey          []byte
	phase           session.Phase
	currentFilename string
	retries         int
	upload          *uploadState

	// OnBytesReceived and OnCRCRetry, when non-nil, are called after a file
	// finalizes successfully and after each CRC-mismatch retry
	// respectively. They let a caller (the accept loop) feed prometheus
	// counters without this package importing the metrics library itself.
	OnBytesReceived func(int64)
	OnCRCRetry      func()
}

// New builds a Session over codec, storing uploaded files under storageDir.
func New(codec *protocol.Codec, reg *registry.Registry, storageDir string, log logr.Logger) *Session {
	return &Session{codec: codec, reg: reg, storageDir: storageDir, log: log, phase: session.PhaseStart}
}

// Run processes requests until the peer closes the connection or a protocol
// violation forces it closed. A nil error means the peer disconnected
// cleanly; any clean disconnect with an upload in flight has its temp file
// cleaned up.
func (s *Session) Run() error {
	defer s.cleanupUpload()

	for {
		reqHeader, payload, err := s.codec.ReadRequest()
		if err != nil {
			if stderrors.Is(err, framer.ErrConnectionClosed) {
				return nil
			}
			return apperrors.Wrap(apperrors.KindIoError, err, "serverengine: read request")
		}
		if reqHeader.Version != protocol.ProtocolVersion {
			s.sendGeneralError()
			return apperrors.New(apperrors.KindProtocolViolation, "serverengine: unsupported protocol version")
		}

		if err := s.dispatch(reqHeader, payload); err != nil {
			return err
		}
	}
}

func (s *Session) dispatch(reqHeader protocol.RequestHeader, payload []byte) error {
	switch reqHeader.Code {
	case protocol.ReqRegister:
		return s.handleRegister(payload)
	case protocol.ReqReconnect:
		return s.handleReconnect(reqHeader, payload)
	case protocol.ReqSendPublicKey:
		return s.handleSendPublicKey(reqHeader, payload)
	case protocol.ReqSendFile:
		return s.handleSendFile(reqHeader, payload)
	case protocol.ReqCrcValid:
		return s.handleCrcOutcome(reqHeader, payload, protocol.ReqCrcValid)
	case protocol.ReqCrcInvalidRetry:
		return s.handleCrcOutcome(reqHeader, payload, protocol.ReqCrcInvalidRetry)
	case protocol.ReqCrcInvalidAbort:
		return s.handleCrcOutcome(reqHeader, payload, protocol.ReqCrcInvalidAbort)
	case protocol.ReqHealthCheck:
		return s.sendHealthOk()
	default:
		s.sendGeneralError()
		return apperrors.New(apperrors.KindProtocolViolation, "serverengine: unrecognized request code")
	}
}

func (s *Session) handleRegister(payload []byte) error {
	if s.phase != session.PhaseStart {
		return s.protocolViolation("Register received outside the start phase")
	}
	req, err := protocol.UnmarshalRegisterPayload(payload)
	if err != nil {
		return s.protocolViolation("malformed Register payload")
	}
	name, err := validate.Name(req.Name)
	if err != nil {
		return s.sendRegisterFailed()
	}

	id, err := s.reg.Register(name)
	if err != nil {
		if stderrors.Is(err, registry.ErrNameTaken) {
			return s.sendRegisterFailed()
		}
		s.sendGeneralError()
		return apperrors.Wrap(apperrors.KindRegistryError, err, "serverengine: register client")
	}

	s.clientID = id
	s.phase = session.PhaseRegistered
	s.log = s.log.WithValues("clientID", id)
	s.log.Info("registered", "phase", session.PhaseRegistered, "name", name)
	return s.sendRegisterOk(id)
}

func (s *Session) handleReconnect(reqHeader protocol.RequestHeader, payload []byte) error {
	if s.phase != session.PhaseStart {
		return s.protocolViolation("Reconnect received outside the start phase")
	}
	req, err := protocol.UnmarshalReconnectPayload(payload)
	if err != nil {
		return s.protocolViolation("malformed Reconnect payload")
	}
	name, err := validate.Name(req.Name)
	if err != nil {
		return s.sendReconnectDenied(reqHeader.ClientID)
	}

	client, err := s.reg.LookupByName(name)
	if err != nil || client.ID != reqHeader.ClientID || client.PublicKey == nil {
		return s.sendReconnectDenied(reqHeader.ClientID)
	}

	pub, err := cryptoutil.ParsePublicKeyDER(client.PublicKey)
	if err != nil {
		// Corrupt or incomplete stored key material denies the reconnect;
		// the client falls back to a fresh registration.
		s.log.Info("reconnect denied, stored public key unparseable", "name", name, "error", err.Error())
		return s.sendReconnectDenied(reqHeader.ClientID)
	}
	aesKey, err := cryptoutil.GenerateAESKey()
	if err != nil {
		s.sendGeneralError()
		return apperrors.Wrap(apperrors.KindCryptoError, err, "serverengine: generate AES key")
	}
	wrapped, err := cryptoutil.WrapAESKey(pub, aesKey)
	if err != nil {
		s.sendGeneralError()
		return apperrors.Wrap(apperrors.KindCryptoError, err, "serverengine: wrap AES key")
	}
	if err := s.reg.SetPublicKeyAndGenerateAES(client.ID, client.PublicKey, aesKey); err != nil {
		s.sendGeneralError()
		return apperrors.Wrap(apperrors.KindRegistryError, err, "serverengine: persist session AES key")
	}

	s.clientID = client.ID
	s.aesKey = aesKey
	s.phase = session.PhaseKeyReady
	s.log = s.log.WithValues("clientID", client.ID)
	s.log.Info("reconnected", "phase", session.PhaseKeyReady, "name", name)
	return s.sendReconnectAllowed(client.ID, wrapped)
}

func (s *Session) handleSendPublicKey(reqHeader protocol.RequestHeader, payload []byte) error {
	if s.phase != session.PhaseRegistered {
		return s.protocolViolation("SendPublicKey received outside the registered phase")
	}
	if reqHeader.ClientID != s.clientID {
		return s.protocolViolation("SendPublicKey client id does not match this session")
	}
	req, err := protocol.UnmarshalSendPublicKeyPayload(payload)
	if err != nil {
		return s.protocolViolation("malformed SendPublicKey payload")
	}

	pub, err := cryptoutil.ParsePublicKeyDER(req.PublicKey[:])
	if err != nil {
		s.sendGeneralError()
		return apperrors.Wrap(apperrors.KindCryptoError, err, "serverengine: parse client public key")
	}
	aesKey, err := cryptoutil.GenerateAESKey()
	if err != nil {
		s.sendGeneralError()
		return apperrors.Wrap(apperrors.KindCryptoError, err, "serverengine: generate AES key")
	}
	wrapped, err := cryptoutil.WrapAESKey(pub, aesKey)
	if err != nil {
		s.sendGeneralError()
		return apperrors.Wrap(apperrors.KindCryptoError, err, "serverengine: wrap AES key")
	}
	if err := s.reg.SetPublicKeyAndGenerateAES(s.clientID, req.PublicKey[:], aesKey); err != nil {
		s.sendGeneralError()
		return apperrors.Wrap(apperrors.KindRegistryError, err, "serverengine: persist public key")
	}

	s.aesKey = aesKey
	s.phase = session.PhaseKeyReady
	s.log.Info("key exchange complete", "phase", session.PhaseKeyReady)
	return s.sendPublicKeyReceived(wrapped)
}

// cleanupUpload removes any temp file left behind by an upload that never
// reached a CRC verdict (connection dropped mid-transfer).
func (s *Session) cleanupUpload() {
	if s.upload != nil && s.upload.tmpFile != nil {
		s.upload.tmpFile.Close()
		os.Remove(s.upload.tmpPath)
	}
}

func uploadDir(storageDir string, id protocol.ClientID) string {
	return filepath.Join(storageDir, id.Hex())
}

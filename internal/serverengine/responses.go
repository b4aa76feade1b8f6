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

package serverengine

import (
	"github.com/backube/cryptobackup/internal/apperrors"
	"github.com/backube/cryptobackup/internal/protocol"
)

func (s *Session) writeResponse(code protocol.ResponseCode, payload []byte) error {
	h := protocol.ResponseHeader{Version: protocol.ProtocolVersion, Code: code}
	if err := s.codec.WriteResponse(h, payload); err != nil {
		return apperrors.Wrap(apperrors.KindIoError, err, "serverengine: write response")
	}
	return nil
}

func (s *Session) sendRegisterOk(id protocol.ClientID) error {
	payload, _ := protocol.RegisterOkPayload{ClientID: id}.MarshalBinary()
	return s.writeResponse(protocol.RespRegisterOk, payload)
}

func (s *Session) sendRegisterFailed() error {
	return s.writeResponse(protocol.RespRegisterFailed, nil)
}

func (s *Session) sendPublicKeyReceived(wrapped []byte) error {
	var arr [protocol.WrappedAESSize]byte
	copy(arr[:], wrapped)
	payload, _ := protocol.PublicKeyReceivedPayload{ClientID: s.clientID, WrappedAES: arr}.MarshalBinary()
	return s.writeResponse(protocol.RespPublicKeyReceived, payload)
}

func (s *Session) sendReconnectAllowed(id protocol.ClientID, wrapped []byte) error {
	var arr [protocol.WrappedAESSize]byte
	copy(arr[:], wrapped)
	payload, _ := protocol.ReconnectAllowedPayload{ClientID: id, WrappedAES: arr}.MarshalBinary()
	return s.writeResponse(protocol.RespReconnectAllowed, payload)
}

func (s *Session) sendReconnectDenied(id protocol.ClientID) error {
	payload, _ := protocol.ClientIDPayload{ClientID: id}.MarshalBinary()
	return s.writeResponse(protocol.RespReconnectDenied, payload)
}

func (s *Session) sendFileReceived(filename string, contentSize int64, crc uint32) error {
	payload, err := protocol.FileReceivedPayload{
		ClientID:    s.clientID,
		ContentSize: uint32(contentSize),
		Filename:    filename,
		Crc:         crc,
	}.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(apperrors.KindConfigError, err, "serverengine: encode FileReceived")
	}
	return s.writeResponse(protocol.RespFileReceived, payload)
}

func (s *Session) sendMessageConfirmed() error {
	payload, _ := protocol.ClientIDPayload{ClientID: s.clientID}.MarshalBinary()
	return s.writeResponse(protocol.RespMessageConfirmed, payload)
}

// sendHealthOk answers ReqHealthCheck, an extension request outside the
// mandated state machine: it never touches phase or the registry, so a
// monitoring probe can be sent at any point in a connection's lifetime.
func (s *Session) sendHealthOk() error {
	return s.writeResponse(protocol.RespHealthOk, nil)
}

func (s *Session) sendGeneralError() {
	// Best-effort: if the connection is already broken this write fails too,
	// and the caller is about to close it regardless.
	_ = s.writeResponse(protocol.RespGeneralError, nil)
}

// protocolViolation sends GeneralError and returns the terminal error that
// makes Run close the connection; protocol violations are not recoverable
// within a session.
func (s *Session) protocolViolation(msg string) error {
	s.sendGeneralError()
	return apperrors.New(apperrors.KindProtocolViolation, "serverengine: "+msg)
}

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

package protocol

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// ErrFieldTooLong is returned when a name or filename does not fit in its
// fixed-width wire field.
var ErrFieldTooLong = errors.New("protocol: field exceeds fixed wire width")

// putFixedString writes s into a width-byte, null-terminated, null-padded
// field. s must be strictly shorter than width (room for the terminator).
func putFixedString(buf []byte, s string, width int) error {
	if len(s) >= width {
		return errors.Wrapf(ErrFieldTooLong, "%q is %d bytes, field is %d", s, len(s), width)
	}
	for i := range buf[:width] {
		buf[i] = 0
	}
	copy(buf, s)
	return nil
}

// getFixedString reads a null-terminated field, ignoring anything after the
// first NUL per the wire format.
func getFixedString(buf []byte) string {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		return string(buf[:i])
	}
	return string(buf)
}

// RegisterPayload is the 1025 request payload.
type RegisterPayload struct {
	Name string
}

func (p RegisterPayload) MarshalBinary() ([]byte, error) {
	buf := make([]byte, NameFieldSize)
	if err := putFixedString(buf, p.Name, NameFieldSize); err != nil {
		return nil, err
	}
	return buf, nil
}

func UnmarshalRegisterPayload(buf []byte) (RegisterPayload, error) {
	if len(buf) != NameFieldSize {
		return RegisterPayload{}, errors.Errorf("protocol: Register payload must be %d bytes, got %d", NameFieldSize, len(buf))
	}
	return RegisterPayload{Name: getFixedString(buf)}, nil
}

// SendPublicKeyPayload is the 1026 request payload.
type SendPublicKeyPayload struct {
	Name      string
	PublicKey [PublicKeySize]byte
}

func (p SendPublicKeyPayload) MarshalBinary() ([]byte, error) {
	buf := make([]byte, NameFieldSize+PublicKeySize)
	if err := putFixedString(buf[:NameFieldSize], p.Name, NameFieldSize); err != nil {
		return nil, err
	}
	copy(buf[NameFieldSize:], p.PublicKey[:])
	return buf, nil
}

func UnmarshalSendPublicKeyPayload(buf []byte) (SendPublicKeyPayload, error) {
	want := NameFieldSize + PublicKeySize
	if len(buf) != want {
		return SendPublicKeyPayload{}, errors.Errorf("protocol: SendPublicKey payload must be %d bytes, got %d", want, len(buf))
	}
	var p SendPublicKeyPayload
	p.Name = getFixedString(buf[:NameFieldSize])
	copy(p.PublicKey[:], buf[NameFieldSize:])
	return p, nil
}

// ReconnectPayload is the 1027 request payload.
type ReconnectPayload struct {
	Name string
}

func (p ReconnectPayload) MarshalBinary() ([]byte, error) {
	buf := make([]byte, NameFieldSize)
	if err := putFixedString(buf, p.Name, NameFieldSize); err != nil {
		return nil, err
	}
	return buf, nil
}

func UnmarshalReconnectPayload(buf []byte) (ReconnectPayload, error) {
	if len(buf) != NameFieldSize {
		return ReconnectPayload{}, errors.Errorf("protocol: Reconnect payload must be %d bytes, got %d", NameFieldSize, len(buf))
	}
	return ReconnectPayload{Name: getFixedString(buf)}, nil
}

// SendFileHeader is the fixed-size portion of a 1028 SendFile request that
// precedes the ciphertext chunk.
type SendFileHeader struct {
	ContentSize  uint32
	OrigSize     uint32
	PacketNum    uint16
	TotalPackets uint16
	Filename     string
}

// MarshalSendFileFrame encodes the fixed header plus the ciphertext chunk
// that follows it. The returned slice is the full request payload.
func MarshalSendFileFrame(h SendFileHeader, ciphertext []byte) ([]byte, error) {
	buf := make([]byte, SendFileFixedSize+len(ciphertext))
	binary.LittleEndian.PutUint32(buf[0:4], h.ContentSize)
	binary.LittleEndian.PutUint32(buf[4:8], h.OrigSize)
	binary.LittleEndian.PutUint16(buf[8:10], h.PacketNum)
	binary.LittleEndian.PutUint16(buf[10:12], h.TotalPackets)
	if err := putFixedString(buf[12:12+NameFieldSize], h.Filename, NameFieldSize); err != nil {
		return nil, err
	}
	copy(buf[SendFileFixedSize:], ciphertext)
	return buf, nil
}

// UnmarshalSendFileFrame splits a SendFile request payload into its fixed
// header and the trailing ciphertext. It does not validate content_size
// against len(ciphertext); callers must do that.
func UnmarshalSendFileFrame(buf []byte) (SendFileHeader, []byte, error) {
	if len(buf) < SendFileFixedSize {
		return SendFileHeader{}, nil, errors.Errorf("protocol: SendFile payload too short: %d bytes, need at least %d", len(buf), SendFileFixedSize)
	}
	var h SendFileHeader
	h.ContentSize = binary.LittleEndian.Uint32(buf[0:4])
	h.OrigSize = binary.LittleEndian.Uint32(buf[4:8])
	h.PacketNum = binary.LittleEndian.Uint16(buf[8:10])
	h.TotalPackets = binary.LittleEndian.Uint16(buf[10:12])
	h.Filename = getFixedString(buf[12 : 12+NameFieldSize])
	ciphertext := buf[SendFileFixedSize:]
	return h, ciphertext, nil
}

// FilenamePayload is the shared 255-byte payload shape of the CrcValid
// (900), CrcInvalidRetry (901), and CrcInvalidAbort (902) requests.
type FilenamePayload struct {
	Filename string
}

func (p FilenamePayload) MarshalBinary() ([]byte, error) {
	buf := make([]byte, NameFieldSize)
	if err := putFixedString(buf, p.Filename, NameFieldSize); err != nil {
		return nil, err
	}
	return buf, nil
}

func UnmarshalFilenamePayload(buf []byte) (FilenamePayload, error) {
	if len(buf) != NameFieldSize {
		return FilenamePayload{}, errors.Errorf("protocol: filename payload must be %d bytes, got %d", NameFieldSize, len(buf))
	}
	return FilenamePayload{Filename: getFixedString(buf)}, nil
}

// RegisterOkPayload is the 2100 response payload.
type RegisterOkPayload struct {
	ClientID ClientID
}

func (p RegisterOkPayload) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ClientIDSize)
	copy(buf, p.ClientID[:])
	return buf, nil
}

func UnmarshalRegisterOkPayload(buf []byte) (RegisterOkPayload, error) {
	if len(buf) != ClientIDSize {
		return RegisterOkPayload{}, errors.Errorf("protocol: RegisterOk payload must be %d bytes, got %d", ClientIDSize, len(buf))
	}
	var p RegisterOkPayload
	copy(p.ClientID[:], buf)
	return p, nil
}

// PublicKeyReceivedPayload is the 2102 response payload.
type PublicKeyReceivedPayload struct {
	ClientID   ClientID
	WrappedAES [WrappedAESSize]byte
}

func (p PublicKeyReceivedPayload) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ClientIDSize+WrappedAESSize)
	copy(buf[:ClientIDSize], p.ClientID[:])
	copy(buf[ClientIDSize:], p.WrappedAES[:])
	return buf, nil
}

func UnmarshalPublicKeyReceivedPayload(buf []byte) (PublicKeyReceivedPayload, error) {
	want := ClientIDSize + WrappedAESSize
	if len(buf) != want {
		return PublicKeyReceivedPayload{}, errors.Errorf("protocol: PublicKeyReceived payload must be %d bytes, got %d", want, len(buf))
	}
	var p PublicKeyReceivedPayload
	copy(p.ClientID[:], buf[:ClientIDSize])
	copy(p.WrappedAES[:], buf[ClientIDSize:])
	return p, nil
}

// FileReceivedPayload is the 2103 response payload.
type FileReceivedPayload struct {
	ClientID    ClientID
	ContentSize uint32
	Filename    string
	Crc         uint32
}

func (p FileReceivedPayload) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ClientIDSize+4+NameFieldSize+4)
	off := 0
	copy(buf[off:off+ClientIDSize], p.ClientID[:])
	off += ClientIDSize
	binary.LittleEndian.PutUint32(buf[off:off+4], p.ContentSize)
	off += 4
	if err := putFixedString(buf[off:off+NameFieldSize], p.Filename, NameFieldSize); err != nil {
		return nil, err
	}
	off += NameFieldSize
	binary.LittleEndian.PutUint32(buf[off:off+4], p.Crc)
	return buf, nil
}

func UnmarshalFileReceivedPayload(buf []byte) (FileReceivedPayload, error) {
	want := ClientIDSize + 4 + NameFieldSize + 4
	if len(buf) != want {
		return FileReceivedPayload{}, errors.Errorf("protocol: FileReceived payload must be %d bytes, got %d", want, len(buf))
	}
	var p FileReceivedPayload
	off := 0
	copy(p.ClientID[:], buf[off:off+ClientIDSize])
	off += ClientIDSize
	p.ContentSize = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	p.Filename = getFixedString(buf[off : off+NameFieldSize])
	off += NameFieldSize
	p.Crc = binary.LittleEndian.Uint32(buf[off : off+4])
	return p, nil
}

// ClientIDPayload is the shared shape of the 2104 MessageConfirmed and 2106
// ReconnectDenied response payloads.
type ClientIDPayload struct {
	ClientID ClientID
}

func (p ClientIDPayload) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ClientIDSize)
	copy(buf, p.ClientID[:])
	return buf, nil
}

func UnmarshalClientIDPayload(buf []byte) (ClientIDPayload, error) {
	if len(buf) != ClientIDSize {
		return ClientIDPayload{}, errors.Errorf("protocol: client-id payload must be %d bytes, got %d", ClientIDSize, len(buf))
	}
	var p ClientIDPayload
	copy(p.ClientID[:], buf)
	return p, nil
}

// ReconnectAllowedPayload is the 2105 response payload.
type ReconnectAllowedPayload struct {
	ClientID   ClientID
	WrappedAES [WrappedAESSize]byte
}

func (p ReconnectAllowedPayload) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ClientIDSize+WrappedAESSize)
	copy(buf[:ClientIDSize], p.ClientID[:])
	copy(buf[ClientIDSize:], p.WrappedAES[:])
	return buf, nil
}

func UnmarshalReconnectAllowedPayload(buf []byte) (ReconnectAllowedPayload, error) {
	want := ClientIDSize + WrappedAESSize
	if len(buf) != want {
		return ReconnectAllowedPayload{}, errors.Errorf("protocol: ReconnectAllowed payload must be %d bytes, got %d", want, len(buf))
	}
	var p ReconnectAllowedPayload
	copy(p.ClientID[:], buf[:ClientIDSize])
	copy(p.WrappedAES[:], buf[ClientIDSize:])
	return p, nil
}

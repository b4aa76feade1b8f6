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
	"encoding/binary"
	"encoding/hex"

	"github.com/pkg/errors"
)

// ClientID is the 16-byte opaque identifier the server assigns a client at
// first registration. The zero value means "not yet assigned."
type ClientID [ClientIDSize]byte

// IsZero reports whether id is the all-zeros sentinel used on first
// registration.
func (id ClientID) IsZero() bool {
	return id == ClientID{}
}

// Hex renders id as lowercase hex, used for log fields and on-disk storage
// paths.
func (id ClientID) Hex() string {
	return hex.EncodeToString(id[:])
}

// RequestHeader is the 23-byte header every client request begins with.
// All multi-byte integers are little-endian.
type RequestHeader struct {
	ClientID    ClientID
	Version     uint8
	Code        RequestCode
	PayloadSize uint32
}

// ResponseHeader is the 7-byte header every server response begins with.
type ResponseHeader struct {
	Version     uint8
	Code        ResponseCode
	PayloadSize uint32
}

// ErrShortHeader is returned when fewer than the expected number of bytes
// were supplied to decode a header.
var ErrShortHeader = errors.New("protocol: short header")

// MarshalBinary encodes h into a 23-byte request header.
func (h RequestHeader) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RequestHeaderSize)
	copy(buf[0:16], h.ClientID[:])
	buf[16] = h.Version
	binary.LittleEndian.PutUint16(buf[17:19], uint16(h.Code))
	binary.LittleEndian.PutUint32(buf[19:23], h.PayloadSize)
	return buf, nil
}

// UnmarshalRequestHeader decodes a 23-byte request header.
func UnmarshalRequestHeader(buf []byte) (RequestHeader, error) {
	var h RequestHeader
	if len(buf) != RequestHeaderSize {
		return h, errors.Wrapf(ErrShortHeader, "want %d bytes, got %d", RequestHeaderSize, len(buf))
	}
	copy(h.ClientID[:], buf[0:16])
	h.Version = buf[16]
	h.Code = RequestCode(binary.LittleEndian.Uint16(buf[17:19]))
	h.PayloadSize = binary.LittleEndian.Uint32(buf[19:23])
	return h, nil
}

// MarshalBinary encodes h into a 7-byte response header.
func (h ResponseHeader) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ResponseHeaderSize)
	buf[0] = h.Version
	binary.LittleEndian.PutUint16(buf[1:3], uint16(h.Code))
	binary.LittleEndian.PutUint32(buf[3:7], h.PayloadSize)
	return buf, nil
}

// UnmarshalResponseHeader decodes a 7-byte response header.
func UnmarshalResponseHeader(buf []byte) (ResponseHeader, error) {
	var h ResponseHeader
	if len(buf) != ResponseHeaderSize {
		return h, errors.Wrapf(ErrShortHeader, "want %d bytes, got %d", ResponseHeaderSize, len(buf))
	}
	h.Version = buf[0]
	h.Code = ResponseCode(binary.LittleEndian.Uint16(buf[1:3]))
	h.PayloadSize = binary.LittleEndian.Uint32(buf[3:7])
	return h, nil
}

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
	"github.com/pkg/errors"

	"github.com/backube/cryptobackup/internal/framer"
)

// Codec reads and writes whole request/response frames (header + payload)
// on top of a Framer. It knows the wire layout but nothing about
// session state.
type Codec struct {
	f *framer.Framer
}

// NewCodec wraps f in a Codec.
func NewCodec(f *framer.Framer) *Codec {
	return &Codec{f: f}
}

// ReadRequest reads one full request frame: the 23-byte header, then its
// declared payload.
func (c *Codec) ReadRequest() (RequestHeader, []byte, error) {
	raw, err := c.f.ReadN(RequestHeaderSize)
	if err != nil {
		return RequestHeader{}, nil, err
	}
	h, err := UnmarshalRequestHeader(raw)
	if err != nil {
		return RequestHeader{}, nil, errors.Wrap(err, "protocol: decode request header")
	}
	payload, err := c.f.ReadPayload(h.PayloadSize)
	if err != nil {
		return RequestHeader{}, nil, err
	}
	return h, payload, nil
}

// WriteRequest writes one full request frame.
func (c *Codec) WriteRequest(h RequestHeader, payload []byte) error {
	h.PayloadSize = uint32(len(payload))
	raw, err := h.MarshalBinary()
	if err != nil {
		return err
	}
	if err := c.f.WriteN(raw); err != nil {
		return err
	}
	return c.f.WriteN(payload)
}

// ReadResponse reads one full response frame: the 7-byte header, then its
// declared payload.
func (c *Codec) ReadResponse() (ResponseHeader, []byte, error) {
	raw, err := c.f.ReadN(ResponseHeaderSize)
	if err != nil {
		return ResponseHeader{}, nil, err
	}
	h, err := UnmarshalResponseHeader(raw)
	if err != nil {
		return ResponseHeader{}, nil, errors.Wrap(err, "protocol: decode response header")
	}
	payload, err := c.f.ReadPayload(h.PayloadSize)
	if err != nil {
		return ResponseHeader{}, nil, err
	}
	return h, payload, nil
}

// WriteResponse writes one full response frame.
func (c *Codec) WriteResponse(h ResponseHeader, payload []byte) error {
	h.PayloadSize = uint32(len(payload))
	raw, err := h.MarshalBinary()
	if err != nil {
		return err
	}
	if err := c.f.WriteN(raw); err != nil {
		return err
	}
	return c.f.WriteN(payload)
}

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

// Package framer reads and writes fixed-size, length-prefixed messages on a
// socket. There are no delimiters: every frame is exactly N bytes, where N
// is either a fixed header width or a payload_size carried by that header.
package framer

import (
	"io"

	"github.com/pkg/errors"
)

// DefaultMaxPayload is the default cap on a single declared payload_size
// (2 GiB).
const DefaultMaxPayload = 2 << 30

// ErrConnectionClosed is returned when the peer closes the socket before N
// bytes have been read.
var ErrConnectionClosed = errors.New("framer: connection closed by peer")

// ErrOversizedPayload is returned when a declared payload_size exceeds the
// configured cap.
var ErrOversizedPayload = errors.New("framer: payload_size exceeds configured cap")

// Framer reads and writes exact-length frames on an underlying stream. It
// holds no buffering state of its own beyond the cap; all of the actual
// reading/writing is plain io.ReadFull/io.Write against rw.
type Framer struct {
	rw         io.ReadWriter
	maxPayload uint32
}

// New returns a Framer over rw with the default payload cap.
func New(rw io.ReadWriter) *Framer {
	return &Framer{rw: rw, maxPayload: DefaultMaxPayload}
}

// WithMaxPayload returns a copy of f with a different payload_size cap.
// Exposed mainly for tests that want a small cap to exercise
// ErrOversizedPayload without allocating gigabytes.
func (f *Framer) WithMaxPayload(max uint32) *Framer {
	return &Framer{rw: f.rw, maxPayload: max}
}

// ReadN reads exactly n bytes or fails. A peer close before n bytes arrive
// is reported as ErrConnectionClosed; any other short read is wrapped as an
// I/O error.
func (f *Framer) ReadN(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(f.rw, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrConnectionClosed
		}
		return nil, errors.Wrap(err, "framer: read")
	}
	return buf, nil
}

// CheckPayloadSize validates a declared payload_size against the configured
// cap before the caller attempts to read it.
func (f *Framer) CheckPayloadSize(size uint32) error {
	if size > f.maxPayload {
		return errors.Wrapf(ErrOversizedPayload, "declared %d bytes, cap is %d", size, f.maxPayload)
	}
	return nil
}

// ReadPayload validates size against the cap and then reads exactly that
// many bytes.
func (f *Framer) ReadPayload(size uint32) ([]byte, error) {
	if err := f.CheckPayloadSize(size); err != nil {
		return nil, err
	}
	return f.ReadN(int(size))
}

// WriteN writes exactly buf's length, or fails with a wrapped I/O error.
func (f *Framer) WriteN(buf []byte) error {
	if _, err := f.rw.Write(buf); err != nil {
		return errors.Wrap(err, "framer: write")
	}
	return nil
}

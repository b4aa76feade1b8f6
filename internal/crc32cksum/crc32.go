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

// Package crc32cksum implements the POSIX cksum CRC32 variant (IEEE 1003.1):
// polynomial 0x04C11DB7, MSB-first, initial value 0, with the byte-length
// of the input folded in, least-significant byte first, after all data
// bytes. This is NOT the
// same variant as hash/crc32's IEEE or Castagnoli tables (those are
// reflected/LSB-first); both endpoints of the backup protocol must agree on
// this specific variant to interoperate.
package crc32cksum

// table is the MSB-first CRC-32 table for polynomial 0x04C11DB7.
var table = buildTable()

func buildTable() [256]uint32 {
	const poly = 0x04C11DB7
	var t [256]uint32
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 24
		for bit := 0; bit < 8; bit++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}

func updateBytes(crc uint32, data []byte) uint32 {
	for _, b := range data {
		crc = (crc << 8) ^ table[byte(crc>>24)^b]
	}
	return crc
}

// CRC32 computes the POSIX cksum CRC32 of data in a single call.
func CRC32(data []byte) uint32 {
	var s Stream
	s.Update(data)
	return s.Finalize()
}

// Stream computes the POSIX cksum CRC32 incrementally, so large files never
// need to be held in memory all at once.
//
// crc32cksum.CRC32(concat(a, b)) == (&Stream{}).Update(a).Update(b).Finalize()
// for all byte strings a, b.
type Stream struct {
	crc    uint32
	length uint64
}

// Update folds chunk into the running checksum. It may be called any
// number of times with arbitrarily sized chunks.
func (s *Stream) Update(chunk []byte) *Stream {
	s.crc = updateBytes(s.crc, chunk)
	s.length += uint64(len(chunk))
	return s
}

// Finalize folds in the total byte length and returns the
// completed CRC32. Finalize does not reset the stream; calling it again
// without further Update calls returns the same value.
func (s *Stream) Finalize() uint32 {
	crc := s.crc
	// Fold in the byte length itself, least-significant byte first,
	// stopping once the remaining high-order bytes are all zero — this is
	// the exact quirk that distinguishes POSIX cksum from a plain CRC32.
	length := s.length
	for length != 0 {
		crc = updateBytes(crc, []byte{byte(length & 0xff)})
		length >>= 8
	}
	return ^crc
}

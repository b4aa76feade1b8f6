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

package crc32cksum

import (
	"testing"

	"github.com/onsi/gomega"
)

func TestCRC32EmptyInput(t *testing.T) {
	g := gomega.NewWithT(t)

	// POSIX cksum of an empty file is the well-known value 4294967295.
	g.Expect(CRC32(nil)).To(gomega.Equal(uint32(4294967295)))
}

func TestCRC32KnownVector(t *testing.T) {
	g := gomega.NewWithT(t)

	// `printf 'Hello, world!\n' | cksum` => "1639980005 14"
	g.Expect(CRC32([]byte("Hello, world!\n"))).To(gomega.Equal(uint32(1639980005)))
}

func TestStreamMatchesOneShot(t *testing.T) {
	g := gomega.NewWithT(t)

	a := []byte("the quick brown fox ")
	b := []byte("jumps over the lazy dog")

	var s Stream
	s.Update(a)
	s.Update(b)
	got := s.Finalize()

	want := CRC32(append(append([]byte{}, a...), b...))
	g.Expect(got).To(gomega.Equal(want))
}

func TestStreamManySmallChunks(t *testing.T) {
	g := gomega.NewWithT(t)

	data := make([]byte, 10000)
	for i := range data {
		data[i] = byte(i * 7)
	}

	var s Stream
	for i := 0; i < len(data); i += 3 {
		end := i + 3
		if end > len(data) {
			end = len(data)
		}
		s.Update(data[i:end])
	}

	g.Expect(s.Finalize()).To(gomega.Equal(CRC32(data)))
}

func TestFinalizeIsIdempotentWithoutFurtherUpdates(t *testing.T) {
	g := gomega.NewWithT(t)

	var s Stream
	s.Update([]byte("abc"))
	first := s.Finalize()
	second := s.Finalize()
	g.Expect(second).To(gomega.Equal(first))
}

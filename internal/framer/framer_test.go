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

package framer

import (
	"bytes"
	"testing"

	"github.com/onsi/gomega"
)

type readWriter struct {
	*bytes.Buffer
}

func TestReadNExact(t *testing.T) {
	g := gomega.NewWithT(t)
	rw := &readWriter{bytes.NewBuffer([]byte("hello world"))}
	f := New(rw)

	got, err := f.ReadN(5)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(got).To(gomega.Equal([]byte("hello")))
}

func TestReadNConnectionClosed(t *testing.T) {
	g := gomega.NewWithT(t)
	rw := &readWriter{bytes.NewBuffer([]byte("hi"))}
	f := New(rw)

	_, err := f.ReadN(10)
	g.Expect(err).To(gomega.MatchError(ErrConnectionClosed))
}

func TestCheckPayloadSizeRejectsOversized(t *testing.T) {
	g := gomega.NewWithT(t)
	rw := &readWriter{bytes.NewBuffer(nil)}
	f := New(rw).WithMaxPayload(100)

	err := f.CheckPayloadSize(101)
	g.Expect(err).To(gomega.MatchError(ErrOversizedPayload))

	err = f.CheckPayloadSize(100)
	g.Expect(err).NotTo(gomega.HaveOccurred())
}

func TestWriteNRoundTrip(t *testing.T) {
	g := gomega.NewWithT(t)
	rw := &readWriter{bytes.NewBuffer(nil)}
	f := New(rw)

	g.Expect(f.WriteN([]byte("payload"))).To(gomega.Succeed())
	g.Expect(rw.Bytes()).To(gomega.Equal([]byte("payload")))
}

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

package cryptoutil

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/onsi/gomega"
)

func mustKey(t *testing.T) []byte {
	t.Helper()
	key, err := GenerateAESKey()
	if err != nil {
		t.Fatalf("GenerateAESKey: %v", err)
	}
	return key
}

func TestAESRoundTripVariousSizes(t *testing.T) {
	g := gomega.NewWithT(t)
	key := mustKey(t)

	sizes := []int{0, 1, 15, 16, 17, 31, 32, 1234, 65536}
	for _, n := range sizes {
		plain := make([]byte, n)
		if _, err := rand.Read(plain); err != nil {
			t.Fatalf("rand.Read: %v", err)
		}

		ct, err := EncryptAll(key, plain)
		g.Expect(err).NotTo(gomega.HaveOccurred())

		pt, err := DecryptAll(key, ct)
		g.Expect(err).NotTo(gomega.HaveOccurred())
		g.Expect(pt).To(gomega.Equal(plain))
	}
}

func TestAESStreamingMatchesOneShot(t *testing.T) {
	g := gomega.NewWithT(t)
	key := mustKey(t)

	plain := make([]byte, 100000)
	if _, err := rand.Read(plain); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	oneShot, err := EncryptAll(key, plain)
	g.Expect(err).NotTo(gomega.HaveOccurred())

	enc, err := NewEncrypter(key)
	g.Expect(err).NotTo(gomega.HaveOccurred())

	var streamed []byte
	chunkSize := 4096
	for i := 0; i < len(plain); i += chunkSize {
		end := i + chunkSize
		if end > len(plain) {
			end = len(plain)
		}
		out, err := enc.Write(plain[i:end])
		g.Expect(err).NotTo(gomega.HaveOccurred())
		streamed = append(streamed, out...)
	}
	tail, err := enc.Close()
	g.Expect(err).NotTo(gomega.HaveOccurred())
	streamed = append(streamed, tail...)

	g.Expect(streamed).To(gomega.Equal(oneShot))

	dec, err := NewDecrypter(key)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	var decrypted []byte
	for i := 0; i < len(streamed); i += 777 {
		end := i + 777
		if end > len(streamed) {
			end = len(streamed)
		}
		out, err := dec.Write(streamed[i:end])
		g.Expect(err).NotTo(gomega.HaveOccurred())
		decrypted = append(decrypted, out...)
	}
	dtail, err := dec.Close()
	g.Expect(err).NotTo(gomega.HaveOccurred())
	decrypted = append(decrypted, dtail...)

	g.Expect(decrypted).To(gomega.Equal(plain))
}

func TestAESDecryptRejectsTamperedPadding(t *testing.T) {
	g := gomega.NewWithT(t)
	key := mustKey(t)

	ct, err := EncryptAll(key, []byte("hello world"))
	g.Expect(err).NotTo(gomega.HaveOccurred())

	tampered := bytes.Clone(ct)
	tampered[len(tampered)-1] ^= 0xFF

	_, err = DecryptAll(key, tampered)
	g.Expect(err).To(gomega.HaveOccurred())
}

func TestRSAWrapUnwrapRoundTrip(t *testing.T) {
	g := gomega.NewWithT(t)

	priv, err := GenerateKeyPair()
	g.Expect(err).NotTo(gomega.HaveOccurred())

	der, err := MarshalPublicKeyDER(&priv.PublicKey)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(der).To(gomega.HaveLen(PublicKeySize))

	pub, err := ParsePublicKeyDER(der)
	g.Expect(err).NotTo(gomega.HaveOccurred())

	aesKey := mustKey(t)
	wrapped, err := WrapAESKey(pub, aesKey)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(wrapped).To(gomega.HaveLen(128))

	unwrapped, err := UnwrapAESKey(priv, wrapped)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(unwrapped).To(gomega.Equal(aesKey))
}

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
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	"github.com/pkg/errors"
)

// AESKeySize is the width of the per-client AES-256 key.
const AESKeySize = 32

// zeroIV is the fixed, all-zero 16-byte IV the protocol mandates. A fixed
// IV leaks equal-prefix information across messages under the same key;
// the per-session key is fresh each session, which limits but does not
// eliminate the exposure. This is a documented, deliberate interop
// constraint, not an oversight.
var zeroIV = make([]byte, aes.BlockSize)

// GenerateAESKey returns a fresh cryptographically random 32-byte AES-256
// key, as the server generates once per session after receiving or
// re-reading the client's public key.
func GenerateAESKey() ([]byte, error) {
	key := make([]byte, AESKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.Wrap(err, "cryptoutil: generate AES key")
	}
	return key, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - (len(data) % blockSize)
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

// ErrInvalidPadding is returned when PKCS#7 padding on a decrypted final
// block is malformed.
var ErrInvalidPadding = errors.New("cryptoutil: invalid PKCS#7 padding")

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.Wrap(ErrInvalidPadding, "length not a multiple of the block size")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, errors.Wrap(ErrInvalidPadding, "padding length out of range")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.Wrap(ErrInvalidPadding, "inconsistent padding bytes")
		}
	}
	return data[:len(data)-padLen], nil
}

// Encrypter streams plaintext into AES-256-CBC ciphertext with PKCS#7
// padding applied only once, at Close, over whatever plaintext remains
// buffered below one block. Callers must feed the entire plaintext across
// any number of Write calls and then call Close exactly once.
type Encrypter struct {
	mode cipher.BlockMode
	buf  []byte
}

// NewEncrypter builds an Encrypter for key under the protocol's fixed zero
// IV.
func NewEncrypter(key []byte) (*Encrypter, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "cryptoutil: new AES cipher")
	}
	return &Encrypter{mode: cipher.NewCBCEncrypter(block, zeroIV)}, nil
}

// Write encrypts as many full blocks as are now available and returns
// their ciphertext; any trailing partial block is buffered for the next
// Write or for Close.
func (e *Encrypter) Write(plain []byte) ([]byte, error) {
	e.buf = append(e.buf, plain...)
	blockSize := aes.BlockSize
	n := (len(e.buf) / blockSize) * blockSize
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	e.mode.CryptBlocks(out, e.buf[:n])
	e.buf = e.buf[n:]
	return out, nil
}

// Close pads whatever plaintext remains (0..blockSize-1 bytes, always at
// least one full block after padding) and encrypts it, returning the final
// ciphertext block(s).
func (e *Encrypter) Close() ([]byte, error) {
	padded := pkcs7Pad(e.buf, aes.BlockSize)
	out := make([]byte, len(padded))
	e.mode.CryptBlocks(out, padded)
	e.buf = nil
	return out, nil
}

// Decrypter streams ciphertext into plaintext, withholding the most
// recently decrypted block until either more ciphertext proves it wasn't
// the last one, or Close confirms it was — at which point PKCS#7 padding
// is stripped from it.
type Decrypter struct {
	mode    cipher.BlockMode
	partial []byte
	pending []byte
}

// NewDecrypter builds a Decrypter for key under the protocol's fixed zero
// IV.
func NewDecrypter(key []byte) (*Decrypter, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "cryptoutil: new AES cipher")
	}
	return &Decrypter{mode: cipher.NewCBCDecrypter(block, zeroIV)}, nil
}

// Write decrypts as many full blocks as are now available, releasing all
// but the most recent one (which might still turn out to be the last block
// in the stream and need padding stripped).
func (d *Decrypter) Write(ciphertext []byte) ([]byte, error) {
	d.partial = append(d.partial, ciphertext...)
	blockSize := aes.BlockSize
	var out []byte
	for len(d.partial) >= blockSize {
		block := d.partial[:blockSize]
		d.partial = d.partial[blockSize:]
		decrypted := make([]byte, blockSize)
		d.mode.CryptBlocks(decrypted, block)
		if d.pending != nil {
			out = append(out, d.pending...)
		}
		d.pending = decrypted
	}
	return out, nil
}

// Close confirms the stream has ended, strips PKCS#7 padding from the
// final withheld block, and returns the last bit of plaintext.
func (d *Decrypter) Close() ([]byte, error) {
	if len(d.partial) != 0 {
		return nil, errors.New("cryptoutil: ciphertext length is not a multiple of the AES block size")
	}
	if d.pending == nil {
		return nil, errors.New("cryptoutil: empty ciphertext stream")
	}
	return pkcs7Unpad(d.pending, aes.BlockSize)
}

// EncryptAll is a convenience wrapper around Encrypter for callers (mainly
// tests) that already hold the whole plaintext in memory. Production code
// paths use Encrypter directly so a multi-gigabyte file is never buffered
// whole.
func EncryptAll(key, plaintext []byte) ([]byte, error) {
	enc, err := NewEncrypter(key)
	if err != nil {
		return nil, err
	}
	out, err := enc.Write(plaintext)
	if err != nil {
		return nil, err
	}
	tail, err := enc.Close()
	if err != nil {
		return nil, err
	}
	return append(out, tail...), nil
}

// DecryptAll is the convenience counterpart to EncryptAll.
func DecryptAll(key, ciphertext []byte) ([]byte, error) {
	dec, err := NewDecrypter(key)
	if err != nil {
		return nil, err
	}
	out, err := dec.Write(ciphertext)
	if err != nil {
		return nil, err
	}
	tail, err := dec.Close()
	if err != nil {
		return nil, err
	}
	return append(out, tail...), nil
}

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

// Package cryptoutil implements the protocol's cryptographic contracts:
// 1024-bit RSA key exchange with PKCS#1 v1.5 wrapping, and streaming
// AES-256-CBC with a fixed zero IV and PKCS#7 padding. Both choices are
// below modern best practice; they are preserved deliberately for wire
// interoperability and are flagged, not silently strengthened (see
// DESIGN.md).
package cryptoutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"

	"github.com/pkg/errors"
)

// RSAKeyBits is the RSA modulus size mandated by the wire format: the
// 160-byte public-key field and 128-byte wrapped-key field both imply a
// 1024-bit key. Changing this breaks interop.
const RSAKeyBits = 1024

// ErrKeySizeMismatch is returned when a parsed or generated key does not
// match the wire-mandated 1024-bit size.
var ErrKeySizeMismatch = errors.New("cryptoutil: RSA key is not 1024 bits")

// GenerateKeyPair creates a fresh 1024-bit RSA key pair, as the client does
// once at first registration.
func GenerateKeyPair() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, RSAKeyBits)
	if err != nil {
		return nil, errors.Wrap(err, "cryptoutil: generate RSA key")
	}
	return key, nil
}

// MarshalPublicKeyDER encodes pub as an ASN.1 DER SubjectPublicKeyInfo. For
// a 1024-bit RSA key with the standard exponent 65537 this is exactly
// PublicKeySize (160) bytes, the width the wire format reserves.
func MarshalPublicKeyDER(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, errors.Wrap(err, "cryptoutil: marshal public key")
	}
	if len(der) != PublicKeySize {
		return nil, errors.Wrapf(ErrKeySizeMismatch, "DER public key is %d bytes, want %d", len(der), PublicKeySize)
	}
	return der, nil
}

// ParsePublicKeyDER parses the exact byte sequence a client sent as its
// public key back into an *rsa.PublicKey. The server stores the raw bytes
// verbatim but needs the parsed form to wrap the AES key.
func ParsePublicKeyDER(der []byte) (*rsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, errors.Wrap(err, "cryptoutil: parse public key")
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("cryptoutil: public key is not RSA")
	}
	if rsaPub.N.BitLen() != RSAKeyBits {
		return nil, errors.Wrapf(ErrKeySizeMismatch, "got %d bits", rsaPub.N.BitLen())
	}
	return rsaPub, nil
}

// PublicKeySize is re-exported from the wire-format constant so this
// package does not need to import protocol (which would create an import
// cycle: protocol never needs cryptoutil).
const PublicKeySize = 160

// WrapAESKey RSA-encrypts aesKey under pub using PKCS#1 v1.5 padding — the
// padding scheme the wire format requires; switching to OAEP would have to
// happen on both endpoints at once. The result is exactly WrappedAESSize
// (128) bytes for a 1024-bit key.
func WrapAESKey(pub *rsa.PublicKey, aesKey []byte) ([]byte, error) {
	ct, err := rsa.EncryptPKCS1v15(rand.Reader, pub, aesKey)
	if err != nil {
		return nil, errors.Wrap(err, "cryptoutil: wrap AES key")
	}
	return ct, nil
}

// UnwrapAESKey reverses WrapAESKey using the client's private key.
func UnwrapAESKey(priv *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	key, err := rsa.DecryptPKCS1v15(rand.Reader, priv, wrapped)
	if err != nil {
		return nil, errors.Wrap(err, "cryptoutil: unwrap AES key")
	}
	return key, nil
}

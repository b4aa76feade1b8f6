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

// Package identity reads and writes the client's persistent on-disk state:
// me.info (display name, ClientID, RSA private key), the optional priv.key
// secondary copy, and transfer.info (server address, display name, file to
// upload). All writes are atomic (tmpfile + rename), so a crash
// mid-write never leaves a half-written me.info behind.
package identity

import (
	"bufio"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/backube/cryptobackup/internal/protocol"
)

// ErrMalformed is returned when an identity or transfer file does not have
// the expected 3-line shape.
var ErrMalformed = errors.New("identity: malformed file")

// Me is the parsed contents of me.info: the client's persistent identity.
type Me struct {
	Name       string
	ClientID   protocol.ClientID
	PrivateKey *rsa.PrivateKey
}

// Transfer is the parsed contents of transfer.info: what to connect to and
// upload.
type Transfer struct {
	ServerAddr  string // host:port
	DisplayName string
	FilePath    string
}

// LoadMe reads and parses me.info at path. Its presence is what
// tells the client to Reconnect instead of Register.
func LoadMe(path string) (*Me, error) {
	lines, err := readLines(path, 3)
	if err != nil {
		return nil, err
	}

	idBytes, err := hex.DecodeString(strings.TrimSpace(lines[1]))
	if err != nil || len(idBytes) != protocol.ClientIDSize {
		return nil, errors.Wrapf(ErrMalformed, "%s: invalid client id hex", path)
	}

	keyDER, err := base64.StdEncoding.DecodeString(strings.TrimSpace(lines[2]))
	if err != nil {
		return nil, errors.Wrapf(ErrMalformed, "%s: invalid private key base64", path)
	}
	priv, err := x509.ParsePKCS1PrivateKey(keyDER)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformed, "%s: invalid private key DER: %v", path, err)
	}

	var id protocol.ClientID
	copy(id[:], idBytes)

	return &Me{
		Name:       strings.TrimSpace(lines[0]),
		ClientID:   id,
		PrivateKey: priv,
	}, nil
}

// Exists reports whether a me.info file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// SaveMe atomically writes me.info (and, if privKeyPath is non-empty, the
// secondary priv.key copy) for a freshly registered client.
func SaveMe(path string, me *Me, privKeyPath string) error {
	keyDER := x509.MarshalPKCS1PrivateKey(me.PrivateKey)
	keyB64 := base64.StdEncoding.EncodeToString(keyDER)

	contents := fmt.Sprintf("%s\n%s\n%s\n", me.Name, hex.EncodeToString(me.ClientID[:]), keyB64)
	if err := atomicWriteFile(path, []byte(contents), 0o600); err != nil {
		return errors.Wrap(err, "identity: write me.info")
	}

	if privKeyPath != "" {
		if err := atomicWriteFile(privKeyPath, []byte(keyB64+"\n"), 0o600); err != nil {
			return errors.Wrap(err, "identity: write priv.key")
		}
	}
	return nil
}

// LoadTransfer reads and parses transfer.info.
func LoadTransfer(path string) (*Transfer, error) {
	lines, err := readLines(path, 3)
	if err != nil {
		return nil, err
	}
	return &Transfer{
		ServerAddr:  strings.TrimSpace(lines[0]),
		DisplayName: strings.TrimSpace(lines[1]),
		FilePath:    strings.TrimSpace(lines[2]),
	}, nil
}

// readLines reads exactly want non-empty lines from path (trailing blank
// lines are ignored), failing with ErrMalformed otherwise.
func readLines(path string, want int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "identity: open %s", path)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "identity: read %s", path)
	}
	if len(lines) < want {
		return nil, errors.Wrapf(ErrMalformed, "%s: expected %d lines, got %d", path, want, len(lines))
	}
	return lines[:want], nil
}

// atomicWriteFile writes data to a temp file in the same directory as path
// and renames it into place, so a crash mid-write never corrupts the
// existing file.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "identity: create temp file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "identity: write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "identity: sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "identity: close temp file")
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return errors.Wrap(err, "identity: chmod temp file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrap(err, "identity: rename temp file into place")
	}
	return nil
}

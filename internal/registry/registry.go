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

package registry

import (
	"database/sql"
	stderrors "errors"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	_ "modernc.org/sqlite"

	"github.com/backube/cryptobackup/internal/protocol"
)

// Sentinel errors for the registry's operation contract.
var (
	ErrNameTaken   = errors.New("registry: name already registered")
	ErrNotFound    = errors.New("registry: record not found")
	ErrNoPublicKey = errors.New("registry: client has no public key on file")
)

const schema = `
CREATE TABLE IF NOT EXISTS clients (
	id         BLOB PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	public_key BLOB,
	aes_key    BLOB,
	last_seen  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
	client_id    BLOB NOT NULL,
	filename     TEXT NOT NULL,
	path_on_disk TEXT NOT NULL,
	verified     INTEGER NOT NULL DEFAULT 0,
	size         INTEGER NOT NULL,
	crc32        INTEGER NOT NULL,
	uploaded_at  INTEGER NOT NULL,
	PRIMARY KEY (client_id, filename)
);
`

// Registry is the server's persistent client and file store. All mutating
// calls take mu, serializing writes to a single statement at a time; reads
// use the connection pool directly and may run concurrently.
type Registry struct {
	db  *sql.DB
	mu  sync.Mutex
	log logr.Logger
}

// Open creates or opens a SQLite database at path and ensures the schema
// exists.
func Open(path string, log logr.Logger) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "registry: open database")
	}
	// Writes are serialized by mu, so only one connection writes at a
	// time; readers share the same small pool of up to four connections,
	// which is fine at this scale (one row lookup per session, not a hot
	// path).
	db.SetMaxOpenConns(4)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "registry: create schema")
	}
	return &Registry{db: db, log: log}, nil
}

// Close releases the underlying database handle.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Register atomically assigns a fresh random ClientID to name, or returns
// ErrNameTaken if name is already registered. Two concurrent registrations
// of the same name produce exactly one winner.
func (r *Registry) Register(name string) (protocol.ClientID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var exists int
	row := r.db.QueryRow(`SELECT COUNT(1) FROM clients WHERE name = ?`, name)
	if err := row.Scan(&exists); err != nil {
		return protocol.ClientID{}, errors.Wrap(err, "registry: check name uniqueness")
	}
	if exists > 0 {
		return protocol.ClientID{}, ErrNameTaken
	}

	var id protocol.ClientID
	fresh := uuid.New()
	copy(id[:], fresh[:])

	_, err := r.db.Exec(
		`INSERT INTO clients (id, name, last_seen) VALUES (?, ?, ?)`,
		id[:], name, time.Now().Unix(),
	)
	if err != nil {
		return protocol.ClientID{}, errors.Wrap(err, "registry: insert client")
	}
	return id, nil
}

// LookupByName resolves an existing client by display name; a reconnect
// request by name resolves to an existing id.
func (r *Registry) LookupByName(name string) (*Client, error) {
	row := r.db.QueryRow(
		`SELECT id, name, public_key, aes_key, last_seen FROM clients WHERE name = ?`, name,
	)
	return scanClient(row)
}

// LookupByID resolves an existing client by ClientID.
func (r *Registry) LookupByID(id protocol.ClientID) (*Client, error) {
	row := r.db.QueryRow(
		`SELECT id, name, public_key, aes_key, last_seen FROM clients WHERE id = ?`, id[:],
	)
	return scanClient(row)
}

func scanClient(row *sql.Row) (*Client, error) {
	var (
		idBytes, pub, aes []byte
		name              string
		lastSeen          int64
	)
	if err := row.Scan(&idBytes, &name, &pub, &aes, &lastSeen); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "registry: scan client")
	}
	var c Client
	copy(c.ID[:], idBytes)
	c.Name = name
	c.PublicKey = pub
	c.AESKey = aes
	c.LastSeen = time.Unix(lastSeen, 0)
	return &c, nil
}

// TouchLastSeen bumps last_seen to now, as every successful request after
// the first does.
func (r *Registry) TouchLastSeen(id protocol.ClientID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`UPDATE clients SET last_seen = ? WHERE id = ?`, time.Now().Unix(), id[:])
	if err != nil {
		return errors.Wrap(err, "registry: touch last_seen")
	}
	return nil
}

// SetPublicKeyAndGenerateAES stores pubKey verbatim and persists the
// session AES key alongside it. Called once per session: at first
// registration's SendPublicKey, and again at every Reconnect — a fresh key
// per session, never key reuse.
func (r *Registry) SetPublicKeyAndGenerateAES(id protocol.ClientID, pubKey []byte, aesKey []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.Exec(
		`UPDATE clients SET public_key = ?, aes_key = ?, last_seen = ? WHERE id = ?`,
		pubKey, aesKey, time.Now().Unix(), id[:],
	)
	if err != nil {
		return errors.Wrap(err, "registry: set public key and AES key")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "registry: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordFile creates or replaces the file record for (clientID, filename),
// unverified, at the start of an upload.
func (r *Registry) RecordFile(clientID protocol.ClientID, filename, pathOnDisk string, size int64, crc uint32) (*File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	_, err := r.db.Exec(
		`INSERT INTO files (client_id, filename, path_on_disk, verified, size, crc32, uploaded_at)
		 VALUES (?, ?, ?, 0, ?, ?, ?)
		 ON CONFLICT(client_id, filename) DO UPDATE SET
			path_on_disk = excluded.path_on_disk,
			verified = 0,
			size = excluded.size,
			crc32 = excluded.crc32,
			uploaded_at = excluded.uploaded_at`,
		clientID[:], filename, pathOnDisk, size, crc, now.Unix(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "registry: record file")
	}
	return &File{
		ClientID:   clientID,
		Filename:   filename,
		PathOnDisk: pathOnDisk,
		Verified:   false,
		Size:       size,
		CRC32:      crc,
		UploadedAt: now,
	}, nil
}

// MarkFileVerified flips the verified flag once the client confirms the
// CRC matched (code 900).
func (r *Registry) MarkFileVerified(clientID protocol.ClientID, filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.Exec(
		`UPDATE files SET verified = 1 WHERE client_id = ? AND filename = ?`,
		clientID[:], filename,
	)
	if err != nil {
		return errors.Wrap(err, "registry: mark file verified")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "registry: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DropFile deletes the file record, used after 3 failed CRC retries.
func (r *Registry) DropFile(clientID protocol.ClientID, filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(
		`DELETE FROM files WHERE client_id = ? AND filename = ?`,
		clientID[:], filename,
	)
	if err != nil {
		return errors.Wrap(err, "registry: drop file")
	}
	return nil
}

// LookupFile returns the file record for (clientID, filename).
func (r *Registry) LookupFile(clientID protocol.ClientID, filename string) (*File, error) {
	row := r.db.QueryRow(
		`SELECT client_id, filename, path_on_disk, verified, size, crc32, uploaded_at
		 FROM files WHERE client_id = ? AND filename = ?`,
		clientID[:], filename,
	)
	var (
		idBytes        []byte
		fname, path    string
		verified       int
		size           int64
		crc            uint32
		uploadedAtUnix int64
	)
	if err := row.Scan(&idBytes, &fname, &path, &verified, &size, &crc, &uploadedAtUnix); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "registry: scan file")
	}
	var f File
	copy(f.ClientID[:], idBytes)
	f.Filename = fname
	f.PathOnDisk = path
	f.Verified = verified != 0
	f.Size = size
	f.CRC32 = crc
	f.UploadedAt = time.Unix(uploadedAtUnix, 0)
	return &f, nil
}

// PruneStale deletes client records whose last_seen is older than before.
// It is the operation the optional registry-GC cron job calls; the wire
// protocol itself never deletes client records, so nothing calls this
// unless an operator opts in.
func (r *Registry) PruneStale(before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.Exec(`DELETE FROM clients WHERE last_seen < ?`, before.Unix())
	if err != nil {
		return 0, errors.Wrap(err, "registry: prune stale clients")
	}
	return res.RowsAffected()
}

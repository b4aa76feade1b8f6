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

// Package registry is the server's persistent client and file registry.
// It is backed by a single-file embedded SQLite database
// (modernc.org/sqlite — pure Go, no cgo) accessed through database/sql.
// All mutating operations are serialized by a mutex in Registry, one
// statement at a time; reads go through a small capped connection pool
// and may run concurrently.
package registry

import (
	"time"

	"github.com/backube/cryptobackup/internal/protocol"
)

// Client is the server-side persistent record of a registered client.
type Client struct {
	ID        protocol.ClientID
	Name      string
	PublicKey []byte // exact bytes the client sent; may be nil before SendPublicKey
	AESKey    []byte // nil until the server generates one
	LastSeen  time.Time
}

// File is the server-side persistent record of an uploaded file.
type File struct {
	ClientID   protocol.ClientID
	Filename   string
	PathOnDisk string
	Verified   bool
	Size       int64
	CRC32      uint32
	UploadedAt time.Time
}

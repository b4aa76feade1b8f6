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

// Package apperrors defines the protocol's abstract error taxonomy: a small,
// closed set of kinds that every lower-level failure (socket errors, SQL
// errors, crypto failures, malformed frames) gets mapped to at the first
// boundary with enough context to classify it. Only the kind — never the
// underlying message — is allowed to cross the wire to a peer: internal
// detail stays in the logs.
package apperrors

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// Kind is one of the closed set of error categories.
type Kind int

const (
	KindNone Kind = iota
	KindConfigError
	KindIoError
	KindProtocolViolation
	KindRegistryError
	KindCryptoError
	KindCrcMismatch
)

func (k Kind) String() string {
	switch k {
	case KindConfigError:
		return "ConfigError"
	case KindIoError:
		return "IoError"
	case KindProtocolViolation:
		return "ProtocolViolation"
	case KindRegistryError:
		return "RegistryError"
	case KindCryptoError:
		return "CryptoError"
	case KindCrcMismatch:
		return "CrcMismatch"
	default:
		return "None"
	}
}

// Error wraps an underlying cause with a taxonomy Kind, so callers at a
// session boundary can decide which response code or exit code applies
// without re-inspecting the original error's message.
type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

// Wrap produces a new *Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, cause: errors.Wrap(cause, msg)}
}

// New produces a new *Error of the given kind with no deeper cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, cause: errors.New(msg)}
}

// As reports whether err (or something it wraps) is an *Error, returning it
// if so.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ClientExitCode maps an error's Kind to the client CLI's exit codes:
// 0 success; 1 config error; 2 network error; 3 protocol error; 4 CRC
// mismatch after 3 retries.
func ClientExitCode(err error) int {
	if err == nil {
		return 0
	}
	e, ok := As(err)
	if !ok {
		return 2 // unclassified failures are treated as network/IO errors
	}
	switch e.Kind {
	case KindConfigError:
		return 1
	case KindIoError:
		return 2
	case KindProtocolViolation, KindRegistryError, KindCryptoError:
		return 3
	case KindCrcMismatch:
		return 4
	default:
		return 2
	}
}

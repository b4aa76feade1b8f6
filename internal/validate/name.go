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

// Package validate sanitizes and validates the display-name and filename
// strings carried in wire frames. A name or filename containing path
// separators, control characters, or bytes outside the allowed set is
// rejected: strip separators and collapse whitespace first, then verify
// what remains is non-empty and within the field's length limit.
package validate

import (
	"strings"
	"unicode"

	"github.com/pkg/errors"

	"github.com/backube/cryptobackup/internal/protocol"
)

// ErrEmptyAfterSanitize is returned when sanitizing a name or filename
// strips it down to nothing.
var ErrEmptyAfterSanitize = errors.New("validate: empty after sanitization")

// ErrTooLong is returned when a sanitized name or filename does not fit in
// its wire field (with room for the NUL terminator).
var ErrTooLong = errors.New("validate: exceeds maximum length")

// maxLen leaves room for the NUL terminator inside the 255-byte wire field.
const maxLen = protocol.NameFieldSize - 1

// Sanitize strips path separators and control characters from s, collapses
// runs of whitespace to a single space, and trims the result. It does not
// enforce length or emptiness; call Validate (or Name/Filename) for that.
func Sanitize(s string) string {
	var b strings.Builder
	lastWasSpace := false
	for _, r := range s {
		switch {
		case r == '/' || r == '\\' || r == 0:
			continue
		case unicode.IsControl(r):
			continue
		case unicode.IsSpace(r):
			if !lastWasSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			lastWasSpace = true
		default:
			b.WriteRune(r)
			lastWasSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

// Validate sanitizes s and checks the result is non-empty and fits the
// wire field. It returns the sanitized form.
func Validate(s string) (string, error) {
	clean := Sanitize(s)
	if clean == "" {
		return "", ErrEmptyAfterSanitize
	}
	if len(clean) > maxLen {
		return "", errors.Wrapf(ErrTooLong, "%d bytes, max %d", len(clean), maxLen)
	}
	return clean, nil
}

// Name validates a client display name (up to 254 bytes plus the null
// terminator on the wire).
func Name(s string) (string, error) {
	clean, err := Validate(s)
	if err != nil {
		return "", errors.Wrap(err, "validate: name")
	}
	return clean, nil
}

// Filename validates an uploaded file's name.
func Filename(s string) (string, error) {
	clean, err := Validate(s)
	if err != nil {
		return "", errors.Wrap(err, "validate: filename")
	}
	return clean, nil
}

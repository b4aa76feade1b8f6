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

// Package protocol implements the binary wire format used between backup
// clients and the backup server: request/response headers, payload layouts,
// and the fixed-size field conventions both endpoints must agree on.
package protocol

// RequestCode identifies the kind of request frame a client sends.
type RequestCode uint16

// Response code identifies the kind of response frame the server sends.
type ResponseCode uint16

// Request codes, per the wire format.
const (
	ReqRegister        RequestCode = 1025
	ReqSendPublicKey   RequestCode = 1026
	ReqReconnect       RequestCode = 1027
	ReqSendFile        RequestCode = 1028
	ReqCrcValid        RequestCode = 900
	ReqCrcInvalidRetry RequestCode = 901
	ReqCrcInvalidAbort RequestCode = 902

	// ReqHealthCheck is an extension code outside the mandated request
	// range (900-902, 1025-1028) used only by optional monitoring tools. A
	// conforming client never needs to send it.
	ReqHealthCheck RequestCode = 2000
)

// Response codes, per the wire format.
const (
	RespRegisterOk        ResponseCode = 2100
	RespRegisterFailed    ResponseCode = 2101
	RespPublicKeyReceived ResponseCode = 2102
	RespFileReceived      ResponseCode = 2103
	RespMessageConfirmed  ResponseCode = 2104
	RespReconnectAllowed  ResponseCode = 2105
	RespReconnectDenied   ResponseCode = 2106
	RespGeneralError      ResponseCode = 2107

	// RespHealthOk answers ReqHealthCheck. Chosen well outside the
	// mandated response range so it never collides with the wire format.
	RespHealthOk ResponseCode = 3000
)

// ProtocolVersion is the only wire version this implementation speaks.
const ProtocolVersion uint8 = 3

// Fixed field widths, in bytes.
const (
	ClientIDSize       = 16
	NameFieldSize      = 255
	PublicKeySize      = 160
	WrappedAESSize     = 128
	AESKeySize         = 32
	CRCSize            = 4
	RequestHeaderSize  = 23
	ResponseHeaderSize = 7

	// SendFileFixedSize is the number of payload bytes in a SendFile
	// frame that precede the ciphertext: content_size(4) + orig_size(4) +
	// packet_num(2) + total_packets(2) + filename(255).
	SendFileFixedSize = 4 + 4 + 2 + 2 + NameFieldSize
)

// String renders a request code for logging.
func (c RequestCode) String() string {
	switch c {
	case ReqRegister:
		return "Register"
	case ReqSendPublicKey:
		return "SendPublicKey"
	case ReqReconnect:
		return "Reconnect"
	case ReqSendFile:
		return "SendFile"
	case ReqCrcValid:
		return "CrcValid"
	case ReqCrcInvalidRetry:
		return "CrcInvalidRetry"
	case ReqCrcInvalidAbort:
		return "CrcInvalidAbort"
	case ReqHealthCheck:
		return "HealthCheck"
	default:
		return "Unknown"
	}
}

// String renders a response code for logging.
func (c ResponseCode) String() string {
	switch c {
	case RespRegisterOk:
		return "RegisterOk"
	case RespRegisterFailed:
		return "RegisterFailed"
	case RespPublicKeyReceived:
		return "PublicKeyReceived"
	case RespFileReceived:
		return "FileReceived"
	case RespMessageConfirmed:
		return "MessageConfirmed"
	case RespReconnectAllowed:
		return "ReconnectAllowed"
	case RespReconnectDenied:
		return "ReconnectDenied"
	case RespGeneralError:
		return "GeneralError"
	case RespHealthOk:
		return "HealthOk"
	default:
		return "Unknown"
	}
}

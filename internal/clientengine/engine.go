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

// Package clientengine drives the client side of the session state machine:
// register-or-reconnect, key exchange, file upload with CRC
// verification and bounded retry. It knows nothing about sockets directly;
// it is handed a *protocol.Codec already wrapping the connection, which
// keeps it trivially testable against an in-memory pipe.
package clientengine

import (
	"crypto/rsa"
	"os"

	"github.com/go-logr/logr"

	"github.com/backube/cryptobackup/internal/apperrors"
	"github.com/backube/cryptobackup/internal/cryptoutil"
	"github.com/backube/cryptobackup/internal/identity"
	"github.com/backube/cryptobackup/internal/protocol"
	"github.com/backube/cryptobackup/internal/session"
)

// DefaultChunkSize is the ciphertext chunk size used to split a file across
// SendFile frames.
const DefaultChunkSize = 4096

// Paths locates the client's persistent identity files.
type Paths struct {
	MeInfo  string
	PrivKey string // optional secondary copy; "" to skip
}

// Engine runs one client session end to end.
type Engine struct {
	codec     *protocol.Codec
	log       logr.Logger
	paths     Paths
	chunkSize int
}

// New builds an Engine over codec.
func New(codec *protocol.Codec, log logr.Logger, paths Paths) *Engine {
	return &Engine{codec: codec, log: log, paths: paths, chunkSize: DefaultChunkSize}
}

// WithChunkSize overrides the default chunk size (tests use small files and
// want small chunks to exercise multi-packet transfers without huge
// fixtures).
func (e *Engine) WithChunkSize(n int) *Engine {
	e.chunkSize = n
	return e
}

// identityState is the outcome of the register-or-reconnect phase: an
// established ClientID, private key, and session AES key.
type identityState struct {
	clientID protocol.ClientID
	priv     *rsa.PrivateKey
	aesKey   []byte
}

// Run executes the full client protocol against name/filePath and reports
// which phase it reached. It returns nil on success (Done) and an
// *apperrors.Error otherwise, whose Kind apperrors.ClientExitCode maps to
// the CLI exit code contract.
func (e *Engine) Run(name, filePath string) error {
	ids, err := e.establishIdentity(name)
	if err != nil {
		return err
	}
	e.log = e.log.WithValues("clientID", ids.clientID.Hex())

	if err := e.uploadWithRetry(ids, filePath); err != nil {
		return err
	}
	e.log.Info("upload confirmed", "phase", session.PhaseDone)
	return nil
}

// establishIdentity runs Register or Reconnect depending on whether
// me.info already exists. If me.info exists, Reconnect is sent first, and
// Register is sent only after the server answers ReconnectDenied.
func (e *Engine) establishIdentity(name string) (*identityState, error) {
	if identity.Exists(e.paths.MeInfo) {
		me, err := identity.LoadMe(e.paths.MeInfo)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindConfigError, err, "client: load me.info")
		}
		state, denied, err := e.reconnect(me)
		if err != nil {
			return nil, err
		}
		if !denied {
			return state, nil
		}
		e.log.Info("reconnect denied by server, registering fresh", "phase", session.PhaseStart)
		// fall through to a fresh Register
	}
	return e.register(name)
}

func (e *Engine) register(name string) (*identityState, error) {
	e.log.Info("registering", "phase", session.PhaseStart, "name", name)

	payload, err := protocol.RegisterPayload{Name: name}.MarshalBinary()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindConfigError, err, "client: encode Register payload")
	}
	reqHeader := protocol.RequestHeader{Version: protocol.ProtocolVersion, Code: protocol.ReqRegister}
	if err := e.codec.WriteRequest(reqHeader, payload); err != nil {
		return nil, apperrors.Wrap(apperrors.KindIoError, err, "client: send Register")
	}

	respHeader, respPayload, err := e.codec.ReadResponse()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindIoError, err, "client: read Register response")
	}
	switch respHeader.Code {
	case protocol.RespRegisterOk:
		ok, err := protocol.UnmarshalRegisterOkPayload(respPayload)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindProtocolViolation, err, "client: decode RegisterOk")
		}
		return e.afterRegistered(ok.ClientID, name)
	case protocol.RespRegisterFailed:
		return nil, apperrors.New(apperrors.KindRegistryError, "client: registration failed (name already taken)")
	default:
		return nil, apperrors.New(apperrors.KindProtocolViolation, "client: unexpected response to Register")
	}
}

// afterRegistered generates the RSA key pair, persists me.info, and sends
// SendPublicKey.
func (e *Engine) afterRegistered(clientID protocol.ClientID, name string) (*identityState, error) {
	priv, err := cryptoutil.GenerateKeyPair()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCryptoError, err, "client: generate RSA key")
	}
	if err := identity.SaveMe(e.paths.MeInfo, &identity.Me{Name: name, ClientID: clientID, PrivateKey: priv}, e.paths.PrivKey); err != nil {
		return nil, apperrors.Wrap(apperrors.KindConfigError, err, "client: save me.info")
	}
	aesKey, err := e.sendPublicKey(clientID, name, priv)
	if err != nil {
		return nil, err
	}
	return &identityState{clientID: clientID, priv: priv, aesKey: aesKey}, nil
}

func (e *Engine) sendPublicKey(clientID protocol.ClientID, name string, priv *rsa.PrivateKey) ([]byte, error) {
	der, err := cryptoutil.MarshalPublicKeyDER(&priv.PublicKey)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCryptoError, err, "client: marshal public key")
	}
	var pubKeyField [protocol.PublicKeySize]byte
	copy(pubKeyField[:], der)

	payload, err := protocol.SendPublicKeyPayload{Name: name, PublicKey: pubKeyField}.MarshalBinary()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindConfigError, err, "client: encode SendPublicKey payload")
	}
	reqHeader := protocol.RequestHeader{ClientID: clientID, Version: protocol.ProtocolVersion, Code: protocol.ReqSendPublicKey}
	if err := e.codec.WriteRequest(reqHeader, payload); err != nil {
		return nil, apperrors.Wrap(apperrors.KindIoError, err, "client: send SendPublicKey")
	}

	respHeader, respPayload, err := e.codec.ReadResponse()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindIoError, err, "client: read SendPublicKey response")
	}
	if respHeader.Code != protocol.RespPublicKeyReceived {
		return nil, apperrors.New(apperrors.KindProtocolViolation, "client: unexpected response to SendPublicKey")
	}
	resp, err := protocol.UnmarshalPublicKeyReceivedPayload(respPayload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindProtocolViolation, err, "client: decode PublicKeyReceived")
	}
	aesKey, err := cryptoutil.UnwrapAESKey(priv, resp.WrappedAES[:])
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindCryptoError, err, "client: unwrap AES key")
	}
	e.log.Info("key exchange complete", "phase", session.PhaseKeyReady)
	return aesKey, nil
}

// reconnect sends Reconnect and reports whether the server denied it
// (ReconnectDenied), in which case the caller falls back to Register.
func (e *Engine) reconnect(me *identity.Me) (*identityState, bool, error) {
	e.log.Info("reconnecting", "phase", session.PhaseStart, "name", me.Name)

	payload, err := protocol.ReconnectPayload{Name: me.Name}.MarshalBinary()
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.KindConfigError, err, "client: encode Reconnect payload")
	}
	reqHeader := protocol.RequestHeader{ClientID: me.ClientID, Version: protocol.ProtocolVersion, Code: protocol.ReqReconnect}
	if err := e.codec.WriteRequest(reqHeader, payload); err != nil {
		return nil, false, apperrors.Wrap(apperrors.KindIoError, err, "client: send Reconnect")
	}

	respHeader, respPayload, err := e.codec.ReadResponse()
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.KindIoError, err, "client: read Reconnect response")
	}
	switch respHeader.Code {
	case protocol.RespReconnectAllowed:
		resp, err := protocol.UnmarshalReconnectAllowedPayload(respPayload)
		if err != nil {
			return nil, false, apperrors.Wrap(apperrors.KindProtocolViolation, err, "client: decode ReconnectAllowed")
		}
		aesKey, err := cryptoutil.UnwrapAESKey(me.PrivateKey, resp.WrappedAES[:])
		if err != nil {
			return nil, false, apperrors.Wrap(apperrors.KindCryptoError, err, "client: unwrap AES key")
		}
		e.log.Info("key exchange complete", "phase", session.PhaseKeyReady)
		return &identityState{clientID: me.ClientID, priv: me.PrivateKey, aesKey: aesKey}, false, nil
	case protocol.RespReconnectDenied:
		return nil, true, nil
	default:
		return nil, false, apperrors.New(apperrors.KindProtocolViolation, "client: unexpected response to Reconnect")
	}
}

// openFile wraps os.Open with the ConfigError kind, since a missing or
// unreadable file named in transfer.info is a configuration problem, not a
// protocol one.
func openFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindConfigError, err, "client: open file to upload")
	}
	return f, nil
}


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

// Package server runs the backup server's TCP accept loop: one goroutine
// per connection, each driving its own serverengine.Session, with a
// graceful-shutdown path that stops accepting new connections and gives
// in-flight sessions a bounded window to finish.
package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/backube/cryptobackup/internal/apperrors"
	"github.com/backube/cryptobackup/internal/framer"
	"github.com/backube/cryptobackup/internal/protocol"
	"github.com/backube/cryptobackup/internal/registry"
	"github.com/backube/cryptobackup/internal/serverengine"
)

// DefaultDrainTimeout bounds how long Serve waits for in-flight sessions to
// finish after its context is canceled, before returning anyway.
const DefaultDrainTimeout = 10 * time.Second

// Acceptor owns the listening socket and hands each accepted connection to
// its own serverengine.Session.
type Acceptor struct {
	Listener     net.Listener
	Registry     *registry.Registry
	StorageDir   string
	Log          logr.Logger
	DrainTimeout time.Duration

	wg sync.WaitGroup
}

// Serve accepts connections until ctx is canceled, then stops accepting and
// waits up to DrainTimeout for in-flight sessions to finish.
func (a *Acceptor) Serve(ctx context.Context) error {
	if a.DrainTimeout <= 0 {
		a.DrainTimeout = DefaultDrainTimeout
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		a.Listener.Close()
		close(done)
	}()

	for {
		conn, err := a.Listener.Accept()
		if err != nil {
			select {
			case <-done:
				return a.drain()
			default:
				return errors.Wrap(err, "server: accept")
			}
		}
		sessionsAccepted.Inc()
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.handle(conn)
		}()
	}
}

// drain waits for in-flight sessions to finish, capped at DrainTimeout.
func (a *Acceptor) drain() error {
	finished := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-time.After(a.DrainTimeout):
		a.Log.Info("shutdown drain timeout elapsed with sessions still active")
		return nil
	}
}

func (a *Acceptor) handle(conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	log := a.Log.WithValues("remote", remote, "session", uuid.NewString())

	codec := protocol.NewCodec(framer.New(conn))
	sess := serverengine.New(codec, a.Registry, a.StorageDir, log)
	sess.OnBytesReceived = func(n int64) { bytesTransferred.Add(float64(n)) }
	sess.OnCRCRetry = func() { crcRetries.Inc() }

	if err := sess.Run(); err != nil {
		kind := "unknown"
		if e, ok := apperrors.As(err); ok {
			kind = e.Kind.String()
		}
		sessionErrors.WithLabelValues(kind).Inc()
		log.Info("session ended with error", "error", err.Error(), "kind", kind)
		return
	}
	log.V(1).Info("session closed")
}

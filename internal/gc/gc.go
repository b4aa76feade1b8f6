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

// Package gc runs the optional registry pruning job: a cron schedule that
// deletes client records which have not been seen in a configurable window.
// The wire protocol itself never deletes a client; this is purely an
// operator opt-in housekeeping task.
package gc

import (
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"

	"github.com/backube/cryptobackup/internal/registry"
)

// Pruner deletes stale client records on a schedule.
type Pruner struct {
	Registry *registry.Registry
	Log      logr.Logger
	MaxAge   time.Duration
}

// Run executes one pruning pass. It is the function the cron schedule
// calls; it never returns an error since cron has nowhere to report one,
// but logs failures.
func (p *Pruner) Run() {
	cutoff := time.Now().Add(-p.MaxAge)
	n, err := p.Registry.PruneStale(cutoff)
	if err != nil {
		p.Log.Error(err, "registry prune failed")
		return
	}
	if n > 0 {
		p.Log.Info("pruned stale clients", "count", n, "cutoff", cutoff)
	}
}

// Start builds and starts a cron schedule that calls pruner.Run on the
// given spec (standard 5-field cron syntax). The caller owns the returned
// *cron.Cron and must Stop it on shutdown.
func Start(spec string, pruner *Pruner) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, pruner.Run); err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

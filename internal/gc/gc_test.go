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

package gc

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/onsi/gomega"

	"github.com/backube/cryptobackup/internal/registry"
)

func TestPrunerRunDeletesStaleClients(t *testing.T) {
	g := gomega.NewWithT(t)

	reg, err := registry.Open(filepath.Join(t.TempDir(), "registry.db"), logr.Discard())
	g.Expect(err).NotTo(gomega.HaveOccurred())
	defer reg.Close()

	_, err = reg.Register("stale-client")
	g.Expect(err).NotTo(gomega.HaveOccurred())

	p := &Pruner{Registry: reg, Log: logr.Discard(), MaxAge: -1 * time.Hour}
	p.Run()

	_, err = reg.LookupByName("stale-client")
	g.Expect(err).To(gomega.MatchError(registry.ErrNotFound))
}

func TestStartReturnsRunningCron(t *testing.T) {
	g := gomega.NewWithT(t)

	reg, err := registry.Open(filepath.Join(t.TempDir(), "registry.db"), logr.Discard())
	g.Expect(err).NotTo(gomega.HaveOccurred())
	defer reg.Close()

	p := &Pruner{Registry: reg, Log: logr.Discard(), MaxAge: 24 * time.Hour}
	c, err := Start("@every 1h", p)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	defer c.Stop()

	g.Expect(c.Entries()).To(gomega.HaveLen(1))
}

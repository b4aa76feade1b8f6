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
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/onsi/gomega"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	r, err := Open(filepath.Join(dir, "registry.db"), logr.Discard())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRegisterThenLookupByNameAndID(t *testing.T) {
	g := gomega.NewWithT(t)
	r := openTestRegistry(t)

	id, err := r.Register("alice")
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(id.IsZero()).To(gomega.BeFalse())

	byName, err := r.LookupByName("alice")
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(byName.ID).To(gomega.Equal(id))

	byID, err := r.LookupByID(id)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(byID.Name).To(gomega.Equal("alice"))
}

func TestRegisterDuplicateNameFails(t *testing.T) {
	g := gomega.NewWithT(t)
	r := openTestRegistry(t)

	_, err := r.Register("bob")
	g.Expect(err).NotTo(gomega.HaveOccurred())

	_, err = r.Register("bob")
	g.Expect(err).To(gomega.MatchError(ErrNameTaken))
}

func TestLookupMissingReturnsNotFound(t *testing.T) {
	g := gomega.NewWithT(t)
	r := openTestRegistry(t)

	_, err := r.LookupByName("nobody")
	g.Expect(err).To(gomega.MatchError(ErrNotFound))
}

func TestSetPublicKeyAndGenerateAES(t *testing.T) {
	g := gomega.NewWithT(t)
	r := openTestRegistry(t)

	id, err := r.Register("carol")
	g.Expect(err).NotTo(gomega.HaveOccurred())

	pub := []byte("fake-der-public-key")
	aesKey := []byte("0123456789abcdef0123456789abcdef")
	g.Expect(r.SetPublicKeyAndGenerateAES(id, pub, aesKey)).To(gomega.Succeed())

	c, err := r.LookupByID(id)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(c.PublicKey).To(gomega.Equal(pub))
	g.Expect(c.AESKey).To(gomega.Equal(aesKey))
}

func TestFileLifecycle(t *testing.T) {
	g := gomega.NewWithT(t)
	r := openTestRegistry(t)

	id, err := r.Register("dave")
	g.Expect(err).NotTo(gomega.HaveOccurred())

	_, err = r.RecordFile(id, "report.pdf", "/data/dave/report.pdf", 1234, 0xDEADBEEF)
	g.Expect(err).NotTo(gomega.HaveOccurred())

	f, err := r.LookupFile(id, "report.pdf")
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(f.Verified).To(gomega.BeFalse())

	g.Expect(r.MarkFileVerified(id, "report.pdf")).To(gomega.Succeed())
	f, err = r.LookupFile(id, "report.pdf")
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(f.Verified).To(gomega.BeTrue())

	g.Expect(r.DropFile(id, "report.pdf")).To(gomega.Succeed())
	_, err = r.LookupFile(id, "report.pdf")
	g.Expect(err).To(gomega.MatchError(ErrNotFound))
}

func TestPruneStale(t *testing.T) {
	g := gomega.NewWithT(t)
	r := openTestRegistry(t)

	_, err := r.Register("stale-client")
	g.Expect(err).NotTo(gomega.HaveOccurred())

	n, err := r.PruneStale(time.Now().Add(-time.Hour))
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(n).To(gomega.Equal(int64(0)))

	n, err = r.PruneStale(time.Now().Add(time.Hour))
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(n).To(gomega.Equal(int64(1)))
}

func TestConcurrentRegisterSameNameHasOneWinner(t *testing.T) {
	g := gomega.NewWithT(t)
	r := openTestRegistry(t)

	const racers = 8
	errs := make(chan error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Register("bob")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var won, lost int
	for err := range errs {
		if err == nil {
			won++
			continue
		}
		g.Expect(err).To(gomega.MatchError(ErrNameTaken))
		lost++
	}
	g.Expect(won).To(gomega.Equal(1))
	g.Expect(lost).To(gomega.Equal(racers - 1))
}

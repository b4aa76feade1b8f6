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

package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/onsi/gomega"

	"github.com/backube/cryptobackup/internal/cryptoutil"
	"github.com/backube/cryptobackup/internal/protocol"
)

func TestSaveThenLoadMeRoundTrip(t *testing.T) {
	g := gomega.NewWithT(t)

	dir := t.TempDir()
	priv, err := cryptoutil.GenerateKeyPair()
	g.Expect(err).NotTo(gomega.HaveOccurred())

	var id protocol.ClientID
	for i := range id {
		id[i] = byte(i)
	}

	mePath := filepath.Join(dir, "me.info")
	privKeyPath := filepath.Join(dir, "priv.key")
	me := &Me{Name: "alice", ClientID: id, PrivateKey: priv}
	g.Expect(SaveMe(mePath, me, privKeyPath)).To(gomega.Succeed())
	g.Expect(Exists(mePath)).To(gomega.BeTrue())
	_, err = os.Stat(privKeyPath)
	g.Expect(err).NotTo(gomega.HaveOccurred())

	got, err := LoadMe(mePath)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(got.Name).To(gomega.Equal("alice"))
	g.Expect(got.ClientID).To(gomega.Equal(id))
	g.Expect(got.PrivateKey.N).To(gomega.Equal(priv.N))
}

func TestLoadTransferInfo(t *testing.T) {
	g := gomega.NewWithT(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "transfer.info")
	contents := "backup.example.com:1256\nalice\n/home/alice/report.pdf\n"
	g.Expect(os.WriteFile(path, []byte(contents), 0o600)).To(gomega.Succeed())

	got, err := LoadTransfer(path)
	g.Expect(err).NotTo(gomega.HaveOccurred())
	g.Expect(got.ServerAddr).To(gomega.Equal("backup.example.com:1256"))
	g.Expect(got.DisplayName).To(gomega.Equal("alice"))
	g.Expect(got.FilePath).To(gomega.Equal("/home/alice/report.pdf"))
}

func TestLoadMeMissingFile(t *testing.T) {
	g := gomega.NewWithT(t)

	_, err := LoadMe(filepath.Join(t.TempDir(), "does-not-exist"))
	g.Expect(err).To(gomega.HaveOccurred())
	g.Expect(Exists(filepath.Join(t.TempDir(), "does-not-exist"))).To(gomega.BeFalse())
}

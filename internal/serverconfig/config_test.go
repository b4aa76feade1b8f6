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

package serverconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/onsi/gomega"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func TestLoadAppliesDefaults(t *testing.T) {
	g := gomega.NewWithT(t)
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	v := viper.New()
	g.Expect(BindFlags(flags, v)).To(gomega.Succeed())

	cfg := Load(v)
	g.Expect(cfg.ListenAddr).To(gomega.Equal(DefaultListen))
	g.Expect(cfg.StorageDir).To(gomega.Equal(DefaultStorageDir))
	g.Expect(cfg.DBPath).To(gomega.Equal(DefaultDBPath))
	g.Expect(cfg.MetricsAddr).To(gomega.BeEmpty())
	g.Expect(cfg.GCSchedule).To(gomega.BeEmpty())
	g.Expect(cfg.GCMaxAge).To(gomega.Equal(DefaultGCMaxAge))
}

func TestLoadFlagOverridesDefault(t *testing.T) {
	g := gomega.NewWithT(t)
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	v := viper.New()
	g.Expect(BindFlags(flags, v)).To(gomega.Succeed())
	g.Expect(flags.Set(FlagListen, ":9999")).To(gomega.Succeed())
	g.Expect(flags.Set(FlagGCSchedule, "@every 1h")).To(gomega.Succeed())

	cfg := Load(v)
	g.Expect(cfg.ListenAddr).To(gomega.Equal(":9999"))
	g.Expect(cfg.GCSchedule).To(gomega.Equal("@every 1h"))
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	g := gomega.NewWithT(t)
	t.Setenv("CRYPTOBACKUP_LISTEN", ":7777")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	v := viper.New()
	v.SetEnvPrefix("")
	g.Expect(BindFlags(flags, v)).To(gomega.Succeed())

	cfg := Load(v)
	g.Expect(cfg.ListenAddr).To(gomega.Equal(":7777"))
	g.Expect(cfg.GCMaxAge).To(gomega.Equal(24 * time.Hour * 90))
}

func TestLoadReadsPortFileWhenListenUnset(t *testing.T) {
	g := gomega.NewWithT(t)

	portFile := filepath.Join(t.TempDir(), "port.info")
	g.Expect(os.WriteFile(portFile, []byte("4321\n"), 0o600)).To(gomega.Succeed())

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	v := viper.New()
	g.Expect(BindFlags(flags, v)).To(gomega.Succeed())
	g.Expect(flags.Set(FlagPortFile, portFile)).To(gomega.Succeed())

	cfg := Load(v)
	g.Expect(cfg.ListenAddr).To(gomega.Equal(":4321"))
}

func TestLoadPrefersExplicitListenOverPortFile(t *testing.T) {
	g := gomega.NewWithT(t)

	portFile := filepath.Join(t.TempDir(), "port.info")
	g.Expect(os.WriteFile(portFile, []byte("4321\n"), 0o600)).To(gomega.Succeed())

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	v := viper.New()
	g.Expect(BindFlags(flags, v)).To(gomega.Succeed())
	g.Expect(flags.Set(FlagPortFile, portFile)).To(gomega.Succeed())
	g.Expect(flags.Set(FlagListen, ":9999")).To(gomega.Succeed())

	cfg := Load(v)
	g.Expect(cfg.ListenAddr).To(gomega.Equal(":9999"))
}

func TestLoadIgnoresMalformedPortFile(t *testing.T) {
	g := gomega.NewWithT(t)

	portFile := filepath.Join(t.TempDir(), "port.info")
	g.Expect(os.WriteFile(portFile, []byte("not-a-port\n"), 0o600)).To(gomega.Succeed())

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	v := viper.New()
	g.Expect(BindFlags(flags, v)).To(gomega.Succeed())
	g.Expect(flags.Set(FlagPortFile, portFile)).To(gomega.Succeed())

	cfg := Load(v)
	g.Expect(cfg.ListenAddr).To(gomega.Equal(DefaultListen))
}

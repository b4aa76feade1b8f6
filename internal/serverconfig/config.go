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

// Package serverconfig resolves the backup server's configuration: command
// line flags take precedence, then environment variables, then the
// defaults set here. Flag registration and viper binding are split from
// config so tests can stand up an isolated viper instance instead of the
// global one (the flag-then-env-then-default pattern follows the rclone
// mover builder's use of viper.BindEnv).
package serverconfig

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Flag and environment-variable names.
const (
	FlagListen      = "listen"
	FlagPortFile    = "port-file"
	FlagStorageDir  = "storage-dir"
	FlagDBPath      = "db-path"
	FlagMetricsAddr = "metrics-addr"
	FlagGCSchedule  = "registry-gc-schedule"
	FlagGCMaxAge    = "registry-gc-max-age"

	envPrefix = "CRYPTOBACKUP_"
)

// Defaults.
const (
	DefaultListen     = ":1256"
	DefaultPortFile   = "port.info"
	DefaultStorageDir = "/var/lib/cryptobackup/storage"
	DefaultDBPath     = "/var/lib/cryptobackup/registry.db"
	DefaultGCMaxAge   = 90 * 24 * time.Hour
)

// Config is the server's fully resolved configuration.
type Config struct {
	ListenAddr  string
	StorageDir  string
	DBPath      string
	MetricsAddr string // empty disables the metrics listener

	// GCSchedule is a 5-field cron spec; empty disables the pruning job
	// entirely.
	GCSchedule string
	GCMaxAge   time.Duration
}

// BindFlags registers the server's flags on flags and binds each one into v
// with its environment-variable fallback, command line taking precedence.
func BindFlags(flags *pflag.FlagSet, v *viper.Viper) error {
	flags.String(FlagListen, DefaultListen, "address to listen on, host:port")
	flags.String(FlagPortFile, DefaultPortFile, "single-line file naming the listen port, consulted when --listen is not set")
	flags.String(FlagStorageDir, DefaultStorageDir, "directory verified uploads are stored under")
	flags.String(FlagDBPath, DefaultDBPath, "path to the registry SQLite database")
	flags.String(FlagMetricsAddr, "", "address to serve Prometheus metrics on; empty disables it")
	flags.String(FlagGCSchedule, "", "cron schedule for pruning stale clients; empty disables it")
	flags.Duration(FlagGCMaxAge, DefaultGCMaxAge, "how long a client may go unseen before registry GC prunes it")

	v.SetDefault(FlagListen, DefaultListen)
	v.SetDefault(FlagPortFile, DefaultPortFile)
	v.SetDefault(FlagStorageDir, DefaultStorageDir)
	v.SetDefault(FlagDBPath, DefaultDBPath)
	v.SetDefault(FlagGCMaxAge, DefaultGCMaxAge)

	for _, name := range []string{FlagListen, FlagPortFile, FlagStorageDir, FlagDBPath, FlagMetricsAddr, FlagGCSchedule, FlagGCMaxAge} {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			return err
		}
		if err := v.BindEnv(name, envVarName(name)); err != nil {
			return err
		}
	}
	return nil
}

func envVarName(flag string) string {
	out := make([]byte, 0, len(envPrefix)+len(flag))
	out = append(out, envPrefix...)
	for _, r := range flag {
		if r == '-' {
			out = append(out, '_')
			continue
		}
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		out = append(out, byte(r))
	}
	return string(out)
}

// Load reads the bound values out of v into a Config. When the resolved
// listen address equals DefaultListen and a port file (port.info, one line
// holding the listen port) is present, the file supplies the port. A
// --listen flag or environment variable naming any other address wins over
// the file; one that names DefaultListen itself is not told apart from the
// default, so the port file still applies.
func Load(v *viper.Viper) Config {
	cfg := Config{
		ListenAddr:  v.GetString(FlagListen),
		StorageDir:  v.GetString(FlagStorageDir),
		DBPath:      v.GetString(FlagDBPath),
		MetricsAddr: v.GetString(FlagMetricsAddr),
		GCSchedule:  v.GetString(FlagGCSchedule),
		GCMaxAge:    v.GetDuration(FlagGCMaxAge),
	}
	if cfg.ListenAddr == DefaultListen {
		if port, err := readPortFile(v.GetString(FlagPortFile)); err == nil {
			cfg.ListenAddr = ":" + strconv.Itoa(port)
		}
	}
	return cfg
}

// readPortFile parses a single-line port file. Missing and malformed files
// are both reported as errors; Load treats either as "no port file."
func readPortFile(path string) (int, error) {
	if path == "" {
		return 0, errors.New("serverconfig: no port file configured")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrap(err, "serverconfig: read port file")
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(raw)), "\n")
	port, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || port < 1 || port > 65535 {
		return 0, errors.Errorf("serverconfig: %s does not contain a valid port", path)
	}
	return port, nil
}

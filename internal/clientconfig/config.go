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

// Package clientconfig resolves the backup client's configuration. The
// transfer target (server address, display name, file to send) comes from
// transfer.info by default, with command line flags as explicit
// overrides; the identity directory holding me.info/priv.key/transfer.info
// is itself flag- and env-configurable, following the same
// flag-then-env-then-default precedence as the server (BindEnv per flag).
package clientconfig

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/backube/cryptobackup/internal/identity"
)

// Flag names.
const (
	FlagIdentityDir = "identity-dir"
	FlagServerAddr  = "server"
	FlagName        = "name"
	FlagFile        = "file"

	envPrefix = "CRYPTOBACKUP_"
)

// DefaultIdentityDir is where me.info, priv.key, and transfer.info are read
// from and written to when no override is given.
const DefaultIdentityDir = "."

// Config is the client's fully resolved configuration for a single run.
type Config struct {
	ServerAddr  string
	DisplayName string
	FilePath    string

	MeInfoPath       string
	PrivKeyPath      string
	TransferInfoPath string
}

// BindFlags registers the client's flags on flags and binds the identity
// directory into v with its environment-variable fallback. ServerAddr,
// Name, and File are left unbound from viper: they are pure overrides of
// transfer.info, and Resolve only consults them when the flag was actually
// set on the command line.
func BindFlags(flags *pflag.FlagSet, v *viper.Viper) error {
	flags.String(FlagIdentityDir, DefaultIdentityDir, "directory holding me.info, priv.key, and transfer.info")
	flags.String(FlagServerAddr, "", "override the server address from transfer.info (host:port)")
	flags.String(FlagName, "", "override the display name from transfer.info")
	flags.String(FlagFile, "", "override the file path from transfer.info")

	v.SetDefault(FlagIdentityDir, DefaultIdentityDir)
	if err := v.BindPFlag(FlagIdentityDir, flags.Lookup(FlagIdentityDir)); err != nil {
		return err
	}
	return v.BindEnv(FlagIdentityDir, envPrefix+"IDENTITY_DIR")
}

// Resolve builds a Config from transfer.info (if present) overlaid with any
// flags the caller actually set. It is not an error for transfer.info to be
// absent as long as server, name, and file were all given as flags.
func Resolve(flags *pflag.FlagSet, v *viper.Viper) (Config, error) {
	identityDir := v.GetString(FlagIdentityDir)
	cfg := Config{
		MeInfoPath:       filepath.Join(identityDir, "me.info"),
		PrivKeyPath:      filepath.Join(identityDir, "priv.key"),
		TransferInfoPath: filepath.Join(identityDir, "transfer.info"),
	}

	if identity.Exists(cfg.TransferInfoPath) {
		t, err := identity.LoadTransfer(cfg.TransferInfoPath)
		if err != nil {
			return Config{}, errors.Wrap(err, "clientconfig: load transfer.info")
		}
		cfg.ServerAddr = t.ServerAddr
		cfg.DisplayName = t.DisplayName
		cfg.FilePath = t.FilePath
	}

	if flags.Changed(FlagServerAddr) {
		cfg.ServerAddr, _ = flags.GetString(FlagServerAddr)
	}
	if flags.Changed(FlagName) {
		cfg.DisplayName, _ = flags.GetString(FlagName)
	}
	if flags.Changed(FlagFile) {
		cfg.FilePath, _ = flags.GetString(FlagFile)
	}

	if cfg.ServerAddr == "" {
		return Config{}, errors.New("clientconfig: no server address (set transfer.info or --server)")
	}
	if cfg.DisplayName == "" {
		return Config{}, errors.New("clientconfig: no display name (set transfer.info or --name)")
	}
	if cfg.FilePath == "" {
		return Config{}, errors.New("clientconfig: no file path (set transfer.info or --file)")
	}
	return cfg, nil
}

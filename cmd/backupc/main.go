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

package main

import (
	goflag "flag"
	"fmt"
	"net"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/backube/cryptobackup/internal/apperrors"
	"github.com/backube/cryptobackup/internal/clientconfig"
	"github.com/backube/cryptobackup/internal/clientengine"
	"github.com/backube/cryptobackup/internal/framer"
	"github.com/backube/cryptobackup/internal/protocol"
)

var backupcVersion = "0.0.0"

var setupLog = ctrl.Log.WithName("setup")

var zapOpts = zap.Options{
	Development: true,
	TimeEncoder: zapcore.ISO8601TimeEncoder,
}

var rootCmd = &cobra.Command{
	Use:     "backupc",
	Short:   "Uploads a file to an encrypted backup server",
	Version: backupcVersion,
}

func init() {
	rootCmd.RunE = runClient

	goFlags := goflag.NewFlagSet("zap", goflag.ContinueOnError)
	zapOpts.BindFlags(goFlags)
	rootCmd.PersistentFlags().AddGoFlagSet(goFlags)

	if err := clientconfig.BindFlags(rootCmd.Flags(), viper.GetViper()); err != nil {
		fmt.Fprintf(os.Stderr, "unable to bind flags: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&zapOpts)))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(apperrors.ClientExitCode(err))
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	cfg, err := clientconfig.Resolve(rootCmd.Flags(), viper.GetViper())
	if err != nil {
		return apperrors.Wrap(apperrors.KindConfigError, err, "client: resolve configuration")
	}

	setupLog.Info(fmt.Sprintf("Go Version: %s", runtime.Version()))
	setupLog.Info(fmt.Sprintf("Go OS/Arch: %s/%s", runtime.GOOS, runtime.GOARCH))
	setupLog.Info(fmt.Sprintf("Client Version: %s", backupcVersion))
	setupLog.Info("connecting", "server", cfg.ServerAddr, "name", cfg.DisplayName, "file", cfg.FilePath)

	conn, err := net.Dial("tcp", cfg.ServerAddr)
	if err != nil {
		return apperrors.Wrap(apperrors.KindIoError, err, fmt.Sprintf("client: dial %s", cfg.ServerAddr))
	}
	defer conn.Close()

	codec := protocol.NewCodec(framer.New(conn))
	eng := clientengine.New(codec, ctrl.Log.WithName("engine"), clientengine.Paths{
		MeInfo:  cfg.MeInfoPath,
		PrivKey: cfg.PrivKeyPath,
	})

	if err := eng.Run(cfg.DisplayName, cfg.FilePath); err != nil {
		return err
	}
	setupLog.Info("upload complete")
	return nil
}

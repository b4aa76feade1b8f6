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
	"context"
	goflag "flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/backube/cryptobackup/internal/gc"
	"github.com/backube/cryptobackup/internal/registry"
	"github.com/backube/cryptobackup/internal/server"
	"github.com/backube/cryptobackup/internal/serverconfig"
)

var backupdVersion = "0.0.0"

var setupLog = ctrl.Log.WithName("setup")

var zapOpts = zap.Options{
	Development: true,
	TimeEncoder: zapcore.ISO8601TimeEncoder,
}

var rootCmd = &cobra.Command{
	Use:     "backupd",
	Short:   "Runs the encrypted backup server",
	Version: backupdVersion,
	RunE:    runServer,
}

func init() {
	goFlags := goflag.NewFlagSet("zap", goflag.ContinueOnError)
	zapOpts.BindFlags(goFlags)
	rootCmd.PersistentFlags().AddGoFlagSet(goFlags)

	if err := serverconfig.BindFlags(rootCmd.Flags(), viper.GetViper()); err != nil {
		fmt.Fprintf(os.Stderr, "unable to bind flags: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&zapOpts)))
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		setupLog.V(1).Info(fmt.Sprintf(format, args...))
	})); err != nil {
		setupLog.Error(err, "unable to set GOMAXPROCS")
	}
	cobra.CheckErr(rootCmd.Execute())
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg := serverconfig.Load(viper.GetViper())

	setupLog.Info(fmt.Sprintf("Go Version: %s", runtime.Version()))
	setupLog.Info(fmt.Sprintf("Go OS/Arch: %s/%s", runtime.GOOS, runtime.GOARCH))
	setupLog.Info(fmt.Sprintf("Server Version: %s", backupdVersion))
	setupLog.Info("starting",
		"listen", cfg.ListenAddr, "storageDir", cfg.StorageDir, "dbPath", cfg.DBPath)

	reg, err := registry.Open(cfg.DBPath, ctrl.Log.WithName("registry"))
	if err != nil {
		return fmt.Errorf("opening registry: %w", err)
	}
	defer reg.Close()

	if err := os.MkdirAll(cfg.StorageDir, 0o750); err != nil {
		return fmt.Errorf("creating storage directory: %w", err)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.ListenAddr, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.GCSchedule != "" {
		pruner := &gc.Pruner{Registry: reg, Log: ctrl.Log.WithName("gc"), MaxAge: cfg.GCMaxAge}
		cronJob, err := gc.Start(cfg.GCSchedule, pruner)
		if err != nil {
			return fmt.Errorf("starting registry gc: %w", err)
		}
		defer cronJob.Stop()
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(server.Registry, promhttp.HandlerOpts{}))
		metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				setupLog.Error(err, "metrics server stopped unexpectedly")
			}
		}()
		go func() {
			<-ctx.Done()
			_ = metricsSrv.Close()
		}()
		setupLog.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	acc := &server.Acceptor{
		Listener:   ln,
		Registry:   reg,
		StorageDir: cfg.StorageDir,
		Log:        ctrl.Log.WithName("acceptor"),
	}
	if err := acc.Serve(ctx); err != nil {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

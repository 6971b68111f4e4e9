package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/davidsansome/tsurukame/internal/daemon"
	"github.com/davidsansome/tsurukame/internal/dashboard"
	"github.com/davidsansome/tsurukame/internal/reachability"
)

var daemonLogFile string

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync daemon",
	Long: `Run the sync daemon in the foreground.

The daemon:
  1. Runs a full sync immediately, then on every sync_interval
  2. Probes network reachability and quick-syncs when it returns
  3. Reloads the config file on change (API token takes effect live)
  4. Optionally serves a WebSocket dashboard (set dashboard_addr)

Logs go to stderr, or to a rotating file with --log-file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var out io.Writer = os.Stderr
		if daemonLogFile != "" {
			out = &lumberjack.Logger{
				Filename:   daemonLogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
			}
		}
		logger := log.New(out, "[tsurukame] ", log.LstdFlags)

		a, err := openApp(logger)
		if err != nil {
			return err
		}
		defer a.close()

		if daemonLogFile == "" && a.cfg.LogFile != "" {
			logger.SetOutput(&lumberjack.Logger{
				Filename:   a.cfg.LogFile,
				MaxSize:    10,
				MaxBackups: 3,
				MaxAge:     28,
			})
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		monitor := reachability.NewMonitor(reachability.Config{
			Address: a.cfg.ProbeAddress,
			Logger:  logger,
		})
		monitor.Start(ctx)
		defer monitor.Stop()

		dcfg := daemon.DefaultConfig()
		dcfg.SyncInterval = a.cfg.SyncInterval
		dcfg.Logger = logger
		d, err := daemon.New(a.engine, a.client, monitor, dcfg)
		if err != nil {
			return err
		}

		a.loader.OnReload(d.OnConfigReload)
		a.loader.Watch()

		var dash *dashboard.Server
		if a.cfg.DashboardAddr != "" {
			dash, err = dashboard.NewServer(a.db, a.notifier, a.engine.Busy, &dashboard.Config{
				Addr:   a.cfg.DashboardAddr,
				Logger: logger,
			})
			if err != nil {
				return err
			}
			if err := dash.Start(); err != nil {
				return err
			}
			defer func() {
				if err := dash.Stop(); err != nil {
					logger.Printf("Dashboard stop: %v", err)
				}
			}()
		}

		if err := d.Start(ctx); err != nil {
			return fmt.Errorf("failed to start daemon: %w", err)
		}
		defer d.Stop()

		<-ctx.Done()
		logger.Println("Shutting down")
		return nil
	},
}

func init() {
	daemonCmd.Flags().StringVar(&daemonLogFile, "log-file", "", "write logs to this file with rotation")
	rootCmd.AddCommand(daemonCmd)
}

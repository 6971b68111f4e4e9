package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var syncQuick bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a sync now",
	Long: `Run a single sync against the WaniKani API.

A full sync:
  1. Sends queued lesson/review results and study material edits
  2. Pulls assignments modified since the last sync
  3. Pulls study materials modified since the last sync
  4. Refreshes user info and level progressions

With --quick only steps 1 and 2 run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.New(os.Stderr, "[sync] ", log.LstdFlags)
		a, err := openApp(logger)
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if syncQuick {
			err = a.engine.SyncQuick(ctx)
		} else {
			err = a.engine.Sync(ctx)
		}
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncQuick, "quick", false, "sync outbound queue and assignments only")
	rootCmd.AddCommand(syncCmd)
}

// Command tsurukame keeps a local WaniKani cache in sync.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/davidsansome/tsurukame/internal/api"
	"github.com/davidsansome/tsurukame/internal/config"
	"github.com/davidsansome/tsurukame/internal/notify"
	"github.com/davidsansome/tsurukame/internal/store"
	syncer "github.com/davidsansome/tsurukame/internal/sync"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tsurukame",
	Short: "Local caching client for WaniKani",
	Long: `Tsurukame keeps an offline-first local copy of your WaniKani
assignments, study materials and user info, and queues lesson and review
results for delivery when the network allows.

Set your API token in the config file or via TSURUKAME_API_TOKEN.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
}

// app bundles the wired-up components most commands need.
type app struct {
	cfg      *config.Config
	loader   *config.Loader
	db       *store.Store
	client   *api.Client
	notifier *notify.Notifier
	engine   *syncer.Engine
}

func openApp(logger *log.Logger) (*app, error) {
	loader, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg := loader.Current()

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	client, err := api.New(api.Config{
		Token:   cfg.APIToken,
		Timeout: cfg.RequestTimeout,
		Logger:  logger,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	notifier := notify.New()
	engine, err := syncer.New(syncer.Config{
		Store:     db,
		Client:    client,
		Notifier:  notifier,
		AutoFlush: true,
		Logger:    logger,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		loader:   loader,
		db:       db,
		client:   client,
		notifier: notifier,
		engine:   engine,
	}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: closing database: %v\n", err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

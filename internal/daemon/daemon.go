// Package daemon runs background synchronization.
//
// The daemon:
// 1. Runs a full sync on a fixed schedule
// 2. Runs a quick sync when network connectivity returns
// 3. Picks up API token changes from config reloads
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/davidsansome/tsurukame/internal/api"
	"github.com/davidsansome/tsurukame/internal/config"
	syncer "github.com/davidsansome/tsurukame/internal/sync"
)

// Config holds daemon settings.
type Config struct {
	// SyncInterval is how often a full sync runs.
	SyncInterval time.Duration

	// SyncTimeout bounds a single sync run.
	SyncTimeout time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval: time.Hour,
		SyncTimeout:  10 * time.Minute,
		Logger:       log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Reachability is the connectivity surface the daemon consumes.
type Reachability interface {
	IsReachable() bool
	OnChange(fn func(reachable bool))
}

// Daemon schedules sync runs against the engine.
type Daemon struct {
	engine *syncer.Engine
	client *api.Client
	reach  Reachability
	config *Config

	scheduler *gocron.Scheduler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Daemon. Use Start to begin scheduling.
func New(engine *syncer.Engine, client *api.Client, reach Reachability, cfg *Config) (*Daemon, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.SyncInterval < time.Minute {
		return nil, fmt.Errorf("sync interval too short: %s", cfg.SyncInterval)
	}

	return &Daemon{
		engine:    engine,
		client:    client,
		reach:     reach,
		config:    cfg,
		scheduler: gocron.NewScheduler(time.UTC),
	}, nil
}

// Start begins scheduled syncing. An immediate full sync runs first,
// then one every SyncInterval. Returns once the schedule is running.
func (d *Daemon) Start(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.config.Logger.Printf("Starting daemon, sync interval %s", d.config.SyncInterval)

	if _, err := d.scheduler.Every(d.config.SyncInterval).Do(d.runSync); err != nil {
		return fmt.Errorf("failed to schedule sync: %w", err)
	}
	d.scheduler.StartAsync()

	if d.reach != nil {
		d.reach.OnChange(func(reachable bool) {
			if !reachable {
				return
			}
			d.config.Logger.Println("Network regained, running quick sync")
			d.runQuickSync()
		})
	}

	return nil
}

// Stop halts scheduling and waits for in-flight runs started by the
// daemon to finish.
func (d *Daemon) Stop() {
	d.config.Logger.Println("Stopping daemon")
	d.scheduler.Stop()
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// OnConfigReload applies a reloaded configuration. Only the API token
// takes effect without a restart.
func (d *Daemon) OnConfigReload(cfg *config.Config) {
	if d.client == nil {
		return
	}
	if err := d.client.UpdateToken(cfg.APIToken); err != nil {
		d.config.Logger.Printf("Config reload: rejected API token: %v", err)
		return
	}
	d.config.Logger.Println("Config reload: API token updated")
}

func (d *Daemon) runSync() {
	if d.reach != nil && !d.reach.IsReachable() {
		d.config.Logger.Println("Skipping sync, network unreachable")
		return
	}
	ctx, cancel := context.WithTimeout(d.ctx, d.config.SyncTimeout)
	defer cancel()
	if err := d.engine.Sync(ctx); err != nil {
		d.config.Logger.Printf("Sync failed: %v", err)
	}
}

func (d *Daemon) runQuickSync() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(d.ctx, d.config.SyncTimeout)
		defer cancel()
		if err := d.engine.SyncQuick(ctx); err != nil {
			d.config.Logger.Printf("Quick sync failed: %v", err)
		}
	}()
}

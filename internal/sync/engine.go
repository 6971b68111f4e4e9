// Package sync orchestrates the two-phase synchronization between the
// local store and the remote service: drain the pending outbound queue,
// pull incremental updates, merge them into the store, and notify
// observers.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/davidsansome/tsurukame/internal/api"
	"github.com/davidsansome/tsurukame/internal/notify"
	"github.com/davidsansome/tsurukame/internal/srs"
	"github.com/davidsansome/tsurukame/internal/store"
)

// ProgressFunc receives coarse sync progress in [0, 1].
type ProgressFunc func(float64)

// Config holds the collaborators an Engine needs.
type Config struct {
	Store    *store.Store
	Client   RemoteClient
	Notifier *notify.Notifier

	// OnProgress, when set, is called with incremental progress during a
	// sync.
	OnProgress ProgressFunc

	// AutoFlush makes SubmitProgress and SetStudyMaterial kick off an
	// asynchronous outbound flush after the local write.
	AutoFlush bool

	// Logger for sync activity. Nil means a default stderr logger.
	Logger *log.Logger
}

// Engine coordinates outbound flush and inbound incremental pull. At most
// one sync is in flight at a time: a trigger arriving while one is
// running is a no-op. A sync is never cancelled mid-flight; logout
// discards the engine and clears storage instead.
type Engine struct {
	store      *store.Store
	client     RemoteClient
	notifier   *notify.Notifier
	onProgress ProgressFunc
	autoFlush  bool
	logger     *log.Logger

	busy atomic.Bool
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if cfg.Notifier == nil {
		return nil, fmt.Errorf("notifier cannot be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Engine{
		store:      cfg.Store,
		client:     cfg.Client,
		notifier:   cfg.Notifier,
		onProgress: cfg.OnProgress,
		autoFlush:  cfg.AutoFlush,
		logger:     logger,
	}, nil
}

// Busy reports whether a sync is currently in flight.
func (e *Engine) Busy() bool {
	return e.busy.Load()
}

// errAuth marks an authentication rejection: the whole sync aborts and
// EventUnauthorized fires.
var errAuth = errors.New("authentication rejected")

// Sync runs a full two-phase sync: flush the outbound queue, then pull
// assignments, study materials, user info and level progressions modified
// since the stored cursors. Returns nil without doing anything if a sync
// is already in flight.
//
// Network failures abort the phase that hit them and are retried on the
// next sync; the error is returned for observability but callers need not
// act on it.
func (e *Engine) Sync(ctx context.Context) error {
	return e.run(ctx, false)
}

// SyncQuick flushes the outbound queue and pulls recently changed
// assignments only, for low-latency foreground refresh.
func (e *Engine) SyncQuick(ctx context.Context) error {
	return e.run(ctx, true)
}

func (e *Engine) run(ctx context.Context, quick bool) error {
	if !e.busy.CompareAndSwap(false, true) {
		return nil
	}
	defer e.busy.Store(false)

	coalescer := notify.NewCoalescer(e.notifier)
	defer coalescer.Flush()

	tracker := newTracker(e.onProgress, 5)
	if quick {
		tracker = newTracker(e.onProgress, 3)
	}

	// Outbound phase. A network failure leaves the rest of the queue for
	// the next sync but the inbound phase still runs; an auth rejection
	// aborts everything.
	if err := e.flushOutbound(ctx, coalescer, tracker); err != nil {
		if errors.Is(err, errAuth) {
			coalescer.Add(notify.EventUnauthorized)
			return err
		}
		e.logger.Printf("Outbound flush incomplete: %v", err)
	}

	// Inbound phase. Each page merges immediately so partial progress
	// survives a mid-sync failure; cursors advance per collection only
	// after its merge commits.
	if err := e.pullAssignments(ctx, coalescer); err != nil {
		if api.IsUnauthorized(err) {
			coalescer.Add(notify.EventUnauthorized)
		}
		return err
	}
	tracker.step()

	if quick {
		return nil
	}

	if err := e.pullStudyMaterials(ctx); err != nil {
		return err
	}
	tracker.step()

	if err := e.pullUserInfo(ctx, coalescer); err != nil {
		if api.IsUnauthorized(err) {
			coalescer.Add(notify.EventUnauthorized)
		}
		return err
	}
	if err := e.pullLevelProgressions(ctx); err != nil {
		// Level progressions are statistics only; their failure doesn't
		// fail the sync.
		e.logger.Printf("Fetching level progressions failed: %v", err)
	}
	tracker.step()

	return nil
}

// flushOutbound sends queued progress records in enqueue order, then
// pending study material edits. Confirmed records are dequeued one at a
// time so a crash mid-flush resends only the unconfirmed remainder.
func (e *Engine) flushOutbound(ctx context.Context, coalescer *notify.Coalescer, tracker *tracker) error {
	sent := 0
	err := e.store.ForEachPendingProgress(ctx, func(p *srs.Progress) error {
		if err := e.client.SendProgress(ctx, p); err != nil {
			if api.IsUnauthorized(err) {
				return fmt.Errorf("%w: %v", errAuth, err)
			}
			if api.IsInvalid(err) {
				// The server is telling us this record can never be
				// accepted. Drop it rather than retry forever.
				e.logger.Printf("Dropping invalid progress for subject %d: %v", p.SubjectID, err)
				if derr := e.store.DequeueProgress(ctx, p.LocalID); derr != nil {
					return derr
				}
				coalescer.Add(notify.EventPendingItemsChanged)
				return nil
			}
			return fmt.Errorf("sending progress for subject %d: %w", p.SubjectID, err)
		}
		if err := e.store.DequeueProgress(ctx, p.LocalID); err != nil {
			return err
		}
		sent++
		coalescer.Add(notify.EventPendingItemsChanged)
		return nil
	})
	tracker.step()
	if err != nil {
		return err
	}
	if sent > 0 {
		e.logger.Printf("Sent %d pending progress records", sent)
	}

	materials, err := e.store.PendingStudyMaterials(ctx)
	if err != nil {
		return err
	}
	for _, m := range materials {
		if err := e.client.UpdateStudyMaterial(ctx, m); err != nil {
			if api.IsUnauthorized(err) {
				tracker.step()
				return fmt.Errorf("%w: %v", errAuth, err)
			}
			tracker.step()
			return fmt.Errorf("updating study material for subject %d: %w", m.SubjectID, err)
		}
		if err := e.store.ClearStudyMaterialPending(ctx, m.SubjectID); err != nil {
			tracker.step()
			return err
		}
		coalescer.Add(notify.EventPendingItemsChanged)
	}
	tracker.step()
	return nil
}

func (e *Engine) pullAssignments(ctx context.Context, coalescer *notify.Coalescer) error {
	cursor, err := e.store.AssignmentsUpdatedAfter(ctx)
	if err != nil {
		return err
	}

	merged := 0
	updatedAt, err := e.client.Assignments(ctx, cursor, func(page []*srs.Assignment) error {
		if len(page) == 0 {
			return nil
		}
		if err := e.store.UpsertAssignments(ctx, page); err != nil {
			return err
		}
		merged += len(page)
		coalescer.Add(notify.EventAvailableItemsChanged)
		coalescer.Add(notify.EventSRSStageCountsChanged)
		return nil
	})
	if err != nil {
		return fmt.Errorf("fetching assignments: %w", err)
	}
	if updatedAt != "" && updatedAt != cursor {
		if err := e.store.SetAssignmentsUpdatedAfter(ctx, updatedAt); err != nil {
			return err
		}
	}
	if merged > 0 {
		e.logger.Printf("Merged %d assignments at %s", merged, updatedAt)
	}
	return nil
}

func (e *Engine) pullStudyMaterials(ctx context.Context) error {
	cursor, err := e.store.StudyMaterialsUpdatedAfter(ctx)
	if err != nil {
		return err
	}

	merged := 0
	updatedAt, err := e.client.StudyMaterials(ctx, cursor, func(page []*srs.StudyMaterial) error {
		if len(page) == 0 {
			return nil
		}
		if err := e.store.UpsertStudyMaterials(ctx, page); err != nil {
			return err
		}
		merged += len(page)
		return nil
	})
	if err != nil {
		return fmt.Errorf("fetching study materials: %w", err)
	}
	if updatedAt != "" && updatedAt != cursor {
		if err := e.store.SetStudyMaterialsUpdatedAfter(ctx, updatedAt); err != nil {
			return err
		}
	}
	if merged > 0 {
		e.logger.Printf("Merged %d study materials at %s", merged, updatedAt)
	}
	return nil
}

func (e *Engine) pullUserInfo(ctx context.Context, coalescer *notify.Coalescer) error {
	user, err := e.client.User(ctx)
	if err != nil {
		return fmt.Errorf("fetching user info: %w", err)
	}
	if err := e.store.SetUser(ctx, user); err != nil {
		return err
	}
	coalescer.Add(notify.EventUserInfoChanged)
	coalescer.Add(notify.EventAvailableItemsChanged)
	e.logger.Printf("Got user info: %s level %d", user.Username, user.Level)
	return nil
}

func (e *Engine) pullLevelProgressions(ctx context.Context) error {
	levels, _, err := e.client.LevelProgressions(ctx, "")
	if err != nil {
		return err
	}
	return e.store.UpsertLevelProgressions(ctx, levels)
}

// SubmitProgress records a completed lesson or review. The queue write is
// synchronous and its failure is surfaced immediately; the flush to the
// server happens in the background and retries until confirmed.
func (e *Engine) SubmitProgress(ctx context.Context, p *srs.Progress) error {
	if err := e.store.EnqueueProgress(ctx, p); err != nil {
		return err
	}
	e.notifier.Post(notify.EventPendingItemsChanged)
	e.notifier.Post(notify.EventAvailableItemsChanged)
	e.notifier.Post(notify.EventSRSStageCountsChanged)

	if e.autoFlush {
		go e.flushAsync()
	}
	return nil
}

// SetStudyMaterial records a local study material edit and queues it for
// upload.
func (e *Engine) SetStudyMaterial(ctx context.Context, m *srs.StudyMaterial) error {
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now()
	}
	if err := e.store.SetStudyMaterial(ctx, m); err != nil {
		return err
	}
	e.notifier.Post(notify.EventPendingItemsChanged)

	if e.autoFlush {
		go e.flushAsync()
	}
	return nil
}

// flushAsync runs an outbound-only pass unless a sync is already in
// flight, in which case that sync will pick the records up.
func (e *Engine) flushAsync() {
	if !e.busy.CompareAndSwap(false, true) {
		return
	}
	defer e.busy.Store(false)

	coalescer := notify.NewCoalescer(e.notifier)
	defer coalescer.Flush()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := e.flushOutbound(ctx, coalescer, newTracker(nil, 2)); err != nil {
		if errors.Is(err, errAuth) {
			coalescer.Add(notify.EventUnauthorized)
		}
		e.logger.Printf("Background flush incomplete: %v", err)
	}
}

// tracker reports coarse progress as equal-weight steps.
type tracker struct {
	fn    ProgressFunc
	done  int
	total int
}

func newTracker(fn ProgressFunc, total int) *tracker {
	t := &tracker{fn: fn, total: total}
	t.report()
	return t
}

func (t *tracker) step() {
	if t.done < t.total {
		t.done++
	}
	t.report()
}

func (t *tracker) report() {
	if t.fn != nil && t.total > 0 {
		t.fn(float64(t.done) / float64(t.total))
	}
}

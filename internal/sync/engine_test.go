package sync

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidsansome/tsurukame/internal/api"
	"github.com/davidsansome/tsurukame/internal/notify"
	"github.com/davidsansome/tsurukame/internal/srs"
	"github.com/davidsansome/tsurukame/internal/store"
)

// fakeClient is an in-memory RemoteClient with per-call error injection.
type fakeClient struct {
	assignments    []*srs.Assignment
	assignmentsAt  string
	materials      []*srs.StudyMaterial
	materialsAt    string
	levels         []*srs.LevelProgression
	user           *srs.User
	sendErr        func(p *srs.Progress) error
	updateErr      error
	userErr        error
	assignmentsErr error

	sentProgress     []*srs.Progress
	sentMaterials    []*srs.StudyMaterial
	gotAssignmentsAt []string
	userCalls        int
	materialCalls    int
}

func (f *fakeClient) Assignments(ctx context.Context, updatedAfter string, onPage func([]*srs.Assignment) error) (string, error) {
	f.gotAssignmentsAt = append(f.gotAssignmentsAt, updatedAfter)
	if f.assignmentsErr != nil {
		return "", f.assignmentsErr
	}
	if len(f.assignments) > 0 {
		if err := onPage(f.assignments); err != nil {
			return f.assignmentsAt, err
		}
	}
	return f.assignmentsAt, nil
}

func (f *fakeClient) StudyMaterials(ctx context.Context, updatedAfter string, onPage func([]*srs.StudyMaterial) error) (string, error) {
	f.materialCalls++
	if len(f.materials) > 0 {
		if err := onPage(f.materials); err != nil {
			return f.materialsAt, err
		}
	}
	return f.materialsAt, nil
}

func (f *fakeClient) LevelProgressions(ctx context.Context, updatedAfter string) ([]*srs.LevelProgression, string, error) {
	return f.levels, "", nil
}

func (f *fakeClient) User(ctx context.Context) (*srs.User, error) {
	f.userCalls++
	if f.userErr != nil {
		return nil, f.userErr
	}
	if f.user != nil {
		return f.user, nil
	}
	return &srs.User{Username: "test", Level: 60, UpdatedAt: time.Now()}, nil
}

func (f *fakeClient) SendProgress(ctx context.Context, p *srs.Progress) error {
	if f.sendErr != nil {
		if err := f.sendErr(p); err != nil {
			return err
		}
	}
	f.sentProgress = append(f.sentProgress, p)
	return nil
}

func (f *fakeClient) UpdateStudyMaterial(ctx context.Context, m *srs.StudyMaterial) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.sentMaterials = append(f.sentMaterials, m)
	return nil
}

func newTestEngine(t *testing.T, client RemoteClient) (*Engine, *store.Store, *notify.Notifier) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	notifier := notify.New()
	engine, err := New(Config{
		Store:    db,
		Client:   client,
		Notifier: notifier,
		Logger:   log.New(os.Stderr, "[test] ", log.LstdFlags),
	})
	require.NoError(t, err)
	return engine, db, notifier
}

func testAssignment(subjectID int64, stage srs.Stage, updatedAt time.Time) *srs.Assignment {
	started := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &srs.Assignment{
		ID:          subjectID * 100,
		SubjectID:   subjectID,
		SubjectType: srs.SubjectKanji,
		Level:       1,
		SRSStage:    stage,
		UnlockedAt:  started,
		UpdatedAt:   updatedAt,
	}
	if stage > srs.StageInitiate {
		a.StartedAt = started
		a.AvailableAt = started.Add(4 * time.Hour)
	}
	return a
}

func collectEvents(ch chan notify.Event) map[notify.Event]int {
	events := map[notify.Event]int{}
	for {
		select {
		case ev := <-ch:
			events[ev]++
		case <-time.After(100 * time.Millisecond):
			return events
		}
	}
}

func TestFullSyncMergesAndAdvancesCursor(t *testing.T) {
	now := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	client := &fakeClient{
		assignments:   []*srs.Assignment{testAssignment(1, srs.StageApprentice2, now)},
		assignmentsAt: "2023-06-01T12:00:00.000000Z",
		materials: []*srs.StudyMaterial{{
			ID: 7, SubjectID: 1, MeaningNote: "note", UpdatedAt: now,
		}},
		materialsAt: "2023-06-01T12:30:00.000000Z",
	}
	engine, db, notifier := newTestEngine(t, client)
	ch := notifier.Subscribe()
	defer notifier.Unsubscribe(ch)

	ctx := context.Background()
	require.NoError(t, engine.Sync(ctx))

	a, err := db.Assignment(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, a)
	require.Equal(t, srs.StageApprentice2, a.SRSStage)

	m, err := db.StudyMaterial(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Equal(t, "note", m.MeaningNote)

	user, err := db.User(ctx)
	require.NoError(t, err)
	require.NotNil(t, user)

	cursor, err := db.AssignmentsUpdatedAfter(ctx)
	require.NoError(t, err)
	require.Equal(t, "2023-06-01T12:00:00.000000Z", cursor)
	cursor, err = db.StudyMaterialsUpdatedAfter(ctx)
	require.NoError(t, err)
	require.Equal(t, "2023-06-01T12:30:00.000000Z", cursor)

	events := collectEvents(ch)
	require.Equal(t, 1, events[notify.EventAvailableItemsChanged], "events must be coalesced")
	require.Equal(t, 1, events[notify.EventUserInfoChanged])
}

func TestSecondSyncSendsCursor(t *testing.T) {
	client := &fakeClient{assignmentsAt: "2023-06-01T12:00:00.000000Z"}
	engine, _, _ := newTestEngine(t, client)

	ctx := context.Background()
	require.NoError(t, engine.Sync(ctx))
	require.NoError(t, engine.Sync(ctx))

	require.Equal(t, []string{"", "2023-06-01T12:00:00.000000Z"}, client.gotAssignmentsAt)
}

func TestEmptyCursorNotAdvanced(t *testing.T) {
	client := &fakeClient{assignmentsAt: ""}
	engine, db, _ := newTestEngine(t, client)

	ctx := context.Background()
	require.NoError(t, engine.Sync(ctx))

	cursor, err := db.AssignmentsUpdatedAfter(ctx)
	require.NoError(t, err)
	require.Equal(t, "", cursor)
}

func TestSyncWhileBusyIsNoOp(t *testing.T) {
	client := &fakeClient{}
	engine, _, _ := newTestEngine(t, client)

	engine.busy.Store(true)
	require.True(t, engine.Busy())
	require.NoError(t, engine.Sync(context.Background()))
	require.Empty(t, client.gotAssignmentsAt, "a busy engine must not start another sync")
	engine.busy.Store(false)
}

func TestQuickSyncSkipsSecondaryCollections(t *testing.T) {
	client := &fakeClient{assignmentsAt: "2023-06-01T12:00:00.000000Z"}
	engine, _, _ := newTestEngine(t, client)

	require.NoError(t, engine.SyncQuick(context.Background()))
	require.Len(t, client.gotAssignmentsAt, 1)
	require.Zero(t, client.materialCalls)
	require.Zero(t, client.userCalls)
}

func TestSubmitProgressQueuesAndNotifies(t *testing.T) {
	client := &fakeClient{}
	engine, db, notifier := newTestEngine(t, client)
	ch := notifier.Subscribe()
	defer notifier.Unsubscribe(ch)

	ctx := context.Background()
	now := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	a := testAssignment(1, srs.StageApprentice1, now)
	require.NoError(t, db.UpsertAssignments(ctx, []*srs.Assignment{a}))

	p := srs.NewProgress(a, 0, 0, now)
	require.NoError(t, engine.SubmitProgress(ctx, p))

	count, err := db.PendingProgressCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	events := collectEvents(ch)
	require.Equal(t, 1, events[notify.EventPendingItemsChanged])
	require.Equal(t, 1, events[notify.EventSRSStageCountsChanged])
	require.Empty(t, client.sentProgress, "flush must not run inline without AutoFlush")
}

func TestOutboundFlushSendsInOrder(t *testing.T) {
	client := &fakeClient{}
	engine, db, _ := newTestEngine(t, client)
	ctx := context.Background()
	now := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)

	var localIDs []string
	for i := int64(1); i <= 3; i++ {
		p := srs.NewProgress(testAssignment(i, srs.StageApprentice1, now), 0, 0, now)
		require.NoError(t, engine.SubmitProgress(ctx, p))
		localIDs = append(localIDs, p.LocalID)
	}

	require.NoError(t, engine.Sync(ctx))
	require.Len(t, client.sentProgress, 3)
	for i, p := range client.sentProgress {
		require.Equal(t, localIDs[i], p.LocalID, "flush must preserve enqueue order")
	}
	count, err := db.PendingProgressCount(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestPartialOutboundFailureKeepsRemainder(t *testing.T) {
	now := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	netErr := errors.New("dial tcp: connection refused")
	client := &fakeClient{
		assignmentsAt: "2023-06-01T12:00:00.000000Z",
		sendErr: func(p *srs.Progress) error {
			if p.SubjectID == 2 {
				return netErr
			}
			return nil
		},
	}
	engine, db, _ := newTestEngine(t, client)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		p := srs.NewProgress(testAssignment(i, srs.StageApprentice1, now), 0, 0, now)
		require.NoError(t, engine.SubmitProgress(ctx, p))
	}

	// The failed record and everything after it stay queued; the inbound
	// phase still runs.
	require.NoError(t, engine.Sync(ctx))
	require.Len(t, client.sentProgress, 1)
	count, err := db.PendingProgressCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	cursor, err := db.AssignmentsUpdatedAfter(ctx)
	require.NoError(t, err)
	require.Equal(t, "2023-06-01T12:00:00.000000Z", cursor, "inbound cursor must still advance")

	// Once the network recovers the remainder is delivered.
	client.sendErr = nil
	require.NoError(t, engine.Sync(ctx))
	require.Len(t, client.sentProgress, 3)
	count, err = db.PendingProgressCount(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestOutboundQueueSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()
	now := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)

	db, err := store.Open(path)
	require.NoError(t, err)
	p := srs.NewProgress(testAssignment(1, srs.StageApprentice1, now), 0, 0, now)
	require.NoError(t, db.EnqueueProgress(ctx, p))
	require.NoError(t, db.Close())

	// A crash between the answer and the flush loses nothing: the first
	// sync after restart delivers the same record.
	db, err = store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	client := &fakeClient{}
	engine, err := New(Config{
		Store:    db,
		Client:   client,
		Notifier: notify.New(),
		Logger:   log.New(os.Stderr, "[test] ", log.LstdFlags),
	})
	require.NoError(t, err)

	require.NoError(t, engine.Sync(ctx))
	require.Len(t, client.sentProgress, 1)
	require.Equal(t, p.LocalID, client.sentProgress[0].LocalID)
	count, err := db.PendingProgressCount(ctx)
	require.NoError(t, err)
	require.Zero(t, count)

	// Nothing is resent once confirmed.
	require.NoError(t, engine.Sync(ctx))
	require.Len(t, client.sentProgress, 1)
}

func TestInvalidProgressDropped(t *testing.T) {
	now := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	client := &fakeClient{
		sendErr: func(p *srs.Progress) error {
			if p.SubjectID == 1 {
				return &api.StatusError{StatusCode: 422, Message: "unprocessable"}
			}
			return nil
		},
	}
	engine, db, _ := newTestEngine(t, client)
	ctx := context.Background()

	require.NoError(t, engine.SubmitProgress(ctx,
		srs.NewProgress(testAssignment(1, srs.StageApprentice1, now), 0, 0, now)))
	require.NoError(t, engine.SubmitProgress(ctx,
		srs.NewProgress(testAssignment(2, srs.StageApprentice1, now), 0, 0, now)))

	require.NoError(t, engine.Sync(ctx))

	// The rejected record is gone and the one behind it was delivered.
	require.Len(t, client.sentProgress, 1)
	require.Equal(t, int64(2), client.sentProgress[0].SubjectID)
	count, err := db.PendingProgressCount(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestUnauthorizedAbortsAndNotifies(t *testing.T) {
	now := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	client := &fakeClient{
		sendErr: func(*srs.Progress) error {
			return &api.StatusError{StatusCode: 401, Message: "unauthorized"}
		},
	}
	engine, db, notifier := newTestEngine(t, client)
	ch := notifier.Subscribe()
	defer notifier.Unsubscribe(ch)

	ctx := context.Background()
	require.NoError(t, engine.SubmitProgress(ctx,
		srs.NewProgress(testAssignment(1, srs.StageApprentice1, now), 0, 0, now)))
	collectEvents(ch) // discard the submit notifications

	require.Error(t, engine.Sync(ctx))

	// The record stays queued and nothing was pulled.
	count, err := db.PendingProgressCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Empty(t, client.gotAssignmentsAt)

	events := collectEvents(ch)
	require.Equal(t, 1, events[notify.EventUnauthorized])
}

func TestUnauthorizedDuringPullNotifies(t *testing.T) {
	client := &fakeClient{
		assignmentsErr: &api.StatusError{StatusCode: 401, Message: "unauthorized"},
	}
	engine, _, notifier := newTestEngine(t, client)
	ch := notifier.Subscribe()
	defer notifier.Unsubscribe(ch)

	require.Error(t, engine.Sync(context.Background()))
	events := collectEvents(ch)
	require.Equal(t, 1, events[notify.EventUnauthorized])
}

func TestSetStudyMaterialQueuesUpload(t *testing.T) {
	client := &fakeClient{}
	engine, db, _ := newTestEngine(t, client)
	ctx := context.Background()

	m := &srs.StudyMaterial{SubjectID: 10, MeaningNote: "mnemonic"}
	require.NoError(t, engine.SetStudyMaterial(ctx, m))
	require.False(t, m.UpdatedAt.IsZero(), "local edits get a timestamp")

	count, err := db.PendingStudyMaterialCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	require.NoError(t, engine.Sync(ctx))
	require.Len(t, client.sentMaterials, 1)
	count, err = db.PendingStudyMaterialCount(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestProgressReporting(t *testing.T) {
	var reports []float64
	client := &fakeClient{}
	db, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	engine, err := New(Config{
		Store:    db,
		Client:   client,
		Notifier: notify.New(),
		OnProgress: func(fraction float64) {
			reports = append(reports, fraction)
		},
		Logger: log.New(os.Stderr, "[test] ", log.LstdFlags),
	})
	require.NoError(t, err)

	require.NoError(t, engine.Sync(context.Background()))
	require.NotEmpty(t, reports)
	require.Zero(t, reports[0])
	require.Equal(t, 1.0, reports[len(reports)-1])
}

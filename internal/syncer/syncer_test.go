// internal/syncer/syncer_test.go
package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github-agent-sync/internal/database"
	"github-agent-sync/internal/journal"
	"github-agent-sync/internal/model"
	"github-agent-sync/internal/quota"
	"github-agent-sync/internal/testutil"
	"github-agent-sync/internal/webhook"
)

// observingRunner records the row's status as seen while the run is in flight.
type observingRunner struct {
	next   Runner
	store  *database.SQLite
	mu     sync.Mutex
	seen   []string
	scopes []Scope
}

func (r *observingRunner) Run(ctx context.Context, rs model.RepositorySync, scope Scope) (Result, error) {
	row, err := r.store.GetRepositorySyncByFullName(ctx, rs.RepositoryFullName)
	if err != nil {
		return Result{}, err
	}
	r.mu.Lock()
	r.seen = append(r.seen, row.SyncStatus)
	r.scopes = append(r.scopes, scope)
	r.mu.Unlock()
	return r.next.Run(ctx, rs, scope)
}

type funcRunner func(ctx context.Context, rs model.RepositorySync, scope Scope) (Result, error)

func (f funcRunner) Run(ctx context.Context, rs model.RepositorySync, scope Scope) (Result, error) {
	return f(ctx, rs, scope)
}

type harness struct {
	store   *database.SQLite
	journal *journal.Journal
	fetcher *testutil.FakeFetcher
	syncer  *Syncer
}

func newHarness(t *testing.T, runner func(store *database.SQLite, exec *Executor) Runner) *harness {
	t.Helper()
	store := testutil.NewSQLite(t)
	j := journal.New(store, testLogger())
	fetcher := testutil.NewFakeFetcher()
	exec := NewExecutor(store, staticFactory(fetcher, nil), &fakeBudget{budget: quota.Budget{Source: quota.SourceApp, Remaining: 5000}}, nil, 50*time.Millisecond, testLogger())

	var r Runner = exec
	if runner != nil {
		r = runner(store, exec)
	}
	return &harness{
		store:   store,
		journal: j,
		fetcher: fetcher,
		syncer:  NewSyncer(store, r, j, time.Second, testLogger()),
	}
}

func (h *harness) record(t *testing.T, ev webhook.Event) uuid.UUID {
	t.Helper()
	id, _, err := h.journal.Record(context.Background(), ev.Kind.String(), []byte(`{}`), "", ev.DeliveryID)
	require.NoError(t, err)
	return id
}

func releaseEvent(delivery string) webhook.Event {
	return webhook.Event{Kind: webhook.KindRelease, Action: "published", DeliveryID: delivery, RepositoryID: 42, RepositoryFullName: "octo/agent"}
}

func pushEvent(delivery, ref string) webhook.Event {
	return webhook.Event{Kind: webhook.KindPush, Ref: ref, DefaultBranch: "main", DeliveryID: delivery, RepositoryID: 42, RepositoryFullName: "octo/agent"}
}

func TestSyncer_ReleaseRunsMetadataOnly(t *testing.T) {
	var obs *observingRunner
	h := newHarness(t, func(store *database.SQLite, exec *Executor) Runner {
		obs = &observingRunner{next: exec, store: store}
		return obs
	})
	testutil.SeedRepositorySync(t, h.store, testutil.Repo{FullName: "octo/agent", SyncEnabled: true, AutoUpdate: true})

	ev := releaseEvent("d-1")
	payloadID := h.record(t, ev)

	outcome, err := h.syncer.Handle(context.Background(), ev, payloadID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSyncStarted, outcome)
	h.syncer.Wait()

	assert.Equal(t, []string{"syncing"}, obs.seen, "pending must pass through syncing")
	assert.Equal(t, []Scope{ScopeMetadata}, obs.scopes)
	assert.Zero(t, h.fetcher.Calls(testutil.CallReadme))

	rs := loadSync(t, h.store, "octo/agent")
	assert.Equal(t, model.SyncStatusSuccess, rs.SyncStatus)
	assert.NotNil(t, rs.LastSyncAt)
	assert.Nil(t, rs.SyncError)

	entry, err := h.journal.Lookup(context.Background(), "d-1")
	require.NoError(t, err)
	assert.True(t, entry.Processed)
	assert.Nil(t, entry.Error)
}

func TestSyncer_PushRecordsCommit(t *testing.T) {
	h := newHarness(t, nil)
	testutil.SeedRepositorySync(t, h.store, testutil.Repo{FullName: "octo/agent", SyncEnabled: true, AutoUpdate: true})
	h.fetcher.HeadSHA = "c0ffee"

	ev := pushEvent("d-1", "refs/heads/main")
	outcome, err := h.syncer.Handle(context.Background(), ev, h.record(t, ev))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSyncStarted, outcome)
	h.syncer.Wait()

	rs := loadSync(t, h.store, "octo/agent")
	assert.Equal(t, model.SyncStatusSuccess, rs.SyncStatus)
	require.NotNil(t, rs.LastCommitSHA)
	assert.Equal(t, "c0ffee", *rs.LastCommitSHA)
	assert.Zero(t, h.fetcher.Calls(testutil.CallRepository), "push never runs the metadata path")
}

func TestSyncer_BenignOutcomes(t *testing.T) {
	testCases := []struct {
		name string
		repo *testutil.Repo
		ev   webhook.Event
		want Outcome
	}{
		{
			name: "not configured",
			ev:   releaseEvent("d"),
			want: OutcomeNotConfigured,
		},
		{
			name: "sync disabled flag",
			repo: &testutil.Repo{FullName: "octo/agent", SyncEnabled: false, AutoUpdate: true},
			ev:   pushEvent("d", "refs/heads/main"),
			want: OutcomeSyncDisabled,
		},
		{
			name: "disabled status",
			repo: &testutil.Repo{FullName: "octo/agent", SyncEnabled: true, AutoUpdate: true, Status: model.SyncStatusDisabled},
			ev:   releaseEvent("d"),
			want: OutcomeSyncDisabled,
		},
		{
			name: "auto update off",
			repo: &testutil.Repo{FullName: "octo/agent", SyncEnabled: true, AutoUpdate: false},
			ev:   releaseEvent("d"),
			want: OutcomeAutoUpdateDisabled,
		},
		{
			name: "push to other branch",
			repo: &testutil.Repo{FullName: "octo/agent", SyncEnabled: true, AutoUpdate: true, Config: model.SyncConfig{Branch: "release"}},
			ev:   pushEvent("d", "refs/heads/main"),
			want: OutcomeUntrackedBranch,
		},
		{
			name: "tag push",
			repo: &testutil.Repo{FullName: "octo/agent", SyncEnabled: true, AutoUpdate: true},
			ev:   pushEvent("d", "refs/tags/v1"),
			want: OutcomeUntrackedBranch,
		},
		{
			name: "already syncing",
			repo: &testutil.Repo{FullName: "octo/agent", SyncEnabled: true, AutoUpdate: true, Status: model.SyncStatusSyncing},
			ev:   releaseEvent("d"),
			want: OutcomeInProgress,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			var before model.RepositorySync
			if tc.repo != nil {
				testutil.SeedRepositorySync(t, h.store, *tc.repo)
				before = loadSync(t, h.store, tc.repo.FullName)
			}

			outcome, err := h.syncer.Handle(context.Background(), tc.ev, h.record(t, tc.ev))
			require.NoError(t, err)
			assert.Equal(t, tc.want, outcome)
			h.syncer.Wait()

			assert.Zero(t, h.fetcher.TotalCalls())
			if tc.repo != nil {
				after := loadSync(t, h.store, tc.repo.FullName)
				assert.Equal(t, before.SyncStatus, after.SyncStatus)
				assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
			}
		})
	}
	assert.Equal(t, "Repository sync not enabled", OutcomeSyncDisabled.Message())
}

func TestSyncer_ConcurrentEventsClaimOnce(t *testing.T) {
	release := make(chan struct{})
	var runs int
	var mu sync.Mutex
	h := newHarness(t, func(store *database.SQLite, exec *Executor) Runner {
		return funcRunner(func(ctx context.Context, rs model.RepositorySync, scope Scope) (Result, error) {
			mu.Lock()
			runs++
			mu.Unlock()
			<-release
			return Result{Scope: scope}, nil
		})
	})
	testutil.SeedRepositorySync(t, h.store, testutil.Repo{FullName: "octo/agent", SyncEnabled: true, AutoUpdate: true})

	const n = 6
	outcomes := make(chan Outcome, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev := releaseEvent(uuid.NewString())
			if i%2 == 0 {
				ev.Kind, ev.Action = webhook.KindStar, "created"
			}
			id, _, err := h.journal.Record(context.Background(), ev.Kind.String(), []byte(`{}`), "", ev.DeliveryID)
			assert.NoError(t, err)
			o, err := h.syncer.Handle(context.Background(), ev, id)
			assert.NoError(t, err)
			outcomes <- o
		}()
	}
	wg.Wait()
	close(release)
	h.syncer.Wait()
	close(outcomes)

	counts := map[Outcome]int{}
	for o := range outcomes {
		counts[o]++
	}
	assert.Equal(t, 1, counts[OutcomeSyncStarted])
	assert.Equal(t, n-1, counts[OutcomeInProgress])
	assert.Equal(t, 1, runs)
}

func TestSyncer_TimeoutMarksError(t *testing.T) {
	h := newHarness(t, nil)
	h.fetcher.Hang[testutil.CallReadme] = true
	testutil.SeedRepositorySync(t, h.store, testutil.Repo{FullName: "octo/agent", SyncEnabled: true, AutoUpdate: true})

	ev := pushEvent("d-timeout", "refs/heads/main")
	outcome, err := h.syncer.Handle(context.Background(), ev, h.record(t, ev))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSyncStarted, outcome)
	h.syncer.Wait()

	rs := loadSync(t, h.store, "octo/agent")
	assert.Equal(t, model.SyncStatusError, rs.SyncStatus)
	require.NotNil(t, rs.SyncError)
	assert.Contains(t, *rs.SyncError, "timeout")

	entry, err := h.journal.Lookup(context.Background(), "d-timeout")
	require.NoError(t, err)
	assert.True(t, entry.Processed)
	require.NotNil(t, entry.Error)
	assert.Contains(t, *entry.Error, "timeout")

	// A later event retries from the error state.
	h.fetcher.Set(func(f *testutil.FakeFetcher) { f.Hang = map[string]bool{} })
	ev = pushEvent("d-retry", "refs/heads/main")
	outcome, err = h.syncer.Handle(context.Background(), ev, h.record(t, ev))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSyncStarted, outcome)
	h.syncer.Wait()
	assert.Equal(t, model.SyncStatusSuccess, loadSync(t, h.store, "octo/agent").SyncStatus)
}

func TestSyncer_RecoversPanics(t *testing.T) {
	h := newHarness(t, func(*database.SQLite, *Executor) Runner {
		return funcRunner(func(context.Context, model.RepositorySync, Scope) (Result, error) {
			panic("nil map write")
		})
	})
	testutil.SeedRepositorySync(t, h.store, testutil.Repo{FullName: "octo/agent", SyncEnabled: true, AutoUpdate: true})

	ev := releaseEvent("d-panic")
	_, err := h.syncer.Handle(context.Background(), ev, h.record(t, ev))
	require.NoError(t, err)
	h.syncer.Wait()

	rs := loadSync(t, h.store, "octo/agent")
	assert.Equal(t, model.SyncStatusError, rs.SyncStatus)
	require.NotNil(t, rs.SyncError)
	assert.Contains(t, *rs.SyncError, "nil map write")
}

func TestSyncer_RunOutlivesRequestContext(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, func(*database.SQLite, *Executor) Runner {
		return funcRunner(func(ctx context.Context, rs model.RepositorySync, scope Scope) (Result, error) {
			close(started)
			time.Sleep(20 * time.Millisecond)
			return Result{}, ctx.Err()
		})
	})
	testutil.SeedRepositorySync(t, h.store, testutil.Repo{FullName: "octo/agent", SyncEnabled: true, AutoUpdate: true})

	reqCtx, cancel := context.WithCancel(context.Background())
	ev := releaseEvent("d-bg")
	_, err := h.syncer.Handle(reqCtx, ev, h.record(t, ev))
	require.NoError(t, err)
	<-started
	cancel()
	h.syncer.Wait()

	assert.Equal(t, model.SyncStatusSuccess, loadSync(t, h.store, "octo/agent").SyncStatus)
}

func TestSyncer_ExpiredLeaseIsTakenOver(t *testing.T) {
	h := newHarness(t, nil)
	testutil.SeedRepositorySync(t, h.store, testutil.Repo{
		FullName:    "octo/agent",
		SyncEnabled: true,
		AutoUpdate:  true,
		Status:      model.SyncStatusSyncing,
	})
	// Older than the lease: the run that set syncing is gone.
	testutil.AgeRepositorySync(t, h.store, "octo/agent", h.syncer.lease()+time.Minute)

	ev := releaseEvent("d-stale")
	outcome, err := h.syncer.Handle(context.Background(), ev, h.record(t, ev))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSyncStarted, outcome)
	h.syncer.Wait()

	rs := loadSync(t, h.store, "octo/agent")
	assert.Equal(t, model.SyncStatusSuccess, rs.SyncStatus)
	assert.NotNil(t, rs.LastSyncAt)
}

func TestSyncer_LiveLeaseIsRespected(t *testing.T) {
	h := newHarness(t, nil)
	testutil.SeedRepositorySync(t, h.store, testutil.Repo{
		FullName:    "octo/agent",
		SyncEnabled: true,
		AutoUpdate:  true,
		Status:      model.SyncStatusSyncing,
	})
	testutil.AgeRepositorySync(t, h.store, "octo/agent", h.syncer.lease()/2)

	ev := releaseEvent("d-live")
	outcome, err := h.syncer.Handle(context.Background(), ev, h.record(t, ev))
	require.NoError(t, err)
	assert.Equal(t, OutcomeInProgress, outcome)
	assert.Zero(t, h.fetcher.TotalCalls())
	assert.Equal(t, model.SyncStatusSyncing, loadSync(t, h.store, "octo/agent").SyncStatus)
}

func TestSyncer_Handle_LookupError(t *testing.T) {
	ctx := context.Background()
	mockQ := new(testutil.MockQuerier)
	dbErr := errors.New("unexpected database error")
	mockQ.On("GetRepositorySyncByFullName", ctx, "octo/agent").Return(database.RepositorySync{}, dbErr).Once()

	s := NewSyncer(mockQ, nil, nil, time.Second, testLogger())
	_, err := s.Handle(ctx, releaseEvent("d"), uuid.New())

	assert.ErrorIs(t, err, dbErr)
	mockQ.AssertNotCalled(t, "ClaimRepositorySync", mock.Anything, mock.Anything)
}

func TestSyncer_Handle_ClaimLost(t *testing.T) {
	ctx := context.Background()
	mockQ := new(testutil.MockQuerier)
	mockQ.On("GetRepositorySyncByFullName", ctx, "octo/agent").
		Return(database.RepositorySync{ID: 7, RepositoryFullName: "octo/agent", SyncEnabled: true, AutoUpdate: true, SyncStatus: "success"}, nil).Once()
	mockQ.On("ClaimRepositorySync", ctx, mock.MatchedBy(func(arg database.ClaimRepositorySyncParams) bool {
		return arg.ID == 7 && arg.StaleBefore.Valid
	})).Return(database.RepositorySync{}, pgx.ErrNoRows).Once()

	s := NewSyncer(mockQ, nil, nil, time.Second, testLogger())
	outcome, err := s.Handle(ctx, releaseEvent("d"), uuid.New())

	require.NoError(t, err)
	assert.Equal(t, OutcomeInProgress, outcome)
	mockQ.AssertExpectations(t)
}

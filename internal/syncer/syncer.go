// internal/syncer/syncer.go
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github-agent-sync/internal/database"
	apperrors "github-agent-sync/internal/errors"
	"github-agent-sync/internal/model"
	"github-agent-sync/internal/webhook"
)

// finalizeTimeout bounds the status and journal writes after a run.
const finalizeTimeout = 10 * time.Second

// Outcome is the result of Handle, reported to the webhook caller.
type Outcome string

const (
	OutcomeNotConfigured      Outcome = "not_configured"
	OutcomeSyncDisabled       Outcome = "sync_disabled"
	OutcomeAutoUpdateDisabled Outcome = "auto_update_disabled"
	OutcomeUntrackedBranch    Outcome = "untracked_branch"
	OutcomeInProgress         Outcome = "in_progress"
	OutcomeSyncStarted        Outcome = "sync_started"
)

// Message is the human-readable text returned alongside the outcome code.
func (o Outcome) Message() string {
	switch o {
	case OutcomeNotConfigured:
		return "Repository is not linked to an agent"
	case OutcomeSyncDisabled:
		return "Repository sync not enabled"
	case OutcomeAutoUpdateDisabled:
		return "Automatic updates disabled for repository"
	case OutcomeUntrackedBranch:
		return "Push is not on the tracked branch"
	case OutcomeInProgress:
		return "Sync already in progress"
	case OutcomeSyncStarted:
		return "Sync started"
	}
	return string(o)
}

// Runner executes one claimed sync. *Executor is the production implementation.
type Runner interface {
	Run(ctx context.Context, rs model.RepositorySync, scope Scope) (Result, error)
}

// Finalizer records the outcome of a journaled delivery.
type Finalizer interface {
	MarkProcessed(ctx context.Context, id uuid.UUID, errMsg string) error
}

// Syncer decides whether an admitted event starts a sync and drives the run's state machine.
type Syncer struct {
	db          database.Querier
	runner      Runner
	journal     Finalizer
	logger      *slog.Logger
	syncTimeout time.Duration
	now         func() time.Time

	wg sync.WaitGroup
}

// NewSyncer creates a new Syncer instance.
func NewSyncer(db database.Querier, runner Runner, journal Finalizer, syncTimeout time.Duration, logger *slog.Logger) *Syncer {
	return &Syncer{
		db:          db,
		runner:      runner,
		journal:     journal,
		logger:      logger,
		syncTimeout: syncTimeout,
		now:         time.Now,
	}
}

// lease is how long a syncing row belongs to its run. A run that has neither completed nor
// failed by then was lost with its process, and the row may be claimed again.
func (s *Syncer) lease() time.Duration {
	return s.syncTimeout + finalizeTimeout
}

// Handle looks up the repository's sync row, claims it and starts the run in the background.
// Every outcome other than OutcomeSyncStarted leaves the row untouched and the journal entry
// for the caller to finalize.
func (s *Syncer) Handle(ctx context.Context, ev webhook.Event, payloadID uuid.UUID) (Outcome, error) {
	scope, ok := ScopeFor(ev.Kind)
	if !ok {
		return "", fmt.Errorf("event kind %q has no sync scope", ev.Kind)
	}
	logger := s.logger.With("repository", ev.RepositoryFullName, "delivery_id", ev.DeliveryID, "event", ev.Kind.String())

	row, err := s.db.GetRepositorySyncByFullName(ctx, ev.RepositoryFullName)
	if database.IsNoRows(err) {
		return OutcomeNotConfigured, nil
	}
	if err != nil {
		return "", fmt.Errorf("load repository sync: %w", err)
	}
	rs, err := row.ToModel()
	if err != nil {
		return "", err
	}

	if !rs.SyncEnabled || rs.SyncStatus == model.SyncStatusDisabled {
		return OutcomeSyncDisabled, nil
	}
	if !rs.AutoUpdate {
		return OutcomeAutoUpdateDisabled, nil
	}
	if ev.Kind == webhook.KindPush && !tracksBranch(rs.Config, ev) {
		return OutcomeUntrackedBranch, nil
	}
	staleBefore := s.now().Add(-s.lease())
	if !rs.Claimable(staleBefore) {
		return OutcomeInProgress, nil
	}
	if rs.SyncStatus == model.SyncStatusSyncing {
		logger.Warn("Taking over expired sync lease", "updated_at", rs.UpdatedAt)
	}

	claimed, err := s.db.ClaimRepositorySync(ctx, database.ClaimRepositorySyncParams{
		ID:          rs.ID,
		StaleBefore: database.ToTimestamptz(staleBefore),
	})
	if database.IsNoRows(err) {
		logger.Info("Sync already running, skipping")
		return OutcomeInProgress, nil
	}
	if err != nil {
		return "", fmt.Errorf("claim repository sync: %w", err)
	}
	claimedRS, err := claimed.ToModel()
	if err != nil {
		// The row is now syncing; release it.
		s.finish(context.WithoutCancel(ctx), logger, rs, payloadID, Result{}, err)
		return "", err
	}
	rs = claimedRS

	logger.Info("Sync claimed", "scope", scope.String(), "from_status", row.SyncStatus)
	s.wg.Add(1)
	go s.run(context.WithoutCancel(ctx), logger, rs, scope, payloadID)
	return OutcomeSyncStarted, nil
}

// tracksBranch reports whether a push lands on the configured branch, or on the
// repository's default branch when none is configured.
func tracksBranch(cfg model.SyncConfig, ev webhook.Event) bool {
	tracked := cfg.Branch
	if tracked == "" {
		tracked = ev.DefaultBranch
	}
	branch := ev.Branch()
	if branch == "" {
		return false
	}
	return tracked == "" || branch == tracked
}

func (s *Syncer) run(parent context.Context, logger *slog.Logger, rs model.RepositorySync, scope Scope, payloadID uuid.UUID) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(parent, s.syncTimeout)
	defer cancel()

	started := time.Now()
	res, err := s.safeRun(ctx, logger, rs, scope)
	logger = logger.With("duration", time.Since(started))
	s.finish(parent, logger, rs, payloadID, res, err)
}

func (s *Syncer) safeRun(ctx context.Context, logger *slog.Logger, rs model.RepositorySync, scope Scope) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Sync run panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return s.runner.Run(ctx, rs, scope)
}

// finish moves the row out of syncing and finalizes the journal entry.
func (s *Syncer) finish(parent context.Context, logger *slog.Logger, rs model.RepositorySync, payloadID uuid.UUID, res Result, runErr error) {
	ctx, cancel := context.WithTimeout(parent, finalizeTimeout)
	defer cancel()

	var journalMsg string
	if runErr != nil {
		msg := apperrors.Truncate(runErr.Error())
		journalMsg = msg
		logger.Warn("Sync failed", "error", runErr)
		if _, err := s.db.FailRepositorySync(ctx, database.FailRepositorySyncParams{
			ID:        rs.ID,
			SyncError: database.TextOrNull(msg),
		}); err != nil {
			logger.Error("Failed to record sync failure", "error", err)
		}
	} else {
		if _, err := s.db.CompleteRepositorySync(ctx, database.CompleteRepositorySyncParams{
			ID:            rs.ID,
			LastCommitSha: database.TextOrNull(res.CommitSHA),
		}); err != nil {
			logger.Error("Failed to record sync success", "error", err)
		} else {
			logger.Info("Sync completed", "commit", res.CommitSHA)
		}
	}

	if err := s.journal.MarkProcessed(ctx, payloadID, journalMsg); err != nil {
		logger.Error("Failed to finalize journal entry", "payload_id", payloadID, "error", err)
	}
}

// Wait blocks until every started run has finished.
func (s *Syncer) Wait() {
	s.wg.Wait()
}

// internal/database/retry.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

const (
	maxRetries = 3
	retryDelay = 10 * time.Millisecond
)

// IsNoRows reports whether err means the query matched nothing, for either backend.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

// isRetryableError checks if an error is safe to retry
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Connection errors before any data was sent
	if pgconn.SafeToRetry(err) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001": // serialization_failure
			return true
		case "40P01": // deadlock_detected
			return true
		case "08000", "08003", "08006": // connection errors
			return true
		}
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}

	return false
}

func withRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	for attempt := range maxRetries {
		if attempt > 0 {
			delay := retryDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(delay):
			}
		}

		var err error
		result, err = fn()
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			return result, err
		}
	}

	return result, fmt.Errorf("query failed after %d attempts: %w", maxRetries, lastErr)
}

// Retrying wraps a Querier and retries every call on transient errors.
// All queries are single statements, so a retry never replays a partial write.
type Retrying struct {
	next Querier
}

// WithRetry decorates q with transient-error retries.
func WithRetry(q Querier) *Retrying {
	return &Retrying{next: q}
}

var _ Querier = (*Retrying)(nil)

func (r *Retrying) ClaimRepositorySync(ctx context.Context, arg ClaimRepositorySyncParams) (RepositorySync, error) {
	return withRetry(ctx, func() (RepositorySync, error) { return r.next.ClaimRepositorySync(ctx, arg) })
}

func (r *Retrying) CompleteRepositorySync(ctx context.Context, arg CompleteRepositorySyncParams) (RepositorySync, error) {
	return withRetry(ctx, func() (RepositorySync, error) { return r.next.CompleteRepositorySync(ctx, arg) })
}

func (r *Retrying) FailRepositorySync(ctx context.Context, arg FailRepositorySyncParams) (RepositorySync, error) {
	return withRetry(ctx, func() (RepositorySync, error) { return r.next.FailRepositorySync(ctx, arg) })
}

func (r *Retrying) GetRepositorySyncByFullName(ctx context.Context, repositoryFullName string) (RepositorySync, error) {
	return withRetry(ctx, func() (RepositorySync, error) { return r.next.GetRepositorySyncByFullName(ctx, repositoryFullName) })
}

func (r *Retrying) GetWebhookPayloadByDeliveryID(ctx context.Context, deliveryID string) (WebhookPayload, error) {
	return withRetry(ctx, func() (WebhookPayload, error) { return r.next.GetWebhookPayloadByDeliveryID(ctx, deliveryID) })
}

func (r *Retrying) InsertWebhookPayload(ctx context.Context, arg InsertWebhookPayloadParams) (WebhookPayload, error) {
	return withRetry(ctx, func() (WebhookPayload, error) { return r.next.InsertWebhookPayload(ctx, arg) })
}

func (r *Retrying) ListUnprocessedWebhookPayloads(ctx context.Context, limit int32) ([]WebhookPayload, error) {
	return withRetry(ctx, func() ([]WebhookPayload, error) { return r.next.ListUnprocessedWebhookPayloads(ctx, limit) })
}

func (r *Retrying) MarkWebhookPayloadProcessed(ctx context.Context, arg MarkWebhookPayloadProcessedParams) error {
	_, err := withRetry(ctx, func() (struct{}, error) { return struct{}{}, r.next.MarkWebhookPayloadProcessed(ctx, arg) })
	return err
}

func (r *Retrying) UpdateAgentContent(ctx context.Context, arg UpdateAgentContentParams) (int64, error) {
	return withRetry(ctx, func() (int64, error) { return r.next.UpdateAgentContent(ctx, arg) })
}

func (r *Retrying) UpdateAgentMetadata(ctx context.Context, arg UpdateAgentMetadataParams) (int64, error) {
	return withRetry(ctx, func() (int64, error) { return r.next.UpdateAgentMetadata(ctx, arg) })
}

// internal/database/sqlite.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const repositorySyncColumns = `id, agent_id, repository_id, repository_full_name, sync_enabled, auto_update, webhook_id, config, sync_status, sync_error, last_sync_at, last_commit_sha, access_token, created_at, updated_at`

const webhookPayloadColumns = `id, event_type, delivery_id, payload, signature, processed, processed_at, error, received_at`

// SQLite implements Querier on an embedded database for single-node deployments.
// The connection pool is capped at one so the claim update stays serialized.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens the database at dsn.
func OpenSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &SQLite{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// DB exposes the underlying handle for migrations.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

var _ Querier = (*SQLite)(nil)

func scanRepositorySync(row interface{ Scan(...any) error }) (RepositorySync, error) {
	var i RepositorySync
	err := row.Scan(
		&i.ID,
		&i.AgentID,
		&i.RepositoryID,
		&i.RepositoryFullName,
		&i.SyncEnabled,
		&i.AutoUpdate,
		&i.WebhookID,
		&i.Config,
		&i.SyncStatus,
		&i.SyncError,
		&i.LastSyncAt,
		&i.LastCommitSha,
		&i.AccessToken,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func scanWebhookPayload(row interface{ Scan(...any) error }) (WebhookPayload, error) {
	var i WebhookPayload
	err := row.Scan(
		&i.ID,
		&i.EventType,
		&i.DeliveryID,
		&i.Payload,
		&i.Signature,
		&i.Processed,
		&i.ProcessedAt,
		&i.Error,
		&i.ReceivedAt,
	)
	return i, err
}

func (s *SQLite) ClaimRepositorySync(ctx context.Context, arg ClaimRepositorySyncParams) (RepositorySync, error) {
	row := s.db.QueryRowContext(ctx, `UPDATE repository_syncs
SET sync_status = 'syncing', updated_at = ?
WHERE id = ?
  AND sync_enabled
  AND (sync_status IN ('pending', 'success', 'error')
       OR (sync_status = 'syncing' AND updated_at < ?))
RETURNING `+repositorySyncColumns, s.now(), arg.ID, arg.StaleBefore.Time.UTC())
	return scanRepositorySync(row)
}

func (s *SQLite) CompleteRepositorySync(ctx context.Context, arg CompleteRepositorySyncParams) (RepositorySync, error) {
	now := s.now()
	row := s.db.QueryRowContext(ctx, `UPDATE repository_syncs
SET sync_status     = 'success',
    sync_error      = NULL,
    last_sync_at    = ?,
    last_commit_sha = COALESCE(?, last_commit_sha),
    updated_at      = ?
WHERE id = ?
  AND sync_status = 'syncing'
RETURNING `+repositorySyncColumns, now, arg.LastCommitSha, now, arg.ID)
	return scanRepositorySync(row)
}

func (s *SQLite) FailRepositorySync(ctx context.Context, arg FailRepositorySyncParams) (RepositorySync, error) {
	row := s.db.QueryRowContext(ctx, `UPDATE repository_syncs
SET sync_status = 'error',
    sync_error  = ?,
    updated_at  = ?
WHERE id = ?
  AND sync_status = 'syncing'
RETURNING `+repositorySyncColumns, arg.SyncError, s.now(), arg.ID)
	return scanRepositorySync(row)
}

func (s *SQLite) GetRepositorySyncByFullName(ctx context.Context, repositoryFullName string) (RepositorySync, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+repositorySyncColumns+` FROM repository_syncs WHERE repository_full_name = ?`, repositoryFullName)
	return scanRepositorySync(row)
}

func (s *SQLite) GetWebhookPayloadByDeliveryID(ctx context.Context, deliveryID string) (WebhookPayload, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+webhookPayloadColumns+` FROM webhook_payloads WHERE delivery_id = ?`, deliveryID)
	return scanWebhookPayload(row)
}

func (s *SQLite) InsertWebhookPayload(ctx context.Context, arg InsertWebhookPayloadParams) (WebhookPayload, error) {
	row := s.db.QueryRowContext(ctx, `INSERT INTO webhook_payloads (id, event_type, delivery_id, payload, signature, received_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (delivery_id) DO NOTHING
RETURNING `+webhookPayloadColumns,
		arg.ID.String(), arg.EventType, arg.DeliveryID, string(arg.Payload), arg.Signature, s.now())
	return scanWebhookPayload(row)
}

func (s *SQLite) ListUnprocessedWebhookPayloads(ctx context.Context, limit int32) ([]WebhookPayload, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+webhookPayloadColumns+` FROM webhook_payloads
WHERE NOT processed
ORDER BY received_at
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []WebhookPayload
	for rows.Next() {
		i, err := scanWebhookPayload(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *SQLite) MarkWebhookPayloadProcessed(ctx context.Context, arg MarkWebhookPayloadProcessedParams) error {
	_, err := s.db.ExecContext(ctx, `UPDATE webhook_payloads
SET error        = CASE WHEN processed THEN error ELSE ? END,
    processed    = TRUE,
    processed_at = COALESCE(processed_at, ?)
WHERE id = ?`, arg.Error, s.now(), arg.ID.String())
	return err
}

func (s *SQLite) UpdateAgentContent(ctx context.Context, arg UpdateAgentContentParams) (int64, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE agents
SET readme      = ?,
    description = COALESCE(?, description),
    published   = published OR ?,
    updated_at  = ?
WHERE id = ?`, arg.Readme, arg.Description, arg.Published, s.now(), arg.ID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *SQLite) UpdateAgentMetadata(ctx context.Context, arg UpdateAgentMetadataParams) (int64, error) {
	var tags any
	if arg.Tags != nil {
		raw, err := json.Marshal(arg.Tags)
		if err != nil {
			return 0, fmt.Errorf("encode tags: %w", err)
		}
		tags = string(raw)
	}
	result, err := s.db.ExecContext(ctx, `UPDATE agents
SET description     = COALESCE(?, description),
    tags            = COALESCE(?, tags),
    version         = COALESCE(?, version),
    source_stars    = ?,
    source_forks    = ?,
    source_watchers = ?,
    published       = published OR ?,
    updated_at      = ?
WHERE id = ?`,
		arg.Description, tags, arg.Version,
		arg.SourceStars, arg.SourceForks, arg.SourceWatchers,
		arg.Published, s.now(), arg.ID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github-agent-sync/internal/model"
)

// ToText converts a *string to pgtype.Text.
// Returns an invalid Text if s is nil.
func ToText(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

// TextOrNull treats "" as NULL.
func TextOrNull(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

// FromText converts pgtype.Text to *string.
// Returns nil if the Text is not valid.
func FromText(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func FromInt8(i pgtype.Int8) *int64 {
	if !i.Valid {
		return nil
	}
	return &i.Int64
}

func ToTimestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func FromTimestamptz(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

// ToModel decodes the stored row, including its JSON config.
func (r RepositorySync) ToModel() (model.RepositorySync, error) {
	var cfg model.SyncConfig
	if len(r.Config) > 0 {
		if err := json.Unmarshal(r.Config, &cfg); err != nil {
			return model.RepositorySync{}, fmt.Errorf("decode sync config for %s: %w", r.RepositoryFullName, err)
		}
	}
	return model.RepositorySync{
		ID:                 r.ID,
		AgentID:            r.AgentID,
		RepositoryID:       r.RepositoryID,
		RepositoryFullName: r.RepositoryFullName,
		SyncEnabled:        r.SyncEnabled,
		AutoUpdate:         r.AutoUpdate,
		WebhookID:          FromInt8(r.WebhookID),
		Config:             cfg,
		SyncStatus:         model.SyncStatus(r.SyncStatus),
		SyncError:          FromText(r.SyncError),
		LastSyncAt:         FromTimestamptz(r.LastSyncAt),
		LastCommitSHA:      FromText(r.LastCommitSha),
		AccessToken:        FromText(r.AccessToken),
		CreatedAt:          r.CreatedAt.Time,
		UpdatedAt:          r.UpdatedAt.Time,
	}, nil
}

func (p WebhookPayload) ToModel() model.WebhookPayload {
	return model.WebhookPayload{
		ID:          p.ID,
		EventType:   p.EventType,
		DeliveryID:  p.DeliveryID,
		Payload:     p.Payload,
		Signature:   p.Signature,
		Processed:   p.Processed,
		ProcessedAt: FromTimestamptz(p.ProcessedAt),
		Error:       FromText(p.Error),
		ReceivedAt:  p.ReceivedAt.Time,
	}
}

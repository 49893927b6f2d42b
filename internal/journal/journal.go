// internal/journal/journal.go
package journal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github-agent-sync/internal/database"
	apperrors "github-agent-sync/internal/errors"
	"github-agent-sync/internal/model"
)

// Journal is the durable record of every journaled delivery.
type Journal struct {
	db     database.Querier
	logger *slog.Logger
}

func New(db database.Querier, logger *slog.Logger) *Journal {
	return &Journal{db: db, logger: logger}
}

// Record stores a delivery unless one with the same delivery id exists, in which case the
// existing entry's id is returned with created false. A redelivery after a crash therefore
// reuses its entry.
func (j *Journal) Record(ctx context.Context, eventType string, payload []byte, signature, deliveryID string) (uuid.UUID, bool, error) {
	row, err := j.db.InsertWebhookPayload(ctx, database.InsertWebhookPayloadParams{
		ID:         uuid.New(),
		EventType:  eventType,
		DeliveryID: deliveryID,
		Payload:    payload,
		Signature:  signature,
	})
	if err == nil {
		return row.ID, true, nil
	}
	if !database.IsNoRows(err) {
		return uuid.Nil, false, fmt.Errorf("insert webhook payload: %w", err)
	}

	existing, err := j.db.GetWebhookPayloadByDeliveryID(ctx, deliveryID)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("load existing webhook payload: %w", err)
	}
	j.logger.Debug("Reusing journal entry", "delivery_id", deliveryID, "payload_id", existing.ID, "processed", existing.Processed)
	return existing.ID, false, nil
}

// MarkProcessed finalizes an entry. Calling it again keeps the first outcome.
func (j *Journal) MarkProcessed(ctx context.Context, id uuid.UUID, errMsg string) error {
	err := j.db.MarkWebhookPayloadProcessed(ctx, database.MarkWebhookPayloadProcessedParams{
		ID:    id,
		Error: database.TextOrNull(apperrors.Truncate(errMsg)),
	})
	if err != nil {
		return fmt.Errorf("mark webhook payload %s processed: %w", id, err)
	}
	return nil
}

// Lookup returns apperrors.ErrNotFound when the delivery was never journaled.
func (j *Journal) Lookup(ctx context.Context, deliveryID string) (*model.WebhookPayload, error) {
	row, err := j.db.GetWebhookPayloadByDeliveryID(ctx, deliveryID)
	if database.IsNoRows(err) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p := row.ToModel()
	return &p, nil
}

// ListUnprocessed returns the oldest entries still awaiting an outcome.
func (j *Journal) ListUnprocessed(ctx context.Context, limit int) ([]model.WebhookPayload, error) {
	rows, err := j.db.ListUnprocessedWebhookPayloads(ctx, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("list unprocessed payloads: %w", err)
	}
	out := make([]model.WebhookPayload, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.ToModel())
	}
	return out, nil
}

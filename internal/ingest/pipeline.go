// internal/ingest/pipeline.go
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/go-github/v62/github"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	apperrors "github-agent-sync/internal/errors"
	"github-agent-sync/internal/model"
	"github-agent-sync/internal/syncer"
	"github-agent-sync/internal/throttle"
	"github-agent-sync/internal/webhook"
)

// Status codes returned in Response.Code besides the syncer outcomes and rejection codes.
const (
	CodePong             = "pong"
	CodeNotSignificant   = "not_significant"
	CodeInvalidSignature = "invalid_signature"
	CodeInternalError    = "internal_error"
)

// Response is the body returned to the webhook caller.
type Response struct {
	Status     int    `json:"-"`
	Code       string `json:"status"`
	Message    string `json:"message"`
	DeliveryID string `json:"delivery_id,omitempty"`
}

// Journal is the subset of *journal.Journal the pipeline writes to.
type Journal interface {
	Record(ctx context.Context, eventType string, payload []byte, signature, deliveryID string) (uuid.UUID, bool, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, errMsg string) error
	ListUnprocessed(ctx context.Context, limit int) ([]model.WebhookPayload, error)
}

// Orchestrator is satisfied by *syncer.Syncer.
type Orchestrator interface {
	Handle(ctx context.Context, ev webhook.Event, payloadID uuid.UUID) (syncer.Outcome, error)
}

// Pipeline runs a verified delivery through classification, the gate, the journal and the syncer.
type Pipeline struct {
	verifier   *webhook.Verifier
	classifier *webhook.Classifier
	gate       *throttle.Gate
	journal    Journal
	syncer     Orchestrator
	logger     *slog.Logger
}

func NewPipeline(verifier *webhook.Verifier, classifier *webhook.Classifier, gate *throttle.Gate, journal Journal, orchestrator Orchestrator, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		verifier:   verifier,
		classifier: classifier,
		gate:       gate,
		journal:    journal,
		syncer:     orchestrator,
		logger:     logger,
	}
}

// Process handles one inbound delivery.
func (p *Pipeline) Process(ctx context.Context, headers http.Header, body []byte) Response {
	deliveryID := headers.Get(github.DeliveryIDHeader)
	logger := p.logger.With("delivery_id", deliveryID, "event", headers.Get(github.EventTypeHeader))

	if !p.verifier.Verify(body, headers.Get(github.SHA256SignatureHeader)) {
		logger.Warn("Webhook signature rejected")
		return Response{Status: http.StatusForbidden, Code: CodeInvalidSignature, Message: "Invalid signature", DeliveryID: deliveryID}
	}

	ev, err := p.classifier.Classify(headers, body)
	if err != nil {
		return p.rejected(logger, deliveryID, err)
	}
	if ev.Kind == webhook.KindPing {
		logger.Info("Ping received")
		return ok(CodePong, "pong", deliveryID)
	}
	logger = logger.With("repository", ev.RepositoryFullName, "action", ev.Action)

	if !ev.Significant() {
		if _, _, err := p.journal.Record(ctx, ev.Kind.String(), body, ev.Signature, ev.DeliveryID); err != nil {
			return p.internal(ctx, logger, uuid.Nil, ev.DeliveryID, err)
		}
		logger.Info("Event not significant")
		return ok(CodeNotSignificant, "Event recorded, no sync required", ev.DeliveryID)
	}

	decision, err := p.gate.Admit(ctx, ev.RepositoryFullName, ev.Kind, ev.DeliveryID)
	if err != nil {
		return p.internal(ctx, logger, uuid.Nil, ev.DeliveryID, err)
	}
	switch decision.Reason {
	case throttle.ReasonDuplicate:
		logger.Info("Duplicate delivery")
		return ok(throttle.ReasonDuplicate, "Delivery already processed", ev.DeliveryID)
	case throttle.ReasonRateLimited:
		id, created, err := p.journal.Record(ctx, ev.Kind.String(), body, ev.Signature, ev.DeliveryID)
		if err != nil {
			return p.internal(ctx, logger, uuid.Nil, ev.DeliveryID, err)
		}
		if !created {
			// The entry belongs to an earlier attempt that has not finished yet.
			logger.Info("Redelivery of an unfinished delivery", "payload_id", id)
			return ok(string(syncer.OutcomeInProgress), syncer.OutcomeInProgress.Message(), ev.DeliveryID)
		}
		if err := p.journal.MarkProcessed(ctx, id, throttle.ReasonRateLimited); err != nil {
			return p.internal(ctx, logger, id, ev.DeliveryID, err)
		}
		logger.Info("Delivery rate limited")
		return ok(throttle.ReasonRateLimited, "Too many events for this repository, skipped", ev.DeliveryID)
	}

	payloadID, created, err := p.journal.Record(ctx, ev.Kind.String(), body, ev.Signature, ev.DeliveryID)
	if err != nil {
		return p.internal(ctx, logger, uuid.Nil, ev.DeliveryID, err)
	}
	return p.dispatch(ctx, logger, ev, payloadID, !created)
}

// Replay re-drives a journaled delivery that never reached an outcome. Signatures were
// checked at ingress and the throttle is bypassed; the idempotency check still applies.
func (p *Pipeline) Replay(ctx context.Context, entry model.WebhookPayload) Response {
	logger := p.logger.With("delivery_id", entry.DeliveryID, "event", entry.EventType, "payload_id", entry.ID)

	headers := http.Header{}
	headers.Set(github.EventTypeHeader, entry.EventType)
	headers.Set(github.DeliveryIDHeader, entry.DeliveryID)
	headers.Set(github.SHA256SignatureHeader, entry.Signature)

	ev, err := p.classifier.Classify(headers, entry.Payload)
	if err != nil {
		resp := p.rejected(logger, entry.DeliveryID, err)
		if markErr := p.journal.MarkProcessed(ctx, entry.ID, resp.Code); markErr != nil {
			return p.internal(ctx, logger, uuid.Nil, entry.DeliveryID, markErr)
		}
		return resp
	}
	if !ev.Significant() {
		return ok(CodeNotSignificant, "Event recorded, no sync required", entry.DeliveryID)
	}

	dup, err := p.gate.Duplicate(ctx, entry.DeliveryID)
	if err != nil {
		return p.internal(ctx, logger, uuid.Nil, entry.DeliveryID, err)
	}
	if dup {
		return ok(throttle.ReasonDuplicate, "Delivery already processed", entry.DeliveryID)
	}
	return p.dispatch(ctx, logger.With("repository", ev.RepositoryFullName), ev, entry.ID, true)
}

// ReplayPending replays up to limit unprocessed entries, oldest first, with at most
// concurrency replays in flight. Results are in journal order.
func (p *Pipeline) ReplayPending(ctx context.Context, limit, concurrency int) ([]Response, error) {
	entries, err := p.journal.ListUnprocessed(ctx, limit)
	if err != nil {
		return nil, err
	}
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]Response, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, entry := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = p.Replay(gctx, entry)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// dispatch hands ev to the syncer. When reused is set the entry predates this attempt and an
// in_progress outcome leaves it open, since a run started for it may still finalize it.
func (p *Pipeline) dispatch(ctx context.Context, logger *slog.Logger, ev webhook.Event, payloadID uuid.UUID, reused bool) Response {
	outcome, err := p.syncer.Handle(ctx, ev, payloadID)
	if err != nil {
		return p.internal(ctx, logger, payloadID, ev.DeliveryID, err)
	}
	keepOpen := outcome == syncer.OutcomeSyncStarted || (reused && outcome == syncer.OutcomeInProgress)
	if !keepOpen {
		// The syncer finalizes the entry itself once a started run ends.
		if err := p.journal.MarkProcessed(ctx, payloadID, ""); err != nil {
			return p.internal(ctx, logger, payloadID, ev.DeliveryID, err)
		}
	}
	logger.Info("Webhook handled", "outcome", string(outcome))
	return ok(string(outcome), outcome.Message(), ev.DeliveryID)
}

func (p *Pipeline) rejected(logger *slog.Logger, deliveryID string, err error) Response {
	var rej *apperrors.RejectionError
	if !errors.As(err, &rej) {
		logger.Error("Classification failed", "error", err)
		return Response{Status: http.StatusInternalServerError, Code: CodeInternalError, Message: "Internal error", DeliveryID: deliveryID}
	}
	logger.Warn("Webhook rejected", "code", rej.Code, "error", err)
	return Response{Status: rej.Status, Code: rej.Code, Message: rej.Message, DeliveryID: deliveryID}
}

// internal logs err and, when an entry exists, records it there.
func (p *Pipeline) internal(ctx context.Context, logger *slog.Logger, payloadID uuid.UUID, deliveryID string, err error) Response {
	logger.Error("Webhook processing failed", "payload_id", payloadID, "error", err)
	if payloadID != uuid.Nil {
		if markErr := p.journal.MarkProcessed(context.WithoutCancel(ctx), payloadID, err.Error()); markErr != nil {
			logger.Error("Failed to record failure in journal", "error", markErr)
		}
	}
	return Response{Status: http.StatusInternalServerError, Code: CodeInternalError, Message: "Internal error", DeliveryID: deliveryID}
}

func ok(code, message, deliveryID string) Response {
	return Response{Status: http.StatusOK, Code: code, Message: message, DeliveryID: deliveryID}
}

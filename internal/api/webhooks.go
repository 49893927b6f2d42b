// internal/api/webhooks.go
package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	apperrors "github-agent-sync/internal/errors"
	"github-agent-sync/internal/ingest"
	"github-agent-sync/internal/webhook"
)

// receiveWebhook handles GitHub deliveries.
// POST /webhooks
func (h *Handler) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	deliveryID := r.Header.Get("X-GitHub-Delivery")

	if err := h.source.Check(r); err != nil {
		rej := apperrors.Reject(http.StatusForbidden, "forbidden_source", "Forbidden", err)
		errors.As(err, &rej)
		h.logger.Warn("Webhook source rejected", "delivery_id", deliveryID, "remote_addr", r.RemoteAddr, "user_agent", r.UserAgent(), "error", err)
		respondWithJSON(w, rej.Status, ingest.Response{Code: rej.Code, Message: rej.Message, DeliveryID: deliveryID})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warn("Webhook body too large", "delivery_id", deliveryID, "limit", tooLarge.Limit)
			respondWithJSON(w, http.StatusRequestEntityTooLarge, ingest.Response{Code: "payload_too_large", Message: "Payload too large", DeliveryID: deliveryID})
			return
		}
		h.logger.Warn("Failed to read webhook body", "delivery_id", deliveryID, "error", err)
		respondWithJSON(w, http.StatusBadRequest, ingest.Response{Code: "malformed_payload", Message: "Could not read request body", DeliveryID: deliveryID})
		return
	}

	resp := h.pipeline.Process(r.Context(), r.Header, body)
	respondWithJSON(w, resp.Status, resp)
}

// webhookInfo reports the endpoint's configuration or answers a connectivity test.
// GET /webhooks?action=status|test
func (h *Handler) webhookInfo(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("action") {
	case "", "status":
		events := make([]string, 0, len(webhook.Kinds))
		for _, k := range webhook.Kinds {
			events = append(events, k.String())
		}
		respondWithJSON(w, http.StatusOK, map[string]any{
			"secret_configured": !h.verifier.Insecure(),
			"insecure_mode":     h.verifier.Insecure(),
			"supported_events":  events,
		})
	case "test":
		respondWithJSON(w, http.StatusOK, map[string]string{
			"status":    "ok",
			"timestamp": h.now().UTC().Format(time.RFC3339),
		})
	default:
		respondWithError(w, http.StatusBadRequest, "Invalid 'action' parameter. Must be 'status' or 'test'.")
	}
}

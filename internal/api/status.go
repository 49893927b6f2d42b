// internal/api/status.go
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github-agent-sync/internal/database"
	ghclient "github-agent-sync/internal/github"
	"github-agent-sync/internal/model"
)

type rateLimitResponse struct {
	User *model.RateLimit `json:"user"`
	App  *model.RateLimit `json:"app"`
}

// rateLimit reports the caller's and the application's GitHub budget.
// GET /rate-limit
func (h *Handler) rateLimit(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Missing bearer token")
		return
	}

	user, err := h.quota.UserLimit(r.Context(), token)
	if err != nil {
		if ghclient.IsUnauthorized(err) {
			respondWithError(w, http.StatusUnauthorized, "Invalid GitHub token")
			return
		}
		h.logger.Error("Failed to read user rate limit", "error", err)
		respondWithError(w, http.StatusBadGateway, "GitHub API unavailable")
		return
	}
	app, err := h.quota.AppLimit(r.Context())
	if err != nil {
		h.logger.Error("Failed to read app rate limit", "error", err)
		respondWithError(w, http.StatusBadGateway, "GitHub API unavailable")
		return
	}

	respondWithJSON(w, http.StatusOK, rateLimitResponse{User: user, App: app})
}

type syncStatusResponse struct {
	Repository    string     `json:"repository"`
	AgentID       int64      `json:"agent_id"`
	Status        string     `json:"status"`
	SyncEnabled   bool       `json:"sync_enabled"`
	AutoUpdate    bool       `json:"auto_update"`
	Error         *string    `json:"error"`
	LastSyncAt    *time.Time `json:"last_sync_at"`
	LastCommitSHA *string    `json:"last_commit_sha"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// getSyncStatus returns the mirror state of one repository.
// GET /v1/syncs/{owner}/{name}
func (h *Handler) getSyncStatus(w http.ResponseWriter, r *http.Request) {
	fullName := chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "name")

	row, err := h.db.GetRepositorySyncByFullName(r.Context(), fullName)
	if err != nil {
		if database.IsNoRows(err) {
			respondWithError(w, http.StatusNotFound, "Repository sync not found")
			return
		}
		h.logger.Error("Failed to get repository sync", "repository", fullName, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	rs, err := row.ToModel()
	if err != nil {
		h.logger.Error("Failed to decode repository sync", "repository", fullName, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, syncStatusResponse{
		Repository:    rs.RepositoryFullName,
		AgentID:       rs.AgentID,
		Status:        rs.SyncStatus.String(),
		SyncEnabled:   rs.SyncEnabled,
		AutoUpdate:    rs.AutoUpdate,
		Error:         rs.SyncError,
		LastSyncAt:    rs.LastSyncAt,
		LastCommitSHA: rs.LastCommitSHA,
		UpdatedAt:     rs.UpdatedAt,
	})
}

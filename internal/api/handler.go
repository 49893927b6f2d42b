// internal/api/handler.go
package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github-agent-sync/internal/database"
	"github-agent-sync/internal/ingest"
	"github-agent-sync/internal/model"
	"github-agent-sync/internal/webhook"
)

// RateLimits reads API budgets. *quota.Monitor is the production implementation.
type RateLimits interface {
	AppLimit(ctx context.Context) (*model.RateLimit, error)
	UserLimit(ctx context.Context, token string) (*model.RateLimit, error)
}

// Options carries everything the router needs.
type Options struct {
	DB           database.Querier
	Pipeline     *ingest.Pipeline
	Source       webhook.SourceFilter
	Verifier     *webhook.Verifier
	Quota        RateLimits
	MaxBodyBytes int64
	AdminToken   string
	// TrustedProxies may set the client address through forwarding headers.
	TrustedProxies []netip.Prefix
	Logger         *slog.Logger
}

// Handler is the container for API dependencies.
type Handler struct {
	db           database.Querier
	pipeline     *ingest.Pipeline
	source       webhook.SourceFilter
	verifier     *webhook.Verifier
	quota        RateLimits
	maxBodyBytes int64
	adminToken   string
	logger       *slog.Logger
	now          func() time.Time
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(opts Options) http.Handler {
	h := &Handler{
		db:           opts.DB,
		pipeline:     opts.Pipeline,
		source:       opts.Source,
		verifier:     opts.Verifier,
		quota:        opts.Quota,
		maxBodyBytes: opts.MaxBodyBytes,
		adminToken:   opts.AdminToken,
		logger:       opts.Logger,
		now:          time.Now,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(trustedRealIP(opts.TrustedProxies))
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.healthCheck)
	r.Post("/webhooks", h.receiveWebhook)
	r.Get("/webhooks", h.webhookInfo)
	r.Get("/rate-limit", h.rateLimit)
	r.Route("/v1", func(r chi.Router) {
		r.With(h.requireAdmin).Get("/syncs/{owner}/{name}", h.getSyncStatus)
	})

	return r
}

// trustedRealIP applies middleware.RealIP only to requests whose socket address is a
// trusted proxy. Anyone else could otherwise pick the address the source filter sees.
func trustedRealIP(proxies []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		forwarded := middleware.RealIP(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if addr, ok := webhook.ClientAddr(r.RemoteAddr); ok {
				for _, p := range proxies {
					if p.Contains(addr) {
						forwarded.ServeHTTP(w, r)
						return
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// bearerToken returns the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// requireAdmin guards operator endpoints with ADMIN_TOKEN. Without a configured token they stay closed.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok || h.adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			respondWithError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github-agent-sync/internal/api"
	"github-agent-sync/internal/config"
	"github-agent-sync/internal/database"
	"github-agent-sync/internal/github"
	"github-agent-sync/internal/ingest"
	"github-agent-sync/internal/journal"
	"github-agent-sync/internal/quota"
	"github-agent-sync/internal/secrets"
	"github-agent-sync/internal/syncer"
	"github-agent-sync/internal/throttle"
	"github-agent-sync/internal/webhook"
)

// App holds the wired components shared by the service and syncctl.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	DB       database.Querier
	Journal  *journal.Journal
	Syncer   *syncer.Syncer
	Pipeline *ingest.Pipeline
	Quota    *quota.Monitor
	Verifier *webhook.Verifier

	closeStore func()
}

// New opens the store, applies migrations and wires every component.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, closeStore, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a, err := wire(cfg, db, logger)
	if err != nil {
		closeStore()
		return nil, err
	}
	a.closeStore = closeStore
	return a, nil
}

// OpenStore migrates and opens the configured backend, wrapped in the retrying querier.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (database.Querier, func(), error) {
	switch cfg.DBDriver {
	case "sqlite3":
		store, err := database.OpenSQLite(cfg.DBURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		if err := database.MigrateSQLite(store.DB(), cfg.MigrationsDir); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
		logger.Info("SQLite store ready", "path", cfg.DBURL)
		return database.WithRetry(store), func() { store.Close() }, nil
	default:
		if err := database.MigratePostgres(cfg.MigrationsDir, cfg.DBURL); err != nil {
			return nil, nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
		dbpool, err := pgxpool.New(ctx, cfg.DBURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := dbpool.Ping(ctx); err != nil {
			dbpool.Close()
			return nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}
		logger.Info("Database connection established")
		return database.WithRetry(database.New(dbpool)), dbpool.Close, nil
	}
}

func wire(cfg *config.Config, db database.Querier, logger *slog.Logger) (*App, error) {
	factory := github.NewFactory(cfg.GithubAPIURL, logger)
	appClient, err := factory.ForToken(cfg.GithubToken)
	if err != nil {
		return nil, err
	}

	// A nil opener means stored owner tokens are ignored and the app token is used.
	var tokens syncer.TokenOpener
	if cfg.TokenEncryptionKey != "" {
		box, err := secrets.NewBox(cfg.TokenEncryptionKey)
		if err != nil {
			return nil, err
		}
		tokens = box
	} else {
		logger.Warn("TOKEN_ENCRYPTION_KEY not set, per-owner tokens disabled")
	}

	monitor := quota.NewMonitor(appClient, func(token string) (quota.RateLimitReader, error) {
		c, err := factory.ForToken(token)
		if err != nil {
			return nil, err
		}
		return c, nil
	}, cfg.QuotaLowWater, cfg.QuotaCacheTTL, logger)

	fetchers := func(token string) (syncer.ContentFetcher, error) {
		if token == "" {
			return appClient, nil
		}
		c, err := factory.ForToken(token)
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	j := journal.New(db, logger)
	exec := syncer.NewExecutor(db, fetchers, monitor, tokens, cfg.FetchTimeout, logger)
	s := syncer.NewSyncer(db, exec, j, cfg.SyncTimeout, logger)

	classifier, err := webhook.NewClassifier()
	if err != nil {
		return nil, fmt.Errorf("compile payload schema: %w", err)
	}
	verifier := webhook.NewVerifier(cfg.WebhookSecret)
	if verifier.Insecure() {
		logger.Warn("WEBHOOK_SECRET not set, signatures are not verified")
	}

	return &App{
		cfg:      cfg,
		logger:   logger,
		DB:       db,
		Journal:  j,
		Syncer:   s,
		Pipeline: ingest.NewPipeline(verifier, classifier, throttle.NewGate(j), j, s, logger),
		Quota:    monitor,
		Verifier: verifier,
	}, nil
}

// Router returns the HTTP surface.
func (a *App) Router() http.Handler {
	return api.NewRouter(api.Options{
		DB:       a.DB,
		Pipeline: a.Pipeline,
		Source: webhook.SourceFilter{
			VerifyUserAgent: a.cfg.WebhookVerifySource,
			Allowed:         a.cfg.AllowedPrefixes,
		},
		Verifier:       a.Verifier,
		Quota:          a.Quota,
		MaxBodyBytes:   a.cfg.WebhookMaxBodyBytes,
		AdminToken:     a.cfg.AdminToken,
		TrustedProxies: a.cfg.TrustedProxies,
		Logger:         a.logger,
	})
}

// Close waits for in-flight syncs and releases the store.
func (a *App) Close() {
	a.Syncer.Wait()
	if a.closeStore != nil {
		a.closeStore()
	}
}

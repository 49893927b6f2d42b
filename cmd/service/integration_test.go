//go:build integration

// cmd/service/integration_test.go
package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github-agent-sync/internal/app"
	"github-agent-sync/internal/config"
	"github-agent-sync/internal/database"
	"github-agent-sync/internal/webhook"
)

const migrationsDir = "../../migrations"

func setupTestDatabase(ctx context.Context, t *testing.T) (string, *pgxpool.Pool) {
	// Start a postgres container
	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(context.Background()))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, database.MigratePostgres(migrationsDir, connStr))
	// A second run is a no-op.
	require.NoError(t, database.MigratePostgres(migrationsDir, connStr))

	dbpool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(dbpool.Close)
	return connStr, dbpool
}

func seedRepository(ctx context.Context, t *testing.T, pool *pgxpool.Pool, fullName string) int64 {
	t.Helper()
	var agentID, syncID int64
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO agents (name) VALUES ($1) RETURNING id`, fullName).Scan(&agentID))
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO repository_syncs (agent_id, repository_id, repository_full_name, config)
VALUES ($1, 42, $2, '{"version_from_releases": true, "tags_from_topics": true}') RETURNING id`, agentID, fullName).Scan(&syncID))
	return syncID
}

func TestClaim_PostgresMutualExclusion(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	_, pool := setupTestDatabase(ctx, t)
	id := seedRepository(ctx, t, pool, "octo/agent")
	q := database.New(pool)

	const n = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.ClaimRepositorySync(ctx, database.ClaimRepositorySyncParams{
				ID:          id,
				StaleBefore: database.ToTimestamptz(time.Now().Add(-time.Hour)),
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.True(t, database.IsNoRows(err), "unexpected error: %v", err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestService_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	connStr, pool := setupTestDatabase(ctx, t)
	seedRepository(ctx, t, pool, "test-owner/test-repo")

	// Setup a mock GitHub API server
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/repos/test-owner/test-repo":
			w.Write([]byte(`{"id": 42, "full_name": "test-owner/test-repo", "description": "A test agent", "stargazers_count": 7, "forks_count": 1, "subscribers_count": 3, "topics": ["go", "agents"]}`))
		case "/api/v3/repos/test-owner/test-repo/releases/latest":
			w.Write([]byte(`{"tag_name": "v0.3.0", "name": "Third", "published_at": "2024-01-02T12:00:00Z"}`))
		case "/api/v3/rate_limit":
			w.Write([]byte(`{"resources": {"core": {"limit": 5000, "remaining": 4321, "used": 679, "reset": 1893456000}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	gh := httptest.NewServer(handler)
	defer gh.Close()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	cfg := &config.Config{
		DBDriver:            "postgres",
		DBURL:               connStr,
		MigrationsDir:       migrationsDir,
		GithubToken:         "app-token",
		GithubAPIURL:        gh.URL,
		WebhookSecret:       "integration-secret",
		WebhookVerifySource: true,
		WebhookMaxBodyBytes: 1 << 20,
		SyncTimeout:         10 * time.Second,
		FetchTimeout:        5 * time.Second,
		QuotaLowWater:       100,
		QuotaCacheTTL:       time.Second,
	}
	a, err := app.New(ctx, cfg, logger)
	require.NoError(t, err)
	defer a.Close()

	server := httptest.NewServer(a.Router())
	defer server.Close()

	deliver := func(delivery string) *http.Response {
		body := `{"action": "published", "release": {"tag_name": "v0.3.0"}, "repository": {"id": 42, "full_name": "test-owner/test-repo"}, "sender": {"login": "mona"}}`
		req, err := http.NewRequest(http.MethodPost, server.URL+"/webhooks", strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("User-Agent", "GitHub-Hookshot/abc")
		req.Header.Set("X-GitHub-Event", "release")
		req.Header.Set("X-GitHub-Delivery", delivery)
		req.Header.Set("X-Hub-Signature-256", webhook.Sign([]byte(cfg.WebhookSecret), []byte(body)))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	// --- ACT ---
	resp := deliver("delivery-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	a.Syncer.Wait()

	// --- ASSERT ---
	dbQuerier := database.New(pool)
	rs, err := dbQuerier.GetRepositorySyncByFullName(ctx, "test-owner/test-repo")
	require.NoError(t, err)
	assert.Equal(t, "success", rs.SyncStatus)
	assert.True(t, rs.LastSyncAt.Valid)

	var (
		stars   int
		version string
		tags    []string
	)
	require.NoError(t, pool.QueryRow(ctx, `SELECT source_stars, version, tags FROM agents WHERE id = $1`, rs.AgentID).Scan(&stars, &version, &tags))
	assert.Equal(t, 7, stars)
	assert.Equal(t, "v0.3.0", version)
	assert.Equal(t, []string{"go", "agents"}, tags)

	payload, err := dbQuerier.GetWebhookPayloadByDeliveryID(ctx, "delivery-1")
	require.NoError(t, err)
	assert.True(t, payload.Processed)
	assert.False(t, payload.Error.Valid)

	// Redelivery is acknowledged without a second sync.
	before := rs.UpdatedAt
	resp = deliver("delivery-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	a.Syncer.Wait()
	rs, err = dbQuerier.GetRepositorySyncByFullName(ctx, "test-owner/test-repo")
	require.NoError(t, err)
	assert.Equal(t, before, rs.UpdatedAt)
}

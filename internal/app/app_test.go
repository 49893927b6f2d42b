package app

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github-agent-sync/internal/config"
	"github-agent-sync/internal/database"
	"github-agent-sync/internal/model"
	"github-agent-sync/internal/testutil"
	"github-agent-sync/internal/webhook"
)

func fakeGitHub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/octo/agent", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": 42, "full_name": "octo/agent", "description": "Answers questions", "stargazers_count": 9, "forks_count": 2, "subscribers_count": 4, "topics": ["llm", "agents"], "default_branch": "main"}`))
	})
	mux.HandleFunc("/api/v3/rate_limit", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"resources": {"core": {"limit": 5000, "remaining": 4990, "used": 10, "reset": 1893456000}}}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testConfig(t *testing.T, githubURL string) *config.Config {
	return &config.Config{
		DBDriver:            "sqlite3",
		DBURL:               filepath.Join(t.TempDir(), "app.db"),
		MigrationsDir:       testutil.MigrationsDir(),
		GithubToken:         "app-token",
		GithubAPIURL:        githubURL,
		WebhookSecret:       "s3cret",
		WebhookVerifySource: true,
		WebhookMaxBodyBytes: 1 << 20,
		SyncTimeout:         5 * time.Second,
		FetchTimeout:        time.Second,
		QuotaLowWater:       100,
		QuotaCacheTTL:       time.Minute,
	}
}

// seed links octo/agent through a second connection, closed before the app uses the file.
func seed(t *testing.T, path string, repo testutil.Repo) {
	t.Helper()
	store, err := database.OpenSQLite(path)
	require.NoError(t, err)
	defer store.Close()
	testutil.SeedRepositorySync(t, store, repo)
}

func TestApp_StarEventSyncsMetadata(t *testing.T) {
	gh := fakeGitHub(t)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := testConfig(t, gh.URL)

	a, err := New(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	seed(t, cfg.DBURL, testutil.Repo{
		FullName:    "octo/agent",
		SyncEnabled: true,
		AutoUpdate:  true,
		Config:      model.SyncConfig{TagsFromTopics: true},
	})

	server := httptest.NewServer(a.Router())
	t.Cleanup(server.Close)

	body := `{"action": "created", "repository": {"id": 42, "full_name": "octo/agent"}, "sender": {"login": "mona"}}`
	req, err := http.NewRequest(http.MethodPost, server.URL+"/webhooks", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("User-Agent", "GitHub-Hookshot/1a2b3c")
	req.Header.Set("X-GitHub-Event", "star")
	req.Header.Set("X-GitHub-Delivery", "72d3162e-cc78-11e3-81ab-4c9367dc0958")
	req.Header.Set("X-Hub-Signature-256", webhook.Sign([]byte("s3cret"), []byte(body)))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	a.Syncer.Wait()

	row, err := a.DB.GetRepositorySyncByFullName(context.Background(), "octo/agent")
	require.NoError(t, err)
	assert.Equal(t, "success", row.SyncStatus)

	entry, err := a.Journal.Lookup(context.Background(), "72d3162e-cc78-11e3-81ab-4c9367dc0958")
	require.NoError(t, err)
	assert.True(t, entry.Processed)
	assert.Nil(t, entry.Error)

	store, err := database.OpenSQLite(cfg.DBURL)
	require.NoError(t, err)
	defer store.Close()
	agent := testutil.LoadAgent(t, store, "octo/agent")
	assert.Equal(t, 9, agent.Stars)
	assert.Equal(t, 4, agent.Watchers)
	assert.JSONEq(t, `["llm", "agents"]`, agent.Tags)
	require.NotNil(t, agent.Description)
	assert.Equal(t, "Answers questions", *agent.Description)
}

func TestApp_RejectsBadKey(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.TokenEncryptionKey = "too-short"

	_, err := New(context.Background(), cfg, slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	assert.Error(t, err)
}

package testutil

import (
	"encoding/json"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github-agent-sync/internal/database"
	"github-agent-sync/internal/model"
)

// MigrationsDir is the repository's migrations directory.
func MigrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

// NewSQLite opens a migrated SQLite store in a temp dir, closed when the test ends.
func NewSQLite(t testing.TB) *database.SQLite {
	t.Helper()
	s, err := database.OpenSQLite(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, database.MigrateSQLite(s.DB(), MigrationsDir()))
	return s
}

// Repo describes a RepositorySync row to seed.
type Repo struct {
	FullName     string
	RepositoryID int64
	SyncEnabled  bool
	AutoUpdate   bool
	Status       model.SyncStatus
	Config       model.SyncConfig
	AccessToken  string
}

// SeedRepositorySync inserts an agent and its sync row, returning the sync id.
func SeedRepositorySync(t testing.TB, s *database.SQLite, r Repo) int64 {
	t.Helper()
	if r.Status == "" {
		r.Status = model.SyncStatusPending
	}
	if r.RepositoryID == 0 {
		r.RepositoryID = 42
	}
	cfg, err := json.Marshal(r.Config)
	require.NoError(t, err)

	res, err := s.DB().Exec(`INSERT INTO agents (name) VALUES (?)`, r.FullName)
	require.NoError(t, err)
	agentID, err := res.LastInsertId()
	require.NoError(t, err)

	var token any
	if r.AccessToken != "" {
		token = r.AccessToken
	}
	res, err = s.DB().Exec(`INSERT INTO repository_syncs
(agent_id, repository_id, repository_full_name, sync_enabled, auto_update, sync_status, config, access_token)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		agentID, r.RepositoryID, r.FullName, r.SyncEnabled, r.AutoUpdate, string(r.Status), string(cfg), token)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

// AgeRepositorySync moves the row's updated_at back by age.
func AgeRepositorySync(t testing.TB, s *database.SQLite, fullName string, age time.Duration) {
	t.Helper()
	_, err := s.DB().Exec(`UPDATE repository_syncs SET updated_at = ? WHERE repository_full_name = ?`,
		time.Now().UTC().Add(-age), fullName)
	require.NoError(t, err)
}

// Agent is the sync-derived part of an agents row.
type Agent struct {
	Description *string
	Readme      *string
	Tags        string
	Version     *string
	Published   bool
	Stars       int
	Forks       int
	Watchers    int
}

// LoadAgent reads the agent linked to fullName.
func LoadAgent(t testing.TB, s *database.SQLite, fullName string) Agent {
	t.Helper()
	var a Agent
	err := s.DB().QueryRow(`SELECT a.description, a.readme, a.tags, a.version, a.published,
       a.source_stars, a.source_forks, a.source_watchers
FROM agents a JOIN repository_syncs r ON r.agent_id = a.id
WHERE r.repository_full_name = ?`, fullName).
		Scan(&a.Description, &a.Readme, &a.Tags, &a.Version, &a.Published, &a.Stars, &a.Forks, &a.Watchers)
	require.NoError(t, err)
	return a
}

// internal/model/models.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// SyncStatus is the lifecycle state of a repository mirror.
type SyncStatus string

const (
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusSyncing  SyncStatus = "syncing"
	SyncStatusSuccess  SyncStatus = "success"
	SyncStatusError    SyncStatus = "error"
	SyncStatusDisabled SyncStatus = "disabled"
)

func (s SyncStatus) String() string {
	return string(s)
}

// Claimable reports whether a sync may be started from this status.
func (s SyncStatus) Claimable() bool {
	return s == SyncStatusPending || s == SyncStatusSuccess || s == SyncStatusError
}

// SyncConfig holds the per-repository mapping options stored as JSON.
type SyncConfig struct {
	Branch              string `json:"branch"`
	Path                string `json:"path"`
	ReadmeAsDescription bool   `json:"readme_as_description"`
	TagsFromTopics      bool   `json:"tags_from_topics"`
	VersionFromReleases bool   `json:"version_from_releases"`
	AutoPublish         bool   `json:"auto_publish"`
}

// RepositorySync links a mirrored agent to its source repository.
type RepositorySync struct {
	ID                 int64
	AgentID            int64
	RepositoryID       int64
	RepositoryFullName string
	SyncEnabled        bool
	AutoUpdate         bool
	WebhookID          *int64
	Config             SyncConfig
	SyncStatus         SyncStatus
	SyncError          *string
	LastSyncAt         *time.Time
	LastCommitSHA      *string
	// AccessToken is the owner's token, still encrypted.
	AccessToken *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Claimable reports whether a sync may start on this row. A syncing row last touched
// before staleBefore holds an expired lease and may be taken over.
func (r RepositorySync) Claimable(staleBefore time.Time) bool {
	if r.SyncStatus == SyncStatusSyncing {
		return r.UpdatedAt.Before(staleBefore)
	}
	return r.SyncStatus.Claimable()
}

// WebhookPayload is a journal entry for one delivery.
type WebhookPayload struct {
	ID          uuid.UUID
	EventType   string
	DeliveryID  string
	Payload     []byte
	Signature   string
	Processed   bool
	ProcessedAt *time.Time
	Error       *string
	ReceivedAt  time.Time
}

// RepositoryMetadata is the subset of a GitHub repository that feeds an agent.
type RepositoryMetadata struct {
	GithubRepoID  int64
	FullName      string
	Description   *string
	DefaultBranch string
	Topics        []string
	StarsCount    int
	ForksCount    int
	WatchersCount int
	RepoUpdatedAt time.Time
}

// Release is the latest published release of a repository.
type Release struct {
	TagName     string
	Name        string
	PublishedAt time.Time
}

// RateLimit is a snapshot of the core API budget for one credential.
type RateLimit struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
	Used      int       `json:"used"`
}

// AgentContent is written after a content sync.
type AgentContent struct {
	AgentID     int64
	Readme      string
	Description *string
	Published   bool
}

// AgentMetadata is written after a metadata sync.
type AgentMetadata struct {
	AgentID     int64
	Description *string
	Tags        []string
	Version     *string
	Stars       int
	Forks       int
	Watchers    int
	Published   bool
}

// internal/syncer/executor.go
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github-agent-sync/internal/database"
	apperrors "github-agent-sync/internal/errors"
	"github-agent-sync/internal/model"
	"github-agent-sync/internal/quota"
	"github-agent-sync/internal/webhook"
)

// Scope selects which part of the agent a run refreshes.
type Scope int

const (
	ScopeContent Scope = iota + 1
	ScopeMetadata
)

func (s Scope) String() string {
	switch s {
	case ScopeContent:
		return "content"
	case ScopeMetadata:
		return "metadata"
	}
	return "unknown"
}

// ScopeFor maps a significant event kind to its sync scope. Pushes refresh content only;
// every other significant kind refreshes metadata only.
func ScopeFor(kind webhook.Kind) (Scope, bool) {
	switch kind {
	case webhook.KindPush:
		return ScopeContent, true
	case webhook.KindRelease, webhook.KindRepository, webhook.KindStar, webhook.KindFork, webhook.KindWatch:
		return ScopeMetadata, true
	case webhook.KindIssues, webhook.KindPullRequest, webhook.KindPing:
		return 0, false
	}
	return 0, false
}

// ContentFetcher is the read side of the GitHub API used by a sync.
type ContentFetcher interface {
	GetRepository(ctx context.Context, owner, name string) (*model.RepositoryMetadata, error)
	GetReadme(ctx context.Context, owner, name, dir, ref string) (string, error)
	GetLatestRelease(ctx context.Context, owner, name string) (*model.Release, error)
	GetBranchHead(ctx context.Context, owner, name, branch string) (string, error)
}

// FetcherFactory returns a fetcher for token. An empty token means the app credential.
type FetcherFactory func(token string) (ContentFetcher, error)

// BudgetChecker is satisfied by *quota.Monitor.
type BudgetChecker interface {
	CheckBudget(ctx context.Context, userToken string) (quota.Budget, error)
}

// TokenOpener decrypts stored owner tokens.
type TokenOpener interface {
	Decrypt(ciphertext string) (string, error)
}

// Result describes a finished run.
type Result struct {
	Scope     Scope
	CommitSHA string
}

// Executor performs one sync run against GitHub and writes the agent record.
type Executor struct {
	db           database.Querier
	fetchers     FetcherFactory
	budget       BudgetChecker
	tokens       TokenOpener
	fetchTimeout time.Duration
	logger       *slog.Logger
}

// NewExecutor builds an Executor. tokens may be nil when owner tokens are not in use.
func NewExecutor(db database.Querier, fetchers FetcherFactory, budget BudgetChecker, tokens TokenOpener, fetchTimeout time.Duration, logger *slog.Logger) *Executor {
	return &Executor{
		db:           db,
		fetchers:     fetchers,
		budget:       budget,
		tokens:       tokens,
		fetchTimeout: fetchTimeout,
		logger:       logger,
	}
}

// Run checks the API budget, fetches the scope's data and persists it.
func (e *Executor) Run(ctx context.Context, rs model.RepositorySync, scope Scope) (Result, error) {
	logger := e.logger.With("repository", rs.RepositoryFullName, "scope", scope.String())

	owner, name, ok := strings.Cut(rs.RepositoryFullName, "/")
	if !ok || owner == "" || name == "" {
		return Result{}, &apperrors.ErrInvalidRepoFormat{Repo: rs.RepositoryFullName}
	}

	userToken := e.ownerToken(logger, rs)
	b, err := e.budget.CheckBudget(ctx, userToken)
	switch {
	case errors.Is(err, apperrors.ErrQuotaExhausted):
		return Result{}, apperrors.ErrQuotaExhausted
	case err != nil:
		logger.Warn("Could not read API budget, continuing", "error", err)
	case b.Source == quota.SourceApp:
		userToken = ""
	}

	fetcher, err := e.fetchers(userToken)
	if err != nil {
		return Result{}, fmt.Errorf("github client: %w", err)
	}

	switch scope {
	case ScopeContent:
		return e.syncContent(ctx, logger, fetcher, rs, owner, name)
	case ScopeMetadata:
		return e.syncMetadata(ctx, logger, fetcher, rs, owner, name)
	}
	return Result{}, fmt.Errorf("unknown sync scope %d", scope)
}

func (e *Executor) ownerToken(logger *slog.Logger, rs model.RepositorySync) string {
	if rs.AccessToken == nil || *rs.AccessToken == "" || e.tokens == nil {
		return ""
	}
	token, err := e.tokens.Decrypt(*rs.AccessToken)
	if err != nil {
		logger.Warn("Stored owner token unusable, using app token", "error", err)
		return ""
	}
	return token
}

func (e *Executor) syncContent(ctx context.Context, logger *slog.Logger, f ContentFetcher, rs model.RepositorySync, owner, name string) (Result, error) {
	var (
		readme string
		head   string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.fetch(gctx, "readme", func(ctx context.Context) (err error) {
			readme, err = f.GetReadme(ctx, owner, name, rs.Config.Path, rs.Config.Branch)
			return err
		})
	})
	g.Go(func() error {
		return e.fetch(gctx, "branch head", func(ctx context.Context) (err error) {
			head, err = f.GetBranchHead(ctx, owner, name, rs.Config.Branch)
			return err
		})
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	content := model.AgentContent{
		AgentID:   rs.AgentID,
		Readme:    readme,
		Published: rs.Config.AutoPublish,
	}
	if rs.Config.ReadmeAsDescription {
		if d := FirstParagraph(readme); d != "" {
			content.Description = &d
		}
	}

	n, err := e.db.UpdateAgentContent(ctx, database.UpdateAgentContentParams{
		ID:          content.AgentID,
		Readme:      database.TextOrNull(content.Readme),
		Description: database.ToText(content.Description),
		Published:   content.Published,
	})
	if err != nil {
		return Result{}, fmt.Errorf("update agent content: %w", err)
	}
	if n == 0 {
		return Result{}, fmt.Errorf("agent %d: %w", rs.AgentID, apperrors.ErrNotFound)
	}

	logger.Info("Agent content synced", "commit", head, "readme_bytes", len(readme))
	return Result{Scope: ScopeContent, CommitSHA: head}, nil
}

func (e *Executor) syncMetadata(ctx context.Context, logger *slog.Logger, f ContentFetcher, rs model.RepositorySync, owner, name string) (Result, error) {
	var (
		repo    *model.RepositoryMetadata
		release *model.Release
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.fetch(gctx, "repository", func(ctx context.Context) (err error) {
			repo, err = f.GetRepository(ctx, owner, name)
			return err
		})
	})
	if rs.Config.VersionFromReleases {
		g.Go(func() error {
			return e.fetch(gctx, "latest release", func(ctx context.Context) (err error) {
				release, err = f.GetLatestRelease(ctx, owner, name)
				return err
			})
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	meta := model.AgentMetadata{
		AgentID:   rs.AgentID,
		Stars:     repo.StarsCount,
		Forks:     repo.ForksCount,
		Watchers:  repo.WatchersCount,
		Published: rs.Config.AutoPublish,
	}
	// With readme_as_description the content sync owns the description.
	if !rs.Config.ReadmeAsDescription {
		meta.Description = repo.Description
	}
	if rs.Config.TagsFromTopics {
		meta.Tags = append([]string{}, repo.Topics...)
	}
	if release != nil && release.TagName != "" {
		meta.Version = &release.TagName
	}

	n, err := e.db.UpdateAgentMetadata(ctx, database.UpdateAgentMetadataParams{
		ID:             meta.AgentID,
		SourceStars:    int32(meta.Stars),
		SourceForks:    int32(meta.Forks),
		SourceWatchers: int32(meta.Watchers),
		Description:    database.ToText(meta.Description),
		Tags:           meta.Tags,
		Version:        database.ToText(meta.Version),
		Published:      meta.Published,
	})
	if err != nil {
		return Result{}, fmt.Errorf("update agent metadata: %w", err)
	}
	if n == 0 {
		return Result{}, fmt.Errorf("agent %d: %w", rs.AgentID, apperrors.ErrNotFound)
	}

	logger.Info("Agent metadata synced", "stars", meta.Stars, "tags", len(meta.Tags), "version", meta.Version != nil)
	return Result{Scope: ScopeMetadata}, nil
}

// fetch bounds one GitHub call by the fetch timeout.
func (e *Executor) fetch(ctx context.Context, what string, call func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	defer cancel()

	err := call(callCtx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("timeout: fetching %s after %s: %w", what, e.fetchTimeout, err)
	default:
		return fmt.Errorf("fetching %s: %w", what, err)
	}
}

// FirstParagraph returns the first prose paragraph of a Markdown document, skipping
// headings, badges, HTML and code blocks.
func FirstParagraph(markdown string) string {
	var (
		para    []string
		inFence bool
	)
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		skip := trimmed == "" ||
			strings.HasPrefix(trimmed, "#") ||
			strings.HasPrefix(trimmed, "![") ||
			strings.HasPrefix(trimmed, "[![") ||
			strings.HasPrefix(trimmed, "<") ||
			strings.HasPrefix(trimmed, "---") ||
			strings.HasPrefix(trimmed, "===")
		if skip {
			if len(para) > 0 {
				break
			}
			continue
		}
		para = append(para, trimmed)
	}
	return strings.Join(para, " ")
}

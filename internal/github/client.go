// internal/github/client.go
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	"github-agent-sync/internal/model"
)

const maxRetries = 3

// retryBackoff is the base delay between attempts on server errors.
var retryBackoff = 250 * time.Millisecond

// Client is a wrapper around the go-github client.
type Client struct {
	gh     *github.Client
	logger *slog.Logger
}

// NewClient creates and configures a new Client instance.
// The provided token is used to create an authenticated http.Client.
func NewClient(token string, logger *slog.Logger) *Client {
	return &Client{
		gh:     github.NewClient(httpClient(token)),
		logger: logger,
	}
}

// NewEnterpriseClient points the client at a GitHub Enterprise (or test) API root.
func NewEnterpriseClient(token, baseURL string, logger *slog.Logger) (*Client, error) {
	gh, err := github.NewClient(httpClient(token)).WithEnterpriseURLs(baseURL, baseURL)
	if err != nil {
		return nil, fmt.Errorf("github base url: %w", err)
	}
	return &Client{gh: gh, logger: logger}, nil
}

func httpClient(token string) *http.Client {
	if token == "" {
		return nil
	}
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	return oauth2.NewClient(context.Background(), ts)
}

// Factory builds clients for a given token against one API root.
type Factory struct {
	baseURL string
	logger  *slog.Logger
}

func NewFactory(baseURL string, logger *slog.Logger) *Factory {
	return &Factory{baseURL: baseURL, logger: logger}
}

// ForToken returns a client authenticated with token.
func (f *Factory) ForToken(token string) (*Client, error) {
	if f.baseURL == "" {
		return NewClient(token, f.logger), nil
	}
	return NewEnterpriseClient(token, f.baseURL, f.logger)
}

// GetRepository fetches repository details and translates them to our internal model.
func (c *Client) GetRepository(ctx context.Context, owner, name string) (*model.RepositoryMetadata, error) {
	var repo *github.Repository
	err := c.withRetry(ctx, "get repository", func() (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		repo, resp, err = c.gh.Repositories.Get(ctx, owner, name)
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return toRepositoryMetadata(repo), nil
}

// GetReadme returns the decoded README under dir at ref. An empty dir means the repository root.
func (c *Client) GetReadme(ctx context.Context, owner, name, dir, ref string) (string, error) {
	opts := &github.RepositoryContentGetOptions{Ref: ref}
	dir = strings.Trim(dir, "/")

	var file *github.RepositoryContent
	err := c.withRetry(ctx, "get readme", func() (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		if dir == "" {
			file, resp, err = c.gh.Repositories.GetReadme(ctx, owner, name, opts)
			return resp, err
		}
		file, _, resp, err = c.gh.Repositories.GetContents(ctx, owner, name, path.Join(dir, "README.md"), opts)
		return resp, err
	})
	if err != nil {
		return "", err
	}
	if file == nil {
		return "", fmt.Errorf("readme at %q is not a file", dir)
	}
	return file.GetContent()
}

// GetLatestRelease returns nil when the repository has no published release.
func (c *Client) GetLatestRelease(ctx context.Context, owner, name string) (*model.Release, error) {
	var release *github.RepositoryRelease
	err := c.withRetry(ctx, "get latest release", func() (*github.Response, error) {
		var (
			resp *github.Response
			err  error
		)
		release, resp, err = c.gh.Repositories.GetLatestRelease(ctx, owner, name)
		return resp, err
	})
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &model.Release{
		TagName:     release.GetTagName(),
		Name:        release.GetName(),
		PublishedAt: release.GetPublishedAt().Time,
	}, nil
}

// GetBranchHead returns the commit SHA at the tip of branch, or of the default branch when
// branch is empty.
func (c *Client) GetBranchHead(ctx context.Context, owner, name, branch string) (string, error) {
	var sha string
	err := c.withRetry(ctx, "get branch head", func() (*github.Response, error) {
		if branch == "" {
			var (
				resp *github.Response
				err  error
			)
			sha, resp, err = c.gh.Repositories.GetCommitSHA1(ctx, owner, name, "HEAD", "")
			return resp, err
		}
		b, resp, err := c.gh.Repositories.GetBranch(ctx, owner, name, branch, 1)
		sha = b.GetCommit().GetSHA()
		return resp, err
	})
	if err != nil {
		return "", err
	}
	return sha, nil
}

// RateLimit reads the core budget for the client's credential.
// GitHub does not charge this call against the budget.
func (c *Client) RateLimit(ctx context.Context) (*model.RateLimit, error) {
	limits, _, err := c.gh.RateLimit.Get(ctx)
	if err != nil {
		return nil, err
	}
	core := limits.GetCore()
	if core == nil {
		return nil, errors.New("rate limit response has no core budget")
	}
	return &model.RateLimit{
		Limit:     core.Limit,
		Remaining: core.Remaining,
		Reset:     core.Reset.Time,
		Used:      core.Limit - core.Remaining,
	}, nil
}

// withRetry runs call up to maxRetries times. Server errors back off exponentially and a
// primary rate limit waits until the advertised reset.
func (c *Client) withRetry(ctx context.Context, op string, call func() (*github.Response, error)) error {
	var lastErr error
	for attempt := range maxRetries {
		_, err := call()
		if err == nil {
			return nil
		}
		lastErr = err

		wait, retry := retryDelay(err, attempt)
		if !retry || attempt == maxRetries-1 {
			break
		}
		c.logger.Warn("GitHub request failed, retrying", "op", op, "attempt", attempt+1, "wait", wait, "error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(wait):
		}
	}
	return lastErr
}

func retryDelay(err error, attempt int) (time.Duration, bool) {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return time.Until(rateErr.Rate.Reset.Time) + 100*time.Millisecond, true
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return abuseErr.GetRetryAfter(), true
	}
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil && respErr.Response.StatusCode >= http.StatusInternalServerError {
		return retryBackoff * time.Duration(1<<uint(attempt)), true
	}
	return 0, false
}

func statusCode(err error) int {
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return respErr.Response.StatusCode
	}
	return 0
}

// IsNotFound reports a 404 from the API.
func IsNotFound(err error) bool {
	return statusCode(err) == http.StatusNotFound
}

// IsUnauthorized reports a rejected credential.
func IsUnauthorized(err error) bool {
	return statusCode(err) == http.StatusUnauthorized
}

// toRepositoryMetadata translates a github.Repository object to our internal model.
func toRepositoryMetadata(r *github.Repository) *model.RepositoryMetadata {
	return &model.RepositoryMetadata{
		GithubRepoID:  r.GetID(),
		FullName:      r.GetFullName(),
		Description:   r.Description,
		DefaultBranch: r.GetDefaultBranch(),
		Topics:        r.Topics,
		StarsCount:    r.GetStargazersCount(),
		ForksCount:    r.GetForksCount(),
		WatchersCount: r.GetSubscribersCount(),
		RepoUpdatedAt: r.GetUpdatedAt().Time,
	}
}

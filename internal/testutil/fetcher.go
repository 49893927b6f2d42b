package testutil

import (
	"context"
	"sync"

	"github-agent-sync/internal/model"
)

// Method names recorded by FakeFetcher.
const (
	CallRepository = "GetRepository"
	CallReadme     = "GetReadme"
	CallRelease    = "GetLatestRelease"
	CallBranchHead = "GetBranchHead"
	CallRateLimit  = "RateLimit"
)

// FakeFetcher is an in-memory GitHub stand-in with canned responses.
type FakeFetcher struct {
	mu sync.Mutex

	Repo    *model.RepositoryMetadata
	Readme  string
	Release *model.Release
	HeadSHA string
	Rate    *model.RateLimit

	// Errors maps a method name to the error it returns.
	Errors map[string]error
	// Hang makes the named methods block until their context ends.
	Hang map[string]bool

	calls map[string]int
}

func NewFakeFetcher() *FakeFetcher {
	return &FakeFetcher{
		Repo:    &model.RepositoryMetadata{FullName: "octo/agent"},
		HeadSHA: "0000000000000000000000000000000000000000",
		Rate:    &model.RateLimit{Limit: 5000, Remaining: 5000},
		Errors:  map[string]error{},
		Hang:    map[string]bool{},
		calls:   map[string]int{},
	}
}

// Calls returns how often method was invoked.
func (f *FakeFetcher) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// TotalCalls counts every content call, excluding rate limit reads.
func (f *FakeFetcher) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[CallRepository] + f.calls[CallReadme] + f.calls[CallRelease] + f.calls[CallBranchHead]
}

// Set updates a canned field under the fetcher lock.
func (f *FakeFetcher) Set(fn func(f *FakeFetcher)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *FakeFetcher) enter(ctx context.Context, method string) error {
	f.mu.Lock()
	f.calls[method]++
	hang := f.Hang[method]
	err := f.Errors[method]
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *FakeFetcher) GetRepository(ctx context.Context, owner, name string) (*model.RepositoryMetadata, error) {
	if err := f.enter(ctx, CallRepository); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	repo := *f.Repo
	return &repo, nil
}

func (f *FakeFetcher) GetReadme(ctx context.Context, owner, name, dir, ref string) (string, error) {
	if err := f.enter(ctx, CallReadme); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Readme, nil
}

func (f *FakeFetcher) GetLatestRelease(ctx context.Context, owner, name string) (*model.Release, error) {
	if err := f.enter(ctx, CallRelease); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Release, nil
}

func (f *FakeFetcher) GetBranchHead(ctx context.Context, owner, name, branch string) (string, error) {
	if err := f.enter(ctx, CallBranchHead); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.HeadSHA, nil
}

func (f *FakeFetcher) RateLimit(ctx context.Context) (*model.RateLimit, error) {
	if err := f.enter(ctx, CallRateLimit); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rl := *f.Rate
	return &rl, nil
}

// internal/quota/monitor.go
package quota

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github-agent-sync/internal/errors"
	"github-agent-sync/internal/model"
)

// Source names which credential a budget belongs to.
type Source string

const (
	SourceUser Source = "user"
	SourceApp  Source = "app"
)

// RateLimitReader reads the core API budget of one credential.
type RateLimitReader interface {
	RateLimit(ctx context.Context) (*model.RateLimit, error)
}

// ReaderFactory builds a reader authenticated with token.
type ReaderFactory func(token string) (RateLimitReader, error)

// Budget is the quota a sync would spend from.
type Budget struct {
	Source    Source
	Limit     int
	Remaining int
	Used      int
	Reset     time.Time
	Low       bool
}

type cacheEntry struct {
	limit   model.RateLimit
	expires time.Time
}

// Monitor tracks GitHub API budgets for the app token and per-user tokens.
type Monitor struct {
	app      RateLimitReader
	forToken ReaderFactory
	lowWater int
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func NewMonitor(app RateLimitReader, forToken ReaderFactory, lowWater int, ttl time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		app:      app,
		forToken: forToken,
		lowWater: lowWater,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
		cache:    make(map[string]cacheEntry),
	}
}

// CheckBudget returns the budget a sync using userToken would draw from. Without a
// usable user token the app budget is used. A spent budget returns ErrQuotaExhausted.
func (m *Monitor) CheckBudget(ctx context.Context, userToken string) (Budget, error) {
	if userToken != "" {
		rl, err := m.UserLimit(ctx, userToken)
		if err == nil {
			return m.evaluate(SourceUser, rl)
		}
		m.logger.Warn("User rate limit unavailable, falling back to app budget", "error", err)
	}

	rl, err := m.AppLimit(ctx)
	if err != nil {
		return Budget{}, err
	}
	return m.evaluate(SourceApp, rl)
}

// AppLimit returns the shared application budget.
func (m *Monitor) AppLimit(ctx context.Context) (*model.RateLimit, error) {
	return m.read(ctx, "app", func() (RateLimitReader, error) { return m.app, nil })
}

// UserLimit returns the budget of token without any fallback.
func (m *Monitor) UserLimit(ctx context.Context, token string) (*model.RateLimit, error) {
	sum := sha256.Sum256([]byte(token))
	return m.read(ctx, "user:"+hex.EncodeToString(sum[:]), func() (RateLimitReader, error) { return m.forToken(token) })
}

func (m *Monitor) read(ctx context.Context, key string, reader func() (RateLimitReader, error)) (*model.RateLimit, error) {
	now := m.now()
	m.mu.Lock()
	if e, ok := m.cache[key]; ok && now.Before(e.expires) {
		m.mu.Unlock()
		rl := e.limit
		return &rl, nil
	}
	m.mu.Unlock()

	r, err := reader()
	if err != nil {
		return nil, fmt.Errorf("rate limit client: %w", err)
	}
	rl, err := r.RateLimit(ctx)
	if err != nil {
		return nil, fmt.Errorf("read rate limit: %w", err)
	}

	m.mu.Lock()
	m.cache[key] = cacheEntry{limit: *rl, expires: now.Add(m.ttl)}
	m.mu.Unlock()
	return rl, nil
}

func (m *Monitor) evaluate(source Source, rl *model.RateLimit) (Budget, error) {
	b := Budget{
		Source:    source,
		Limit:     rl.Limit,
		Remaining: rl.Remaining,
		Used:      rl.Used,
		Reset:     rl.Reset,
		Low:       rl.Remaining <= m.lowWater,
	}
	if b.Remaining <= 0 {
		m.logger.Warn("GitHub API budget exhausted", "source", source, "reset", b.Reset)
		return b, fmt.Errorf("%s budget resets at %s: %w", source, b.Reset.Format(time.RFC3339), apperrors.ErrQuotaExhausted)
	}
	if b.Low {
		m.logger.Warn("GitHub API budget low", "source", source, "remaining", b.Remaining, "low_water", m.lowWater)
	}
	return b, nil
}

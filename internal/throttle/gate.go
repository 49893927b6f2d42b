// internal/throttle/gate.go
package throttle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github-agent-sync/internal/errors"
	"github-agent-sync/internal/model"
	"github-agent-sync/internal/webhook"
)

// Rejection reasons returned in Decision.Reason.
const (
	ReasonDuplicate   = "duplicate"
	ReasonRateLimited = "rate_limited"
)

// sweepThreshold is the map size above which expired entries are dropped.
const sweepThreshold = 1024

// DefaultWindows are the per-kind throttle windows.
var DefaultWindows = map[webhook.Kind]time.Duration{
	webhook.KindPush:       30 * time.Second,
	webhook.KindRelease:    time.Minute,
	webhook.KindRepository: time.Minute,
	webhook.KindStar:       5 * time.Minute,
	webhook.KindFork:       5 * time.Minute,
	webhook.KindWatch:      5 * time.Minute,
}

// DeliveryLookup finds a journal entry by delivery id, returning apperrors.ErrNotFound when absent.
type DeliveryLookup interface {
	Lookup(ctx context.Context, deliveryID string) (*model.WebhookPayload, error)
}

// Decision is the gate's verdict for one delivery.
type Decision struct {
	Admitted bool
	Reason   string
}

type key struct {
	repo string
	kind webhook.Kind
}

// Gate combines per-delivery idempotency with a per (repository, kind) throttle.
// Throttle state lives in memory only; a restart admits the next event of every key.
type Gate struct {
	journal DeliveryLookup
	windows map[webhook.Kind]time.Duration
	now     func() time.Time

	mu   sync.Mutex
	last map[key]time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithWindows replaces DefaultWindows.
func WithWindows(w map[webhook.Kind]time.Duration) Option {
	return func(g *Gate) { g.windows = w }
}

func NewGate(journal DeliveryLookup, opts ...Option) *Gate {
	g := &Gate{
		journal: journal,
		windows: DefaultWindows,
		now:     time.Now,
		last:    make(map[key]time.Time),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Duplicate reports whether deliveryID was already fully processed.
func (g *Gate) Duplicate(ctx context.Context, deliveryID string) (bool, error) {
	entry, err := g.journal.Lookup(ctx, deliveryID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("journal lookup: %w", err)
	}
	return entry.Processed, nil
}

// Admit runs the idempotency check and then the throttle. The throttle timestamp is
// recorded on admit, before any processing happens.
func (g *Gate) Admit(ctx context.Context, repoFullName string, kind webhook.Kind, deliveryID string) (Decision, error) {
	dup, err := g.Duplicate(ctx, deliveryID)
	if err != nil {
		return Decision{}, err
	}
	if dup {
		return Decision{Reason: ReasonDuplicate}, nil
	}
	if !g.allow(key{repo: repoFullName, kind: kind}) {
		return Decision{Reason: ReasonRateLimited}, nil
	}
	return Decision{Admitted: true}, nil
}

func (g *Gate) allow(k key) bool {
	window := g.windows[k.kind]
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.last[k]; ok && now.Sub(last) < window {
		return false
	}
	g.last[k] = now
	if len(g.last) > sweepThreshold {
		g.sweep(now)
	}
	return true
}

// sweep drops entries whose window has passed. Caller holds g.mu.
func (g *Gate) sweep(now time.Time) {
	for k, last := range g.last {
		if now.Sub(last) >= g.windows[k.kind] {
			delete(g.last, k)
		}
	}
}

// Len returns the number of tracked keys.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.last)
}

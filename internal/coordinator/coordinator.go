package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/quantpulse/datafeed/internal/collector"
	"github.com/quantpulse/datafeed/internal/domain"
)

// Budget is a sliding-window call allowance: at most Calls calls within any
// Window-sized span.
type Budget struct {
	Calls  int
	Window time.Duration
}

// Config holds per-provider budgets. Providers without an explicit entry use
// the default budget.
type Config struct {
	DefaultBudget Budget
	Budgets       map[string]Budget
	WaitTimeout   time.Duration
}

// CallFunc performs the actual upstream call once the coordinator grants a
// slot.
type CallFunc func(ctx context.Context) ([]collector.Record, error)

// Coordinator is the single point through which all outbound collection
// calls pass. It enforces a per-provider sliding-window call budget and
// coalesces duplicate in-flight requests for the same (provider, symbol,
// range) into one upstream call.
type Coordinator struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex // guards ledgers map; each ledger has its own lock
	ledgers map[string]*ledger

	group singleflight.Group

	now func() time.Time // overridable in tests
}

func New(cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.DefaultBudget.Calls <= 0 {
		cfg.DefaultBudget = Budget{Calls: 5, Window: time.Second}
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 30 * time.Second
	}
	return &Coordinator{
		cfg:     cfg,
		logger:  logger,
		ledgers: make(map[string]*ledger),
		now:     time.Now,
	}
}

// Submit runs call under the provider's budget, blocking until a slot frees.
// Waits are bounded by the configured timeout; a caller that cannot get a
// slot in time receives a rate-limit failure classified as transient.
// Identical in-flight requests share one upstream call and all receive its
// result.
func (c *Coordinator) Submit(ctx context.Context, provider string, req collector.Request, call CallFunc) ([]collector.Record, error) {
	key := coalesceKey(provider, req)

	v, err, shared := c.group.Do(key, func() (any, error) {
		if err := c.ledgerFor(provider).acquire(ctx, c.cfg.WaitTimeout); err != nil {
			return nil, err
		}
		return call(ctx)
	})
	if shared {
		c.logger.Debug("Coalesced duplicate in-flight request",
			slog.String("provider", provider),
			slog.String("symbol", req.Symbol),
		)
	}
	if err != nil {
		return nil, err
	}
	return v.([]collector.Record), nil
}

func (c *Coordinator) ledgerFor(provider string) *ledger {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.ledgers[provider]
	if !ok {
		budget, found := c.cfg.Budgets[provider]
		if !found {
			budget = c.cfg.DefaultBudget
		}
		l = &ledger{provider: provider, budget: budget, now: c.now}
		c.ledgers[provider] = l
	}
	return l
}

func coalesceKey(provider string, req collector.Request) string {
	const day = "2006-01-02"
	return fmt.Sprintf("%s|%s|%s|%s", provider, req.Symbol, req.Start.Format(day), req.End.Format(day))
}

// ledger tracks recent call timestamps for one provider. Each provider has
// its own lock so unrelated providers never contend.
type ledger struct {
	mu       sync.Mutex
	provider string
	budget   Budget
	calls    []time.Time
	now      func() time.Time
}

// acquire blocks until the sliding window has a free slot, then records the
// call. It fails with a rate-limit error once the bounded wait elapses.
func (l *ledger) acquire(ctx context.Context, timeout time.Duration) error {
	deadline := l.now().Add(timeout)

	for {
		l.mu.Lock()
		now := l.now()
		cutoff := now.Add(-l.budget.Window)

		// Drop calls that have slid out of the window.
		kept := l.calls[:0]
		for _, t := range l.calls {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		l.calls = kept

		if len(l.calls) < l.budget.Calls {
			l.calls = append(l.calls, now)
			l.mu.Unlock()
			return nil
		}

		// The oldest in-window call determines when capacity frees.
		wait := l.calls[0].Add(l.budget.Window).Sub(now)
		l.mu.Unlock()

		if now.Add(wait).After(deadline) {
			return domain.NewCollectionError(domain.ErrKindRateLimit,
				fmt.Sprintf("call budget exhausted for provider %q, waited past %s", l.provider, timeout))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.WrapCollectionError(domain.ErrKindTimeout, "wait for call slot", ctx.Err())
		case <-timer.C:
		}
	}
}

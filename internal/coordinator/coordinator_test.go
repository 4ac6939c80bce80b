package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse/datafeed/internal/collector"
	"github.com/quantpulse/datafeed/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func reqFor(symbol string) collector.Request {
	return collector.Request{
		Symbol: symbol,
		Start:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	}
}

func TestSubmit_SlidingWindowBudget(t *testing.T) {
	window := 300 * time.Millisecond
	c := New(Config{
		DefaultBudget: Budget{Calls: 5, Window: window},
		WaitTimeout:   5 * time.Second,
	}, testLogger())

	var mu sync.Mutex
	var callTimes []time.Time

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Distinct symbols so coalescing does not absorb calls.
			_, err := c.Submit(context.Background(), "alpha", reqFor(fmt.Sprintf("SYM%d", i)), func(ctx context.Context) ([]collector.Record, error) {
				mu.Lock()
				callTimes = append(callTimes, time.Now())
				mu.Unlock()
				return nil, nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	require.Len(t, callTimes, 8)

	firstWindow, later := 0, 0
	for _, ts := range callTimes {
		if ts.Sub(start) < window {
			firstWindow++
		} else {
			later++
		}
	}
	assert.Equal(t, 5, firstWindow, "only the budget may run in the first window")
	assert.Equal(t, 3, later, "the overflow must wait for the next window")
}

func TestSubmit_CoalescesDuplicateInFlightRequests(t *testing.T) {
	c := New(Config{
		DefaultBudget: Budget{Calls: 10, Window: time.Second},
		WaitTimeout:   time.Second,
	}, testLogger())

	var upstreamCalls atomic.Int64
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([][]collector.Record, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rows, err := c.Submit(context.Background(), "alpha", reqFor("AAPL"), func(ctx context.Context) ([]collector.Record, error) {
				upstreamCalls.Add(1)
				<-release
				return []collector.Record{{"close": "101.5"}}, nil
			})
			require.NoError(t, err)
			results[i] = rows
		}(i)
	}

	// Give all submitters time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), upstreamCalls.Load(), "duplicates must share one upstream call")
	for _, rows := range results {
		require.Len(t, rows, 1)
		assert.Equal(t, "101.5", rows[0]["close"])
	}
}

func TestSubmit_BoundedWaitFailsTransient(t *testing.T) {
	c := New(Config{
		DefaultBudget: Budget{Calls: 1, Window: 10 * time.Second},
		WaitTimeout:   20 * time.Millisecond,
	}, testLogger())

	_, err := c.Submit(context.Background(), "alpha", reqFor("A"), func(ctx context.Context) ([]collector.Record, error) {
		return nil, nil
	})
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), "alpha", reqFor("B"), func(ctx context.Context) ([]collector.Record, error) {
		return nil, nil
	})
	require.Error(t, err)
	assert.Equal(t, domain.FailureTransient, domain.Classify(err).Category)
}

func TestSubmit_IndependentProvidersDoNotContend(t *testing.T) {
	c := New(Config{
		DefaultBudget: Budget{Calls: 1, Window: 10 * time.Second},
		WaitTimeout:   50 * time.Millisecond,
	}, testLogger())

	_, err := c.Submit(context.Background(), "alpha", reqFor("A"), func(ctx context.Context) ([]collector.Record, error) {
		return nil, nil
	})
	require.NoError(t, err)

	// alpha's budget is spent; beta has its own ledger.
	_, err = c.Submit(context.Background(), "beta", reqFor("A"), func(ctx context.Context) ([]collector.Record, error) {
		return nil, nil
	})
	assert.NoError(t, err)
}

func TestSubmit_PerProviderBudgetOverride(t *testing.T) {
	c := New(Config{
		DefaultBudget: Budget{Calls: 1, Window: 10 * time.Second},
		Budgets: map[string]Budget{
			"bulk": {Calls: 3, Window: 10 * time.Second},
		},
		WaitTimeout: 20 * time.Millisecond,
	}, testLogger())

	for i := 0; i < 3; i++ {
		_, err := c.Submit(context.Background(), "bulk", reqFor(fmt.Sprintf("S%d", i)), func(ctx context.Context) ([]collector.Record, error) {
			return nil, nil
		})
		require.NoError(t, err)
	}

	_, err := c.Submit(context.Background(), "bulk", reqFor("S3"), func(ctx context.Context) ([]collector.Record, error) {
		return nil, nil
	})
	assert.Error(t, err)
}

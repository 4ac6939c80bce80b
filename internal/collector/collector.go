package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quantpulse/datafeed/internal/domain"
)

// Record is one collected row keyed by provider column name. Values may be
// strings that look numeric; the loader coerces them before insertion.
type Record map[string]any

// Request describes one collection call against a provider.
type Request struct {
	Symbol string
	Start  time.Time
	End    time.Time
	Params map[string]string
}

// Collector is the per-provider fetch adapter. Implementations must be safe
// to call repeatedly with the same arguments; the pipeline relies on that
// for at-least-once execution.
type Collector interface {
	Provider() string
	Collect(ctx context.Context, req Request) ([]Record, error)
}

// Registry holds the known collectors by provider key.
type Registry struct {
	mu         sync.RWMutex
	collectors map[string]Collector
}

func NewRegistry() *Registry {
	return &Registry{
		collectors: make(map[string]Collector),
	}
}

func (r *Registry) Register(c Collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collectors[c.Provider()] = c
}

// Get returns the collector for a provider key. A missing provider is a
// permanent failure: retrying will not make an adapter appear.
func (r *Registry) Get(provider string) (Collector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collectors[provider]
	if !ok {
		return nil, domain.NewCollectionError(domain.ErrKindBadParams,
			fmt.Sprintf("no collector registered for provider %q", provider))
	}
	return c, nil
}

func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	providers := make([]string, 0, len(r.collectors))
	for key := range r.collectors {
		providers = append(providers, key)
	}
	return providers
}

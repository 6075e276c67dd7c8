// internal/identify/registry.go
package identify

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"comlink-service/internal/eventloop"
)

const (
	StrategyBlocking    = "blocking"
	StrategyNonBlocking = "nonblocking"
)

// StrategyFactory builds one identifier for one attempt.
type StrategyFactory func(config Config, scheduler eventloop.Scheduler) Identifier

// Registry manages identification strategies by name
type Registry struct {
	strategies map[string]StrategyFactory
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewRegistry creates a registry holding the built-in strategies
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		strategies: make(map[string]StrategyFactory),
		logger:     logger,
	}

	r.Register(StrategyBlocking, func(config Config, _ eventloop.Scheduler) Identifier {
		return NewBlocking(config)
	})
	r.Register(StrategyNonBlocking, func(config Config, scheduler eventloop.Scheduler) Identifier {
		return NewNonBlocking(config, scheduler)
	})

	return r
}

// Register registers a strategy factory, replacing any previous one
func (r *Registry) Register(name string, factory StrategyFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.strategies[name] = factory
	r.logger.Debug("Identification strategy registered", zap.String("strategy", name))
}

// Factory binds a strategy to a handshake so that every call yields a fresh
// identifier
func (r *Registry) Factory(name string, config Config, scheduler eventloop.Scheduler) (Factory, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid identifier config: %w", err)
	}

	r.mu.RLock()
	strategy, exists := r.strategies[name]
	r.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("unknown identification strategy: %s", name)
	}

	return func() Identifier {
		return strategy(config, scheduler)
	}, nil
}

// List returns the registered strategy names in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

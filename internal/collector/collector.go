package collector

import (
	"context"
	"fmt"
	"sync"

	"CompanyResearcher/internal/domain"
)

// Request carries everything a collector may look at.
type Request struct {
	Input      domain.JobInput
	CompanyURL string
	SiteScrape []domain.Document
}

// Collector gathers raw documents for one category.
type Collector interface {
	Category() domain.Category
	Collect(ctx context.Context, req Request) ([]domain.Document, error)
}

// Registry keeps a mapping from category names to their collectors, in registration order.
type Registry struct {
	mu         sync.RWMutex
	collectors map[domain.Category]Collector
	order      []domain.Category
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{collectors: map[domain.Category]Collector{}}
}

// Register adds or replaces a collector implementation.
func (r *Registry) Register(c Collector) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.collectors[c.Category()]; !exists {
		r.order = append(r.order, c.Category())
	}
	r.collectors[c.Category()] = c
}

// Resolve returns a collector by category or an error if it is absent.
func (r *Registry) Resolve(category domain.Category) (Collector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.collectors[category]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("collector %s is not registered", category)
}

// Categories lists registered categories in registration order.
func (r *Registry) Categories() []domain.Category {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Category, len(r.order))
	copy(out, r.order)
	return out
}

package provider

import (
	"math/rand/v2"
	"sync"

	"github.com/G4FproAPI/Astra-OSS/internal/apierr"
)

// Selector picks a provider for a request. Providers flagged as priority are
// preferred as a class; within the chosen class the pick is uniform so load
// spreads across peers.
type Selector struct {
	registry *Registry

	mu  sync.Mutex
	rng *rand.Rand
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithRand makes selection use rng, for reproducible tests.
func WithRand(rng *rand.Rand) SelectorOption {
	return func(s *Selector) { s.rng = rng }
}

// NewSelector creates a selector over registry.
func NewSelector(registry *Registry, opts ...SelectorOption) *Selector {
	s := &Selector{registry: registry}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Candidates returns the providers able to serve model, honoring the
// streaming requirement.
func (s *Selector) Candidates(model string, stream bool) []Provider {
	var out []Provider
	for _, p := range s.registry.All() {
		d := p.Descriptor()
		if !d.Supports(model) {
			continue
		}
		if stream && !d.Streaming {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Select chooses the provider for model.
func (s *Selector) Select(model string, stream bool) (Provider, error) {
	candidates := s.Candidates(model, stream)
	if len(candidates) == 0 {
		return nil, apierr.New(apierr.ErrNoProvider, "No suitable provider found for the given request")
	}

	var priority []Provider
	for _, p := range candidates {
		if p.Descriptor().Priority {
			priority = append(priority, p)
		}
	}
	if len(priority) > 0 {
		candidates = priority
	}
	return candidates[s.intN(len(candidates))], nil
}

func (s *Selector) intN(n int) int {
	if s.rng == nil {
		return rand.IntN(n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

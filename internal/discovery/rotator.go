package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// maxConsecutiveErrors takes a backend out of rotation until its backoff
	// window passes.
	maxConsecutiveErrors = 5
	maxBackoff           = 60 * time.Minute
)

// backendState tracks rotation and health bookkeeping for one search backend.
type backendState struct {
	adapter           *EngineSearch
	lastUsedAt        time.Time
	consecutiveErrors int
	backoffUntil      time.Time
}

// EngineRotator spreads generic web-search traffic across backends, steering
// around rate-limited or failing engines. It implements SourceAdapter so the
// aggregator sees the whole rotation as a single source.
type EngineRotator struct {
	mu       sync.Mutex
	backends []*backendState
	now      func() time.Time
}

// NewEngineRotator builds a rotator over the given engines.
func NewEngineRotator(engines []*SearchEngine) *EngineRotator {
	r := &EngineRotator{now: time.Now}
	for _, engine := range engines {
		r.backends = append(r.backends, &backendState{adapter: NewEngineSearch(engine)})
	}
	return r
}

func (r *EngineRotator) Name() string {
	return "web-search"
}

// Discover selects the healthiest least-recently-used backend and runs the
// request against it. Backend failures feed the backoff state and surface as
// an error the aggregator reduces to an empty result.
func (r *EngineRotator) Discover(ctx context.Context, req DiscoverRequest) ([]URLCandidate, error) {
	backend := r.pick()
	if backend == nil {
		return nil, fmt.Errorf("no search backends configured")
	}

	candidates, err := backend.adapter.Discover(ctx, req)
	if err != nil {
		r.recordFailure(backend)
		return nil, fmt.Errorf("backend %s: %w", backend.adapter.Name(), err)
	}

	r.recordSuccess(backend)
	return candidates, nil
}

// pick returns the eligible backend with the oldest lastUsedAt. If every
// backend is in backoff or error-exhausted, all error state is reset and the
// selection retried: a global outage verdict is more likely a misdiagnosis
// than every engine being down at once.
func (r *EngineRotator) pick() *backendState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.backends) == 0 {
		return nil
	}

	selected := r.pickLocked()
	if selected == nil {
		log.Warn().Msg("All search backends in backoff, resetting error state")
		for _, b := range r.backends {
			b.consecutiveErrors = 0
			b.backoffUntil = time.Time{}
		}
		selected = r.pickLocked()
	}
	if selected != nil {
		selected.lastUsedAt = r.now()
	}
	return selected
}

func (r *EngineRotator) pickLocked() *backendState {
	now := r.now()
	var selected *backendState
	for _, b := range r.backends {
		if b.consecutiveErrors >= maxConsecutiveErrors || now.Before(b.backoffUntil) {
			continue
		}
		if selected == nil || b.lastUsedAt.Before(selected.lastUsedAt) {
			selected = b
		}
	}
	return selected
}

func (r *EngineRotator) recordFailure(backend *backendState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	backend.consecutiveErrors++
	backoff := time.Duration(1<<uint(backend.consecutiveErrors)) * time.Minute
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	backend.backoffUntil = r.now().Add(backoff)

	log.Warn().
		Str("backend", backend.adapter.Name()).
		Int("consecutive_errors", backend.consecutiveErrors).
		Dur("backoff", backoff).
		Msg("Search backend failed, backing off")
}

func (r *EngineRotator) recordSuccess(backend *backendState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	backend.consecutiveErrors = 0
	backend.backoffUntil = time.Time{}
}

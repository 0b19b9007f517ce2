package vectorstore

import (
	"context"
	"time"

	"lerian-mcp-memory/internal/circuitbreaker"
	"lerian-mcp-memory/pkg/ingest"
)

// CircuitBreakerStore wraps a Store with circuit breaker protection, so a
// struggling backend fails fast instead of piling up blocked reconcile
// workers against it.
type CircuitBreakerStore struct {
	store Store
	cb    *circuitbreaker.CircuitBreaker
}

// NewCircuitBreakerStore wraps store with the given circuit breaker
// policy, or a sensible default if config is nil.
func NewCircuitBreakerStore(store Store, config *circuitbreaker.Config) *CircuitBreakerStore {
	if config == nil {
		config = &circuitbreaker.Config{
			FailureThreshold:      5,
			SuccessThreshold:      2,
			Timeout:               30 * time.Second,
			MaxConcurrentRequests: 3,
		}
	}
	return &CircuitBreakerStore{store: store, cb: circuitbreaker.New(config)}
}

func (s *CircuitBreakerStore) Add(ctx context.Context, chunks []ingest.Chunk) error {
	return s.cb.Execute(ctx, func(ctx context.Context) error {
		return s.store.Add(ctx, chunks)
	})
}

func (s *CircuitBreakerStore) Delete(ctx context.Context, chunkIDs []string) error {
	return s.cb.Execute(ctx, func(ctx context.Context) error {
		return s.store.Delete(ctx, chunkIDs)
	})
}

func (s *CircuitBreakerStore) DeleteByItemID(ctx context.Context, itemIDs []string) error {
	return s.cb.Execute(ctx, func(ctx context.Context) error {
		return s.store.DeleteByItemID(ctx, itemIDs)
	})
}

// GetByItemID falls back to an empty result set when the circuit is open
// or the call fails, which reconciliation then treats as "nothing exists yet" — safe
// because a failed diff only risks a redundant add, never data loss.
func (s *CircuitBreakerStore) GetByItemID(ctx context.Context, itemIDs []string) ([]ingest.StoredRecord, error) {
	var result []ingest.StoredRecord
	err := s.cb.ExecuteWithFallback(ctx,
		func(ctx context.Context) error {
			var err error
			result, err = s.store.GetByItemID(ctx, itemIDs)
			return err
		},
		func(_ context.Context, _ error) error {
			result = nil
			return nil
		},
	)
	return result, err
}

func (s *CircuitBreakerStore) Touch(ctx context.Context, chunkIDs []string, seenAt int64) error {
	return s.cb.Execute(ctx, func(ctx context.Context) error {
		return s.store.Touch(ctx, chunkIDs, seenAt)
	})
}

func (s *CircuitBreakerStore) DeleteExpired(ctx context.Context, cutoff int64) (int, error) {
	var count int
	err := s.cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		count, err = s.store.DeleteExpired(ctx, cutoff)
		return err
	})
	return count, err
}

func (s *CircuitBreakerStore) SearchByVector(ctx context.Context, vector []float32, topK int) ([]ingest.Chunk, error) {
	var result []ingest.Chunk
	err := s.cb.ExecuteWithFallback(ctx,
		func(ctx context.Context) error {
			var err error
			result, err = s.store.SearchByVector(ctx, vector, topK)
			return err
		},
		func(_ context.Context, _ error) error {
			result = nil
			return nil
		},
	)
	return result, err
}

func (s *CircuitBreakerStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		count, err = s.store.Count(ctx)
		return err
	})
	return count, err
}

func (s *CircuitBreakerStore) DeleteAll(ctx context.Context) error {
	return s.cb.Execute(ctx, func(ctx context.Context) error {
		return s.store.DeleteAll(ctx)
	})
}

func (s *CircuitBreakerStore) Capabilities() Capabilities {
	return s.store.Capabilities()
}

// Close bypasses the circuit breaker; shutdown should never be blocked
// by an open circuit.
func (s *CircuitBreakerStore) Close() error {
	return s.store.Close()
}

// GetCircuitBreakerStats returns circuit breaker statistics.
func (s *CircuitBreakerStore) GetCircuitBreakerStats() circuitbreaker.Stats {
	return s.cb.GetStats()
}

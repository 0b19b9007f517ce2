package embeddings

import (
	"context"
	"fmt"
	"time"

	"lerian-mcp-memory/internal/circuitbreaker"
)

// CircuitBreakerEmbeddingService wraps an EmbeddingService with circuit breaker protection
type CircuitBreakerEmbeddingService struct {
	service EmbeddingService
	cb      *circuitbreaker.CircuitBreaker
}

// NewCircuitBreakerEmbeddingService creates a new circuit breaker wrapped service
func NewCircuitBreakerEmbeddingService(service EmbeddingService, config *circuitbreaker.Config) *CircuitBreakerEmbeddingService {
	if config == nil {
		config = &circuitbreaker.Config{
			FailureThreshold:      3, // Lower threshold for embedding service
			SuccessThreshold:      2,
			Timeout:               20 * time.Second,
			MaxConcurrentRequests: 5,
		}
	}

	return &CircuitBreakerEmbeddingService{
		service: service,
		cb:      circuitbreaker.New(config),
	}
}

// Generate generates an embedding with circuit breaker protection
func (s *CircuitBreakerEmbeddingService) Generate(ctx context.Context, text string) ([]float64, error) {
	var result []float64

	err := s.cb.ExecuteWithFallback(ctx,
		func(ctx context.Context) error {
			var err error
			result, err = s.service.Generate(ctx, text)
			return err
		},
		func(ctx context.Context, cbErr error) error {
			return fmt.Errorf("embedding service unavailable: %w", cbErr)
		},
	)

	return result, err
}

// GenerateBatch generates batch embeddings with circuit breaker protection
func (s *CircuitBreakerEmbeddingService) GenerateBatch(ctx context.Context, texts []string) ([][]float64, error) {
	var result [][]float64

	err := s.cb.ExecuteWithFallback(ctx,
		func(ctx context.Context) error {
			var err error
			result, err = s.service.GenerateBatch(ctx, texts)
			return err
		},
		func(ctx context.Context, cbErr error) error {
			return fmt.Errorf("embedding service unavailable: %w", cbErr)
		},
	)

	return result, err
}

// HealthCheck performs a health check
func (s *CircuitBreakerEmbeddingService) HealthCheck(ctx context.Context) error {
	return s.cb.Execute(ctx, func(ctx context.Context) error {
		return s.service.HealthCheck(ctx)
	})
}

// GetDimensions returns the embedding dimensions
func (s *CircuitBreakerEmbeddingService) GetDimensions() int {
	return s.service.GetDimensions()
}

// GetStats returns circuit breaker statistics
func (s *CircuitBreakerEmbeddingService) GetStats() circuitbreaker.Stats {
	return s.cb.GetStats()
}

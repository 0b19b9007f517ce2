package vectorstore

import (
	"context"
	"fmt"
	"time"

	"lerian-mcp-memory/internal/retry"
	"lerian-mcp-memory/pkg/ingest"
)

// RetryableStore wraps a Store with retry logic, so every backend gets
// the same transient-failure handling regardless of its own client's
// retry behavior (or lack of one).
type RetryableStore struct {
	store   Store
	retrier *retry.Retrier
}

// NewRetryableStore wraps store with the given retry policy, or a
// sensible default if config is nil.
func NewRetryableStore(store Store, config *retry.Config) *RetryableStore {
	if config == nil {
		config = defaultRetryConfig()
	}
	return &RetryableStore{store: store, retrier: retry.New(config)}
}

func defaultRetryConfig() *retry.Config {
	return &retry.Config{
		MaxAttempts:     3,
		InitialDelay:    200 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.1,
		RetryIf:         isRetryableStorageError,
	}
}

func isRetryableStorageError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	transientPatterns := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"too many requests",
		"service unavailable",
		"internal server error",
		"bad gateway",
		"gateway timeout",
	}

	for _, pattern := range transientPatterns {
		if containsIgnoreCase(errStr, pattern) {
			return true
		}
	}

	type temporary interface {
		Temporary() bool
	}
	if te, ok := err.(temporary); ok {
		return te.Temporary()
	}

	return false
}

func containsIgnoreCase(s, substr string) bool {
	return len(s) >= len(substr) &&
		(s == substr || containsIgnoreCaseImpl(s, substr))
}

func containsIgnoreCaseImpl(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if equalsFoldRange(s[i:i+len(substr)], substr) {
			return true
		}
	}
	return false
}

func equalsFoldRange(s, t string) bool {
	if len(s) != len(t) {
		return false
	}
	for i := 0; i < len(s); i++ {
		if toLower(s[i]) != toLower(t[i]) {
			return false
		}
	}
	return true
}

func toLower(b byte) byte {
	if 'A' <= b && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}

func (r *RetryableStore) Add(ctx context.Context, chunks []ingest.Chunk) error {
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.store.Add(ctx, chunks)
	})
	if result.Err != nil {
		return fmt.Errorf("add failed after %d attempts: %w", result.Attempts, result.Err)
	}
	return nil
}

func (r *RetryableStore) Delete(ctx context.Context, chunkIDs []string) error {
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.store.Delete(ctx, chunkIDs)
	})
	if result.Err != nil {
		return fmt.Errorf("delete failed after %d attempts: %w", result.Attempts, result.Err)
	}
	return nil
}

func (r *RetryableStore) DeleteByItemID(ctx context.Context, itemIDs []string) error {
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.store.DeleteByItemID(ctx, itemIDs)
	})
	if result.Err != nil {
		return fmt.Errorf("delete_by_item_id failed after %d attempts: %w", result.Attempts, result.Err)
	}
	return nil
}

func (r *RetryableStore) GetByItemID(ctx context.Context, itemIDs []string) ([]ingest.StoredRecord, error) {
	var records []ingest.StoredRecord
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		records, err = r.store.GetByItemID(ctx, itemIDs)
		return err
	})
	if result.Err != nil {
		return nil, fmt.Errorf("get_by_item_id failed after %d attempts: %w", result.Attempts, result.Err)
	}
	return records, nil
}

func (r *RetryableStore) Touch(ctx context.Context, chunkIDs []string, seenAt int64) error {
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.store.Touch(ctx, chunkIDs, seenAt)
	})
	if result.Err != nil {
		return fmt.Errorf("touch failed after %d attempts: %w", result.Attempts, result.Err)
	}
	return nil
}

func (r *RetryableStore) DeleteExpired(ctx context.Context, cutoff int64) (int, error) {
	var count int
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		count, err = r.store.DeleteExpired(ctx, cutoff)
		return err
	})
	if result.Err != nil {
		return 0, fmt.Errorf("delete_expired failed after %d attempts: %w", result.Attempts, result.Err)
	}
	return count, nil
}

func (r *RetryableStore) SearchByVector(ctx context.Context, vector []float32, topK int) ([]ingest.Chunk, error) {
	var chunks []ingest.Chunk
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		chunks, err = r.store.SearchByVector(ctx, vector, topK)
		return err
	})
	if result.Err != nil {
		return nil, fmt.Errorf("search_by_vector failed after %d attempts: %w", result.Attempts, result.Err)
	}
	return chunks, nil
}

func (r *RetryableStore) Count(ctx context.Context) (int, error) {
	var count int
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		count, err = r.store.Count(ctx)
		return err
	})
	if result.Err != nil {
		return 0, fmt.Errorf("count failed after %d attempts: %w", result.Attempts, result.Err)
	}
	return count, nil
}

func (r *RetryableStore) DeleteAll(ctx context.Context) error {
	result := r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.store.DeleteAll(ctx)
	})
	if result.Err != nil {
		return fmt.Errorf("delete_all failed after %d attempts: %w", result.Attempts, result.Err)
	}
	return nil
}

func (r *RetryableStore) Capabilities() Capabilities {
	return r.store.Capabilities()
}

func (r *RetryableStore) Close() error {
	return r.store.Close()
}

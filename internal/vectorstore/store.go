// Package vectorstore defines the uniform adapter contract every backend
// (Qdrant, Chroma, pgvector, Pinecone, Weaviate, Milvus, OpenSearch)
// implements, plus an in-memory fake used by tests and local runs.
package vectorstore

import (
	"context"

	"lerian-mcp-memory/pkg/ingest"
)

// Capabilities describes optional behavior a backend may or may not
// support natively. The Reconciliation Engine checks these instead of
// branching on backend name.
type Capabilities struct {
	// IDPrefix means records are stored under "<item_id>#<chunk_id>" ids
	// so GetByItemID/DeleteByItemID can list an item's records by id prefix.
	IDPrefix bool
	// Count means Count returns the total record count; the Engine calls
	// Count only when this is set, for its empty-store short-circuit.
	Count bool
	// PredicateDelete means DeleteExpired can be pushed down as a
	// server-side filtered delete instead of a fetch-then-delete loop.
	PredicateDelete bool
}

// Store is the uniform contract the Reconciliation Engine drives. Every
// backend adapter implements it the same way regardless of its native
// query language, so the engine never branches on backend identity.
type Store interface {
	// Add inserts new chunks, embedding vector included.
	Add(ctx context.Context, chunks []ingest.Chunk) error

	// Delete removes records by chunk_id.
	Delete(ctx context.Context, chunkIDs []string) error

	// DeleteByItemID removes every record sharing the given item_ids.
	DeleteByItemID(ctx context.Context, itemIDs []string) error

	// GetByItemID returns the stored records (identity fields only, no
	// vector) for the given item_ids, used to diff against incoming
	// chunks during reconciliation.
	GetByItemID(ctx context.Context, itemIDs []string) ([]ingest.StoredRecord, error)

	// Touch refreshes last_seen_at for the given chunk_ids.
	Touch(ctx context.Context, chunkIDs []string, seenAt int64) error

	// DeleteExpired removes every record whose last_seen_at is strictly
	// older than cutoff, and reports how many were removed.
	DeleteExpired(ctx context.Context, cutoff int64) (int, error)

	// SearchByVector returns the topK nearest chunks to the query vector.
	SearchByVector(ctx context.Context, vector []float32, topK int) ([]ingest.Chunk, error)

	// Count reports the total number of stored records, when the backend
	// supports it cheaply. Callers should check Capabilities().Count first.
	Count(ctx context.Context) (int, error)

	// DeleteAll wipes every record in the configured namespace. Test-only:
	// production code never calls it.
	DeleteAll(ctx context.Context) error

	// Capabilities reports which optional behaviors this backend supports.
	Capabilities() Capabilities

	// Close releases any held connections.
	Close() error
}

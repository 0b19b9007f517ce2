package reconcile

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lerian-mcp-memory/internal/vectorstore"
	"lerian-mcp-memory/pkg/ingest"
)

func seedChunk(itemID, chunkID, checksum string, lastSeen int64, text string) ingest.Chunk {
	return ingest.Chunk{ChunkID: chunkID, ItemID: itemID, Checksum: checksum, LastSeenAt: lastSeen, Text: text}
}

func seededStore() *vectorstore.MemoryStore {
	store := vectorstore.NewMemoryStore()
	_ = store.Add(context.Background(), []ingest.Chunk{
		seedChunk("id1", "UUID10", "1", 0, "Expired->del"),
		seedChunk("id2", "UUID20", "2", 1, "Old->not-del"),
		seedChunk("id3", "UUID30", "3", 1, "Unchanged->upt-meta"),
		seedChunk("id4", "UUID4a", "4", 1, "Changed->del"),
		seedChunk("id4", "UUID4b", "4", 1, "Changed->del"),
		seedChunk("id5", "UUID5a", "5", 1, "Changed->del"),
	})
	return store
}

func incomingBatch() []ingest.Chunk {
	return []ingest.Chunk{
		seedChunk("id3", "UUID30", "3", 2, ""),
		seedChunk("id4", "UUID4c", "4c", 2, ""),
		seedChunk("id5", "UUID5b", "5bc", 2, ""),
		seedChunk("id5", "UUID5c", "5bc", 2, ""),
		seedChunk("id5", "UUID60", "6", 2, ""),
	}
}

func chunkIDsOf(records []ingest.StoredRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ChunkID
	}
	sort.Strings(ids)
	return ids
}

func chunkIDsOfChunks(chunks []ingest.Chunk) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ChunkID
	}
	sort.Strings(ids)
	return ids
}

func TestDeltaPlan(t *testing.T) {
	store := seededStore()
	engine := New(store, 4)

	plan, err := engine.buildPlan(context.Background(), incomingBatch())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"UUID4c", "UUID5b", "UUID5c", "UUID60"}, chunkIDsOfChunks(plan.Adds))
	assert.ElementsMatch(t, []string{"UUID30"}, chunkIDsOf(plan.Touches))
	assert.ElementsMatch(t, []string{"UUID4a", "UUID4b", "UUID5a"}, chunkIDsOf(plan.Deletes))
}

func TestDeltaReconcileAndExpire(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	engine := New(store, 4)

	_, err := engine.Reconcile(ctx, incomingBatch(), StrategyDelta)
	require.NoError(t, err)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	removed, err := engine.Expire(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	n, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestDeltaReconcileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	engine := New(store, 4)

	_, err := engine.Reconcile(ctx, incomingBatch(), StrategyDelta)
	require.NoError(t, err)

	plan, err := engine.buildPlan(ctx, incomingBatch())
	require.NoError(t, err)

	assert.Empty(t, plan.Adds)
	assert.Empty(t, plan.Deletes)
	assert.ElementsMatch(t, []string{"UUID30", "UUID4c", "UUID5b", "UUID5c", "UUID60"}, chunkIDsOf(plan.Touches))
}

func TestUpsertReplacesOnlyTargetedItem(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	engine := New(store, 4)

	_, err := engine.Reconcile(ctx, []ingest.Chunk{seedChunk("id4", "UUID4c", "4c", 2, "")}, StrategyUpsert)
	require.NoError(t, err)

	records, err := store.GetByItemID(ctx, []string{"id4"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"UUID4c"}, chunkIDsOf(records))

	records, err = store.GetByItemID(ctx, []string{"id3"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"UUID30"}, chunkIDsOf(records))
}

func TestAppendAddsEveryChunkUnconditionally(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	engine := New(store, 4)

	_, err := engine.Reconcile(ctx, incomingBatch(), StrategyAppend)
	require.NoError(t, err)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 11, n)
}

func TestReconcileEmptyBatchIsNoop(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	engine := New(store, 4)

	result, err := engine.Reconcile(ctx, nil, StrategyDelta)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Added+result.Touched+result.Deleted)
}

func TestReconcileEmptyStoreAddsEverything(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemoryStore()
	engine := New(store, 4)

	result, err := engine.Reconcile(ctx, incomingBatch(), StrategyDelta)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Added)
}

func TestExpireDisabledWhenCutoffNonPositive(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	engine := New(store, 4)

	removed, err := engine.Expire(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

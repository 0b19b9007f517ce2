package vectorstore

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"lerian-mcp-memory/internal/config"
	"lerian-mcp-memory/pkg/ingest"
)

// MilvusStore implements Store against a single Milvus collection with a
// scalar item_id/checksum/last_seen_at schema plus a float vector field,
// using Milvus's boolean expression language for predicate deletes.
type MilvusStore struct {
	client     client.Client
	collection string
	vectorDim  int
}

// NewMilvusStore creates a Milvus-backed Store. Call Connect before use.
func NewMilvusStore(cfg *config.MilvusConfig, vectorDim int) *MilvusStore {
	return &MilvusStore{collection: cfg.Collection, vectorDim: vectorDim}
}

// Connect dials Milvus and ensures the collection and index exist.
func (ms *MilvusStore) Connect(ctx context.Context, cfg *config.MilvusConfig) error {
	c, err := client.NewClient(ctx, client.Config{Address: cfg.Address, Username: cfg.Username, Password: cfg.Password})
	if err != nil {
		return fmt.Errorf("milvus: connect: %w", err)
	}
	ms.client = c

	exists, err := c.HasCollection(ctx, ms.collection)
	if err != nil {
		return fmt.Errorf("milvus: has collection: %w", err)
	}
	if exists {
		return c.LoadCollection(ctx, ms.collection, false)
	}

	schema := &entity.Schema{
		CollectionName: ms.collection,
		Fields: []*entity.Field{
			{Name: "chunk_id", DataType: entity.FieldTypeVarChar, PrimaryKey: true, TypeParams: map[string]string{"max_length": "128"}},
			{Name: "item_id", DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "128"}},
			{Name: "checksum", DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "128"}},
			{Name: "last_seen_at", DataType: entity.FieldTypeInt64},
			{Name: "embedding", DataType: entity.FieldTypeFloatVector, TypeParams: map[string]string{"dim": fmt.Sprintf("%d", ms.vectorDim)}},
		},
	}
	if err := c.CreateCollection(ctx, schema, 1); err != nil {
		return fmt.Errorf("milvus: create collection: %w", err)
	}
	idx, err := entity.NewIndexIvfFlat(entity.COSINE, 128)
	if err != nil {
		return fmt.Errorf("milvus: build index params: %w", err)
	}
	if err := c.CreateIndex(ctx, ms.collection, "embedding", idx, false); err != nil {
		return fmt.Errorf("milvus: create index: %w", err)
	}
	return c.LoadCollection(ctx, ms.collection, false)
}

func (ms *MilvusStore) Add(ctx context.Context, chunks []ingest.Chunk) error {
	chunkIDs := make([]string, len(chunks))
	itemIDs := make([]string, len(chunks))
	checksums := make([]string, len(chunks))
	lastSeen := make([]int64, len(chunks))
	vectors := make([][]float32, len(chunks))
	for i, c := range chunks {
		chunkIDs[i] = c.ChunkID
		itemIDs[i] = c.ItemID
		checksums[i] = c.Checksum
		lastSeen[i] = c.LastSeenAt
		vectors[i] = c.Vector
	}
	_, err := ms.client.Insert(ctx, ms.collection, "",
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnVarChar("item_id", itemIDs),
		entity.NewColumnVarChar("checksum", checksums),
		entity.NewColumnInt64("last_seen_at", lastSeen),
		entity.NewColumnFloatVector("embedding", ms.vectorDim, vectors),
	)
	if err != nil {
		return fmt.Errorf("milvus: add: %w", err)
	}
	return ms.client.Flush(ctx, ms.collection, false)
}

func (ms *MilvusStore) Delete(ctx context.Context, chunkIDs []string) error {
	return ms.client.Delete(ctx, ms.collection, "", quotedInExpr("chunk_id", chunkIDs))
}

func (ms *MilvusStore) DeleteByItemID(ctx context.Context, itemIDs []string) error {
	return ms.client.Delete(ctx, ms.collection, "", quotedInExpr("item_id", itemIDs))
}

func (ms *MilvusStore) GetByItemID(ctx context.Context, itemIDs []string) ([]ingest.StoredRecord, error) {
	result, err := ms.client.Query(ctx, ms.collection, nil, quotedInExpr("item_id", itemIDs),
		[]string{"chunk_id", "item_id", "checksum", "last_seen_at"})
	if err != nil {
		return nil, fmt.Errorf("milvus: get_by_item_id: %w", err)
	}
	return columnsToRecords(result)
}

func (ms *MilvusStore) Touch(ctx context.Context, chunkIDs []string, seenAt int64) error {
	lastSeen := make([]int64, len(chunkIDs))
	ids := make([]string, len(chunkIDs))
	for i, id := range chunkIDs {
		ids[i] = id
		lastSeen[i] = seenAt
	}
	_, err := ms.client.Upsert(ctx, ms.collection, "",
		entity.NewColumnVarChar("chunk_id", ids),
		entity.NewColumnInt64("last_seen_at", lastSeen),
	)
	if err != nil {
		return fmt.Errorf("milvus: touch: %w", err)
	}
	return nil
}

func (ms *MilvusStore) DeleteExpired(ctx context.Context, cutoff int64) (int, error) {
	expr := fmt.Sprintf("last_seen_at < %d", cutoff)
	result, err := ms.client.Query(ctx, ms.collection, nil, expr, []string{"chunk_id"})
	if err != nil {
		return 0, fmt.Errorf("milvus: delete_expired scan: %w", err)
	}
	records, err := columnsToRecords(result)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	if err := ms.client.Delete(ctx, ms.collection, "", expr); err != nil {
		return 0, fmt.Errorf("milvus: delete_expired: %w", err)
	}
	return len(records), nil
}

func (ms *MilvusStore) SearchByVector(ctx context.Context, vector []float32, topK int) ([]ingest.Chunk, error) {
	sp, err := entity.NewIndexIvfFlatSearchParam(10)
	if err != nil {
		return nil, fmt.Errorf("milvus: search params: %w", err)
	}
	result, err := ms.client.Search(ctx, ms.collection, nil, "", []string{"chunk_id", "item_id", "checksum", "last_seen_at"},
		[]entity.Vector{entity.FloatVector(vector)}, "embedding", entity.COSINE, topK, sp)
	if err != nil {
		return nil, fmt.Errorf("milvus: search_by_vector: %w", err)
	}
	var out []ingest.Chunk
	for _, r := range result {
		records, err := columnsToRecords(r.Fields)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			out = append(out, ingest.Chunk{ChunkID: rec.ChunkID, ItemID: rec.ItemID, Checksum: rec.Checksum, LastSeenAt: rec.LastSeenAt})
		}
	}
	return out, nil
}

func (ms *MilvusStore) Count(ctx context.Context) (int, error) {
	stats, err := ms.client.GetCollectionStatistics(ctx, ms.collection)
	if err != nil {
		return 0, fmt.Errorf("milvus: count: %w", err)
	}
	var n int
	fmt.Sscanf(stats["row_count"], "%d", &n)
	return n, nil
}

func (ms *MilvusStore) DeleteAll(ctx context.Context) error {
	return ms.client.Delete(ctx, ms.collection, "", "chunk_id != ''")
}

func (ms *MilvusStore) Capabilities() Capabilities {
	return Capabilities{IDPrefix: false, Count: true, PredicateDelete: true}
}

func (ms *MilvusStore) Close() error {
	return ms.client.Close()
}

func quotedInExpr(field string, values []string) string {
	expr := field + " in ["
	for i, v := range values {
		if i > 0 {
			expr += ", "
		}
		expr += fmt.Sprintf("%q", v)
	}
	return expr + "]"
}

func columnsToRecords(columns []entity.Column) ([]ingest.StoredRecord, error) {
	var chunkIDs, itemIDs, checksums []string
	var lastSeen []int64
	for _, col := range columns {
		switch col.Name() {
		case "chunk_id":
			c, ok := col.(*entity.ColumnVarChar)
			if ok {
				chunkIDs = c.Data()
			}
		case "item_id":
			c, ok := col.(*entity.ColumnVarChar)
			if ok {
				itemIDs = c.Data()
			}
		case "checksum":
			c, ok := col.(*entity.ColumnVarChar)
			if ok {
				checksums = c.Data()
			}
		case "last_seen_at":
			c, ok := col.(*entity.ColumnInt64)
			if ok {
				lastSeen = c.Data()
			}
		}
	}
	out := make([]ingest.StoredRecord, len(chunkIDs))
	for i := range chunkIDs {
		r := ingest.StoredRecord{ChunkID: chunkIDs[i]}
		if i < len(itemIDs) {
			r.ItemID = itemIDs[i]
		}
		if i < len(checksums) {
			r.Checksum = checksums[i]
		}
		if i < len(lastSeen) {
			r.LastSeenAt = lastSeen[i]
		}
		out[i] = r
	}
	return out, nil
}

package vectorstore

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"lerian-mcp-memory/internal/config"
	"lerian-mcp-memory/internal/logging"
	"lerian-mcp-memory/pkg/ingest"
)

const defaultQdrantVectorSize = 1536

// QdrantStore implements Store against a Qdrant collection. Records are
// addressed by chunk_id (stored as the point UUID); item_id, checksum and
// last_seen_at live in the point payload so reconciliation can diff
// against them without ever reading back a vector.
type QdrantStore struct {
	client         *qdrant.Client
	collectionName string
	vectorSize     int
}

// NewQdrantStore creates a Qdrant-backed Store. Call Connect before use.
func NewQdrantStore(cfg *config.QdrantConfig) *QdrantStore {
	collection := cfg.Collection
	if collection == "" {
		collection = "reconciliation"
	}
	return &QdrantStore{collectionName: collection, vectorSize: defaultQdrantVectorSize}
}

// Connect dials Qdrant and ensures the collection exists.
func (qs *QdrantStore) Connect(ctx context.Context, cfg *config.QdrantConfig) error {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:                   cfg.Host,
		Port:                   cfg.Port,
		APIKey:                 cfg.APIKey,
		UseTLS:                 cfg.UseTLS,
		SkipCompatibilityCheck: true,
	})
	if err != nil {
		return fmt.Errorf("qdrant: connect: %w", err)
	}
	qs.client = client

	collections, err := client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("qdrant: list collections: %w", err)
	}
	for _, name := range collections {
		if name == qs.collectionName {
			return nil
		}
	}

	if err := client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: qs.collectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(qs.vectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	}); err != nil {
		return fmt.Errorf("qdrant: create collection %s: %w", qs.collectionName, err)
	}
	logging.Info("created qdrant collection", "collection", qs.collectionName)
	return nil
}

func (qs *QdrantStore) Add(ctx context.Context, chunks []ingest.Chunk) error {
	points := make([]*qdrant.PointStruct, len(chunks))
	for i, c := range chunks {
		points[i] = chunkToPoint(c)
	}
	_, err := qs.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: qs.collectionName,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: add: %w", err)
	}
	return nil
}

func (qs *QdrantStore) Delete(ctx context.Context, chunkIDs []string) error {
	ids := make([]*qdrant.PointId, len(chunkIDs))
	for i, id := range chunkIDs {
		ids[i] = stringToPointID(id)
	}
	_, err := qs.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: qs.collectionName,
		Points:         pointsSelector(ids),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete: %w", err)
	}
	return nil
}

func (qs *QdrantStore) DeleteByItemID(ctx context.Context, itemIDs []string) error {
	_, err := qs.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: qs.collectionName,
		Points:         filterSelector(itemIDFilter(itemIDs)),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete_by_item_id: %w", err)
	}
	return nil
}

func (qs *QdrantStore) GetByItemID(ctx context.Context, itemIDs []string) ([]ingest.StoredRecord, error) {
	points, err := qs.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: qs.collectionName,
		Filter:         itemIDFilter(itemIDs),
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &qdrant.WithVectorsSelector{SelectorOptions: &qdrant.WithVectorsSelector_Enable{Enable: false}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: get_by_item_id: %w", err)
	}
	out := make([]ingest.StoredRecord, 0, len(points))
	for _, p := range points {
		out = append(out, payloadToRecord(pointIDToString(p.GetId()), p.GetPayload()))
	}
	return out, nil
}

func (qs *QdrantStore) Touch(ctx context.Context, chunkIDs []string, seenAt int64) error {
	points := make([]*qdrant.PointStruct, 0, len(chunkIDs))
	existing, err := qs.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: qs.collectionName,
		Ids:            pointIDs(chunkIDs),
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &qdrant.WithVectorsSelector{SelectorOptions: &qdrant.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return fmt.Errorf("qdrant: touch fetch: %w", err)
	}
	for _, p := range existing {
		payload := p.GetPayload()
		payload["last_seen_at"] = int64Value(seenAt)
		var vec []float32
		if v := p.GetVectors(); v != nil && v.GetVector() != nil {
			vec = v.GetVector().GetData()
		}
		points = append(points, &qdrant.PointStruct{
			Id:      p.GetId(),
			Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: vec}}},
			Payload: payload,
		})
	}
	if len(points) == 0 {
		return nil
	}
	_, err = qs.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: qs.collectionName, Points: points})
	if err != nil {
		return fmt.Errorf("qdrant: touch: %w", err)
	}
	return nil
}

func (qs *QdrantStore) DeleteExpired(ctx context.Context, cutoff int64) (int, error) {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			{ConditionOneOf: &qdrant.Condition_Field{Field: &qdrant.FieldCondition{
				Key:   "last_seen_at",
				Range: &qdrant.Range{Lt: qdrant.PtrOf(float64(cutoff))},
			}}},
		},
	}
	n, err := qs.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: qs.collectionName,
		Filter:         filter,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: delete_expired scan: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	_, err = qs.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: qs.collectionName,
		Points:         filterSelector(filter),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: delete_expired: %w", err)
	}
	return int(n), nil
}

func (qs *QdrantStore) SearchByVector(ctx context.Context, vector []float32, topK int) ([]ingest.Chunk, error) {
	result, err := qs.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: qs.collectionName,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search_by_vector: %w", err)
	}
	chunks := make([]ingest.Chunk, 0, len(result))
	for _, p := range result {
		c := payloadToChunk(pointIDToString(p.GetId()), p.GetPayload())
		chunks = append(chunks, c)
	}
	return chunks, nil
}

func (qs *QdrantStore) Count(ctx context.Context) (int, error) {
	n, err := qs.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: qs.collectionName,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count: %w", err)
	}
	return int(n), nil
}

func (qs *QdrantStore) DeleteAll(ctx context.Context) error {
	_, err := qs.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: qs.collectionName,
		Points:         filterSelector(&qdrant.Filter{}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete_all: %w", err)
	}
	return nil
}

func (qs *QdrantStore) Capabilities() Capabilities {
	return Capabilities{IDPrefix: false, Count: true, PredicateDelete: true}
}

func (qs *QdrantStore) Close() error {
	if qs.client == nil {
		return nil
	}
	return qs.client.Close()
}

func chunkToPoint(c ingest.Chunk) *qdrant.PointStruct {
	payload := map[string]*qdrant.Value{
		"item_id":      stringValue(c.ItemID),
		"checksum":     stringValue(c.Checksum),
		"text":         stringValue(c.Text),
		"last_seen_at": int64Value(c.LastSeenAt),
		"chunk_index":  int64Value(int64(c.ChunkIndex)),
		"chunk_count":  int64Value(int64(c.ChunkCount)),
	}
	for k, v := range c.Metadata {
		payload["meta_"+k] = stringValue(fmt.Sprintf("%v", v))
	}
	return &qdrant.PointStruct{
		Id:      stringToPointID(c.ChunkID),
		Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: c.Vector}}},
		Payload: payload,
	}
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func int64Value(i int64) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: i}}
}

func stringToPointID(s string) *qdrant.PointId {
	return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: s}}
}

func pointIDs(ids []string) []*qdrant.PointId {
	out := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		out[i] = stringToPointID(id)
	}
	return out
}

func pointsSelector(ids []*qdrant.PointId) *qdrant.PointsSelector {
	return &qdrant.PointsSelector{PointsSelectorOneOf: &qdrant.PointsSelector_Points{Points: &qdrant.PointsIdsList{Ids: ids}}}
}

func filterSelector(filter *qdrant.Filter) *qdrant.PointsSelector {
	return &qdrant.PointsSelector{PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter}}
}

func payloadToRecord(chunkID string, payload map[string]*qdrant.Value) ingest.StoredRecord {
	return ingest.StoredRecord{
		ChunkID:    chunkID,
		ItemID:     payload["item_id"].GetStringValue(),
		Checksum:   payload["checksum"].GetStringValue(),
		LastSeenAt: payload["last_seen_at"].GetIntegerValue(),
		Metadata:   extractMeta(payload),
	}
}

func payloadToChunk(chunkID string, payload map[string]*qdrant.Value) ingest.Chunk {
	return ingest.Chunk{
		ChunkID:    chunkID,
		ItemID:     payload["item_id"].GetStringValue(),
		Checksum:   payload["checksum"].GetStringValue(),
		Text:       payload["text"].GetStringValue(),
		LastSeenAt: payload["last_seen_at"].GetIntegerValue(),
		ChunkIndex: int(payload["chunk_index"].GetIntegerValue()),
		ChunkCount: int(payload["chunk_count"].GetIntegerValue()),
		Metadata:   extractMeta(payload),
	}
}

func extractMeta(payload map[string]*qdrant.Value) map[string]any {
	meta := make(map[string]any)
	for k, v := range payload {
		if len(k) > 5 && k[:5] == "meta_" {
			meta[k[5:]] = v.GetStringValue()
		}
	}
	return meta
}

func itemIDFilter(itemIDs []string) *qdrant.Filter {
	matches := make([]string, len(itemIDs))
	copy(matches, itemIDs)
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			{ConditionOneOf: &qdrant.Condition_Field{Field: &qdrant.FieldCondition{
				Key:   "item_id",
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keywords{Keywords: &qdrant.RepeatedStrings{Strings: matches}}},
			}}},
		},
	}
}

func pointIDToString(id *qdrant.PointId) string {
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return fmt.Sprintf("%d", id.GetNum())
}

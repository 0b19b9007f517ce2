package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"

	"lerian-mcp-memory/internal/config"
	"lerian-mcp-memory/pkg/ingest"
)

// ChromaStore implements Store against a Chroma REST collection.
type ChromaStore struct {
	client     *resty.Client
	collection string
}

type chromaCollection struct {
	Name string `json:"name"`
}

type chromaGetResponse struct {
	IDs       []string                 `json:"ids"`
	Documents []string                 `json:"documents"`
	Metadatas []map[string]interface{} `json:"metadatas"`
}

type chromaQueryResponse struct {
	IDs        [][]string                 `json:"ids"`
	Documents  [][]string                 `json:"documents"`
	Metadatas  [][]map[string]interface{} `json:"metadatas"`
	Embeddings [][][]float32              `json:"embeddings"`
}

// NewChromaStore creates a Chroma-backed Store.
func NewChromaStore(cfg *config.ChromaConfig) *ChromaStore {
	client := resty.New()
	scheme := "http"
	if cfg.SSL {
		scheme = "https"
	}
	client.SetBaseURL(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port))
	if cfg.AuthToken != "" {
		client.SetAuthToken(cfg.AuthToken)
	}
	return &ChromaStore{client: client, collection: cfg.CollectionName}
}

// Connect ensures the collection exists, creating it if necessary.
func (cs *ChromaStore) Connect(ctx context.Context) error {
	resp, err := cs.client.R().SetContext(ctx).Get("/api/v1/collections")
	if err != nil {
		return fmt.Errorf("chroma: list collections: %w", err)
	}
	var collections []chromaCollection
	if err := json.Unmarshal(resp.Body(), &collections); err != nil {
		return fmt.Errorf("chroma: parse collections: %w", err)
	}
	for _, c := range collections {
		if c.Name == cs.collection {
			return nil
		}
	}

	_, err = cs.client.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{"name": cs.collection}).
		Post("/api/v1/collections")
	if err != nil {
		return fmt.Errorf("chroma: create collection: %w", err)
	}
	return nil
}

func (cs *ChromaStore) Add(ctx context.Context, chunks []ingest.Chunk) error {
	ids := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	documents := make([]string, len(chunks))
	metadatas := make([]map[string]any, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ChunkID
		embeddings[i] = c.Vector
		documents[i] = c.Text
		metadatas[i] = recordMetadata(c.ItemID, c.Checksum, c.LastSeenAt, c.Metadata)
	}

	_, err := cs.client.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{
			"ids":        ids,
			"embeddings": embeddings,
			"documents":  documents,
			"metadatas":  metadatas,
		}).
		Post(cs.collectionPath("/upsert"))
	if err != nil {
		return fmt.Errorf("chroma: add: %w", err)
	}
	return nil
}

func (cs *ChromaStore) Delete(ctx context.Context, chunkIDs []string) error {
	_, err := cs.client.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{"ids": chunkIDs}).
		Post(cs.collectionPath("/delete"))
	if err != nil {
		return fmt.Errorf("chroma: delete: %w", err)
	}
	return nil
}

func (cs *ChromaStore) DeleteByItemID(ctx context.Context, itemIDs []string) error {
	_, err := cs.client.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{"where": map[string]any{"item_id": map[string]any{"$in": itemIDs}}}).
		Post(cs.collectionPath("/delete"))
	if err != nil {
		return fmt.Errorf("chroma: delete_by_item_id: %w", err)
	}
	return nil
}

func (cs *ChromaStore) GetByItemID(ctx context.Context, itemIDs []string) ([]ingest.StoredRecord, error) {
	resp, err := cs.client.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{"where": map[string]any{"item_id": map[string]any{"$in": itemIDs}}}).
		Post(cs.collectionPath("/get"))
	if err != nil {
		return nil, fmt.Errorf("chroma: get_by_item_id: %w", err)
	}
	var body chromaGetResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("chroma: parse get response: %w", err)
	}
	out := make([]ingest.StoredRecord, len(body.IDs))
	for i, id := range body.IDs {
		out[i] = metadataToRecord(id, body.Metadatas[i])
	}
	return out, nil
}

func (cs *ChromaStore) Touch(ctx context.Context, chunkIDs []string, seenAt int64) error {
	metadatas := make([]map[string]any, len(chunkIDs))
	for i := range chunkIDs {
		metadatas[i] = map[string]any{"last_seen_at": seenAt}
	}
	_, err := cs.client.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{"ids": chunkIDs, "metadatas": metadatas}).
		Post(cs.collectionPath("/update"))
	if err != nil {
		return fmt.Errorf("chroma: touch: %w", err)
	}
	return nil
}

func (cs *ChromaStore) DeleteExpired(ctx context.Context, cutoff int64) (int, error) {
	resp, err := cs.client.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{"where": map[string]any{"last_seen_at": map[string]any{"$lt": cutoff}}}).
		Post(cs.collectionPath("/get"))
	if err != nil {
		return 0, fmt.Errorf("chroma: delete_expired scan: %w", err)
	}
	var body chromaGetResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return 0, fmt.Errorf("chroma: parse scan response: %w", err)
	}
	if len(body.IDs) == 0 {
		return 0, nil
	}
	_, err = cs.client.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{"where": map[string]any{"last_seen_at": map[string]any{"$lt": cutoff}}}).
		Post(cs.collectionPath("/delete"))
	if err != nil {
		return 0, fmt.Errorf("chroma: delete_expired: %w", err)
	}
	return len(body.IDs), nil
}

func (cs *ChromaStore) SearchByVector(ctx context.Context, vector []float32, topK int) ([]ingest.Chunk, error) {
	resp, err := cs.client.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{
			"query_embeddings": [][]float32{vector},
			"n_results":        topK,
			"include":          []string{"documents", "metadatas", "embeddings"},
		}).
		Post(cs.collectionPath("/query"))
	if err != nil {
		return nil, fmt.Errorf("chroma: search_by_vector: %w", err)
	}
	var body chromaQueryResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, fmt.Errorf("chroma: parse query response: %w", err)
	}
	if len(body.IDs) == 0 {
		return nil, nil
	}
	out := make([]ingest.Chunk, len(body.IDs[0]))
	for i, id := range body.IDs[0] {
		c := metadataToChunk(id, body.Metadatas[0][i])
		c.Text = body.Documents[0][i]
		if len(body.Embeddings) > 0 {
			c.Vector = body.Embeddings[0][i]
		}
		out[i] = c
	}
	return out, nil
}

func (cs *ChromaStore) Count(ctx context.Context) (int, error) {
	resp, err := cs.client.R().SetContext(ctx).Get(cs.collectionPath("/count"))
	if err != nil {
		return 0, fmt.Errorf("chroma: count: %w", err)
	}
	var n int
	if err := json.Unmarshal(resp.Body(), &n); err != nil {
		return 0, fmt.Errorf("chroma: parse count: %w", err)
	}
	return n, nil
}

func (cs *ChromaStore) DeleteAll(ctx context.Context) error {
	_, err := cs.client.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{"where": map[string]any{}}).
		Post(cs.collectionPath("/delete"))
	if err != nil {
		return fmt.Errorf("chroma: delete_all: %w", err)
	}
	return nil
}

func (cs *ChromaStore) Capabilities() Capabilities {
	return Capabilities{IDPrefix: false, Count: true, PredicateDelete: true}
}

func (cs *ChromaStore) Close() error { return nil }

func (cs *ChromaStore) collectionPath(op string) string {
	return "/api/v1/collections/" + cs.collection + op
}

func recordMetadata(itemID, checksum string, lastSeenAt int64, meta map[string]any) map[string]any {
	out := map[string]any{
		"item_id":      itemID,
		"checksum":     checksum,
		"last_seen_at": lastSeenAt,
	}
	for k, v := range meta {
		out["meta_"+k] = v
	}
	return out
}

func metadataToRecord(chunkID string, meta map[string]interface{}) ingest.StoredRecord {
	return ingest.StoredRecord{
		ChunkID:    chunkID,
		ItemID:     stringField(meta, "item_id"),
		Checksum:   stringField(meta, "checksum"),
		LastSeenAt: int64Field(meta, "last_seen_at"),
		Metadata:   userMetadata(meta),
	}
}

func metadataToChunk(chunkID string, meta map[string]interface{}) ingest.Chunk {
	return ingest.Chunk{
		ChunkID:    chunkID,
		ItemID:     stringField(meta, "item_id"),
		Checksum:   stringField(meta, "checksum"),
		LastSeenAt: int64Field(meta, "last_seen_at"),
		Metadata:   userMetadata(meta),
	}
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func int64Field(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func userMetadata(m map[string]interface{}) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		if len(k) > 5 && k[:5] == "meta_" {
			out[k[5:]] = v
		}
	}
	return out
}

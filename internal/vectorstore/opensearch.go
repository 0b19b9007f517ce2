package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	opensearch "github.com/opensearch-project/opensearch-go/v2"
	opensearchapi "github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"lerian-mcp-memory/internal/config"
	"lerian-mcp-memory/pkg/ingest"
)

// OpenSearchStore implements Store against a single OpenSearch index
// using the k-NN plugin for the vector field and bulk requests for
// batched adds.
type OpenSearchStore struct {
	client *opensearch.Client
	index  string
}

// NewOpenSearchStore creates an OpenSearch-backed Store. Call Connect
// before use.
func NewOpenSearchStore(cfg *config.OpenSearchConfig) *OpenSearchStore {
	return &OpenSearchStore{index: cfg.Index}
}

// Connect dials OpenSearch and ensures the index exists with a k-NN
// vector mapping.
func (os *OpenSearchStore) Connect(ctx context.Context, cfg *config.OpenSearchConfig, vectorDim int) error {
	client, err := opensearch.NewClient(opensearch.Config{Addresses: cfg.Addresses, Username: cfg.Username, Password: cfg.Password})
	if err != nil {
		return fmt.Errorf("opensearch: new client: %w", err)
	}
	os.client = client

	existsResp, err := opensearchapi.IndicesExistsRequest{Index: []string{os.index}}.Do(ctx, client)
	if err != nil {
		return fmt.Errorf("opensearch: indices exists: %w", err)
	}
	defer existsResp.Body.Close()
	if existsResp.StatusCode == 200 {
		return nil
	}

	mapping := fmt.Sprintf(`{
		"settings": {"index.knn": true},
		"mappings": {"properties": {
			"item_id": {"type": "keyword"},
			"checksum": {"type": "keyword"},
			"text": {"type": "text"},
			"last_seen_at": {"type": "long"},
			"embedding": {"type": "knn_vector", "dimension": %d}
		}}
	}`, vectorDim)
	createResp, err := opensearchapi.IndicesCreateRequest{Index: os.index, Body: strings.NewReader(mapping)}.Do(ctx, client)
	if err != nil {
		return fmt.Errorf("opensearch: create index: %w", err)
	}
	defer createResp.Body.Close()
	return nil
}

func (os *OpenSearchStore) Add(ctx context.Context, chunks []ingest.Chunk) error {
	var buf bytes.Buffer
	for _, c := range chunks {
		meta := map[string]any{"index": map[string]any{"_index": os.index, "_id": c.ChunkID}}
		metaLine, _ := json.Marshal(meta)
		buf.Write(metaLine)
		buf.WriteByte('\n')

		doc := map[string]any{
			"item_id":      c.ItemID,
			"checksum":     c.Checksum,
			"text":         c.Text,
			"last_seen_at": c.LastSeenAt,
			"embedding":    c.Vector,
		}
		docLine, _ := json.Marshal(doc)
		buf.Write(docLine)
		buf.WriteByte('\n')
	}
	resp, err := opensearchapi.BulkRequest{Body: bytes.NewReader(buf.Bytes())}.Do(ctx, os.client)
	if err != nil {
		return fmt.Errorf("opensearch: add: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

func (os *OpenSearchStore) Delete(ctx context.Context, chunkIDs []string) error {
	for _, id := range chunkIDs {
		resp, err := opensearchapi.DeleteRequest{Index: os.index, DocumentID: id}.Do(ctx, os.client)
		if err != nil {
			return fmt.Errorf("opensearch: delete: %w", err)
		}
		resp.Body.Close()
	}
	return nil
}

func (os *OpenSearchStore) DeleteByItemID(ctx context.Context, itemIDs []string) error {
	query := termsQuery("item_id", itemIDs)
	return os.deleteByQuery(ctx, query)
}

func (os *OpenSearchStore) GetByItemID(ctx context.Context, itemIDs []string) ([]ingest.StoredRecord, error) {
	query, _ := json.Marshal(map[string]any{"query": termsQueryBody("item_id", itemIDs)})
	resp, err := opensearchapi.SearchRequest{Index: []string{os.index}, Body: bytes.NewReader(query)}.Do(ctx, os.client)
	if err != nil {
		return nil, fmt.Errorf("opensearch: get_by_item_id: %w", err)
	}
	defer resp.Body.Close()
	return parseOpenSearchHits(resp.Body)
}

func (os *OpenSearchStore) Touch(ctx context.Context, chunkIDs []string, seenAt int64) error {
	for _, id := range chunkIDs {
		body, _ := json.Marshal(map[string]any{"doc": map[string]any{"last_seen_at": seenAt}})
		resp, err := opensearchapi.UpdateRequest{Index: os.index, DocumentID: id, Body: bytes.NewReader(body)}.Do(ctx, os.client)
		if err != nil {
			return fmt.Errorf("opensearch: touch: %w", err)
		}
		resp.Body.Close()
	}
	return nil
}

func (os *OpenSearchStore) DeleteExpired(ctx context.Context, cutoff int64) (int, error) {
	countQuery, _ := json.Marshal(map[string]any{"query": rangeLessThanQuery("last_seen_at", cutoff)})
	countResp, err := opensearchapi.CountRequest{Index: []string{os.index}, Body: bytes.NewReader(countQuery)}.Do(ctx, os.client)
	if err != nil {
		return 0, fmt.Errorf("opensearch: delete_expired count: %w", err)
	}
	defer countResp.Body.Close()
	var countBody struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(countResp.Body).Decode(&countBody); err != nil {
		return 0, fmt.Errorf("opensearch: parse count: %w", err)
	}
	if countBody.Count == 0 {
		return 0, nil
	}
	if err := os.deleteByQuery(ctx, rangeLessThanQuery("last_seen_at", cutoff)); err != nil {
		return 0, err
	}
	return countBody.Count, nil
}

func (os *OpenSearchStore) deleteByQuery(ctx context.Context, query map[string]any) error {
	body, _ := json.Marshal(map[string]any{"query": query})
	resp, err := opensearchapi.DeleteByQueryRequest{Index: []string{os.index}, Body: bytes.NewReader(body)}.Do(ctx, os.client)
	if err != nil {
		return fmt.Errorf("opensearch: delete_by_query: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

func (os *OpenSearchStore) SearchByVector(ctx context.Context, vector []float32, topK int) ([]ingest.Chunk, error) {
	body, _ := json.Marshal(map[string]any{
		"size": topK,
		"query": map[string]any{
			"knn": map[string]any{"embedding": map[string]any{"vector": vector, "k": topK}},
		},
	})
	resp, err := opensearchapi.SearchRequest{Index: []string{os.index}, Body: bytes.NewReader(body)}.Do(ctx, os.client)
	if err != nil {
		return nil, fmt.Errorf("opensearch: search_by_vector: %w", err)
	}
	defer resp.Body.Close()
	records, err := parseOpenSearchHits(resp.Body)
	if err != nil {
		return nil, err
	}
	chunks := make([]ingest.Chunk, len(records))
	for i, r := range records {
		chunks[i] = ingest.Chunk{ChunkID: r.ChunkID, ItemID: r.ItemID, Checksum: r.Checksum, LastSeenAt: r.LastSeenAt}
	}
	return chunks, nil
}

func (os *OpenSearchStore) Count(ctx context.Context) (int, error) {
	resp, err := opensearchapi.CountRequest{Index: []string{os.index}}.Do(ctx, os.client)
	if err != nil {
		return 0, fmt.Errorf("opensearch: count: %w", err)
	}
	defer resp.Body.Close()
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("opensearch: parse count: %w", err)
	}
	return body.Count, nil
}

func (os *OpenSearchStore) DeleteAll(ctx context.Context) error {
	return os.deleteByQuery(ctx, map[string]any{"match_all": map[string]any{}})
}

func (os *OpenSearchStore) Capabilities() Capabilities {
	return Capabilities{IDPrefix: false, Count: true, PredicateDelete: true}
}

func (os *OpenSearchStore) Close() error { return nil }

func termsQuery(field string, values []string) map[string]any {
	return termsQueryBody(field, values)
}

func termsQueryBody(field string, values []string) map[string]any {
	return map[string]any{"terms": map[string]any{field: values}}
}

func rangeLessThanQuery(field string, cutoff int64) map[string]any {
	return map[string]any{"range": map[string]any{field: map[string]any{"lt": cutoff}}}
}

func parseOpenSearchHits(body interface{ Read([]byte) (int, error) }) ([]ingest.StoredRecord, error) {
	var parsed struct {
		Hits struct {
			Hits []struct {
				ID     string `json:"_id"`
				Source struct {
					ItemID     string `json:"item_id"`
					Checksum   string `json:"checksum"`
					LastSeenAt int64  `json:"last_seen_at"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("opensearch: parse hits: %w", err)
	}
	out := make([]ingest.StoredRecord, len(parsed.Hits.Hits))
	for i, h := range parsed.Hits.Hits {
		out[i] = ingest.StoredRecord{
			ChunkID:    h.ID,
			ItemID:     h.Source.ItemID,
			Checksum:   h.Source.Checksum,
			LastSeenAt: h.Source.LastSeenAt,
		}
	}
	return out, nil
}

package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"lerian-mcp-memory/internal/config"
	"lerian-mcp-memory/pkg/ingest"
)

// PineconeStore implements Store against a Pinecone index. When
// UseIDPrefix is set it addresses every record as "<item_id>#<chunk_id>"
// so every chunk belonging to one item_id can be deleted as a single
// prefix-listed batch, mirroring Pinecone's own id-prefix convention.
type PineconeStore struct {
	client      *pinecone.Client
	idx         *pinecone.IndexConnection
	namespace   string
	useIDPrefix bool
}

// NewPineconeStore creates a Pinecone-backed Store. Call Connect before use.
func NewPineconeStore(cfg *config.PineconeConfig, namespace string, useIDPrefix bool) *PineconeStore {
	return &PineconeStore{namespace: namespace, useIDPrefix: useIDPrefix}
}

// Connect authenticates against the Pinecone control plane and opens a
// data-plane connection to the configured index.
func (ps *PineconeStore) Connect(ctx context.Context, cfg *config.PineconeConfig) error {
	client, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: cfg.APIKey})
	if err != nil {
		return fmt.Errorf("pinecone: new client: %w", err)
	}
	ps.client = client

	idx, err := client.DescribeIndex(ctx, cfg.IndexName)
	if err != nil {
		return fmt.Errorf("pinecone: describe index: %w", err)
	}
	conn, err := client.Index(pinecone.NewIndexConnParams{Host: idx.Host, Namespace: ps.namespace})
	if err != nil {
		return fmt.Errorf("pinecone: index connection: %w", err)
	}
	ps.idx = conn
	return nil
}

func (ps *PineconeStore) recordID(c ingest.Chunk) string {
	if ps.useIDPrefix && !strings.Contains(c.ChunkID, "#") {
		return c.ItemID + "#" + c.ChunkID
	}
	return c.ChunkID
}

func (ps *PineconeStore) Add(ctx context.Context, chunks []ingest.Chunk) error {
	vectors := make([]*pinecone.Vector, len(chunks))
	for i, c := range chunks {
		meta, err := structpb.NewStruct(map[string]any{
			"chunk_id":     c.ChunkID,
			"item_id":      c.ItemID,
			"checksum":     c.Checksum,
			"text":         c.Text,
			"last_seen_at": c.LastSeenAt,
		})
		if err != nil {
			return fmt.Errorf("pinecone: metadata: %w", err)
		}
		id := ps.recordID(c)
		vectors[i] = &pinecone.Vector{Id: id, Values: &c.Vector, Metadata: meta}
	}
	_, err := ps.idx.UpsertVectors(ctx, vectors)
	if err != nil {
		return fmt.Errorf("pinecone: add: %w", err)
	}
	return nil
}

func (ps *PineconeStore) Delete(ctx context.Context, chunkIDs []string) error {
	return ps.idx.DeleteVectorsById(ctx, chunkIDs)
}

// DeleteByItemID lists every record sharing the item_id prefix (when
// UseIDPrefix is on) or falls back to fetching and filtering by
// metadata before deleting by id, since Pinecone has no server-side
// predicate delete.
func (ps *PineconeStore) DeleteByItemID(ctx context.Context, itemIDs []string) error {
	records, err := ps.GetByItemID(ctx, itemIDs)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ChunkID
	}
	return ps.Delete(ctx, ids)
}

func (ps *PineconeStore) GetByItemID(ctx context.Context, itemIDs []string) ([]ingest.StoredRecord, error) {
	var out []ingest.StoredRecord
	for _, itemID := range itemIDs {
		if ps.useIDPrefix {
			listed, err := ps.idx.ListVectors(ctx, &pinecone.ListVectorsRequest{Prefix: &itemID})
			if err != nil {
				return nil, fmt.Errorf("pinecone: list by prefix: %w", err)
			}
			ids := make([]string, len(listed.VectorIds))
			for i, id := range listed.VectorIds {
				ids[i] = *id
			}
			if len(ids) == 0 {
				continue
			}
			vectors, err := ps.idx.FetchVectors(ctx, ids)
			if err != nil {
				return nil, fmt.Errorf("pinecone: fetch: %w", err)
			}
			for id, v := range vectors.Vectors {
				out = append(out, vectorToRecord(id, v.Metadata))
			}
		}
	}
	return out, nil
}

func (ps *PineconeStore) Touch(ctx context.Context, chunkIDs []string, seenAt int64) error {
	for _, id := range chunkIDs {
		meta, err := structpb.NewStruct(map[string]any{"last_seen_at": seenAt})
		if err != nil {
			return fmt.Errorf("pinecone: touch metadata: %w", err)
		}
		if err := ps.idx.UpdateVector(ctx, &pinecone.UpdateVectorRequest{Id: id, SetMetadata: meta}); err != nil {
			return fmt.Errorf("pinecone: touch: %w", err)
		}
	}
	return nil
}

// DeleteExpired always returns an error: Pinecone has no server-side
// predicate delete and this adapter does not scan for expired records.
func (ps *PineconeStore) DeleteExpired(_ context.Context, _ int64) (int, error) {
	return 0, fmt.Errorf("pinecone: delete_expired requires PredicateDelete capability, unsupported")
}

func (ps *PineconeStore) SearchByVector(ctx context.Context, vector []float32, topK int) ([]ingest.Chunk, error) {
	resp, err := ps.idx.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(topK),
		IncludeMetadata: true,
		IncludeValues:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("pinecone: search_by_vector: %w", err)
	}
	out := make([]ingest.Chunk, len(resp.Matches))
	for i, m := range resp.Matches {
		r := vectorToRecord(m.Vector.Id, m.Vector.Metadata)
		out[i] = ingest.Chunk{
			ChunkID:    r.ChunkID,
			ItemID:     r.ItemID,
			Checksum:   r.Checksum,
			LastSeenAt: r.LastSeenAt,
			Vector:     *m.Vector.Values,
		}
	}
	return out, nil
}

func (ps *PineconeStore) Count(ctx context.Context) (int, error) {
	stats, err := ps.idx.DescribeIndexStats(ctx)
	if err != nil {
		return 0, fmt.Errorf("pinecone: count: %w", err)
	}
	return int(stats.TotalVectorCount), nil
}

func (ps *PineconeStore) DeleteAll(ctx context.Context) error {
	return ps.idx.DeleteAllVectorsInNamespace(ctx)
}

func (ps *PineconeStore) Capabilities() Capabilities {
	return Capabilities{IDPrefix: ps.useIDPrefix, Count: true, PredicateDelete: false}
}

func (ps *PineconeStore) Close() error {
	return ps.client.Close()
}

func vectorToRecord(id string, meta *structpb.Struct) ingest.StoredRecord {
	fields := meta.GetFields()
	r := ingest.StoredRecord{ChunkID: id}
	if v, ok := fields["item_id"]; ok {
		r.ItemID = v.GetStringValue()
	}
	if v, ok := fields["checksum"]; ok {
		r.Checksum = v.GetStringValue()
	}
	if v, ok := fields["last_seen_at"]; ok {
		r.LastSeenAt = int64(v.GetNumberValue())
	}
	return r
}

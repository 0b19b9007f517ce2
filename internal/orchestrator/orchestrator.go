// Package orchestrator wires the Dataset Reader, Chunker, Identity Stamper,
// Embedding Adapter, and Reconciliation Engine into a single run and
// classifies whatever goes wrong along the way into the six pipeline
// error kinds.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"lerian-mcp-memory/internal/chunking"
	"lerian-mcp-memory/internal/circuitbreaker"
	"lerian-mcp-memory/internal/config"
	"lerian-mcp-memory/internal/dataset"
	"lerian-mcp-memory/internal/embeddings"
	"lerian-mcp-memory/internal/errors"
	"lerian-mcp-memory/internal/identity"
	"lerian-mcp-memory/internal/logging"
	"lerian-mcp-memory/internal/reconcile"
	"lerian-mcp-memory/internal/retry"
	"lerian-mcp-memory/internal/vectorstore"
	"lerian-mcp-memory/pkg/ingest"
)

// Pipeline runs one reconciliation pass end to end against a dataset
// client and a vector store, both supplied by the caller so tests can
// substitute in-memory fakes for either.
type Pipeline struct {
	cfg      *config.Config
	client   dataset.Client
	store    vectorstore.Store
	embedder embeddings.EmbeddingService
	logger   logging.Logger
}

// New builds a Pipeline from configuration plus the two externally-owned
// dependencies (dataset client, vector store) that production code
// connects for real and tests fake out.
func New(cfg *config.Config, client dataset.Client, store vectorstore.Store, embedder embeddings.EmbeddingService) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		client:   client,
		store:    store,
		embedder: embedder,
		logger:   logging.WithComponent("orchestrator"),
	}
}

// BuildEmbedder selects and wraps an embedding provider per configuration,
// applying retry and circuit-breaker decorators the same way
// BuildStore wraps vector store backends.
func BuildEmbedder(cfg *config.Config) (embeddings.EmbeddingService, error) {
	var svc embeddings.EmbeddingService
	var err error

	switch cfg.Embedding.Provider {
	case "openai":
		svc, err = embeddings.NewOpenAIService(&embeddings.OpenAIConfig{
			APIKey:  cfg.Embedding.APIKey,
			Model:   cfg.Embedding.Model,
			Timeout: cfg.Embedding.RequestTimeout,
		}, slog.Default())
	case "cohere":
		svc, err = embeddings.NewCohereService(&embeddings.CohereConfig{
			APIKey: cfg.Embedding.APIKey,
			Model:  cfg.Embedding.Model,
		}, slog.Default())
	case "fake":
		svc = embeddings.NewFakeService(cfg.Embedding.Dimensions)
	default:
		return nil, errors.ConfigInvalid("embedding.provider", "unsupported provider "+cfg.Embedding.Provider)
	}
	if err != nil {
		return nil, errors.EmbeddingFailed(cfg.Embedding.Provider, err)
	}

	svc = embeddings.NewRetryableEmbeddingService(svc, nil)
	svc = embeddings.NewCircuitBreakerEmbeddingService(svc, nil)
	return svc, nil
}

// BuildStore selects, connects, and decorates a vector store backend per
// configuration. Retry and circuit breaker decorators wrap every backend
// identically regardless of which one was chosen.
func BuildStore(ctx context.Context, cfg *config.Config, vectorDim int) (vectorstore.Store, error) {
	var store vectorstore.Store

	switch cfg.VectorStore.Backend {
	case "qdrant":
		s := vectorstore.NewQdrantStore(&cfg.VectorStore.Qdrant)
		if err := s.Connect(ctx, &cfg.VectorStore.Qdrant); err != nil {
			return nil, errors.BackendUnreachable("qdrant", err)
		}
		store = s
	case "chroma":
		s := vectorstore.NewChromaStore(&cfg.VectorStore.Chroma)
		if err := s.Connect(ctx); err != nil {
			return nil, errors.BackendUnreachable("chroma", err)
		}
		store = s
	case "pgvector":
		s := vectorstore.NewPostgresStore(&cfg.VectorStore.Postgres)
		if err := s.Connect(ctx, &cfg.VectorStore.Postgres); err != nil {
			return nil, errors.BackendUnreachable("pgvector", err)
		}
		store = s
	case "pinecone":
		s := vectorstore.NewPineconeStore(&cfg.VectorStore.Pinecone, cfg.VectorStore.Namespace, cfg.VectorStore.UseIDPrefix)
		if err := s.Connect(ctx, &cfg.VectorStore.Pinecone); err != nil {
			return nil, errors.BackendUnreachable("pinecone", err)
		}
		store = s
	case "weaviate":
		s := vectorstore.NewWeaviateStore(&cfg.VectorStore.Weaviate)
		if err := s.Connect(ctx, &cfg.VectorStore.Weaviate); err != nil {
			return nil, errors.BackendUnreachable("weaviate", err)
		}
		store = s
	case "milvus":
		s := vectorstore.NewMilvusStore(&cfg.VectorStore.Milvus, vectorDim)
		if err := s.Connect(ctx, &cfg.VectorStore.Milvus); err != nil {
			return nil, errors.BackendUnreachable("milvus", err)
		}
		store = s
	case "opensearch":
		s := vectorstore.NewOpenSearchStore(&cfg.VectorStore.OpenSearch)
		if err := s.Connect(ctx, &cfg.VectorStore.OpenSearch, vectorDim); err != nil {
			return nil, errors.BackendUnreachable("opensearch", err)
		}
		store = s
	default:
		return nil, errors.ConfigInvalid("vector_store.backend", "unsupported backend "+cfg.VectorStore.Backend)
	}

	store = vectorstore.NewRetryableStore(store, &retry.Config{
		MaxAttempts:  cfg.Reconcile.MaxRetries,
		InitialDelay: time.Second,
		MaxDelay:     cfg.Reconcile.WriteTimeout,
		Multiplier:   2,
	})
	store = vectorstore.NewCircuitBreakerStore(store, &circuitbreaker.Config{
		FailureThreshold:      5,
		SuccessThreshold:      2,
		Timeout:               30 * time.Second,
		MaxConcurrentRequests: 3,
	})
	return store, nil
}

// Run executes one full pipeline pass: read, chunk, stamp, embed,
// reconcile, expire. Successful chunks are always returned even when the
// run ends in PARTIAL_FAILURE, so callers can record what did land.
func (p *Pipeline) Run(ctx context.Context) (ingest.Result, []ingest.Chunk, error) {
	reader := dataset.New(p.client, dataset.Config{
		DatasetID:  p.cfg.Dataset.DatasetID,
		FieldPaths: p.cfg.Dataset.FieldPaths,
		MetaPaths:  p.cfg.Dataset.MetadataDatasetFields,
		MetaStatic: p.cfg.Dataset.MetadataObject,
		PageSize:   p.cfg.Dataset.PageSize,
	})

	docs, err := reader.ReadAll(ctx)
	if err != nil {
		return ingest.Result{}, nil, err
	}

	var splitter *chunking.RecursiveCharacterSplitter
	if p.cfg.Chunking.PerformChunking {
		splitter, err = chunking.NewRecursiveCharacterSplitter(p.cfg.Chunking.ChunkSize, p.cfg.Chunking.ChunkOverlap)
		if err != nil {
			return ingest.Result{}, nil, errors.ConfigInvalid("chunking", err.Error())
		}
	}

	stamper := identity.New(primaryFields(p.cfg))

	var chunks []ingest.Chunk
	for _, doc := range docs {
		var docChunks []ingest.Chunk
		if splitter != nil {
			docChunks = splitter.Split(doc)
		} else {
			docChunks = chunking.Passthrough(doc)
		}
		stamper.StampItem(doc.Text, doc.Metadata, docChunks)
		for i := range docChunks {
			stamper.StampChunk(&docChunks[i])
		}
		chunks = append(chunks, docChunks...)
	}

	if err := p.embed(ctx, chunks); err != nil {
		return ingest.Result{}, nil, err
	}

	engine := reconcile.New(p.store, p.cfg.Reconcile.Workers)
	result, err := engine.Reconcile(ctx, chunks, reconcile.Strategy(p.cfg.Reconcile.Strategy))
	if err != nil {
		// a failed reconciliation still reports whatever was embedded and
		// stamped, so the caller retains a record of the attempted run.
		return result, chunks, errors.PartialFailure(result.Added+result.Touched, result.Failed, result.EndedAt.Sub(result.StartedAt))
	}

	if p.cfg.Reconcile.ExpireAfter > 0 {
		cutoff := time.Now().UTC().Add(-p.cfg.Reconcile.ExpireAfter).Unix()
		expired, err := engine.Expire(ctx, cutoff)
		if err != nil {
			return result, chunks, err
		}
		result.Expired = expired
	}

	return result, chunks, nil
}

// embed fills in each chunk's vector in place, batching requests per the
// configured batch size and failing the whole phase on the first error
// since a partial embedding batch cannot be reconciled safely.
func (p *Pipeline) embed(ctx context.Context, chunks []ingest.Chunk) error {
	batchSize := p.cfg.Embedding.BatchSize
	if batchSize <= 0 {
		batchSize = len(chunks)
	}

	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		texts := make([]string, end-start)
		for i, c := range chunks[start:end] {
			texts[i] = c.Text
		}

		vectors, err := p.embedder.GenerateBatch(ctx, texts)
		if err != nil {
			return errors.EmbeddingFailed(p.cfg.Embedding.Provider, err)
		}
		if len(vectors) != len(texts) {
			return errors.EmbeddingFailed(p.cfg.Embedding.Provider, fmt.Errorf("expected %d vectors, got %d", len(texts), len(vectors)))
		}

		dim := p.embedder.GetDimensions()
		for i, v := range vectors {
			if len(v) != dim {
				return errors.EmbeddingFailed(p.cfg.Embedding.Provider, fmt.Errorf("vector dimension %d does not match configured %d", len(v), dim))
			}
			chunks[start+i].Vector = toFloat32(v)
		}
	}
	return nil
}

// primaryFields resolves dataUpdatesPrimaryDatasetFields. It falls back to
// every metadata key the Reader produces (static plus projected) when the
// option is left unset, since that's the closest available approximation
// of "identify items by their full metadata".
func primaryFields(cfg *config.Config) []string {
	if len(cfg.Dataset.PrimaryFields) > 0 {
		return cfg.Dataset.PrimaryFields
	}
	fields := make([]string, 0, len(cfg.Dataset.MetadataObject)+len(cfg.Dataset.MetadataDatasetFields))
	for k := range cfg.Dataset.MetadataObject {
		fields = append(fields, k)
	}
	for k := range cfg.Dataset.MetadataDatasetFields {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

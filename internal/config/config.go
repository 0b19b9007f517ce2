// Package config provides configuration management for the reconciliation
// pipeline, handling environment variables, an optional YAML overlay, and
// validation before any component starts.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"lerian-mcp-memory/internal/errors"
)

// Config is the top-level configuration for one reconciliation run.
type Config struct {
	Dataset     DatasetConfig     `json:"dataset" yaml:"dataset"`
	Chunking    ChunkingConfig    `json:"chunking" yaml:"chunking"`
	Embedding   EmbeddingConfig   `json:"embedding" yaml:"embedding"`
	VectorStore VectorStoreConfig `json:"vector_store" yaml:"vector_store"`
	Reconcile   ReconcileConfig   `json:"reconcile" yaml:"reconcile"`
	Logging     LoggingConfig     `json:"logging" yaml:"logging"`
}

// DatasetConfig controls how items are read from the upstream dataset and
// how their identity fields are derived.
type DatasetConfig struct {
	DatasetID string   `json:"dataset_id" yaml:"dataset_id"`
	// FieldPaths (datasetFields) are joined, in order, into page_content.
	FieldPaths []string `json:"field_paths" yaml:"field_paths"`
	// MetadataObject (metadataObject) is merged into every Document's
	// metadata unchanged.
	MetadataObject map[string]any `json:"metadata_object" yaml:"metadata_object"`
	// MetadataDatasetFields (metadataDatasetFields) maps an output
	// metadata key to the source field path it's projected from.
	MetadataDatasetFields map[string]string `json:"metadata_dataset_fields" yaml:"metadata_dataset_fields"`
	// PrimaryFields (dataUpdatesPrimaryDatasetFields) are the field paths
	// concatenated to derive item_id; resolved against the built
	// Document's metadata, so they're usually a subset of the keys
	// MetadataDatasetFields/MetadataObject produce.
	PrimaryFields []string `json:"primary_fields" yaml:"primary_fields"`
	PageSize      int      `json:"page_size" yaml:"page_size"`
}

// ChunkingConfig controls the recursive character splitter. When
// PerformChunking is false, the splitter is skipped entirely and each
// Document passes through as a single unsplit chunk.
type ChunkingConfig struct {
	PerformChunking bool `json:"perform_chunking" yaml:"perform_chunking"`
	ChunkSize       int  `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap    int  `json:"chunk_overlap" yaml:"chunk_overlap"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider       string        `json:"provider" yaml:"provider"` // openai, cohere, fake
	APIKey         string        `json:"-" yaml:"-"`
	Model          string        `json:"model" yaml:"model"`
	Dimensions     int           `json:"dimensions" yaml:"dimensions"`
	BatchSize      int           `json:"batch_size" yaml:"batch_size"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`
	RateLimitRPM   int           `json:"rate_limit_rpm" yaml:"rate_limit_rpm"`
}

// VectorStoreConfig selects and configures the destination backend.
type VectorStoreConfig struct {
	Backend        string        `json:"backend" yaml:"backend"` // qdrant, chroma, pgvector, pinecone, weaviate, milvus, opensearch
	Namespace      string        `json:"namespace" yaml:"namespace"`
	AutoCreate     bool          `json:"auto_create" yaml:"auto_create"`
	UseIDPrefix    bool          `json:"use_id_prefix" yaml:"use_id_prefix"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`

	Qdrant     QdrantConfig     `json:"qdrant" yaml:"qdrant"`
	Chroma     ChromaConfig     `json:"chroma" yaml:"chroma"`
	Postgres   PostgresConfig   `json:"postgres" yaml:"postgres"`
	Pinecone   PineconeConfig   `json:"pinecone" yaml:"pinecone"`
	Weaviate   WeaviateConfig   `json:"weaviate" yaml:"weaviate"`
	Milvus     MilvusConfig     `json:"milvus" yaml:"milvus"`
	OpenSearch OpenSearchConfig `json:"opensearch" yaml:"opensearch"`
}

// QdrantConfig configures the Qdrant gRPC client.
type QdrantConfig struct {
	Host       string `json:"host" yaml:"host"`
	Port       int    `json:"port" yaml:"port"`
	APIKey     string `json:"-" yaml:"-"`
	UseTLS     bool   `json:"use_tls" yaml:"use_tls"`
	Collection string `json:"collection" yaml:"collection"`
}

// ChromaConfig configures the Chroma REST client.
type ChromaConfig struct {
	Host           string `json:"host" yaml:"host"`
	Port           int    `json:"port" yaml:"port"`
	SSL            bool   `json:"ssl" yaml:"ssl"`
	CollectionName string `json:"collection_name" yaml:"collection_name"`
	AuthToken      string `json:"-" yaml:"-"`
}

// PostgresConfig configures the pgvector backend.
type PostgresConfig struct {
	DSN      string `json:"-" yaml:"-"`
	Table    string `json:"table" yaml:"table"`
	MaxConns int    `json:"max_conns" yaml:"max_conns"`
}

// PineconeConfig configures the Pinecone backend.
type PineconeConfig struct {
	APIKey    string `json:"-" yaml:"-"`
	IndexName string `json:"index_name" yaml:"index_name"`
}

// WeaviateConfig configures the Weaviate backend.
type WeaviateConfig struct {
	Host      string `json:"host" yaml:"host"`
	Scheme    string `json:"scheme" yaml:"scheme"`
	APIKey    string `json:"-" yaml:"-"`
	ClassName string `json:"class_name" yaml:"class_name"`
}

// MilvusConfig configures the Milvus backend.
type MilvusConfig struct {
	Address    string `json:"address" yaml:"address"`
	Collection string `json:"collection" yaml:"collection"`
	Username   string `json:"username" yaml:"username"`
	Password   string `json:"-" yaml:"-"`
}

// OpenSearchConfig configures the OpenSearch backend.
type OpenSearchConfig struct {
	Addresses []string `json:"addresses" yaml:"addresses"`
	Username  string   `json:"username" yaml:"username"`
	Password  string   `json:"-" yaml:"-"`
	Index     string   `json:"index" yaml:"index"`
}

// ReconcileConfig controls the Reconciliation Engine's execution.
type ReconcileConfig struct {
	Strategy      string        `json:"strategy" yaml:"strategy"` // append, upsert, delta
	Workers       int           `json:"workers" yaml:"workers"`
	ReadTimeout   time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout" yaml:"write_timeout"`
	DeleteTimeout time.Duration `json:"delete_timeout" yaml:"delete_timeout"`
	ExpireAfter   time.Duration `json:"expire_after" yaml:"expire_after"`
	MaxRetries    int           `json:"max_retries" yaml:"max_retries"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns the configuration used when no overrides are given.
func DefaultConfig() *Config {
	return &Config{
		Dataset: DatasetConfig{
			PageSize: 1000,
		},
		Chunking: ChunkingConfig{
			PerformChunking: true,
			ChunkSize:       1000,
			ChunkOverlap:    200,
		},
		Embedding: EmbeddingConfig{
			Provider:       "openai",
			Model:          "text-embedding-3-small",
			Dimensions:     1536,
			BatchSize:      96,
			RequestTimeout: 60 * time.Second,
			RateLimitRPM:   3000,
		},
		VectorStore: VectorStoreConfig{
			Backend:        "qdrant",
			Namespace:      "default",
			AutoCreate:     true,
			ConnectTimeout: 10 * time.Second,
			Qdrant: QdrantConfig{
				Host:       "localhost",
				Port:       6334,
				Collection: "reconciliation",
			},
			Chroma: ChromaConfig{
				Host:           "localhost",
				Port:           8000,
				CollectionName: "reconciliation",
			},
			Postgres: PostgresConfig{
				Table:    "reconciliation_chunks",
				MaxConns: 10,
			},
			Weaviate: WeaviateConfig{
				Host:      "localhost:8080",
				Scheme:    "http",
				ClassName: "ReconciliationChunk",
			},
			Milvus: MilvusConfig{
				Address:    "localhost:19530",
				Collection: "reconciliation",
			},
			OpenSearch: OpenSearchConfig{
				Addresses: []string{"https://localhost:9200"},
				Index:     "reconciliation",
			},
		},
		Reconcile: ReconcileConfig{
			Strategy:      "delta",
			Workers:       8,
			ReadTimeout:   120 * time.Second,
			WriteTimeout:  120 * time.Second,
			DeleteTimeout: 300 * time.Second,
			MaxRetries:    5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration from an optional .env file, environment
// variables, and an optional YAML file at yamlPath, then validates it.
func LoadConfig(yamlPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	cfg := DefaultConfig()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFromEnv(c *Config) {
	if v := os.Getenv("RECONCILE_DATASET_ID"); v != "" {
		c.Dataset.DatasetID = v
	}
	if v := os.Getenv("RECONCILE_FIELD_PATHS"); v != "" {
		c.Dataset.FieldPaths = strings.Split(v, ",")
	}
	if v := os.Getenv("RECONCILE_METADATA_DATASET_FIELDS"); v != "" {
		c.Dataset.MetadataDatasetFields = parseKeyValueList(v)
	}
	if v := os.Getenv("RECONCILE_PRIMARY_FIELDS"); v != "" {
		c.Dataset.PrimaryFields = strings.Split(v, ",")
	}
	setIntFromEnv("RECONCILE_PAGE_SIZE", &c.Dataset.PageSize)

	setBoolFromEnv("RECONCILE_PERFORM_CHUNKING", &c.Chunking.PerformChunking)
	setIntFromEnv("RECONCILE_CHUNK_SIZE", &c.Chunking.ChunkSize)
	setIntFromEnv("RECONCILE_CHUNK_OVERLAP", &c.Chunking.ChunkOverlap)

	if v := os.Getenv("RECONCILE_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("RECONCILE_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Embedding.APIKey = v
	}
	if v := os.Getenv("COHERE_API_KEY"); v != "" && c.Embedding.Provider == "cohere" {
		c.Embedding.APIKey = v
	}
	setIntFromEnv("RECONCILE_EMBEDDING_DIMENSIONS", &c.Embedding.Dimensions)
	setIntFromEnv("RECONCILE_EMBEDDING_BATCH_SIZE", &c.Embedding.BatchSize)

	if v := os.Getenv("RECONCILE_VECTOR_STORE"); v != "" {
		c.VectorStore.Backend = v
	}
	if v := os.Getenv("RECONCILE_NAMESPACE"); v != "" {
		c.VectorStore.Namespace = v
	}
	setBoolFromEnv("RECONCILE_USE_ID_PREFIX", &c.VectorStore.UseIDPrefix)

	loadQdrantEnv(c)
	loadChromaEnv(c)
	loadPostgresEnv(c)
	loadPineconeEnv(c)
	loadWeaviateEnv(c)
	loadMilvusEnv(c)
	loadOpenSearchEnv(c)

	if v := os.Getenv("RECONCILE_STRATEGY"); v != "" {
		c.Reconcile.Strategy = v
	}
	setIntFromEnv("RECONCILE_WORKERS", &c.Reconcile.Workers)
	setIntFromEnv("RECONCILE_MAX_RETRIES", &c.Reconcile.MaxRetries)

	if v := os.Getenv("RECONCILE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func loadQdrantEnv(c *Config) {
	if v := os.Getenv("QDRANT_HOST"); v != "" {
		c.VectorStore.Qdrant.Host = v
	}
	setIntFromEnv("QDRANT_PORT", &c.VectorStore.Qdrant.Port)
	if v := os.Getenv("QDRANT_API_KEY"); v != "" {
		c.VectorStore.Qdrant.APIKey = v
	}
	if v := os.Getenv("QDRANT_COLLECTION"); v != "" {
		c.VectorStore.Qdrant.Collection = v
	}
}

func loadChromaEnv(c *Config) {
	if v := os.Getenv("CHROMA_HOST"); v != "" {
		c.VectorStore.Chroma.Host = v
	}
	setIntFromEnv("CHROMA_PORT", &c.VectorStore.Chroma.Port)
	if v := os.Getenv("CHROMA_COLLECTION_NAME"); v != "" {
		c.VectorStore.Chroma.CollectionName = v
	}
	if v := os.Getenv("CHROMA_AUTH_TOKEN"); v != "" {
		c.VectorStore.Chroma.AuthToken = v
	}
}

func loadPostgresEnv(c *Config) {
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.VectorStore.Postgres.DSN = v
	}
	if v := os.Getenv("POSTGRES_TABLE"); v != "" {
		c.VectorStore.Postgres.Table = v
	}
	setIntFromEnv("POSTGRES_MAX_CONNS", &c.VectorStore.Postgres.MaxConns)
}

func loadPineconeEnv(c *Config) {
	if v := os.Getenv("PINECONE_API_KEY"); v != "" {
		c.VectorStore.Pinecone.APIKey = v
	}
	if v := os.Getenv("PINECONE_INDEX_NAME"); v != "" {
		c.VectorStore.Pinecone.IndexName = v
	}
}

func loadWeaviateEnv(c *Config) {
	if v := os.Getenv("WEAVIATE_HOST"); v != "" {
		c.VectorStore.Weaviate.Host = v
	}
	if v := os.Getenv("WEAVIATE_SCHEME"); v != "" {
		c.VectorStore.Weaviate.Scheme = v
	}
	if v := os.Getenv("WEAVIATE_API_KEY"); v != "" {
		c.VectorStore.Weaviate.APIKey = v
	}
	if v := os.Getenv("WEAVIATE_CLASS_NAME"); v != "" {
		c.VectorStore.Weaviate.ClassName = v
	}
}

func loadMilvusEnv(c *Config) {
	if v := os.Getenv("MILVUS_ADDRESS"); v != "" {
		c.VectorStore.Milvus.Address = v
	}
	if v := os.Getenv("MILVUS_COLLECTION"); v != "" {
		c.VectorStore.Milvus.Collection = v
	}
	if v := os.Getenv("MILVUS_USERNAME"); v != "" {
		c.VectorStore.Milvus.Username = v
	}
	if v := os.Getenv("MILVUS_PASSWORD"); v != "" {
		c.VectorStore.Milvus.Password = v
	}
}

func loadOpenSearchEnv(c *Config) {
	if v := os.Getenv("OPENSEARCH_ADDRESSES"); v != "" {
		c.VectorStore.OpenSearch.Addresses = strings.Split(v, ",")
	}
	if v := os.Getenv("OPENSEARCH_USERNAME"); v != "" {
		c.VectorStore.OpenSearch.Username = v
	}
	if v := os.Getenv("OPENSEARCH_PASSWORD"); v != "" {
		c.VectorStore.OpenSearch.Password = v
	}
	if v := os.Getenv("OPENSEARCH_INDEX"); v != "" {
		c.VectorStore.OpenSearch.Index = v
	}
}

// parseKeyValueList parses a comma-separated "key=value,key2=value2" string
// into a map, the env-var-friendly form of metadataDatasetFields. Entries
// without an "=" are skipped rather than erroring, since loadFromEnv has
// no way to report a parse failure back to the caller.
func parseKeyValueList(s string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return out
}

func setIntFromEnv(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func setBoolFromEnv(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

// Validate checks the configuration for contradictions that would make a
// run fail before it starts.
func (c *Config) Validate() error {
	if c.Dataset.DatasetID == "" {
		return errors.ConfigInvalid("dataset.dataset_id", "must not be empty")
	}
	if c.Chunking.PerformChunking {
		if c.Chunking.ChunkSize <= 0 {
			return errors.ConfigInvalid("chunking.chunk_size", "must be positive")
		}
		if c.Chunking.ChunkOverlap < 0 {
			return errors.ConfigInvalid("chunking.chunk_overlap", "must not be negative")
		}
		if c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
			return errors.ConfigInvalid("chunking.chunk_overlap", "must be smaller than chunk_size")
		}
	}
	switch c.Reconcile.Strategy {
	case "append", "upsert", "delta":
	default:
		return errors.ConfigInvalid("reconcile.strategy", "must be one of append, upsert, delta")
	}
	if c.Reconcile.Workers <= 0 {
		return errors.ConfigInvalid("reconcile.workers", "must be positive")
	}
	switch c.VectorStore.Backend {
	case "qdrant", "chroma", "pgvector", "pinecone", "weaviate", "milvus", "opensearch":
	default:
		return errors.ConfigInvalid("vector_store.backend", "unsupported backend " + c.VectorStore.Backend)
	}
	return nil
}

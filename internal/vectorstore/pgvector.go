package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"lerian-mcp-memory/internal/config"
	"lerian-mcp-memory/pkg/ingest"
)

// PostgresStore implements Store against a pgvector-extended Postgres
// table: one row per chunk, embedding in a vector column,
// item_id/checksum/last_seen_at in their own columns and user metadata in
// a jsonb column.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresStore creates a pgvector-backed Store. Call Connect before use.
func NewPostgresStore(cfg *config.PostgresConfig) *PostgresStore {
	table := cfg.Table
	if table == "" {
		table = "reconciliation_chunks"
	}
	return &PostgresStore{table: table}
}

// Connect opens the pool and ensures the table and index exist.
func (ps *PostgresStore) Connect(ctx context.Context, cfg *config.PostgresConfig) error {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return fmt.Errorf("pgvector: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("pgvector: connect: %w", err)
	}
	ps.pool = pool

	_, err = pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("pgvector: create extension: %w", err)
	}
	_, err = pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		chunk_id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL,
		checksum TEXT NOT NULL,
		text TEXT NOT NULL,
		last_seen_at BIGINT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}',
		embedding vector
	)`, ps.table))
	if err != nil {
		return fmt.Errorf("pgvector: create table: %w", err)
	}
	_, err = pool.Exec(ctx, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_item_id_idx ON %s (item_id)", ps.table, ps.table))
	if err != nil {
		return fmt.Errorf("pgvector: create index: %w", err)
	}
	return nil
}

func (ps *PostgresStore) Add(ctx context.Context, chunks []ingest.Chunk) error {
	batch := &pgxBatch{}
	for _, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("pgvector: marshal metadata: %w", err)
		}
		batch.add(fmt.Sprintf(`INSERT INTO %s (chunk_id, item_id, checksum, text, last_seen_at, metadata, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (chunk_id) DO UPDATE SET item_id=$2, checksum=$3, text=$4, last_seen_at=$5, metadata=$6, embedding=$7`, ps.table),
			c.ChunkID, c.ItemID, c.Checksum, c.Text, c.LastSeenAt, meta, pgvector.NewVector(c.Vector))
	}
	return ps.execBatch(ctx, batch)
}

func (ps *PostgresStore) Delete(ctx context.Context, chunkIDs []string) error {
	_, err := ps.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE chunk_id = ANY($1)", ps.table), chunkIDs)
	if err != nil {
		return fmt.Errorf("pgvector: delete: %w", err)
	}
	return nil
}

func (ps *PostgresStore) DeleteByItemID(ctx context.Context, itemIDs []string) error {
	_, err := ps.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE item_id = ANY($1)", ps.table), itemIDs)
	if err != nil {
		return fmt.Errorf("pgvector: delete_by_item_id: %w", err)
	}
	return nil
}

func (ps *PostgresStore) GetByItemID(ctx context.Context, itemIDs []string) ([]ingest.StoredRecord, error) {
	rows, err := ps.pool.Query(ctx,
		fmt.Sprintf("SELECT chunk_id, item_id, checksum, last_seen_at, metadata FROM %s WHERE item_id = ANY($1)", ps.table),
		itemIDs)
	if err != nil {
		return nil, fmt.Errorf("pgvector: get_by_item_id: %w", err)
	}
	defer rows.Close()

	var out []ingest.StoredRecord
	for rows.Next() {
		var r ingest.StoredRecord
		var metaBytes []byte
		if err := rows.Scan(&r.ChunkID, &r.ItemID, &r.Checksum, &r.LastSeenAt, &metaBytes); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}
		_ = json.Unmarshal(metaBytes, &r.Metadata)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) Touch(ctx context.Context, chunkIDs []string, seenAt int64) error {
	_, err := ps.pool.Exec(ctx, fmt.Sprintf("UPDATE %s SET last_seen_at = $1 WHERE chunk_id = ANY($2)", ps.table), seenAt, chunkIDs)
	if err != nil {
		return fmt.Errorf("pgvector: touch: %w", err)
	}
	return nil
}

func (ps *PostgresStore) DeleteExpired(ctx context.Context, cutoff int64) (int, error) {
	tag, err := ps.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE last_seen_at < $1", ps.table), cutoff)
	if err != nil {
		return 0, fmt.Errorf("pgvector: delete_expired: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (ps *PostgresStore) SearchByVector(ctx context.Context, vector []float32, topK int) ([]ingest.Chunk, error) {
	rows, err := ps.pool.Query(ctx,
		fmt.Sprintf("SELECT chunk_id, item_id, checksum, text, last_seen_at, metadata FROM %s ORDER BY embedding <-> $1 LIMIT $2", ps.table),
		pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, fmt.Errorf("pgvector: search_by_vector: %w", err)
	}
	defer rows.Close()

	var out []ingest.Chunk
	for rows.Next() {
		var c ingest.Chunk
		var metaBytes []byte
		if err := rows.Scan(&c.ChunkID, &c.ItemID, &c.Checksum, &c.Text, &c.LastSeenAt, &metaBytes); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}
		_ = json.Unmarshal(metaBytes, &c.Metadata)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := ps.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", ps.table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("pgvector: count: %w", err)
	}
	return n, nil
}

func (ps *PostgresStore) DeleteAll(ctx context.Context) error {
	_, err := ps.pool.Exec(ctx, fmt.Sprintf("TRUNCATE %s", ps.table))
	if err != nil {
		return fmt.Errorf("pgvector: delete_all: %w", err)
	}
	return nil
}

func (ps *PostgresStore) Capabilities() Capabilities {
	return Capabilities{IDPrefix: false, Count: true, PredicateDelete: true}
}

func (ps *PostgresStore) Close() error {
	ps.pool.Close()
	return nil
}

// pgxBatch is a minimal statement accumulator so Add can run every chunk
// upsert inside one transaction; execBatch executes the statements one by
// one.
type pgxBatch struct {
	statements []string
	args       [][]any
}

func (b *pgxBatch) add(sql string, args ...any) {
	b.statements = append(b.statements, sql)
	b.args = append(b.args, args)
}

func (ps *PostgresStore) execBatch(ctx context.Context, b *pgxBatch) error {
	tx, err := ps.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgvector: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, stmt := range b.statements {
		if _, err := tx.Exec(ctx, stmt, b.args[i]...); err != nil {
			return fmt.Errorf("pgvector: exec: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// Package reconcile diffs incoming stamped chunks against a vector store
// and drives it to the desired state: add what's new, refresh what's
// unchanged, delete what's gone stale, all under one of three strategies.
package reconcile

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"lerian-mcp-memory/internal/errors"
	"lerian-mcp-memory/internal/logging"
	"lerian-mcp-memory/internal/vectorstore"
	"lerian-mcp-memory/pkg/ingest"
)

// Strategy names one of the three reconciliation modes.
type Strategy string

const (
	StrategyAppend Strategy = "append"
	StrategyUpsert Strategy = "upsert"
	StrategyDelta  Strategy = "delta"
)

// Engine reconciles chunk batches against a single vector store.
type Engine struct {
	store   vectorstore.Store
	workers int
	logger  logging.Logger
}

// New creates an Engine. workers bounds the parallel get_by_item_id fan-out
// during delta planning; it does not affect write concurrency, which stays
// sequential to preserve the delete-add-touch ordering.
func New(store vectorstore.Store, workers int) *Engine {
	if workers <= 0 {
		workers = 8
	}
	return &Engine{store: store, workers: workers, logger: logging.WithComponent("reconcile")}
}

// Reconcile runs one of the three strategies against the engine's store.
func (e *Engine) Reconcile(ctx context.Context, chunks []ingest.Chunk, strategy Strategy) (ingest.Result, error) {
	result := ingest.Result{StartedAt: time.Now().UTC()}

	var err error
	switch strategy {
	case StrategyAppend:
		err = e.append(ctx, chunks, &result)
	case StrategyUpsert:
		err = e.upsert(ctx, chunks, &result)
	default:
		err = e.delta(ctx, chunks, &result)
	}

	result.EndedAt = time.Now().UTC()
	if err != nil {
		return result, err
	}
	return result, nil
}

// Expire deletes every record whose last_seen_at is older than cutoffTs. A
// non-positive cutoff is a no-op, matching the disabled-by-default policy.
func (e *Engine) Expire(ctx context.Context, cutoffTs int64) (int, error) {
	if cutoffTs <= 0 {
		return 0, nil
	}
	n, err := e.store.DeleteExpired(ctx, cutoffTs)
	if err != nil {
		return 0, errors.BackendOperationFailed("store", "delete_expired", err)
	}
	return n, nil
}

func (e *Engine) append(ctx context.Context, chunks []ingest.Chunk, result *ingest.Result) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := e.store.Add(ctx, chunks); err != nil {
		result.Failed = len(chunks)
		return errors.BackendOperationFailed("store", "add", err)
	}
	result.Added = len(chunks)
	return nil
}

// upsert groups incoming chunks by item_id and, for each group, deletes
// every record already stored for that item_id before adding the group's
// chunks, per the uniform replace-by-item semantics.
func (e *Engine) upsert(ctx context.Context, chunks []ingest.Chunk, result *ingest.Result) error {
	grouped := groupByItemID(chunks)
	itemIDs := sortedKeys(grouped)

	for _, itemID := range itemIDs {
		if err := e.store.DeleteByItemID(ctx, []string{itemID}); err != nil {
			return errors.BackendOperationFailed("store", "delete_by_item_id", err)
		}
		group := grouped[itemID]
		if err := e.store.Add(ctx, group); err != nil {
			result.Failed += len(group)
			return errors.BackendOperationFailed("store", "add", err)
		}
		result.Added += len(group)
	}
	return nil
}

// delta computes and executes the add/touch/delete plan described by the
// reconciliation contract: unchanged items get touched, changed items get
// their prior records replaced, brand new items get added outright.
func (e *Engine) delta(ctx context.Context, chunks []ingest.Chunk, result *ingest.Result) error {
	if len(chunks) == 0 {
		return nil
	}

	plan, err := e.buildPlan(ctx, chunks)
	if err != nil {
		return err
	}

	if len(plan.Deletes) > 0 {
		ids := recordIDs(plan.Deletes)
		if err := e.store.Delete(ctx, ids); err != nil {
			return errors.BackendOperationFailed("store", "delete", err)
		}
		result.Deleted = len(ids)
	}
	if len(plan.Adds) > 0 {
		if err := e.store.Add(ctx, plan.Adds); err != nil {
			result.Failed = len(plan.Adds)
			return errors.BackendOperationFailed("store", "add", err)
		}
		result.Added = len(plan.Adds)
	}
	if len(plan.Touches) > 0 {
		ids := recordIDs(plan.Touches)
		if err := e.store.Touch(ctx, ids, time.Now().UTC().Unix()); err != nil {
			return errors.BackendOperationFailed("store", "touch", err)
		}
		result.Touched = len(ids)
	}
	return nil
}

// buildPlan implements the short-circuit + fan-out + per-chunk classification
// described in the reconciliation contract, deduplicating touch/delete sets
// with delete taking priority on conflict.
func (e *Engine) buildPlan(ctx context.Context, chunks []ingest.Chunk) (ingest.Plan, error) {
	if e.store.Capabilities().Count {
		n, err := e.store.Count(ctx)
		if err == nil && n == 0 {
			return ingest.Plan{Adds: chunks}, nil
		}
	}

	byItem := make(map[string][]ingest.Chunk)
	for _, c := range chunks {
		byItem[c.ItemID] = append(byItem[c.ItemID], c)
	}
	itemIDs := sortedKeys(byItem)

	dbByItem, err := e.fetchExisting(ctx, itemIDs)
	if err != nil {
		return ingest.Plan{}, err
	}

	var adds []ingest.Chunk
	toTouch := make(map[string]ingest.StoredRecord)
	toDelete := make(map[string]ingest.StoredRecord)

	for _, itemID := range itemIDs {
		existing := dbByItem[itemID]
		for _, c := range byItem[itemID] {
			if len(existing) == 0 {
				adds = append(adds, c)
				continue
			}
			if hasChecksum(existing, c.Checksum) {
				for _, r := range existing {
					toTouch[r.ChunkID] = r
				}
				continue
			}
			for _, r := range existing {
				toDelete[r.ChunkID] = r
			}
			adds = append(adds, c)
		}
	}

	// a chunk cannot be both refreshed and removed; delete wins.
	for id := range toDelete {
		delete(toTouch, id)
	}

	return ingest.Plan{
		Adds:    adds,
		Touches: mapValues(toTouch),
		Deletes: mapValues(toDelete),
	}, nil
}

// fetchExisting issues one get_by_item_id per distinct item_id across a
// bounded worker pool. A per-item failure is logged and treated as "no
// prior records" rather than aborting the whole run.
func (e *Engine) fetchExisting(ctx context.Context, itemIDs []string) (map[string][]ingest.StoredRecord, error) {
	var mu sync.Mutex
	out := make(map[string][]ingest.StoredRecord, len(itemIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for _, itemID := range itemIDs {
		itemID := itemID
		g.Go(func() error {
			records, err := e.store.GetByItemID(gctx, []string{itemID})
			if err != nil {
				e.logger.Warn("get_by_item_id failed, treating as no prior records", "item_id", itemID, "error", err)
				return nil
			}
			mu.Lock()
			out[itemID] = records
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, errors.BackendOperationFailed("store", "get_by_item_id", err)
	}
	return out, nil
}

func hasChecksum(records []ingest.StoredRecord, checksum string) bool {
	for _, r := range records {
		if r.Checksum == checksum {
			return true
		}
	}
	return false
}

func groupByItemID(chunks []ingest.Chunk) map[string][]ingest.Chunk {
	out := make(map[string][]ingest.Chunk)
	for _, c := range chunks {
		out[c.ItemID] = append(out[c.ItemID], c)
	}
	return out
}

func recordIDs(records []ingest.StoredRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ChunkID
	}
	return ids
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func mapValues(m map[string]ingest.StoredRecord) []ingest.StoredRecord {
	out := make([]ingest.StoredRecord, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

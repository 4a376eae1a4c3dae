package dimension

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"lakeloader/internal/conform"
	"lakeloader/internal/observability"
	"lakeloader/internal/registry"
	"lakeloader/pkg/errors"
)

// KeyFailure reports a natural key whose merge unit could not be applied
type KeyFailure struct {
	NaturalKey string
	Err        error
}

// MergeResult aggregates the outcome of one merged batch. Failures are
// per key and never abort sibling keys; partial-batch success is the
// designed behavior.
type MergeResult struct {
	Inserted          int
	Expired           int
	Unchanged         int
	DuplicatesDropped int
	Quarantined       []Quarantine
	Failed            []KeyFailure
	Unprocessed       []string
}

// Engine applies SCD2 merges against one dimension store. Independent
// natural keys merge in parallel; each key's expire/insert pair applies
// as one atomic unit against the store.
type Engine struct {
	store   *Store
	desc    registry.TableDescriptor
	logger  *observability.Logger
	workers int
}

// NewEngine creates a merge engine for one dimension table
func NewEngine(store *Store, desc registry.TableDescriptor, logger *observability.Logger, workers int) *Engine {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = observability.Default()
	}
	return &Engine{store: store, desc: desc, logger: logger.WithField("table", desc.Name), workers: workers}
}

// Store returns the engine's dimension store
func (e *Engine) Store() *Store {
	return e.store
}

// MergeBatch merges an incoming batch as of the given timestamp. A race
// on a key's current row is retried once with a fresh read before it is
// surfaced as a failure. Cancellation is honored between key units:
// committed units stay committed and the remainder is reported as
// unprocessed, safe to resume.
func (e *Engine) MergeBatch(ctx context.Context, incoming []*conform.ConformedRecord, asOf time.Time) *MergeResult {
	result := &MergeResult{}

	authoritative, dropped := dedupeLastWins(incoming)
	result.DuplicatesDropped = dropped
	if dropped > 0 {
		e.logger.WarnWithFields("discarded duplicate natural keys in batch", map[string]interface{}{
			"dropped": dropped,
		})
	}

	var mu sync.Mutex
	g := &errgroup.Group{}
	g.SetLimit(e.workers)

	for _, rec := range authoritative {
		rec := rec

		if ctx.Err() != nil {
			mu.Lock()
			result.Unprocessed = append(result.Unprocessed, rec.NaturalKey)
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			e.mergeKey(ctx, rec, asOf, result, &mu)
			return nil
		})
	}

	_ = g.Wait()
	return result
}

// mergeKey plans and applies the unit for one natural key, re-planning
// from a fresh read when the apply loses a compare-and-swap race.
func (e *Engine) mergeKey(ctx context.Context, rec *conform.ConformedRecord, asOf time.Time,
	result *MergeResult, mu *sync.Mutex) {

	var status unitStatus
	var reason error

	err := errors.RetryOnce(ctx, func(ctx context.Context) error {
		c, version, ok := e.store.CurrentVersion(rec.NaturalKey)
		var cur *Record
		if ok {
			cur = &c
		}

		insert, expireOn, st, why := planUnit(cur, rec, asOf, e.desc, e.store.NextSurrogateKey)
		status, reason = st, why

		switch st {
		case statusUnchanged, statusQuarantined:
			return nil
		default:
			return e.store.ApplyUnit(rec.NaturalKey, version, expireOn, insert)
		}
	})

	mu.Lock()
	defer mu.Unlock()

	if err != nil {
		result.Failed = append(result.Failed, KeyFailure{NaturalKey: rec.NaturalKey, Err: err})
		e.logger.ErrorWithFields("merge unit failed", map[string]interface{}{
			"natural_key": rec.NaturalKey,
			"error":       err.Error(),
		})
		return
	}

	switch status {
	case statusInsert:
		result.Inserted++
	case statusChange:
		result.Expired++
		result.Inserted++
	case statusUnchanged:
		result.Unchanged++
	case statusQuarantined:
		result.Quarantined = append(result.Quarantined, Quarantine{
			NaturalKey: rec.NaturalKey,
			Position:   rec.Position,
			Reason:     reason,
		})
	}
}

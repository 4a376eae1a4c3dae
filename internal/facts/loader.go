package facts

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"lakeloader/internal/observability"
	"lakeloader/internal/registry"
	"lakeloader/pkg/errors"
)

// Swapper atomically replaces the contents of one partition of a gold
// table with the staged rows. On error the target partition must be left
// untouched.
type Swapper interface {
	SwapPartition(ctx context.Context, table string, partition int, rows []Record) error
}

// DimensionResolver answers whether a surrogate key resolves to a row
// that is current at load time
type DimensionResolver interface {
	IsCurrentSurrogate(table string, key int64) bool
}

// Rejected reports a fact row refused before staging
type Rejected struct {
	Index  int
	Reason error
}

// PartitionFailure reports a partition whose swap failed; none of its
// rows were accepted and the prior partition contents remain authoritative
type PartitionFailure struct {
	Partition int
	Rows      int
	Err       error
}

// LoadResult aggregates the outcome of one fact load
type LoadResult struct {
	Accepted int
	Rejected []Rejected
	Failed   []PartitionFailure
}

// Loader validates and loads fact batches for one table
type Loader struct {
	desc     registry.TableDescriptor
	swapper  Swapper
	resolver DimensionResolver
	logger   *observability.Logger
}

// NewLoader creates a fact loader for one gold table
func NewLoader(desc registry.TableDescriptor, swapper Swapper, resolver DimensionResolver, logger *observability.Logger) *Loader {
	if logger == nil {
		logger = observability.Default()
	}
	return &Loader{
		desc:     desc,
		swapper:  swapper,
		resolver: resolver,
		logger:   logger.WithField("table", desc.Name),
	}
}

// Load validates references, groups rows by partition ordinal and swaps
// each affected partition. Distinct partitions load concurrently; a
// single partition only ever has one writer. A failed swap discards that
// partition's staged rows without affecting sibling partitions.
func (l *Loader) Load(ctx context.Context, rows []Record) *LoadResult {
	result := &LoadResult{}

	groups := make(map[int][]Record)
	for i, row := range rows {
		if err := l.validateReferences(row); err != nil {
			result.Rejected = append(result.Rejected, Rejected{Index: i, Reason: err})
			continue
		}
		p := l.desc.Partition.PartitionFor(row.PartitionKey)
		groups[p] = append(groups[p], cloneFactRecord(row))
	}

	if len(result.Rejected) > 0 {
		l.logger.WarnWithFields("rejected fact rows before staging", map[string]interface{}{
			"rejected": len(result.Rejected),
		})
	}

	ordinals := make([]int, 0, len(groups))
	for p := range groups {
		ordinals = append(ordinals, p)
	}
	sort.Ints(ordinals)

	var mu sync.Mutex
	g := &errgroup.Group{}

	for _, p := range ordinals {
		p := p
		staged := groups[p]

		g.Go(func() error {
			err := l.swapper.SwapPartition(ctx, l.desc.Name, p, staged)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, PartitionFailure{
					Partition: p,
					Rows:      len(staged),
					Err:       errors.PartitionSwapError(l.desc.Name, p, err),
				})
				l.logger.ErrorWithFields("partition swap failed, prior contents kept", map[string]interface{}{
					"partition": p,
					"rows":      len(staged),
					"error":     err.Error(),
				})
				return nil
			}
			result.Accepted += len(staged)
			return nil
		})
	}

	_ = g.Wait()

	sort.Slice(result.Failed, func(i, j int) bool { return result.Failed[i].Partition < result.Failed[j].Partition })
	return result
}

// validateReferences checks that every declared reference column carries
// the surrogate key of a dimension row that is current right now
func (l *Loader) validateReferences(row Record) error {
	for _, ref := range l.desc.References {
		key, ok := row.Keys[ref.Column]
		if !ok {
			return errors.RequiredFieldError(ref.Column)
		}
		if !l.resolver.IsCurrentSurrogate(ref.Table, key) {
			return errors.DanglingReferenceError(ref.Column, key).
				WithContext("dimension", ref.Table)
		}
	}
	return nil
}

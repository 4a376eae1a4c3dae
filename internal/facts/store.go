package facts

import (
	"context"
	"sort"
	"sync"

	"lakeloader/internal/security"
)

// MemoryPartitionStore is an in-process Swapper used for local runs and
// tests. Each swap replaces a partition's slice in one assignment under
// the lock, so readers see either the old contents or the new, never a
// mix.
type MemoryPartitionStore struct {
	mu         sync.RWMutex
	partitions map[string]map[int][]Record
}

// NewMemoryPartitionStore creates an empty partition store
func NewMemoryPartitionStore() *MemoryPartitionStore {
	return &MemoryPartitionStore{
		partitions: make(map[string]map[int][]Record),
	}
}

// SwapPartition implements Swapper
func (s *MemoryPartitionStore) SwapPartition(ctx context.Context, table string, partition int, rows []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	staged := make([]Record, 0, len(rows))
	for _, r := range rows {
		staged = append(staged, cloneFactRecord(r))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.partitions[table]
	if !ok {
		t = make(map[int][]Record)
		s.partitions[table] = t
	}
	t[partition] = staged
	return nil
}

// Partition returns a copy of the rows currently in one partition
func (s *MemoryPartitionStore) Partition(table string, partition int) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.partitions[table][partition]
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, cloneFactRecord(r))
	}
	return out
}

// RowCount returns the total rows stored for a table across partitions
func (s *MemoryPartitionStore) RowCount(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, rows := range s.partitions[table] {
		total += len(rows)
	}
	return total
}

// VisibleRows returns every stored row of a table the identity is
// authorized to read, in partition order
func (s *MemoryPartitionStore) VisibleRows(table string, id security.Identity, eval *security.Evaluator) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := s.partitions[table]
	ordinals := make([]int, 0, len(t))
	for p := range t {
		ordinals = append(ordinals, p)
	}
	sort.Ints(ordinals)

	var out []Record
	for _, p := range ordinals {
		for _, r := range t[p] {
			rec := cloneFactRecord(r)
			if eval.Authorize(id, rec) {
				out = append(out, rec)
			}
		}
	}
	return out
}

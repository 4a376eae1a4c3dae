package dimension

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"lakeloader/internal/security"
	"lakeloader/pkg/errors"
)

// chain is the version history of one natural key. version is a
// compare-and-swap token bumped by every applied unit.
type chain struct {
	versions []*Record
	version  uint64
}

func (c *chain) current() *Record {
	for i := len(c.versions) - 1; i >= 0; i-- {
		if c.versions[i].IsCurrent {
			return c.versions[i]
		}
	}
	return nil
}

// Store is the indexed dimension version store. It is the only contended
// shared state in a loader cycle; insert/expire pairs for one natural key
// apply as a single atomic unit serialized by a per-key lock.
type Store struct {
	mu          sync.RWMutex
	chains      map[string]*chain
	bySurrogate map[int64]*Record
	nextKey     atomic.Int64

	lockMu   sync.Mutex
	keyLocks map[string]*sync.Mutex
}

// NewStore creates an empty dimension store
func NewStore() *Store {
	return &Store{
		chains:      make(map[string]*chain),
		bySurrogate: make(map[int64]*Record),
		keyLocks:    make(map[string]*sync.Mutex),
	}
}

// NextSurrogateKey assigns a fresh surrogate key. Keys are monotonic and
// never reused.
func (s *Store) NextSurrogateKey() int64 {
	return s.nextKey.Add(1)
}

func (s *Store) keyLock(naturalKey string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.keyLocks[naturalKey]
	if !ok {
		l = &sync.Mutex{}
		s.keyLocks[naturalKey] = l
	}
	return l
}

// Current returns the current row for a natural key
func (s *Store) Current(naturalKey string) (Record, bool) {
	rec, _, ok := s.CurrentVersion(naturalKey)
	return rec, ok
}

// CurrentVersion returns the current row together with the chain's
// compare-and-swap token. A natural key never seen before has token zero.
func (s *Store) CurrentVersion(naturalKey string) (Record, uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chains[naturalKey]
	if !ok {
		return Record{}, 0, false
	}
	cur := c.current()
	if cur == nil {
		return Record{}, c.version, false
	}
	return cloneRecord(cur), c.version, true
}

// Snapshot returns a copy of every current row keyed by natural key
func (s *Store) Snapshot() map[string]Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Record, len(s.chains))
	for nk, c := range s.chains {
		if cur := c.current(); cur != nil {
			out[nk] = cloneRecord(cur)
		}
	}
	return out
}

// History returns every stored version of a natural key in insertion order
func (s *Store) History(naturalKey string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chains[naturalKey]
	if !ok {
		return nil
	}
	out := make([]Record, 0, len(c.versions))
	for _, v := range c.versions {
		out = append(out, cloneRecord(v))
	}
	return out
}

// IsCurrentSurrogate reports whether a surrogate key resolves to a row
// that is current right now
func (s *Store) IsCurrentSurrogate(key int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.bySurrogate[key]
	return ok && rec.IsCurrent
}

// CurrentSurrogate returns the surrogate key of the current row for a
// natural key
func (s *Store) CurrentSurrogate(naturalKey string) (int64, bool) {
	rec, ok := s.Current(naturalKey)
	if !ok {
		return 0, false
	}
	return rec.SurrogateKey, true
}

// ApplyUnit applies one merge unit for a natural key: an optional expire
// of the current row followed by an optional insert of a new current row,
// atomically. observed is the compare-and-swap token from the read that
// planned the unit; if the chain has advanced since, the unit fails with
// ConcurrentModification and the caller re-plans from a fresh read. A
// reader never observes zero or two current rows for the key.
func (s *Store) ApplyUnit(naturalKey string, observed uint64, expireOn *time.Time, insert *Record) error {
	kl := s.keyLock(naturalKey)
	kl.Lock()
	defer kl.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chains[naturalKey]
	if !ok {
		c = &chain{}
		s.chains[naturalKey] = c
	}

	if c.version != observed {
		return errors.ConcurrentModificationError(naturalKey)
	}

	if expireOn != nil {
		cur := c.current()
		if cur == nil {
			return errors.ConcurrentModificationError(naturalKey)
		}
		exp := *expireOn
		cur.ExpirationDate = &exp
		cur.IsCurrent = false
	}

	if insert != nil {
		if c.current() != nil {
			return errors.ConcurrentModificationError(naturalKey)
		}
		rec := cloneRecord(insert)
		rec.NaturalKey = naturalKey
		rec.IsCurrent = true
		rec.ExpirationDate = nil
		c.versions = append(c.versions, &rec)
		s.bySurrogate[rec.SurrogateKey] = &rec
	}

	c.version++
	return nil
}

// VisibleRows returns every stored version the identity is authorized to
// read. The evaluator runs per row on every call; nothing is cached.
func (s *Store) VisibleRows(id security.Identity, eval *security.Evaluator) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.chains))
	for nk := range s.chains {
		keys = append(keys, nk)
	}
	sort.Strings(keys)

	var out []Record
	for _, nk := range keys {
		for _, v := range s.chains[nk].versions {
			rec := cloneRecord(v)
			if eval.Authorize(id, rec) {
				out = append(out, rec)
			}
		}
	}
	return out
}

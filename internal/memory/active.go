package memory

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// ActiveConfig bounds the hot tier.
type ActiveConfig struct {
	MaxSize   int     // hard cap on resident entries
	MinWeight float64 // entries below this are evicted on every mutation
}

// DefaultActiveConfig returns the standard bounds.
func DefaultActiveConfig() ActiveConfig {
	return ActiveConfig{
		MaxSize:   50,
		MinWeight: 0.1,
	}
}

// ActiveStats is an O(n) aggregate over the resident entries.
type ActiveStats struct {
	Count            int            `json:"count"`
	ByType           map[string]int `json:"by_type"`
	MeanSignificance float64        `json:"mean_significance"`
	Oldest           float64        `json:"oldest"`
	Newest           float64        `json:"newest"`
}

// ArchiveCriteria selects entries to retire from the active store.
// An entry retires if it matches ANY set criterion, unlike archive read
// filters which AND their predicates.
type ArchiveCriteria struct {
	MaxAge          *float64 // seconds; entries older than this retire
	MinWeight       *float64 // entries lighter than this retire
	MinSignificance *float64 // entries less significant than this retire
}

// ActiveStore is the bounded, weight-decaying hot tier. Insertion order
// is recency order. After any mutation the size stays within MaxSize
// and no surviving entry is lighter than MinWeight.
//
// Unlike the archive, the active store locks internally: ingestion and
// consolidation append from different goroutines.
type ActiveStore struct {
	mu      sync.Mutex
	entries []Entry
	cfg     ActiveConfig
	archive Archive
	nowFn   func() float64
	logger  *zap.Logger
}

// NewActiveStore creates the hot tier over the given cold archive.
func NewActiveStore(cfg ActiveConfig, archive Archive, logger *zap.Logger) *ActiveStore {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultActiveConfig().MaxSize
	}
	return &ActiveStore{
		cfg:     cfg,
		archive: archive,
		nowFn:   func() float64 { return float64(time.Now().UnixNano()) / 1e9 },
		logger:  logger,
	}
}

// Append inserts at the tail, then enforces the weight floor and the
// size bound.
func (s *ActiveStore) Append(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	s.enforceBounds()
}

// enforceBounds drops sub-floor entries, then evicts the globally
// lightest entry until the size bound holds. Ties on minimal weight go
// to the earliest-inserted entry; the strict comparison below keeps
// that deterministic. Caller holds the lock.
func (s *ActiveStore) enforceBounds() {
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.Weight >= s.cfg.MinWeight {
			kept = append(kept, e)
		}
	}
	s.entries = kept

	for len(s.entries) > s.cfg.MaxSize {
		minIdx := 0
		for i := 1; i < len(s.entries); i++ {
			if s.entries[i].Weight < s.entries[minIdx].Weight {
				minIdx = i
			}
		}
		s.entries = append(s.entries[:minIdx], s.entries[minIdx+1:]...)
	}
}

// DecayWeights multiplies every entry's weight by the decay factor,
// an age factor 1/(1+age/86400), and a significance factor
// 0.5+0.5*significance, then clamps to the floor. Returns how many
// entries hit the floor. Decay clamps but never removes: an entry
// floored below the store's own MinWeight stays resident until the
// next Append re-enforces the bounds.
func (s *ActiveStore) DecayWeights(decayFactor, minWeight float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	floored := 0
	for i := range s.entries {
		e := &s.entries[i]
		age := e.Age(now)
		if age < 0 {
			age = 0
		}
		ageFactor := 1.0 / (1.0 + age/86400.0)
		sigFactor := 0.5 + 0.5*e.Significance
		e.Weight *= decayFactor * ageFactor * sigFactor
		if e.Weight < minWeight {
			e.Weight = minWeight
			floored++
		}
	}
	return floored
}

// ArchiveOld moves entries matching any supplied criterion into the
// archive as one batch and persists it. If persistence fails, the move
// is rolled back (the entries return to the active store and the
// archive is restored) and the error is surfaced. Parameters are
// validated before anything mutates.
func (s *ActiveStore) ArchiveOld(c ArchiveCriteria) (int, error) {
	if c.MaxAge != nil && *c.MaxAge < 0 {
		return 0, &ValidationError{Field: "max_age", Reason: "must be non-negative"}
	}
	if c.MinWeight != nil && (*c.MinWeight < 0 || *c.MinWeight > 1) {
		return 0, &ValidationError{Field: "min_weight", Reason: "must be in [0,1]"}
	}
	if c.MinSignificance != nil && (*c.MinSignificance < 0 || *c.MinSignificance > 1) {
		return 0, &ValidationError{Field: "min_significance", Reason: "must be in [0,1]"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	var moved []Entry
	kept := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if s.shouldRetire(e, c, now) {
			moved = append(moved, e)
		} else {
			kept = append(kept, e)
		}
	}
	if len(moved) == 0 {
		return 0, nil
	}

	s.archive.AddEntries(moved)
	if err := s.archive.Save(); err != nil {
		s.archive.discardLast(len(moved))
		s.logger.Warn("archive persist failed, move rolled back",
			zap.Int("entries", len(moved)), zap.Error(err))
		return 0, err
	}

	s.entries = kept
	s.logger.Debug("entries archived", zap.Int("moved", len(moved)))
	return len(moved), nil
}

func (s *ActiveStore) shouldRetire(e Entry, c ArchiveCriteria, now float64) bool {
	if c.MaxAge != nil && e.Age(now) > *c.MaxAge {
		return true
	}
	if c.MinWeight != nil && e.Weight < *c.MinWeight {
		return true
	}
	if c.MinSignificance != nil && e.Significance < *c.MinSignificance {
		return true
	}
	return false
}

// ArchiveEntries reads the cold tier under the store's lock. The
// archive does not synchronize internally and this store is its single
// writer, so concurrent readers must come through here.
func (s *ActiveStore) ArchiveEntries(f Filter) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.archive.Entries(f)
}

// Statistics aggregates the resident entries in one pass.
func (s *ActiveStore) Statistics() ActiveStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := ActiveStats{
		Count:  len(s.entries),
		ByType: make(map[string]int),
	}
	if len(s.entries) == 0 {
		return stats
	}

	var sigSum float64
	stats.Oldest = s.entries[0].Timestamp
	stats.Newest = s.entries[0].Timestamp
	for _, e := range s.entries {
		stats.ByType[e.EventType]++
		sigSum += e.Significance
		if e.Timestamp < stats.Oldest {
			stats.Oldest = e.Timestamp
		}
		if e.Timestamp > stats.Newest {
			stats.Newest = e.Timestamp
		}
	}
	stats.MeanSignificance = sigSum / float64(len(s.entries))
	return stats
}

// Entries returns a copy of the resident entries in insertion order.
// Together with Append this satisfies EpisodicTier.
func (s *ActiveStore) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the resident entry count.
func (s *ActiveStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

var _ EpisodicTier = (*ActiveStore)(nil)

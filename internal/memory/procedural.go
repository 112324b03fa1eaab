package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pattern is an automated behavior distilled from a well-established
// concept.
type Pattern struct {
	ID          string  `json:"id"`
	Trigger     string  `json:"trigger"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	UsageCount  int     `json:"usage_count"`
	SuccessRate float64 `json:"success_rate"`
	CreatedAt   float64 `json:"created_at"`
}

// ProceduralTier is the narrow surface the coordinator consumes the
// pattern store through.
type ProceduralTier interface {
	// FindApplicablePatterns returns patterns whose trigger matches,
	// best first.
	FindApplicablePatterns(trigger string, limit int) []Pattern
	// OptimizePatterns retires patterns that stopped working; returns
	// how many were removed.
	OptimizePatterns() int
	// LearnPattern stores a pattern if its ID is new; reports whether
	// it was added.
	LearnPattern(p Pattern) bool
}

// Patterns below this success rate are retired by OptimizePatterns.
// Freshly learned patterns start at 1.0 and only drop on recorded
// failures.
const minPatternSuccessRate = 0.2

// PatternStore is the in-memory procedural tier.
type PatternStore struct {
	mu       sync.RWMutex
	patterns map[string]*Pattern
	nowFn    func() float64
	logger   *zap.Logger
}

// NewPatternStore creates an empty pattern store.
func NewPatternStore(logger *zap.Logger) *PatternStore {
	return &PatternStore{
		patterns: make(map[string]*Pattern),
		nowFn:    func() float64 { return float64(time.Now().UnixNano()) / 1e9 },
		logger:   logger,
	}
}

// LearnPattern stores p under its ID unless one already exists.
func (s *PatternStore) LearnPattern(p Pattern) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patterns[p.ID]; ok {
		return false
	}
	if p.CreatedAt == 0 {
		p.CreatedAt = s.nowFn()
	}
	if p.SuccessRate == 0 {
		p.SuccessRate = 1.0
	}
	s.patterns[p.ID] = &p
	s.logger.Debug("pattern learned", zap.String("id", p.ID), zap.String("trigger", p.Trigger))
	return true
}

// FindApplicablePatterns matches the trigger as a case-insensitive
// substring, sorted by confidence descending.
func (s *PatternStore) FindApplicablePatterns(trigger string, limit int) []Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lowered := strings.ToLower(trigger)
	var out []Pattern
	for _, p := range s.patterns {
		if lowered == "" || strings.Contains(strings.ToLower(p.Trigger), lowered) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// RecordUse updates a pattern's usage statistics after execution.
func (s *PatternStore) RecordUse(id string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patterns[id]
	if !ok {
		return
	}
	total := p.SuccessRate * float64(p.UsageCount)
	if success {
		total++
	}
	p.UsageCount++
	p.SuccessRate = total / float64(p.UsageCount)
}

// OptimizePatterns retires used patterns whose success rate fell under
// the floor.
func (s *PatternStore) OptimizePatterns() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, p := range s.patterns {
		if p.UsageCount > 0 && p.SuccessRate < minPatternSuccessRate {
			delete(s.patterns, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("retired failing patterns", zap.Int("removed", removed))
	}
	return removed
}

// Len returns the stored pattern count.
func (s *PatternStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.patterns)
}

var _ ProceduralTier = (*PatternStore)(nil)

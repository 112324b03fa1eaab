package memory

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Traversal and consolidation constants.
const (
	// depthDecay discounts relevance per traversal hop.
	depthDecay = 0.8
	// activationHalfDecay discounts activation strength per idle hour.
	activationHalfDecay = 0.99

	// Concepts are pruned when BOTH hold, in contrast with the
	// active store's OR-based retirement.
	pruneConfidenceBelow = 0.1
	pruneActivationBelow = 0.05

	// Associations idle longer than this decay on consolidation.
	associationIdleSeconds = 7 * 24 * 3600.0
	associationDecayFactor = 0.9
	associationMinStrength = 0.05
)

// Concept is a node in the semantic graph.
type Concept struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Confidence      float64         `json:"confidence"`
	ActivationCount int             `json:"activation_count"`
	LastActivation  float64         `json:"last_activation"`
	Related         map[string]bool `json:"related,omitempty"`
	Properties      map[string]any  `json:"properties,omitempty"`
	CreatedAt       float64         `json:"created_at"`
}

// Association is a directed, reinforceable edge between two concepts.
// Storage is directional; traversal treats edges as bidirectional.
type Association struct {
	SourceID      string  `json:"source_id"`
	TargetID      string  `json:"target_id"`
	Type          string  `json:"type"`
	Strength      float64 `json:"strength"`
	EvidenceCount int     `json:"evidence_count"`
	LastUpdated   float64 `json:"last_updated"`
}

// pairKey identifies an association by its ordered endpoints.
type pairKey struct {
	src, dst string
}

// SearchResult pairs a concept with its query score.
type SearchResult struct {
	Concept Concept `json:"concept"`
	Score   float64 `json:"score"`
}

// SemanticStore is the concept/association graph tier.
type SemanticStore struct {
	mu           sync.RWMutex
	concepts     map[string]*Concept
	associations map[pairKey]*Association
	byConcept    map[string]map[pairKey]bool // back-index on both endpoints
	nowFn        func() float64
	logger       *zap.Logger
}

// NewSemanticStore creates an empty graph.
func NewSemanticStore(logger *zap.Logger) *SemanticStore {
	return &SemanticStore{
		concepts:     make(map[string]*Concept),
		associations: make(map[pairKey]*Association),
		byConcept:    make(map[string]map[pairKey]bool),
		nowFn:        func() float64 { return float64(time.Now().UnixNano()) / 1e9 },
		logger:       logger,
	}
}

func clamp01(v float64) float64 {
	return math.Min(1.0, math.Max(0.0, v))
}

// AddConcept upserts by ID. On collision confidence merges via max
// (monotonically non-decreasing), activation counts sum, related sets
// union, and properties merge with the incoming side winning key
// collisions. Name and description are first-write-wins: the original
// provenance is preserved. Incoming maps are copied, never aliased.
func (s *SemanticStore) AddConcept(c Concept) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := s.nowFn()
	if c.LastActivation == 0 {
		c.LastActivation = now
	}
	c.Confidence = clamp01(c.Confidence)

	existing, ok := s.concepts[c.ID]
	if !ok {
		stored := c
		stored.Related = copyBoolSet(c.Related)
		stored.Properties = copyProps(c.Properties)
		if stored.CreatedAt == 0 {
			stored.CreatedAt = now
		}
		s.concepts[c.ID] = &stored
		s.logger.Debug("concept created", zap.String("id", c.ID), zap.String("name", c.Name))
		return c.ID
	}

	existing.Confidence = clamp01(math.Max(existing.Confidence, c.Confidence))
	existing.ActivationCount += c.ActivationCount
	existing.LastActivation = c.LastActivation
	for id := range c.Related {
		if existing.Related == nil {
			existing.Related = make(map[string]bool)
		}
		existing.Related[id] = true
	}
	if len(c.Properties) > 0 && existing.Properties == nil {
		existing.Properties = make(map[string]any)
	}
	for k, v := range c.Properties {
		existing.Properties[k] = v
	}
	s.logger.Debug("concept merged",
		zap.String("id", c.ID),
		zap.Float64("confidence", existing.Confidence),
		zap.Int("activation_count", existing.ActivationCount))
	return c.ID
}

// GetConcept returns a copy of the concept, or false.
func (s *SemanticStore) GetConcept(id string) (Concept, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.concepts[id]
	if !ok {
		return Concept{}, false
	}
	out := *c
	out.Related = copyBoolSet(c.Related)
	out.Properties = copyProps(c.Properties)
	return out, true
}

// AddAssociation inserts or reinforces the edge keyed by the ordered
// (source, target) pair. Reinforcement adds the incoming strength,
// capped at 1, bumps the evidence count and refreshes the timestamp.
func (s *SemanticStore) AddAssociation(a Association) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey{src: a.SourceID, dst: a.TargetID}
	now := s.nowFn()
	incoming := clamp01(a.Strength)

	existing, ok := s.associations[key]
	if ok {
		existing.Strength = math.Min(1.0, existing.Strength+incoming)
		existing.EvidenceCount++
		existing.LastUpdated = now
		return
	}

	a.Strength = incoming
	if a.EvidenceCount == 0 {
		a.EvidenceCount = 1
	}
	a.LastUpdated = now
	s.associations[key] = &a
	s.indexAssociation(key)
}

func (s *SemanticStore) indexAssociation(key pairKey) {
	for _, id := range []string{key.src, key.dst} {
		if s.byConcept[id] == nil {
			s.byConcept[id] = make(map[pairKey]bool)
		}
		s.byConcept[id][key] = true
	}
}

func (s *SemanticStore) unindexAssociation(key pairKey) {
	for _, id := range []string{key.src, key.dst} {
		if set := s.byConcept[id]; set != nil {
			delete(set, key)
			if len(set) == 0 {
				delete(s.byConcept, id)
			}
		}
	}
}

// FindRelated walks the graph outward from id up to maxDepth hops.
// Relevance through an edge at depth d is parent * strength * 0.8^d.
// Edges are followed in both directions. A concept reachable along
// several paths keeps the best relevance seen; a visited set stops
// cycles. The origin is always present at relevance 1.0.
func (s *SemanticStore) FindRelated(id string, maxDepth int) map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	relevance := make(map[string]float64)
	if _, ok := s.concepts[id]; !ok {
		return relevance
	}
	relevance[id] = 1.0

	visited := map[string]bool{id: true}
	frontier := []string{id}

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		hopDecay := math.Pow(depthDecay, float64(depth))
		var next []string
		for _, cur := range frontier {
			for key := range s.byConcept[cur] {
				assoc := s.associations[key]
				other := key.dst
				if other == cur {
					other = key.src
				}
				if _, ok := s.concepts[other]; !ok {
					continue
				}
				rel := relevance[cur] * assoc.Strength * hopDecay
				if rel > relevance[other] {
					relevance[other] = rel
				}
				if !visited[other] {
					visited[other] = true
					next = append(next, other)
				}
			}
		}
		frontier = next
	}
	return relevance
}

// activationStrength is the concept's confidence decayed by idle hours.
// Caller holds at least the read lock.
func (s *SemanticStore) activationStrength(c *Concept, now float64) float64 {
	idleHours := (now - c.LastActivation) / 3600.0
	if idleHours < 0 {
		idleHours = 0
	}
	return c.Confidence * math.Pow(activationHalfDecay, idleHours)
}

// SearchConcepts scores concepts against a substring query: 1.0 for a
// name hit plus 0.5 for a description hit, multiplied by the
// time-decayed activation strength. Results come back sorted by score
// descending, truncated to limit.
func (s *SemanticStore) SearchConcepts(query string, limit int) []SearchResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.nowFn()
	lowered := strings.ToLower(query)
	var results []SearchResult
	for _, c := range s.concepts {
		base := 0.0
		if lowered != "" && strings.Contains(strings.ToLower(c.Name), lowered) {
			base += 1.0
		}
		if lowered != "" && strings.Contains(strings.ToLower(c.Description), lowered) {
			base += 0.5
		}
		if base == 0 {
			continue
		}
		out := *c
		out.Related = copyBoolSet(c.Related)
		out.Properties = copyProps(c.Properties)
		results = append(results, SearchResult{
			Concept: out,
			Score:   base * s.activationStrength(c, now),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Concept.ID < results[j].Concept.ID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// ConsolidateKnowledge prunes dead weight from the graph: concepts
// whose confidence AND activation strength both sit under the floor,
// their incident edges, and associations that decayed away after a
// week untouched. Returns the total removed (concepts + associations).
func (s *SemanticStore) ConsolidateKnowledge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	removed := 0

	for id, c := range s.concepts {
		if c.Confidence < pruneConfidenceBelow && s.activationStrength(c, now) < pruneActivationBelow {
			delete(s.concepts, id)
			removed++
			for key := range s.byConcept[id] {
				delete(s.associations, key)
				s.unindexAssociation(key)
				removed++
			}
		}
	}

	for key, a := range s.associations {
		if now-a.LastUpdated > associationIdleSeconds {
			a.Strength *= associationDecayFactor
		}
		if a.Strength < associationMinStrength {
			delete(s.associations, key)
			s.unindexAssociation(key)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info("semantic consolidation pruned graph",
			zap.Int("removed", removed),
			zap.Int("concepts", len(s.concepts)),
			zap.Int("associations", len(s.associations)))
	}
	return removed
}

// ValidateIntegrity runs a structural check over the graph and returns
// a description of every problem found. An empty slice means the graph
// is consistent.
func (s *SemanticStore) ValidateIntegrity() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var issues []string
	for id, c := range s.concepts {
		if c.ID != id {
			issues = append(issues, fmt.Sprintf("concept keyed %q carries id %q", id, c.ID))
		}
		if math.IsNaN(c.Confidence) || math.IsInf(c.Confidence, 0) || c.Confidence < 0 || c.Confidence > 1 {
			issues = append(issues, fmt.Sprintf("concept %q has invalid confidence %v", id, c.Confidence))
		}
		if c.ActivationCount < 0 {
			issues = append(issues, fmt.Sprintf("concept %q has negative activation count %d", id, c.ActivationCount))
		}
	}
	for key, a := range s.associations {
		if _, ok := s.concepts[key.src]; !ok {
			issues = append(issues, fmt.Sprintf("association %s->%s references missing source", key.src, key.dst))
		}
		if _, ok := s.concepts[key.dst]; !ok {
			issues = append(issues, fmt.Sprintf("association %s->%s references missing target", key.src, key.dst))
		}
		if math.IsNaN(a.Strength) || a.Strength < 0 || a.Strength > 1 {
			issues = append(issues, fmt.Sprintf("association %s->%s has invalid strength %v", key.src, key.dst, a.Strength))
		}
	}
	return issues
}

// Concepts returns copies of every concept, sorted by ID.
func (s *SemanticStore) Concepts() []Concept {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Concept, 0, len(s.concepts))
	for _, c := range s.concepts {
		cp := *c
		cp.Related = copyBoolSet(c.Related)
		cp.Properties = copyProps(c.Properties)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ConceptCount returns the number of concepts in the graph.
func (s *SemanticStore) ConceptCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.concepts)
}

// AssociationCount returns the number of stored (directed) edges.
func (s *SemanticStore) AssociationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.associations)
}

// Snapshot returns a serializable copy of the whole graph, consumed by
// the external snapshot manager.
func (s *SemanticStore) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	concepts := make([]Concept, 0, len(s.concepts))
	for _, c := range s.concepts {
		out := *c
		out.Related = copyBoolSet(c.Related)
		out.Properties = copyProps(c.Properties)
		concepts = append(concepts, out)
	}
	sort.Slice(concepts, func(i, j int) bool { return concepts[i].ID < concepts[j].ID })

	associations := make([]Association, 0, len(s.associations))
	for _, a := range s.associations {
		associations = append(associations, *a)
	}
	sort.Slice(associations, func(i, j int) bool {
		if associations[i].SourceID != associations[j].SourceID {
			return associations[i].SourceID < associations[j].SourceID
		}
		return associations[i].TargetID < associations[j].TargetID
	})

	return map[string]any{
		"concepts":     concepts,
		"associations": associations,
	}
}

func copyBoolSet(in map[string]bool) map[string]bool {
	if in == nil {
		return nil
	}
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyProps(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

package memory

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Thresholds gate promotion between tiers. Setters clamp instead of
// rejecting: counts floor at 1, the interval floors at one second.
type Thresholds struct {
	SensoryToEpisodic     int     `json:"sensory_to_episodic"`
	EpisodicToSemantic    int     `json:"episodic_to_semantic"`
	SemanticToProcedural  int     `json:"semantic_to_procedural"`
	ConsolidationInterval float64 `json:"consolidation_interval"` // subjective seconds
}

// DefaultThresholds returns the standard gates.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SensoryToEpisodic:     3,
		EpisodicToSemantic:    5,
		SemanticToProcedural:  10,
		ConsolidationInterval: 3600,
	}
}

// Sensory events at or above this intensity promote immediately,
// bypassing the repetition counter.
const intensityFastPath = 0.8

// Concepts need at least this confidence before they automate into
// procedural patterns.
const automationConfidence = 0.7

// TransferCounts tracks lifetime promotions along each path.
type TransferCounts struct {
	SensoryToEpisodic    int `json:"sensory_to_episodic"`
	EpisodicToSemantic   int `json:"episodic_to_semantic"`
	SemanticToProcedural int `json:"semantic_to_procedural"`
}

// ConsolidationResult is the structured outcome of one consolidation
// pass. Internal faults surface here as Success=false; they never
// escape as errors or panics, so the scheduler can keep calling every
// tick.
type ConsolidationResult struct {
	RunID            string        `json:"run_id"`
	Success          bool          `json:"success"`
	SensoryPromoted  int           `json:"sensory_promoted"`
	ConceptsCreated  int           `json:"concepts_created"`
	SemanticRemoved  int           `json:"semantic_removed"`
	ConsolidationRan bool          `json:"consolidation_ran"`
	Duration         time.Duration `json:"duration"`
	Error            string        `json:"error,omitempty"`
}

// QueryParams bounds a tier query.
type QueryParams struct {
	Query     string `json:"query"`
	EventType string `json:"event_type"`
	ConceptID string `json:"concept_id"`
	MaxDepth  int    `json:"max_depth"`
	Max       int    `json:"max"`
}

// QueryResult carries the per-tier payload plus timing.
type QueryResult struct {
	Level    string             `json:"level"`
	Count    int                `json:"count"`
	Duration time.Duration      `json:"duration"`
	Events   []SensoryEvent     `json:"events,omitempty"`
	Entries  []Entry            `json:"entries,omitempty"`
	Concepts []SearchResult     `json:"concepts,omitempty"`
	Related  map[string]float64 `json:"related,omitempty"`
	Patterns []Pattern          `json:"patterns,omitempty"`
}

// HierarchyStatus is a point-in-time view over every tier.
type HierarchyStatus struct {
	SensoryCount      int            `json:"sensory_count"`
	EpisodicCount     int            `json:"episodic_count"`
	ConceptCount      int            `json:"concept_count"`
	AssociationCount  int            `json:"association_count"`
	PendingTypes      map[string]int `json:"pending_types"`
	Transfers         TransferCounts `json:"transfers"`
	Thresholds        Thresholds     `json:"thresholds"`
	LastConsolidation float64        `json:"last_consolidation"`
}

// Hierarchy coordinates promotion across the four memory tiers. Its
// mutex guards only the shared counters, thresholds and the last
// consolidation timestamp. It is never held across a full phase or
// any I/O, so ingestion keeps flowing during consolidation. Each tier
// synchronizes itself.
type Hierarchy struct {
	sensory    *SensoryBuffer
	episodic   EpisodicTier
	semantic   *SemanticStore
	procedural ProceduralTier

	mu                sync.Mutex
	typeCounts        map[string]int
	seenSensory       map[string]bool
	transfers         TransferCounts
	thresholds        Thresholds
	lastConsolidation float64

	logger *zap.Logger
}

// NewHierarchy wires the coordinator over the four tiers.
func NewHierarchy(
	sensory *SensoryBuffer,
	episodic EpisodicTier,
	semantic *SemanticStore,
	procedural ProceduralTier,
	thresholds Thresholds,
	logger *zap.Logger,
) *Hierarchy {
	h := &Hierarchy{
		sensory:     sensory,
		episodic:    episodic,
		semantic:    semantic,
		procedural:  procedural,
		typeCounts:  make(map[string]int),
		seenSensory: make(map[string]bool),
		logger:      logger,
	}
	h.SetTransferThresholds(
		thresholds.SensoryToEpisodic,
		thresholds.EpisodicToSemantic,
		thresholds.SemanticToProcedural,
		thresholds.ConsolidationInterval,
	)
	return h
}

// AddSensoryEvent is the ingestion entry point for collaborators.
func (h *Hierarchy) AddSensoryEvent(ev SensoryEvent) {
	h.sensory.AddEvent(ev)
}

// ConsumeSensoryEvents drains buffered events for downstream
// meaning-evaluation collaborators. max <= 0 drains everything.
func (h *Hierarchy) ConsumeSensoryEvents(max int) []SensoryEvent {
	return h.sensory.EventsForProcessing(max)
}

// SetTransferThresholds updates the promotion gates, clamping rather
// than rejecting out-of-range values.
func (h *Hierarchy) SetTransferThresholds(sensoryToEpisodic, episodicToSemantic, semanticToProcedural int, interval float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.thresholds = Thresholds{
		SensoryToEpisodic:     maxInt(1, sensoryToEpisodic),
		EpisodicToSemantic:    maxInt(1, episodicToSemantic),
		SemanticToProcedural:  maxInt(1, semanticToProcedural),
		ConsolidationInterval: math.Max(1.0, interval),
	}
}

// ConsolidateMemory runs the three promotion phases in one pass. The
// phases commit independently: entries promoted into the episodic tier
// in phase 1 are already visible to phase 2 within the same call.
// Faults are converted into a failure result, never propagated.
func (h *Hierarchy) ConsolidateMemory(self SelfState) (result *ConsolidationResult) {
	start := time.Now()
	result = &ConsolidationResult{
		RunID:   uuid.New().String(),
		Success: true,
	}
	defer func() {
		result.Duration = time.Since(start)
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Sprintf("internal fault: %v", r)
			h.logger.Error("consolidation fault", zap.String("run_id", result.RunID), zap.Any("fault", r))
		}
	}()

	now := self.SubjectiveTime()

	result.SensoryPromoted = h.promoteSensory(now)
	result.ConceptsCreated = h.promoteEpisodic(now)

	h.mu.Lock()
	interval := h.thresholds.ConsolidationInterval
	due := now-h.lastConsolidation >= interval
	h.mu.Unlock()

	if due {
		// Deliberately outside the coordinator lock.
		result.SemanticRemoved = h.semantic.ConsolidateKnowledge()
		result.ConsolidationRan = true
		h.mu.Lock()
		h.lastConsolidation = now
		h.mu.Unlock()
	}

	h.logger.Debug("consolidation pass complete",
		zap.String("run_id", result.RunID),
		zap.Int("sensory_promoted", result.SensoryPromoted),
		zap.Int("concepts_created", result.ConceptsCreated),
		zap.Int("semantic_removed", result.SemanticRemoved),
		zap.Bool("consolidation_ran", result.ConsolidationRan))
	return result
}

// promoteSensory counts repetitions per event type over a
// non-destructive peek and promotes a type into the episodic tier when
// its counter reaches the threshold, or immediately on high intensity.
// Promotion clears the counter. Draining the buffer itself belongs to
// the downstream meaning-evaluation path, so an event still buffered
// from an earlier pass is remembered by ID and counted only once. The
// seen set is rebuilt from each peek, keeping it bounded by the buffer.
func (h *Hierarchy) promoteSensory(now float64) int {
	events := h.sensory.PeekEvents(0)
	promoted := 0

	seen := make(map[string]bool, len(events))
	for _, ev := range events {
		seen[ev.ID] = true

		h.mu.Lock()
		if h.seenSensory[ev.ID] {
			h.mu.Unlock()
			continue
		}
		h.typeCounts[ev.EventType]++
		count := h.typeCounts[ev.EventType]
		threshold := h.thresholds.SensoryToEpisodic
		promote := count >= threshold || ev.Intensity > intensityFastPath
		if promote {
			h.typeCounts[ev.EventType] = 0
			h.transfers.SensoryToEpisodic++
		}
		h.mu.Unlock()

		if !promote {
			continue
		}
		subjective := now
		entry := NewEntry(ev.EventType, ev.Intensity, ev.Timestamp)
		entry.Feedback = ev.Data
		entry.SubjectiveTime = &subjective
		h.episodic.Append(entry)
		promoted++
	}

	h.mu.Lock()
	h.seenSensory = seen
	h.mu.Unlock()
	return promoted
}

// promoteEpisodic groups the episodic tier by event type and
// synthesizes a semantic concept for every group that crossed the
// threshold. Concept IDs derive from the event type, so repeated
// promotion merges instead of duplicating.
func (h *Hierarchy) promoteEpisodic(now float64) int {
	entries := h.episodic.Entries()

	type group struct {
		count  int
		sigSum float64
	}
	groups := make(map[string]*group)
	for _, e := range entries {
		g := groups[e.EventType]
		if g == nil {
			g = &group{}
			groups[e.EventType] = g
		}
		g.count++
		g.sigSum += e.Significance
	}

	h.mu.Lock()
	threshold := h.thresholds.EpisodicToSemantic
	h.mu.Unlock()

	created := 0
	for eventType, g := range groups {
		if g.count < threshold {
			continue
		}
		meanSig := g.sigSum / float64(g.count)
		h.semantic.AddConcept(Concept{
			ID:              "concept_" + eventType,
			Name:            eventType,
			Description:     fmt.Sprintf("consolidated from %d %s episodes", g.count, eventType),
			Confidence:      math.Min(0.9, float64(g.count)/15.0),
			ActivationCount: 1,
			LastActivation:  now,
			Properties: map[string]any{
				"source_event_type": eventType,
				"observation_count": g.count,
				"mean_significance": meanSig,
			},
		})
		created++

		h.mu.Lock()
		h.transfers.EpisodicToSemantic++
		h.mu.Unlock()
	}
	return created
}

// AutomateSkills promotes well-established concepts into procedural
// patterns: anything activated at least the semantic→procedural
// threshold times with solid confidence becomes a pattern. Runs on its
// own cadence, outside the consolidation pass.
func (h *Hierarchy) AutomateSkills(self SelfState) int {
	h.mu.Lock()
	threshold := h.thresholds.SemanticToProcedural
	h.mu.Unlock()

	now := self.SubjectiveTime()
	learned := 0
	for _, c := range h.semantic.Concepts() {
		if c.ActivationCount < threshold || c.Confidence < automationConfidence {
			continue
		}
		added := h.procedural.LearnPattern(Pattern{
			ID:          "pattern_" + c.ID,
			Trigger:     c.Name,
			Description: c.Description,
			Confidence:  c.Confidence,
			CreatedAt:   now,
		})
		if !added {
			continue
		}
		learned++
		h.mu.Lock()
		h.transfers.SemanticToProcedural++
		h.mu.Unlock()
	}
	if learned > 0 {
		h.logger.Info("automated concepts into patterns", zap.Int("learned", learned))
	}
	return learned
}

// QueryMemory dispatches to the named tier. Unknown tier names are a
// validation error. Every dispatch is bounded and timed.
func (h *Hierarchy) QueryMemory(level string, p QueryParams) (*QueryResult, error) {
	start := time.Now()
	max := p.Max
	if max <= 0 {
		max = 20
	}
	if max > 100 {
		max = 100
	}
	depth := p.MaxDepth
	if depth <= 0 {
		depth = 2
	}

	result := &QueryResult{Level: level}
	switch level {
	case "sensory":
		result.Events = h.sensory.PeekEvents(max)
		result.Count = len(result.Events)
	case "episodic":
		for _, e := range h.episodic.Entries() {
			if p.EventType != "" && e.EventType != p.EventType {
				continue
			}
			result.Entries = append(result.Entries, e)
			if len(result.Entries) >= max {
				break
			}
		}
		result.Count = len(result.Entries)
	case "semantic":
		if p.ConceptID != "" {
			result.Related = h.semantic.FindRelated(p.ConceptID, depth)
			result.Count = len(result.Related)
		} else {
			result.Concepts = h.semantic.SearchConcepts(p.Query, max)
			result.Count = len(result.Concepts)
		}
	case "procedural":
		result.Patterns = h.procedural.FindApplicablePatterns(p.Query, max)
		result.Count = len(result.Patterns)
	default:
		return nil, &ValidationError{Field: "level", Reason: fmt.Sprintf("unknown memory tier %q", level)}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// Status reports a point-in-time view across the tiers.
func (h *Hierarchy) Status() HierarchyStatus {
	h.mu.Lock()
	pending := make(map[string]int, len(h.typeCounts))
	for k, v := range h.typeCounts {
		if v > 0 {
			pending[k] = v
		}
	}
	status := HierarchyStatus{
		PendingTypes:      pending,
		Transfers:         h.transfers,
		Thresholds:        h.thresholds,
		LastConsolidation: h.lastConsolidation,
	}
	h.mu.Unlock()

	status.SensoryCount = h.sensory.Len()
	status.EpisodicCount = len(h.episodic.Entries())
	status.ConceptCount = h.semantic.ConceptCount()
	status.AssociationCount = h.semantic.AssociationCount()
	return status
}

// Snapshot returns the coordinator state plus the semantic graph for
// the external snapshot manager.
func (h *Hierarchy) Snapshot() map[string]any {
	h.mu.Lock()
	pending := make(map[string]int, len(h.typeCounts))
	for k, v := range h.typeCounts {
		pending[k] = v
	}
	transfers := h.transfers
	thresholds := h.thresholds
	last := h.lastConsolidation
	h.mu.Unlock()

	return map[string]any{
		"type_counts":        pending,
		"transfers":          transfers,
		"thresholds":         thresholds,
		"last_consolidation": last,
		"semantic":           h.semantic.Snapshot(),
	}
}

// SerializationMetadata identifies snapshot payloads for the external
// snapshot manager.
func (h *Hierarchy) SerializationMetadata() map[string]any {
	return map[string]any{
		"component": "memory_hierarchy",
		"version":   1,
		"timestamp": float64(time.Now().UnixNano()) / 1e9,
	}
}

// Reset clears the coordinator's own state: processing counters,
// transfer counts, the consolidation timestamp, and the sensory buffer
// it owns. Externally owned tiers are left alone.
func (h *Hierarchy) Reset() {
	h.mu.Lock()
	h.typeCounts = make(map[string]int)
	h.seenSensory = make(map[string]bool)
	h.transfers = TransferCounts{}
	h.lastConsolidation = 0
	h.mu.Unlock()
	h.sensory.Clear()
	h.logger.Info("hierarchy reset")
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

var _ SelfState = wallClock{}

// wallClock is the fallback SelfState when no subjective clock is
// wired; it reports wall time as subjective time.
type wallClock struct{}

func (wallClock) SubjectiveTime() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// WallClock returns a SelfState backed by the system clock.
func WallClock() SelfState { return wallClock{} }

package sim

import (
	"sync"

	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/memory"
)

// SchedulerConfig sets the per-tick maintenance parameters.
type SchedulerConfig struct {
	DecayFactor    float64
	DecayMinWeight float64
	ArchiveMaxAge  float64 // seconds
	// MaintenanceEvery is the tick cadence for skill automation and
	// pattern optimization.
	MaintenanceEvery int
}

// Scheduler is a TickListener that runs the memory maintenance cycle:
// weight decay and archival on the episodic store, a consolidation pass
// on the hierarchy, and periodic skill automation. Failures are logged
// and never stop the loop.
type Scheduler struct {
	hierarchy  *memory.Hierarchy
	active     *memory.ActiveStore
	procedural memory.ProceduralTier
	self       memory.SelfState
	cfg        SchedulerConfig

	mu    sync.Mutex
	ticks int

	logger *zap.Logger
}

// NewScheduler wires the maintenance cycle over the memory engine.
func NewScheduler(
	hierarchy *memory.Hierarchy,
	active *memory.ActiveStore,
	procedural memory.ProceduralTier,
	self memory.SelfState,
	cfg SchedulerConfig,
	logger *zap.Logger,
) *Scheduler {
	if cfg.MaintenanceEvery < 1 {
		cfg.MaintenanceEvery = 1
	}
	return &Scheduler{
		hierarchy:  hierarchy,
		active:     active,
		procedural: procedural,
		self:       self,
		cfg:        cfg,
		logger:     logger,
	}
}

// OnTick implements TickListener.
func (s *Scheduler) OnTick(subjective float64) {
	floored := s.active.DecayWeights(s.cfg.DecayFactor, s.cfg.DecayMinWeight)
	if floored > 0 {
		s.logger.Debug("decay floored entries", zap.Int("floored", floored))
	}

	maxAge := s.cfg.ArchiveMaxAge
	moved, err := s.active.ArchiveOld(memory.ArchiveCriteria{MaxAge: &maxAge})
	if err != nil {
		s.logger.Warn("archival failed, entries retained", zap.Error(err))
	} else if moved > 0 {
		s.logger.Debug("archived aged entries", zap.Int("moved", moved))
	}

	result := s.hierarchy.ConsolidateMemory(s.self)
	if !result.Success {
		s.logger.Warn("consolidation failed",
			zap.String("run_id", result.RunID),
			zap.String("error", result.Error))
	}

	// The coordinator only peeks; the tick loop is the downstream
	// consumer that actually drains the buffer.
	if drained := s.hierarchy.ConsumeSensoryEvents(0); len(drained) > 0 {
		s.logger.Debug("drained sensory events", zap.Int("count", len(drained)))
	}

	s.mu.Lock()
	s.ticks++
	maintenance := s.ticks%s.cfg.MaintenanceEvery == 0
	s.mu.Unlock()

	if maintenance {
		s.runMaintenance(subjective)
	}
}

// FireMaintenance forces an immediate maintenance pass, bypassing the
// tick cadence.
func (s *Scheduler) FireMaintenance() {
	s.runMaintenance(s.self.SubjectiveTime())
}

func (s *Scheduler) runMaintenance(subjective float64) {
	learned := s.hierarchy.AutomateSkills(s.self)
	retired := s.procedural.OptimizePatterns()
	if learned > 0 || retired > 0 {
		s.logger.Info("maintenance pass",
			zap.Float64("subjective_time", subjective),
			zap.Int("skills_learned", learned),
			zap.Int("patterns_retired", retired))
	}
}

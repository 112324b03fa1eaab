package sim

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/memory"
)

type recordingListener struct {
	mu    sync.Mutex
	ticks []float64
}

func (r *recordingListener) OnTick(subjective float64) {
	r.mu.Lock()
	r.ticks = append(r.ticks, subjective)
	r.mu.Unlock()
}

func TestClockAdvancesBySpeed(t *testing.T) {
	c := NewClock(time.Second, 60.0, zap.NewNop())
	start := c.SubjectiveTime()

	rec := &recordingListener{}
	c.AddListener(rec)
	c.Advance()
	c.Advance()

	if got := c.SubjectiveTime() - start; got != 120.0 {
		t.Errorf("advanced %v subjective seconds, want 120", got)
	}
	if len(rec.ticks) != 2 {
		t.Fatalf("listener fired %d times, want 2", len(rec.ticks))
	}
	if rec.ticks[1]-rec.ticks[0] != 60.0 {
		t.Errorf("tick delta = %v, want 60", rec.ticks[1]-rec.ticks[0])
	}
}

func TestClockStopJoinsLoop(t *testing.T) {
	c := NewClock(time.Millisecond, 1.0, zap.NewNop())
	rec := &recordingListener{}
	c.AddListener(rec)

	c.Start()
	time.Sleep(10 * time.Millisecond)
	c.Stop()

	rec.mu.Lock()
	atStop := len(rec.ticks)
	rec.mu.Unlock()

	time.Sleep(10 * time.Millisecond)
	rec.mu.Lock()
	after := len(rec.ticks)
	rec.mu.Unlock()
	if after != atStop {
		t.Errorf("listener fired after Stop returned: %d -> %d ticks", atStop, after)
	}
}

func TestClockSetSpeed(t *testing.T) {
	c := NewClock(time.Second, 1.0, zap.NewNop())
	start := c.SubjectiveTime()
	c.Advance()
	c.SetSpeed(10.0)
	c.Advance()

	if got := c.SubjectiveTime() - start; got != 11.0 {
		t.Errorf("advanced %v, want 11 (1 + 10)", got)
	}
}

func newTestEngine(t *testing.T) (*memory.Hierarchy, *memory.ActiveStore, *memory.PatternStore) {
	t.Helper()
	logger := zap.NewNop()
	archive := memory.NewFileArchive(memory.ArchiveConfig{Path: t.TempDir() + "/archive.json"}, logger)
	active := memory.NewActiveStore(memory.DefaultActiveConfig(), archive, logger)
	patterns := memory.NewPatternStore(logger)
	h := memory.NewHierarchy(
		memory.NewSensoryBuffer(100, logger),
		active,
		memory.NewSemanticStore(logger),
		patterns,
		memory.DefaultThresholds(),
		logger,
	)
	return h, active, patterns
}

func TestSchedulerRunsMaintenanceCycle(t *testing.T) {
	h, active, patterns := newTestEngine(t)
	clock := NewClock(time.Second, 1.0, zap.NewNop())

	s := NewScheduler(h, active, patterns, clock, SchedulerConfig{
		DecayFactor:      1.0,
		DecayMinWeight:   0.05,
		ArchiveMaxAge:    6 * 3600,
		MaintenanceEvery: 2,
	}, zap.NewNop())
	clock.AddListener(s)

	h.AddSensoryEvent(memory.NewSensoryEvent("noise", 0.95, nil))
	clock.Advance()

	status := h.Status()
	if status.EpisodicCount != 1 {
		t.Errorf("episodic count = %d, want 1 (consolidation ran on tick)", status.EpisodicCount)
	}
	if status.Transfers.SensoryToEpisodic != 1 {
		t.Errorf("transfers = %+v, want one sensory promotion", status.Transfers)
	}
}

func TestSchedulerArchivesAgedEntries(t *testing.T) {
	h, active, patterns := newTestEngine(t)
	clock := NewClock(time.Second, 1.0, zap.NewNop())

	s := NewScheduler(h, active, patterns, clock, SchedulerConfig{
		DecayFactor:      1.0,
		DecayMinWeight:   0.05,
		ArchiveMaxAge:    3600,
		MaintenanceEvery: 100,
	}, zap.NewNop())
	clock.AddListener(s)

	now := float64(time.Now().UnixNano()) / 1e9
	active.Append(memory.NewEntry("stale", 0.5, now-7200))
	active.Append(memory.NewEntry("fresh", 0.5, now))

	clock.Advance()

	if got := active.Len(); got != 1 {
		t.Errorf("active len = %d, want 1 (aged entry archived)", got)
	}
}

// countingTier counts optimization passes to observe the cadence.
type countingTier struct {
	memory.ProceduralTier
	mu        sync.Mutex
	optimized int
}

func (c *countingTier) OptimizePatterns() int {
	c.mu.Lock()
	c.optimized++
	c.mu.Unlock()
	return 0
}

func TestSchedulerMaintenanceCadence(t *testing.T) {
	h, active, patterns := newTestEngine(t)
	clock := NewClock(time.Second, 1.0, zap.NewNop())

	counter := &countingTier{ProceduralTier: patterns}
	s := NewScheduler(h, active, counter, clock, SchedulerConfig{
		DecayFactor:      1.0,
		DecayMinWeight:   0.05,
		ArchiveMaxAge:    6 * 3600,
		MaintenanceEvery: 3,
	}, zap.NewNop())
	clock.AddListener(s)

	for i := 0; i < 7; i++ {
		clock.Advance()
	}
	counter.mu.Lock()
	got := counter.optimized
	counter.mu.Unlock()
	if got != 2 {
		t.Errorf("maintenance ran %d times over 7 ticks, want 2 (every 3rd)", got)
	}

	s.FireMaintenance()
	counter.mu.Lock()
	got = counter.optimized
	counter.mu.Unlock()
	if got != 3 {
		t.Errorf("forced maintenance did not run: passes = %d, want 3", got)
	}
}

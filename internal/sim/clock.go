package sim

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TickListener receives subjective-time tick events.
type TickListener interface {
	OnTick(subjective float64)
}

// Clock drives the engine with a configurable tick rate and time speed.
// It tracks subjective time in epoch seconds: one wall second advances
// subjective time by the speed multiplier.
type Clock struct {
	speed      float64 // subjective seconds per wall second, 1.0 = realtime
	interval   time.Duration
	listeners  []TickListener
	subjective float64
	mu         sync.RWMutex
	cancel     context.CancelFunc
	done       chan struct{}
	logger     *zap.Logger
}

// NewClock creates a clock with the given tick interval and speed multiplier.
func NewClock(interval time.Duration, speed float64, logger *zap.Logger) *Clock {
	return &Clock{
		speed:      speed,
		interval:   interval,
		subjective: float64(time.Now().UnixNano()) / 1e9,
		logger:     logger,
	}
}

// AddListener registers a tick listener.
func (c *Clock) AddListener(l TickListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// SubjectiveTime returns the current subjective time in epoch seconds.
func (c *Clock) SubjectiveTime() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subjective
}

// SetSpeed changes the time multiplier.
func (c *Clock) SetSpeed(speed float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speed = speed
}

// Start begins the tick loop in a background goroutine.
func (c *Clock) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		c.loop(ctx)
	}()
	c.logger.Info("clock started",
		zap.Duration("interval", c.interval),
		zap.Float64("speed", c.speed))
}

// Stop halts the tick loop and waits for any in-flight tick to finish.
// Once it returns, no listener is running, so callers may safely touch
// state the listeners share (the archive in particular).
func (c *Clock) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
		c.logger.Info("clock stopped")
	}
}

func (c *Clock) loop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Advance()
		}
	}
}

// Advance moves subjective time forward by one tick and notifies
// listeners. The loop calls it on every wall tick; tests call it
// directly.
func (c *Clock) Advance() {
	c.mu.Lock()
	c.subjective += c.interval.Seconds() * c.speed
	subjective := c.subjective
	listeners := make([]TickListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, l := range listeners {
		l.OnTick(subjective)
	}
}

package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/projectpulse/pulse/internal/clock"
	"github.com/projectpulse/pulse/internal/notify"
)

// ImmediateConfig tunes the fast-path update loop.
type ImmediateConfig struct {
	PollInterval  time.Duration
	EntityTimeout time.Duration
}

// DefaultImmediateConfig returns production defaults.
func DefaultImmediateConfig() ImmediateConfig {
	return ImmediateConfig{
		PollInterval:  time.Second,
		EntityTimeout: 10 * time.Second,
	}
}

// ImmediateLoop drains the dirty set on a tight poll interval and
// recomputes just those entities, bypassing the wait for the next
// scheduled tick. It is the sole consumer of the dirty set.
type ImmediateLoop struct {
	config    ImmediateConfig
	dirty     *DirtyTracker
	scorer    TaskScorer
	snapshots SnapshotTaker
	rollup    ProjectRoller
	sink      notify.Sink
	clock     clock.Clock
	logger    *slog.Logger

	wg       sync.WaitGroup
	stopChan chan struct{}
	running  bool
	mu       sync.Mutex

	statsMu sync.Mutex
	stats   ImmediateStats
}

// ImmediateStats counts the loop's work for the health endpoint.
type ImmediateStats struct {
	IsRunning      bool       `json:"is_running"`
	ProcessedCount uint64     `json:"processed"`
	FailedCount    uint64     `json:"failed"`
	LastDrainAt    *time.Time `json:"last_drain_at"`
	LastError      string     `json:"last_error,omitempty"`
}

// NewImmediateLoop creates the fast-path loop.
func NewImmediateLoop(
	config ImmediateConfig,
	dirty *DirtyTracker,
	scorer TaskScorer,
	snapshots SnapshotTaker,
	rollup ProjectRoller,
	sink notify.Sink,
	clk clock.Clock,
	logger *slog.Logger,
) *ImmediateLoop {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.System()
	}
	return &ImmediateLoop{
		config:    config,
		dirty:     dirty,
		scorer:    scorer,
		snapshots: snapshots,
		rollup:    rollup,
		sink:      sink,
		clock:     clk,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

// Start begins polling in a goroutine.
func (l *ImmediateLoop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.stopChan = make(chan struct{})
	l.mu.Unlock()

	l.wg.Add(1)
	go l.run(ctx)

	l.logger.Info("immediate update loop started", "poll_interval", l.config.PollInterval)
}

// Stop gracefully stops the loop.
func (l *ImmediateLoop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stopChan)
	l.mu.Unlock()

	l.wg.Wait()
	l.logger.Info("immediate update loop stopped")
}

// IsRunning reports whether the loop is active.
func (l *ImmediateLoop) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *ImmediateLoop) run(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.DrainOnce(ctx)
		}
	}
}

// DrainOnce atomically drains the dirty set and recomputes every
// drained entity. Exposed for tests and for a final drain on shutdown.
func (l *ImmediateLoop) DrainOnce(ctx context.Context) {
	if l.dirty.Len() == 0 {
		return
	}
	keys := l.dirty.Drain()
	l.recordDrain(l.clock.Now())

	for _, key := range keys {
		if err := l.process(ctx, key); err != nil {
			l.recordFailure(err)
			l.logger.Warn("immediate recompute failed",
				"entity_type", key.Type,
				"entity_id", key.ID,
				"error", err,
			)
			continue
		}
		l.recordProcessed()
	}
}

func (l *ImmediateLoop) process(ctx context.Context, key EntityKey) error {
	ctx, cancel := context.WithTimeout(ctx, l.config.EntityTimeout)
	defer cancel()

	switch key.Type {
	case EntityTask:
		update, err := l.scorer.RecomputeTask(ctx, key.ID)
		if err != nil {
			return err
		}
		if update.Significant() {
			notifySignificant(ctx, l.sink, update, l.logger)
		}
		return nil
	case EntityProject:
		return l.rollup.RecomputeProject(ctx, key.ID)
	case EntityUser:
		_, err := l.snapshots.RefreshCurrent(ctx, key.ID)
		return err
	default:
		l.logger.Warn("unknown dirty entity type", "entity_type", key.Type)
		return nil
	}
}

// Stats returns a copy of the loop's counters.
func (l *ImmediateLoop) Stats() ImmediateStats {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	stats := l.stats
	stats.IsRunning = l.IsRunning()
	return stats
}

func (l *ImmediateLoop) recordDrain(at time.Time) {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	l.stats.LastDrainAt = &at
}

func (l *ImmediateLoop) recordProcessed() {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	l.stats.ProcessedCount++
}

func (l *ImmediateLoop) recordFailure(err error) {
	l.statsMu.Lock()
	defer l.statsMu.Unlock()
	l.stats.FailedCount++
	l.stats.LastError = err.Error()
}

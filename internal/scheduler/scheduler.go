// Package scheduler owns the periodic triggers and the immediate update
// loop that drive the derived-metrics recomputation engine. All jobs
// run on a single scheduler instance; there is no cross-node
// coordination.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/projectpulse/pulse/internal/clock"
	"github.com/projectpulse/pulse/internal/domain"
	"github.com/projectpulse/pulse/internal/notify"
	"github.com/projectpulse/pulse/internal/scoring"
)

// TaskScorer is the scoring engine surface the scheduler drives. Both
// the batch loops and the synchronous recompute API go through it, so
// there is exactly one scoring code path.
type TaskScorer interface {
	RecomputeTask(ctx context.Context, id uuid.UUID) (*scoring.TaskUpdate, error)
	RecomputeRisk(ctx context.Context, id uuid.UUID) (*domain.TaskRisk, error)
}

// SnapshotTaker produces productivity snapshots and refreshes the
// current cached row.
type SnapshotTaker interface {
	Snapshot(ctx context.Context, userID uuid.UUID, date time.Time, periodType string) (*domain.ProductivitySnapshot, error)
	RefreshCurrent(ctx context.Context, userID uuid.UUID) (*domain.UserProductivityMetrics, error)
}

// ProjectRoller recomputes per-project metrics aggregates.
type ProjectRoller interface {
	RecomputeProject(ctx context.Context, projectID uuid.UUID) error
}

// Trigger names.
const (
	TriggerPriorityRefresh = "priority_refresh"
	TriggerRiskAll         = "risk_refresh_all"
	TriggerRiskElevated    = "risk_refresh_elevated"
	TriggerRiskCritical    = "risk_refresh_critical"
	TriggerMetricsRollup   = "metrics_rollup"
	TriggerDailySnapshot   = "daily_snapshot"
	TriggerWeeklySnapshot  = "weekly_snapshot"
)

// Config holds the trigger table specs and batch tuning. Specs use
// standard five-field cron syntax plus @every descriptors.
type Config struct {
	PrioritySpec       string
	RiskAllSpec        string
	RiskElevatedSpec   string
	RiskCriticalSpec   string
	RollupSpec         string
	DailySnapshotSpec  string
	WeeklySnapshotSpec string

	ElevatedRiskThreshold float64
	CriticalRiskThreshold float64

	// EntityTimeout bounds a single entity's recompute so one hung
	// computation cannot block an entire batch.
	EntityTimeout time.Duration

	// Grace is how late a tick may fire and still run; later ticks are
	// skipped to the next schedule point rather than double-processed.
	Grace time.Duration
}

// DefaultConfig returns the production trigger table.
func DefaultConfig() Config {
	return Config{
		PrioritySpec:          "0 0,12 * * *",
		RiskAllSpec:           "@every 2h",
		RiskElevatedSpec:      "@every 30m",
		RiskCriticalSpec:      "@every 15m",
		RollupSpec:            "@every 1h",
		DailySnapshotSpec:     "5 0 * * *",
		WeeklySnapshotSpec:    "10 0 * * 1",
		ElevatedRiskThreshold: 60,
		CriticalRiskThreshold: 80,
		EntityTimeout:         10 * time.Second,
		Grace:                 5 * time.Minute,
	}
}

// trigger is one entry of the explicit trigger table, constructed once
// at startup.
type trigger struct {
	name     string
	spec     string
	schedule cron.Schedule
	run      func(ctx context.Context) *RunSummary
}

// Scheduler iterates the trigger table. Each trigger runs on its own
// goroutine and never blocks another.
type Scheduler struct {
	config    Config
	repo      domain.Repository
	scorer    TaskScorer
	snapshots SnapshotTaker
	rollup    ProjectRoller
	sink      notify.Sink
	dirty     *DirtyTracker
	clock     clock.Clock
	logger    *slog.Logger

	triggers []*trigger

	wg       sync.WaitGroup
	stopChan chan struct{}
	running  bool
	mu       sync.Mutex

	statsMu sync.Mutex
	stats   map[string]*TriggerStats
}

// New constructs a scheduler with injected dependencies and builds the
// trigger table.
func New(
	config Config,
	repo domain.Repository,
	scorer TaskScorer,
	snapshots SnapshotTaker,
	rollup ProjectRoller,
	sink notify.Sink,
	dirty *DirtyTracker,
	clk clock.Clock,
	logger *slog.Logger,
) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.System()
	}

	s := &Scheduler{
		config:    config,
		repo:      repo,
		scorer:    scorer,
		snapshots: snapshots,
		rollup:    rollup,
		sink:      sink,
		dirty:     dirty,
		clock:     clk,
		logger:    logger,
		stopChan:  make(chan struct{}),
		stats:     make(map[string]*TriggerStats),
	}

	table := []struct {
		name string
		spec string
		run  func(ctx context.Context) *RunSummary
	}{
		{TriggerPriorityRefresh, config.PrioritySpec, s.runPriorityRefresh},
		{TriggerRiskAll, config.RiskAllSpec, func(ctx context.Context) *RunSummary {
			return s.runRiskRefresh(ctx, TriggerRiskAll, 0)
		}},
		{TriggerRiskElevated, config.RiskElevatedSpec, func(ctx context.Context) *RunSummary {
			return s.runRiskRefresh(ctx, TriggerRiskElevated, config.ElevatedRiskThreshold)
		}},
		{TriggerRiskCritical, config.RiskCriticalSpec, func(ctx context.Context) *RunSummary {
			return s.runRiskRefresh(ctx, TriggerRiskCritical, config.CriticalRiskThreshold)
		}},
		{TriggerMetricsRollup, config.RollupSpec, s.runMetricsRollup},
		{TriggerDailySnapshot, config.DailySnapshotSpec, func(ctx context.Context) *RunSummary {
			return s.runSnapshots(ctx, TriggerDailySnapshot, domain.PeriodDaily)
		}},
		{TriggerWeeklySnapshot, config.WeeklySnapshotSpec, func(ctx context.Context) *RunSummary {
			return s.runSnapshots(ctx, TriggerWeeklySnapshot, domain.PeriodWeekly)
		}},
	}

	for _, entry := range table {
		schedule, err := cron.ParseStandard(entry.spec)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule %q for trigger %s: %w", entry.spec, entry.name, err)
		}
		s.triggers = append(s.triggers, &trigger{
			name:     entry.name,
			spec:     entry.spec,
			schedule: schedule,
			run:      entry.run,
		})
		s.stats[entry.name] = &TriggerStats{}
	}

	return s, nil
}

// Start launches one goroutine per trigger.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	for _, t := range s.triggers {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
	s.logger.Info("scheduler started", "triggers", len(s.triggers))
}

// Stop waits for all trigger loops to exit. In-flight runs finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, t *trigger) {
	defer s.wg.Done()

	for {
		next := t.schedule.Next(s.clock.Now())
		timer := time.NewTimer(next.Sub(s.clock.Now()))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stopChan:
			timer.Stop()
			return
		case <-timer.C:
			now := s.clock.Now()
			if !withinGrace(next, now, s.config.Grace) {
				// Too late for this tick; lateness delays the run, it
				// never duplicates it.
				s.logger.Warn("trigger fired past grace window, skipping tick",
					"trigger", t.name,
					"scheduled_for", next,
					"late_by", now.Sub(next),
				)
				continue
			}
			s.execute(ctx, t)
		}
	}
}

// withinGrace reports whether a tick scheduled for a given time that
// actually fired at now should still run.
func withinGrace(scheduled, now time.Time, grace time.Duration) bool {
	return now.Sub(scheduled) <= grace
}

func (s *Scheduler) execute(ctx context.Context, t *trigger) {
	summary := t.run(ctx)
	summary.log(s.logger)
	s.recordRun(summary)
}

// RunTrigger executes one trigger synchronously by name, outside its
// schedule. Used by the CLI and by tests.
func (s *Scheduler) RunTrigger(ctx context.Context, name string) (*RunSummary, error) {
	for _, t := range s.triggers {
		if t.name == name {
			summary := t.run(ctx)
			summary.log(s.logger)
			s.recordRun(summary)
			return summary, nil
		}
	}
	return nil, fmt.Errorf("unknown trigger %q", name)
}

// RecomputeTask is the synchronous "recompute this one task now" entry
// point used by interactive API calls. It shares the batch scorer path
// and applies the same significant-change notification rule.
func (s *Scheduler) RecomputeTask(ctx context.Context, id uuid.UUID) (*scoring.TaskUpdate, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.EntityTimeout)
	defer cancel()

	update, err := s.scorer.RecomputeTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if update.Significant() {
		notifySignificant(ctx, s.sink, update, s.logger)
	}
	return update, nil
}

// Stats returns a copy of the per-trigger counters.
func (s *Scheduler) Stats() map[string]TriggerStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	out := make(map[string]TriggerStats, len(s.stats))
	for name, st := range s.stats {
		out[name] = *st
	}
	return out
}

func (s *Scheduler) recordRun(summary *RunSummary) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	st, ok := s.stats[summary.Trigger]
	if !ok {
		st = &TriggerStats{}
		s.stats[summary.Trigger] = st
	}
	st.Runs++
	at := summary.StartedAt
	st.LastRunAt = &at
	st.LastFailed = summary.Failed
	st.LastUpdated = summary.Updated
	st.LastError = ""
	if len(summary.Errors) > 0 {
		st.LastError = summary.Errors[0].Error()
	}
}

// notifySignificant emits one priority-change notification. Failures
// are logged and dropped; delivery never rolls back a score update.
func notifySignificant(ctx context.Context, sink notify.Sink, update *scoring.TaskUpdate, logger *slog.Logger) {
	if update.AssigneeID == nil {
		return
	}
	n := notify.Notification{
		UserID: *update.AssigneeID,
		Title:  fmt.Sprintf("Task priority changed: %s → %s", update.OldPriority, update.NewPriority),
		Content: fmt.Sprintf("Priority moved from %s to %s. %s",
			update.OldPriority, update.NewPriority, update.TopReason()),
		Type:          notify.TypePriorityChange,
		ReferenceType: "task",
		ReferenceID:   update.TaskID,
	}
	if err := sink.Notify(ctx, n); err != nil {
		logger.Warn("notification delivery failed",
			"task_id", update.TaskID,
			"user_id", *update.AssigneeID,
			"error", err,
		)
	}
}

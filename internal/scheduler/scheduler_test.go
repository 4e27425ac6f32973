package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectpulse/pulse/internal/clock"
	"github.com/projectpulse/pulse/internal/domain"
	"github.com/projectpulse/pulse/internal/notify"
	"github.com/projectpulse/pulse/internal/persistence"
	"github.com/projectpulse/pulse/internal/scoring"
)

var schedNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type fakeScorer struct {
	mu         sync.Mutex
	updates    map[uuid.UUID]*scoring.TaskUpdate
	failures   map[uuid.UUID][]error // consumed before any success
	blockTasks bool                  // RecomputeTask hangs until its context expires

	taskCalls map[uuid.UUID]int
	riskCalls map[uuid.UUID]int
}

func newFakeScorer() *fakeScorer {
	return &fakeScorer{
		updates:   make(map[uuid.UUID]*scoring.TaskUpdate),
		failures:  make(map[uuid.UUID][]error),
		taskCalls: make(map[uuid.UUID]int),
		riskCalls: make(map[uuid.UUID]int),
	}
}

func (f *fakeScorer) nextFailure(id uuid.UUID) error {
	if q := f.failures[id]; len(q) > 0 {
		f.failures[id] = q[1:]
		return q[0]
	}
	return nil
}

func (f *fakeScorer) RecomputeTask(ctx context.Context, id uuid.UUID) (*scoring.TaskUpdate, error) {
	f.mu.Lock()
	f.taskCalls[id]++
	block := f.blockTasks
	failure := f.nextFailure(id)
	update := f.updates[id]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if failure != nil {
		return nil, failure
	}
	if update != nil {
		return update, nil
	}
	return &scoring.TaskUpdate{TaskID: id, Updated: true, OldPriority: domain.PriorityNormal, NewPriority: domain.PriorityNormal}, nil
}

func (f *fakeScorer) RecomputeRisk(_ context.Context, id uuid.UUID) (*domain.TaskRisk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.riskCalls[id]++
	if err := f.nextFailure(id); err != nil {
		return nil, err
	}
	return &domain.TaskRisk{ID: uuid.New(), TaskID: id}, nil
}

func (f *fakeScorer) totalTaskCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int
	for _, n := range f.taskCalls {
		total += n
	}
	return total
}

type fakeSink struct {
	mu       sync.Mutex
	sent     []notify.Notification
	onNotify func(n notify.Notification)
}

func (s *fakeSink) Notify(_ context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onNotify != nil {
		s.onNotify(n)
	}
	s.sent = append(s.sent, n)
	return nil
}

func (s *fakeSink) Close() error { return nil }

type fakeSnapshots struct {
	mu        sync.Mutex
	snapshots []uuid.UUID
	refreshes []uuid.UUID
	failures  []error // consumed before any success
	err       error
}

func (f *fakeSnapshots) Snapshot(_ context.Context, userID uuid.UUID, _ time.Time, _ string) (*domain.ProductivitySnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	f.snapshots = append(f.snapshots, userID)
	return &domain.ProductivitySnapshot{UserID: userID}, nil
}

func (f *fakeSnapshots) RefreshCurrent(_ context.Context, userID uuid.UUID) (*domain.UserProductivityMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.refreshes = append(f.refreshes, userID)
	return &domain.UserProductivityMetrics{UserID: userID}, nil
}

type fakeRollup struct {
	mu       sync.Mutex
	projects []uuid.UUID
	failures []error // consumed before any success
	err      error
}

func (f *fakeRollup) RecomputeProject(_ context.Context, projectID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return err
	}
	if f.err != nil {
		return f.err
	}
	f.projects = append(f.projects, projectID)
	return nil
}

type schedulerFixture struct {
	repo      *persistence.Memory
	scorer    *fakeScorer
	snapshots *fakeSnapshots
	rollup    *fakeRollup
	sink      *fakeSink
	dirty     *DirtyTracker
	scheduler *Scheduler
}

func newFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	return newFixtureWithConfig(t, DefaultConfig())
}

func newFixtureWithConfig(t *testing.T, cfg Config) *schedulerFixture {
	t.Helper()
	f := &schedulerFixture{
		repo:      persistence.NewMemory(),
		scorer:    newFakeScorer(),
		snapshots: &fakeSnapshots{},
		rollup:    &fakeRollup{},
		sink:      &fakeSink{},
		dirty:     NewDirtyTracker(),
	}
	s, err := New(cfg, f.repo, f.scorer, f.snapshots, f.rollup, f.sink, f.dirty, clock.NewFixed(schedNow), nil)
	require.NoError(t, err)
	f.scheduler = s
	return f
}

func (f *schedulerFixture) seedActiveTask(source domain.PrioritySource) *domain.Task {
	task := &domain.Task{
		ID:             uuid.New(),
		Title:          "task",
		State:          domain.StateInProgress,
		Priority:       domain.PriorityNormal,
		PrioritySource: source,
	}
	f.repo.PutTask(task)
	return task
}

func significantUpdate(taskID uuid.UUID, assigneeID *uuid.UUID) *scoring.TaskUpdate {
	return &scoring.TaskUpdate{
		TaskID:      taskID,
		AssigneeID:  assigneeID,
		OldPriority: domain.PriorityLow,
		NewPriority: domain.PriorityUrgent,
		Reasoning:   []string{"deadline within 1 day"},
		Updated:     true,
	}
}

func TestNew_RejectsInvalidSpec(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RiskAllSpec = "every five minutes"

	_, err := New(cfg, persistence.NewMemory(), newFakeScorer(), &fakeSnapshots{}, &fakeRollup{}, &fakeSink{}, NewDirtyTracker(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), TriggerRiskAll)
}

func TestRunTrigger_UnknownName(t *testing.T) {
	f := newFixture(t)
	_, err := f.scheduler.RunTrigger(context.Background(), "defrag")
	assert.ErrorContains(t, err, `unknown trigger "defrag"`)
}

func TestPriorityRefresh_SkipsManualAndDirtyTasks(t *testing.T) {
	f := newFixture(t)
	auto := f.seedActiveTask(domain.SourceAuto)
	manual := f.seedActiveTask(domain.SourceManual)
	dirtyTask := f.seedActiveTask(domain.SourceAuto)
	f.dirty.MarkChanged(EntityTask, dirtyTask.ID)

	summary, err := f.scheduler.RunTrigger(context.Background(), TriggerPriorityRefresh)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 1, f.scorer.taskCalls[auto.ID])
	assert.Equal(t, 0, f.scorer.taskCalls[manual.ID])
	assert.Equal(t, 0, f.scorer.taskCalls[dirtyTask.ID])
}

func TestPriorityRefresh_NotifiesAfterAllWritesCommit(t *testing.T) {
	f := newFixture(t)
	assigneeID := uuid.New()
	a := f.seedActiveTask(domain.SourceAuto)
	b := f.seedActiveTask(domain.SourceAuto)
	f.scorer.updates[a.ID] = significantUpdate(a.ID, &assigneeID)
	f.scorer.updates[b.ID] = significantUpdate(b.ID, &assigneeID)

	f.sink.onNotify = func(notify.Notification) {
		// Every task in the batch is recomputed before the first send.
		assert.Equal(t, 2, f.scorer.totalTaskCalls())
	}

	summary, err := f.scheduler.RunTrigger(context.Background(), TriggerPriorityRefresh)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Processed)
	require.Len(t, f.sink.sent, 2)
	n := f.sink.sent[0]
	assert.Equal(t, assigneeID, n.UserID)
	assert.Equal(t, "Task priority changed: low → urgent", n.Title)
	assert.Equal(t, notify.TypePriorityChange, n.Type)
	assert.Equal(t, "task", n.ReferenceType)
}

func TestPriorityRefresh_NoNotificationForSmallMoves(t *testing.T) {
	f := newFixture(t)
	assigneeID := uuid.New()
	task := f.seedActiveTask(domain.SourceAuto)
	f.scorer.updates[task.ID] = &scoring.TaskUpdate{
		TaskID:      task.ID,
		AssigneeID:  &assigneeID,
		OldPriority: domain.PriorityNormal,
		NewPriority: domain.PriorityHigh,
		Updated:     true,
	}

	_, err := f.scheduler.RunTrigger(context.Background(), TriggerPriorityRefresh)
	require.NoError(t, err)
	assert.Empty(t, f.sink.sent)
}

func TestPriorityRefresh_RetriesTransientFailureOnce(t *testing.T) {
	f := newFixture(t)
	task := f.seedActiveTask(domain.SourceAuto)
	f.scorer.failures[task.ID] = []error{errors.New("connection reset")}

	summary, err := f.scheduler.RunTrigger(context.Background(), TriggerPriorityRefresh)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 2, f.scorer.taskCalls[task.ID])
}

func TestPriorityRefresh_DoesNotRetryMissingTasks(t *testing.T) {
	f := newFixture(t)
	task := f.seedActiveTask(domain.SourceAuto)
	f.scorer.failures[task.ID] = []error{domain.ErrNotFound}

	summary, err := f.scheduler.RunTrigger(context.Background(), TriggerPriorityRefresh)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, f.scorer.taskCalls[task.ID])
}

func TestPriorityRefresh_EntityTimeoutCutsOffHungRecompute(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EntityTimeout = 20 * time.Millisecond
	f := newFixtureWithConfig(t, cfg)
	task := f.seedActiveTask(domain.SourceAuto)
	f.scorer.blockTasks = true

	summary, err := f.scheduler.RunTrigger(context.Background(), TriggerPriorityRefresh)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	assert.ErrorIs(t, summary.Errors[0], context.DeadlineExceeded)
	// The first attempt timed out and so did its single retry.
	assert.Equal(t, 2, f.scorer.taskCalls[task.ID])
}

func TestPriorityRefresh_FailureIsolation(t *testing.T) {
	f := newFixture(t)
	broken := f.seedActiveTask(domain.SourceAuto)
	f.seedActiveTask(domain.SourceAuto)
	f.scorer.failures[broken.ID] = []error{errors.New("boom"), errors.New("boom")}

	summary, err := f.scheduler.RunTrigger(context.Background(), TriggerPriorityRefresh)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	assert.ErrorContains(t, summary.Errors[0], "boom")
}

func TestRiskRefresh_TierMembership(t *testing.T) {
	f := newFixture(t)
	elevated := f.seedActiveTask(domain.SourceAuto)
	calm := f.seedActiveTask(domain.SourceAuto)
	require.NoError(t, f.repo.InsertRisk(context.Background(), &domain.TaskRisk{ID: uuid.New(), TaskID: elevated.ID, Score: 70}))
	require.NoError(t, f.repo.InsertRisk(context.Background(), &domain.TaskRisk{ID: uuid.New(), TaskID: calm.ID, Score: 30}))

	summary, err := f.scheduler.RunTrigger(context.Background(), TriggerRiskElevated)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, f.scorer.riskCalls[elevated.ID])
	assert.Equal(t, 0, f.scorer.riskCalls[calm.ID])

	// Nothing is at or above the critical threshold.
	summary, err = f.scheduler.RunTrigger(context.Background(), TriggerRiskCritical)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 0, summary.Failed)

	// The all-tasks tier ignores stored risk entirely.
	summary, err = f.scheduler.RunTrigger(context.Background(), TriggerRiskAll)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, f.scorer.riskCalls[calm.ID])
}

func TestRiskRefresh_RetriesTransientFailureOnce(t *testing.T) {
	f := newFixture(t)
	task := f.seedActiveTask(domain.SourceAuto)
	f.scorer.failures[task.ID] = []error{errors.New("connection reset")}

	summary, err := f.scheduler.RunTrigger(context.Background(), TriggerRiskAll)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 2, f.scorer.riskCalls[task.ID])
}

func TestMetricsRollup_SkipsDirtyProjects(t *testing.T) {
	f := newFixture(t)
	clean := &domain.Project{ID: uuid.New(), Name: "clean"}
	dirtyProject := &domain.Project{ID: uuid.New(), Name: "dirty"}
	f.repo.PutProject(clean)
	f.repo.PutProject(dirtyProject)
	f.dirty.MarkChanged(EntityProject, dirtyProject.ID)

	summary, err := f.scheduler.RunTrigger(context.Background(), TriggerMetricsRollup)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, []uuid.UUID{clean.ID}, f.rollup.projects)
}

func TestMetricsRollup_RetriesTransientFailureOnce(t *testing.T) {
	f := newFixture(t)
	project := &domain.Project{ID: uuid.New(), Name: "flaky"}
	f.repo.PutProject(project)
	f.rollup.failures = []error{errors.New("connection reset")}

	summary, err := f.scheduler.RunTrigger(context.Background(), TriggerMetricsRollup)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, []uuid.UUID{project.ID}, f.rollup.projects)
}

func TestSnapshotTriggers_CoverEveryUser(t *testing.T) {
	f := newFixture(t)
	u1 := &domain.User{ID: uuid.New(), Name: "a"}
	u2 := &domain.User{ID: uuid.New(), Name: "b"}
	f.repo.PutUser(u1)
	f.repo.PutUser(u2)

	summary, err := f.scheduler.RunTrigger(context.Background(), TriggerDailySnapshot)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Processed)
	assert.Len(t, f.snapshots.snapshots, 2)
	assert.Len(t, f.snapshots.refreshes, 2)
}

func TestSnapshotTriggers_FailureIsolation(t *testing.T) {
	f := newFixture(t)
	f.repo.PutUser(&domain.User{ID: uuid.New(), Name: "a"})
	f.snapshots.err = errors.New("snapshot store down")

	summary, err := f.scheduler.RunTrigger(context.Background(), TriggerDailySnapshot)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Processed)
}

func TestSnapshotTriggers_RetryTransientFailureOnce(t *testing.T) {
	f := newFixture(t)
	f.repo.PutUser(&domain.User{ID: uuid.New(), Name: "a"})
	f.snapshots.failures = []error{errors.New("connection reset")}

	summary, err := f.scheduler.RunTrigger(context.Background(), TriggerDailySnapshot)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.Failed)
	assert.Len(t, f.snapshots.snapshots, 1)
}

func TestScheduler_RecomputeTask_NotifiesOnSignificantChange(t *testing.T) {
	f := newFixture(t)
	assigneeID := uuid.New()
	taskID := uuid.New()
	f.scorer.updates[taskID] = significantUpdate(taskID, &assigneeID)

	update, err := f.scheduler.RecomputeTask(context.Background(), taskID)
	require.NoError(t, err)

	assert.True(t, update.Significant())
	require.Len(t, f.sink.sent, 1)
	assert.Equal(t, taskID, f.sink.sent[0].ReferenceID)
}

func TestScheduler_RecomputeTask_SkipsNotificationWithoutAssignee(t *testing.T) {
	f := newFixture(t)
	taskID := uuid.New()
	f.scorer.updates[taskID] = significantUpdate(taskID, nil)

	_, err := f.scheduler.RecomputeTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Empty(t, f.sink.sent)
}

func TestScheduler_StatsRecordRuns(t *testing.T) {
	f := newFixture(t)
	f.seedActiveTask(domain.SourceAuto)

	_, err := f.scheduler.RunTrigger(context.Background(), TriggerPriorityRefresh)
	require.NoError(t, err)

	stats := f.scheduler.Stats()
	st := stats[TriggerPriorityRefresh]
	assert.Equal(t, uint64(1), st.Runs)
	assert.Equal(t, 1, st.LastUpdated)
	assert.Equal(t, 0, st.LastFailed)
	require.NotNil(t, st.LastRunAt)
	assert.Equal(t, schedNow, *st.LastRunAt)

	// Untriggered entries exist with zero counts.
	assert.Equal(t, uint64(0), stats[TriggerWeeklySnapshot].Runs)
}

func TestWithinGrace(t *testing.T) {
	scheduled := schedNow
	grace := 5 * time.Minute

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"on time", scheduled, true},
		{"slightly late", scheduled.Add(30 * time.Second), true},
		{"at the edge", scheduled.Add(grace), true},
		{"past the window", scheduled.Add(grace + time.Second), false},
		{"woke up early", scheduled.Add(-time.Second), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, withinGrace(scheduled, tt.now, grace))
		})
	}
}

func TestScheduler_StartStopIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.scheduler.Start(ctx)
	f.scheduler.Start(ctx) // second start is a no-op
	f.scheduler.Stop()
	f.scheduler.Stop() // second stop is a no-op
}

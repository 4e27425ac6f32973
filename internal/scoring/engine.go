package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/projectpulse/pulse/internal/clock"
	"github.com/projectpulse/pulse/internal/domain"
)

// commentWindow is how far back comment activity counts toward risk.
const commentWindow = 7 * 24 * time.Hour

// TaskUpdate is the result of a full recompute pass over one task.
type TaskUpdate struct {
	TaskID      uuid.UUID
	AssigneeID  *uuid.UUID
	OldPriority domain.Priority
	NewPriority domain.Priority
	Score       float64
	Reasoning   []string
	Risk        *domain.TaskRisk
	Complexity  domain.ComplexityFactors
	Updated     bool
}

// Significant reports whether the priority level moved by more than one
// ordinal step, which is the notification threshold.
func (u *TaskUpdate) Significant() bool {
	return u.Updated && u.NewPriority.StepsFrom(u.OldPriority) >= 2
}

// TopReason returns the most significant reasoning entry.
func (u *TaskUpdate) TopReason() string {
	if len(u.Reasoning) == 0 {
		return ""
	}
	return u.Reasoning[0]
}

// Engine orchestrates the three scorers for a single task. It is the
// one code path shared by the scheduled batches, the immediate loop and
// the synchronous recompute API.
type Engine struct {
	repo       domain.Repository
	complexity *ComplexityAnalyzer
	risk       *RiskAnalyzer
	priority   *PriorityScorer
	clock      clock.Clock
	logger     *slog.Logger
}

// NewEngine creates a scoring engine with injected dependencies.
func NewEngine(repo domain.Repository, complexity *ComplexityAnalyzer, risk *RiskAnalyzer, priority *PriorityScorer, clk clock.Clock, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Engine{
		repo:       repo,
		complexity: complexity,
		risk:       risk,
		priority:   priority,
		clock:      clk,
		logger:     logger,
	}
}

// RecomputeTask runs complexity, risk and priority for one task in a
// single pass, persisting each derived result. Manual priorities keep
// their stored fields; the returned update reports Updated=false.
func (e *Engine) RecomputeTask(ctx context.Context, id uuid.UUID) (*TaskUpdate, error) {
	task, err := e.repo.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", id, err)
	}
	now := e.clock.Now()

	deps := e.loadDependencies(ctx, task)
	factors := e.complexity.Analyze(task, deps, now)
	if err := e.repo.UpdateTaskComplexity(ctx, task.ID, factors.Total(), factors); err != nil {
		return nil, fmt.Errorf("persist complexity for task %s: %w", id, err)
	}
	task.ComplexityScore = factors.Total()
	task.ComplexityFactors = factors

	risk := e.risk.Analyze(RiskInput{
		Task:           task,
		Assignee:       e.loadAssignee(ctx, task),
		Dependencies:   deps,
		RecentComments: e.countRecentComments(ctx, task, now),
		Now:            now,
	})
	if err := e.repo.InsertRisk(ctx, risk); err != nil {
		return nil, fmt.Errorf("persist risk for task %s: %w", id, err)
	}

	result := e.priority.Score(task, risk.Score, true, factors.Total(), true, now)
	update := &TaskUpdate{
		TaskID:      task.ID,
		AssigneeID:  task.AssigneeID,
		OldPriority: task.Priority,
		NewPriority: result.Priority,
		Score:       result.Score,
		Reasoning:   result.Reasoning,
		Risk:        risk,
		Complexity:  factors,
		Updated:     result.Updated,
	}
	if !result.Updated {
		return update, nil
	}

	if err := e.repo.UpdateTaskPriorityFields(ctx, task.ID, result.Priority, result.Source, result.Score, result.Reasoning); err != nil {
		return nil, fmt.Errorf("persist priority for task %s: %w", id, err)
	}
	return update, nil
}

// RecomputeRisk refreshes only the risk assessment for one task,
// reading complexity from the stored task row.
func (e *Engine) RecomputeRisk(ctx context.Context, id uuid.UUID) (*domain.TaskRisk, error) {
	task, err := e.repo.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", id, err)
	}
	now := e.clock.Now()

	risk := e.risk.Analyze(RiskInput{
		Task:           task,
		Assignee:       e.loadAssignee(ctx, task),
		Dependencies:   e.loadDependencies(ctx, task),
		RecentComments: e.countRecentComments(ctx, task, now),
		Now:            now,
	})
	if err := e.repo.InsertRisk(ctx, risk); err != nil {
		return nil, fmt.Errorf("persist risk for task %s: %w", id, err)
	}
	return risk, nil
}

// Partial-data reads below substitute neutral defaults instead of
// failing the task.

func (e *Engine) loadDependencies(ctx context.Context, task *domain.Task) []*domain.Task {
	if len(task.Dependencies) == 0 {
		return nil
	}
	deps, err := e.repo.ListDependencies(ctx, task.ID)
	if err != nil {
		e.logger.Debug("dependency lookup failed, scoring without", "task_id", task.ID, "error", err)
		return nil
	}
	return deps
}

func (e *Engine) loadAssignee(ctx context.Context, task *domain.Task) *domain.User {
	if task.AssigneeID == nil {
		return nil
	}
	user, err := e.repo.GetUser(ctx, *task.AssigneeID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			e.logger.Debug("assignee lookup failed, scoring without", "task_id", task.ID, "error", err)
		}
		return nil
	}
	return user
}

func (e *Engine) countRecentComments(ctx context.Context, task *domain.Task, now time.Time) int {
	count, err := e.repo.CountRecentComments(ctx, task.ID, now.Add(-commentWindow))
	if err != nil {
		e.logger.Debug("comment count failed, scoring without", "task_id", task.ID, "error", err)
		return 0
	}
	return count
}

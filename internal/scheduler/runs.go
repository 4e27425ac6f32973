package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/projectpulse/pulse/internal/domain"
	"github.com/projectpulse/pulse/internal/scoring"
)

// runPriorityRefresh recomputes priority for every eligible active
// task. All per-task writes commit before any notification for the run
// is emitted, so a notification always reflects a persisted value.
func (s *Scheduler) runPriorityRefresh(ctx context.Context) *RunSummary {
	summary := newRunSummary(TriggerPriorityRefresh, s.clock.Now())
	defer s.finish(summary)

	tasks, err := s.repo.ListActiveTasks(ctx)
	if err != nil {
		summary.fail(fmt.Errorf("list active tasks: %w", err))
		return summary
	}

	var significant []*scoring.TaskUpdate
	for _, t := range tasks {
		if t.PrioritySource.IsManual() {
			summary.Skipped++
			continue
		}
		if s.dirty.Contains(EntityTask, t.ID) {
			// The immediate loop owns freshly-changed tasks.
			summary.Skipped++
			continue
		}

		update, err := s.recomputeTaskWithRetry(ctx, t.ID)
		if err != nil {
			summary.fail(err)
			continue
		}
		summary.Processed++
		if update.Updated {
			summary.Updated++
		}
		if update.Significant() {
			significant = append(significant, update)
		}
	}

	for _, update := range significant {
		notifySignificant(ctx, s.sink, update, s.logger)
	}
	return summary
}

// runRiskRefresh refreshes risk for one tier. A non-positive threshold
// selects all active tasks; otherwise tier membership comes from the
// most recent stored risk row, recomputed on every tick.
func (s *Scheduler) runRiskRefresh(ctx context.Context, name string, threshold float64) *RunSummary {
	summary := newRunSummary(name, s.clock.Now())
	defer s.finish(summary)

	var tasks []*domain.Task
	var err error
	if threshold > 0 {
		tasks, err = s.repo.ListTasksByMinRisk(ctx, threshold)
	} else {
		tasks, err = s.repo.ListActiveTasks(ctx)
	}
	if err != nil {
		summary.fail(fmt.Errorf("list tasks for %s: %w", name, err))
		return summary
	}

	for _, t := range tasks {
		if s.dirty.Contains(EntityTask, t.ID) {
			summary.Skipped++
			continue
		}
		if err := s.attemptWithRetry(ctx, func(ctx context.Context) error {
			_, err := s.scorer.RecomputeRisk(ctx, t.ID)
			return err
		}); err != nil {
			summary.fail(err)
			continue
		}
		summary.Processed++
		summary.Updated++
	}
	return summary
}

// runMetricsRollup recomputes project, task and resource metrics for
// every project.
func (s *Scheduler) runMetricsRollup(ctx context.Context) *RunSummary {
	summary := newRunSummary(TriggerMetricsRollup, s.clock.Now())
	defer s.finish(summary)

	projects, err := s.repo.ListProjects(ctx)
	if err != nil {
		summary.fail(fmt.Errorf("list projects: %w", err))
		return summary
	}

	for _, p := range projects {
		if s.dirty.Contains(EntityProject, p.ID) {
			summary.Skipped++
			continue
		}
		if err := s.attemptWithRetry(ctx, func(ctx context.Context) error {
			return s.rollup.RecomputeProject(ctx, p.ID)
		}); err != nil {
			summary.fail(fmt.Errorf("rollup project %s: %w", p.ID, err))
			continue
		}
		summary.Processed++
		summary.Updated++
	}
	return summary
}

// runSnapshots writes one productivity snapshot per user for today.
// The repository no-ops on the unique (user, date, period) key, so
// re-triggering the job is safe.
func (s *Scheduler) runSnapshots(ctx context.Context, name, periodType string) *RunSummary {
	summary := newRunSummary(name, s.clock.Now())
	defer s.finish(summary)

	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		summary.fail(fmt.Errorf("list users: %w", err))
		return summary
	}
	today := s.clock.Now()

	for _, u := range users {
		if s.dirty.Contains(EntityUser, u.ID) {
			summary.Skipped++
			continue
		}
		err := s.attemptWithRetry(ctx, func(ctx context.Context) error {
			if _, err := s.snapshots.Snapshot(ctx, u.ID, today, periodType); err != nil {
				return fmt.Errorf("snapshot user %s: %w", u.ID, err)
			}
			if _, err := s.snapshots.RefreshCurrent(ctx, u.ID); err != nil {
				return fmt.Errorf("refresh productivity for user %s: %w", u.ID, err)
			}
			return nil
		})
		if err != nil {
			summary.fail(err)
			continue
		}
		summary.Processed++
		summary.Updated++
	}
	return summary
}

// recomputeTaskWithRetry recomputes one task under the shared retry
// policy, keeping the last attempt's update.
func (s *Scheduler) recomputeTaskWithRetry(ctx context.Context, id uuid.UUID) (*scoring.TaskUpdate, error) {
	var update *scoring.TaskUpdate
	err := s.attemptWithRetry(ctx, func(ctx context.Context) error {
		var err error
		update, err = s.scorer.RecomputeTask(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return update, nil
}

// attemptWithRetry runs fn under the per-entity timeout and retries a
// transient failure once within the same run. Missing records are not
// retried, and a cancelled run never retries.
func (s *Scheduler) attemptWithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	err := s.withEntityTimeout(ctx, fn)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) || ctx.Err() != nil {
		return err
	}
	return s.withEntityTimeout(ctx, fn)
}

func (s *Scheduler) withEntityTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.EntityTimeout)
	defer cancel()
	return fn(ctx)
}

func (s *Scheduler) finish(summary *RunSummary) {
	summary.Duration = s.clock.Now().Sub(summary.StartedAt)
}

// Package rollup recomputes the overwritten-in-place metrics aggregates
// for tasks, projects and (user, project) resources. These tables are
// owned exclusively by the recomputation engine.
package rollup

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

// commentWindow bounds the comment count stored on task metrics.
const commentWindow = 30 * 24 * time.Hour

// Service recomputes derived metrics aggregates.
type Service struct {
	repo   domain.Repository
	clock  clock.Clock
	logger *slog.Logger
}

// NewService creates a rollup service.
func NewService(repo domain.Repository, clk clock.Clock, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Service{repo: repo, clock: clk, logger: logger}
}

// RecomputeProject refreshes ProjectMetrics for the project, TaskMetrics
// for every task under it, and ResourceMetrics for every assignee.
func (s *Service) RecomputeProject(ctx context.Context, projectID uuid.UUID) error {
	tasks, err := s.repo.ListProjectTasks(ctx, projectID)
	if err != nil {
		return fmt.Errorf("list tasks for project %s: %w", projectID, err)
	}
	now := s.clock.Now()

	pm := &domain.ProjectMetrics{ProjectID: projectID, ComputedAt: now}
	var complexitySum, riskSum float64
	var riskCount int
	assignedByUser := make(map[uuid.UUID]int)
	completedByUser := make(map[uuid.UUID]int)
	taskByID := make(map[uuid.UUID]struct{}, len(tasks))

	for _, t := range tasks {
		taskByID[t.ID] = struct{}{}
		pm.TotalTasks++
		complexitySum += t.ComplexityScore
		if t.State == domain.StateDone {
			pm.CompletedTasks++
		}
		if t.IsActive() && t.DueDate != nil && t.DueDate.Before(now) {
			pm.OverdueTasks++
		}
		if t.AssigneeID != nil {
			assignedByUser[*t.AssigneeID]++
			if t.State == domain.StateDone {
				completedByUser[*t.AssigneeID]++
			}
		}

		if risk, err := s.repo.GetLatestRisk(ctx, t.ID); err == nil {
			riskSum += risk.Score
			riskCount++
		} else if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Debug("risk lookup failed during rollup", "task_id", t.ID, "error", err)
		}

		if err := s.recomputeTaskMetrics(ctx, t, now); err != nil {
			s.logger.Warn("task metrics rollup failed", "task_id", t.ID, "error", err)
		}
	}

	if pm.TotalTasks > 0 {
		pm.CompletionRate = float64(pm.CompletedTasks) / float64(pm.TotalTasks)
		pm.AvgComplexity = complexitySum / float64(pm.TotalTasks)
	}
	if riskCount > 0 {
		pm.AvgRiskScore = riskSum / float64(riskCount)
	}
	if err := s.repo.UpsertProjectMetrics(ctx, pm); err != nil {
		return fmt.Errorf("upsert metrics for project %s: %w", projectID, err)
	}

	for userID, assigned := range assignedByUser {
		rm := &domain.ResourceMetrics{
			UserID:         userID,
			ProjectID:      projectID,
			AssignedTasks:  assigned,
			CompletedTasks: completedByUser[userID],
			ComputedAt:     now,
		}
		if assigned > 0 {
			rm.Utilization = float64(rm.CompletedTasks) / float64(assigned)
		}
		rm.LoggedMinutes = s.loggedMinutes(ctx, userID, taskByID, now)
		if err := s.repo.UpsertResourceMetrics(ctx, rm); err != nil {
			s.logger.Warn("resource metrics rollup failed", "user_id", userID, "project_id", projectID, "error", err)
		}
	}
	return nil
}

func (s *Service) recomputeTaskMetrics(ctx context.Context, t *domain.Task, now time.Time) error {
	comments, err := s.repo.CountRecentComments(ctx, t.ID, now.Add(-commentWindow))
	if err != nil {
		comments = 0
	}

	tm := &domain.TaskMetrics{
		TaskID:       t.ID,
		CommentCount: comments,
		ComputedAt:   now,
	}
	if worked := t.WorkedDuration(); worked > 0 {
		tm.WorkedMinutes = int(worked.Minutes())
	}
	if t.IsActive() {
		tm.IdleHours = now.Sub(t.UpdatedAt).Hours()
		if tm.IdleHours < 0 {
			tm.IdleHours = 0
		}
	}
	last := t.UpdatedAt
	tm.LastActivityAt = &last

	return s.repo.UpsertTaskMetrics(ctx, tm)
}

func (s *Service) loggedMinutes(ctx context.Context, userID uuid.UUID, projectTasks map[uuid.UUID]struct{}, now time.Time) int {
	entries, err := s.repo.ListTimeEntries(ctx, userID, now.Add(-commentWindow), now)
	if err != nil {
		return 0
	}
	var total int
	for _, e := range entries {
		if _, ok := projectTasks[e.TaskID]; ok {
			total += e.Minutes
		}
	}
	return total
}

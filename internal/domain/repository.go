package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Repository is the persistence contract consumed by the recomputation
// engine. The derived tables (task/project/resource metrics, productivity
// metrics and history) are owned exclusively by this engine; upstream CRUD
// never writes to them.
type Repository interface {
	GetTask(ctx context.Context, id uuid.UUID) (*Task, error)
	ListActiveTasks(ctx context.Context) ([]*Task, error)
	// ListTasksByMinRisk returns active tasks whose most recent stored
	// risk score is at or above the threshold.
	ListTasksByMinRisk(ctx context.Context, threshold float64) ([]*Task, error)
	ListDependencies(ctx context.Context, taskID uuid.UUID) ([]*Task, error)
	CountRecentComments(ctx context.Context, taskID uuid.UUID, since time.Time) (int, error)

	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)

	ListProjects(ctx context.Context) ([]*Project, error)
	ListProjectTasks(ctx context.Context, projectID uuid.UUID) ([]*Task, error)

	// GetLatestRisk returns the most recent TaskRisk row for the task,
	// or ErrNotFound when none has been recorded yet.
	GetLatestRisk(ctx context.Context, taskID uuid.UUID) (*TaskRisk, error)
	InsertRisk(ctx context.Context, risk *TaskRisk) error

	ListCompletedTasks(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]*Task, error)
	ListTimeEntries(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]*TimeEntry, error)

	UpdateTaskPriorityFields(ctx context.Context, id uuid.UUID, priority Priority, source PrioritySource, score float64, reasoning []string) error
	UpdateTaskComplexity(ctx context.Context, id uuid.UUID, score float64, factors ComplexityFactors) error

	UpsertTaskMetrics(ctx context.Context, m *TaskMetrics) error
	UpsertProjectMetrics(ctx context.Context, m *ProjectMetrics) error
	UpsertResourceMetrics(ctx context.Context, m *ResourceMetrics) error
	UpsertProductivityMetrics(ctx context.Context, m *UserProductivityMetrics) error

	// InsertProductivitySnapshot no-ops when a row already exists for the
	// (user, date, period type) key, making snapshot jobs re-triggerable.
	InsertProductivitySnapshot(ctx context.Context, s *ProductivitySnapshot) error
	GetLatestSnapshot(ctx context.Context, userID uuid.UUID, periodType string, before time.Time) (*ProductivitySnapshot, error)
}

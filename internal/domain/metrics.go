package domain

import (
	"time"

	"github.com/google/uuid"
)

// Trend classifies a productivity score relative to the prior snapshot.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// Snapshot period types.
const (
	PeriodDaily  = "daily"
	PeriodWeekly = "weekly"
)

// TaskMetrics is the overwritten-in-place derived aggregate for a task.
type TaskMetrics struct {
	TaskID         uuid.UUID
	WorkedMinutes  int
	IdleHours      float64
	CommentCount   int
	LastActivityAt *time.Time
	ComputedAt     time.Time
}

// ProjectMetrics is the overwritten-in-place derived aggregate for a project.
type ProjectMetrics struct {
	ProjectID      uuid.UUID
	TotalTasks     int
	CompletedTasks int
	OverdueTasks   int
	CompletionRate float64
	AvgComplexity  float64
	AvgRiskScore   float64
	ComputedAt     time.Time
}

// ResourceMetrics is the derived aggregate for a (user, project) pair.
type ResourceMetrics struct {
	UserID         uuid.UUID
	ProjectID      uuid.UUID
	AssignedTasks  int
	CompletedTasks int
	Utilization    float64
	LoggedMinutes  int
	ComputedAt     time.Time
}

// UserProductivityMetrics is the current cached productivity row per
// user, upserted on every recompute.
type UserProductivityMetrics struct {
	UserID         uuid.UUID
	Score          float64
	CompletedTasks int
	TotalMinutes   int
	AvgComplexity  float64
	TaskBreakdown  map[string]int // completed task count by priority level
	ComputedAt     time.Time
}

// ProductivitySnapshot is an immutable, date-keyed productivity record.
// At most one row exists per (user, snapshot date, period type).
type ProductivitySnapshot struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	SnapshotDate   time.Time // date component only, UTC
	PeriodType     string
	Score          float64
	CompletedTasks int
	TotalMinutes   int
	AvgComplexity  float64
	Trend          Trend
	TrendPercent   float64
	CreatedAt      time.Time
}

package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidPriority = errors.New("invalid priority value")
	ErrInvalidSource   = errors.New("invalid priority source")
	ErrInvalidState    = errors.New("invalid task state")
)

// Priority represents the discrete task priority level.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

var priorityNames = map[Priority]string{
	PriorityLow:    "low",
	PriorityNormal: "normal",
	PriorityHigh:   "high",
	PriorityUrgent: "urgent",
}

var priorityValues = map[string]Priority{
	"low":    PriorityLow,
	"normal": PriorityNormal,
	"high":   PriorityHigh,
	"urgent": PriorityUrgent,
}

// ParsePriority creates a Priority from a string.
func ParsePriority(s string) (Priority, error) {
	p, ok := priorityValues[strings.ToLower(s)]
	if !ok {
		return 0, ErrInvalidPriority
	}
	return p, nil
}

// String returns the string representation of the priority.
func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "unknown"
}

// IsValid returns true if the priority is a known level.
func (p Priority) IsValid() bool {
	_, ok := priorityNames[p]
	return ok
}

// Level returns the ordinal position (low=1 ... urgent=4).
func (p Priority) Level() int {
	return int(p)
}

// StepsFrom returns the absolute ordinal distance to another priority.
func (p Priority) StepsFrom(other Priority) int {
	d := p.Level() - other.Level()
	if d < 0 {
		d = -d
	}
	return d
}

// PrioritySource records where a task's priority came from. Manual
// priorities are sticky: the engine never overwrites them.
type PrioritySource string

const (
	SourceAuto   PrioritySource = "auto"
	SourceManual PrioritySource = "manual"
	SourceRule   PrioritySource = "rule"
	SourceAI     PrioritySource = "ai"
)

// ParsePrioritySource creates a PrioritySource from a string.
func ParsePrioritySource(s string) (PrioritySource, error) {
	switch PrioritySource(strings.ToLower(s)) {
	case SourceAuto, SourceManual, SourceRule, SourceAI:
		return PrioritySource(strings.ToLower(s)), nil
	}
	return "", ErrInvalidSource
}

// IsManual returns true if the priority was set by a human.
func (s PrioritySource) IsManual() bool {
	return s == SourceManual
}

// State represents the task lifecycle state.
type State string

const (
	StateNew              State = "new"
	StateInProgress       State = "in_progress"
	StateChangesRequested State = "changes_requested"
	StateApproved         State = "approved"
	StateDone             State = "done"
	StateCancelled        State = "cancelled"
)

// ParseState creates a State from a string.
func ParseState(s string) (State, error) {
	switch State(strings.ToLower(s)) {
	case StateNew, StateInProgress, StateChangesRequested, StateApproved, StateDone, StateCancelled:
		return State(strings.ToLower(s)), nil
	}
	return "", ErrInvalidState
}

// IsTerminal returns true for states that end the lifecycle.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateCancelled
}

// IsActive returns true for tasks eligible for periodic recomputation.
func (s State) IsActive() bool {
	return !s.IsTerminal()
}

// Environment classifies where a task is performed.
type Environment string

const (
	EnvironmentIndoor  Environment = "indoor"
	EnvironmentOutdoor Environment = "outdoor"
	EnvironmentHybrid  Environment = "hybrid"
)

// ComplexityFactors is the named breakdown of a complexity score. Each
// factor is independently bounded; Total is their sum.
type ComplexityFactors struct {
	Technical     float64 `json:"technical"`
	Scope         float64 `json:"scope"`
	TimePressure  float64 `json:"time_pressure"`
	Dependencies  float64 `json:"dependencies"`
	Environmental float64 `json:"environmental"`
}

// Total returns the combined complexity score.
func (f ComplexityFactors) Total() float64 {
	return f.Technical + f.Scope + f.TimePressure + f.Dependencies + f.Environmental
}

// Task is a unit of work with its derived scoring fields.
type Task struct {
	ID                uuid.UUID
	ProjectID         uuid.UUID
	Title             string
	Description       string
	State             State
	Priority          Priority
	PrioritySource    PrioritySource
	PriorityScore     float64
	PriorityReasoning []string
	ComplexityScore   float64
	ComplexityFactors ComplexityFactors
	AssigneeID        *uuid.UUID
	DueDate           *time.Time
	Environment       Environment
	WeatherImpact     *float64 // 0..1, outdoor tasks only
	EstimatedHours    float64
	QualityRating     *float64 // 0..1, set on review
	Dependencies      []uuid.UUID
	StartedAt         *time.Time
	CompletedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsActive returns true if the task is eligible for recomputation.
func (t *Task) IsActive() bool {
	return t.State.IsActive()
}

// WorkedDuration returns the explicit start-to-completion duration, or
// zero when either timestamp is missing.
func (t *Task) WorkedDuration() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	d := t.CompletedAt.Sub(*t.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

package productivity

import (
	"github.com/google/uuid"

	"github.com/projectpulse/pulse/internal/domain"
)

// Result is a computed productivity window for one user.
type Result struct {
	Score          float64
	CompletedTasks int
	TotalMinutes   int
	AvgComplexity  float64
	TaskBreakdown  map[string]int
}

// Scorer computes productivity scores over a set of completed tasks and
// logged time. score = sum(complexity * quality) / total hours, with
// quality defaulting to 1.0 and zero logged time yielding 0.
type Scorer struct{}

// NewScorer creates a productivity scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Compute scores the given completed tasks. Time spent on a task comes
// from its explicit start/completion timestamps when both are present,
// otherwise from the logged time entries attached to it.
func (s *Scorer) Compute(tasks []*domain.Task, entries []*domain.TimeEntry) Result {
	entryMinutes := make(map[uuid.UUID]int, len(entries))
	for _, e := range entries {
		entryMinutes[e.TaskID] += e.Minutes
	}

	result := Result{
		CompletedTasks: len(tasks),
		TaskBreakdown:  make(map[string]int),
	}

	var weighted float64
	var complexitySum float64
	for _, t := range tasks {
		quality := 1.0
		if t.QualityRating != nil {
			quality = *t.QualityRating
		}
		weighted += t.ComplexityScore * quality
		complexitySum += t.ComplexityScore
		result.TaskBreakdown[t.Priority.String()]++

		if worked := t.WorkedDuration(); worked > 0 {
			result.TotalMinutes += int(worked.Minutes())
		} else {
			result.TotalMinutes += entryMinutes[t.ID]
		}
	}

	if len(tasks) > 0 {
		result.AvgComplexity = complexitySum / float64(len(tasks))
	}
	if result.TotalMinutes > 0 {
		result.Score = weighted / (float64(result.TotalMinutes) / 60.0)
	}
	return result
}

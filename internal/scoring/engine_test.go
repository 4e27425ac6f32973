package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectpulse/pulse/internal/clock"
	"github.com/projectpulse/pulse/internal/domain"
	"github.com/projectpulse/pulse/internal/persistence"
)

func newEngine(repo domain.Repository) *Engine {
	return NewEngine(
		repo,
		NewComplexityAnalyzer(DefaultComplexityConfig()),
		NewRiskAnalyzer(),
		NewPriorityScorer(DefaultPriorityConfig()),
		clock.NewFixed(testNow),
		nil,
	)
}

func TestEngine_RecomputeTask_PersistsAllDerivedResults(t *testing.T) {
	repo := persistence.NewMemory()
	assigneeID := uuid.New()
	repo.PutUser(&domain.User{ID: assigneeID, Name: "Sam"})

	due := testNow.Add(12 * time.Hour)
	task := &domain.Task{
		ID:          uuid.New(),
		Title:       "Prepare launch checklist",
		State:       domain.StateInProgress,
		Priority:    domain.PriorityNormal,
		AssigneeID:  &assigneeID,
		DueDate:     &due,
		Environment: domain.EnvironmentIndoor,
		CreatedAt:   testNow.Add(-time.Hour),
	}
	repo.PutTask(task)

	update, err := newEngine(repo).RecomputeTask(context.Background(), task.ID)
	require.NoError(t, err)

	// Complexity: only time pressure contributes (due within a day).
	assert.Equal(t, 18.0, update.Complexity.Total())
	stored, err := repo.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, 18.0, stored.ComplexityScore)

	// Risk: 26 time + 3.6 complexity + 10 priority + 10 unknown skills.
	history := repo.RiskHistory(task.ID)
	require.Len(t, history, 1)
	assert.InDelta(t, 49.6, history[0].Score, 1e-9)
	assert.Equal(t, history[0], update.Risk)

	// Priority: the 24-hour deadline rule wins over the numeric score.
	assert.True(t, update.Updated)
	assert.Equal(t, domain.PriorityNormal, update.OldPriority)
	assert.Equal(t, domain.PriorityUrgent, update.NewPriority)
	assert.True(t, update.Significant())
	assert.Equal(t, "deadline within 1 day", update.TopReason())
	assert.Equal(t, domain.PriorityUrgent, stored.Priority)
	assert.Equal(t, domain.SourceRule, stored.PrioritySource)
}

func TestEngine_RecomputeTask_ManualPriorityIsPreserved(t *testing.T) {
	repo := persistence.NewMemory()

	due := testNow.Add(time.Hour)
	task := &domain.Task{
		ID:             uuid.New(),
		Title:          "Pet project cleanup",
		State:          domain.StateInProgress,
		Priority:       domain.PriorityLow,
		PrioritySource: domain.SourceManual,
		PriorityScore:  7,
		DueDate:        &due,
		CreatedAt:      testNow.Add(-time.Hour),
	}
	repo.PutTask(task)

	update, err := newEngine(repo).RecomputeTask(context.Background(), task.ID)
	require.NoError(t, err)

	// Complexity and risk are still refreshed for a manual task.
	assert.Len(t, repo.RiskHistory(task.ID), 1)
	stored, err := repo.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, 18.0, stored.ComplexityScore)

	// The stored priority fields stay untouched.
	assert.False(t, update.Updated)
	assert.False(t, update.Significant())
	assert.Equal(t, domain.PriorityLow, stored.Priority)
	assert.Equal(t, domain.SourceManual, stored.PrioritySource)
	assert.Equal(t, 7.0, stored.PriorityScore)
}

func TestEngine_RecomputeTask_UnknownTask(t *testing.T) {
	repo := persistence.NewMemory()

	_, err := newEngine(repo).RecomputeTask(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEngine_RecomputeRisk_UsesStoredComplexity(t *testing.T) {
	repo := persistence.NewMemory()
	task := &domain.Task{
		ID:              uuid.New(),
		Title:           "Quarterly audit",
		State:           domain.StateInProgress,
		Priority:        domain.PriorityNormal,
		ComplexityScore: 50,
		CreatedAt:       testNow.Add(-time.Hour),
	}
	repo.PutTask(task)

	risk, err := newEngine(repo).RecomputeRisk(context.Background(), task.ID)
	require.NoError(t, err)

	// 50/5 complexity plus normal priority pressure.
	assert.InDelta(t, 20.0, risk.Score, 1e-9)
	assert.Equal(t, 10.0, risk.Components.Complexity)
	require.Len(t, repo.RiskHistory(task.ID), 1)

	// The stored complexity score is left alone on a risk-only pass.
	stored, err := repo.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, 50.0, stored.ComplexityScore)
}

func TestTaskUpdate_Significant(t *testing.T) {
	oneStep := &TaskUpdate{OldPriority: domain.PriorityNormal, NewPriority: domain.PriorityHigh, Updated: true}
	assert.False(t, oneStep.Significant())

	twoSteps := &TaskUpdate{OldPriority: domain.PriorityLow, NewPriority: domain.PriorityHigh, Updated: true}
	assert.True(t, twoSteps.Significant())

	notUpdated := &TaskUpdate{OldPriority: domain.PriorityLow, NewPriority: domain.PriorityUrgent, Updated: false}
	assert.False(t, notUpdated.Significant())
}

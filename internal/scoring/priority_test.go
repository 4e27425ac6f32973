package scoring

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/projectpulse/pulse/internal/domain"
)

func newScorer() *PriorityScorer {
	return NewPriorityScorer(DefaultPriorityConfig())
}

func TestPriorityScorer_ManualPriorityIsSticky(t *testing.T) {
	task := &domain.Task{
		ID:                uuid.New(),
		Title:             "Urgent board request", // keyword would fire on an auto task
		Priority:          domain.PriorityLow,
		PrioritySource:    domain.SourceManual,
		PriorityScore:     12.5,
		PriorityReasoning: []string{"set by the project lead"},
	}

	res := newScorer().Score(task, 90, true, 90, true, testNow)

	assert.False(t, res.Updated)
	assert.Equal(t, domain.PriorityLow, res.Priority)
	assert.Equal(t, domain.SourceManual, res.Source)
	assert.Equal(t, 12.5, res.Score)
	assert.Equal(t, []string{"set by the project lead"}, res.Reasoning)
}

func TestPriorityScorer_ScoreThresholds(t *testing.T) {
	tests := []struct {
		name       string
		risk       float64
		complexity float64
		score      float64
		expected   domain.Priority
	}{
		{"high band", 80, 40, 60, domain.PriorityHigh},
		{"urgent band", 100, 70, 85, domain.PriorityUrgent},
		{"normal band", 40, 30, 35, domain.PriorityNormal},
		{"low band", 10, 10, 10, domain.PriorityLow},
		{"uncapped score", 100, 100, 100, domain.PriorityUrgent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &domain.Task{ID: uuid.New(), Title: "Ship quarterly report"}
			res := newScorer().Score(task, tt.risk, true, tt.complexity, true, testNow)

			assert.True(t, res.Updated)
			assert.Equal(t, tt.expected, res.Priority)
			assert.Equal(t, domain.SourceAuto, res.Source)
			assert.Equal(t, tt.score, res.Score)
		})
	}
}

func TestPriorityScorer_UrgencyKeywordOverridesScore(t *testing.T) {
	task := &domain.Task{
		ID:          uuid.New(),
		Title:       "Fix login",
		Description: "Blocker for the whole mobile team",
	}

	res := newScorer().Score(task, 5, true, 5, true, testNow)

	assert.Equal(t, domain.PriorityUrgent, res.Priority)
	assert.Equal(t, domain.SourceRule, res.Source)
	assert.Equal(t, `urgency keyword "blocker" present`, res.Reasoning[0])
}

func TestPriorityScorer_DeadlineRules(t *testing.T) {
	t.Run("due within a day", func(t *testing.T) {
		due := testNow.Add(12 * time.Hour)
		task := &domain.Task{ID: uuid.New(), Title: "Send invoices", DueDate: &due}

		res := newScorer().Score(task, 5, true, 5, true, testNow)
		assert.Equal(t, domain.PriorityUrgent, res.Priority)
		assert.Equal(t, domain.SourceRule, res.Source)
		assert.Equal(t, "deadline within 1 day", res.Reasoning[0])
	})

	t.Run("due within three days", func(t *testing.T) {
		due := testNow.Add(48 * time.Hour)
		task := &domain.Task{ID: uuid.New(), Title: "Send invoices", DueDate: &due}

		res := newScorer().Score(task, 5, true, 5, true, testNow)
		assert.Equal(t, domain.PriorityHigh, res.Priority)
		assert.Equal(t, domain.SourceRule, res.Source)
		assert.Equal(t, "deadline within 3 days", res.Reasoning[0])
	})

	t.Run("distant deadline falls back to score", func(t *testing.T) {
		due := testNow.Add(14 * 24 * time.Hour)
		task := &domain.Task{ID: uuid.New(), Title: "Send invoices", DueDate: &due}

		res := newScorer().Score(task, 10, true, 10, true, testNow)
		assert.Equal(t, domain.PriorityLow, res.Priority)
		assert.Equal(t, domain.SourceAuto, res.Source)
	})
}

func TestPriorityScorer_MissingComponentsSubstituteZero(t *testing.T) {
	task := &domain.Task{ID: uuid.New(), Title: "Review contract"}

	res := newScorer().Score(task, 90, false, 80, true, testNow)

	assert.Equal(t, 40.0, res.Score)
	assert.Equal(t, domain.PriorityNormal, res.Priority)
	assert.Contains(t, res.Reasoning, "risk score unavailable, substituted 0.0")
	assert.Contains(t, res.Reasoning,
		"combined score 40.0 = 0.5×risk 0.0 + 0.5×complexity 80.0")

	res = newScorer().Score(task, 90, true, 80, false, testNow)
	assert.Equal(t, 45.0, res.Score)
	assert.Contains(t, res.Reasoning, "complexity score unavailable, substituted 0.0")
}

func TestPriorityScorer_ReasoningIncludesFormula(t *testing.T) {
	task := &domain.Task{ID: uuid.New(), Title: "Plan offsite"}

	res := newScorer().Score(task, 80, true, 40, true, testNow)

	assert.Equal(t, "combined score 60.0 at or above 60", res.Reasoning[0])
	assert.Equal(t, "combined score 60.0 = 0.5×risk 80.0 + 0.5×complexity 40.0", res.Reasoning[1])
}

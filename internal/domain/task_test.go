package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePriority(t *testing.T) {
	tests := []struct {
		input    string
		expected Priority
		wantErr  bool
	}{
		{"low", PriorityLow, false},
		{"normal", PriorityNormal, false},
		{"high", PriorityHigh, false},
		{"urgent", PriorityUrgent, false},
		{"URGENT", PriorityUrgent, false},
		{"medium", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			p, err := ParsePriority(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPriority)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, p)
		})
	}
}

func TestPriority_Level(t *testing.T) {
	assert.Equal(t, 1, PriorityLow.Level())
	assert.Equal(t, 2, PriorityNormal.Level())
	assert.Equal(t, 3, PriorityHigh.Level())
	assert.Equal(t, 4, PriorityUrgent.Level())
}

func TestPriority_StepsFrom(t *testing.T) {
	assert.Equal(t, 0, PriorityHigh.StepsFrom(PriorityHigh))
	assert.Equal(t, 1, PriorityHigh.StepsFrom(PriorityNormal))
	assert.Equal(t, 3, PriorityUrgent.StepsFrom(PriorityLow))
	assert.Equal(t, 3, PriorityLow.StepsFrom(PriorityUrgent))
}

func TestPrioritySource_IsManual(t *testing.T) {
	assert.True(t, SourceManual.IsManual())
	assert.False(t, SourceAuto.IsManual())
	assert.False(t, SourceRule.IsManual())
	assert.False(t, SourceAI.IsManual())
}

func TestParsePrioritySource(t *testing.T) {
	s, err := ParsePrioritySource("Manual")
	require.NoError(t, err)
	assert.Equal(t, SourceManual, s)

	_, err = ParsePrioritySource("oracle")
	assert.ErrorIs(t, err, ErrInvalidSource)
}

func TestState_Lifecycle(t *testing.T) {
	active := []State{StateNew, StateInProgress, StateChangesRequested, StateApproved}
	for _, s := range active {
		assert.True(t, s.IsActive(), "state %s should be active", s)
		assert.False(t, s.IsTerminal())
	}

	terminal := []State{StateDone, StateCancelled}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "state %s should be terminal", s)
		assert.False(t, s.IsActive())
	}
}

func TestParseState(t *testing.T) {
	s, err := ParseState("IN_PROGRESS")
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, s)

	_, err = ParseState("paused")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestComplexityFactors_Total(t *testing.T) {
	f := ComplexityFactors{
		Technical:     30,
		Scope:         25,
		TimePressure:  20,
		Dependencies:  15,
		Environmental: 10,
	}
	assert.Equal(t, 100.0, f.Total())
	assert.Equal(t, 0.0, ComplexityFactors{}.Total())
}

func TestTask_WorkedDuration(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Minute)

	task := &Task{StartedAt: &start, CompletedAt: &end}
	assert.Equal(t, 90*time.Minute, task.WorkedDuration())

	assert.Equal(t, time.Duration(0), (&Task{StartedAt: &start}).WorkedDuration())
	assert.Equal(t, time.Duration(0), (&Task{CompletedAt: &end}).WorkedDuration())

	// Completion before start is treated as no recorded work.
	backwards := &Task{StartedAt: &end, CompletedAt: &start}
	assert.Equal(t, time.Duration(0), backwards.WorkedDuration())
}

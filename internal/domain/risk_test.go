package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRiskLevelFromScore(t *testing.T) {
	tests := []struct {
		score    float64
		expected RiskLevel
	}{
		{0, RiskMinimal},
		{19.9, RiskMinimal},
		{20, RiskLow},
		{34.9, RiskLow},
		{35, RiskMedium},
		{49.9, RiskMedium},
		{50, RiskHigh},
		{64.9, RiskHigh},
		{65, RiskCritical},
		{79.9, RiskCritical},
		{80, RiskExtreme},
		{100, RiskExtreme},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, RiskLevelFromScore(tt.score), "score %.1f", tt.score)
	}
}

func TestRiskComponents_Total(t *testing.T) {
	c := RiskComponents{
		TimeSensitivity: RiskCapTimeSensitivity,
		Complexity:      RiskCapComplexity,
		Priority:        RiskCapPriority,
		RoleMatch:       RiskCapRoleMatch,
		Dependencies:    RiskCapDependencies,
		Comments:        RiskCapComments,
	}
	assert.Equal(t, 110.0, c.Total())
}

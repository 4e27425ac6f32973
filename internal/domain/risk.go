package domain

import (
	"time"

	"github.com/google/uuid"
)

// RiskLevel is the discrete classification of a risk score.
type RiskLevel string

const (
	RiskMinimal  RiskLevel = "minimal"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
	RiskExtreme  RiskLevel = "extreme"
)

// RiskLevelFromScore maps a 0-100 risk score onto its level. The cut
// points are total and non-overlapping.
func RiskLevelFromScore(score float64) RiskLevel {
	switch {
	case score < 20:
		return RiskMinimal
	case score < 35:
		return RiskLow
	case score < 50:
		return RiskMedium
	case score < 65:
		return RiskHigh
	case score < 80:
		return RiskCritical
	default:
		return RiskExtreme
	}
}

// Caps for the individual risk components.
const (
	RiskCapTimeSensitivity = 30.0
	RiskCapComplexity      = 20.0
	RiskCapPriority        = 20.0
	RiskCapRoleMatch       = 20.0
	RiskCapDependencies    = 10.0
	RiskCapComments        = 10.0
)

// RiskComponents is the bounded breakdown of a risk score.
type RiskComponents struct {
	TimeSensitivity float64 `json:"time_sensitivity"`
	Complexity      float64 `json:"complexity"`
	Priority        float64 `json:"priority"`
	RoleMatch       float64 `json:"role_match"`
	Dependencies    float64 `json:"dependencies"`
	Comments        float64 `json:"comments"`
}

// Total returns the combined risk score.
func (c RiskComponents) Total() float64 {
	return c.TimeSensitivity + c.Complexity + c.Priority + c.RoleMatch + c.Dependencies + c.Comments
}

// TaskRisk is one append-only risk assessment for a task. The most
// recent row per task is the task's current risk.
type TaskRisk struct {
	ID              uuid.UUID
	TaskID          uuid.UUID
	Score           float64
	Level           RiskLevel
	Components      RiskComponents
	Factors         []string
	Recommendations []string
	CreatedAt       time.Time
}

package scoring

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/projectpulse/pulse/internal/domain"
)

// RiskInput gathers everything the risk analyzer reads for one task.
// Assignee may be nil and DueDate may be unset; missing inputs
// contribute neutral zero scores rather than failing.
type RiskInput struct {
	Task           *domain.Task
	Assignee       *domain.User
	Dependencies   []*domain.Task
	RecentComments int
	Now            time.Time
}

// RiskAnalyzer computes a 0-100 risk score with a bounded component
// breakdown and a discrete level. Results are append-only TaskRisk rows;
// the analyzer never mutates the task itself.
type RiskAnalyzer struct{}

// NewRiskAnalyzer creates a risk analyzer.
func NewRiskAnalyzer() *RiskAnalyzer {
	return &RiskAnalyzer{}
}

// Analyze produces a new risk assessment for the input task.
func (a *RiskAnalyzer) Analyze(in RiskInput) *domain.TaskRisk {
	var factors []string

	components := domain.RiskComponents{
		TimeSensitivity: a.timeSensitivity(in, &factors),
		Complexity:      a.complexity(in.Task),
		Priority:        a.priorityPressure(in.Task),
		RoleMatch:       a.roleMatch(in, &factors),
		Dependencies:    a.dependencies(in, &factors),
		Comments:        a.commentActivity(in, &factors),
	}

	// Component caps sum to 110; the overall score stays on the 0-100
	// scale the levels are defined over.
	score := min(components.Total(), 100)
	level := domain.RiskLevelFromScore(score)

	return &domain.TaskRisk{
		ID:              uuid.New(),
		TaskID:          in.Task.ID,
		Score:           score,
		Level:           level,
		Components:      components,
		Factors:         factors,
		Recommendations: a.recommendations(components, level),
		CreatedAt:       in.Now,
	}
}

func (a *RiskAnalyzer) timeSensitivity(in RiskInput, factors *[]string) float64 {
	if in.Task.DueDate == nil {
		return 0
	}
	days := in.Task.DueDate.Sub(in.Now).Hours() / 24
	switch {
	case days < 0:
		*factors = append(*factors, "deadline has passed")
		return domain.RiskCapTimeSensitivity
	case days < 1:
		*factors = append(*factors, "deadline within 24 hours")
		return 26
	case days < 3:
		*factors = append(*factors, "deadline within 3 days")
		return 20
	case days < 7:
		return 13
	case days < 14:
		return 7
	default:
		return 3
	}
}

func (a *RiskAnalyzer) complexity(task *domain.Task) float64 {
	return min(task.ComplexityScore/5.0, domain.RiskCapComplexity)
}

func (a *RiskAnalyzer) priorityPressure(task *domain.Task) float64 {
	if !task.Priority.IsValid() {
		return 0
	}
	return min(float64(task.Priority.Level())*5.0, domain.RiskCapPriority)
}

func (a *RiskAnalyzer) roleMatch(in RiskInput, factors *[]string) float64 {
	if in.Assignee == nil {
		return 0
	}
	if len(in.Assignee.Skills) == 0 {
		return 10
	}

	text := strings.ToLower(in.Task.Title + " " + in.Task.Description)
	var matches int
	for _, skill := range in.Assignee.Skills {
		if skill != "" && strings.Contains(text, strings.ToLower(skill)) {
			matches++
		}
	}

	switch {
	case matches == 0:
		*factors = append(*factors, fmt.Sprintf("assignee %s has no matching skills", in.Assignee.Name))
		return 16
	case matches == 1:
		return 8
	default:
		return 2
	}
}

func (a *RiskAnalyzer) dependencies(in RiskInput, factors *[]string) float64 {
	var incomplete int
	for _, d := range in.Dependencies {
		if d.State != domain.StateDone {
			incomplete++
		}
	}
	if incomplete > 0 {
		*factors = append(*factors, fmt.Sprintf("%d incomplete dependencies", incomplete))
	}
	return min(float64(incomplete)*5.0, domain.RiskCapDependencies)
}

func (a *RiskAnalyzer) commentActivity(in RiskInput, factors *[]string) float64 {
	age := in.Now.Sub(in.Task.CreatedAt)
	switch {
	case in.RecentComments == 0 && age > 7*24*time.Hour && in.Task.IsActive():
		*factors = append(*factors, "no comment activity in over a week")
		return 8
	case in.RecentComments > 10:
		*factors = append(*factors, "high comment churn")
		return 6
	case in.RecentComments > 5:
		return 4
	default:
		return 0
	}
}

func (a *RiskAnalyzer) recommendations(c domain.RiskComponents, level domain.RiskLevel) []string {
	var recs []string
	if c.TimeSensitivity >= 20 {
		recs = append(recs, "renegotiate the deadline or split the task into smaller deliverables")
	}
	if c.RoleMatch >= 12 {
		recs = append(recs, "consider reassigning to someone with matching expertise")
	}
	if c.Dependencies > 0 {
		recs = append(recs, "unblock dependencies before scheduling more work")
	}
	if c.Comments >= 8 {
		recs = append(recs, "check in with the assignee, the task looks stalled")
	}
	if len(recs) == 0 && (level == domain.RiskCritical || level == domain.RiskExtreme) {
		recs = append(recs, "review the task with its assignee")
	}
	return recs
}

package scoring

import (
	"strings"
	"time"

	"github.com/projectpulse/pulse/internal/domain"
)

// Factor caps. The total complexity score is the sum of the five
// factors and therefore bounded to 100.
const (
	capTechnical     = 30.0
	capScope         = 25.0
	capTimePressure  = 20.0
	capDependencies  = 15.0
	capEnvironmental = 10.0
)

// technicalKeywords are terms in a task's text that indicate technical
// complexity.
var technicalKeywords = []string{
	"integration", "migration", "refactor", "algorithm", "performance",
	"security", "optimization", "scalability", "concurrent", "distributed",
	"realtime", "infrastructure",
}

// ComplexityConfig tunes how task attributes combine into factor scores.
type ComplexityConfig struct {
	KeywordPoints    float64 // per matched technical keyword
	HourPoints       float64 // per estimated hour (technical factor)
	ScopeCharsPerPt  int     // description characters per scope point
	ScopeHourPoints  float64 // per estimated hour (scope factor)
	DependencyPoints float64 // per unresolved dependency
}

// DefaultComplexityConfig returns the production weights.
func DefaultComplexityConfig() ComplexityConfig {
	return ComplexityConfig{
		KeywordPoints:    5.0,
		HourPoints:       1.0,
		ScopeCharsPerPt:  120,
		ScopeHourPoints:  1.5,
		DependencyPoints: 5.0,
	}
}

// ComplexityAnalyzer computes the 0-100 complexity score and its factor
// breakdown for a single task. It is a pure function over its inputs;
// the caller persists the result.
type ComplexityAnalyzer struct {
	config ComplexityConfig
}

// NewComplexityAnalyzer creates an analyzer with the given configuration.
func NewComplexityAnalyzer(cfg ComplexityConfig) *ComplexityAnalyzer {
	return &ComplexityAnalyzer{config: cfg}
}

// Analyze scores the task. deps are the task's dependency tasks, if
// resolved; a nil slice contributes the neutral zero.
func (a *ComplexityAnalyzer) Analyze(task *domain.Task, deps []*domain.Task, now time.Time) domain.ComplexityFactors {
	return domain.ComplexityFactors{
		Technical:     a.technicalScore(task),
		Scope:         a.scopeScore(task),
		TimePressure:  a.timePressureScore(task, now),
		Dependencies:  a.dependencyScore(deps),
		Environmental: a.environmentalScore(task),
	}
}

func (a *ComplexityAnalyzer) technicalScore(task *domain.Task) float64 {
	text := strings.ToLower(task.Title + " " + task.Description)
	var keywordScore float64
	for _, kw := range technicalKeywords {
		if strings.Contains(text, kw) {
			keywordScore += a.config.KeywordPoints
		}
	}
	keywordScore = min(keywordScore, 20)

	hourScore := min(task.EstimatedHours*a.config.HourPoints, 10)
	return min(keywordScore+hourScore, capTechnical)
}

func (a *ComplexityAnalyzer) scopeScore(task *domain.Task) float64 {
	charScore := float64(len(task.Description) / a.config.ScopeCharsPerPt)
	charScore = min(charScore, 10)

	hourScore := min(task.EstimatedHours*a.config.ScopeHourPoints, 15)
	return min(charScore+hourScore, capScope)
}

func (a *ComplexityAnalyzer) timePressureScore(task *domain.Task, now time.Time) float64 {
	if task.DueDate == nil {
		return 0
	}
	days := task.DueDate.Sub(now).Hours() / 24
	switch {
	case days < 0:
		return capTimePressure
	case days < 1:
		return 18
	case days < 3:
		return 14
	case days < 7:
		return 10
	case days < 14:
		return 5
	default:
		return 2
	}
}

func (a *ComplexityAnalyzer) dependencyScore(deps []*domain.Task) float64 {
	var unresolved int
	for _, d := range deps {
		if d.State != domain.StateDone {
			unresolved++
		}
	}
	return min(float64(unresolved)*a.config.DependencyPoints, capDependencies)
}

func (a *ComplexityAnalyzer) environmentalScore(task *domain.Task) float64 {
	switch task.Environment {
	case domain.EnvironmentHybrid:
		return 4
	case domain.EnvironmentOutdoor:
		score := 6.0
		if task.WeatherImpact != nil {
			score += clamp01(*task.WeatherImpact) * 4
		}
		return min(score, capEnvironmental)
	default:
		return 0
	}
}

func clamp01(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

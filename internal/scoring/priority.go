package scoring

import (
	"fmt"
	"strings"
	"time"

	"github.com/projectpulse/pulse/internal/domain"
)

// urgencyKeywords force the urgent level regardless of the numeric score.
var urgencyKeywords = []string{"urgent", "asap", "critical", "blocker", "immediately"}

// PriorityConfig tunes how the continuous score and the rule-based
// overrides map onto discrete levels.
type PriorityConfig struct {
	RiskWeight       float64
	ComplexityWeight float64
	UrgentDueWithin  time.Duration
	HighDueWithin    time.Duration
	UrgentScore      float64
	HighScore        float64
	NormalScore      float64
}

// DefaultPriorityConfig returns the production configuration. Risk and
// complexity combine 50/50 into the continuous score.
func DefaultPriorityConfig() PriorityConfig {
	return PriorityConfig{
		RiskWeight:       0.5,
		ComplexityWeight: 0.5,
		UrgentDueWithin:  24 * time.Hour,
		HighDueWithin:    72 * time.Hour,
		UrgentScore:      80,
		HighScore:        60,
		NormalScore:      30,
	}
}

// PriorityResult is the outcome of scoring one task. When Updated is
// false the stored fields must not be overwritten.
type PriorityResult struct {
	Priority  domain.Priority
	Source    domain.PrioritySource
	Score     float64
	Reasoning []string
	Updated   bool
}

// PriorityScorer combines risk and complexity into the continuous
// priority score and classifies the discrete level in the same pass.
// The score is intentionally uncapped: a high risk component keeps its
// signal rather than being clamped at 100.
type PriorityScorer struct {
	config PriorityConfig
}

// NewPriorityScorer creates a scorer with the given configuration.
func NewPriorityScorer(cfg PriorityConfig) *PriorityScorer {
	return &PriorityScorer{config: cfg}
}

// Score computes the priority for the task. riskKnown and
// complexityKnown report whether the respective input could be
// obtained; a missing component contributes 0.0 and is recorded in the
// reasoning instead of failing the task.
func (s *PriorityScorer) Score(task *domain.Task, riskScore float64, riskKnown bool, complexityScore float64, complexityKnown bool, now time.Time) PriorityResult {
	if task.PrioritySource.IsManual() {
		return PriorityResult{
			Priority:  task.Priority,
			Source:    task.PrioritySource,
			Score:     task.PriorityScore,
			Reasoning: task.PriorityReasoning,
			Updated:   false,
		}
	}

	if !riskKnown {
		riskScore = 0
	}
	if !complexityKnown {
		complexityScore = 0
	}
	score := s.config.RiskWeight*riskScore + s.config.ComplexityWeight*complexityScore

	level, source, levelReason := s.classify(task, score, now)

	reasoning := []string{levelReason}
	reasoning = append(reasoning, fmt.Sprintf(
		"combined score %.1f = %.1f×risk %.1f + %.1f×complexity %.1f",
		score, s.config.RiskWeight, riskScore, s.config.ComplexityWeight, complexityScore,
	))
	if !riskKnown {
		reasoning = append(reasoning, "risk score unavailable, substituted 0.0")
	}
	if !complexityKnown {
		reasoning = append(reasoning, "complexity score unavailable, substituted 0.0")
	}

	return PriorityResult{
		Priority:  level,
		Source:    source,
		Score:     score,
		Reasoning: reasoning,
		Updated:   true,
	}
}

func (s *PriorityScorer) classify(task *domain.Task, score float64, now time.Time) (domain.Priority, domain.PrioritySource, string) {
	text := strings.ToLower(task.Title + " " + task.Description)
	for _, kw := range urgencyKeywords {
		if strings.Contains(text, kw) {
			return domain.PriorityUrgent, domain.SourceRule, fmt.Sprintf("urgency keyword %q present", kw)
		}
	}

	if task.DueDate != nil {
		until := task.DueDate.Sub(now)
		if until <= s.config.UrgentDueWithin {
			return domain.PriorityUrgent, domain.SourceRule, "deadline within 1 day"
		}
		if until <= s.config.HighDueWithin {
			return domain.PriorityHigh, domain.SourceRule, "deadline within 3 days"
		}
	}

	switch {
	case score >= s.config.UrgentScore:
		return domain.PriorityUrgent, domain.SourceAuto, fmt.Sprintf("combined score %.1f at or above %.0f", score, s.config.UrgentScore)
	case score >= s.config.HighScore:
		return domain.PriorityHigh, domain.SourceAuto, fmt.Sprintf("combined score %.1f at or above %.0f", score, s.config.HighScore)
	case score >= s.config.NormalScore:
		return domain.PriorityNormal, domain.SourceAuto, fmt.Sprintf("combined score %.1f at or above %.0f", score, s.config.NormalScore)
	default:
		return domain.PriorityLow, domain.SourceAuto, fmt.Sprintf("combined score %.1f below %.0f", score, s.config.NormalScore)
	}
}

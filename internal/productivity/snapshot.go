package productivity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/projectpulse/pulse/internal/clock"
	"github.com/projectpulse/pulse/internal/domain"
)

// trendThresholdPct is the score change (in percent) beyond which a
// snapshot is classified as trending up or down.
const trendThresholdPct = 5.0

// currentWindow is the rolling window behind the cached "current"
// productivity row.
const currentWindow = 30 * 24 * time.Hour

// Cache receives the current productivity row after each recompute.
// Implementations are best-effort; failures never fail the recompute.
type Cache interface {
	SetCurrent(ctx context.Context, m *domain.UserProductivityMetrics) error
}

// SnapshotService produces immutable, date-keyed productivity snapshots
// and keeps the mutable current metrics row up to date.
type SnapshotService struct {
	repo   domain.Repository
	scorer *Scorer
	cache  Cache
	clock  clock.Clock
	logger *slog.Logger
}

// NewSnapshotService creates a snapshot service. cache may be nil.
func NewSnapshotService(repo domain.Repository, scorer *Scorer, cache Cache, clk clock.Clock, logger *slog.Logger) *SnapshotService {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.System()
	}
	return &SnapshotService{repo: repo, scorer: scorer, cache: cache, clock: clk, logger: logger}
}

// RefreshCurrent recomputes the rolling-window productivity row for one
// user and upserts it.
func (s *SnapshotService) RefreshCurrent(ctx context.Context, userID uuid.UUID) (*domain.UserProductivityMetrics, error) {
	now := s.clock.Now()
	result, err := s.computeWindow(ctx, userID, now.Add(-currentWindow), now)
	if err != nil {
		return nil, err
	}

	metrics := &domain.UserProductivityMetrics{
		UserID:         userID,
		Score:          result.Score,
		CompletedTasks: result.CompletedTasks,
		TotalMinutes:   result.TotalMinutes,
		AvgComplexity:  result.AvgComplexity,
		TaskBreakdown:  result.TaskBreakdown,
		ComputedAt:     now,
	}
	if err := s.repo.UpsertProductivityMetrics(ctx, metrics); err != nil {
		return nil, fmt.Errorf("upsert productivity metrics for user %s: %w", userID, err)
	}

	if s.cache != nil {
		if err := s.cache.SetCurrent(ctx, metrics); err != nil {
			s.logger.Warn("productivity cache write failed", "user_id", userID, "error", err)
		}
	}
	return metrics, nil
}

// Snapshot computes and stores the snapshot for the given date and
// period type. Re-running for a date that already has a row is a no-op;
// the repository enforces uniqueness on (user, date, period type).
func (s *SnapshotService) Snapshot(ctx context.Context, userID uuid.UUID, date time.Time, periodType string) (*domain.ProductivitySnapshot, error) {
	from, to, err := periodBounds(date, periodType)
	if err != nil {
		return nil, err
	}

	result, err := s.computeWindow(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}

	trend, trendPct := s.classifyTrend(ctx, userID, periodType, date, result.Score)

	snapshot := &domain.ProductivitySnapshot{
		ID:             uuid.New(),
		UserID:         userID,
		SnapshotDate:   truncateDate(date),
		PeriodType:     periodType,
		Score:          result.Score,
		CompletedTasks: result.CompletedTasks,
		TotalMinutes:   result.TotalMinutes,
		AvgComplexity:  result.AvgComplexity,
		Trend:          trend,
		TrendPercent:   trendPct,
		CreatedAt:      s.clock.Now(),
	}
	if err := s.repo.InsertProductivitySnapshot(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("insert %s snapshot for user %s: %w", periodType, userID, err)
	}
	return snapshot, nil
}

func (s *SnapshotService) computeWindow(ctx context.Context, userID uuid.UUID, from, to time.Time) (Result, error) {
	tasks, err := s.repo.ListCompletedTasks(ctx, userID, from, to)
	if err != nil {
		return Result{}, fmt.Errorf("list completed tasks for user %s: %w", userID, err)
	}
	entries, err := s.repo.ListTimeEntries(ctx, userID, from, to)
	if err != nil {
		// No entries is a neutral default, not a failure.
		s.logger.Debug("time entry lookup failed, scoring without", "user_id", userID, "error", err)
		entries = nil
	}
	return s.scorer.Compute(tasks, entries), nil
}

// classifyTrend compares the new score against the prior stored
// snapshot of the same period type. No prior snapshot means stable with
// a 0% trend by definition.
func (s *SnapshotService) classifyTrend(ctx context.Context, userID uuid.UUID, periodType string, date time.Time, score float64) (domain.Trend, float64) {
	prior, err := s.repo.GetLatestSnapshot(ctx, userID, periodType, truncateDate(date))
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("prior snapshot lookup failed", "user_id", userID, "error", err)
		}
		return domain.TrendStable, 0
	}

	if prior.Score == 0 {
		if score > 0 {
			return domain.TrendUp, 100
		}
		return domain.TrendStable, 0
	}

	pct := (score - prior.Score) / prior.Score * 100
	switch {
	case pct > trendThresholdPct:
		return domain.TrendUp, pct
	case pct < -trendThresholdPct:
		return domain.TrendDown, pct
	default:
		return domain.TrendStable, pct
	}
}

func periodBounds(date time.Time, periodType string) (time.Time, time.Time, error) {
	day := truncateDate(date)
	switch periodType {
	case domain.PeriodDaily:
		return day, day.AddDate(0, 0, 1), nil
	case domain.PeriodWeekly:
		return day.AddDate(0, 0, -6), day.AddDate(0, 0, 1), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown period type %q", periodType)
	}
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

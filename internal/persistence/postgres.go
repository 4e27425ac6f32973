package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/projectpulse/pulse/internal/domain"
)

const taskColumns = `
	id, project_id, title, description, state, priority, priority_source,
	priority_score, priority_reasoning, complexity_score, complexity_factors,
	assignee_id, due_date, environment, weather_impact, estimated_hours,
	quality_rating, dependencies, started_at, completed_at, created_at, updated_at`

// Postgres implements domain.Repository on a pgx connection pool. All
// queries are hand-written; derived tables are written with upserts so
// recomputation is always idempotent.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a PostgreSQL-backed repository.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Ping verifies database connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT` + taskColumns + ` FROM tasks WHERE id = $1`
	t, err := scanTask(p.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (p *Postgres) ListActiveTasks(ctx context.Context) ([]*domain.Task, error) {
	query := `SELECT` + taskColumns + `
		FROM tasks
		WHERE state NOT IN ('done', 'cancelled')
		ORDER BY created_at, id`
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (p *Postgres) ListTasksByMinRisk(ctx context.Context, threshold float64) ([]*domain.Task, error) {
	query := `SELECT` + taskColumns + `
		FROM tasks t
		WHERE t.state NOT IN ('done', 'cancelled')
		  AND COALESCE((
			SELECT r.score FROM task_risks r
			WHERE r.task_id = t.id
			ORDER BY r.created_at DESC, r.id DESC
			LIMIT 1
		  ), 0) >= $1
		ORDER BY t.created_at, t.id`
	rows, err := p.pool.Query(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("list tasks by min risk: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (p *Postgres) ListDependencies(ctx context.Context, taskID uuid.UUID) ([]*domain.Task, error) {
	t, err := p.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if len(t.Dependencies) == 0 {
		return nil, nil
	}
	query := `SELECT` + taskColumns + ` FROM tasks WHERE id = ANY($1) ORDER BY created_at, id`
	rows, err := p.pool.Query(ctx, query, t.Dependencies)
	if err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (p *Postgres) CountRecentComments(ctx context.Context, taskID uuid.UUID, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM comments WHERE task_id = $1 AND created_at >= $2`
	if err := p.pool.QueryRow(ctx, query, taskID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count recent comments: %w", err)
	}
	return count, nil
}

func (p *Postgres) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `SELECT id, email, name, role, skills, created_at FROM users WHERE id = $1`
	u, err := scanUser(p.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (p *Postgres) ListUsers(ctx context.Context) ([]*domain.User, error) {
	query := `SELECT id, email, name, role, skills, created_at FROM users ORDER BY created_at, id`
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (p *Postgres) ListProjects(ctx context.Context) ([]*domain.Project, error) {
	query := `SELECT id, name, created_at FROM projects ORDER BY created_at, id`
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*domain.Project
	for rows.Next() {
		var pr domain.Project
		if err := rows.Scan(&pr.ID, &pr.Name, &pr.CreatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, &pr)
	}
	return projects, rows.Err()
}

func (p *Postgres) ListProjectTasks(ctx context.Context, projectID uuid.UUID) ([]*domain.Task, error) {
	query := `SELECT` + taskColumns + ` FROM tasks WHERE project_id = $1 ORDER BY created_at, id`
	rows, err := p.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (p *Postgres) GetLatestRisk(ctx context.Context, taskID uuid.UUID) (*domain.TaskRisk, error) {
	query := `
		SELECT id, task_id, score, level, components, factors, recommendations, created_at
		FROM task_risks
		WHERE task_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	var r domain.TaskRisk
	var components, factors, recommendations []byte
	err := p.pool.QueryRow(ctx, query, taskID).Scan(
		&r.ID, &r.TaskID, &r.Score, &r.Level,
		&components, &factors, &recommendations, &r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get latest risk: %w", err)
	}
	if err := unmarshalJSON(components, &r.Components); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(factors, &r.Factors); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(recommendations, &r.Recommendations); err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *Postgres) InsertRisk(ctx context.Context, risk *domain.TaskRisk) error {
	components, err := json.Marshal(risk.Components)
	if err != nil {
		return err
	}
	factors, err := json.Marshal(risk.Factors)
	if err != nil {
		return err
	}
	recommendations, err := json.Marshal(risk.Recommendations)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO task_risks (id, task_id, score, level, components, factors, recommendations, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = p.pool.Exec(ctx, query,
		risk.ID, risk.TaskID, risk.Score, risk.Level,
		components, factors, recommendations, risk.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert risk: %w", err)
	}
	return nil
}

func (p *Postgres) ListCompletedTasks(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]*domain.Task, error) {
	query := `SELECT` + taskColumns + `
		FROM tasks
		WHERE assignee_id = $1
		  AND state = 'done'
		  AND completed_at >= $2 AND completed_at < $3
		ORDER BY completed_at, id`
	rows, err := p.pool.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list completed tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (p *Postgres) ListTimeEntries(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]*domain.TimeEntry, error) {
	query := `
		SELECT id, task_id, user_id, minutes, logged_at
		FROM time_entries
		WHERE user_id = $1 AND logged_at >= $2 AND logged_at < $3
		ORDER BY logged_at, id`
	rows, err := p.pool.Query(ctx, query, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list time entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.TimeEntry
	for rows.Next() {
		var e domain.TimeEntry
		if err := rows.Scan(&e.ID, &e.TaskID, &e.UserID, &e.Minutes, &e.LoggedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (p *Postgres) UpdateTaskPriorityFields(ctx context.Context, id uuid.UUID, priority domain.Priority, source domain.PrioritySource, score float64, reasoning []string) error {
	reasons, err := json.Marshal(reasoning)
	if err != nil {
		return err
	}
	query := `
		UPDATE tasks
		SET priority = $2, priority_source = $3, priority_score = $4,
		    priority_reasoning = $5, updated_at = NOW()
		WHERE id = $1`
	tag, err := p.pool.Exec(ctx, query, id, priority.String(), string(source), score, reasons)
	if err != nil {
		return fmt.Errorf("update task priority: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (p *Postgres) UpdateTaskComplexity(ctx context.Context, id uuid.UUID, score float64, factors domain.ComplexityFactors) error {
	breakdown, err := json.Marshal(factors)
	if err != nil {
		return err
	}
	query := `
		UPDATE tasks
		SET complexity_score = $2, complexity_factors = $3, updated_at = NOW()
		WHERE id = $1`
	tag, err := p.pool.Exec(ctx, query, id, score, breakdown)
	if err != nil {
		return fmt.Errorf("update task complexity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (p *Postgres) UpsertTaskMetrics(ctx context.Context, m *domain.TaskMetrics) error {
	query := `
		INSERT INTO task_metrics (task_id, worked_minutes, idle_hours, comment_count, last_activity_at, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (task_id) DO UPDATE SET
			worked_minutes = EXCLUDED.worked_minutes,
			idle_hours = EXCLUDED.idle_hours,
			comment_count = EXCLUDED.comment_count,
			last_activity_at = EXCLUDED.last_activity_at,
			computed_at = EXCLUDED.computed_at`
	_, err := p.pool.Exec(ctx, query,
		m.TaskID, m.WorkedMinutes, m.IdleHours, m.CommentCount, m.LastActivityAt, m.ComputedAt)
	if err != nil {
		return fmt.Errorf("upsert task metrics: %w", err)
	}
	return nil
}

func (p *Postgres) UpsertProjectMetrics(ctx context.Context, m *domain.ProjectMetrics) error {
	query := `
		INSERT INTO project_metrics (project_id, total_tasks, completed_tasks, overdue_tasks,
			completion_rate, avg_complexity, avg_risk_score, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (project_id) DO UPDATE SET
			total_tasks = EXCLUDED.total_tasks,
			completed_tasks = EXCLUDED.completed_tasks,
			overdue_tasks = EXCLUDED.overdue_tasks,
			completion_rate = EXCLUDED.completion_rate,
			avg_complexity = EXCLUDED.avg_complexity,
			avg_risk_score = EXCLUDED.avg_risk_score,
			computed_at = EXCLUDED.computed_at`
	_, err := p.pool.Exec(ctx, query,
		m.ProjectID, m.TotalTasks, m.CompletedTasks, m.OverdueTasks,
		m.CompletionRate, m.AvgComplexity, m.AvgRiskScore, m.ComputedAt)
	if err != nil {
		return fmt.Errorf("upsert project metrics: %w", err)
	}
	return nil
}

func (p *Postgres) UpsertResourceMetrics(ctx context.Context, m *domain.ResourceMetrics) error {
	query := `
		INSERT INTO resource_metrics (user_id, project_id, assigned_tasks, completed_tasks,
			utilization, logged_minutes, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, project_id) DO UPDATE SET
			assigned_tasks = EXCLUDED.assigned_tasks,
			completed_tasks = EXCLUDED.completed_tasks,
			utilization = EXCLUDED.utilization,
			logged_minutes = EXCLUDED.logged_minutes,
			computed_at = EXCLUDED.computed_at`
	_, err := p.pool.Exec(ctx, query,
		m.UserID, m.ProjectID, m.AssignedTasks, m.CompletedTasks,
		m.Utilization, m.LoggedMinutes, m.ComputedAt)
	if err != nil {
		return fmt.Errorf("upsert resource metrics: %w", err)
	}
	return nil
}

func (p *Postgres) UpsertProductivityMetrics(ctx context.Context, m *domain.UserProductivityMetrics) error {
	breakdown, err := json.Marshal(m.TaskBreakdown)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO productivity_metrics (user_id, score, completed_tasks, total_minutes,
			avg_complexity, task_breakdown, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			score = EXCLUDED.score,
			completed_tasks = EXCLUDED.completed_tasks,
			total_minutes = EXCLUDED.total_minutes,
			avg_complexity = EXCLUDED.avg_complexity,
			task_breakdown = EXCLUDED.task_breakdown,
			computed_at = EXCLUDED.computed_at`
	_, err = p.pool.Exec(ctx, query,
		m.UserID, m.Score, m.CompletedTasks, m.TotalMinutes,
		m.AvgComplexity, breakdown, m.ComputedAt)
	if err != nil {
		return fmt.Errorf("upsert productivity metrics: %w", err)
	}
	return nil
}

func (p *Postgres) InsertProductivitySnapshot(ctx context.Context, s *domain.ProductivitySnapshot) error {
	query := `
		INSERT INTO productivity_snapshots (id, user_id, snapshot_date, period_type, score,
			completed_tasks, total_minutes, avg_complexity, trend, trend_percent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, snapshot_date, period_type) DO NOTHING`
	_, err := p.pool.Exec(ctx, query,
		s.ID, s.UserID, s.SnapshotDate, s.PeriodType, s.Score,
		s.CompletedTasks, s.TotalMinutes, s.AvgComplexity,
		string(s.Trend), s.TrendPercent, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert productivity snapshot: %w", err)
	}
	return nil
}

func (p *Postgres) GetLatestSnapshot(ctx context.Context, userID uuid.UUID, periodType string, before time.Time) (*domain.ProductivitySnapshot, error) {
	query := `
		SELECT id, user_id, snapshot_date, period_type, score, completed_tasks,
		       total_minutes, avg_complexity, trend, trend_percent, created_at
		FROM productivity_snapshots
		WHERE user_id = $1 AND period_type = $2 AND snapshot_date < $3
		ORDER BY snapshot_date DESC
		LIMIT 1`

	var s domain.ProductivitySnapshot
	var trend string
	err := p.pool.QueryRow(ctx, query, userID, periodType, before).Scan(
		&s.ID, &s.UserID, &s.SnapshotDate, &s.PeriodType, &s.Score,
		&s.CompletedTasks, &s.TotalMinutes, &s.AvgComplexity,
		&trend, &s.TrendPercent, &s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get latest snapshot: %w", err)
	}
	s.Trend = domain.Trend(trend)
	return &s, nil
}

// scanner covers both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*domain.Task, error) {
	var t domain.Task
	var description *string
	var state, priority, source, environment string
	var reasoning, factors, dependencies []byte

	err := row.Scan(
		&t.ID, &t.ProjectID, &t.Title, &description, &state, &priority, &source,
		&t.PriorityScore, &reasoning, &t.ComplexityScore, &factors,
		&t.AssigneeID, &t.DueDate, &environment, &t.WeatherImpact,
		&t.EstimatedHours, &t.QualityRating, &dependencies,
		&t.StartedAt, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if description != nil {
		t.Description = *description
	}
	t.State = domain.State(state)
	t.Environment = domain.Environment(environment)
	t.PrioritySource = domain.PrioritySource(source)
	if t.Priority, err = domain.ParsePriority(priority); err != nil {
		return nil, fmt.Errorf("task %s: %w", t.ID, err)
	}
	if err := unmarshalJSON(reasoning, &t.PriorityReasoning); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(factors, &t.ComplexityFactors); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(dependencies, &t.Dependencies); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTasks(rows pgx.Rows) ([]*domain.Task, error) {
	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanUser(row scanner) (*domain.User, error) {
	var u domain.User
	var skills []byte
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &skills, &u.CreatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(skills, &u.Skills); err != nil {
		return nil, err
	}
	return &u, nil
}

func unmarshalJSON(data []byte, dest any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dest)
}

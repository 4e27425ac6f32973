package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/projectpulse/pulse/internal/domain"
)

const sqliteTaskColumns = `
	id, project_id, title, description, state, priority, priority_source,
	priority_score, priority_reasoning, complexity_score, complexity_factors,
	assignee_id, due_date, environment, weather_impact, estimated_hours,
	quality_rating, dependencies, started_at, completed_at, created_at, updated_at`

// SQLite implements domain.Repository on a database/sql connection
// using the pure-Go sqlite driver. Used for local single-node
// deployments and as the repository under integration tests.
// Timestamps are stored as RFC3339 UTC strings, UUIDs as text.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and creates if needed) a SQLite database and runs
// migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The driver is not safe for concurrent writes over multiple conns.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := RunSQLiteMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

// NewSQLite wraps an existing connection. The schema must already be
// in place.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// DB exposes the underlying connection for seeding in tests.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `SELECT` + sqliteTaskColumns + ` FROM tasks WHERE id = ?`
	t, err := scanSQLiteTask(s.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *SQLite) ListActiveTasks(ctx context.Context) ([]*domain.Task, error) {
	query := `SELECT` + sqliteTaskColumns + `
		FROM tasks
		WHERE state NOT IN ('done', 'cancelled')
		ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}
	defer rows.Close()
	return scanSQLiteTasks(rows)
}

func (s *SQLite) ListTasksByMinRisk(ctx context.Context, threshold float64) ([]*domain.Task, error) {
	query := `SELECT` + sqliteTaskColumns + `
		FROM tasks t
		WHERE t.state NOT IN ('done', 'cancelled')
		  AND COALESCE((
			SELECT r.score FROM task_risks r
			WHERE r.task_id = t.id
			ORDER BY r.created_at DESC, r.rowid DESC
			LIMIT 1
		  ), 0) >= ?
		ORDER BY t.created_at, t.id`
	rows, err := s.db.QueryContext(ctx, query, threshold)
	if err != nil {
		return nil, fmt.Errorf("list tasks by min risk: %w", err)
	}
	defer rows.Close()
	return scanSQLiteTasks(rows)
}

func (s *SQLite) ListDependencies(ctx context.Context, taskID uuid.UUID) ([]*domain.Task, error) {
	t, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	var deps []*domain.Task
	for _, depID := range t.Dependencies {
		dep, err := s.GetTask(ctx, depID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

func (s *SQLite) CountRecentComments(ctx context.Context, taskID uuid.UUID, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM comments WHERE task_id = ? AND created_at >= ?`
	err := s.db.QueryRowContext(ctx, query, taskID.String(), fmtTime(since)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count recent comments: %w", err)
	}
	return count, nil
}

func (s *SQLite) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `SELECT id, email, name, role, skills, created_at FROM users WHERE id = ?`
	u, err := scanSQLiteUser(s.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *SQLite) ListUsers(ctx context.Context) ([]*domain.User, error) {
	query := `SELECT id, email, name, role, skills, created_at FROM users ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u, err := scanSQLiteUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLite) ListProjects(ctx context.Context) ([]*domain.Project, error) {
	query := `SELECT id, name, created_at FROM projects ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*domain.Project
	for rows.Next() {
		var p domain.Project
		var id, createdAt string
		if err := rows.Scan(&id, &p.Name, &createdAt); err != nil {
			return nil, err
		}
		if p.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

func (s *SQLite) ListProjectTasks(ctx context.Context, projectID uuid.UUID) ([]*domain.Task, error) {
	query := `SELECT` + sqliteTaskColumns + ` FROM tasks WHERE project_id = ? ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, query, projectID.String())
	if err != nil {
		return nil, fmt.Errorf("list project tasks: %w", err)
	}
	defer rows.Close()
	return scanSQLiteTasks(rows)
}

func (s *SQLite) GetLatestRisk(ctx context.Context, taskID uuid.UUID) (*domain.TaskRisk, error) {
	query := `
		SELECT id, task_id, score, level, components, factors, recommendations, created_at
		FROM task_risks
		WHERE task_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`

	var r domain.TaskRisk
	var id, tid, level, components, factors, recommendations, createdAt string
	err := s.db.QueryRowContext(ctx, query, taskID.String()).Scan(
		&id, &tid, &r.Score, &level, &components, &factors, &recommendations, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get latest risk: %w", err)
	}
	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if r.TaskID, err = uuid.Parse(tid); err != nil {
		return nil, err
	}
	r.Level = domain.RiskLevel(level)
	if err := json.Unmarshal([]byte(components), &r.Components); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(factors), &r.Factors); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(recommendations), &r.Recommendations); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLite) InsertRisk(ctx context.Context, risk *domain.TaskRisk) error {
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		risk.ID.String(), risk.TaskID.String(), risk.Score, string(risk.Level),
		string(components), string(factors), string(recommendations), fmtTime(risk.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert risk: %w", err)
	}
	return nil
}

func (s *SQLite) ListCompletedTasks(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]*domain.Task, error) {
	query := `SELECT` + sqliteTaskColumns + `
		FROM tasks
		WHERE assignee_id = ?
		  AND state = 'done'
		  AND completed_at >= ? AND completed_at < ?
		ORDER BY completed_at, id`
	rows, err := s.db.QueryContext(ctx, query, userID.String(), fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, fmt.Errorf("list completed tasks: %w", err)
	}
	defer rows.Close()
	return scanSQLiteTasks(rows)
}

func (s *SQLite) ListTimeEntries(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]*domain.TimeEntry, error) {
	query := `
		SELECT id, task_id, user_id, minutes, logged_at
		FROM time_entries
		WHERE user_id = ? AND logged_at >= ? AND logged_at < ?
		ORDER BY logged_at, id`
	rows, err := s.db.QueryContext(ctx, query, userID.String(), fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, fmt.Errorf("list time entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.TimeEntry
	for rows.Next() {
		var e domain.TimeEntry
		var id, taskID, uid, loggedAt string
		if err := rows.Scan(&id, &taskID, &uid, &e.Minutes, &loggedAt); err != nil {
			return nil, err
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if e.TaskID, err = uuid.Parse(taskID); err != nil {
			return nil, err
		}
		if e.UserID, err = uuid.Parse(uid); err != nil {
			return nil, err
		}
		if e.LoggedAt, err = parseTime(loggedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (s *SQLite) UpdateTaskPriorityFields(ctx context.Context, id uuid.UUID, priority domain.Priority, source domain.PrioritySource, score float64, reasoning []string) error {
	reasons, err := json.Marshal(reasoning)
	if err != nil {
		return err
	}
	query := `
		UPDATE tasks
		SET priority = ?, priority_source = ?, priority_score = ?,
		    priority_reasoning = ?, updated_at = ?
		WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query,
		priority.String(), string(source), score, string(reasons),
		fmtTime(time.Now()), id.String())
	if err != nil {
		return fmt.Errorf("update task priority: %w", err)
	}
	return requireAffected(result)
}

func (s *SQLite) UpdateTaskComplexity(ctx context.Context, id uuid.UUID, score float64, factors domain.ComplexityFactors) error {
	breakdown, err := json.Marshal(factors)
	if err != nil {
		return err
	}
	query := `
		UPDATE tasks
		SET complexity_score = ?, complexity_factors = ?, updated_at = ?
		WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query,
		score, string(breakdown), fmtTime(time.Now()), id.String())
	if err != nil {
		return fmt.Errorf("update task complexity: %w", err)
	}
	return requireAffected(result)
}

func (s *SQLite) UpsertTaskMetrics(ctx context.Context, m *domain.TaskMetrics) error {
	query := `
		INSERT INTO task_metrics (task_id, worked_minutes, idle_hours, comment_count, last_activity_at, computed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (task_id) DO UPDATE SET
			worked_minutes = excluded.worked_minutes,
			idle_hours = excluded.idle_hours,
			comment_count = excluded.comment_count,
			last_activity_at = excluded.last_activity_at,
			computed_at = excluded.computed_at`
	_, err := s.db.ExecContext(ctx, query,
		m.TaskID.String(), m.WorkedMinutes, m.IdleHours, m.CommentCount,
		fmtTimePtr(m.LastActivityAt), fmtTime(m.ComputedAt))
	if err != nil {
		return fmt.Errorf("upsert task metrics: %w", err)
	}
	return nil
}

func (s *SQLite) UpsertProjectMetrics(ctx context.Context, m *domain.ProjectMetrics) error {
	query := `
		INSERT INTO project_metrics (project_id, total_tasks, completed_tasks, overdue_tasks,
			completion_rate, avg_complexity, avg_risk_score, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id) DO UPDATE SET
			total_tasks = excluded.total_tasks,
			completed_tasks = excluded.completed_tasks,
			overdue_tasks = excluded.overdue_tasks,
			completion_rate = excluded.completion_rate,
			avg_complexity = excluded.avg_complexity,
			avg_risk_score = excluded.avg_risk_score,
			computed_at = excluded.computed_at`
	_, err := s.db.ExecContext(ctx, query,
		m.ProjectID.String(), m.TotalTasks, m.CompletedTasks, m.OverdueTasks,
		m.CompletionRate, m.AvgComplexity, m.AvgRiskScore, fmtTime(m.ComputedAt))
	if err != nil {
		return fmt.Errorf("upsert project metrics: %w", err)
	}
	return nil
}

func (s *SQLite) UpsertResourceMetrics(ctx context.Context, m *domain.ResourceMetrics) error {
	query := `
		INSERT INTO resource_metrics (user_id, project_id, assigned_tasks, completed_tasks,
			utilization, logged_minutes, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, project_id) DO UPDATE SET
			assigned_tasks = excluded.assigned_tasks,
			completed_tasks = excluded.completed_tasks,
			utilization = excluded.utilization,
			logged_minutes = excluded.logged_minutes,
			computed_at = excluded.computed_at`
	_, err := s.db.ExecContext(ctx, query,
		m.UserID.String(), m.ProjectID.String(), m.AssignedTasks, m.CompletedTasks,
		m.Utilization, m.LoggedMinutes, fmtTime(m.ComputedAt))
	if err != nil {
		return fmt.Errorf("upsert resource metrics: %w", err)
	}
	return nil
}

func (s *SQLite) UpsertProductivityMetrics(ctx context.Context, m *domain.UserProductivityMetrics) error {
	breakdown, err := json.Marshal(m.TaskBreakdown)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO productivity_metrics (user_id, score, completed_tasks, total_minutes,
			avg_complexity, task_breakdown, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			score = excluded.score,
			completed_tasks = excluded.completed_tasks,
			total_minutes = excluded.total_minutes,
			avg_complexity = excluded.avg_complexity,
			task_breakdown = excluded.task_breakdown,
			computed_at = excluded.computed_at`
	_, err = s.db.ExecContext(ctx, query,
		m.UserID.String(), m.Score, m.CompletedTasks, m.TotalMinutes,
		m.AvgComplexity, string(breakdown), fmtTime(m.ComputedAt))
	if err != nil {
		return fmt.Errorf("upsert productivity metrics: %w", err)
	}
	return nil
}

func (s *SQLite) InsertProductivitySnapshot(ctx context.Context, snap *domain.ProductivitySnapshot) error {
	query := `
		INSERT INTO productivity_snapshots (id, user_id, snapshot_date, period_type, score,
			completed_tasks, total_minutes, avg_complexity, trend, trend_percent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, snapshot_date, period_type) DO NOTHING`
	_, err := s.db.ExecContext(ctx, query,
		snap.ID.String(), snap.UserID.String(), fmtDate(snap.SnapshotDate), snap.PeriodType,
		snap.Score, snap.CompletedTasks, snap.TotalMinutes, snap.AvgComplexity,
		string(snap.Trend), snap.TrendPercent, fmtTime(snap.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert productivity snapshot: %w", err)
	}
	return nil
}

func (s *SQLite) GetLatestSnapshot(ctx context.Context, userID uuid.UUID, periodType string, before time.Time) (*domain.ProductivitySnapshot, error) {
	query := `
		SELECT id, user_id, snapshot_date, period_type, score, completed_tasks,
		       total_minutes, avg_complexity, trend, trend_percent, created_at
		FROM productivity_snapshots
		WHERE user_id = ? AND period_type = ? AND snapshot_date < ?
		ORDER BY snapshot_date DESC
		LIMIT 1`

	var snap domain.ProductivitySnapshot
	var id, uid, snapDate, trend, createdAt string
	err := s.db.QueryRowContext(ctx, query, userID.String(), periodType, fmtDate(before)).Scan(
		&id, &uid, &snapDate, &snap.PeriodType, &snap.Score, &snap.CompletedTasks,
		&snap.TotalMinutes, &snap.AvgComplexity, &trend, &snap.TrendPercent, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get latest snapshot: %w", err)
	}
	if snap.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if snap.UserID, err = uuid.Parse(uid); err != nil {
		return nil, err
	}
	if snap.SnapshotDate, err = parseDate(snapDate); err != nil {
		return nil, err
	}
	snap.Trend = domain.Trend(trend)
	if snap.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &snap, nil
}

func scanSQLiteTask(row scanner) (*domain.Task, error) {
	var t domain.Task
	var id, projectID, state, priority, source, environment string
	var description, assigneeID, dueDate, startedAt, completedAt sql.NullString
	var reasoning, factors, dependencies string
	var createdAt, updatedAt string

	err := row.Scan(
		&id, &projectID, &t.Title, &description, &state, &priority, &source,
		&t.PriorityScore, &reasoning, &t.ComplexityScore, &factors,
		&assigneeID, &dueDate, &environment, &t.WeatherImpact,
		&t.EstimatedHours, &t.QualityRating, &dependencies,
		&startedAt, &completedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if t.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if t.ProjectID, err = uuid.Parse(projectID); err != nil {
		return nil, err
	}
	if description.Valid {
		t.Description = description.String
	}
	t.State = domain.State(state)
	t.Environment = domain.Environment(environment)
	t.PrioritySource = domain.PrioritySource(source)
	if t.Priority, err = domain.ParsePriority(priority); err != nil {
		return nil, fmt.Errorf("task %s: %w", t.ID, err)
	}
	if assigneeID.Valid {
		parsed, err := uuid.Parse(assigneeID.String)
		if err != nil {
			return nil, err
		}
		t.AssigneeID = &parsed
	}
	if err := json.Unmarshal([]byte(reasoning), &t.PriorityReasoning); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(factors), &t.ComplexityFactors); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(dependencies), &t.Dependencies); err != nil {
		return nil, err
	}
	if t.DueDate, err = parseTimePtr(dueDate); err != nil {
		return nil, err
	}
	if t.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if t.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanSQLiteTasks(rows *sql.Rows) ([]*domain.Task, error) {
	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanSQLiteTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanSQLiteUser(row scanner) (*domain.User, error) {
	var u domain.User
	var id, skills, createdAt string
	if err := row.Scan(&id, &u.Email, &u.Name, &u.Role, &skills, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if u.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(skills), &u.Skills); err != nil {
		return nil, err
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// fmtTime normalizes to UTC RFC3339 so string comparison in SQL
// matches chronological order.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func fmtDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/projectpulse/pulse/internal/domain"
)

// Memory is an in-memory implementation of domain.Repository. It backs
// unit tests and throwaway local runs; production uses Postgres or
// SQLite.
type Memory struct {
	mu sync.RWMutex

	tasks     map[uuid.UUID]*domain.Task
	users     map[uuid.UUID]*domain.User
	projects  map[uuid.UUID]*domain.Project
	risks     map[uuid.UUID][]*domain.TaskRisk
	comments  map[uuid.UUID][]time.Time
	entries   map[uuid.UUID][]*domain.TimeEntry
	taskM     map[uuid.UUID]*domain.TaskMetrics
	projectM  map[uuid.UUID]*domain.ProjectMetrics
	resourceM map[string]*domain.ResourceMetrics
	prodM     map[uuid.UUID]*domain.UserProductivityMetrics
	snapshots map[string]*domain.ProductivitySnapshot
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		tasks:     make(map[uuid.UUID]*domain.Task),
		users:     make(map[uuid.UUID]*domain.User),
		projects:  make(map[uuid.UUID]*domain.Project),
		risks:     make(map[uuid.UUID][]*domain.TaskRisk),
		comments:  make(map[uuid.UUID][]time.Time),
		entries:   make(map[uuid.UUID][]*domain.TimeEntry),
		taskM:     make(map[uuid.UUID]*domain.TaskMetrics),
		projectM:  make(map[uuid.UUID]*domain.ProjectMetrics),
		resourceM: make(map[string]*domain.ResourceMetrics),
		prodM:     make(map[uuid.UUID]*domain.UserProductivityMetrics),
		snapshots: make(map[string]*domain.ProductivitySnapshot),
	}
}

// Seeding helpers.

// PutTask stores or replaces a task.
func (m *Memory) PutTask(t *domain.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
}

// PutUser stores or replaces a user.
func (m *Memory) PutUser(u *domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// PutProject stores or replaces a project.
func (m *Memory) PutProject(p *domain.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = p
}

// AddComment records comment activity on a task.
func (m *Memory) AddComment(taskID uuid.UUID, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comments[taskID] = append(m.comments[taskID], at)
}

// AddTimeEntry records a logged time entry.
func (m *Memory) AddTimeEntry(e *domain.TimeEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.UserID] = append(m.entries[e.UserID], e)
}

// ProductivityMetrics returns the current cached row for a user, if any.
func (m *Memory) ProductivityMetrics(userID uuid.UUID) *domain.UserProductivityMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prodM[userID]
}

// TaskMetrics returns the derived metrics row for a task, if any.
func (m *Memory) TaskMetrics(taskID uuid.UUID) *domain.TaskMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.taskM[taskID]
}

// ProjectMetricsRow returns the derived metrics row for a project, if any.
func (m *Memory) ProjectMetricsRow(projectID uuid.UUID) *domain.ProjectMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.projectM[projectID]
}

// ResourceMetricsRow returns the derived row for a (user, project)
// pair, if any.
func (m *Memory) ResourceMetricsRow(userID, projectID uuid.UUID) *domain.ResourceMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resourceM[userID.String()+"/"+projectID.String()]
}

// Snapshots returns all stored snapshots for a user, oldest first.
func (m *Memory) Snapshots(userID uuid.UUID) []*domain.ProductivitySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.ProductivitySnapshot
	for _, s := range m.snapshots {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SnapshotDate.Before(out[j].SnapshotDate) })
	return out
}

// Repository implementation.

func (m *Memory) GetTask(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return t, nil
}

func (m *Memory) ListActiveTasks(_ context.Context) ([]*domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Task
	for _, t := range m.tasks {
		if t.IsActive() {
			out = append(out, t)
		}
	}
	sortTasks(out)
	return out, nil
}

func (m *Memory) ListTasksByMinRisk(_ context.Context, threshold float64) ([]*domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Task
	for _, t := range m.tasks {
		if !t.IsActive() {
			continue
		}
		history := m.risks[t.ID]
		if len(history) == 0 {
			continue
		}
		if history[len(history)-1].Score >= threshold {
			out = append(out, t)
		}
	}
	sortTasks(out)
	return out, nil
}

func (m *Memory) ListDependencies(_ context.Context, taskID uuid.UUID) ([]*domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	var out []*domain.Task
	for _, depID := range t.Dependencies {
		if dep, ok := m.tasks[depID]; ok {
			out = append(out, dep)
		}
	}
	return out, nil
}

func (m *Memory) CountRecentComments(_ context.Context, taskID uuid.UUID, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var count int
	for _, at := range m.comments[taskID] {
		if !at.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *Memory) GetUser(_ context.Context, id uuid.UUID) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

func (m *Memory) ListUsers(_ context.Context) ([]*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (m *Memory) ListProjects(_ context.Context) ([]*domain.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Project, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (m *Memory) ListProjectTasks(_ context.Context, projectID uuid.UUID) ([]*domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Task
	for _, t := range m.tasks {
		if t.ProjectID == projectID {
			out = append(out, t)
		}
	}
	sortTasks(out)
	return out, nil
}

func (m *Memory) GetLatestRisk(_ context.Context, taskID uuid.UUID) (*domain.TaskRisk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := m.risks[taskID]
	if len(history) == 0 {
		return nil, domain.ErrNotFound
	}
	return history[len(history)-1], nil
}

func (m *Memory) InsertRisk(_ context.Context, risk *domain.TaskRisk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.risks[risk.TaskID] = append(m.risks[risk.TaskID], risk)
	return nil
}

func (m *Memory) RiskHistory(taskID uuid.UUID) []*domain.TaskRisk {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*domain.TaskRisk(nil), m.risks[taskID]...)
}

func (m *Memory) ListCompletedTasks(_ context.Context, userID uuid.UUID, from, to time.Time) ([]*domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Task
	for _, t := range m.tasks {
		if t.State != domain.StateDone || t.AssigneeID == nil || *t.AssigneeID != userID {
			continue
		}
		if t.CompletedAt == nil || t.CompletedAt.Before(from) || !t.CompletedAt.Before(to) {
			continue
		}
		out = append(out, t)
	}
	sortTasks(out)
	return out, nil
}

func (m *Memory) ListTimeEntries(_ context.Context, userID uuid.UUID, from, to time.Time) ([]*domain.TimeEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.TimeEntry
	for _, e := range m.entries[userID] {
		if e.LoggedAt.Before(from) || !e.LoggedAt.Before(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *Memory) UpdateTaskPriorityFields(_ context.Context, id uuid.UUID, priority domain.Priority, source domain.PrioritySource, score float64, reasoning []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Priority = priority
	t.PrioritySource = source
	t.PriorityScore = score
	t.PriorityReasoning = reasoning
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) UpdateTaskComplexity(_ context.Context, id uuid.UUID, score float64, factors domain.ComplexityFactors) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.ComplexityScore = score
	t.ComplexityFactors = factors
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) UpsertTaskMetrics(_ context.Context, tm *domain.TaskMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.taskM[tm.TaskID] = tm
	return nil
}

func (m *Memory) UpsertProjectMetrics(_ context.Context, pm *domain.ProjectMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projectM[pm.ProjectID] = pm
	return nil
}

func (m *Memory) UpsertResourceMetrics(_ context.Context, rm *domain.ResourceMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resourceM[rm.UserID.String()+"/"+rm.ProjectID.String()] = rm
	return nil
}

func (m *Memory) UpsertProductivityMetrics(_ context.Context, pm *domain.UserProductivityMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prodM[pm.UserID] = pm
	return nil
}

func (m *Memory) InsertProductivitySnapshot(_ context.Context, s *domain.ProductivitySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := snapshotKey(s.UserID, s.SnapshotDate, s.PeriodType)
	if _, exists := m.snapshots[key]; exists {
		return nil
	}
	m.snapshots[key] = s
	return nil
}

func (m *Memory) GetLatestSnapshot(_ context.Context, userID uuid.UUID, periodType string, before time.Time) (*domain.ProductivitySnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *domain.ProductivitySnapshot
	for _, s := range m.snapshots {
		if s.UserID != userID || s.PeriodType != periodType || !s.SnapshotDate.Before(before) {
			continue
		}
		if latest == nil || s.SnapshotDate.After(latest.SnapshotDate) {
			latest = s
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return latest, nil
}

func snapshotKey(userID uuid.UUID, date time.Time, periodType string) string {
	return userID.String() + "/" + date.UTC().Format("2006-01-02") + "/" + periodType
}

func sortTasks(tasks []*domain.Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID.String() < tasks[j].ID.String() })
}

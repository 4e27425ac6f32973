package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is a member of the workspace that tasks can be assigned to.
type User struct {
	ID        uuid.UUID
	Email     string
	Name      string
	Role      string
	Skills    []string
	CreatedAt time.Time
}

// Project groups tasks for rollup metrics.
type Project struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// TimeEntry is a logged slice of work on a task.
type TimeEntry struct {
	ID       uuid.UUID
	TaskID   uuid.UUID
	UserID   uuid.UUID
	Minutes  int
	LoggedAt time.Time
}

// Comment activity on a task; only counts are read by the engine.
type Comment struct {
	ID        uuid.UUID
	TaskID    uuid.UUID
	AuthorID  uuid.UUID
	CreatedAt time.Time
}

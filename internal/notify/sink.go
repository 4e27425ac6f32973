// Package notify delivers "priority changed significantly" events.
// Delivery is fire-and-forget: a failed notification is logged and
// never rolls back the score update that produced it.
package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// TypePriorityChange is the notification type for significant priority
// level moves.
const TypePriorityChange = "priority_change"

// Notification is one event addressed to a user.
type Notification struct {
	UserID        uuid.UUID `json:"user_id"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	Type          string    `json:"type"`
	ReferenceType string    `json:"reference_type"`
	ReferenceID   uuid.UUID `json:"reference_id"`
}

// Sink receives notifications for delivery.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
	Close() error
}

// NoopSink logs and drops notifications; used in development when no
// broker is available, and in tests.
type NoopSink struct {
	logger *slog.Logger
}

// NewNoopSink creates a sink that does nothing.
func NewNoopSink(logger *slog.Logger) *NoopSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopSink{logger: logger}
}

// Notify logs the notification but does not deliver it.
func (s *NoopSink) Notify(_ context.Context, n Notification) error {
	s.logger.Debug("noop notify",
		"user_id", n.UserID,
		"type", n.Type,
		"title", n.Title,
	)
	return nil
}

// Close is a no-op.
func (s *NoopSink) Close() error { return nil }

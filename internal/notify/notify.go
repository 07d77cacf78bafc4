// Package notify delivers best-effort notifications about offers and task
// status changes. Delivery never feeds back into engine state.
package notify

import (
	"context"
	"time"
)

const (
	TypeOffered       = "assignment.offered"
	TypeConfirmed     = "assignment.confirmed"
	TypeRejected      = "assignment.rejected"
	TypeExpired       = "assignment.expired"
	TypeStatusChanged = "task.status_changed"
)

type Notification struct {
	Type         string    `json:"type"`
	TaskID       string    `json:"task_id"`
	AssignmentID string    `json:"assignment_id,omitempty"`
	DesignerID   string    `json:"designer_id,omitempty"`
	Status       string    `json:"status,omitempty"`
	At           time.Time `json:"at"`
}

// Notifier is fire-and-forget: Notify must not block or report failure.
type Notifier interface {
	Notify(Notification)
}

type Nop struct{}

func (Nop) Notify(Notification) {}

// Sink is one delivery target behind a Dispatcher.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
}

package models

import "time"

type TaskStatus string

const (
	TaskAwaitingPayment TaskStatus = "AWAITING_PAYMENT"
	TaskPending         TaskStatus = "PENDING"
	TaskAssigned        TaskStatus = "ASSIGNED"
	TaskInProgress      TaskStatus = "IN_PROGRESS"
	TaskQAPending       TaskStatus = "QA_PENDING"
	TaskCompleted       TaskStatus = "COMPLETED"
	TaskComplaint       TaskStatus = "COMPLAINT"
	TaskCancelled       TaskStatus = "CANCELLED"
)

type Priority string

const (
	PriorityNormal  Priority = "NORMAL"
	PriorityExpress Priority = "EXPRESS"
	PriorityUrgent  Priority = "URGENT"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityNormal, PriorityExpress, PriorityUrgent:
		return true
	}
	return false
}

// Rank orders priorities for scheduling; higher goes first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 2
	case PriorityExpress:
		return 1
	}
	return 0
}

type Funding string

const (
	FundingCredits Funding = "CREDITS"
	FundingPayment Funding = "PAYMENT"
)

type Task struct {
	ID                  string     `db:"id"`
	OrderID             string     `db:"order_id"`
	CompanyID           string     `db:"company_id"`
	Status              TaskStatus `db:"status"`
	Priority            Priority   `db:"priority"`
	Funding             Funding    `db:"funding"`
	AssignedToID        *string    `db:"assigned_to_id"`
	CurrentAssignmentID *string    `db:"current_assignment_id"`
	ExcludedDesignerID  *string    `db:"excluded_designer_id"` // skipped by the next offer only
	AssignedAt          *time.Time `db:"assigned_at"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

// Clone returns a deep copy so callers never share pointer fields with a store.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.AssignedToID = cloneString(t.AssignedToID)
	c.CurrentAssignmentID = cloneString(t.CurrentAssignmentID)
	c.ExcludedDesignerID = cloneString(t.ExcludedDesignerID)
	c.AssignedAt = cloneTime(t.AssignedAt)
	return &c
}

type AssignmentStatus string

const (
	AssignmentPending   AssignmentStatus = "PENDING"
	AssignmentConfirmed AssignmentStatus = "CONFIRMED"
	AssignmentRejected  AssignmentStatus = "REJECTED"
	AssignmentExpired   AssignmentStatus = "EXPIRED"
)

// Active reports whether the assignment still holds the task's single offer slot.
func (s AssignmentStatus) Active() bool {
	return s == AssignmentPending || s == AssignmentConfirmed
}

type TaskAssignment struct {
	ID          string           `db:"id"`
	TaskID      string           `db:"task_id"`
	DesignerID  string           `db:"designer_id"`
	Status      AssignmentStatus `db:"status"`
	AssignedAt  time.Time        `db:"assigned_at"`
	ConfirmedAt *time.Time       `db:"confirmed_at"`
	RejectedAt  *time.Time       `db:"rejected_at"`
	ExpiredAt   *time.Time       `db:"expired_at"`
}

func (a *TaskAssignment) Clone() *TaskAssignment {
	if a == nil {
		return nil
	}
	c := *a
	c.ConfirmedAt = cloneTime(a.ConfirmedAt)
	c.RejectedAt = cloneTime(a.RejectedAt)
	c.ExpiredAt = cloneTime(a.ExpiredAt)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

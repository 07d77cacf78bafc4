// Package store defines the persistence contract used by the dispatch engine.
//
// Every mutating method is a single atomic unit guarded on the row's current
// status. A guard that no longer matches yields ErrConditionFailed and writes
// nothing, so concurrent callers resolve to exactly one winner.
package store

import (
	"context"
	"errors"
	"time"

	"designer-dispatch/internal/models"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrConditionFailed     = errors.New("condition failed")
	ErrActiveOffer         = errors.New("task already has an active offer")
	ErrAtCapacity          = errors.New("designer at capacity")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDesignerUnavailable = errors.New("designer unavailable")
)

// TaskTransition moves a task to To when its status is one of From.
type TaskTransition struct {
	TaskID     string
	From       []models.TaskStatus
	To         models.TaskStatus
	At         time.Time
	AssigneeID string // when set, the task must be assigned to this designer
}

// AssignmentTransition moves an assignment out of From.
type AssignmentTransition struct {
	AssignmentID  string
	From          models.AssignmentStatus
	To            models.AssignmentStatus
	At            time.Time
	DesignerID    string     // when set, must equal the assignment's designer
	OfferedAfter  *time.Time // when set, assigned_at must be >= this (offer still live)
	OfferedBefore *time.Time // when set, assigned_at must be < this (offer past deadline)
}

type OfferRequest struct {
	ID           string
	TaskID       string
	DesignerID   string
	At           time.Time
	Cap          int       // 0 disables the capacity guard
	OfferedAfter time.Time // PENDING offers older than this do not count towards Cap
}

type ReserveRequest struct {
	CompanyID string
	Amount    int
	At        time.Time
	TaskID    string // recorded on the debit rows when set
	Activate  bool   // also move TaskID from AWAITING_PAYMENT to PENDING
}

type Repository interface {
	Ping(ctx context.Context) error

	InsertTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	TransitionTask(ctx context.Context, tr TaskTransition) (*models.Task, error)
	// ListSchedulable returns PENDING tasks without a current offer, most urgent first.
	ListSchedulable(ctx context.Context, limit int) ([]*models.Task, error)

	GetAssignment(ctx context.Context, id string) (*models.TaskAssignment, error)
	ListAssignments(ctx context.Context, taskID string) ([]*models.TaskAssignment, error)
	CreateOffer(ctx context.Context, req OfferRequest) (*models.TaskAssignment, error)
	// ConfirmOffer confirms the assignment and assigns its task in one unit.
	ConfirmOffer(ctx context.Context, tr AssignmentTransition) (*models.TaskAssignment, *models.Task, error)
	// ReleaseOffer terminates the assignment, clears the task's offer pointer
	// and records the released designer as excluded from the next offer.
	// CreateOffer refuses that designer and drops the exclusion on success.
	ReleaseOffer(ctx context.Context, tr AssignmentTransition) (*models.TaskAssignment, error)
	// ClearExclusion drops the task's exclusion if it still names designerID.
	ClearExclusion(ctx context.Context, taskID, designerID string) error
	ListExpiredOffers(ctx context.Context, offeredBefore time.Time, limit int) ([]*models.TaskAssignment, error)

	ListAvailability(ctx context.Context, from, to time.Time) ([]models.AvailabilityWindow, error)
	DesignerLoads(ctx context.Context, designerIDs []string, offeredAfter time.Time) ([]models.DesignerLoad, error)

	ReserveCredits(ctx context.Context, req ReserveRequest) ([]models.CreditDebit, error)
	Balance(ctx context.Context, companyID string, at time.Time) (*models.CreditBalance, error)

	CountTasksByStatus(ctx context.Context) (map[models.TaskStatus]int64, error)
	CountAssignmentsByStatus(ctx context.Context) (map[models.AssignmentStatus]int64, error)
}

// Admin covers the reference data the engine reads but never writes.
type Admin interface {
	UpsertDesigner(ctx context.Context, d models.Designer) error
	AddAvailability(ctx context.Context, w models.AvailabilityWindow) (int64, error)
	UpsertCompany(ctx context.Context, c models.Company) error
	AddPackagePurchase(ctx context.Context, p models.PackagePurchase) error
}

func containsStatus(list []models.TaskStatus, s models.TaskStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// MatchesFrom reports whether status satisfies the transition's From set.
func (tr TaskTransition) MatchesFrom(status models.TaskStatus) bool {
	return containsStatus(tr.From, status)
}

// Matches evaluates the transition guard against an assignment snapshot.
func (tr AssignmentTransition) Matches(a *models.TaskAssignment) bool {
	if a.Status != tr.From {
		return false
	}
	if tr.DesignerID != "" && a.DesignerID != tr.DesignerID {
		return false
	}
	if tr.OfferedAfter != nil && a.AssignedAt.Before(*tr.OfferedAfter) {
		return false
	}
	if tr.OfferedBefore != nil && !a.AssignedAt.Before(*tr.OfferedBefore) {
		return false
	}
	return true
}

// Stamp applies the terminal status and its timestamp to a.
func (tr AssignmentTransition) Stamp(a *models.TaskAssignment) {
	at := tr.At
	a.Status = tr.To
	switch tr.To {
	case models.AssignmentConfirmed:
		a.ConfirmedAt = &at
	case models.AssignmentRejected:
		a.RejectedAt = &at
	case models.AssignmentExpired:
		a.ExpiredAt = &at
	}
}

package dispatch

import (
	"fmt"
	"slices"

	"designer-dispatch/internal/models"
)

// taskTransitions is the full set of legal task moves.
var taskTransitions = map[models.TaskStatus][]models.TaskStatus{
	models.TaskAwaitingPayment: {models.TaskPending, models.TaskCancelled},
	models.TaskPending:         {models.TaskAssigned, models.TaskCancelled},
	models.TaskAssigned:        {models.TaskInProgress, models.TaskCancelled},
	models.TaskInProgress:      {models.TaskQAPending, models.TaskCancelled},
	models.TaskQAPending:       {models.TaskCompleted, models.TaskInProgress, models.TaskCancelled},
	models.TaskCompleted:       {models.TaskComplaint},
}

func CanTransition(from, to models.TaskStatus) bool {
	return slices.Contains(taskTransitions[from], to)
}

// CanTransitionAssignment reports whether an offer may move from -> to.
// Only PENDING offers move, and only into a terminal status.
func CanTransitionAssignment(from, to models.AssignmentStatus) bool {
	if from != models.AssignmentPending {
		return false
	}
	switch to {
	case models.AssignmentConfirmed, models.AssignmentRejected, models.AssignmentExpired:
		return true
	}
	return false
}

// Cancellable lists the statuses a task may be cancelled from.
func Cancellable() []models.TaskStatus {
	var out []models.TaskStatus
	for from, tos := range taskTransitions {
		if slices.Contains(tos, models.TaskCancelled) {
			out = append(out, from)
		}
	}
	slices.Sort(out)
	return out
}

// workOp is a task move after confirmation, together with who may make it.
type workOp struct {
	name     string
	from     []models.TaskStatus
	to       models.TaskStatus
	roles    []models.Role
	assignee bool // designers must be the task's assignee
}

var (
	opStartWork = workOp{
		name: "start_work", from: []models.TaskStatus{models.TaskAssigned}, to: models.TaskInProgress,
		roles: []models.Role{models.RoleDesigner}, assignee: true,
	}
	opSubmitForQA = workOp{
		name: "submit_for_qa", from: []models.TaskStatus{models.TaskInProgress}, to: models.TaskQAPending,
		roles: []models.Role{models.RoleDesigner}, assignee: true,
	}
	opApproveQA = workOp{
		name: "approve_qa", from: []models.TaskStatus{models.TaskQAPending}, to: models.TaskCompleted,
		roles: []models.Role{models.RoleAdmin},
	}
	opRequestRework = workOp{
		name: "request_rework", from: []models.TaskStatus{models.TaskQAPending}, to: models.TaskInProgress,
		roles: []models.Role{models.RoleAdmin},
	}
	opRaiseComplaint = workOp{
		name: "raise_complaint", from: []models.TaskStatus{models.TaskCompleted}, to: models.TaskComplaint,
		roles: []models.Role{models.RoleAdmin, models.RoleClient},
	}
	opCancel = workOp{
		name: "cancel", from: Cancellable(), to: models.TaskCancelled,
		roles: []models.Role{models.RoleAdmin},
	}
	opConfirmPayment = workOp{
		name: "confirm_payment", from: []models.TaskStatus{models.TaskAwaitingPayment}, to: models.TaskPending,
		roles: []models.Role{models.RoleAdmin, models.RoleSystem},
	}
)

func (op workOp) authorize(caller models.Caller, task *models.Task) error {
	if !slices.Contains(op.roles, caller.Role) {
		return fmt.Errorf("%w: %s may not %s", ErrForbidden, caller.Role, op.name)
	}
	if op.assignee && caller.Role == models.RoleDesigner {
		if task.AssignedToID == nil || *task.AssignedToID != caller.ID {
			return fmt.Errorf("%w: task %s is not assigned to %s", ErrForbidden, task.ID, caller.ID)
		}
	}
	return nil
}

// check rejects a move the table does not allow from the observed status.
func (op workOp) check(task *models.Task) error {
	if slices.Contains(op.from, task.Status) {
		return nil
	}
	if slices.ContainsFunc(op.from, func(from models.TaskStatus) bool { return CanTransition(from, task.Status) }) {
		// The task already moved past op.from; someone else acted first.
		return fmt.Errorf("%w: task %s is %s", ErrStaleAction, task.ID, task.Status)
	}
	return fmt.Errorf("%w: %s from %s", ErrIllegalTransition, op.name, task.Status)
}

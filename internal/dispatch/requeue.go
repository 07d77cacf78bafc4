package dispatch

import (
	"context"

	"designer-dispatch/internal/models"
	"designer-dispatch/internal/store"
)

// AssignFunc creates the next offer for task, skipping the excluded designers.
type AssignFunc func(ctx context.Context, task *models.Task, exclude ...string) (*models.TaskAssignment, error)

// RequeueTrigger returns a released task to the pool and immediately tries
// the next designer. The releasing designer is excluded from that one
// attempt only; later sweeps consider everyone again. The store records the
// exclusion with the release, so a sweep that wins the race to re-offer the
// task skips that designer as well.
type RequeueTrigger struct {
	repo   store.Repository
	assign AssignFunc
}

// OnReleased returns the new offer, or nil with no error when the task is no
// longer schedulable (cancelled, or already re-offered by another caller).
func (r *RequeueTrigger) OnReleased(ctx context.Context, released *models.TaskAssignment) (*models.TaskAssignment, error) {
	task, err := r.repo.GetTask(ctx, released.TaskID)
	if err != nil {
		return nil, fromStore(err)
	}
	if task.Status != models.TaskPending || task.CurrentAssignmentID != nil {
		return nil, nil
	}
	return r.assign(ctx, task, released.DesignerID)
}

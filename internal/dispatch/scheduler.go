package dispatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"designer-dispatch/internal/models"
	"designer-dispatch/internal/store"
)

// Scheduler picks the next designer for a PENDING task and records the offer.
type Scheduler struct {
	repo   store.Repository
	clock  Clock
	window ConfirmationWindow
	cap    int
	newID  func() string
}

// Candidates returns the designers eligible for an offer at now, best first:
// fewest IN_PROGRESS tasks, then oldest account, then id.
func (s *Scheduler) Candidates(ctx context.Context, now time.Time, exclude ...string) ([]models.DesignerLoad, error) {
	windows, err := s.repo.ListAvailability(ctx, now, now.Add(time.Nanosecond))
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, w := range windows {
		if !w.Covers(now) || slices.Contains(exclude, w.DesignerID) || slices.Contains(ids, w.DesignerID) {
			continue
		}
		ids = append(ids, w.DesignerID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	loads, err := s.repo.DesignerLoads(ctx, ids, s.window.Cutoff(now))
	if err != nil {
		return nil, err
	}
	out := loads[:0]
	for _, l := range loads {
		if !l.Designer.Active {
			continue
		}
		if s.cap > 0 && l.OpenOffers >= s.cap {
			continue
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.InProgress != b.InProgress {
			return a.InProgress < b.InProgress
		}
		if !a.Designer.CreatedAt.Equal(b.Designer.CreatedAt) {
			return a.Designer.CreatedAt.Before(b.Designer.CreatedAt)
		}
		return a.Designer.ID < b.Designer.ID
	})
	return out, nil
}

// Assign offers task to the best candidate not in exclude. The designer who
// last released the task is skipped too, for this one attempt. The task's
// status is left alone; it stays PENDING until the designer confirms.
func (s *Scheduler) Assign(ctx context.Context, task *models.Task, exclude ...string) (*models.TaskAssignment, error) {
	if task.Status != models.TaskPending {
		return nil, fmt.Errorf("%w: task %s is %s", ErrIllegalTransition, task.ID, task.Status)
	}
	if task.CurrentAssignmentID != nil {
		return nil, fmt.Errorf("%w: task %s already has offer %s", ErrStaleAction, task.ID, *task.CurrentAssignmentID)
	}
	if task.ExcludedDesignerID != nil {
		exclude = append(slices.Clip(exclude), *task.ExcludedDesignerID)
	}

	now := s.clock.Now()
	candidates, err := s.Candidates(ctx, now, exclude...)
	if err != nil {
		return nil, err
	}
	cutoff := s.window.Cutoff(now)
	for _, c := range candidates {
		a, err := s.repo.CreateOffer(ctx, store.OfferRequest{
			ID:           s.newID(),
			TaskID:       task.ID,
			DesignerID:   c.Designer.ID,
			At:           now,
			Cap:          s.cap,
			OfferedAfter: cutoff,
		})
		switch {
		case err == nil:
			return a, nil
		case errors.Is(err, store.ErrAtCapacity), errors.Is(err, store.ErrDesignerUnavailable):
			// Filled up or deactivated since the candidate list was read.
			continue
		default:
			return nil, fromStore(err)
		}
	}
	if task.ExcludedDesignerID != nil {
		// The attempt is spent; later passes consider everyone again.
		if err := s.repo.ClearExclusion(ctx, task.ID, *task.ExcludedDesignerID); err != nil {
			return nil, fromStore(err)
		}
	}
	return nil, fmt.Errorf("%w: task %s", ErrNoDesignerAvailable, task.ID)
}

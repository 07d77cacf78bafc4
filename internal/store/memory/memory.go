// Package memory is an in-process store.Repository. A single mutex makes every
// method one atomic unit, mirroring the guarded statements of the postgres store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"designer-dispatch/internal/models"
	"designer-dispatch/internal/store"
)

type Store struct {
	mu sync.Mutex

	tasks        map[string]*models.Task
	assignments  map[string]*models.TaskAssignment
	designers    map[string]models.Designer
	availability []models.AvailabilityWindow
	companies    map[string]models.Company
	purchases    map[string]*models.PackagePurchase
	debits       []models.CreditDebit

	nextWindowID int64
	nextDebitID  int64
}

func New() *Store {
	return &Store{
		tasks:       map[string]*models.Task{},
		assignments: map[string]*models.TaskAssignment{},
		designers:   map[string]models.Designer{},
		companies:   map[string]models.Company{},
		purchases:   map[string]*models.PackagePurchase{},
	}
}

var (
	_ store.Repository = (*Store)(nil)
	_ store.Admin      = (*Store)(nil)
)

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) InsertTask(ctx context.Context, t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	s.tasks[t.ID] = t.Clone()
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, store.ErrNotFound)
	}
	return t.Clone(), nil
}

func (s *Store) TransitionTask(ctx context.Context, tr store.TaskTransition) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[tr.TaskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", tr.TaskID, store.ErrNotFound)
	}
	if !tr.MatchesFrom(t.Status) {
		return nil, store.ErrConditionFailed
	}
	if tr.AssigneeID != "" && (t.AssignedToID == nil || *t.AssignedToID != tr.AssigneeID) {
		return nil, store.ErrConditionFailed
	}
	t.Status = tr.To
	t.UpdatedAt = tr.At
	return t.Clone(), nil
}

func (s *Store) ListSchedulable(ctx context.Context, limit int) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Task
	for _, t := range s.tasks {
		if t.Status == models.TaskPending && t.CurrentAssignmentID == nil {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() > out[j].Priority.Rank()
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetAssignment(ctx context.Context, id string) (*models.TaskAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[id]
	if !ok {
		return nil, fmt.Errorf("assignment %s: %w", id, store.ErrNotFound)
	}
	return a.Clone(), nil
}

func (s *Store) ListAssignments(ctx context.Context, taskID string) ([]*models.TaskAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.TaskAssignment
	for _, a := range s.assignments {
		if a.TaskID == taskID {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AssignedAt.Equal(out[j].AssignedAt) {
			return out[i].AssignedAt.Before(out[j].AssignedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) CreateOffer(ctx context.Context, req store.OfferRequest) (*models.TaskAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[req.TaskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", req.TaskID, store.ErrNotFound)
	}
	if t.Status != models.TaskPending {
		return nil, store.ErrConditionFailed
	}
	if t.CurrentAssignmentID != nil || s.hasActiveLocked(req.TaskID) {
		return nil, store.ErrActiveOffer
	}
	d, ok := s.designers[req.DesignerID]
	if !ok || !d.Active {
		return nil, fmt.Errorf("designer %s: %w", req.DesignerID, store.ErrDesignerUnavailable)
	}
	if t.ExcludedDesignerID != nil && *t.ExcludedDesignerID == req.DesignerID {
		return nil, fmt.Errorf("designer %s just released task %s: %w", req.DesignerID, req.TaskID, store.ErrDesignerUnavailable)
	}
	if req.Cap > 0 {
		open, _ := s.loadLocked(req.DesignerID, req.OfferedAfter)
		if open >= req.Cap {
			return nil, store.ErrAtCapacity
		}
	}

	a := &models.TaskAssignment{
		ID:         req.ID,
		TaskID:     req.TaskID,
		DesignerID: req.DesignerID,
		Status:     models.AssignmentPending,
		AssignedAt: req.At,
	}
	s.assignments[a.ID] = a
	id := a.ID
	t.CurrentAssignmentID = &id
	t.ExcludedDesignerID = nil
	t.UpdatedAt = req.At
	return a.Clone(), nil
}

func (s *Store) ConfirmOffer(ctx context.Context, tr store.AssignmentTransition) (*models.TaskAssignment, *models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[tr.AssignmentID]
	if !ok {
		return nil, nil, fmt.Errorf("assignment %s: %w", tr.AssignmentID, store.ErrNotFound)
	}
	if !tr.Matches(a) {
		return nil, nil, store.ErrConditionFailed
	}
	t, ok := s.tasks[a.TaskID]
	if !ok {
		return nil, nil, fmt.Errorf("task %s: %w", a.TaskID, store.ErrNotFound)
	}
	if t.Status != models.TaskPending || t.CurrentAssignmentID == nil || *t.CurrentAssignmentID != a.ID {
		return nil, nil, store.ErrConditionFailed
	}

	tr.Stamp(a)
	designer := a.DesignerID
	at := tr.At
	t.Status = models.TaskAssigned
	t.AssignedToID = &designer
	t.AssignedAt = &at
	t.UpdatedAt = at
	return a.Clone(), t.Clone(), nil
}

func (s *Store) ReleaseOffer(ctx context.Context, tr store.AssignmentTransition) (*models.TaskAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[tr.AssignmentID]
	if !ok {
		return nil, fmt.Errorf("assignment %s: %w", tr.AssignmentID, store.ErrNotFound)
	}
	if !tr.Matches(a) {
		return nil, store.ErrConditionFailed
	}
	tr.Stamp(a)
	if t, ok := s.tasks[a.TaskID]; ok && t.CurrentAssignmentID != nil && *t.CurrentAssignmentID == a.ID {
		designer := a.DesignerID
		t.CurrentAssignmentID = nil
		t.ExcludedDesignerID = &designer
		t.UpdatedAt = tr.At
	}
	return a.Clone(), nil
}

func (s *Store) ClearExclusion(ctx context.Context, taskID, designerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, store.ErrNotFound)
	}
	if t.ExcludedDesignerID != nil && *t.ExcludedDesignerID == designerID {
		t.ExcludedDesignerID = nil
	}
	return nil
}

func (s *Store) ListExpiredOffers(ctx context.Context, offeredBefore time.Time, limit int) ([]*models.TaskAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.TaskAssignment
	for _, a := range s.assignments {
		if a.Status == models.AssignmentPending && a.AssignedAt.Before(offeredBefore) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AssignedAt.Equal(out[j].AssignedAt) {
			return out[i].AssignedAt.Before(out[j].AssignedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListAvailability(ctx context.Context, from, to time.Time) ([]models.AvailabilityWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AvailabilityWindow
	for _, w := range s.availability {
		if w.StartsAt.Before(to) && w.EndsAt.After(from) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *Store) DesignerLoads(ctx context.Context, designerIDs []string, offeredAfter time.Time) ([]models.DesignerLoad, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	var out []models.DesignerLoad
	for _, id := range designerIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		d, ok := s.designers[id]
		if !ok || !d.Active {
			continue
		}
		open, inProgress := s.loadLocked(id, offeredAfter)
		out = append(out, models.DesignerLoad{Designer: d, OpenOffers: open, InProgress: inProgress})
	}
	return out, nil
}

func (s *Store) ReserveCredits(ctx context.Context, req store.ReserveRequest) ([]models.CreditDebit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[req.CompanyID]
	if !ok {
		return nil, fmt.Errorf("company %s: %w", req.CompanyID, store.ErrNotFound)
	}

	var task *models.Task
	if req.Activate {
		task, ok = s.tasks[req.TaskID]
		if !ok {
			return nil, fmt.Errorf("task %s: %w", req.TaskID, store.ErrNotFound)
		}
		if task.Status != models.TaskAwaitingPayment {
			return nil, store.ErrConditionFailed
		}
	}

	purchases := make([]models.PackagePurchase, 0)
	for _, p := range s.purchases {
		if p.CompanyID == req.CompanyID {
			purchases = append(purchases, *p)
		}
	}
	debits, err := store.PlanDebits(req.CompanyID, purchases, c.FreeCredits, req.Amount, req.At)
	if err != nil {
		return nil, err
	}

	for i := range debits {
		d := &debits[i]
		if d.Source == models.SourcePackage {
			s.purchases[*d.PackagePurchaseID].CreditsLeft -= d.Amount
		} else {
			c.FreeCredits -= d.Amount
		}
		s.nextDebitID++
		d.ID = s.nextDebitID
		if req.TaskID != "" {
			taskID := req.TaskID
			d.TaskID = &taskID
		}
		s.debits = append(s.debits, *d)
	}
	s.companies[req.CompanyID] = c
	if task != nil {
		task.Status = models.TaskPending
		task.UpdatedAt = req.At
	}
	return debits, nil
}

func (s *Store) Balance(ctx context.Context, companyID string, at time.Time) (*models.CreditBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[companyID]
	if !ok {
		return nil, fmt.Errorf("company %s: %w", companyID, store.ErrNotFound)
	}
	var purchases []models.PackagePurchase
	for _, p := range s.purchases {
		if p.CompanyID == companyID {
			purchases = append(purchases, *p)
		}
	}
	return store.SumBalance(companyID, c.FreeCredits, purchases, at), nil
}

func (s *Store) CountTasksByStatus(ctx context.Context) (map[models.TaskStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[models.TaskStatus]int64{}
	for _, t := range s.tasks {
		out[t.Status]++
	}
	return out, nil
}

func (s *Store) CountAssignmentsByStatus(ctx context.Context) (map[models.AssignmentStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[models.AssignmentStatus]int64{}
	for _, a := range s.assignments {
		out[a.Status]++
	}
	return out, nil
}

// Debits returns a copy of the ledger rows written so far.
func (s *Store) Debits() []models.CreditDebit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.CreditDebit(nil), s.debits...)
}

func (s *Store) hasActiveLocked(taskID string) bool {
	for _, a := range s.assignments {
		if a.TaskID == taskID && a.Status.Active() {
			return true
		}
	}
	return false
}

func (s *Store) loadLocked(designerID string, offeredAfter time.Time) (open int, inProgress int) {
	for _, a := range s.assignments {
		if a.DesignerID != designerID {
			continue
		}
		switch a.Status {
		case models.AssignmentPending:
			if !a.AssignedAt.Before(offeredAfter) {
				open++
			}
		case models.AssignmentConfirmed:
			if t, ok := s.tasks[a.TaskID]; ok && unfinished(t.Status) {
				open++
			}
		}
	}
	for _, t := range s.tasks {
		if t.Status == models.TaskInProgress && t.AssignedToID != nil && *t.AssignedToID == designerID {
			inProgress++
		}
	}
	return open, inProgress
}

func unfinished(s models.TaskStatus) bool {
	return s == models.TaskAssigned || s == models.TaskInProgress || s == models.TaskQAPending
}

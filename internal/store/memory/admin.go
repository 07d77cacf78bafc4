package memory

import (
	"context"
	"fmt"

	"designer-dispatch/internal/models"
)

func (s *Store) UpsertDesigner(ctx context.Context, d models.Designer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.designers[d.ID] = d
	return nil
}

func (s *Store) AddAvailability(ctx context.Context, w models.AvailabilityWindow) (int64, error) {
	if !w.EndsAt.After(w.StartsAt) {
		return 0, fmt.Errorf("availability window must end after it starts")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextWindowID++
	w.ID = s.nextWindowID
	s.availability = append(s.availability, w)
	return w.ID, nil
}

func (s *Store) UpsertCompany(ctx context.Context, c models.Company) error {
	if c.FreeCredits < 0 {
		return fmt.Errorf("free credits must be >= 0")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.companies[c.ID] = c
	return nil
}

func (s *Store) AddPackagePurchase(ctx context.Context, p models.PackagePurchase) error {
	if p.CreditsLeft < 0 || p.CreditsLeft > p.CreditsTotal {
		return fmt.Errorf("credits left must be within [0, credits total]")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.purchases[p.ID]; ok {
		return fmt.Errorf("package purchase %s already exists", p.ID)
	}
	cp := p
	s.purchases[p.ID] = &cp
	return nil
}

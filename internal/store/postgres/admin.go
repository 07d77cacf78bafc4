package postgres

import (
	"context"
	"fmt"

	"designer-dispatch/internal/models"
)

func (s *Store) UpsertDesigner(ctx context.Context, d models.Designer) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO designers (id, display_name, active, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, active = EXCLUDED.active
	`, d.ID, d.DisplayName, d.Active, d.CreatedAt)
	return err
}

func (s *Store) AddAvailability(ctx context.Context, w models.AvailabilityWindow) (int64, error) {
	if !w.EndsAt.After(w.StartsAt) {
		return 0, fmt.Errorf("availability window must end after it starts")
	}
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO designer_availability (designer_id, starts_at, ends_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, w.DesignerID, w.StartsAt, w.EndsAt).Scan(&id)
	return id, err
}

func (s *Store) UpsertCompany(ctx context.Context, c models.Company) error {
	if c.FreeCredits < 0 {
		return fmt.Errorf("free credits must be >= 0")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO companies (id, name, free_credits)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, free_credits = EXCLUDED.free_credits
	`, c.ID, c.Name, c.FreeCredits)
	return err
}

func (s *Store) AddPackagePurchase(ctx context.Context, p models.PackagePurchase) error {
	if p.CreditsLeft < 0 || p.CreditsLeft > p.CreditsTotal {
		return fmt.Errorf("credits left must be within [0, credits total]")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO package_purchases (id, company_id, credits_total, credits_left, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.CompanyID, p.CreditsTotal, p.CreditsLeft, p.ExpiresAt, p.CreatedAt)
	return err
}

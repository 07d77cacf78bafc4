package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"designer-dispatch/internal/models"
	"designer-dispatch/internal/store"
)

func (s *Store) CreateOffer(ctx context.Context, req store.OfferRequest) (*models.TaskAssignment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var status string
	var current, excluded *string
	err = tx.QueryRow(ctx, `SELECT status, current_assignment_id, excluded_designer_id FROM tasks WHERE id = $1 FOR UPDATE`, req.TaskID).
		Scan(&status, &current, &excluded)
	if err != nil {
		return nil, notFound("task", req.TaskID, err)
	}
	if models.TaskStatus(status) != models.TaskPending {
		return nil, store.ErrConditionFailed
	}
	if current != nil {
		return nil, store.ErrActiveOffer
	}
	if excluded != nil && *excluded == req.DesignerID {
		return nil, fmt.Errorf("designer %s just released task %s: %w", req.DesignerID, req.TaskID, store.ErrDesignerUnavailable)
	}

	// Locking the designer row serialises concurrent offers to the same
	// designer so the capacity count below cannot be raced.
	var active bool
	err = tx.QueryRow(ctx, `SELECT active FROM designers WHERE id = $1 FOR UPDATE`, req.DesignerID).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && !active) {
		return nil, fmt.Errorf("designer %s: %w", req.DesignerID, store.ErrDesignerUnavailable)
	}
	if err != nil {
		return nil, err
	}

	if req.Cap > 0 {
		var open int
		err = tx.QueryRow(ctx, `
			SELECT
				(SELECT COUNT(*) FROM task_assignments a
				  WHERE a.designer_id = $1 AND a.status = 'PENDING' AND a.assigned_at >= $2)
				+ (SELECT COUNT(*) FROM task_assignments a JOIN tasks t ON t.id = a.task_id
				  WHERE a.designer_id = $1 AND a.status = 'CONFIRMED' AND t.status IN `+unfinishedStatuses+`)
		`, req.DesignerID, req.OfferedAfter).Scan(&open)
		if err != nil {
			return nil, err
		}
		if open >= req.Cap {
			return nil, store.ErrAtCapacity
		}
	}

	a, err := scanAssignment(tx.QueryRow(ctx, `
		INSERT INTO task_assignments (id, task_id, designer_id, status, assigned_at)
		VALUES ($1, $2, $3, 'PENDING', $4)
		RETURNING `+assignmentColumns,
		req.ID, req.TaskID, req.DesignerID, req.At,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrActiveOffer
		}
		return nil, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET current_assignment_id = $2, excluded_designer_id = NULL, updated_at = $3
		WHERE id = $1 AND status = 'PENDING' AND current_assignment_id IS NULL
	`, req.TaskID, req.ID, req.At)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, store.ErrActiveOffer
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// stampColumn names the timestamp written alongside a terminal status.
func stampColumn(to models.AssignmentStatus) (string, error) {
	switch to {
	case models.AssignmentConfirmed:
		return "confirmed_at", nil
	case models.AssignmentRejected:
		return "rejected_at", nil
	case models.AssignmentExpired:
		return "expired_at", nil
	default:
		return "", fmt.Errorf("no terminal timestamp for status %q", to)
	}
}

// transitionAssignment runs the guarded UPDATE. No row back means the
// assignment is missing or the guard no longer holds.
func transitionAssignment(ctx context.Context, tx pgx.Tx, tr store.AssignmentTransition) (*models.TaskAssignment, error) {
	col, err := stampColumn(tr.To)
	if err != nil {
		return nil, err
	}
	a, err := scanAssignment(tx.QueryRow(ctx, `
		UPDATE task_assignments
		SET status = $2, `+col+` = $3
		WHERE id = $1
		  AND status = $4
		  AND ($5::text = '' OR designer_id = $5)
		  AND ($6::timestamptz IS NULL OR assigned_at >= $6)
		  AND ($7::timestamptz IS NULL OR assigned_at < $7)
		RETURNING `+assignmentColumns,
		tr.AssignmentID, string(tr.To), tr.At, string(tr.From), tr.DesignerID, tr.OfferedAfter, tr.OfferedBefore,
	))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM task_assignments WHERE id = $1)`, tr.AssignmentID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("assignment %s: %w", tr.AssignmentID, store.ErrNotFound)
	}
	return nil, store.ErrConditionFailed
}

func (s *Store) ConfirmOffer(ctx context.Context, tr store.AssignmentTransition) (*models.TaskAssignment, *models.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	a, err := transitionAssignment(ctx, tx, tr)
	if err != nil {
		return nil, nil, err
	}

	t, err := scanTask(tx.QueryRow(ctx, `
		UPDATE tasks
		SET status = 'ASSIGNED', assigned_to_id = $2, assigned_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'PENDING' AND current_assignment_id = $4
		RETURNING `+taskColumns,
		a.TaskID, a.DesignerID, tr.At, a.ID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, store.ErrConditionFailed
		}
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return a, t, nil
}

func (s *Store) ReleaseOffer(ctx context.Context, tr store.AssignmentTransition) (*models.TaskAssignment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	a, err := transitionAssignment(ctx, tx, tr)
	if err != nil {
		return nil, err
	}
	// Released and excluded in the same commit.
	if _, err := tx.Exec(ctx, `
		UPDATE tasks SET current_assignment_id = NULL, excluded_designer_id = $4, updated_at = $3
		WHERE id = $1 AND current_assignment_id = $2
	`, a.TaskID, a.ID, tr.At, a.DesignerID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) ClearExclusion(ctx context.Context, taskID, designerID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET excluded_designer_id = NULL
		WHERE id = $1 AND excluded_designer_id = $2
	`, taskID, designerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetTask(ctx, taskID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ReserveCredits(ctx context.Context, req store.ReserveRequest) ([]models.CreditDebit, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Lock order: task, company, purchases.
	if req.Activate {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM tasks WHERE id = $1 FOR UPDATE`, req.TaskID).Scan(&status)
		if err != nil {
			return nil, notFound("task", req.TaskID, err)
		}
		if models.TaskStatus(status) != models.TaskAwaitingPayment {
			return nil, store.ErrConditionFailed
		}
	}

	var free int
	err = tx.QueryRow(ctx, `SELECT free_credits FROM companies WHERE id = $1 FOR UPDATE`, req.CompanyID).Scan(&free)
	if err != nil {
		return nil, notFound("company", req.CompanyID, err)
	}

	purchases, err := lockPurchases(ctx, tx, req.CompanyID, req.At)
	if err != nil {
		return nil, err
	}
	debits, err := store.PlanDebits(req.CompanyID, purchases, free, req.Amount, req.At)
	if err != nil {
		return nil, err
	}

	var taskID *string
	if req.TaskID != "" {
		id := req.TaskID
		taskID = &id
	}
	for i := range debits {
		d := &debits[i]
		var tagRows int64
		if d.Source == models.SourcePackage {
			tag, err := tx.Exec(ctx, `
				UPDATE package_purchases SET credits_left = credits_left - $2
				WHERE id = $1 AND credits_left >= $2
			`, *d.PackagePurchaseID, d.Amount)
			if err != nil {
				return nil, err
			}
			tagRows = tag.RowsAffected()
		} else {
			tag, err := tx.Exec(ctx, `
				UPDATE companies SET free_credits = free_credits - $2
				WHERE id = $1 AND free_credits >= $2
			`, req.CompanyID, d.Amount)
			if err != nil {
				return nil, err
			}
			tagRows = tag.RowsAffected()
		}
		if tagRows == 0 {
			return nil, store.ErrInsufficientBalance
		}

		d.TaskID = taskID
		err = tx.QueryRow(ctx, `
			INSERT INTO credit_debits (company_id, task_id, source, package_purchase_id, amount, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, d.CompanyID, d.TaskID, string(d.Source), d.PackagePurchaseID, d.Amount, d.CreatedAt).Scan(&d.ID)
		if err != nil {
			return nil, err
		}
	}

	if req.Activate {
		tag, err := tx.Exec(ctx, `
			UPDATE tasks SET status = 'PENDING', updated_at = $2
			WHERE id = $1 AND status = 'AWAITING_PAYMENT'
		`, req.TaskID, req.At)
		if err != nil {
			return nil, err
		}
		if tag.RowsAffected() == 0 {
			return nil, store.ErrConditionFailed
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return debits, nil
}

func lockPurchases(ctx context.Context, tx pgx.Tx, companyID string, at time.Time) ([]models.PackagePurchase, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, company_id, credits_total, credits_left, expires_at, created_at
		FROM package_purchases
		WHERE company_id = $1 AND credits_left > 0 AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY created_at ASC, id ASC
		FOR UPDATE
	`, companyID, at)
	if err != nil {
		return nil, err
	}
	return collectPurchases(rows)
}

func collectPurchases(rows pgx.Rows) ([]models.PackagePurchase, error) {
	defer rows.Close()
	var out []models.PackagePurchase
	for rows.Next() {
		var p models.PackagePurchase
		if err := rows.Scan(&p.ID, &p.CompanyID, &p.CreditsTotal, &p.CreditsLeft, &p.ExpiresAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) Balance(ctx context.Context, companyID string, at time.Time) (*models.CreditBalance, error) {
	var free int
	err := s.pool.QueryRow(ctx, `SELECT free_credits FROM companies WHERE id = $1`, companyID).Scan(&free)
	if err != nil {
		return nil, notFound("company", companyID, err)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, company_id, credits_total, credits_left, expires_at, created_at
		FROM package_purchases
		WHERE company_id = $1 AND credits_left > 0 AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY created_at ASC, id ASC
	`, companyID, at)
	if err != nil {
		return nil, err
	}
	purchases, err := collectPurchases(rows)
	if err != nil {
		return nil, err
	}
	return store.SumBalance(companyID, free, purchases, at), nil
}

// Package postgres implements store.Repository on PostgreSQL. Each guarded
// transition is an UPDATE whose WHERE clause restates the expected status;
// RowsAffected()==0 means another caller got there first.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"designer-dispatch/internal/models"
	"designer-dispatch/internal/store"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

const taskColumns = `id, order_id, company_id, status, priority, funding,
	assigned_to_id, current_assignment_id, excluded_designer_id, assigned_at, created_at, updated_at`

const assignmentColumns = `id, task_id, designer_id, status, assigned_at,
	confirmed_at, rejected_at, expired_at`

// Statuses whose CONFIRMED offer still occupies a designer.
const unfinishedStatuses = `('ASSIGNED', 'IN_PROGRESS', 'QA_PENDING')`

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var (
	_ store.Repository = (*Store)(nil)
	_ store.Admin      = (*Store)(nil)
)

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	err := row.Scan(
		&t.ID, &t.OrderID, &t.CompanyID, &t.Status, &t.Priority, &t.Funding,
		&t.AssignedToID, &t.CurrentAssignmentID, &t.ExcludedDesignerID, &t.AssignedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanAssignment(row pgx.Row) (*models.TaskAssignment, error) {
	var a models.TaskAssignment
	err := row.Scan(
		&a.ID, &a.TaskID, &a.DesignerID, &a.Status, &a.AssignedAt,
		&a.ConfirmedAt, &a.RejectedAt, &a.ExpiredAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, store.ErrNotFound)
	}
	return err
}

func (s *Store) InsertTask(ctx context.Context, t *models.Task) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (id, order_id, company_id, status, priority, funding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, t.ID, t.OrderID, t.CompanyID, string(t.Status), string(t.Priority), string(t.Funding), t.CreatedAt)
	return err
}

func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("task", id, err)
	}
	return t, nil
}

func (s *Store) TransitionTask(ctx context.Context, tr store.TaskTransition) (*models.Task, error) {
	from := make([]string, 0, len(tr.From))
	for _, st := range tr.From {
		from = append(from, string(st))
	}
	t, err := scanTask(s.pool.QueryRow(ctx, `
		UPDATE tasks
		SET status = $2, updated_at = $3
		WHERE id = $1
		  AND status = ANY($4)
		  AND ($5::text = '' OR assigned_to_id = $5)
		RETURNING `+taskColumns,
		tr.TaskID, string(tr.To), tr.At, from, tr.AssigneeID,
	))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if _, err := s.GetTask(ctx, tr.TaskID); err != nil {
		return nil, err
	}
	return nil, store.ErrConditionFailed
}

func (s *Store) ListSchedulable(ctx context.Context, limit int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE status = 'PENDING' AND current_assignment_id IS NULL
		ORDER BY
			CASE priority WHEN 'URGENT' THEN 2 WHEN 'EXPRESS' THEN 1 ELSE 0 END DESC,
			created_at ASC,
			id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetAssignment(ctx context.Context, id string) (*models.TaskAssignment, error) {
	a, err := scanAssignment(s.pool.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM task_assignments WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("assignment", id, err)
	}
	return a, nil
}

func (s *Store) ListAssignments(ctx context.Context, taskID string) ([]*models.TaskAssignment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+assignmentColumns+`
		FROM task_assignments
		WHERE task_id = $1
		ORDER BY assigned_at ASC, id ASC
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.TaskAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) ListExpiredOffers(ctx context.Context, offeredBefore time.Time, limit int) ([]*models.TaskAssignment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+assignmentColumns+`
		FROM task_assignments
		WHERE status = 'PENDING' AND assigned_at < $1
		ORDER BY assigned_at ASC, id ASC
		LIMIT $2
	`, offeredBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.TaskAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) ListAvailability(ctx context.Context, from, to time.Time) ([]models.AvailabilityWindow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, designer_id, starts_at, ends_at
		FROM designer_availability
		WHERE starts_at < $2 AND ends_at > $1
		ORDER BY designer_id, starts_at
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AvailabilityWindow
	for rows.Next() {
		var w models.AvailabilityWindow
		if err := rows.Scan(&w.ID, &w.DesignerID, &w.StartsAt, &w.EndsAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) DesignerLoads(ctx context.Context, designerIDs []string, offeredAfter time.Time) ([]models.DesignerLoad, error) {
	if len(designerIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT
			d.id, d.display_name, d.active, d.created_at,
			(SELECT COUNT(*) FROM task_assignments a
			  WHERE a.designer_id = d.id AND a.status = 'PENDING' AND a.assigned_at >= $2)
			+ (SELECT COUNT(*) FROM task_assignments a JOIN tasks t ON t.id = a.task_id
			  WHERE a.designer_id = d.id AND a.status = 'CONFIRMED' AND t.status IN `+unfinishedStatuses+`),
			(SELECT COUNT(*) FROM tasks t WHERE t.assigned_to_id = d.id AND t.status = 'IN_PROGRESS')
		FROM designers d
		WHERE d.id = ANY($1) AND d.active
	`, designerIDs, offeredAfter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DesignerLoad
	for rows.Next() {
		var l models.DesignerLoad
		if err := rows.Scan(&l.Designer.ID, &l.Designer.DisplayName, &l.Designer.Active, &l.Designer.CreatedAt, &l.OpenOffers, &l.InProgress); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) CountTasksByStatus(ctx context.Context) (map[models.TaskStatus]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[models.TaskStatus]int64{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[models.TaskStatus(status)] = count
	}
	return out, rows.Err()
}

func (s *Store) CountAssignmentsByStatus(ctx context.Context) (map[models.AssignmentStatus]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM task_assignments GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[models.AssignmentStatus]int64{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[models.AssignmentStatus(status)] = count
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

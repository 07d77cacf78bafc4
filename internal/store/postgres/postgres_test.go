package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"designer-dispatch/internal/models"
	"designer-dispatch/internal/store"
)

func openTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("failed to connect to DB: %v", err)
	}
	t.Cleanup(pool.Close)

	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, table := range []string{"credit_debits", "task_assignments", "tasks", "package_purchases", "companies", "designer_availability", "designers"} {
		if _, err := pool.Exec(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("cleanup %s: %v", table, err)
		}
	}
	return s, ctx
}

func TestOfferLifecycleIntegration(t *testing.T) {
	s, ctx := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Microsecond)

	if err := s.UpsertDesigner(ctx, models.Designer{ID: "d1", Active: true, CreatedAt: now}); err != nil {
		t.Fatalf("upsert designer: %v", err)
	}
	task := &models.Task{
		ID: "t1", OrderID: "o1", CompanyID: "c1",
		Status: models.TaskPending, Priority: models.PriorityNormal, Funding: models.FundingPayment,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.InsertTask(ctx, task); err != nil {
		t.Fatalf("insert task: %v", err)
	}

	_, err := s.CreateOffer(ctx, store.OfferRequest{ID: "a1", TaskID: "t1", DesignerID: "d1", At: now})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	_, err = s.CreateOffer(ctx, store.OfferRequest{ID: "a2", TaskID: "t1", DesignerID: "d1", At: now})
	if !errors.Is(err, store.ErrActiveOffer) {
		t.Fatalf("expected ErrActiveOffer for second offer, got %v", err)
	}

	after := now.Add(-5 * time.Minute)
	a, got, err := s.ConfirmOffer(ctx, store.AssignmentTransition{
		AssignmentID: "a1", From: models.AssignmentPending, To: models.AssignmentConfirmed,
		At: now.Add(time.Minute), DesignerID: "d1", OfferedAfter: &after,
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if a.Status != models.AssignmentConfirmed || got.Status != models.TaskAssigned {
		t.Fatalf("unexpected statuses: assignment=%s task=%s", a.Status, got.Status)
	}
	if got.AssignedToID == nil || *got.AssignedToID != "d1" {
		t.Fatalf("expected task assigned to d1, got %v", got.AssignedToID)
	}

	// A second confirm must lose on the status guard.
	_, _, err = s.ConfirmOffer(ctx, store.AssignmentTransition{
		AssignmentID: "a1", From: models.AssignmentPending, To: models.AssignmentConfirmed, At: now,
	})
	if !errors.Is(err, store.ErrConditionFailed) {
		t.Fatalf("expected ErrConditionFailed, got %v", err)
	}
}

func TestReleaseExcludesDesignerIntegration(t *testing.T) {
	s, ctx := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Microsecond)

	for i, id := range []string{"d1", "d2"} {
		if err := s.UpsertDesigner(ctx, models.Designer{ID: id, Active: true, CreatedAt: now.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("upsert designer %s: %v", id, err)
		}
	}
	task := &models.Task{
		ID: "t1", OrderID: "o1", CompanyID: "c1",
		Status: models.TaskPending, Priority: models.PriorityNormal, Funding: models.FundingPayment,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.InsertTask(ctx, task); err != nil {
		t.Fatalf("insert task: %v", err)
	}
	if _, err := s.CreateOffer(ctx, store.OfferRequest{ID: "a1", TaskID: "t1", DesignerID: "d1", At: now}); err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if _, err := s.ReleaseOffer(ctx, store.AssignmentTransition{
		AssignmentID: "a1", From: models.AssignmentPending, To: models.AssignmentRejected, At: now.Add(time.Minute),
	}); err != nil {
		t.Fatalf("release: %v", err)
	}

	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.CurrentAssignmentID != nil || got.ExcludedDesignerID == nil || *got.ExcludedDesignerID != "d1" {
		t.Fatalf("expected cleared pointer and d1 excluded, got pointer=%v excluded=%v", got.CurrentAssignmentID, got.ExcludedDesignerID)
	}

	_, err = s.CreateOffer(ctx, store.OfferRequest{ID: "a2", TaskID: "t1", DesignerID: "d1", At: now.Add(time.Minute)})
	if !errors.Is(err, store.ErrDesignerUnavailable) {
		t.Fatalf("expected ErrDesignerUnavailable for the released designer, got %v", err)
	}
	if _, err := s.CreateOffer(ctx, store.OfferRequest{ID: "a3", TaskID: "t1", DesignerID: "d2", At: now.Add(time.Minute)}); err != nil {
		t.Fatalf("offer to d2: %v", err)
	}
	got, err = s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.ExcludedDesignerID != nil {
		t.Fatalf("expected exclusion spent by the new offer, got %v", *got.ExcludedDesignerID)
	}
}

func TestReserveCreditsIntegration(t *testing.T) {
	s, ctx := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Microsecond)

	if err := s.UpsertCompany(ctx, models.Company{ID: "c1", Name: "acme"}); err != nil {
		t.Fatalf("upsert company: %v", err)
	}
	if err := s.AddPackagePurchase(ctx, models.PackagePurchase{
		ID: "p1", CompanyID: "c1", CreditsTotal: 3, CreditsLeft: 3, CreatedAt: now,
	}); err != nil {
		t.Fatalf("add package: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, short := 0, 0
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ReserveCredits(ctx, store.ReserveRequest{CompanyID: "c1", Amount: 1, At: now})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, store.ErrInsufficientBalance):
				short++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 3 || short != 1 {
		t.Fatalf("expected 3 successes and 1 shortfall, got %d and %d", ok, short)
	}
	bal, err := s.Balance(ctx, "c1", now)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Total != 0 {
		t.Fatalf("expected empty balance, got %d", bal.Total)
	}
}

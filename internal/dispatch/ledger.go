package dispatch

import (
	"context"
	"fmt"
	"strings"

	"designer-dispatch/internal/models"
	"designer-dispatch/internal/store"
)

// CreditLedger reserves prepaid credit. The decrement itself happens inside
// the repository so two reservations can never spend the same credit.
type CreditLedger struct {
	repo  store.Repository
	clock Clock
}

// Reserve debits amount from the owner's packages (oldest first) and then
// its free credits.
func (l *CreditLedger) Reserve(ctx context.Context, ownerID string, amount int) ([]models.CreditDebit, error) {
	return l.reserve(ctx, store.ReserveRequest{CompanyID: ownerID, Amount: amount})
}

// ReserveForTask debits the task's cost and moves it from AWAITING_PAYMENT to
// PENDING in the same unit.
func (l *CreditLedger) ReserveForTask(ctx context.Context, task *models.Task, amount int) ([]models.CreditDebit, error) {
	return l.reserve(ctx, store.ReserveRequest{
		CompanyID: task.CompanyID,
		Amount:    amount,
		TaskID:    task.ID,
		Activate:  true,
	})
}

func (l *CreditLedger) reserve(ctx context.Context, req store.ReserveRequest) ([]models.CreditDebit, error) {
	if strings.TrimSpace(req.CompanyID) == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidArgument)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be > 0", ErrInvalidArgument)
	}
	req.At = l.clock.Now()
	debits, err := l.repo.ReserveCredits(ctx, req)
	creditReservations.WithLabelValues(Kind(fromStore(err))).Inc()
	if err != nil {
		return nil, fromStore(err)
	}
	return debits, nil
}

func (l *CreditLedger) Balance(ctx context.Context, ownerID string) (*models.CreditBalance, error) {
	bal, err := l.repo.Balance(ctx, ownerID, l.clock.Now())
	if err != nil {
		return nil, fromStore(err)
	}
	return bal, nil
}

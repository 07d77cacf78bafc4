package store

import (
	"fmt"
	"sort"
	"time"

	"designer-dispatch/internal/models"
)

// PlanDebits splits amount across the company's funding sources: eligible
// package purchases oldest first, then free credits. It never touches storage;
// implementations lock the rows, plan, then apply guarded decrements.
func PlanDebits(companyID string, purchases []models.PackagePurchase, freeCredits, amount int, at time.Time) ([]models.CreditDebit, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be > 0")
	}

	eligible := make([]models.PackagePurchase, 0, len(purchases))
	for _, p := range purchases {
		if p.Eligible(at) {
			eligible = append(eligible, p)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if !eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
		}
		return eligible[i].ID < eligible[j].ID
	})

	remaining := amount
	var debits []models.CreditDebit
	for _, p := range eligible {
		if remaining == 0 {
			break
		}
		take := min(p.CreditsLeft, remaining)
		purchaseID := p.ID
		debits = append(debits, models.CreditDebit{
			CompanyID:         companyID,
			Source:            models.SourcePackage,
			PackagePurchaseID: &purchaseID,
			Amount:            take,
			CreatedAt:         at,
		})
		remaining -= take
	}
	if remaining > 0 && freeCredits > 0 {
		take := min(freeCredits, remaining)
		debits = append(debits, models.CreditDebit{
			CompanyID: companyID,
			Source:    models.SourceFree,
			Amount:    take,
			CreatedAt: at,
		})
		remaining -= take
	}
	if remaining > 0 {
		return nil, fmt.Errorf("%w: need %d, short by %d", ErrInsufficientBalance, amount, remaining)
	}
	return debits, nil
}

// SumBalance totals free credits and eligible package credits at the given instant.
func SumBalance(companyID string, freeCredits int, purchases []models.PackagePurchase, at time.Time) *models.CreditBalance {
	bal := &models.CreditBalance{CompanyID: companyID, FreeCredits: freeCredits, Total: freeCredits}
	for _, p := range purchases {
		if !p.Eligible(at) {
			continue
		}
		bal.Packages = append(bal.Packages, p)
		bal.Total += p.CreditsLeft
	}
	sort.SliceStable(bal.Packages, func(i, j int) bool {
		return bal.Packages[i].CreatedAt.Before(bal.Packages[j].CreatedAt)
	})
	return bal
}

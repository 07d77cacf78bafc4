package models

import "time"

type Company struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	FreeCredits int    `db:"free_credits"`
}

type PackagePurchase struct {
	ID           string     `db:"id"`
	CompanyID    string     `db:"company_id"`
	CreditsTotal int        `db:"credits_total"`
	CreditsLeft  int        `db:"credits_left"`
	ExpiresAt    *time.Time `db:"expires_at"`
	CreatedAt    time.Time  `db:"created_at"`
}

// Eligible reports whether the purchase may fund work at the given instant.
func (p PackagePurchase) Eligible(at time.Time) bool {
	if p.CreditsLeft <= 0 {
		return false
	}
	return p.ExpiresAt == nil || p.ExpiresAt.After(at)
}

type CreditSource string

const (
	SourceFree    CreditSource = "FREE"
	SourcePackage CreditSource = "PACKAGE"
)

// CreditDebit is one append-only ledger row.
type CreditDebit struct {
	ID                int64        `db:"id"`
	CompanyID         string       `db:"company_id"`
	TaskID            *string      `db:"task_id"`
	Source            CreditSource `db:"source"`
	PackagePurchaseID *string      `db:"package_purchase_id"`
	Amount            int          `db:"amount"`
	CreatedAt         time.Time    `db:"created_at"`
}

type CreditBalance struct {
	CompanyID   string
	FreeCredits int
	Packages    []PackagePurchase
	Total       int
}

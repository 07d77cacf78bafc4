package dispatch

import (
	"fmt"

	"github.com/shopspring/decimal"

	"designer-dispatch/internal/models"
)

const DefaultBasePriceMinor = 4900

type Pricing struct {
	BasePriceMinor    int64
	ExpressMultiplier decimal.Decimal
	UrgentMultiplier  decimal.Decimal
}

func DefaultPricing() Pricing {
	return Pricing{
		BasePriceMinor:    DefaultBasePriceMinor,
		ExpressMultiplier: decimal.NewFromInt(2),
		UrgentMultiplier:  decimal.NewFromInt(4),
	}
}

func (p Pricing) Validate() error {
	if p.BasePriceMinor <= 0 {
		return fmt.Errorf("%w: base price must be > 0", ErrInvalidArgument)
	}
	one := decimal.NewFromInt(1)
	if p.ExpressMultiplier.LessThan(one) || p.UrgentMultiplier.LessThan(one) {
		return fmt.Errorf("%w: priority multipliers must be >= 1", ErrInvalidArgument)
	}
	return nil
}

func (p Pricing) Multiplier(priority models.Priority) (decimal.Decimal, error) {
	switch priority {
	case models.PriorityNormal:
		return decimal.NewFromInt(1), nil
	case models.PriorityExpress:
		return p.ExpressMultiplier, nil
	case models.PriorityUrgent:
		return p.UrgentMultiplier, nil
	}
	return decimal.Zero, fmt.Errorf("%w: unknown priority %q", ErrInvalidArgument, priority)
}

// Quote is the single-charge price in minor units, rounded half-up.
func (p Pricing) Quote(priority models.Priority) (int64, error) {
	m, err := p.Multiplier(priority)
	if err != nil {
		return 0, err
	}
	return decimal.NewFromInt(p.BasePriceMinor).Mul(m).Round(0).IntPart(), nil
}

// Credits is what a credit-funded task of this priority costs: the
// multiplier rounded up to a whole credit.
func (p Pricing) Credits(priority models.Priority) (int, error) {
	m, err := p.Multiplier(priority)
	if err != nil {
		return 0, err
	}
	return int(m.Ceil().IntPart()), nil
}

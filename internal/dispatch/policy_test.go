package dispatch

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"designer-dispatch/internal/models"
	"designer-dispatch/internal/store"
)

func TestConfirmationWindow(t *testing.T) {
	w := ConfirmationWindow{Timeout: 5 * time.Minute}
	cases := []struct {
		offset  time.Duration
		expired bool
	}{
		{0, false},
		{4 * time.Minute, false},
		{5 * time.Minute, false},
		{5*time.Minute + time.Nanosecond, true},
		{6 * time.Minute, true},
	}
	for _, tc := range cases {
		now := t0.Add(tc.offset)
		assert.Equal(t, tc.expired, w.Expired(t0, now), "offset %s", tc.offset)
		// Cutoff must agree with Expired: expired offers sit strictly before it.
		assert.Equal(t, tc.expired, t0.Before(w.Cutoff(now)), "cutoff at offset %s", tc.offset)
	}
	assert.Equal(t, t0.Add(5*time.Minute), w.Deadline(t0))
}

func TestTaskTransitions(t *testing.T) {
	legal := [][2]models.TaskStatus{
		{models.TaskAwaitingPayment, models.TaskPending},
		{models.TaskPending, models.TaskAssigned},
		{models.TaskAssigned, models.TaskInProgress},
		{models.TaskInProgress, models.TaskQAPending},
		{models.TaskQAPending, models.TaskCompleted},
		{models.TaskQAPending, models.TaskInProgress},
		{models.TaskCompleted, models.TaskComplaint},
		{models.TaskPending, models.TaskCancelled},
	}
	for _, tr := range legal {
		assert.True(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
	illegal := [][2]models.TaskStatus{
		{models.TaskAwaitingPayment, models.TaskAssigned},
		{models.TaskPending, models.TaskInProgress},
		{models.TaskCompleted, models.TaskCancelled},
		{models.TaskCancelled, models.TaskPending},
		{models.TaskComplaint, models.TaskCompleted},
	}
	for _, tr := range illegal {
		assert.False(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	for _, op := range []workOp{opStartWork, opSubmitForQA, opApproveQA, opRequestRework, opRaiseComplaint, opCancel, opConfirmPayment} {
		for _, from := range op.from {
			assert.True(t, CanTransition(from, op.to), "%s: %s -> %s", op.name, from, op.to)
		}
	}
}

func TestAssignmentTransitions(t *testing.T) {
	assert.True(t, CanTransitionAssignment(models.AssignmentPending, models.AssignmentConfirmed))
	assert.True(t, CanTransitionAssignment(models.AssignmentPending, models.AssignmentRejected))
	assert.True(t, CanTransitionAssignment(models.AssignmentPending, models.AssignmentExpired))
	assert.False(t, CanTransitionAssignment(models.AssignmentPending, models.AssignmentPending))
	for _, from := range []models.AssignmentStatus{models.AssignmentConfirmed, models.AssignmentRejected, models.AssignmentExpired} {
		assert.False(t, CanTransitionAssignment(from, models.AssignmentExpired), "%s is terminal", from)
	}
}

func TestPricingQuote(t *testing.T) {
	p := DefaultPricing()
	for priority, want := range map[models.Priority]int64{
		models.PriorityNormal:  4900,
		models.PriorityExpress: 9800,
		models.PriorityUrgent:  19600,
	} {
		got, err := p.Quote(priority)
		require.NoError(t, err)
		assert.Equal(t, want, got, priority)
	}

	odd := Pricing{BasePriceMinor: 4901, ExpressMultiplier: decimal.RequireFromString("1.5"), UrgentMultiplier: decimal.NewFromInt(3)}
	got, err := odd.Quote(models.PriorityExpress)
	require.NoError(t, err)
	assert.Equal(t, int64(7352), got, "7351.5 rounds half up")

	_, err = p.Quote("ASAP")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPricingCredits(t *testing.T) {
	p := DefaultPricing()
	for priority, want := range map[models.Priority]int{
		models.PriorityNormal:  1,
		models.PriorityExpress: 2,
		models.PriorityUrgent:  4,
	} {
		got, err := p.Credits(priority)
		require.NoError(t, err)
		assert.Equal(t, want, got, priority)
	}
	p.ExpressMultiplier = decimal.RequireFromString("1.5")
	got, err := p.Credits(models.PriorityExpress)
	require.NoError(t, err)
	assert.Equal(t, 2, got)
}

func TestPricingValidate(t *testing.T) {
	assert.NoError(t, DefaultPricing().Validate())
	bad := DefaultPricing()
	bad.UrgentMultiplier = decimal.RequireFromString("0.5")
	assert.ErrorIs(t, bad.Validate(), ErrInvalidArgument)
	bad = DefaultPricing()
	bad.BasePriceMinor = -1
	assert.ErrorIs(t, bad.Validate(), ErrInvalidArgument)
}

func TestKind(t *testing.T) {
	cases := map[string]error{
		"ok":                    nil,
		"not_found":             fmt.Errorf("wrap: %w", ErrNotFound),
		"forbidden":             ErrForbidden,
		"stale_action":          fromStore(store.ErrConditionFailed),
		"expired":               ErrExpired,
		"no_designer_available": fromStore(store.ErrAtCapacity),
		"insufficient_credit":   fromStore(store.ErrInsufficientBalance),
		"illegal_transition":    ErrIllegalTransition,
		"invalid_argument":      ErrInvalidArgument,
		"internal":              errors.New("boom"),
	}
	for want, err := range cases {
		assert.Equal(t, want, Kind(err))
	}
	assert.ErrorIs(t, fromStore(store.ErrActiveOffer), ErrStaleAction)
	assert.ErrorIs(t, fromStore(fmt.Errorf("x: %w", store.ErrNotFound)), ErrNotFound)
}

func TestManualClock(t *testing.T) {
	c := NewManualClock(t0)
	assert.Equal(t, t0, c.Now())
	assert.Equal(t, t0.Add(time.Minute), c.Advance(time.Minute))
	c.Set(t0)
	assert.Equal(t, t0, c.Now())
}

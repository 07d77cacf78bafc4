package dispatch

import (
	"errors"
	"fmt"

	"designer-dispatch/internal/store"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrStaleAction         = errors.New("stale action")
	ErrExpired             = errors.New("offer expired")
	ErrNoDesignerAvailable = errors.New("no designer available")
	ErrInsufficientCredit  = errors.New("insufficient credit")
	ErrIllegalTransition   = errors.New("illegal transition")
	ErrInvalidArgument     = errors.New("invalid argument")
)

// Kind maps an error to a stable code for metrics labels and CLI output.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrStaleAction):
		return "stale_action"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrNoDesignerAvailable):
		return "no_designer_available"
	case errors.Is(err, ErrInsufficientCredit):
		return "insufficient_credit"
	case errors.Is(err, ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	default:
		return "internal"
	}
}

// fromStore translates storage errors into the engine's taxonomy.
func fromStore(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, store.ErrInsufficientBalance):
		return fmt.Errorf("%w: %v", ErrInsufficientCredit, err)
	case errors.Is(err, store.ErrDesignerUnavailable), errors.Is(err, store.ErrAtCapacity):
		return fmt.Errorf("%w: %v", ErrNoDesignerAvailable, err)
	case errors.Is(err, store.ErrConditionFailed), errors.Is(err, store.ErrActiveOffer):
		return fmt.Errorf("%w: %v", ErrStaleAction, err)
	default:
		return err
	}
}

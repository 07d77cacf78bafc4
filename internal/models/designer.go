package models

import "time"

type Role string

const (
	RoleDesigner Role = "DESIGNER"
	RoleAdmin    Role = "ADMIN"
	RoleClient   Role = "CLIENT"
	RoleSystem   Role = "SYSTEM"
)

// Caller is the identity supplied by the session layer for every operation.
type Caller struct {
	ID   string
	Role Role
}

type Designer struct {
	ID          string    `db:"id"`
	DisplayName string    `db:"display_name"`
	Active      bool      `db:"active"`
	CreatedAt   time.Time `db:"created_at"`
}

type AvailabilityWindow struct {
	ID         int64     `db:"id"`
	DesignerID string    `db:"designer_id"`
	StartsAt   time.Time `db:"starts_at"`
	EndsAt     time.Time `db:"ends_at"`
}

// Covers reports whether at falls inside [StartsAt, EndsAt).
func (w AvailabilityWindow) Covers(at time.Time) bool {
	return !at.Before(w.StartsAt) && at.Before(w.EndsAt)
}

// DesignerLoad is the scheduling view of one designer.
type DesignerLoad struct {
	Designer   Designer
	OpenOffers int // unexpired PENDING plus CONFIRMED on unfinished tasks
	InProgress int
}

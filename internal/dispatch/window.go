package dispatch

import "time"

const DefaultConfirmationTimeout = 5 * time.Minute

// ConfirmationWindow decides offer expiry from timestamps alone. An offer
// made at assignedAt is actionable while now <= assignedAt + Timeout.
type ConfirmationWindow struct {
	Timeout time.Duration
}

func (w ConfirmationWindow) Deadline(assignedAt time.Time) time.Time {
	return assignedAt.Add(w.Timeout)
}

func (w ConfirmationWindow) Expired(assignedAt, now time.Time) bool {
	return now.After(w.Deadline(assignedAt))
}

// Cutoff is the oldest assignedAt still live at now. Offers assigned before
// it are expired; offers at or after it are not.
func (w ConfirmationWindow) Cutoff(now time.Time) time.Time {
	return now.Add(-w.Timeout)
}

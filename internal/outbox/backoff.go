package outbox

import "time"

// DefaultMaxRetries is the retry count at which an item is declared dead.
const DefaultMaxRetries = 5

var backoffSchedule = []time.Duration{
	5 * time.Second,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
	time.Hour,
}

// Backoff is the only place retry timing and termination are decided.
type Backoff struct {
	MaxRetries int
}

func NewBackoff(maxRetries int) Backoff {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return Backoff{MaxRetries: maxRetries}
}

// CalculateNextScheduledAt returns ref plus the delay for the given attempt.
// Attempts past the schedule reuse the last (one hour) delay.
func CalculateNextScheduledAt(attempt int, ref time.Time) time.Time {
	if attempt < 1 {
		attempt = 1
	}
	idx := attempt - 1
	if idx >= len(backoffSchedule) {
		idx = len(backoffSchedule) - 1
	}
	return ref.Add(backoffSchedule[idx])
}

func (b Backoff) NextScheduledAt(attempt int, ref time.Time) time.Time {
	return CalculateNextScheduledAt(attempt, ref)
}

func (b Backoff) ShouldDie(retries int) bool {
	return retries >= b.MaxRetries
}

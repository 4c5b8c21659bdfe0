package utils

import "time"

// Backoff implements the three-band reconnect delay policy: a short delay for
// the first few attempts, a medium delay for the next several, a long delay
// beyond that. The monotonic shape keeps retries from hammering the server
// without waiting unreasonably long after a transient blip.
type Backoff struct {
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration

	// ShortMax and MediumMax are the last attempt numbers (1-based) served by
	// the short and medium bands respectively.
	ShortMax  int
	MediumMax int
}

// Delay returns the wait before the given attempt. Attempts are counted from
// 1; values below 1 are treated as 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	switch {
	case attempt <= b.ShortMax:
		return b.Short
	case attempt <= b.MediumMax:
		return b.Medium
	default:
		return b.Long
	}
}

package syncqueue

import "time"

// Backoff computes the reschedule delay after a failed delivery attempt.
// The delay grows linearly with the retry count and is capped so an event
// that fails many times still gets revisited within a bounded window.
type Backoff struct {
	Step time.Duration
	Max  time.Duration
}

// DefaultBackoff returns the standard queue backoff: 5 minutes per attempt,
// capped at one hour.
func DefaultBackoff() Backoff {
	return Backoff{
		Step: 5 * time.Minute,
		Max:  time.Hour,
	}
}

// Delay returns the wait before the next attempt. retryCount is the value
// after the failed attempt was counted, so the first reschedule waits one step.
func (b Backoff) Delay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	step := b.Step
	if step <= 0 {
		step = 5 * time.Minute
	}
	max := b.Max
	if max <= 0 {
		max = time.Hour
	}
	delay := time.Duration(retryCount) * step
	if delay > max {
		delay = max
	}
	return delay
}

// NextAttempt returns the scheduled_at for a rescheduled event. The result is
// always strictly after now.
func (b Backoff) NextAttempt(now time.Time, retryCount int) time.Time {
	return now.Add(b.Delay(retryCount))
}

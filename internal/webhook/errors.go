package webhook

import (
	"errors"
	"fmt"
)

// DeliveryError classifies a failed delivery. Retryable failures (network
// errors, timeouts, 5xx) may be retried by the queue; fatal failures (auth
// rejections, other 4xx, bad configuration) require operator intervention.
type DeliveryError struct {
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("webhook: delivery failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("webhook: delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

var (
	// ErrAuthRejected indicates the endpoint returned 401.
	ErrAuthRejected = errors.New("webhook: endpoint rejected credentials")
	// ErrNoEndpoint indicates the company has no webhook URL configured.
	ErrNoEndpoint = errors.New("webhook: no endpoint configured")
)

// IsRetryable reports whether the queue should reschedule the event. Errors
// without an explicit classification (e.g. plain network errors) default to
// retryable: transient trouble is the common case.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Retryable
	}
	if errors.Is(err, ErrAuthRejected) || errors.Is(err, ErrNoEndpoint) {
		return false
	}
	return true
}

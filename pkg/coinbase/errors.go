package coinbase

import "fmt"

// RejectedError is a non-transient exchange response: a 4xx validation or
// business rejection (bad product, insufficient balance, auth failure).
// Never retried.
type RejectedError struct {
	StatusCode int
	Reason     string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("exchange rejected request (%d): %s", e.StatusCode, e.Reason)
}

// UnavailableError marks a request abandoned after exhausting retries on
// transient failures. Safe for the webhook caller to retry: the
// idempotency key prevents a duplicate fill if an earlier attempt
// actually succeeded server-side.
type UnavailableError struct {
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("exchange unavailable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

package exchange

import (
	"fmt"
	"time"
)

// RateLimitError is returned when an exchange signals that its request
// budget is exhausted. Callers pause all work for the source until
// RetryAfter has elapsed.
type RateLimitError struct {
	Exchange   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("exchange %s rate limited, retry after %s", e.Exchange, e.RetryAfter)
}

// APIError covers transient exchange failures: network errors, bad
// gateway responses, unknown symbols. It aborts the current operation
// only; sibling work is unaffected.
type APIError struct {
	Exchange string
	Symbol   string
	Message  string
}

func (e *APIError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("exchange %s error for %s: %s", e.Exchange, e.Symbol, e.Message)
	}
	return fmt.Sprintf("exchange %s error: %s", e.Exchange, e.Message)
}

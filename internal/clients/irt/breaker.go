package irt

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/yungbote/dgnl-backend/internal/platform/httpx"
	"github.com/yungbote/dgnl-backend/internal/platform/logger"
)

// newBreaker opens after threshold consecutive counted failures and, after
// cooldown, lets one trial call through. Errors that do not count against the
// service settle the trial call like a success.
func newBreaker(threshold int, cooldown time.Duration, log *logger.Logger) *gobreaker.CircuitBreaker[*Result] {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return gobreaker.NewCircuitBreaker[*Result](gobreaker.Settings{
		Name:        "irt",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(threshold)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !countsAgainstBreaker(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("IRT circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// Client errors (4xx other than 408/429) and caller cancellation are not the
// service's fault.
func countsAgainstBreaker(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) && he.StatusCode < 500 && !httpx.IsRetryableHTTPStatus(he.StatusCode) {
		return false
	}
	return true
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

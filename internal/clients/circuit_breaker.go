package clients

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"smartshopai/provisioner/internal/orchestrator"
)

// NewCircuitBreaker returns a gobreaker configured to trip after 3 consecutive
// failures and reset after 30 seconds in the open state.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
}

// breakerErr prefixes rejections from an open breaker with "circuit open".
func breakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) {
		return fmt.Errorf("circuit open: %w", err)
	}
	return err
}

// probeResult converts the outcome of a breaker-wrapped probe into a
// ProbeResult. An open breaker is reported as "circuit open".
func probeResult(name string, start time.Time, err error) orchestrator.ProbeResult {
	latency := time.Since(start).Milliseconds()
	if err != nil {
		errMsg := err.Error()
		if errors.Is(err, gobreaker.ErrOpenState) {
			errMsg = "circuit open"
		}
		return orchestrator.ProbeResult{
			Name:      name,
			OK:        false,
			LatencyMs: latency,
			Error:     errMsg,
		}
	}
	return orchestrator.ProbeResult{
		Name:      name,
		OK:        true,
		LatencyMs: latency,
	}
}

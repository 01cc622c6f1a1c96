package client

import (
	"time"

	"github.com/sony/gobreaker"
)

// newSetupBreaker wraps the Activate/CreateSubscription/CreateMonitoredItems
// sequence with a circuit breaker so a dead secure channel doesn't get
// hammered with setup retries. Trips after 5 consecutive setup failures and
// stays open for 30s before allowing a single trial call through.
func newSetupBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}

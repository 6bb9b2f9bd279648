package health

import (
	"context"
	"fmt"
	"strings"

	"github.com/vyrodovalexey/rentgw/internal/circuitbreaker"
)

// Pinger is a dependency that can be pinged.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports the reachability of p.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) Check {
		if err := p.Ping(ctx); err != nil {
			return Check{Status: StatusUnhealthy, Message: err.Error()}
		}
		return Check{Status: StatusHealthy}
	}
}

// BreakerSnapshotter lists circuit breaker snapshots.
type BreakerSnapshotter interface {
	Snapshots() []circuitbreaker.Snapshot
}

// BreakerCheck reports targets whose breaker is not closed.
func BreakerCheck(s BreakerSnapshotter) CheckFunc {
	return func(context.Context) Check {
		var open []string
		for _, snap := range s.Snapshots() {
			if snap.State != circuitbreaker.StateClosed.String() {
				open = append(open, snap.Target+"="+snap.State)
			}
		}
		if len(open) == 0 {
			return Check{Status: StatusHealthy}
		}
		return Check{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("circuit breakers not closed: %s", strings.Join(open, ", ")),
		}
	}
}

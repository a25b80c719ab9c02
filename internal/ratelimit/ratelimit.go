// Package ratelimit implements per-key sliding-window admission control.
package ratelimit

import (
	"context"
	"time"
)

// Window is the span over which requests are counted.
const Window = 60 * time.Second

var planLimits = map[string]int{
	"free":       8,
	"premium":    30,
	"pro":        30,
	"enterprise": 60,
}

// LimitForPlan returns the number of requests plan may make per Window.
// Unknown plans get the free ceiling.
func LimitForPlan(plan string) int {
	if limit, ok := planLimits[plan]; ok {
		return limit
	}
	return planLimits["free"]
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter admits or rejects requests per key. Allow prunes the key's window,
// decides and records the request as a single atomic step; a rejected request
// is not recorded.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int) (Decision, error)
	Close() error
}

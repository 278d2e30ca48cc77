package ratelimit

import "context"

// RateLimiter throttles actions per actor, where an actor is typically a
// professional id hitting the accept/refuse/cancel callbacks.
type RateLimiter interface {
	Allow(ctx context.Context, actor string) (bool, error)
	Wait(ctx context.Context, actor string) error
}

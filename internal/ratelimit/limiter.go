package ratelimit

import (
	"context"

	"github.com/selimunal/notification-relay/internal/domain"
)

// RateLimiter throttles provider sends per channel.
type RateLimiter interface {
	Allow(ctx context.Context, channel domain.Channel) (bool, error)
	Wait(ctx context.Context, channel domain.Channel) error
}

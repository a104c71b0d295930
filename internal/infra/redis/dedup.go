package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/selimunal/notification-relay/internal/dedup"
)

const dedupTTL = 3 * time.Hour

var _ dedup.Guard = (*DedupGuard)(nil)

// DedupGuard suppresses redelivered provider callbacks with SET NX. The first
// caller for a key wins; everyone else inside the TTL sees a duplicate.
type DedupGuard struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewDedupGuard(client *goredis.Client) *DedupGuard {
	return &DedupGuard{client: client, ttl: dedupTTL}
}

// CheckAndMark returns true when the key was unseen and is now marked.
func (g *DedupGuard) CheckAndMark(ctx context.Context, key string) (bool, error) {
	if g == nil || g.client == nil {
		return false, fmt.Errorf("dedup guard is not initialized")
	}
	if key == "" {
		return false, fmt.Errorf("dedup key is required")
	}

	ok, err := g.client.SetNX(ctx, "dedup:inbound:"+key, 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark dedup key: %w", err)
	}
	return ok, nil
}

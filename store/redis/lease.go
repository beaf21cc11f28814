package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/dimagi/cadence/id"
)

// AcquireLease claims a dispatch lease with SET NX. There is no release
// path: the key expires on its own after the TTL, which is exactly the
// at-most-once window the poller wants.
func (s *Store) AcquireLease(ctx context.Context, key string, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, leaseKey(key), workerID.String(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cadence/redis: acquire lease: %w", err)
	}
	return ok, nil
}

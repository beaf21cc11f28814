package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/dimagi/cadence/id"
)

// AcquireLease claims a dispatch lease on the primary. A single upsert
// arbitrates: the insert wins on a fresh key, the conditional update
// wins only when the previous lease has expired. No release path —
// expiry is the only way a lease frees up.
func (s *Store) AcquireLease(ctx context.Context, key string, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	tag, err := s.primary.Exec(ctx, `
		INSERT INTO cadence_leases (key, worker_id, expires_at)
		VALUES ($1, $2, NOW() + $3::interval)
		ON CONFLICT (key) DO UPDATE SET
			worker_id = EXCLUDED.worker_id,
			expires_at = EXCLUDED.expires_at
		WHERE cadence_leases.expires_at < NOW()`,
		key, workerID.String(), ttl.String(),
	)
	if err != nil {
		return false, fmt.Errorf("cadence/postgres: acquire lease: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

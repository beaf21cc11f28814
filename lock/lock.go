// Package lock provides the dispatch lease that guarantees at-most-once
// delivery of a due occurrence across competing pollers.
//
// A lease covers one (class, instance, due timestamp) triple. It is
// acquired once and never released: the TTL outlives any plausible
// handler run, so a crashed worker's lease simply expires without the
// occurrence firing twice within the window.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/dimagi/cadence/id"
)

// Class distinguishes lease namespaces. Today there is a single class
// for schedule instances; keeping it in the key leaves room for other
// dispatchable kinds without key collisions.
type Class string

// ClassInstance is the lease class for schedule instance occurrences.
const ClassInstance Class = "instance"

// Store is the backend contract for dispatch leases.
type Store interface {
	// AcquireLease attempts to take the lease for key on behalf of the
	// worker. It returns true when this call won the lease, false when
	// another worker already holds it. The lease expires after ttl;
	// there is no release.
	AcquireLease(ctx context.Context, key string, workerID id.WorkerID, ttl time.Duration) (bool, error)
}

// Key builds the lease key for one due occurrence. The due timestamp is
// part of the key so a later occurrence of the same instance takes a
// fresh lease.
func Key(class Class, instanceID id.InstanceID, due time.Time) string {
	return fmt.Sprintf("%s:%s:%d", class, instanceID, due.UTC().Unix())
}

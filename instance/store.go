package instance

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/dimagi/cadence/id"
	"github.com/dimagi/cadence/recipient"
)

// DueOccurrence is the lightweight reference the due scan returns and
// the poller enqueues. Due pins the occurrence: the processor re-verifies
// that the reloaded instance still carries this exact due timestamp, so a
// lock-TTL re-pickup can never double-deliver an already-advanced
// occurrence.
type DueOccurrence struct {
	InstanceID id.InstanceID `json:"instance_id"`
	Domain     string        `json:"domain"`
	Due        time.Time     `json:"due"`
}

// Store defines the sharded persistence contract for schedule instances.
// Point operations route to a single shard by ShardKey; DueInstances is a
// cross-shard fan-out/merge scan.
type Store interface {
	// SaveInstance creates or replaces an instance.
	SaveInstance(ctx context.Context, si *ScheduleInstance) error

	// GetInstance retrieves an instance by ID within a domain.
	GetInstance(ctx context.Context, domain string, instanceID id.InstanceID) (*ScheduleInstance, error)

	// DeleteInstance removes an instance.
	DeleteInstance(ctx context.Context, domain string, instanceID id.InstanceID) error

	// DueInstances returns references to all active instances whose
	// next event is due at or before the given time, across all shards.
	DueInstances(ctx context.Context, until time.Time) ([]DueOccurrence, error)

	// InstancesForSchedule returns all instances of a schedule, for
	// refresh and reporting.
	InstancesForSchedule(ctx context.Context, scheduleID id.ScheduleID) ([]*ScheduleInstance, error)

	// InstancesForRecipient returns all instances scheduled against a
	// recipient within a domain, for reporting.
	InstancesForRecipient(ctx context.Context, domain string, ref recipient.Ref) ([]*ScheduleInstance, error)

	// DeleteInstancesForSchedule removes every instance of a schedule.
	DeleteInstancesForSchedule(ctx context.Context, scheduleID id.ScheduleID) error
}

// ShardKey computes the deterministic shard routing key for an instance:
// FNV-1a over domain and recipient id. Writes and deletes for the same
// recipient always land on the same shard.
func ShardKey(domain, recipientID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(domain))
	h.Write([]byte{0})
	h.Write([]byte(recipientID))
	return h.Sum32()
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dimagi/cadence"
	"github.com/dimagi/cadence/id"
	"github.com/dimagi/cadence/instance"
	"github.com/dimagi/cadence/recipient"
)

// dueMember encodes a due-index member as "{domain}|{instance_id}". The
// domain rides along so the scan can build occurrences without touching
// every entity key.
func dueMember(domain string, instanceID id.InstanceID) string {
	return domain + "|" + instanceID.String()
}

// SaveInstance stores the instance as a JSON string, maintains the
// schedule and recipient indexes, and keeps the due Sorted Set in sync:
// active instances are scored by next_event_due, inactive ones are
// removed so the scan never sees them.
func (s *Store) SaveInstance(ctx context.Context, si *instance.ScheduleInstance) error {
	si.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(si)
	if err != nil {
		return fmt.Errorf("cadence/redis: marshal instance: %w", err)
	}

	iID := si.ID.String()
	member := dueMember(si.Domain, si.ID)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, instanceKey(iID), data, 0)
	pipe.SAdd(ctx, scheduleInstancesKey(si.ScheduleID.String()), iID)
	pipe.SAdd(ctx, recipientInstancesKey(si.Domain, string(si.Recipient.Type), si.Recipient.ID), iID)
	if si.Active {
		pipe.ZAdd(ctx, dueKey, goredis.Z{
			Score:  float64(si.NextEventDue.UnixMilli()),
			Member: member,
		})
	} else {
		pipe.ZRem(ctx, dueKey, member)
	}
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cadence/redis: save instance: %w", err)
	}
	return nil
}

// GetInstance retrieves an instance by ID within a domain.
func (s *Store) GetInstance(ctx context.Context, domain string, instanceID id.InstanceID) (*instance.ScheduleInstance, error) {
	si, err := s.getInstanceByKey(ctx, instanceKey(instanceID.String()))
	if err != nil {
		return nil, err
	}
	if si.Domain != domain {
		return nil, cadence.ErrInstanceNotFound
	}
	return si, nil
}

// DeleteInstance removes an instance and all its index entries.
func (s *Store) DeleteInstance(ctx context.Context, domain string, instanceID id.InstanceID) error {
	si, err := s.GetInstance(ctx, domain, instanceID)
	if err != nil {
		return err
	}
	return s.deleteInstance(ctx, si)
}

// DueInstances scans the due Sorted Set for occurrences at or before
// until. Due timestamps are read back from the stored entity so the
// processor's exact-match recheck sees the same value the state machine
// wrote, not a millisecond-rounded score.
func (s *Store) DueInstances(ctx context.Context, until time.Time) ([]instance.DueOccurrence, error) {
	members, err := s.client.ZRangeByScore(ctx, dueKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", until.UnixMilli()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("cadence/redis: due scan: %w", err)
	}

	occs := make([]instance.DueOccurrence, 0, len(members))
	for _, m := range members {
		domain, rawID, ok := strings.Cut(m, "|")
		if !ok {
			continue
		}
		instanceID, parseErr := id.ParseInstanceID(rawID)
		if parseErr != nil {
			continue
		}
		si, getErr := s.GetInstance(ctx, domain, instanceID)
		if getErr != nil {
			// Entity gone but index entry survived; drop the stale member.
			s.client.ZRem(ctx, dueKey, m)
			continue
		}
		occs = append(occs, instance.DueOccurrence{
			InstanceID: si.ID,
			Domain:     si.Domain,
			Due:        si.NextEventDue,
		})
	}
	return occs, nil
}

// InstancesForSchedule returns all instances of a schedule.
func (s *Store) InstancesForSchedule(ctx context.Context, scheduleID id.ScheduleID) ([]*instance.ScheduleInstance, error) {
	return s.instancesFromIndex(ctx, scheduleInstancesKey(scheduleID.String()))
}

// InstancesForRecipient returns all instances scheduled against a
// recipient within a domain.
func (s *Store) InstancesForRecipient(ctx context.Context, domain string, ref recipient.Ref) ([]*instance.ScheduleInstance, error) {
	return s.instancesFromIndex(ctx, recipientInstancesKey(domain, string(ref.Type), ref.ID))
}

// DeleteInstancesForSchedule removes every instance of a schedule.
func (s *Store) DeleteInstancesForSchedule(ctx context.Context, scheduleID id.ScheduleID) error {
	all, err := s.InstancesForSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	for _, si := range all {
		if err := s.deleteInstance(ctx, si); err != nil {
			return err
		}
	}
	return nil
}

// ── helpers ──

func (s *Store) getInstanceByKey(ctx context.Context, key string) (*instance.ScheduleInstance, error) {
	data, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, cadence.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("cadence/redis: get instance: %w", err)
	}

	var si instance.ScheduleInstance
	if err := json.Unmarshal([]byte(data), &si); err != nil {
		return nil, fmt.Errorf("cadence/redis: unmarshal instance: %w", err)
	}
	return &si, nil
}

func (s *Store) instancesFromIndex(ctx context.Context, indexKey string) ([]*instance.ScheduleInstance, error) {
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("cadence/redis: instances smembers: %w", err)
	}

	out := make([]*instance.ScheduleInstance, 0, len(ids))
	for _, rawID := range ids {
		si, getErr := s.getInstanceByKey(ctx, instanceKey(rawID))
		if getErr != nil {
			continue // skip missing
		}
		out = append(out, si)
	}
	// SMembers order is arbitrary; callers expect creation order, which
	// the K-sortable IDs encode.
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *Store) deleteInstance(ctx context.Context, si *instance.ScheduleInstance) error {
	iID := si.ID.String()
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, instanceKey(iID))
	pipe.SRem(ctx, scheduleInstancesKey(si.ScheduleID.String()), iID)
	pipe.SRem(ctx, recipientInstancesKey(si.Domain, string(si.Recipient.Type), si.Recipient.ID), iID)
	pipe.ZRem(ctx, dueKey, dueMember(si.Domain, si.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cadence/redis: delete instance: %w", err)
	}
	return nil
}

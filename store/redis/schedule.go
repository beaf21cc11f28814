package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dimagi/cadence"
	"github.com/dimagi/cadence/id"
	"github.com/dimagi/cadence/schedule"
)

// PutSchedule stores the schedule as a JSON string and indexes it by domain.
func (s *Store) PutSchedule(ctx context.Context, sched *schedule.Schedule) error {
	sched.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(sched)
	if err != nil {
		return fmt.Errorf("cadence/redis: marshal schedule: %w", err)
	}

	sID := sched.ID.String()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, scheduleKey(sID), data, 0)
	pipe.SAdd(ctx, domainSchedulesKey(sched.Domain), sID)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cadence/redis: put schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves a schedule by ID.
func (s *Store) GetSchedule(ctx context.Context, scheduleID id.ScheduleID) (*schedule.Schedule, error) {
	data, err := s.client.Get(ctx, scheduleKey(scheduleID.String())).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, cadence.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("cadence/redis: get schedule: %w", err)
	}

	var sched schedule.Schedule
	if err := json.Unmarshal([]byte(data), &sched); err != nil {
		return nil, fmt.Errorf("cadence/redis: unmarshal schedule: %w", err)
	}
	return &sched, nil
}

// DeleteSchedule removes a schedule and its domain index entry.
func (s *Store) DeleteSchedule(ctx context.Context, scheduleID id.ScheduleID) error {
	sched, err := s.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}

	sID := scheduleID.String()
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, scheduleKey(sID))
	pipe.SRem(ctx, domainSchedulesKey(sched.Domain), sID)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cadence/redis: delete schedule: %w", err)
	}
	return nil
}

// ListSchedules returns all schedules for a domain.
func (s *Store) ListSchedules(ctx context.Context, domain string) ([]*schedule.Schedule, error) {
	ids, err := s.client.SMembers(ctx, domainSchedulesKey(domain)).Result()
	if err != nil {
		return nil, fmt.Errorf("cadence/redis: list schedules smembers: %w", err)
	}

	scheds := make([]*schedule.Schedule, 0, len(ids))
	for _, sID := range ids {
		scheduleID, parseErr := id.ParseScheduleID(sID)
		if parseErr != nil {
			continue
		}
		sched, getErr := s.GetSchedule(ctx, scheduleID)
		if getErr != nil {
			continue // skip missing
		}
		scheds = append(scheds, sched)
	}
	return scheds, nil
}

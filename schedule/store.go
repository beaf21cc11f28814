package schedule

import (
	"context"

	"github.com/dimagi/cadence/id"
)

// Store defines the persistence contract for schedules. Schedules are
// configuration data: low write volume, not sharded.
type Store interface {
	// PutSchedule creates or replaces a schedule.
	PutSchedule(ctx context.Context, s *Schedule) error

	// GetSchedule retrieves a schedule by ID.
	GetSchedule(ctx context.Context, scheduleID id.ScheduleID) (*Schedule, error)

	// DeleteSchedule removes a schedule by ID.
	DeleteSchedule(ctx context.Context, scheduleID id.ScheduleID) error

	// ListSchedules returns all schedules for a domain.
	ListSchedules(ctx context.Context, domain string) ([]*Schedule, error)
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dimagi/cadence"
	"github.com/dimagi/cadence/id"
	"github.com/dimagi/cadence/schedule"
)

// Schedules are low-volume configuration data: scalar columns carry what
// queries filter on, the full definition rides in a JSONB document so
// event and content shapes can evolve without schema churn.

// PutSchedule creates or replaces a schedule.
func (s *Store) PutSchedule(ctx context.Context, sched *schedule.Schedule) error {
	sched.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(sched)
	if err != nil {
		return fmt.Errorf("cadence/postgres: marshal schedule: %w", err)
	}

	_, err = s.primary.Exec(ctx, `
		INSERT INTO cadence_schedules (id, domain, active, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			domain = EXCLUDED.domain,
			active = EXCLUDED.active,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`,
		sched.ID.String(), sched.Domain, sched.Active, data,
		sched.CreatedAt, sched.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: put schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves a schedule by ID.
func (s *Store) GetSchedule(ctx context.Context, scheduleID id.ScheduleID) (*schedule.Schedule, error) {
	row := s.primary.QueryRow(ctx,
		`SELECT data FROM cadence_schedules WHERE id = $1`,
		scheduleID.String(),
	)
	sched, err := scanSchedule(row)
	if err != nil {
		if isNoRows(err) {
			return nil, cadence.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("cadence/postgres: get schedule: %w", err)
	}
	return sched, nil
}

// DeleteSchedule removes a schedule by ID.
func (s *Store) DeleteSchedule(ctx context.Context, scheduleID id.ScheduleID) error {
	tag, err := s.primary.Exec(ctx,
		`DELETE FROM cadence_schedules WHERE id = $1`,
		scheduleID.String(),
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cadence.ErrScheduleNotFound
	}
	return nil
}

// ListSchedules returns all schedules for a domain.
func (s *Store) ListSchedules(ctx context.Context, domain string) ([]*schedule.Schedule, error) {
	rows, err := s.primary.Query(ctx,
		`SELECT data FROM cadence_schedules WHERE domain = $1 ORDER BY id ASC`,
		domain,
	)
	if err != nil {
		return nil, fmt.Errorf("cadence/postgres: list schedules: %w", err)
	}
	defer rows.Close()

	var scheds []*schedule.Schedule
	for rows.Next() {
		sched, scanErr := scanSchedule(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("cadence/postgres: scan schedule row: %w", scanErr)
		}
		scheds = append(scheds, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cadence/postgres: iterate schedule rows: %w", err)
	}
	return scheds, nil
}

func scanSchedule(row pgx.Row) (*schedule.Schedule, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		return nil, err
	}
	var sched schedule.Schedule
	if err := json.Unmarshal(data, &sched); err != nil {
		return nil, fmt.Errorf("unmarshal schedule: %w", err)
	}
	return &sched, nil
}

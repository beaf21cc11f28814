package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dimagi/cadence"
	"github.com/dimagi/cadence/id"
	"github.com/dimagi/cadence/instance"
	"github.com/dimagi/cadence/recipient"
)

// Instances mirror the schedule layout: indexed scalar columns plus the
// full state in JSONB. The due scan reads columns only, so a shard
// answers it from the partial index without decoding documents.

// SaveInstance creates or replaces an instance on its shard.
func (s *Store) SaveInstance(ctx context.Context, si *instance.ScheduleInstance) error {
	si.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(si)
	if err != nil {
		return fmt.Errorf("cadence/postgres: marshal instance: %w", err)
	}

	pool := s.shardFor(si.Domain, si.Recipient.ID)
	_, err = pool.Exec(ctx, `
		INSERT INTO cadence_instances (
			id, domain, schedule_id, recipient_type, recipient_id,
			next_event_due, active, data, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			next_event_due = EXCLUDED.next_event_due,
			active = EXCLUDED.active,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`,
		si.ID.String(), si.Domain, si.ScheduleID.String(),
		string(si.Recipient.Type), si.Recipient.ID,
		si.NextEventDue, si.Active, data,
		si.CreatedAt, si.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: save instance: %w", err)
	}
	return nil
}

// GetInstance retrieves an instance by ID within a domain. The shard is
// unknown without the recipient, so the lookup fans out; the domain
// column keeps the query on each shard's index.
func (s *Store) GetInstance(ctx context.Context, domain string, instanceID id.InstanceID) (*instance.ScheduleInstance, error) {
	for _, pool := range s.shards {
		row := pool.QueryRow(ctx,
			`SELECT data FROM cadence_instances WHERE id = $1 AND domain = $2`,
			instanceID.String(), domain,
		)
		si, err := scanInstance(row)
		if err != nil {
			if isNoRows(err) {
				continue
			}
			return nil, fmt.Errorf("cadence/postgres: get instance: %w", err)
		}
		return si, nil
	}
	return nil, cadence.ErrInstanceNotFound
}

// DeleteInstance removes an instance.
func (s *Store) DeleteInstance(ctx context.Context, domain string, instanceID id.InstanceID) error {
	for _, pool := range s.shards {
		tag, err := pool.Exec(ctx,
			`DELETE FROM cadence_instances WHERE id = $1 AND domain = $2`,
			instanceID.String(), domain,
		)
		if err != nil {
			return fmt.Errorf("cadence/postgres: delete instance: %w", err)
		}
		if tag.RowsAffected() > 0 {
			return nil
		}
	}
	return cadence.ErrInstanceNotFound
}

// DueInstances fans the due scan out to every shard and merges the
// results, ordered by due timestamp.
func (s *Store) DueInstances(ctx context.Context, until time.Time) ([]instance.DueOccurrence, error) {
	var occs []instance.DueOccurrence
	for i, pool := range s.shards {
		shardOccs, err := dueOnShard(ctx, pool, until)
		if err != nil {
			return nil, fmt.Errorf("cadence/postgres: due scan shard %d: %w", i, err)
		}
		occs = append(occs, shardOccs...)
	}
	sort.Slice(occs, func(i, j int) bool { return occs[i].Due.Before(occs[j].Due) })
	return occs, nil
}

func dueOnShard(ctx context.Context, pool *pgxpool.Pool, until time.Time) ([]instance.DueOccurrence, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, domain, next_event_due
		FROM cadence_instances
		WHERE active = TRUE AND next_event_due <= $1`,
		until,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var occs []instance.DueOccurrence
	for rows.Next() {
		var (
			rawID  string
			domain string
			due    time.Time
		)
		if err := rows.Scan(&rawID, &domain, &due); err != nil {
			return nil, err
		}
		instanceID, parseErr := id.ParseInstanceID(rawID)
		if parseErr != nil {
			return nil, fmt.Errorf("parse instance id %q: %w", rawID, parseErr)
		}
		occs = append(occs, instance.DueOccurrence{
			InstanceID: instanceID,
			Domain:     domain,
			Due:        due.UTC(),
		})
	}
	return occs, rows.Err()
}

// InstancesForSchedule returns all instances of a schedule across shards,
// in creation order.
func (s *Store) InstancesForSchedule(ctx context.Context, scheduleID id.ScheduleID) ([]*instance.ScheduleInstance, error) {
	return s.collectFromShards(ctx,
		`SELECT data FROM cadence_instances WHERE schedule_id = $1`,
		scheduleID.String(),
	)
}

// InstancesForRecipient returns all instances scheduled against a
// recipient within a domain. Routing is deterministic, so a single shard
// answers.
func (s *Store) InstancesForRecipient(ctx context.Context, domain string, ref recipient.Ref) ([]*instance.ScheduleInstance, error) {
	pool := s.shardFor(domain, ref.ID)
	rows, err := pool.Query(ctx, `
		SELECT data FROM cadence_instances
		WHERE domain = $1 AND recipient_type = $2 AND recipient_id = $3
		ORDER BY id ASC`,
		domain, string(ref.Type), ref.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("cadence/postgres: instances for recipient: %w", err)
	}
	defer rows.Close()
	return collectInstances(rows)
}

// DeleteInstancesForSchedule removes every instance of a schedule on
// every shard.
func (s *Store) DeleteInstancesForSchedule(ctx context.Context, scheduleID id.ScheduleID) error {
	for i, pool := range s.shards {
		_, err := pool.Exec(ctx,
			`DELETE FROM cadence_instances WHERE schedule_id = $1`,
			scheduleID.String(),
		)
		if err != nil {
			return fmt.Errorf("cadence/postgres: delete instances shard %d: %w", i, err)
		}
	}
	return nil
}

// ── helpers ──

func (s *Store) collectFromShards(ctx context.Context, query string, args ...interface{}) ([]*instance.ScheduleInstance, error) {
	var all []*instance.ScheduleInstance
	for i, pool := range s.shards {
		rows, err := pool.Query(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("cadence/postgres: shard %d query: %w", i, err)
		}
		shard, collectErr := collectInstances(rows)
		rows.Close()
		if collectErr != nil {
			return nil, collectErr
		}
		all = append(all, shard...)
	}
	// Merge in creation order; the K-sortable IDs encode it.
	sort.Slice(all, func(i, j int) bool { return all[i].ID.String() < all[j].ID.String() })
	return all, nil
}

func scanInstance(row pgx.Row) (*instance.ScheduleInstance, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		return nil, err
	}
	var si instance.ScheduleInstance
	if err := json.Unmarshal(data, &si); err != nil {
		return nil, fmt.Errorf("unmarshal instance: %w", err)
	}
	return &si, nil
}

func collectInstances(rows pgx.Rows) ([]*instance.ScheduleInstance, error) {
	var out []*instance.ScheduleInstance
	for rows.Next() {
		si, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("cadence/postgres: scan instance row: %w", err)
		}
		out = append(out, si)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cadence/postgres: iterate instance rows: %w", err)
	}
	return out, nil
}

// Package memory provides a fully in-memory store implementation.
// Safe for concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dimagi/cadence"
	"github.com/dimagi/cadence/id"
	"github.com/dimagi/cadence/instance"
	"github.com/dimagi/cadence/job"
	"github.com/dimagi/cadence/lock"
	"github.com/dimagi/cadence/recipient"
	"github.com/dimagi/cadence/schedule"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ schedule.Store = (*Store)(nil)
	_ instance.Store = (*Store)(nil)
	_ job.Store      = (*Store)(nil)
	_ lock.Store     = (*Store)(nil)
)

// lease tracks a dispatch lease held until its expiry.
type lease struct {
	owner id.WorkerID
	until time.Time
}

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	schedules map[string]*schedule.Schedule
	instances map[string]*instance.ScheduleInstance
	jobs      map[string]*job.Job
	leases    map[string]lease

	// now is the clock, overridable for lease expiry tests.
	now func() time.Time
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		schedules: make(map[string]*schedule.Schedule),
		instances: make(map[string]*instance.ScheduleInstance),
		jobs:      make(map[string]*job.Job),
		leases:    make(map[string]lease),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the store's clock. For tests.
func (m *Store) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Schedule Store
// ──────────────────────────────────────────────────

// PutSchedule creates or replaces a schedule.
func (m *Store) PutSchedule(_ context.Context, s *schedule.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.schedules[s.ID.String()] = &cp
	return nil
}

// GetSchedule retrieves a schedule by ID.
func (m *Store) GetSchedule(_ context.Context, scheduleID id.ScheduleID) (*schedule.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.schedules[scheduleID.String()]
	if !ok {
		return nil, cadence.ErrScheduleNotFound
	}
	cp := *s
	return &cp, nil
}

// DeleteSchedule removes a schedule by ID.
func (m *Store) DeleteSchedule(_ context.Context, scheduleID id.ScheduleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := scheduleID.String()
	if _, ok := m.schedules[key]; !ok {
		return cadence.ErrScheduleNotFound
	}
	delete(m.schedules, key)
	return nil
}

// ListSchedules returns all schedules for a domain, ordered by ID.
func (m *Store) ListSchedules(_ context.Context, domain string) ([]*schedule.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*schedule.Schedule, 0)
	for _, s := range m.schedules {
		if s.Domain != domain {
			continue
		}
		cp := *s
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].ID.String() < result[k].ID.String()
	})
	return result, nil
}

// ──────────────────────────────────────────────────
// Instance Store
// ──────────────────────────────────────────────────

// SaveInstance creates or replaces an instance.
func (m *Store) SaveInstance(_ context.Context, si *instance.ScheduleInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *si
	m.instances[si.ID.String()] = &cp
	return nil
}

// GetInstance retrieves an instance by ID within a domain.
func (m *Store) GetInstance(_ context.Context, domain string, instanceID id.InstanceID) (*instance.ScheduleInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	si, ok := m.instances[instanceID.String()]
	if !ok || si.Domain != domain {
		return nil, cadence.ErrInstanceNotFound
	}
	cp := *si
	return &cp, nil
}

// DeleteInstance removes an instance.
func (m *Store) DeleteInstance(_ context.Context, domain string, instanceID id.InstanceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := instanceID.String()
	si, ok := m.instances[key]
	if !ok || si.Domain != domain {
		return cadence.ErrInstanceNotFound
	}
	delete(m.instances, key)
	return nil
}

// DueInstances returns references to all active instances whose next
// event is due at or before the given time.
func (m *Store) DueInstances(_ context.Context, until time.Time) ([]instance.DueOccurrence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]instance.DueOccurrence, 0)
	for _, si := range m.instances {
		if !si.Active {
			continue
		}
		if si.NextEventDue.After(until) {
			continue
		}
		result = append(result, instance.DueOccurrence{
			InstanceID: si.ID,
			Domain:     si.Domain,
			Due:        si.NextEventDue,
		})
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].Due.Before(result[k].Due)
	})
	return result, nil
}

// InstancesForSchedule returns all instances of a schedule, ordered by
// instance ID (creation order, since IDs are K-sortable).
func (m *Store) InstancesForSchedule(_ context.Context, scheduleID id.ScheduleID) ([]*instance.ScheduleInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*instance.ScheduleInstance, 0)
	for _, si := range m.instances {
		if si.ScheduleID != scheduleID {
			continue
		}
		cp := *si
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].ID.String() < result[k].ID.String()
	})
	return result, nil
}

// InstancesForRecipient returns all instances scheduled against a
// recipient within a domain.
func (m *Store) InstancesForRecipient(_ context.Context, domain string, ref recipient.Ref) ([]*instance.ScheduleInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*instance.ScheduleInstance, 0)
	for _, si := range m.instances {
		if si.Domain != domain || si.Recipient != ref {
			continue
		}
		cp := *si
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].ID.String() < result[k].ID.String()
	})
	return result, nil
}

// DeleteInstancesForSchedule removes every instance of a schedule.
func (m *Store) DeleteInstancesForSchedule(_ context.Context, scheduleID id.ScheduleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, si := range m.instances {
		if si.ScheduleID == scheduleID {
			delete(m.instances, key)
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// EnqueueJob persists a new job in pending state.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return cadence.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// DequeueJobs atomically claims up to limit pending jobs from the given
// queues, sets them to running, and returns them.
func (m *Store) DequeueJobs(_ context.Context, queues []string, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queueSet := make(map[string]struct{}, len(queues))
	for _, q := range queues {
		queueSet[q] = struct{}{}
	}

	now := m.now()

	// Collect candidates.
	candidates := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.State != job.StatePending {
			continue
		}
		if !j.RunAt.IsZero() && j.RunAt.After(now) {
			continue
		}
		if len(queueSet) > 0 {
			if _, ok := queueSet[j.Queue]; !ok {
				continue
			}
		}
		candidates = append(candidates, j)
	}

	// Sort: RunAt ASC.
	sort.Slice(candidates, func(i, k int) bool {
		return candidates[i].RunAt.Before(candidates[k].RunAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		j.State = job.StateRunning
		n := now
		j.StartedAt = &n
		// Return a copy so callers can mutate without racing with the store.
		cp := *j
		result[i] = &cp
	}

	return result, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, cadence.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return cadence.ErrJobNotFound
	}
	cp := *j
	cp.UpdatedAt = m.now()
	m.jobs[key] = &cp
	return nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return cadence.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// ListJobsByState returns jobs matching the given state.
func (m *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return []*job.Job{}, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Lock Store
// ──────────────────────────────────────────────────

// AcquireLease attempts to take the lease for key. An expired lease is
// treated as free.
func (m *Store) AcquireLease(_ context.Context, key string, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if l, held := m.leases[key]; held && l.until.After(now) {
		return false, nil
	}
	m.leases[key] = lease{owner: workerID, until: now.Add(ttl)}
	return true, nil
}

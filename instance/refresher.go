package instance

import (
	"context"
	"log/slog"
	"time"

	"github.com/dimagi/cadence/recipient"
	"github.com/dimagi/cadence/schedule"
)

// Refresher synchronizes the stored instances of a schedule to a desired
// recipient set: creates instances for missing recipients, recomputes due
// timestamps for instances of changed schedules, deletes instances for
// recipients no longer wanted, and leaves untouched instances alone.
type Refresher struct {
	instances Store
	resolver  *recipient.Resolver
	logger    *slog.Logger
	clock     func() time.Time
}

// NewRefresher creates a Refresher.
func NewRefresher(instances Store, resolver *recipient.Resolver, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		instances: instances,
		resolver:  resolver,
		logger:    logger,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the refresher's clock. For tests.
func (r *Refresher) WithClock(clock func() time.Time) *Refresher {
	r.clock = clock
	return r
}

// Refresh diffs the desired recipient set against the existing instances
// of the schedule. A zero explicitStart preserves each instance's start
// date; a non-zero one re-anchors every instance.
//
// New recipients join at the same point in the schedule as existing ones:
// the first existing instance serves as the model so a recipient added
// mid-campaign does not restart from the first event.
func (r *Refresher) Refresh(ctx context.Context, s *schedule.Schedule, desired []recipient.Ref, explicitStart schedule.Date) error {
	existing, err := r.instances.InstancesForSchedule(ctx, s.ID)
	if err != nil {
		return err
	}

	byRef := make(map[recipient.Ref]*ScheduleInstance, len(existing))
	for _, si := range existing {
		byRef[si.Recipient] = si
	}
	var model *ScheduleInstance
	if len(existing) > 0 {
		model = existing[0]
	}

	now := r.clock()
	wanted := make(map[recipient.Ref]struct{}, len(desired))

	for _, ref := range desired {
		wanted[ref] = struct{}{}

		si, exists := byRef[ref]
		if !exists {
			created, createErr := r.createFor(ctx, s, ref, model, explicitStart, now)
			if createErr != nil {
				return createErr
			}
			if _, syncErr := created.SyncActiveFlag(now, r.propsFor(ctx, ref)); syncErr != nil {
				return syncErr
			}
			if saveErr := r.instances.SaveInstance(ctx, created); saveErr != nil {
				return saveErr
			}
			continue
		}

		if err := r.handleExisting(ctx, s, si, explicitStart, now); err != nil {
			return err
		}
	}

	// Recipients no longer wanted lose their instances.
	for ref, si := range byRef {
		if _, keep := wanted[ref]; keep {
			continue
		}
		if err := r.instances.DeleteInstance(ctx, si.Domain, si.ID); err != nil {
			return err
		}
		r.logger.Info("instance removed by refresh",
			slog.String("instance_id", si.ID.String()),
			slog.String("recipient_id", si.Recipient.ID),
		)
	}

	return nil
}

// createFor builds a new instance for a recipient, copying the schedule
// position from the model instance when one exists.
func (r *Refresher) createFor(ctx context.Context, s *schedule.Schedule, ref recipient.Ref, model *ScheduleInstance, explicitStart schedule.Date, now time.Time) (*ScheduleInstance, error) {
	props := r.propsFor(ctx, ref)
	loc := s.Location(r.resolver.TimezoneName(ctx, ref))

	if s.Kind == schedule.KindAlert {
		return NewAlert(s, ref, now)
	}

	si, err := NewTimed(s, ref, explicitStart, loc, now, props)
	if err != nil {
		return nil, err
	}

	if model != nil {
		si.StartDate = model.StartDate
		si.CurrentEvent = model.CurrentEvent
		si.Iteration = model.Iteration
		si.Active = model.Active
		if si.Active {
			if err := si.recomputeNextEventDue(props); err != nil {
				return nil, err
			}
			if err := si.MoveToNextEventNotInThePast(now, props); err != nil {
				return nil, err
			}
		}
	}
	return si, nil
}

// handleExisting refreshes an instance that stays in the recipient set.
// Only changed schedules (or an explicit re-anchor) trigger a recompute;
// untouched instances are not rewritten, to avoid churn on the stores.
func (r *Refresher) handleExisting(ctx context.Context, s *schedule.Schedule, si *ScheduleInstance, explicitStart schedule.Date, now time.Time) error {
	props := r.propsFor(ctx, si.Recipient)
	loc := s.Location(r.resolver.TimezoneName(ctx, si.Recipient))
	si.Attach(s, loc)

	needsSave := false

	if !explicitStart.IsZero() && explicitStart != si.StartDate {
		si.StartDate = explicitStart
		needsSave = true
	}

	scheduleChanged := s.UpdatedAt.After(si.UpdatedAt)
	if (scheduleChanged || needsSave) && si.Active && s.Kind == schedule.KindTimed {
		if err := si.recomputeNextEventDue(props); err != nil {
			return err
		}
		if err := si.MoveToNextEventNotInThePast(now, props); err != nil {
			return err
		}
		needsSave = true
	}

	changed, err := si.SyncActiveFlag(now, props)
	if err != nil {
		return err
	}

	if needsSave || changed {
		si.Touch()
		return r.instances.SaveInstance(ctx, si)
	}
	return nil
}

// propsFor supplies dynamic case properties for case recipients; other
// recipient types have none.
func (r *Refresher) propsFor(ctx context.Context, ref recipient.Ref) schedule.PropertySource {
	if ref.Type != recipient.TypeCase {
		return nil
	}
	return r.resolver.CaseProps(ctx, ref.ID)
}

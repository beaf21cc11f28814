package instance

import (
	"context"
	"log/slog"
	"time"

	"github.com/dimagi/cadence/content"
	"github.com/dimagi/cadence/recipient"
	"github.com/dimagi/cadence/schedule"
)

// Emitter receives delivery lifecycle events from HandleCurrentEvent.
// ext.Registry satisfies this interface.
type Emitter interface {
	EmitMessageSent(ctx context.Context, si *ScheduleInstance, contact recipient.Contact)
	EmitMessageFailed(ctx context.Context, si *ScheduleInstance, contact recipient.Contact, err error)
	EmitStaleEventSkipped(ctx context.Context, si *ScheduleInstance)
	EmitInstanceDeactivated(ctx context.Context, si *ScheduleInstance)
}

// Env bundles the collaborators HandleCurrentEvent needs. The processor
// builds one per handled occurrence.
type Env struct {
	Resolver *recipient.Resolver
	Sender   content.Sender
	Store    Store
	Emitter  Emitter
	Logger   *slog.Logger

	// Props supplies the recipient's dynamic case properties, for
	// case-property event times and the stop-date condition. May be nil.
	Props schedule.PropertySource

	// AlertStaleness is the age beyond which a due alert event advances
	// without delivering.
	AlertStaleness time.Duration

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

func (e *Env) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// HandleCurrentEvent delivers the current event's content to every
// expanded recipient, then advances the state machine and persists.
// Progress always occurs, even when delivery attempts fail: a send
// failure is logged and the next occurrence is the de-facto retry.
//
// One-shot (alert) schedules apply a staleness guard: when the due
// timestamp is older than the threshold the state advances but content
// is not delivered, so an outage never causes a blast of stale alerts.
func (si *ScheduleInstance) HandleCurrentEvent(ctx context.Context, env *Env) error {
	if !si.Active {
		return nil
	}
	s, err := si.requireSchedule()
	if err != nil {
		return err
	}
	now := env.now()
	log := env.logger()

	if s.StopConditionReached(env.Props, si.Location().String(), now) {
		si.Active = false
		si.Touch()
		if err := env.Store.SaveInstance(ctx, si); err != nil {
			return err
		}
		if env.Emitter != nil {
			env.Emitter.EmitInstanceDeactivated(ctx, si)
		}
		log.Info("stop condition reached, instance deactivated",
			slog.String("instance_id", si.ID.String()),
			slog.String("domain", si.Domain),
		)
		return nil
	}

	stale := s.Kind == schedule.KindAlert &&
		env.AlertStaleness > 0 &&
		now.Sub(si.NextEventDue) > env.AlertStaleness

	if stale {
		if env.Emitter != nil {
			env.Emitter.EmitStaleEventSkipped(ctx, si)
		}
		log.Warn("stale alert event skipped",
			slog.String("instance_id", si.ID.String()),
			slog.Time("due", si.NextEventDue),
		)
	} else {
		si.deliverCurrentEvent(ctx, env, s)
	}

	wasActive := si.Active
	if err := si.MoveToNextEvent(env.Props); err != nil {
		return err
	}
	if err := si.MoveToNextEventNotInThePast(now, env.Props); err != nil {
		return err
	}

	si.Touch()
	if err := env.Store.SaveInstance(ctx, si); err != nil {
		return err
	}

	if wasActive && !si.Active && env.Emitter != nil {
		env.Emitter.EmitInstanceDeactivated(ctx, si)
	}
	return nil
}

// deliverCurrentEvent expands the recipient reference and sends the
// event's content to each contact. Expansion and delivery failures are
// logged and never block state advancement.
func (si *ScheduleInstance) deliverCurrentEvent(ctx context.Context, env *Env, s *schedule.Schedule) {
	log := env.logger()
	c := s.Events[si.CurrentEvent].Content

	contacts, err := env.Resolver.Expand(ctx, si.Recipient, recipient.ExpandOptions{
		IncludeDescendantLocations: s.IncludeDescendantLocations,
		LocationTypeFilter:         s.LocationTypeFilter,
		UserDataFilter:             s.UserDataFilter,
	})
	if err != nil {
		// Unknown recipient type: fatal for this expansion only.
		log.Error("recipient expansion failed",
			slog.String("instance_id", si.ID.String()),
			slog.String("recipient_type", string(si.Recipient.Type)),
			slog.String("error", err.Error()),
		)
		return
	}

	for contact := range contacts {
		if sendErr := env.Sender.Send(ctx, contact, c); sendErr != nil {
			log.Error("content delivery failed",
				slog.String("instance_id", si.ID.String()),
				slog.String("contact_id", contact.ID),
				slog.String("error", sendErr.Error()),
			)
			if env.Emitter != nil {
				env.Emitter.EmitMessageFailed(ctx, si, contact, sendErr)
			}
			continue
		}
		if env.Emitter != nil {
			env.Emitter.EmitMessageSent(ctx, si, contact)
		}
	}
}

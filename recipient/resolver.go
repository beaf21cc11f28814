package recipient

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/dimagi/cadence"
)

// ExpandOptions carries the schedule-level switches that shape expansion.
type ExpandOptions struct {
	// IncludeDescendantLocations expands a location reference to the
	// users at the location and all of its descendants.
	IncludeDescendantLocations bool

	// LocationTypeFilter restricts descendant expansion to locations of
	// the given types. Empty means all types.
	LocationTypeFilter []string

	// UserDataFilter restricts expanded users to those whose user data
	// matches one of the allowed values for every listed key.
	UserDataFilter map[string][]string
}

// ExpandFunc is an expansion strategy for one recipient type. It returns
// the raw candidate contacts; the resolver applies the active filter and
// de-duplication uniformly.
type ExpandFunc func(ctx context.Context, dir Directory, ref Ref, opts ExpandOptions) ([]Contact, error)

// Resolver maps recipient-type discriminators to expansion strategies.
// The built-in types are registered by NewResolver; additional types can
// be registered by the host platform.
type Resolver struct {
	dir        Directory
	logger     *slog.Logger
	strategies map[Type]ExpandFunc
}

// NewResolver creates a Resolver over the given directory with all
// built-in recipient types registered.
func NewResolver(dir Directory, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		dir:        dir,
		logger:     logger,
		strategies: make(map[Type]ExpandFunc),
	}

	r.Register(TypeCase, expandDirect)
	r.Register(TypeMobileWorker, expandDirect)
	r.Register(TypeWebUser, expandDirect)
	r.Register(TypeUserGroup, expandUserGroup)
	r.Register(TypeCaseGroup, expandCaseGroup)
	r.Register(TypeLocation, expandLocation)
	return r
}

// Register adds or replaces the expansion strategy for a recipient type.
func (r *Resolver) Register(t Type, fn ExpandFunc) {
	r.strategies[t] = fn
}

// Contact resolves a direct reference to its single contact. Returns
// ErrNotFound when the backing entity has been deleted.
func (r *Resolver) Contact(ctx context.Context, ref Ref) (*Contact, error) {
	if _, ok := r.strategies[ref.Type]; !ok {
		return nil, fmt.Errorf("%w: %q", cadence.ErrUnknownRecipientType, ref.Type)
	}
	return r.dir.Contact(ctx, ref)
}

// TimezoneName returns the timezone name of a direct recipient, or ""
// for group/location references and deleted recipients. Group and
// location schedules run in the domain's default timezone.
func (r *Resolver) TimezoneName(ctx context.Context, ref Ref) string {
	if !ref.IsDirect() {
		return ""
	}
	c, err := r.dir.Contact(ctx, ref)
	if err != nil {
		return ""
	}
	return c.Timezone
}

// CaseProps returns a lookup over the case's dynamic properties. Lookups
// hit the directory lazily; a failed lookup reads as an absent property.
func (r *Resolver) CaseProps(ctx context.Context, caseID string) func(name string) (string, bool) {
	return func(name string) (string, bool) {
		value, err := r.dir.CaseProperty(ctx, caseID, name)
		if err != nil || value == "" {
			return "", false
		}
		return value, true
	}
}

// Expand produces a lazy, finite sequence of individually deliverable
// contacts for the reference: de-duplicated by id and restricted to
// active contacts. An unknown recipient type is a hard configuration
// error. A reference whose backing entity has been deleted yields an
// empty sequence; directory failures are logged and likewise yield an
// empty sequence (the instance still advances).
func (r *Resolver) Expand(ctx context.Context, ref Ref, opts ExpandOptions) (iter.Seq[Contact], error) {
	strategy, ok := r.strategies[ref.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", cadence.ErrUnknownRecipientType, ref.Type)
	}

	return func(yield func(Contact) bool) {
		candidates, err := strategy(ctx, r.dir, ref, opts)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				r.logger.Warn("recipient gone, expanding to nothing",
					slog.String("recipient_type", string(ref.Type)),
					slog.String("recipient_id", ref.ID),
				)
			} else {
				r.logger.Error("recipient expansion failed",
					slog.String("recipient_type", string(ref.Type)),
					slog.String("recipient_id", ref.ID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		seen := make(map[string]struct{}, len(candidates))
		for _, c := range candidates {
			if !c.Active {
				continue
			}
			if !matchesUserData(c, opts.UserDataFilter) {
				continue
			}
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
			if !yield(c) {
				return
			}
		}
	}, nil
}

func expandDirect(ctx context.Context, dir Directory, ref Ref, _ ExpandOptions) ([]Contact, error) {
	c, err := dir.Contact(ctx, ref)
	if err != nil {
		return nil, err
	}
	return []Contact{*c}, nil
}

func expandUserGroup(ctx context.Context, dir Directory, ref Ref, _ ExpandOptions) ([]Contact, error) {
	return dir.GroupMembers(ctx, ref.ID)
}

func expandCaseGroup(ctx context.Context, dir Directory, ref Ref, _ ExpandOptions) ([]Contact, error) {
	return dir.CaseGroupMembers(ctx, ref.ID)
}

func expandLocation(ctx context.Context, dir Directory, ref Ref, opts ExpandOptions) ([]Contact, error) {
	locationIDs := []string{ref.ID}
	if opts.IncludeDescendantLocations {
		descendants, err := dir.DescendantLocations(ctx, ref.ID, opts.LocationTypeFilter)
		if err != nil {
			return nil, err
		}
		locationIDs = append(locationIDs, descendants...)
	}

	var contacts []Contact
	for _, locID := range locationIDs {
		users, err := dir.UsersAtLocation(ctx, locID)
		if err != nil {
			if errors.Is(err, ErrNotFound) && locID != ref.ID {
				// A descendant vanished between lookup and expansion.
				continue
			}
			return nil, err
		}
		contacts = append(contacts, users...)
	}
	return contacts, nil
}

// matchesUserData reports whether the contact's user data matches one of
// the allowed values for every filter key.
func matchesUserData(c Contact, filter map[string][]string) bool {
	for key, allowed := range filter {
		value, ok := c.UserData[key]
		if !ok {
			return false
		}
		match := false
		for _, want := range allowed {
			if value == want {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}

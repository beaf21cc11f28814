package recipient

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Directory implementations when the backing
// entity for a reference has been deleted. The resolver treats it as an
// empty expansion so the owning instance still advances state rather than
// getting stuck.
var ErrNotFound = errors.New("recipient: not found")

// Directory is the read-only recipient directory cadence consumes. It is
// an external collaborator: implementations look up cases, users, groups,
// and locations by id in whatever system of record the platform uses.
type Directory interface {
	// Contact returns the contact for a direct reference (case, mobile
	// worker, or web user). Returns ErrNotFound if the entity is gone.
	Contact(ctx context.Context, ref Ref) (*Contact, error)

	// GroupMembers returns the members of a user group.
	// Returns ErrNotFound if the group is gone.
	GroupMembers(ctx context.Context, groupID string) ([]Contact, error)

	// CaseGroupMembers returns the member cases of a case group.
	// Returns ErrNotFound if the case group is gone.
	CaseGroupMembers(ctx context.Context, caseGroupID string) ([]Contact, error)

	// DescendantLocations returns the ids of all locations below the
	// given location, filtered to the given location types when the
	// filter is non-empty.
	DescendantLocations(ctx context.Context, locationID string, typeFilter []string) ([]string, error)

	// UsersAtLocation returns the users assigned directly to a location.
	// Returns ErrNotFound if the location is gone.
	UsersAtLocation(ctx context.Context, locationID string) ([]Contact, error)

	// CaseProperty returns the value of a dynamic case property, or ""
	// when the case or the property does not exist.
	CaseProperty(ctx context.Context, caseID, property string) (string, error)
}

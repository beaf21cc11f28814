// Package recipient resolves the tagged recipient references stored on
// schedule instances into deliverable contacts. A reference is a type
// discriminator plus an id; resolution is a registry lookup mapping the
// discriminator to an expansion strategy. Direct types (case, mobile
// worker, web user) expand to themselves; group, case-group, and location
// types expand to their member contacts.
package recipient

// Type is the recipient-type discriminator stored on a schedule instance.
type Type string

const (
	// TypeCase is an individual case (e.g., a patient record).
	TypeCase Type = "case"
	// TypeMobileWorker is an individual mobile worker account.
	TypeMobileWorker Type = "mobile_worker"
	// TypeWebUser is an individual web user account.
	TypeWebUser Type = "web_user"
	// TypeUserGroup expands to the active members of a user group.
	TypeUserGroup Type = "user_group"
	// TypeCaseGroup expands to the member cases of a case group.
	TypeCaseGroup Type = "case_group"
	// TypeLocation expands to the users at a location, optionally
	// including all descendant locations.
	TypeLocation Type = "location"
)

// Ref is a stored recipient reference: a type tag plus an id.
type Ref struct {
	Type Type   `json:"type"`
	ID   string `json:"id"`
}

// IsDirect reports whether the reference names a single contact rather
// than a group or location that needs expansion.
func (r Ref) IsDirect() bool {
	switch r.Type {
	case TypeCase, TypeMobileWorker, TypeWebUser:
		return true
	default:
		return false
	}
}

// Contact is the uniform deliverable-contact capability every expansion
// produces: an id, a timezone, and a delivery address.
type Contact struct {
	ID          string            `json:"id"`
	Name        string            `json:"name,omitempty"`
	PhoneNumber string            `json:"phone_number,omitempty"`
	Language    string            `json:"language,omitempty"`
	Timezone    string            `json:"timezone,omitempty"`
	UserData    map[string]string `json:"user_data,omitempty"`
	Active      bool              `json:"active"`
}

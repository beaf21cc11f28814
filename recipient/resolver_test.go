package recipient_test

import (
	"context"
	"errors"
	"testing"

	"github.com/dimagi/cadence"
	"github.com/dimagi/cadence/recipient"
)

// fakeDirectory is an in-memory host platform directory.
type fakeDirectory struct {
	contacts    map[string]recipient.Contact
	groups      map[string][]string
	caseGroups  map[string][]string
	children    map[string][]string
	atLocation  map[string][]string
	caseProps   map[string]map[string]string
	failContact bool
}

func (d *fakeDirectory) lookup(ids []string) []recipient.Contact {
	out := make([]recipient.Contact, 0, len(ids))
	for _, id := range ids {
		if c, ok := d.contacts[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (d *fakeDirectory) Contact(_ context.Context, ref recipient.Ref) (*recipient.Contact, error) {
	if d.failContact {
		return nil, errors.New("directory unavailable")
	}
	c, ok := d.contacts[ref.ID]
	if !ok {
		return nil, recipient.ErrNotFound
	}
	return &c, nil
}

func (d *fakeDirectory) GroupMembers(_ context.Context, groupID string) ([]recipient.Contact, error) {
	ids, ok := d.groups[groupID]
	if !ok {
		return nil, recipient.ErrNotFound
	}
	return d.lookup(ids), nil
}

func (d *fakeDirectory) CaseGroupMembers(_ context.Context, caseGroupID string) ([]recipient.Contact, error) {
	ids, ok := d.caseGroups[caseGroupID]
	if !ok {
		return nil, recipient.ErrNotFound
	}
	return d.lookup(ids), nil
}

func (d *fakeDirectory) DescendantLocations(_ context.Context, locationID string, typeFilter []string) ([]string, error) {
	// The fake ignores type filters; children are pre-filtered per test.
	_ = typeFilter
	return d.children[locationID], nil
}

func (d *fakeDirectory) UsersAtLocation(_ context.Context, locationID string) ([]recipient.Contact, error) {
	ids, ok := d.atLocation[locationID]
	if !ok {
		return nil, recipient.ErrNotFound
	}
	return d.lookup(ids), nil
}

func (d *fakeDirectory) CaseProperty(_ context.Context, caseID, property string) (string, error) {
	return d.caseProps[caseID][property], nil
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		contacts: map[string]recipient.Contact{
			"u1": {ID: "u1", Name: "Ada", Timezone: "America/New_York", Active: true, UserData: map[string]string{"role": "chw"}},
			"u2": {ID: "u2", Name: "Grace", Active: true, UserData: map[string]string{"role": "nurse"}},
			"u3": {ID: "u3", Name: "Edith", Active: false},
		},
		groups:     map[string][]string{"g1": {"u1", "u2", "u3"}},
		caseGroups: map[string][]string{"cg1": {"u1"}},
		children:   map[string][]string{"loc-root": {"loc-a", "loc-b"}},
		atLocation: map[string][]string{
			"loc-root": {"u1"},
			"loc-a":    {"u2"},
			"loc-b":    {"u1"}, // u1 works at two locations
		},
		caseProps: map[string]map[string]string{
			"case-1": {"reminder_time": "17:45"},
		},
	}
}

func collect(t *testing.T, r *recipient.Resolver, ref recipient.Ref, opts recipient.ExpandOptions) []recipient.Contact {
	t.Helper()
	seq, err := r.Expand(context.Background(), ref, opts)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	var out []recipient.Contact
	for c := range seq {
		out = append(out, c)
	}
	return out
}

func TestExpand_DirectRecipient(t *testing.T) {
	r := recipient.NewResolver(newFakeDirectory(), nil)

	got := collect(t, r, recipient.Ref{Type: recipient.TypeMobileWorker, ID: "u1"}, recipient.ExpandOptions{})
	if len(got) != 1 || got[0].ID != "u1" {
		t.Fatalf("got %v, want just u1", got)
	}
}

func TestExpand_UnknownTypeIsAnError(t *testing.T) {
	r := recipient.NewResolver(newFakeDirectory(), nil)

	_, err := r.Expand(context.Background(), recipient.Ref{Type: "pigeon", ID: "x"}, recipient.ExpandOptions{})
	if !errors.Is(err, cadence.ErrUnknownRecipientType) {
		t.Fatalf("err = %v, want ErrUnknownRecipientType", err)
	}
}

func TestExpand_GoneRecipientYieldsNothing(t *testing.T) {
	r := recipient.NewResolver(newFakeDirectory(), nil)

	got := collect(t, r, recipient.Ref{Type: recipient.TypeCase, ID: "deleted"}, recipient.ExpandOptions{})
	if len(got) != 0 {
		t.Fatalf("deleted recipient expanded to %v", got)
	}
}

func TestExpand_DirectoryFailureYieldsNothing(t *testing.T) {
	dir := newFakeDirectory()
	dir.failContact = true
	r := recipient.NewResolver(dir, nil)

	got := collect(t, r, recipient.Ref{Type: recipient.TypeCase, ID: "u1"}, recipient.ExpandOptions{})
	if len(got) != 0 {
		t.Fatalf("failing directory expanded to %v", got)
	}
}

func TestExpand_GroupFiltersInactiveMembers(t *testing.T) {
	r := recipient.NewResolver(newFakeDirectory(), nil)

	got := collect(t, r, recipient.Ref{Type: recipient.TypeUserGroup, ID: "g1"}, recipient.ExpandOptions{})
	if len(got) != 2 {
		t.Fatalf("got %d contacts, want 2 (u3 is inactive)", len(got))
	}
	for _, c := range got {
		if c.ID == "u3" {
			t.Error("inactive contact u3 should be filtered out")
		}
	}
}

func TestExpand_UserDataFilter(t *testing.T) {
	r := recipient.NewResolver(newFakeDirectory(), nil)

	got := collect(t, r, recipient.Ref{Type: recipient.TypeUserGroup, ID: "g1"}, recipient.ExpandOptions{
		UserDataFilter: map[string][]string{"role": {"chw"}},
	})
	if len(got) != 1 || got[0].ID != "u1" {
		t.Fatalf("got %v, want just u1", got)
	}
}

func TestExpand_LocationWithDescendantsDeduplicates(t *testing.T) {
	r := recipient.NewResolver(newFakeDirectory(), nil)
	ref := recipient.Ref{Type: recipient.TypeLocation, ID: "loc-root"}

	// Without descendants only the root's own users appear.
	got := collect(t, r, ref, recipient.ExpandOptions{})
	if len(got) != 1 || got[0].ID != "u1" {
		t.Fatalf("got %v, want just u1", got)
	}

	// With descendants u1 appears at two locations but is yielded once.
	got = collect(t, r, ref, recipient.ExpandOptions{IncludeDescendantLocations: true})
	if len(got) != 2 {
		t.Fatalf("got %d contacts, want 2 after de-duplication", len(got))
	}
	seen := map[string]int{}
	for _, c := range got {
		seen[c.ID]++
	}
	if seen["u1"] != 1 || seen["u2"] != 1 {
		t.Fatalf("got %v, want u1 and u2 exactly once each", seen)
	}
}

func TestTimezoneName(t *testing.T) {
	r := recipient.NewResolver(newFakeDirectory(), nil)
	ctx := context.Background()

	if tz := r.TimezoneName(ctx, recipient.Ref{Type: recipient.TypeMobileWorker, ID: "u1"}); tz != "America/New_York" {
		t.Errorf("tz = %q", tz)
	}
	if tz := r.TimezoneName(ctx, recipient.Ref{Type: recipient.TypeMobileWorker, ID: "deleted"}); tz != "" {
		t.Errorf("deleted recipient tz = %q, want empty", tz)
	}
	// Group references run in the domain default timezone.
	if tz := r.TimezoneName(ctx, recipient.Ref{Type: recipient.TypeUserGroup, ID: "g1"}); tz != "" {
		t.Errorf("group tz = %q, want empty", tz)
	}
}

func TestCaseProps(t *testing.T) {
	r := recipient.NewResolver(newFakeDirectory(), nil)
	props := r.CaseProps(context.Background(), "case-1")

	if v, ok := props("reminder_time"); !ok || v != "17:45" {
		t.Errorf("reminder_time = %q, %v", v, ok)
	}
	if _, ok := props("missing"); ok {
		t.Error("absent property should read as missing")
	}
}

func TestRegister_CustomType(t *testing.T) {
	r := recipient.NewResolver(newFakeDirectory(), nil)
	r.Register("everyone", func(ctx context.Context, dir recipient.Directory, _ recipient.Ref, _ recipient.ExpandOptions) ([]recipient.Contact, error) {
		return dir.GroupMembers(ctx, "g1")
	})

	got := collect(t, r, recipient.Ref{Type: "everyone", ID: "-"}, recipient.ExpandOptions{})
	if len(got) != 2 {
		t.Fatalf("custom type expanded to %d contacts, want 2", len(got))
	}
}

package id_test

import (
	"encoding/json"
	"testing"

	"github.com/dimagi/cadence/id"
)

func TestNew_GeneratesValidPrefixedIDs(t *testing.T) {
	cases := []struct {
		name   string
		newID  func() id.ID
		prefix id.Prefix
	}{
		{"schedule", id.NewScheduleID, id.PrefixSchedule},
		{"instance", id.NewInstanceID, id.PrefixInstance},
		{"job", id.NewJobID, id.PrefixJob},
		{"worker", id.NewWorkerID, id.PrefixWorker},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.newID()
			if got.IsNil() {
				t.Fatal("generated ID is nil")
			}
			if got.Prefix() != tc.prefix {
				t.Errorf("prefix = %q, want %q", got.Prefix(), tc.prefix)
			}
		})
	}
}

func TestParse_RoundTrip(t *testing.T) {
	orig := id.NewInstanceID()

	parsed, err := id.Parse(orig.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.String() != orig.String() {
		t.Errorf("round trip = %q, want %q", parsed.String(), orig.String())
	}
}

func TestParse_EmptyString(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestParseWithPrefix_RejectsWrongPrefix(t *testing.T) {
	jobID := id.NewJobID()

	if _, err := id.ParseInstanceID(jobID.String()); err == nil {
		t.Error("expected prefix mismatch error")
	}
}

func TestID_IsKSortable(t *testing.T) {
	a := id.NewJobID()
	b := id.NewJobID()

	// UUIDv7 suffixes generated in sequence must sort in creation order.
	if !(a.String() < b.String()) {
		t.Errorf("expected %q < %q", a.String(), b.String())
	}
}

func TestID_JSONRoundTrip(t *testing.T) {
	type wrapper struct {
		ID id.ScheduleID `json:"id"`
	}

	orig := wrapper{ID: id.NewScheduleID()}
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded wrapper
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.ID.String() != orig.ID.String() {
		t.Errorf("round trip = %q, want %q", decoded.ID.String(), orig.ID.String())
	}
}

func TestNil_MarshalsToEmpty(t *testing.T) {
	data, err := id.Nil.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("nil ID marshals to %q, want empty", data)
	}

	var parsed id.ID
	if err := parsed.UnmarshalText(nil); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if !parsed.IsNil() {
		t.Error("unmarshal of empty text should yield Nil")
	}
}

func TestScan_SQLValues(t *testing.T) {
	orig := id.NewInstanceID()

	var scanned id.ID
	if err := scanned.Scan(orig.String()); err != nil {
		t.Fatalf("Scan(string): %v", err)
	}
	if scanned.String() != orig.String() {
		t.Errorf("Scan(string) = %q, want %q", scanned.String(), orig.String())
	}

	var fromNil id.ID
	if err := fromNil.Scan(nil); err != nil {
		t.Fatalf("Scan(nil): %v", err)
	}
	if !fromNil.IsNil() {
		t.Error("Scan(nil) should yield Nil")
	}

	var fromInt id.ID
	if err := fromInt.Scan(42); err == nil {
		t.Error("Scan(int) should fail")
	}
}

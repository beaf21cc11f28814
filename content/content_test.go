package content_test

import (
	"testing"

	"github.com/dimagi/cadence/content"
	"github.com/dimagi/cadence/recipient"
)

func TestMessage_LocaleFallback(t *testing.T) {
	c := content.SMS(map[string]string{
		"hin": "नमस्ते",
		"*":   "hello",
	})

	if m, ok := c.Message("hin"); !ok || m != "नमस्ते" {
		t.Errorf("hin = %q, %v", m, ok)
	}
	if m, ok := c.Message("fra"); !ok || m != "hello" {
		t.Errorf("fra should fall back to default, got %q, %v", m, ok)
	}
	if m, ok := c.Message(""); !ok || m != "hello" {
		t.Errorf("empty locale should fall back to default, got %q, %v", m, ok)
	}

	// No default: any non-empty message beats nothing.
	c = content.SMS(map[string]string{"hin": "नमस्ते"})
	if m, ok := c.Message("fra"); !ok || m != "नमस्ते" {
		t.Errorf("last-resort fallback got %q, %v", m, ok)
	}

	c = content.SMS(map[string]string{"hin": ""})
	if _, ok := c.Message("hin"); ok {
		t.Error("empty templates should not resolve")
	}
}

func TestRender_SubstitutesPlaceholders(t *testing.T) {
	c := content.SMS(map[string]string{
		"*": "Hi {name}, your visit at {facility} is tomorrow.",
	})
	contact := recipient.Contact{
		ID:       "u1",
		Name:     "Ada",
		Language: "eng",
		UserData: map[string]string{"facility": "Clinic A"},
	}

	got, err := c.Render(contact)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if want := "Hi Ada, your visit at Clinic A is tomorrow."; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRender_NoMessageIsAnError(t *testing.T) {
	c := content.SMS(map[string]string{})
	if _, err := c.Render(recipient.Contact{Language: "eng"}); err == nil {
		t.Error("rendering empty content should fail")
	}
}

func TestValidate(t *testing.T) {
	if err := content.SMS(map[string]string{"*": "hello"}).Validate(); err != nil {
		t.Errorf("valid content rejected: %v", err)
	}
	if err := content.SMS(map[string]string{}).Validate(); err == nil {
		t.Error("content with no message should be invalid")
	}
	if err := (content.Content{Messages: map[string]string{"*": "x"}}).Validate(); err == nil {
		t.Error("content with no type should be invalid")
	}
}

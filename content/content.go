// Package content models the renderable payload delivered at a schedule
// event and the channel through which it reaches a contact. SMS is the
// only built-in content type; the type tag is extensible so host
// platforms can register additional channels.
package content

import (
	"fmt"
	"strings"

	"github.com/dimagi/cadence/recipient"
)

// Type discriminates content variants.
type Type string

// TypeSMS is the built-in SMS content type.
const TypeSMS Type = "sms"

// DefaultLocale is the message-map key holding the fallback message used
// when no message exists for a contact's language.
const DefaultLocale = "*"

// Content is a renderable message templated by locale.
type Content struct {
	Type Type `json:"type"`

	// Messages maps a locale code to a message template. The "*" key is
	// the default used when a contact's language has no entry.
	Messages map[string]string `json:"messages"`
}

// SMS builds SMS content from a locale→template map.
func SMS(messages map[string]string) Content {
	return Content{Type: TypeSMS, Messages: messages}
}

// Message returns the raw template for the given locale, falling back to
// the default locale and finally to any message present.
func (c Content) Message(locale string) (string, bool) {
	if m, ok := c.Messages[locale]; ok && m != "" {
		return m, true
	}
	if m, ok := c.Messages[DefaultLocale]; ok && m != "" {
		return m, true
	}
	for _, m := range c.Messages {
		if m != "" {
			return m, true
		}
	}
	return "", false
}

// Render produces the message for a contact in the contact's language,
// substituting {name}-style placeholders from the contact's attributes
// and user data.
func (c Content) Render(contact recipient.Contact) (string, error) {
	tmpl, ok := c.Message(contact.Language)
	if !ok {
		return "", fmt.Errorf("content: no message for locale %q", contact.Language)
	}

	replacements := []string{
		"{name}", contact.Name,
		"{phone_number}", contact.PhoneNumber,
	}
	for k, v := range contact.UserData {
		replacements = append(replacements, "{"+k+"}", v)
	}
	return strings.NewReplacer(replacements...).Replace(tmpl), nil
}

// Validate reports whether the content is well-formed enough to deliver.
func (c Content) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("content: missing type")
	}
	if _, ok := c.Message(DefaultLocale); !ok {
		return fmt.Errorf("content: no non-empty message")
	}
	return nil
}

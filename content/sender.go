package content

import (
	"context"
	"log/slog"

	"github.com/dimagi/cadence/recipient"
)

// Sender delivers rendered content to a contact. It is an external
// collaborator with fire-and-log semantics: a send failure is logged by
// the caller and the next scheduled occurrence is the de-facto retry.
// There is no delivery-confirmation feedback into the state machine.
type Sender interface {
	Send(ctx context.Context, contact recipient.Contact, c Content) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, contact recipient.Contact, c Content) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, contact recipient.Contact, c Content) error {
	return f(ctx, contact, c)
}

// LogSender renders content and writes it to a structured log instead of
// delivering it. Useful in development and as a safe default.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send implements Sender.
func (s *LogSender) Send(_ context.Context, contact recipient.Contact, c Content) error {
	msg, err := c.Render(contact)
	if err != nil {
		return err
	}
	s.logger.Info("message delivered to log",
		slog.String("content_type", string(c.Type)),
		slog.String("contact_id", contact.ID),
		slog.String("phone_number", contact.PhoneNumber),
		slog.String("message", msg),
	)
	return nil
}

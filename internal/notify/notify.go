// Package notify defines the outbound delivery boundary.
//
// The dispatcher hands each due schedule entry to a Sender; everything behind
// that interface (SMTP, webhooks, SMS gateways) is a deployment concern. The
// default LogSender writes structured delivery records with zerolog, which is
// enough for local runs and for tests.
package notify

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-deadman-backend/internal/domain"
)

// Delivery is the payload handed to a Sender: the due entry plus the owning
// condition and message rows, pre-loaded so senders never touch the DB.
type Delivery struct {
	Entry     *domain.ReminderScheduleEntry
	Condition *domain.Condition
	Message   *domain.Message
}

// Sender delivers one reminder or final message. Implementations must be
// safe for concurrent use; a non-nil error marks the attempt failed and the
// dispatcher owns the retry policy.
type Sender interface {
	Send(ctx context.Context, d Delivery) error
}

// LogSender is the default Sender: it emits one structured log line per
// delivery and always succeeds.
type LogSender struct{}

// Send implements Sender.
func (LogSender) Send(_ context.Context, d Delivery) error {
	log.Info().
		Str("entry_id", d.Entry.ID).
		Str("condition_id", d.Condition.ID).
		Str("message_id", d.Message.ID).
		Str("recipient", d.Message.Recipient).
		Str("reminder_type", string(d.Entry.ReminderType)).
		Str("priority", string(d.Entry.Priority)).
		Time("scheduled_at", d.Entry.ScheduledAt).
		Msg("Reminder delivered")
	return nil
}

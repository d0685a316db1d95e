package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-deadman-backend/internal/domain"
	"github.com/tbourn/go-deadman-backend/internal/events"
	"github.com/tbourn/go-deadman-backend/internal/notify"
	"github.com/tbourn/go-deadman-backend/internal/repo"
	"github.com/tbourn/go-deadman-backend/internal/schedule"
	"github.com/tbourn/go-deadman-backend/internal/services"
)

// Defaults applied by NewDispatcher when the corresponding option is zero.
const (
	DefaultInterval    = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultBackoffBase = time.Minute
	DefaultBackoffCap  = 15 * time.Minute
)

// Dispatcher polls for due pending entries and hands them to the Sender.
// One Dispatcher runs per process; Run is the long-lived loop and Notify
// wakes it early after state changes so deliveries are not stuck behind the
// poll interval.
type Dispatcher struct {
	DB         *gorm.DB
	Sender     notify.Sender
	Bus        *events.Bus
	Reconciler *services.Reconciler

	Interval    time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// Now returns the current time; tests pin it.
	Now func() time.Time

	wake chan struct{}
}

// NewDispatcher constructs a Dispatcher with defaults filled in.
func NewDispatcher(db *gorm.DB, sender notify.Sender, rec *services.Reconciler, bus *events.Bus) *Dispatcher {
	return &Dispatcher{
		DB:          db,
		Sender:      sender,
		Bus:         bus,
		Reconciler:  rec,
		Interval:    DefaultInterval,
		MaxRetries:  DefaultMaxRetries,
		BackoffBase: DefaultBackoffBase,
		BackoffCap:  DefaultBackoffCap,
		Now:         func() time.Time { return time.Now().UTC() },
		wake:        make(chan struct{}, 1),
	}
}

// Notify requests an early tick. It never blocks; a wake-up already queued
// covers any number of callers.
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run executes the dispatch loop until ctx is cancelled. It also subscribes
// to the event bus so arms, check-ins, and schedule updates shorten the wait
// for the next tick.
func (d *Dispatcher) Run(ctx context.Context) {
	var unsubscribe func()
	if d.Bus != nil {
		var ch <-chan events.Event
		ch, unsubscribe = d.Bus.Subscribe(events.Filter{})
		go func() {
			for range ch {
				d.Notify()
			}
		}()
	}
	if unsubscribe != nil {
		defer unsubscribe()
	}

	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()

	log.Info().Dur("interval", d.Interval).Msg("Dispatcher started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Dispatcher stopped")
			return
		case <-ticker.C:
		case <-d.wake:
		}
		if err := d.Tick(ctx); err != nil {
			log.Error().Err(err).Msg("Dispatch tick failed")
		}
	}
}

// Tick processes every entry due at the current time. Entries are handled
// independently: one failing send never blocks the rest of the batch.
func (d *Dispatcher) Tick(ctx context.Context) error {
	tr := otel.Tracer("dispatch/Dispatcher")
	ctx, span := tr.Start(ctx, "Tick")
	defer span.End()

	now := d.Now()
	due, err := repo.ListDuePending(ctx, d.DB, now)
	if err != nil {
		return err
	}
	duePending.Set(float64(len(due)))
	span.SetAttributes(attribute.Int("entries.due", len(due)))

	for i := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.processEntry(ctx, &due[i], now)
	}
	return nil
}

// ForceProcess reconciles one condition and immediately dispatches whatever
// entries come out due. Operators use it to push a stuck condition through
// without waiting for the sweep.
func (d *Dispatcher) ForceProcess(ctx context.Context, conditionID string) (int, error) {
	tr := otel.Tracer("dispatch/Dispatcher")
	ctx, span := tr.Start(ctx, "ForceProcess",
		trace.WithAttributes(attribute.String("condition.id", conditionID)),
	)
	defer span.End()

	now := d.Now()
	if _, _, err := d.Reconciler.Reconcile(ctx, conditionID, now); err != nil {
		return 0, err
	}
	due, err := repo.ListDuePendingForCondition(ctx, d.DB, conditionID, now)
	if err != nil {
		return 0, err
	}
	for i := range due {
		d.processEntry(ctx, &due[i], now)
	}
	return len(due), nil
}

// processEntry delivers a single due entry and records the outcome. The
// condition's armed state is re-checked here, at the last instant before the
// send, so a disarm that raced the due query wins.
func (d *Dispatcher) processEntry(ctx context.Context, entry *domain.ReminderScheduleEntry, now time.Time) {
	logger := log.With().
		Str("entry_id", entry.ID).
		Str("condition_id", entry.ConditionID).
		Str("reminder_type", string(entry.ReminderType)).
		Logger()

	cond, err := repo.GetCondition(ctx, d.DB, entry.ConditionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			d.cancelEntry(ctx, entry, "condition deleted")
			return
		}
		logger.Error().Err(err).Msg("Failed to load condition for due entry")
		return
	}
	if !cond.Active {
		d.cancelEntry(ctx, entry, "condition disarmed")
		return
	}

	msg, err := repo.GetMessage(ctx, d.DB, cond.MessageID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load message for due entry")
		d.recordFailure(ctx, entry, now, err)
		return
	}

	start := time.Now()
	sendErr := d.Sender.Send(ctx, notify.Delivery{Entry: entry, Condition: cond, Message: msg})
	dispatchLat.Observe(time.Since(start).Seconds())

	if sendErr != nil {
		logger.Warn().Err(sendErr).Int("retry_count", entry.RetryCount).Msg("Reminder send failed")
		d.recordFailure(ctx, entry, now, sendErr)
		return
	}

	if err := repo.MarkEntrySent(ctx, d.DB, entry.ID, now); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Lost the status guard: another worker or a cancel got there first.
			return
		}
		logger.Error().Err(err).Msg("Failed to mark entry sent")
		return
	}
	deliveryAttempts.WithLabelValues(string(entry.ReminderType), "sent").Inc()
	logger.Info().Str("recipient", msg.Recipient).Msg("Reminder sent")

	if d.Bus != nil {
		d.Bus.Publish(events.Event{
			Action:      events.ActionDelivered,
			ConditionID: cond.ID,
			MessageID:   cond.MessageID,
		})
	}

	if entry.ReminderType == domain.ReminderTypeFinal {
		if err := d.finalize(ctx, cond, now); err != nil {
			logger.Error().Err(err).Msg("Post-final handling failed")
		}
	}
}

// recordFailure applies the retry policy: exponential backoff pushes the
// entry's scheduled_at forward until MaxRetries attempts are exhausted, at
// which point the entry goes terminal failed.
func (d *Dispatcher) recordFailure(ctx context.Context, entry *domain.ReminderScheduleEntry, now time.Time, cause error) {
	if entry.RetryCount+1 >= d.MaxRetries {
		if err := repo.MarkEntryFailed(ctx, d.DB, entry.ID, cause.Error()); err != nil && !errors.Is(err, repo.ErrNotFound) {
			log.Error().Err(err).Str("entry_id", entry.ID).Msg("Failed to mark entry failed")
			return
		}
		deliveryAttempts.WithLabelValues(string(entry.ReminderType), "failed").Inc()
		if entry.ReminderType == domain.ReminderTypeFinal {
			// A dead final delivery needs a human; the sweep also surfaces it.
			log.Error().
				Str("entry_id", entry.ID).
				Str("condition_id", entry.ConditionID).
				Int("attempts", entry.RetryCount+1).
				Msg("Final delivery exhausted retries")
		}
		return
	}

	next := now.Add(d.backoff(entry.RetryCount))
	if err := repo.MarkEntryRetry(ctx, d.DB, entry.ID, next, cause.Error()); err != nil && !errors.Is(err, repo.ErrNotFound) {
		log.Error().Err(err).Str("entry_id", entry.ID).Msg("Failed to schedule retry")
		return
	}
	deliveryAttempts.WithLabelValues(string(entry.ReminderType), "retried").Inc()
}

// backoff returns the delay before attempt retryCount+1: base doubled per
// prior attempt, capped.
func (d *Dispatcher) backoff(retryCount int) time.Duration {
	delay := d.BackoffBase
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= d.BackoffCap {
			return d.BackoffCap
		}
	}
	if delay > d.BackoffCap {
		return d.BackoffCap
	}
	return delay
}

// finalize completes a condition after its final delivery succeeded. One-shot
// conditions disarm and drop any pending leftovers; recurring conditions
// advance their trigger date to the next occurrence and regenerate a fresh
// schedule, staying armed.
func (d *Dispatcher) finalize(ctx context.Context, cond *domain.Condition, now time.Time) error {
	if cond.ConditionType == domain.ConditionRecurring && !cond.Pattern.IsZero() {
		prior := now
		if cond.TriggerDate != nil {
			prior = *cond.TriggerDate
		}
		next, err := schedule.NextOccurrence(cond.Pattern, prior, now)
		if err != nil {
			return err
		}
		if err := repo.UpdateCondition(ctx, d.DB, cond.ID, map[string]any{
			"trigger_date": next,
			"last_checked": now,
		}); err != nil {
			return err
		}
		_, _, err = d.Reconciler.Reconcile(ctx, cond.ID, now)
		if err == nil {
			log.Info().
				Str("condition_id", cond.ID).
				Time("next_trigger", next).
				Msg("Recurring condition re-armed")
		}
		return err
	}

	return d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.UpdateCondition(ctx, tx, cond.ID, map[string]any{"active": false}); err != nil {
			return err
		}
		n, err := repo.CancelPendingForCondition(ctx, tx, cond.ID)
		if err != nil {
			return err
		}
		if n > 0 {
			log.Info().Str("condition_id", cond.ID).Int64("cancelled", n).Msg("Cancelled leftover entries after final delivery")
		}
		return nil
	})
}

// cancelEntry retires a due entry that must not be sent.
func (d *Dispatcher) cancelEntry(ctx context.Context, entry *domain.ReminderScheduleEntry, reason string) {
	if _, err := repo.CancelEntries(ctx, d.DB, []string{entry.ID}); err != nil {
		log.Error().Err(err).Str("entry_id", entry.ID).Msg("Failed to cancel entry")
		return
	}
	deliveryAttempts.WithLabelValues(string(entry.ReminderType), "cancelled").Inc()
	log.Debug().Str("entry_id", entry.ID).Str("reason", reason).Msg("Due entry cancelled")
}

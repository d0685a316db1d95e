// Package services – ConditionService
//
// This file implements ConditionService, the application-level component that
// owns the lifecycle of trigger conditions: creation, arming, disarming,
// check-ins, panic triggers, and reminder configuration edits. It validates
// configuration at arm time, mutates the Condition row (the single source of
// truth for "is this switch armed"), and delegates every schedule write to
// the Reconciler.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include condition/user identifiers.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-deadman-backend/internal/domain"
	"github.com/tbourn/go-deadman-backend/internal/events"
	"github.com/tbourn/go-deadman-backend/internal/repo"
	"github.com/tbourn/go-deadman-backend/internal/schedule"
)

// ConditionService coordinates condition state changes and schedule
// regeneration. Now is injectable for tests and defaults to the UTC clock.
type ConditionService struct {
	DB         *gorm.DB
	Reconciler *Reconciler
	Bus        *events.Bus

	// Now returns the current time; tests pin it.
	Now func() time.Time
}

// NewConditionService constructs a ConditionService on the shared DB handle.
func NewConditionService(db *gorm.DB, rec *Reconciler, bus *events.Bus) *ConditionService {
	return &ConditionService{
		DB:         db,
		Reconciler: rec,
		Bus:        bus,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *ConditionService) publish(e events.Event) {
	if s.Bus != nil {
		s.Bus.Publish(e)
	}
}

// Create persists a new, disarmed condition after checking that the owning
// message exists and normalizing the reminder offsets. Trigger configuration
// is validated here too so obviously broken conditions are rejected at
// creation rather than first arm.
func (s *ConditionService) Create(ctx context.Context, cond *domain.Condition) (*domain.Condition, error) {
	tr := otel.Tracer("services/ConditionService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(attribute.String("message.id", cond.MessageID)),
	)
	defer span.End()

	if _, err := repo.GetMessage(ctx, s.DB, cond.MessageID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	if err := schedule.Validate(cond); err != nil {
		return nil, err
	}
	offsets, err := domain.NewReminderOffsets(cond.ReminderMinutes)
	if err != nil {
		return nil, err
	}
	cond.ReminderMinutes = offsets
	cond.Active = false
	return repo.CreateCondition(ctx, s.DB, cond)
}

// Get returns a condition by id for the given user.
func (s *ConditionService) Get(ctx context.Context, userID, id string) (*domain.Condition, error) {
	cond, err := repo.GetCondition(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConditionNotFound
		}
		return nil, err
	}
	if cond.UserID != userID {
		return nil, ErrConditionNotFound
	}
	return cond, nil
}

// ConditionStatus is the read model for a single condition: the row itself
// plus the derived deadline and the next pending reminder, which clients
// display as "time remaining".
type ConditionStatus struct {
	Condition      *domain.Condition `json:"condition"`
	Deadline       *time.Time        `json:"deadline,omitempty"`
	NextReminderAt *time.Time        `json:"next_reminder_at,omitempty"`
}

// Status returns the condition with its computed deadline and the scheduled
// time of the next pending entry. Both are nil for disarmed conditions.
func (s *ConditionService) Status(ctx context.Context, userID, id string) (*ConditionStatus, error) {
	cond, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	st := &ConditionStatus{Condition: cond}
	if deadline, ok := schedule.Deadline(cond, s.Now()); ok {
		st.Deadline = &deadline
	}
	pending, err := repo.ListPendingEntries(ctx, s.DB, id)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		st.NextReminderAt = &pending[0].ScheduledAt
	}
	return st, nil
}

// ListPage returns a page of the user's conditions plus the total count.
func (s *ConditionService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Condition, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountConditions(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Condition{}, 0, nil
	}
	items, err := repo.ListConditionsPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// Arm activates the condition's countdown and returns the computed deadline
// for immediate UI feedback. Configuration problems reject the arm
// synchronously and leave the condition disarmed.
func (s *ConditionService) Arm(ctx context.Context, userID, id string) (time.Time, error) {
	tr := otel.Tracer("services/ConditionService")
	ctx, span := tr.Start(ctx, "Arm",
		trace.WithAttributes(
			attribute.String("condition.id", id),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	cond, err := s.Get(ctx, userID, id)
	if err != nil {
		return time.Time{}, err
	}
	if cond.Active {
		return time.Time{}, ErrAlreadyActive
	}
	if err := schedule.Validate(cond); err != nil {
		return time.Time{}, err
	}

	now := s.Now()
	fields := map[string]any{"active": true}
	if cond.LastChecked == nil {
		fields["last_checked"] = now
		cond.LastChecked = &now
	}
	cond.Active = true

	deadline, ok := schedule.Deadline(cond, now)
	if !ok {
		return time.Time{}, ErrMissingThresholdFor(cond)
	}

	if err := repo.UpdateCondition(ctx, s.DB, id, fields); err != nil {
		return time.Time{}, err
	}
	if _, _, err := s.Reconciler.Reconcile(ctx, id, now); err != nil {
		return time.Time{}, err
	}

	s.publish(events.Event{Action: events.ActionArm, ConditionID: id, MessageID: cond.MessageID})
	return deadline, nil
}

// Disarm deactivates the condition and synchronously cancels all pending
// entries in the same transaction, so an in-flight dispatch tick cannot
// deliver after the disarm commits.
func (s *ConditionService) Disarm(ctx context.Context, userID, id string) error {
	tr := otel.Tracer("services/ConditionService")
	ctx, span := tr.Start(ctx, "Disarm",
		trace.WithAttributes(
			attribute.String("condition.id", id),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	cond, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if uerr := repo.UpdateCondition(ctx, tx, id, map[string]any{"active": false}); uerr != nil {
			return uerr
		}
		_, cerr := repo.CancelPendingForCondition(ctx, tx, id)
		return cerr
	})
	if err != nil {
		return err
	}

	s.publish(events.Event{Action: events.ActionDisarm, ConditionID: id, MessageID: cond.MessageID})
	return nil
}

// CheckIn appends a check-in log row and stamps last_checked on every armed
// condition the user owns. Check-in based conditions additionally get their
// countdown reset and re-reconciled; for date-driven types the stamp is an
// activity record only and the deadline is untouched. Inactive conditions are
// skipped. A user with no armed conditions still gets the log row.
func (s *ConditionService) CheckIn(ctx context.Context, userID string, method domain.CheckInMethod) (*domain.CheckIn, error) {
	tr := otel.Tracer("services/ConditionService")
	ctx, span := tr.Start(ctx, "CheckIn",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("checkin.method", string(method)),
		),
	)
	defer span.End()

	switch method {
	case domain.CheckInApp, domain.CheckInWhatsApp, domain.CheckInEmail, domain.CheckInAPI:
	default:
		return nil, ErrInvalidCheckInMethod
	}

	now := s.Now()
	ci, err := repo.CreateCheckIn(ctx, s.DB, userID, method, now)
	if err != nil {
		return nil, err
	}

	conds, err := repo.ListActiveConditions(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	for _, cond := range conds {
		if uerr := repo.UpdateCondition(ctx, s.DB, cond.ID, map[string]any{"last_checked": now}); uerr != nil {
			return nil, uerr
		}
		if !cond.ConditionType.CheckInBased() {
			continue
		}
		if _, _, rerr := s.Reconciler.Reconcile(ctx, cond.ID, now); rerr != nil {
			return nil, rerr
		}
		s.publish(events.Event{Action: events.ActionCheckIn, ConditionID: cond.ID, MessageID: cond.MessageID})
	}
	return ci, nil
}

// Panic arms a panic_trigger condition for immediate delivery: the deadline
// is now, the schedule collapses to the final delivery, and the next dispatch
// tick (or a ForceProcess) sends it.
func (s *ConditionService) Panic(ctx context.Context, userID, id string) error {
	tr := otel.Tracer("services/ConditionService")
	ctx, span := tr.Start(ctx, "Panic",
		trace.WithAttributes(
			attribute.String("condition.id", id),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	cond, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if cond.ConditionType != domain.ConditionPanicTrigger {
		return ErrNotPanic
	}

	now := s.Now()
	if err := repo.UpdateCondition(ctx, s.DB, id, map[string]any{
		"active":       true,
		"last_checked": now,
	}); err != nil {
		return err
	}
	if _, _, err := s.Reconciler.Reconcile(ctx, id, now); err != nil {
		return err
	}

	s.publish(events.Event{Action: events.ActionArm, ConditionID: id, MessageID: cond.MessageID, Optimistic: false})
	return nil
}

// UpdateReminderConfig replaces the condition's threshold and reminder
// offsets. When the condition is armed the schedule is re-reconciled under
// the new configuration immediately.
func (s *ConditionService) UpdateReminderConfig(ctx context.Context, userID, id string, thresholdMinutes int, reminderMinutes []int) (*domain.Condition, error) {
	tr := otel.Tracer("services/ConditionService")
	ctx, span := tr.Start(ctx, "UpdateReminderConfig",
		trace.WithAttributes(attribute.String("condition.id", id)),
	)
	defer span.End()

	cond, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	offsets, err := domain.NewReminderOffsets(reminderMinutes)
	if err != nil {
		return nil, err
	}

	probe := *cond
	probe.ThresholdMinutes = thresholdMinutes
	probe.ReminderMinutes = offsets
	if cond.Active {
		if verr := schedule.Validate(&probe); verr != nil {
			return nil, verr
		}
	}

	if err := repo.UpdateCondition(ctx, s.DB, id, map[string]any{
		"threshold_minutes": thresholdMinutes,
		"reminder_minutes":  offsets,
	}); err != nil {
		return nil, err
	}

	if cond.Active {
		if _, _, rerr := s.Reconciler.Reconcile(ctx, id, s.Now()); rerr != nil {
			return nil, rerr
		}
	}

	s.publish(events.Event{Action: events.ActionUpdate, ConditionID: id, MessageID: cond.MessageID})
	return s.Get(ctx, userID, id)
}

// ErrMissingThresholdFor maps an un-derivable deadline to the matching
// configuration error for the condition's type.
func ErrMissingThresholdFor(cond *domain.Condition) error {
	if cond.ConditionType.ScheduleBased() {
		return schedule.ErrMissingTriggerDate
	}
	return schedule.ErrMissingThreshold
}

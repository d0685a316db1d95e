// Package domain defines the persistence models for messages, trigger
// conditions, reminder schedule entries, and check-ins. These types are
// mapped with GORM and form the core data layer of the dead man's switch
// backend.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// ConditionType enumerates the supported trigger semantics for a Condition.
type ConditionType string

// Supported condition types. Check-in based types derive their deadline from
// LastChecked plus the configured threshold; schedule based types derive it
// from TriggerDate (optionally advanced by a recurring pattern).
const (
	ConditionNoCheckIn        ConditionType = "no_check_in"
	ConditionRegularCheckIn   ConditionType = "regular_check_in"
	ConditionScheduled        ConditionType = "scheduled"
	ConditionRecurring        ConditionType = "recurring"
	ConditionPanicTrigger     ConditionType = "panic_trigger"
	ConditionInactivityToDate ConditionType = "inactivity_to_date"
)

// CheckInBased reports whether the condition type computes its deadline from
// the last check-in timestamp rather than an absolute trigger date.
func (t ConditionType) CheckInBased() bool {
	switch t {
	case ConditionNoCheckIn, ConditionRegularCheckIn, ConditionInactivityToDate:
		return true
	}
	return false
}

// ScheduleBased reports whether the condition type computes its deadline from
// an absolute trigger date.
func (t ConditionType) ScheduleBased() bool {
	return t == ConditionScheduled || t == ConditionRecurring
}

// Valid reports whether t is one of the known condition types.
func (t ConditionType) Valid() bool {
	switch t {
	case ConditionNoCheckIn, ConditionRegularCheckIn, ConditionScheduled,
		ConditionRecurring, ConditionPanicTrigger, ConditionInactivityToDate:
		return true
	}
	return false
}

// RecurrenceType enumerates the supported recurring pattern periods.
type RecurrenceType string

// Recurring pattern periods.
const (
	RecurDaily   RecurrenceType = "daily"
	RecurWeekly  RecurrenceType = "weekly"
	RecurMonthly RecurrenceType = "monthly"
	RecurYearly  RecurrenceType = "yearly"
)

// RecurringPattern describes how a recurring condition advances its trigger
// date after each delivery. It is embedded into the Condition row.
//
// Fields:
//   - Type: period of the recurrence (daily/weekly/monthly/yearly).
//   - Interval: number of periods between occurrences (>= 1).
//   - Day: optional day snap: weekday 0 to 6 for weekly patterns, day of month
//     1–31 for monthly/yearly patterns. 0 means "not set".
//   - Month: optional month snap (1–12) for yearly patterns. 0 means "not set".
//   - StartTime: optional "HH:MM" wall-clock time of each occurrence.
type RecurringPattern struct {
	Type      RecurrenceType `json:"type"       gorm:"column:recur_type;type:varchar(16)"`
	Interval  int            `json:"interval"   gorm:"column:recur_interval"`
	Day       int            `json:"day,omitempty"        gorm:"column:recur_day"`
	Month     int            `json:"month,omitempty"      gorm:"column:recur_month"`
	StartTime string         `json:"start_time,omitempty" gorm:"column:recur_start_time;type:varchar(5)"`
}

// IsZero reports whether no recurring pattern has been configured.
func (p RecurringPattern) IsZero() bool { return p.Type == "" }

// Message is the minimal owning row for a condition: it identifies the user
// who authored the switch and the recipient the final delivery goes to.
// Content authoring and encryption live outside this service.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - UserID: identifier of the message owner; indexed for check-in fan-out.
//   - Title: short human-readable label shown in list views.
//   - Recipient: opaque recipient address handed to the notification sender.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker (cascades to the condition).
type Message struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string         `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_user_messages"`
	Title     string         `json:"title"      gorm:"type:varchar(255);not null;default:'Untitled message'"`
	Recipient string         `json:"recipient"  gorm:"type:varchar(255);not null"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Condition governs when and how its owning message becomes due. There is at
// most one condition per message (1:1, enforced by unique index).
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - MessageID: foreign key to the owning message (unique).
//   - UserID: denormalized owner id so check-ins can fan out without a join.
//   - ConditionType: trigger semantics (see ConditionType).
//   - ThresholdMinutes: check-in window in minutes. Hours+minutes inputs are
//     normalized to this single field at the API edge.
//   - TriggerDate: absolute deadline for schedule-based types.
//   - Pattern: recurring advance rule (embedded; zero for non-recurring).
//   - LastChecked: timestamp of the most recent check-in or reset.
//   - Active: whether the switch is armed. false implies no pending entries.
//   - ReminderMinutes: comma-separated minutes-before-deadline offsets,
//     stored sorted descending (e.g. "1440,360,60,15").
//   - ScheduleVersion: bumped by every committed reconciliation; stale
//     reconciliations detect the bump and abandon their writes.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker.
//   - Message: FK association, ensures cascade delete/update.
type Condition struct {
	ID               string           `json:"id"                gorm:"type:char(36);primaryKey"`
	MessageID        string           `json:"message_id"        gorm:"type:char(36);not null;uniqueIndex:ux_condition_message"`
	UserID           string           `json:"user_id"           gorm:"type:varchar(64);not null;index:idx_user_conditions"`
	ConditionType    ConditionType    `json:"condition_type"    gorm:"type:varchar(32);not null"`
	ThresholdMinutes int              `json:"threshold_minutes" gorm:"not null;default:0"`
	TriggerDate      *time.Time       `json:"trigger_date,omitempty"`
	Pattern          RecurringPattern `json:"recurring_pattern" gorm:"embedded"`
	LastChecked      *time.Time       `json:"last_checked,omitempty"`
	Active           bool             `json:"active"            gorm:"not null;default:false;index"`
	ReminderMinutes  ReminderOffsets  `json:"reminder_minutes"  gorm:"type:text"`
	ScheduleVersion  int64            `json:"-"                 gorm:"not null;default:0"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	DeletedAt        gorm.DeletedAt   `json:"-"                 gorm:"index"`

	// Message is the owning message. The condition is cascade-deleted if the
	// message is removed.
	Message Message `json:"-" gorm:"foreignKey:MessageID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Condition.
func (Condition) TableName() string { return "conditions" }

// ReminderType distinguishes pre-deadline reminders from the final delivery.
type ReminderType string

// Entry types.
const (
	ReminderTypeReminder ReminderType = "reminder"
	ReminderTypeFinal    ReminderType = "final_delivery"
)

// Priority classifies how urgently an entry should be delivered.
type Priority string

// Priorities. Critical applies to entries within the last hour before the
// deadline and to every final delivery.
const (
	PriorityNormal   Priority = "normal"
	PriorityCritical Priority = "critical"
)

// EntryStatus is the lifecycle state of a schedule entry.
type EntryStatus string

// Entry statuses. Sent, failed, and cancelled are terminal; pending entries
// may loop back to pending on retryable delivery failures.
const (
	EntryPending   EntryStatus = "pending"
	EntrySent      EntryStatus = "sent"
	EntryFailed    EntryStatus = "failed"
	EntryCancelled EntryStatus = "cancelled"
)

// ReminderScheduleEntry is one planned notification: a single (condition,
// offset) pair materialized at a concrete scheduled time. Entries are never
// deleted; superseded ones are cancelled and retained for audit.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - ConditionID: foreign key to the owning condition (indexed).
//   - MessageID: denormalized owning message id for the sender.
//   - ScheduledAt: deadline minus OffsetMinutes (pushed forward on retry).
//   - OffsetMinutes: minutes before the deadline this entry represents;
//     0 for the final delivery.
//   - ReminderType / Priority / Status: see the respective enums.
//   - RetryCount: delivery attempts that failed so far.
//   - LastError: most recent delivery error, for the ops view.
//   - SentAt: delivery timestamp, nil until sent.
type ReminderScheduleEntry struct {
	ID            string       `json:"id"             gorm:"type:char(36);primaryKey"`
	ConditionID   string       `json:"condition_id"   gorm:"type:char(36);not null;index:idx_condition_entries,priority:1"`
	MessageID     string       `json:"message_id"     gorm:"type:char(36);not null"`
	ScheduledAt   time.Time    `json:"scheduled_at"   gorm:"not null;index:idx_due_entries,priority:2"`
	OffsetMinutes int          `json:"offset_minutes" gorm:"not null;default:0"`
	ReminderType  ReminderType `json:"reminder_type"  gorm:"type:varchar(16);not null"`
	Priority      Priority     `json:"priority"       gorm:"type:varchar(16);not null;default:'normal'"`
	Status        EntryStatus  `json:"status"         gorm:"type:varchar(16);not null;default:'pending';index:idx_due_entries,priority:1"`
	RetryCount    int          `json:"retry_count"    gorm:"not null;default:0"`
	LastError     *string      `json:"last_error,omitempty" gorm:"type:text"`
	SentAt        *time.Time   `json:"sent_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"     gorm:"index:idx_condition_entries,priority:2"`
	UpdatedAt     time.Time    `json:"updated_at"`

	// Condition is the owning condition. Entries are cascade-deleted only if
	// the condition row itself is hard-deleted.
	Condition Condition `json:"-" gorm:"foreignKey:ConditionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ReminderScheduleEntry.
func (ReminderScheduleEntry) TableName() string { return "reminder_schedule_entries" }

// CheckInMethod identifies the channel a check-in arrived on.
type CheckInMethod string

// Check-in methods.
const (
	CheckInApp      CheckInMethod = "app"
	CheckInWhatsApp CheckInMethod = "whatsapp"
	CheckInEmail    CheckInMethod = "email"
	CheckInAPI      CheckInMethod = "api"
)

// CheckIn is an append-only log row recording that a user confirmed they are
// alive. It drives LastChecked updates on the user's active conditions and is
// otherwise not consumed by scheduling math.
type CheckIn struct {
	ID        string        `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string        `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_user_checkins,priority:1"`
	Method    CheckInMethod `json:"method"     gorm:"type:varchar(16);not null"`
	CreatedAt time.Time     `json:"created_at" gorm:"index:idx_user_checkins,priority:2"`
}

// TableName returns the database table name for CheckIn.
func (CheckIn) TableName() string { return "check_ins" }

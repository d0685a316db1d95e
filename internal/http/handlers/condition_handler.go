// Condition HTTP handlers.
//
// This file exposes REST endpoints for condition resources:
//   - POST /conditions                 (create message + trigger condition)
//   - GET  /conditions                 (list, paginated, ETag support)
//   - GET  /conditions/{id}            (status incl. computed deadline)
//   - POST /conditions/{id}/arm        (arm; returns deadline; idempotent)
//   - POST /conditions/{id}/disarm
//   - POST /conditions/{id}/panic      (immediate trigger)
//   - PUT  /conditions/{id}/reminders  (update threshold/offsets)
//   - GET  /conditions/{id}/schedule   (entry audit trail)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-deadman-backend/internal/cache"
	"github.com/tbourn/go-deadman-backend/internal/domain"
	"github.com/tbourn/go-deadman-backend/internal/http/middleware"
	"github.com/tbourn/go-deadman-backend/internal/repo"
	"github.com/tbourn/go-deadman-backend/internal/schedule"
	"github.com/tbourn/go-deadman-backend/internal/services"
	"github.com/tbourn/go-deadman-backend/internal/sysutil"
	"github.com/tbourn/go-deadman-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// ConditionService defines condition lifecycle operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ConditionService interface {
	// Create persists a new disarmed condition after validating its config.
	Create(ctx context.Context, cond *domain.Condition) (*domain.Condition, error)
	// Status returns a condition with its computed deadline and next reminder.
	Status(ctx context.Context, userID, id string) (*services.ConditionStatus, error)
	// ListPage returns a page of the user's conditions and the total count.
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Condition, int64, error)
	// Arm activates the countdown and returns the computed deadline.
	Arm(ctx context.Context, userID, id string) (time.Time, error)
	// Disarm deactivates the condition and cancels its pending entries.
	Disarm(ctx context.Context, userID, id string) error
	// Panic triggers immediate delivery for a panic_trigger condition.
	Panic(ctx context.Context, userID, id string) error
	// UpdateReminderConfig replaces the threshold and reminder offsets.
	UpdateReminderConfig(ctx context.Context, userID, id string, thresholdMinutes int, reminderMinutes []int) (*domain.Condition, error)
	// CheckIn logs a check-in and resets every armed check-in condition.
	CheckIn(ctx context.Context, userID string, method domain.CheckInMethod) (*domain.CheckIn, error)
}

// AdminService defines operator remediation operations.
type AdminService interface {
	// ResetStuck re-reconciles stalled conditions; returns how many recovered.
	ResetStuck(ctx context.Context) (int, error)
	// ForceProcess dispatches all currently-due entries for one condition.
	ForceProcess(ctx context.Context, conditionID string) (int, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for conditions, check-ins, and admin
// remediation. It depends on abstract service interfaces to keep transport
// concerns separate from business logic.
type Handlers struct {
	condSvc ConditionService
	admin   AdminService

	// statusCache absorbs repeated status reads between schedule changes.
	// Nil disables caching (tests).
	statusCache *cache.TTL[*services.ConditionStatus]

	// idemTTL bounds how long an Idempotency-Key replays a prior result.
	idemTTL time.Duration
}

// New constructs and returns a Handlers instance bound to the given services.
func New(condSvc ConditionService, admin AdminService, statusCache *cache.TTL[*services.ConditionStatus], idemTTL time.Duration) *Handlers {
	if idemTTL <= 0 {
		idemTTL = 24 * time.Hour
	}
	return &Handlers{condSvc: condSvc, admin: admin, statusCache: statusCache, idemTTL: idemTTL}
}

// StatusCache exposes the handler's status cache so wiring code can hook
// invalidation onto the event bus.
func (h *Handlers) StatusCache() *cache.TTL[*services.ConditionStatus] { return h.statusCache }

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to the "X-User-ID" header (tests use
// it), then the user_id query param, and finally to "demo-user". It never
// touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if v := sysutil.FirstNonEmpty(c.GetHeader("X-User-ID"), c.Query("user_id")); v != "" {
			return strings.TrimSpace(v)
		}
	}
	return "demo-user"
}

//
// DTOs
//

// RecurringPatternRequest mirrors domain.RecurringPattern for JSON binding.
type RecurringPatternRequest struct {
	Type      string `json:"type" example:"weekly"`
	Interval  int    `json:"interval" example:"1"`
	Day       int    `json:"day,omitempty" example:"1"`
	Month     int    `json:"month,omitempty"`
	StartTime string `json:"start_time,omitempty" example:"09:00"`
}

// CreateConditionRequest is the JSON payload for creating a condition along
// with its owning message. Threshold hours and minutes are accepted
// separately and normalized to minutes internally.
type CreateConditionRequest struct {
	Title            string                   `json:"title" example:"If you are reading this"`
	Recipient        string                   `json:"recipient" binding:"required" example:"alice@example.com"`
	ConditionType    string                   `json:"condition_type" binding:"required" example:"no_check_in"`
	ThresholdHours   int                      `json:"threshold_hours" example:"24"`
	ThresholdMinutes int                      `json:"threshold_minutes" example:"0"`
	TriggerDate      *time.Time               `json:"trigger_date,omitempty"`
	RecurringPattern *RecurringPatternRequest `json:"recurring_pattern,omitempty"`
	ReminderMinutes  []int                    `json:"reminder_minutes" example:"1440,360,60,15"`
}

// UpdateRemindersRequest is the JSON payload for updating reminder config.
type UpdateRemindersRequest struct {
	ThresholdHours   int   `json:"threshold_hours"`
	ThresholdMinutes int   `json:"threshold_minutes"`
	ReminderMinutes  []int `json:"reminder_minutes" binding:"required"`
}

// ArmResponse reports the deadline computed when a condition was armed.
type ArmResponse struct {
	ConditionID string    `json:"condition_id"`
	Deadline    time.Time `json:"deadline"`
	Active      bool      `json:"active"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListConditionsResponse wraps a page of conditions and pagination info.
type ListConditionsResponse struct {
	Conditions []domain.Condition `json:"conditions"`
	Pagination Pagination         `json:"pagination"`
}

// ScheduleResponse wraps the audit trail of a condition's schedule entries.
type ScheduleResponse struct {
	Entries    []domain.ReminderScheduleEntry `json:"entries"`
	Pagination Pagination                     `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.ClampInt(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return page, pageSize
}

// normalizeThreshold folds separate hour and minute inputs into total minutes.
func normalizeThreshold(hours, minutes int) int {
	return hours*60 + minutes
}

// conditionDB unwraps the concrete service to reach the shared DB handle for
// best-effort concerns (ETag stats, audit reads, idempotency records).
func (h *Handlers) conditionDB() *gorm.DB {
	if svc, ok := h.condSvc.(*services.ConditionService); ok {
		return svc.DB
	}
	return nil
}

// failConditionErr translates service-layer sentinel errors into HTTP
// responses; fallbackCode covers everything unexpected.
func failConditionErr(c *gin.Context, err error, fallbackCode string) {
	switch {
	case errors.Is(err, services.ErrConditionNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "condition not found")
	case errors.Is(err, services.ErrMessageNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "message not found")
	case errors.Is(err, services.ErrAlreadyActive):
		fail(c, http.StatusConflict, ErrCodeConflict, "condition is already armed")
	case errors.Is(err, services.ErrNotPanic):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "condition is not a panic trigger")
	case errors.Is(err, schedule.ErrMissingThreshold),
		errors.Is(err, schedule.ErrMissingTriggerDate),
		errors.Is(err, schedule.ErrMissingLastChecked),
		errors.Is(err, schedule.ErrBadPattern),
		errors.Is(err, schedule.ErrUnknownConditionType),
		errors.Is(err, domain.ErrNegativeOffset):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	default:
		fail(c, http.StatusInternalServerError, fallbackCode, err.Error())
	}
}

//
// Handlers
//

// CreateCondition creates the owning message and its trigger condition in one
// request. The condition starts disarmed; arming is a separate explicit call.
func (h *Handlers) CreateCondition(c *gin.Context) {
	ctx := c.Request.Context()

	var req CreateConditionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	condType := domain.ConditionType(strings.TrimSpace(req.ConditionType))
	if !condType.Valid() {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("unknown condition_type %q", req.ConditionType))
		return
	}

	db := h.conditionDB()
	if db == nil {
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, "persistence unavailable")
		return
	}
	uid := userID(c)
	msg, err := repo.CreateMessage(ctx, db, uid, strings.TrimSpace(req.Title), strings.TrimSpace(req.Recipient))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}

	cond := &domain.Condition{
		MessageID:        msg.ID,
		UserID:           uid,
		ConditionType:    condType,
		ThresholdMinutes: normalizeThreshold(req.ThresholdHours, req.ThresholdMinutes),
		TriggerDate:      req.TriggerDate,
		ReminderMinutes:  req.ReminderMinutes,
	}
	if p := req.RecurringPattern; p != nil {
		cond.Pattern = domain.RecurringPattern{
			Type:      domain.RecurrenceType(p.Type),
			Interval:  p.Interval,
			Day:       p.Day,
			Month:     p.Month,
			StartTime: p.StartTime,
		}
	}

	created, err := h.condSvc.Create(ctx, cond)
	if err != nil {
		failConditionErr(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, created)
}

// ListConditions returns a page of the user's conditions. Supports weak ETag
// via If-None-Match and may return 304.
func (h *Handlers) ListConditions(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if db := h.conditionDB(); db != nil {
		count, maxTS, err := repo.ConditionsStats(ctx, db, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"conditions:%s:%d:%d"`, uid, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.condSvc.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListConditionsResponse{
		Conditions: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetCondition returns the condition status, including the computed deadline
// and the next pending reminder time.
func (h *Handlers) GetCondition(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "condition id must be a UUID")
		return
	}
	uid := userID(c)

	cacheKey := uid + ":" + id
	if h.statusCache != nil {
		if st, hit := h.statusCache.Get(cacheKey); hit {
			c.Header("X-Cache", "hit")
			ok(c, http.StatusOK, st)
			return
		}
	}

	st, err := h.condSvc.Status(c.Request.Context(), uid, id)
	if err != nil {
		failConditionErr(c, err, ErrCodeListFailed)
		return
	}
	if h.statusCache != nil {
		h.statusCache.Set(cacheKey, st)
	}
	ok(c, http.StatusOK, st)
}

// ArmCondition activates the countdown and returns the computed deadline.
// Supports idempotency via the Idempotency-Key header: a replayed key returns
// the current deadline instead of failing with a conflict.
func (h *Handlers) ArmCondition(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "condition id must be a UUID")
		return
	}
	uid := userID(c)

	// Idempotency (replay path).
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" {
		if db := h.conditionDB(); db != nil {
			if rec, err := repo.GetIdempotency(ctx, db, uid, id, idemKey, time.Now().UTC()); err == nil && rec != nil {
				if st, err2 := h.condSvc.Status(ctx, uid, id); err2 == nil && st.Deadline != nil {
					c.Header(middleware.HeaderIdempotencyReplayed, "true")
					ok(c, http.StatusOK, ArmResponse{ConditionID: id, Deadline: *st.Deadline, Active: st.Condition.Active})
					return
				}
			}
		}
	}

	deadline, err := h.condSvc.Arm(ctx, uid, id)
	if err != nil {
		failConditionErr(c, err, ErrCodeArmFailed)
		return
	}
	h.invalidateStatus(uid, id)

	// Idempotency (store path), best effort.
	if idemKey != "" {
		if db := h.conditionDB(); db != nil {
			_, _ = repo.CreateIdempotency(ctx, db, uid, id, idemKey, id, http.StatusOK, h.idemTTL)
		}
	}

	ok(c, http.StatusOK, ArmResponse{ConditionID: id, Deadline: deadline, Active: true})
}

// DisarmCondition deactivates the condition and cancels its schedule.
func (h *Handlers) DisarmCondition(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "condition id must be a UUID")
		return
	}
	uid := userID(c)

	if err := h.condSvc.Disarm(c.Request.Context(), uid, id); err != nil {
		failConditionErr(c, err, ErrCodeDisarmFailed)
		return
	}
	h.invalidateStatus(uid, id)
	noContent(c)
}

// PanicCondition triggers immediate delivery for a panic_trigger condition.
func (h *Handlers) PanicCondition(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "condition id must be a UUID")
		return
	}
	uid := userID(c)

	if err := h.condSvc.Panic(c.Request.Context(), uid, id); err != nil {
		failConditionErr(c, err, ErrCodeDispatchFailed)
		return
	}
	h.invalidateStatus(uid, id)
	ok(c, http.StatusAccepted, gin.H{"condition_id": id, "triggered": true})
}

// UpdateReminders replaces the condition's threshold and reminder offsets.
func (h *Handlers) UpdateReminders(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "condition id must be a UUID")
		return
	}

	var req UpdateRemindersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "reminder_minutes required")
		return
	}
	uid := userID(c)

	cond, err := h.condSvc.UpdateReminderConfig(
		c.Request.Context(), uid, id,
		normalizeThreshold(req.ThresholdHours, req.ThresholdMinutes),
		req.ReminderMinutes,
	)
	if err != nil {
		failConditionErr(c, err, ErrCodeUpdateFailed)
		return
	}
	h.invalidateStatus(uid, id)
	ok(c, http.StatusOK, cond)
}

// GetSchedule returns the condition's full entry history, newest first. The
// audit trail includes cancelled and failed entries.
func (h *Handlers) GetSchedule(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "condition id must be a UUID")
		return
	}
	uid := userID(c)

	// Ownership check through the service before touching entries.
	if _, err := h.condSvc.Status(ctx, uid, id); err != nil {
		failConditionErr(c, err, ErrCodeListFailed)
		return
	}

	db := h.conditionDB()
	if db == nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "persistence unavailable")
		return
	}
	page, pageSize := clampPagination(c)
	entries, err := repo.ListEntryHistory(ctx, db, id, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	ok(c, http.StatusOK, ScheduleResponse{
		Entries: entries,
		Pagination: Pagination{
			Page:     page,
			PageSize: pageSize,
			HasNext:  len(entries) == pageSize,
		},
	})
}

func (h *Handlers) invalidateStatus(uid, id string) {
	if h.statusCache != nil {
		h.statusCache.Invalidate(uid + ":" + id)
	}
}

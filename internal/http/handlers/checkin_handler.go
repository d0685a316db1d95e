// Check-in HTTP handlers.
//
// This file exposes the check-in endpoint:
//   - POST /checkins   (record a check-in; resets every armed condition)
//   - GET  /checkins   (list recent check-ins for the user)
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// check-in exists for (user, key), the handler returns the recorded check-in
// and sets `Idempotency-Replayed: true`. Mobile clients retry this endpoint
// aggressively on flaky links; replays must not double-reset deadlines.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-deadman-backend/internal/domain"
	"github.com/tbourn/go-deadman-backend/internal/http/middleware"
	"github.com/tbourn/go-deadman-backend/internal/repo"
	"github.com/tbourn/go-deadman-backend/internal/services"
)

// checkinScope is the idempotency scope for user-wide check-ins, which have
// no condition id to scope by.
const checkinScope = "checkin"

// PostCheckInRequest is the JSON payload for recording a check-in.
type PostCheckInRequest struct {
	// Method identifies the channel: app, whatsapp, email, or api.
	Method string `json:"method" binding:"required" example:"app"`
}

// PostCheckInResponse is the JSON envelope for a recorded check-in.
type PostCheckInResponse struct {
	CheckIn *domain.CheckIn `json:"check_in"`
}

// ListCheckInsResponse contains a page of check-ins, newest first.
type ListCheckInsResponse struct {
	CheckIns   []domain.CheckIn `json:"check_ins"`
	Pagination Pagination       `json:"pagination"`
}

// PostCheckIn records a check-in and resets the countdown on every armed
// check-in-based condition the user owns.
func (h *Handlers) PostCheckIn(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	var req PostCheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "method required")
		return
	}
	method := domain.CheckInMethod(strings.ToLower(strings.TrimSpace(req.Method)))

	// Idempotency (replay path).
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" {
		if db := h.conditionDB(); db != nil {
			if rec, err := repo.GetIdempotency(ctx, db, uid, checkinScope, idemKey, time.Now().UTC()); err == nil && rec != nil {
				if prev, err2 := repo.GetCheckIn(ctx, db, rec.ResultID); err2 == nil {
					c.Header(middleware.HeaderIdempotencyReplayed, "true")
					ok(c, http.StatusOK, PostCheckInResponse{CheckIn: prev})
					return
				}
			}
		}
	}

	ci, err := h.condSvc.CheckIn(ctx, uid, method)
	if err != nil {
		if err == services.ErrInvalidCheckInMethod {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "method must be one of: app, whatsapp, email, api")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeCheckInFailed, err.Error())
		return
	}

	// Idempotency (store path), best effort.
	if idemKey != "" {
		if db := h.conditionDB(); db != nil {
			_, _ = repo.CreateIdempotency(ctx, db, uid, checkinScope, idemKey, ci.ID, http.StatusCreated, h.idemTTL)
		}
	}

	ok(c, http.StatusCreated, PostCheckInResponse{CheckIn: ci})
}

// ListCheckIns returns the user's check-in log, newest first.
func (h *Handlers) ListCheckIns(c *gin.Context) {
	db := h.conditionDB()
	if db == nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "persistence unavailable")
		return
	}
	page, pageSize := clampPagination(c)

	items, err := repo.ListCheckIns(c.Request.Context(), db, userID(c), (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListCheckInsResponse{
		CheckIns: items,
		Pagination: Pagination{
			Page:     page,
			PageSize: pageSize,
			HasNext:  len(items) == pageSize,
		},
	})
}

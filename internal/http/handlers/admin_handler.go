// Admin HTTP handlers.
//
// This file exposes operator remediation endpoints:
//   - POST /admin/reset-stuck                    (re-reconcile stalled conditions)
//   - POST /admin/conditions/{id}/force-process  (push one condition through)
//
// These endpoints are mounted under the API base path and are intended to sit
// behind deployment-level access control.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ResetStuckResponse reports how many stalled conditions were recovered.
type ResetStuckResponse struct {
	Count int `json:"count"`
}

// ForceProcessResponse reports how many due entries were dispatched.
type ForceProcessResponse struct {
	ConditionID string `json:"condition_id"`
	Processed   int    `json:"processed"`
}

// ResetStuck finds conditions whose schedules have stalled and forces a fresh
// reconciliation for each.
func (h *Handlers) ResetStuck(c *gin.Context) {
	if h.admin == nil {
		fail(c, http.StatusInternalServerError, ErrCodeDispatchFailed, "admin service unavailable")
		return
	}
	n, err := h.admin.ResetStuck(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeDispatchFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ResetStuckResponse{Count: n})
}

// ForceProcess reconciles one condition and immediately dispatches whatever
// entries are due, bypassing the poll interval.
func (h *Handlers) ForceProcess(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "condition id must be a UUID")
		return
	}
	if h.admin == nil {
		fail(c, http.StatusInternalServerError, ErrCodeDispatchFailed, "admin service unavailable")
		return
	}
	n, err := h.admin.ForceProcess(c.Request.Context(), id)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeDispatchFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ForceProcessResponse{ConditionID: id, Processed: n})
}

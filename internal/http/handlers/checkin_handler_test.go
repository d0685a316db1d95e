package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-deadman-backend/internal/domain"
	"github.com/tbourn/go-deadman-backend/internal/repo"
)

// ---------- PostCheckIn ----------

func TestPostCheckIn_Validation_Success_ResetsDeadline(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newHandlerDB(t)
	svc := newHandlerService(t, db)
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time { return now }

	h := New(svc, nil, nil, 0)
	r := gin.New()
	r.POST("/conditions/:id/arm", h.ArmCondition)
	r.POST("/checkins", h.PostCheckIn)

	// missing method -> 400
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/checkins", bytes.NewBufferString(`{}`))
	req.Header.Set("X-User-ID", "u1")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing method -> %d", w.Code)
	}

	// unknown method -> 400
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/checkins", bytes.NewBufferString(`{"method":"pigeon"}`))
	req.Header.Set("X-User-ID", "u1")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown method -> %d body=%s", w.Code, w.Body.String())
	}

	// arm a condition, advance the clock, check in, deadline moves
	cond := seedConditionRow(t, db, "u1")
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/conditions/"+cond.ID+"/arm", nil)
	req.Header.Set("X-User-ID", "u1")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("arm -> %d", w.Code)
	}

	later := now.Add(2 * time.Hour)
	svc.Now = func() time.Time { return later }

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/checkins", bytes.NewBufferString(`{"method":"APP"}`))
	req.Header.Set("X-User-ID", "u1")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("checkin -> %d body=%s", w.Code, w.Body.String())
	}
	var out PostCheckInResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if out.CheckIn == nil || out.CheckIn.Method != domain.CheckInApp {
		t.Fatalf("unexpected check-in: %#v", out.CheckIn)
	}

	got, err := repo.GetCondition(context.Background(), db, cond.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.LastChecked == nil || !got.LastChecked.Equal(later) {
		t.Fatalf("last_checked not reset: %v", got.LastChecked)
	}
}

func TestPostCheckIn_IdempotentReplay(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newHandlerDB(t)
	svc := newHandlerService(t, db)

	h := New(svc, nil, nil, time.Hour)
	r := gin.New()
	mountIdempotency(r, db)
	r.POST("/checkins", h.PostCheckIn)

	do := func(key string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/checkins", bytes.NewBufferString(`{"method":"api"}`))
		req.Header.Set("X-User-ID", "u1")
		req.Header.Set("Idempotency-Key", key)
		r.ServeHTTP(w, req)
		return w
	}

	w1 := do("ci-key-1")
	if w1.Code != http.StatusCreated {
		t.Fatalf("first -> %d body=%s", w1.Code, w1.Body.String())
	}
	var first PostCheckInResponse
	if err := json.Unmarshal(w1.Body.Bytes(), &first); err != nil {
		t.Fatalf("json: %v", err)
	}

	w2 := do("ci-key-1")
	if w2.Code != http.StatusOK {
		t.Fatalf("replay -> %d body=%s", w2.Code, w2.Body.String())
	}
	if w2.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("replay header missing")
	}
	var second PostCheckInResponse
	if err := json.Unmarshal(w2.Body.Bytes(), &second); err != nil {
		t.Fatalf("json: %v", err)
	}
	if second.CheckIn.ID != first.CheckIn.ID {
		t.Fatalf("replay returned a different check-in: %s vs %s", second.CheckIn.ID, first.CheckIn.ID)
	}

	// Only one row recorded despite two requests.
	items, err := repo.ListCheckIns(context.Background(), db, "u1", 0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 check-in, got %d", len(items))
	}
}

// ---------- ListCheckIns ----------

func TestListCheckIns_Pagination_NewestFirst(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newHandlerDB(t)
	svc := newHandlerService(t, db)

	base := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if _, err := repo.CreateCheckIn(context.Background(), db, "u1", domain.CheckInApp, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("seed checkin: %v", err)
		}
	}
	// Another user's check-in must not leak in.
	if _, err := repo.CreateCheckIn(context.Background(), db, "u2", domain.CheckInAPI, base); err != nil {
		t.Fatalf("seed foreign checkin: %v", err)
	}

	h := New(svc, nil, nil, 0)
	r := gin.New()
	r.GET("/checkins", h.ListCheckIns)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/checkins?page=1&page_size=2", nil)
	req.Header.Set("X-User-ID", "u1")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list -> %d body=%s", w.Code, w.Body.String())
	}
	var out ListCheckInsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(out.CheckIns) != 2 || !out.Pagination.HasNext {
		t.Fatalf("page mismatch: %d items hasnext=%v", len(out.CheckIns), out.Pagination.HasNext)
	}
	if !out.CheckIns[0].CreatedAt.After(out.CheckIns[1].CreatedAt) {
		t.Fatalf("expected newest first: %v then %v", out.CheckIns[0].CreatedAt, out.CheckIns[1].CreatedAt)
	}

	// Stub service has no DB handle -> 500
	h2 := New(stubCondSvc{}, nil, nil, 0)
	r2 := gin.New()
	r2.GET("/checkins", h2.ListCheckIns)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/checkins", nil)
	req.Header.Set("X-User-ID", "u1")
	r2.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("nil db -> %d", w.Code)
	}
}

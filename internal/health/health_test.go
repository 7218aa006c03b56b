package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHealthz_AlwaysReturns200(t *testing.T) {
	h := New()

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestHealthz_ContentType(t *testing.T) {
	h := New()
	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	ct := rec.Header().Get("Content-Type")
	if ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestReadyz_AllCheckersPass(t *testing.T) {
	h := New(
		Checker{Name: "postgres", Check: func(_ context.Context) error { return nil }},
		Checker{Name: "analyzer", Check: func(_ context.Context) error { return nil }},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if body.Checks["postgres"] != "ok" {
		t.Errorf("postgres check = %q, want %q", body.Checks["postgres"], "ok")
	}
	if body.Checks["analyzer"] != "ok" {
		t.Errorf("analyzer check = %q, want %q", body.Checks["analyzer"], "ok")
	}
}

func TestReadyz_CheckerFails(t *testing.T) {
	h := New(
		Checker{Name: "postgres", Check: func(_ context.Context) error {
			return errors.New("connection refused")
		}},
		Checker{Name: "analyzer", Check: func(_ context.Context) error { return nil }},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "fail" {
		t.Errorf("status = %q, want %q", body.Status, "fail")
	}
	if body.Checks["postgres"] != "fail: connection refused" {
		t.Errorf("postgres check = %q, want %q", body.Checks["postgres"], "fail: connection refused")
	}
	if body.Checks["analyzer"] != "ok" {
		t.Errorf("analyzer check = %q, want %q", body.Checks["analyzer"], "ok")
	}
}

func TestReadyz_NoCheckers(t *testing.T) {
	h := New()

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestReadyz_AllCheckersFail(t *testing.T) {
	h := New(
		Checker{Name: "postgres", Check: func(_ context.Context) error {
			return errors.New("timeout")
		}},
		Checker{Name: "analyzer", Check: func(_ context.Context) error {
			return errors.New("no provider configured")
		}},
	)

	req := httptest.NewRequest("GET", "/readyz", nil)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "fail" {
		t.Errorf("status = %q, want %q", body.Status, "fail")
	}
	if body.Checks["postgres"] != "fail: timeout" {
		t.Errorf("postgres check = %q", body.Checks["postgres"])
	}
	if body.Checks["analyzer"] != "fail: no provider configured" {
		t.Errorf("analyzer check = %q", body.Checks["analyzer"])
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	h := New(
		Checker{Name: "test", Check: func(_ context.Context) error { return nil }},
	)

	mux := http.NewServeMux()
	h.Register(mux)

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.path, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	h := New(
		Checker{Name: "slow", Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestPingChecker(t *testing.T) {
	pinged := false
	c := PingChecker("postgres", func(_ context.Context) error {
		pinged = true
		return nil
	})

	if c.Name != "postgres" {
		t.Errorf("name = %q, want %q", c.Name, "postgres")
	}
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !pinged {
		t.Error("ping function was not called")
	}
}

func TestCapacityChecker_BelowCapacity(t *testing.T) {
	c := CapacityChecker("asr_sessions", func() int { return 12 }, 20)
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("unexpected error below capacity: %v", err)
	}
}

func TestCapacityChecker_AtCapacity(t *testing.T) {
	c := CapacityChecker("asr_sessions", func() int { return 20 }, 20)
	err := c.Check(context.Background())
	if err == nil {
		t.Fatal("expected error at capacity, got nil")
	}
	if !strings.Contains(err.Error(), "20/20") {
		t.Errorf("error should report usage, got: %v", err)
	}
}

func TestConfiguredChecker(t *testing.T) {
	configured := false
	c := ConfiguredChecker("analyzer", func() bool { return configured }, "no LLM provider configured")

	err := c.Check(context.Background())
	if err == nil {
		t.Fatal("expected error while unconfigured, got nil")
	}
	if err.Error() != "no LLM provider configured" {
		t.Errorf("error = %q, want %q", err.Error(), "no LLM provider configured")
	}

	configured = true
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("unexpected error once configured: %v", err)
	}
}

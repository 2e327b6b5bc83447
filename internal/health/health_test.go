package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func passing(name string) Checker {
	return Checker{Name: name, Check: func(_ context.Context) error { return nil }}
}

func failing(name, msg string) Checker {
	return Checker{Name: name, Check: func(_ context.Context) error { return errors.New(msg) }}
}

func readyz(t *testing.T, h *Handler) (*httptest.ResponseRecorder, report) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
	var body report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec, body
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	New().Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestReadyz_AllPass(t *testing.T) {
	rec, body := readyz(t, New(passing("graph"), passing("llm")))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	for _, name := range []string{"graph", "llm"} {
		check, ok := body.Checks[name]
		if !ok {
			t.Fatalf("check %q missing from response", name)
		}
		if check.Status != "ok" {
			t.Errorf("%s status = %q, want ok", name, check.Status)
		}
		if check.Duration == "" {
			t.Errorf("%s duration is empty", name)
		}
	}
}

func TestReadyz_OneFailureMakesUnready(t *testing.T) {
	rec, body := readyz(t, New(failing("graph", "connection refused"), passing("llm")))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if body.Status != "fail" {
		t.Errorf("status = %q, want fail", body.Status)
	}
	if got := body.Checks["graph"]; got.Status != "fail" || got.Error != "connection refused" {
		t.Errorf("graph check = %+v, want fail/connection refused", got)
	}
	if got := body.Checks["llm"]; got.Status != "ok" {
		t.Errorf("llm check = %+v, want ok", got)
	}
}

func TestReadyz_AllFail(t *testing.T) {
	rec, body := readyz(t, New(
		failing("graph", "timeout"),
		failing("llm", "no providers configured"),
	))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if got := body.Checks["graph"].Error; got != "timeout" {
		t.Errorf("graph error = %q", got)
	}
	if got := body.Checks["llm"].Error; got != "no providers configured" {
		t.Errorf("llm error = %q", got)
	}
}

func TestReadyz_NoCheckers(t *testing.T) {
	rec, body := readyz(t, New())
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestRegister_Routes(t *testing.T) {
	mux := http.NewServeMux()
	New(passing("graph")).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", rec.Code)
			}
		})
	}
}

func TestReadyz_CancelledRequestFailsChecks(t *testing.T) {
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

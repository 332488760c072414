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

func pass(context.Context) error { return nil }

func probe(t *testing.T, h *Handler, path string) (int, result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("%s Content-Type = %q", path, ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("%s: decode: %v", path, err)
	}
	return rec.Code, body
}

func TestHealthz_IgnoresCheckers(t *testing.T) {
	h := New(Checker{Name: "broken", Check: func(context.Context) error { return errors.New("down") }})
	code, body := probe(t, h, "/healthz")
	if code != http.StatusOK || body.Status != "ok" || body.Checks != nil {
		t.Errorf("/healthz = %d %+v, want 200 ok without checks", code, body)
	}
}

func TestReadyz(t *testing.T) {
	fail := func(msg string) func(context.Context) error {
		return func(context.Context) error { return errors.New(msg) }
	}
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantChecks: nil,
		},
		{
			name:       "all pass",
			checkers:   []Checker{{"source", pass}, {"calibration", pass}},
			wantCode:   http.StatusOK,
			wantChecks: map[string]string{"source": "ok", "calibration": "ok"},
		},
		{
			name:       "one fails",
			checkers:   []Checker{{"source", pass}, {"calibration", fail("calibrating: breath")}},
			wantCode:   http.StatusServiceUnavailable,
			wantChecks: map[string]string{"source": "ok", "calibration": "fail: calibrating: breath"},
		},
		{
			name:       "all fail",
			checkers:   []Checker{{"a", fail("x")}, {"b", fail("y")}},
			wantCode:   http.StatusServiceUnavailable,
			wantChecks: map[string]string{"a": "fail: x", "b": "fail: y"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := probe(t, New(tt.checkers...), "/readyz")
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			wantStatus := "ok"
			if tt.wantCode != http.StatusOK {
				wantStatus = "fail"
			}
			if body.Status != wantStatus {
				t.Errorf("status = %q, want %q", body.Status, wantStatus)
			}
			if len(body.Checks) != len(tt.wantChecks) {
				t.Fatalf("checks = %v, want %v", body.Checks, tt.wantChecks)
			}
			for k, v := range tt.wantChecks {
				if body.Checks[k] != v {
					t.Errorf("checks[%s] = %q, want %q", k, body.Checks[k], v)
				}
			}
		})
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", rec.Code)
	}
}

func TestDetectorCheckers(t *testing.T) {
	tests := []struct {
		name    string
		checker func(func() map[string]bool) Checker
		flags   map[string]bool
		wantErr string
	}{
		{"calibration/none running", Calibration, nil, "no detectors running"},
		{"calibration/done", Calibration, map[string]bool{"breath": true, "hum": true}, ""},
		{"calibration/pending sorted", Calibration, map[string]bool{"zeta": false, "breath": true, "alpha": false}, "calibrating: alpha, zeta"},
		{"restarts/none running", Restarts, nil, ""},
		{"restarts/healthy", Restarts, map[string]bool{"breath": false}, ""},
		{"restarts/tripped", Restarts, map[string]bool{"hum": true, "breath": false, "drone": true}, "restarts suspended: drone, hum"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.checker(func() map[string]bool { return tt.flags })
			if !strings.HasPrefix(tt.name, c.Name+"/") {
				t.Errorf("checker name = %q", c.Name)
			}
			err := c.Check(context.Background())
			switch {
			case tt.wantErr == "" && err != nil:
				t.Errorf("unexpected error: %v", err)
			case tt.wantErr != "" && (err == nil || err.Error() != tt.wantErr):
				t.Errorf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestReadyz_CalibrationGate(t *testing.T) {
	calibrated := false
	h := New(Calibration(func() map[string]bool { return map[string]bool{"breath": calibrated} }))

	if code, _ := probe(t, h, "/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("while calibrating: code = %d, want 503", code)
	}
	calibrated = true
	if code, _ := probe(t, h, "/readyz"); code != http.StatusOK {
		t.Errorf("after calibration: code = %d, want 200", code)
	}
}

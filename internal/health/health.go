// Package health serves the liveness and readiness probes.
//
// GET /healthz answers 200 whenever the process can serve HTTP. GET /readyz
// runs every [Checker] and answers 200 only if all of them pass, 503
// otherwise. Both reply with {"status": "ok"|"fail", "checks": {...}}.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const checkTimeout = 5 * time.Second

// Checker is one named readiness condition. Check returns nil when the
// condition holds.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probes. The checker list is fixed by [New].
type Handler struct {
	checkers []Checker
}

func New(checkers ...Checker) *Handler {
	return &Handler{checkers: slices.Clone(checkers)}
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs the checkers concurrently, each bounded by checkTimeout.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			outcome := "ok"
			if err := c.Check(ctx); err != nil {
				outcome = "fail: " + err.Error()
			}
			mu.Lock()
			res.Checks[c.Name] = outcome
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	code := http.StatusOK
	for _, outcome := range res.Checks {
		if outcome != "ok" {
			res.Status, code = "fail", http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, code, res)
}

var errNoDetectors = errors.New("no detectors running")

// Calibration passes once at least one detector runs and every running
// detector has finished calibrating. status maps detector names to their
// calibrated flag.
func Calibration(status func() map[string]bool) Checker {
	return Checker{Name: "calibration", Check: func(context.Context) error {
		st := status()
		if len(st) == 0 {
			return errNoDetectors
		}
		if waiting := matching(st, false); len(waiting) > 0 {
			return fmt.Errorf("calibrating: %s", strings.Join(waiting, ", "))
		}
		return nil
	}}
}

// Restarts fails while any detector has given up restarting. tripped maps
// detector names to whether their restart breaker is open.
func Restarts(tripped func() map[string]bool) Checker {
	return Checker{Name: "restarts", Check: func(context.Context) error {
		if down := matching(tripped(), true); len(down) > 0 {
			return fmt.Errorf("restarts suspended: %s", strings.Join(down, ", "))
		}
		return nil
	}}
}

// matching returns the sorted names whose flag equals want.
func matching(flags map[string]bool, want bool) []string {
	var names []string
	for name, v := range flags {
		if v == want {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

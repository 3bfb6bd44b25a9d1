// Package health exposes liveness and readiness probe endpoints backed by
// periodically executed checks.
//
// Checks are damped: a probe flips to down only after failing streak
// consecutive runs, and back to up after one success. That keeps a single
// slow database round trip from bouncing the service out of the load
// balancer.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc probes one component. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

const (
	failStreak    = 3
	recoverStreak = 1
)

// probe wraps a CheckFunc with its damping state. The streak counters are
// touched only by the scheduler goroutine; down and lastErr are also read by
// HTTP handlers and are atomic.
type probe struct {
	name    string
	timeout time.Duration
	fn      CheckFunc

	down    atomic.Bool
	lastErr atomic.Pointer[string]

	fails int
	oks   int
}

func (p *probe) execute(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.fn(ctx); err != nil {
		msg := err.Error()
		p.lastErr.Store(&msg)
		p.oks = 0
		if p.fails++; p.fails >= failStreak {
			p.down.Store(true)
		}
		return
	}

	p.lastErr.Store(nil)
	p.fails = 0
	if p.oks++; p.oks >= recoverStreak {
		p.down.Store(false)
	}
}

func (p *probe) failure() (string, bool) {
	if !p.down.Load() {
		return "", false
	}
	if msg := p.lastErr.Load(); msg != nil {
		return *msg, true
	}
	return "check is down", true
}

// Tracker runs registered probes and serves their state over HTTP.
type Tracker struct {
	ready atomic.Bool

	mu        sync.Mutex
	liveness  []*probe
	readiness []*probe
	cancel    context.CancelFunc
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Liveness registers a process-level check (goroutine leaks and the like).
func (t *Tracker) Liveness(name string, timeout time.Duration, fn CheckFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.liveness = append(t.liveness, &probe{name: name, timeout: timeout, fn: fn})
}

// Readiness registers a dependency check. While any readiness probe is down
// the service reports not ready and stops receiving new traffic.
func (t *Tracker) Readiness(name string, timeout time.Duration, fn CheckFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readiness = append(t.readiness, &probe{name: name, timeout: timeout, fn: fn})
}

// Run starts a single scheduler goroutine that executes every registered
// probe once per interval. Register all probes before calling Run.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	t.mu.Lock()
	t.cancel = cancel
	probes := make([]*probe, 0, len(t.liveness)+len(t.readiness))
	probes = append(probes, t.liveness...)
	probes = append(probes, t.readiness...)
	t.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			for _, p := range probes {
				p.execute(ctx)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop halts the scheduler. Safe to call more than once.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

// SetReady flips the manual readiness gate: true once startup finishes,
// false at the start of graceful shutdown.
func (t *Tracker) SetReady(ready bool) {
	t.ready.Store(ready)
}

// IsReady reports whether the manual gate is open and every readiness probe
// is up.
func (t *Tracker) IsReady() bool {
	if !t.ready.Load() {
		return false
	}
	t.mu.Lock()
	probes := t.readiness
	t.mu.Unlock()

	for _, p := range probes {
		if p.down.Load() {
			return false
		}
	}
	return true
}

type probeStatus struct {
	Status   string            `json:"status"`
	Failures map[string]string `json:"failures,omitempty"`
}

// LiveEndpoint serves /livez: 200 while every liveness probe is up, 503 with
// the failing probes otherwise.
func (t *Tracker) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	t.mu.Lock()
	probes := t.liveness
	t.mu.Unlock()

	serveStatus(w, failures(probes))
}

// ReadyEndpoint serves /readyz: 200 only when the manual gate is open and
// every readiness probe is up.
func (t *Tracker) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	t.mu.Lock()
	probes := t.readiness
	t.mu.Unlock()

	failed := failures(probes)
	if !t.ready.Load() {
		failed["_gate"] = "service is not ready"
	}
	serveStatus(w, failed)
}

func failures(probes []*probe) map[string]string {
	failed := make(map[string]string)
	for _, p := range probes {
		if msg, down := p.failure(); down {
			failed[p.name] = msg
		}
	}
	return failed
}

func serveStatus(w http.ResponseWriter, failed map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	resp := probeStatus{Status: "ok"}
	code := http.StatusOK
	if len(failed) > 0 {
		resp.Status = "down"
		resp.Failures = failed
		code = http.StatusServiceUnavailable
	}

	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

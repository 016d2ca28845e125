package health

import (
	"net/http"
	"sync/atomic"
)

// State tracks process readiness for watch mode.
type State struct {
	ready atomic.Bool
}

// MarkReady flips readiness on after the first completed run.
func (s *State) MarkReady() {
	s.ready.Store(true)
}

// Healthz returns 200 "ok\n" unconditionally.
func (s *State) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// Readyz returns 200 "ready\n" once at least one run has completed,
// 503 before that.
func (s *State) Readyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if !s.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("starting\n"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready\n"))
}

// Package health serves the liveness and readiness probes.
package health

import "net/http"

// Checker reports whether the simulation can serve positions.
type Checker interface {
	Ready() bool
	Degraded() bool
}

// Healthz returns 200 "ok\n" unconditionally.
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

// Readyz returns 200 "ready\n" once the worker has acknowledged the current
// population, and 503 while it has not or when the field is degraded.
func Readyz(c Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		switch {
		case c.Degraded():
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready: worker unavailable\n"))
		case !c.Ready():
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready: waiting for worker\n"))
		default:
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready\n"))
		}
	}
}

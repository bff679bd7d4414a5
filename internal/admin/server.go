// v2
// internal/admin/server.go
// Package admin serves the operational HTTP surface: liveness, readiness and
// Prometheus metrics.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewHandler builds the admin router. ready reports whether the sink
// finished startup and has not begun shutting down.
func NewHandler(ready func() bool, log *slog.Logger) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return handlers.RecoveryHandler()(loggingMiddleware(log, r))
}

// NewServer wraps the handler into an http.Server with sane timeouts.
func NewServer(addr string, ready func() bool, log *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewHandler(ready, log),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type rw struct {
	http.ResponseWriter
	status int
}

func (r *rw) WriteHeader(c int) {
	r.status = c
	r.ResponseWriter.WriteHeader(c)
}

func loggingMiddleware(l *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &rw{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rr, r)
		l.Info("http", "m", r.Method, "p", r.URL.Path, "s", rr.status, "d", time.Since(start).String())
	})
}

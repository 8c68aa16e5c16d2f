// Package api is the thin HTTP surface: one endpoint that accepts a
// semicolon-separated list of query strings and returns a result
// object per query, plus health and metrics endpoints for operators.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dd0wney/rowdb/internal/engine"
	"github.com/dd0wney/rowdb/internal/health"
	"github.com/dd0wney/rowdb/internal/logging"
	"github.com/dd0wney/rowdb/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the HTTP API server: one /query endpoint plus health and
// Prometheus metrics.
type Server struct {
	engine  *engine.Engine
	metrics *metrics.Registry
	checker *health.Checker
	logger  logging.Logger
	addr    string

	http *http.Server
}

func NewServer(addr string, eng *engine.Engine, reg *metrics.Registry, checker *health.Checker, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if checker == nil {
		checker = health.NewChecker()
	}
	s := &Server{engine: eng, metrics: reg, checker: checker, logger: logger, addr: addr}

	mux := http.NewServeMux()
	mux.HandleFunc("/query", s.handleQuery)
	mux.Handle("/healthz", s.checker.HTTPHandler())
	mux.Handle("/metrics", promhttp.HandlerFor(reg.GetPrometheusRegistry(), promhttp.HandlerOpts{}))

	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.loggingMiddleware(s.panicRecoveryMiddleware(mux)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving HTTP until the listener fails or
// Shutdown is called, in which case it returns nil.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server starting", logging.String("addr", s.addr))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// handleQuery is the one core endpoint: a semicolon-separated list of
// query strings in, one result object per query out.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	statements := splitStatements(req.Query)
	results := s.engine.Run(r.Context(), statements)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(struct {
		Results []engine.Result `json:"results"`
	}{Results: results})
}

// splitStatements splits the semicolon-separated query list, dropping
// empty statements a trailing separator would otherwise produce.
func splitStatements(raw string) []string {
	parts := strings.Split(raw, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

package http

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"
)

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Health.Ping(ctx); err != nil {
			s.logger.WarnContext(r.Context(), "Readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("store unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleMetrics writes request, rate limit, security and cache counters as
// "name value" lines.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var b strings.Builder

	reqs := s.tracer.GetMetrics()
	fmt.Fprintf(&b, "http_requests_total %d\n", reqs.TotalRequests)
	fmt.Fprintf(&b, "http_client_errors_total %d\n", reqs.ClientErrors)
	fmt.Fprintf(&b, "http_server_errors_total %d\n", reqs.ServerErrors)
	fmt.Fprintf(&b, "http_response_time_avg_us %d\n", reqs.AverageResponseTime)

	limits := s.limiter.GetMetrics()
	fmt.Fprintf(&b, "ratelimit_limited_total %d\n", limits.Limited)
	fmt.Fprintf(&b, "ratelimit_clients %d\n", limits.ClientCount)

	sec := s.detector.GetMetrics()
	fmt.Fprintf(&b, "security_suspicious_total %d\n", sec.SuspiciousRequests)

	if s.deps.Caches != nil {
		stats := s.deps.Caches.Snapshot()
		names := make([]string, 0, len(stats))
		for name := range stats {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			st := stats[name]
			fmt.Fprintf(&b, "cache_hits_total{cache=%q} %d\n", name, st.Hits)
			fmt.Fprintf(&b, "cache_misses_total{cache=%q} %d\n", name, st.Misses)
			fmt.Fprintf(&b, "cache_evictions_total{cache=%q} %d\n", name, st.Evictions)
			fmt.Fprintf(&b, "cache_size{cache=%q} %d\n", name, st.Size)
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(b.String()))
}

// Package metrics exposes prometheus counters for scan cycles.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Cycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "postwatch_cycles_total",
		Help: "Total scan cycles started",
	})
	CyclesSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "postwatch_cycles_skipped_total",
		Help: "Scan cycles skipped because the connectivity probe failed",
	})
	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "postwatch_cycle_duration_seconds",
		Help:    "Scan cycle duration seconds",
		Buckets: prometheus.DefBuckets,
	})
	PostsEvaluated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postwatch_posts_total",
		Help: "Posts seen by the filter, by outcome",
	}, []string{"outcome"})
	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postwatch_notifications_total",
		Help: "Notifications by dispatch signal",
	}, []string{"signal"})
	NotifyErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "postwatch_notify_errors_total",
		Help: "Notification delivery failures",
	})
	FetchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "postwatch_fetch_errors_total",
		Help: "Post source failures by operation",
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(Cycles, CyclesSkipped, CycleDuration, PostsEvaluated, Notifications, NotifyErrors, FetchErrors)
}

// ObserveCycleDuration records a cycle duration.
func ObserveCycleDuration(start time.Time) {
	CycleDuration.Observe(time.Since(start).Seconds())
}

// Handler returns the HTTP handler serving /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	return mux
}

// StartServer serves Handler on addr until ctx is cancelled. An empty addr
// disables the server.
func StartServer(ctx context.Context, addr string, log *slog.Logger) {
	if addr == "" {
		return
	}
	srv := &http.Server{Addr: addr, Handler: Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// Package metrics holds the Prometheus collectors of a fill run.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ExecutorDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ethfill",
		Name:      "executor_duration_seconds",
		Help:      "Time spent in a single executor evaluation.",
		Buckets:   prometheus.DefBuckets,
	})
	ExecutorErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ethfill",
		Name:      "executor_errors_total",
		Help:      "Executor evaluations that returned an error.",
	})
	Blocks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ethfill",
		Name:      "blocks_total",
		Help:      "Blocks produced, by validity.",
	}, []string{"validity"})
	Fixtures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ethfill",
		Name:      "fixtures_total",
		Help:      "Fixtures filled, by format and outcome.",
	}, []string{"format", "outcome"})

	// Registry holds every collector above.
	Registry = prometheus.NewRegistry()
)

func init() {
	Registry.MustRegister(ExecutorDuration, ExecutorErrors, Blocks, Fixtures)
}

// BlockProduced counts one block.
func BlockProduced(valid bool) {
	if valid {
		Blocks.WithLabelValues("valid").Inc()
	} else {
		Blocks.WithLabelValues("invalid").Inc()
	}
}

// FixtureFilled counts one fixture outcome.
func FixtureFilled(format string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	Fixtures.WithLabelValues(format, outcome).Inc()
}

// Serve exposes the registry on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

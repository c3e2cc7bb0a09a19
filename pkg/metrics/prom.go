// Package metrics exposes the prometheus counters, gauges, and histograms
// the replication engine updates as it processes events, plus a small
// HTTP server to serve them.
package metrics

import (
	"cmp"
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsProcessed counts events the engine has applied to the sink, by
	// source table and operation.
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meilisync_events_processed_total",
			Help: "Total number of change events applied to the sink, by table and operation",
		},
		[]string{"table", "operation"},
	)

	// SinkErrors counts failed sink writes, by table.
	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meilisync_sink_errors_total",
			Help: "Total number of sink write failures, by table",
		},
		[]string{"table"},
	)

	// FlushDuration observes how long one drain-write-persist critical
	// section takes, split by whether it was triggered by size or by the
	// idle timer.
	FlushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meilisync_flush_duration_seconds",
			Help:    "Duration of one coalescing-buffer flush, by trigger",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"trigger"},
	)

	// BufferSize reports the coalescing buffer's current event count,
	// sampled after every add and every flush.
	BufferSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "meilisync_buffer_size",
			Help: "Current number of distinct (table, pk) slots buffered for the next flush",
		},
	)

	// BootstrapDocuments counts documents copied during a first-time full
	// load, by table.
	BootstrapDocuments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meilisync_bootstrap_documents_total",
			Help: "Total number of documents copied during bootstrap full loads, by table",
		},
		[]string{"table"},
	)
)

// PromServerOpts configures the metrics HTTP server.
type PromServerOpts struct {
	Addr              string
	Path              string        // Path for metrics endpoint, defaults to "/metrics"
	ShutdownTimeout   time.Duration // Timeout for server shutdown, defaults to 5 seconds
	ReadHeaderTimeout time.Duration // Timeout for reading request headers, defaults to 3 seconds
}

func defaultPrometheusServerOptions() PromServerOpts {
	return PromServerOpts{
		Addr:              ":9110",
		Path:              "/metrics",
		ShutdownTimeout:   5 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// StartPrometheusServer starts a Prometheus metrics server with the given
// options. The server shuts down gracefully when ctx is canceled.
func StartPrometheusServer(ctx context.Context, wg *sync.WaitGroup, opts *PromServerOpts) {
	effectiveOpts := defaultPrometheusServerOptions()
	if opts != nil {
		effectiveOpts.Addr = cmp.Or(opts.Addr, effectiveOpts.Addr)
		effectiveOpts.Path = cmp.Or(opts.Path, effectiveOpts.Path)
		effectiveOpts.ShutdownTimeout = cmp.Or(opts.ShutdownTimeout, effectiveOpts.ShutdownTimeout)
		effectiveOpts.ReadHeaderTimeout = cmp.Or(opts.ReadHeaderTimeout, effectiveOpts.ReadHeaderTimeout)
	}

	mux := http.NewServeMux()
	mux.Handle(effectiveOpts.Path, promhttp.Handler())
	server := &http.Server{
		Addr:              effectiveOpts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: effectiveOpts.ReadHeaderTimeout,
	}

	serverClosed := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("starting prometheus metrics server on %s", effectiveOpts.Addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
		close(serverClosed)
	}()

	go func() {
		<-ctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), effectiveOpts.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("error shutting down metrics server: %v", err)
		}

		select {
		case <-serverClosed:
			log.Println("metrics server shutdown complete")
		case <-shutdownCtx.Done():
			log.Println("metrics server shutdown timed out")
		}
	}()
}

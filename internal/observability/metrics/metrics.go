// Package metrics registers the node's Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agentnft"

var (
	registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests processed.",
	}, []string{"handler", "method", "code"})

	httpErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_errors_total",
		Help:      "Total number of HTTP requests that resulted in a server error.",
	}, []string{"handler", "method"})

	httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"handler", "method"})

	transactions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "transactions_total",
		Help:      "Applied transactions by action kind and outcome.",
	}, []string{"kind", "status"})

	executionGas = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "execution_gas",
		Help:      "Gas consumed by delegated execution per transaction.",
		Buckets:   prometheus.ExponentialBuckets(1_000, 4, 8),
	})

	applyLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "apply_duration_seconds",
		Help:      "Time to apply and persist one transaction.",
		Buckets:   prometheus.DefBuckets,
	})

	blockHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "block_height",
		Help:      "Height of the last committed block.",
	})

	agentsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "agents_total",
		Help:      "Number of agent identities minted.",
	})

	poolEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "txpool",
		Name:      "events_total",
		Help:      "Transaction pool lifecycle events.",
	}, []string{"event"})

	streamSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "stream_subscribers",
		Help:      "Open event stream connections.",
	})

	streamDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "stream_dropped_batches_total",
		Help:      "Event batches dropped because a stream subscriber fell behind.",
	})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests, httpErrors, httpLatency,
		transactions, executionGas, applyLatency, blockHeight, agentsTotal,
		poolEvents, streamSubscribers, streamDropped,
	)
}

// Registry exposes the collector registry, mainly for tests.
func Registry() *prometheus.Registry { return registry }

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		httpErrors.WithLabelValues(handler, method).Inc()
	}
	httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveTransaction records one applied transaction.
func ObserveTransaction(kind string, succeeded bool, gasUsed uint64, duration time.Duration) {
	status := "failed"
	if succeeded {
		status = "succeeded"
	}
	transactions.WithLabelValues(kind, status).Inc()
	if gasUsed > 0 {
		executionGas.Observe(float64(gasUsed))
	}
	applyLatency.Observe(duration.Seconds())
}

// SetChainHead records the committed height and identity count.
func SetChainHead(height, agents uint64) {
	blockHeight.Set(float64(height))
	agentsTotal.Set(float64(agents))
}

// ObservePoolEvent counts a transaction pool event such as submitted,
// claimed, included or retry.
func ObservePoolEvent(event string) {
	poolEvents.WithLabelValues(event).Inc()
}

// StreamOpened tracks an event stream connection until the returned func is called.
func StreamOpened() (closed func()) {
	streamSubscribers.Inc()
	return streamSubscribers.Dec
}

// ObserveStreamDrop counts a batch dropped for a slow stream subscriber.
func ObserveStreamDrop() { streamDropped.Inc() }

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

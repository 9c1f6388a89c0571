// Package metrics exports gridlink counters to Prometheus.
//
// A nil *Registry is valid and records nothing, so components can take an
// optional registry without checking it.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	defaultMu       sync.Mutex
	defaultRegistry *Registry
)

// Default returns the process-wide registry, creating it on first use.
func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegistry == nil {
		defaultRegistry = NewRegistry()
	}
	return defaultRegistry
}

// Registry holds all gridlink metrics.
type Registry struct {
	reg *prometheus.Registry

	negotiations     *prometheus.CounterVec
	promotions       *prometheus.CounterVec
	ledgerOps        *prometheus.CounterVec
	restartAttempts  prometheus.Counter
	restartExhausted prometheus.Counter
	transferBytes    prometheus.Counter
}

// NewRegistry creates a registry with every gridlink collector registered,
// plus the Go runtime and process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		negotiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridlink_negotiations_total",
			Help: "Connection security negotiations by outcome.",
		}, []string{"outcome"}),
		promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridlink_channel_promotions_total",
			Help: "TLS channel promotions by result.",
		}, []string{"result"}),
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gridlink_ledger_operations_total",
			Help: "Restart ledger operations by operation and result.",
		}, []string{"op", "result"}),
		restartAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridlink_restart_attempts_total",
			Help: "Transfer attempts recorded in the restart ledger.",
		}),
		restartExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridlink_restarts_exhausted_total",
			Help: "Transfers abandoned because the attempt cap was exceeded.",
		}),
		transferBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gridlink_transfer_bytes_total",
			Help: "Bytes confirmed by transfer workers.",
		}),
	}
	r.reg.MustRegister(
		r.negotiations, r.promotions, r.ledgerOps,
		r.restartAttempts, r.restartExhausted, r.transferBytes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Gatherer exposes the underlying registry, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

// RecordNegotiation counts a negotiation outcome.
func (r *Registry) RecordNegotiation(outcome string) {
	if r == nil {
		return
	}
	r.negotiations.WithLabelValues(outcome).Inc()
}

// RecordPromotion counts a channel promotion attempt.
func (r *Registry) RecordPromotion(success bool) {
	if r == nil {
		return
	}
	r.promotions.WithLabelValues(result(success)).Inc()
}

// RecordLedgerOp counts a ledger operation.
func (r *Registry) RecordLedgerOp(op string, err error) {
	if r == nil {
		return
	}
	r.ledgerOps.WithLabelValues(op, result(err == nil)).Inc()
}

// RecordRestartAttempt counts one more attempt of a transfer.
func (r *Registry) RecordRestartAttempt() {
	if r == nil {
		return
	}
	r.restartAttempts.Inc()
}

// RecordRestartExhausted counts a transfer that ran out of attempts.
func (r *Registry) RecordRestartExhausted() {
	if r == nil {
		return
	}
	r.restartExhausted.Inc()
}

// RecordTransferBytes adds confirmed bytes.
func (r *Registry) RecordTransferBytes(n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.transferBytes.Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (r *Registry) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

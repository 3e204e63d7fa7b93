// Package metrics instruments the sovereignty core for observability.
//
// Endpoint: GET /metrics, served on a loopback-bound address.
// Format: Prometheus text exposition format.
// Metric naming convention: sovereigntycore_<subsystem>_<name>_<unit>.
//
// All metrics register on a dedicated prometheus.Registry, never the
// default global one, so embedding this package never collides with
// other instrumented libraries sharing the process.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink is the abstract capability the orchestrator records against. The
// core depends only on this interface, never on Prometheus directly, so
// tests can substitute RecordingSink.
type Sink interface {
	ObserveRoH(subjectID string, value float32)
	IncEnvelopeViolation(scope string)
	IncDecision(scope, decision string)
	IncGuardRejection(rule string)
	SetLedgerLength(n uint64)
}

// PrometheusSink is the production Sink, backed by a dedicated registry.
type PrometheusSink struct {
	registry *prometheus.Registry

	rohGauge             *prometheus.GaugeVec
	envelopeViolations   *prometheus.CounterVec
	decisionsTotal       *prometheus.CounterVec
	guardRejectionsTotal *prometheus.CounterVec
	ledgerLength         prometheus.Gauge

	startTime time.Time
	uptime    prometheus.Gauge
}

// NewPrometheusSink creates and registers every metric on a fresh registry.
func NewPrometheusSink() *PrometheusSink {
	reg := prometheus.NewRegistry()

	s := &PrometheusSink{
		registry:  reg,
		startTime: time.Now(),

		rohGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sovereigntycore",
			Subsystem: "roh",
			Name:      "value",
			Help:      "Most recently computed RoH value, by subject.",
		}, []string{"subject_id"}),

		envelopeViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sovereigntycore",
			Subsystem: "envelope",
			Name:      "violations_total",
			Help:      "Total proposals rejected for loosening the envelope, by scope.",
		}, []string{"scope"}),

		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sovereigntycore",
			Subsystem: "decisions",
			Name:      "total",
			Help:      "Total evaluation decisions, by scope and outcome.",
		}, []string{"scope", "decision"}),

		guardRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sovereigntycore",
			Subsystem: "guard",
			Name:      "rejections_total",
			Help:      "Total guard rejections, by rule name.",
		}, []string{"rule"}),

		ledgerLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sovereigntycore",
			Subsystem: "ledger",
			Name:      "entries",
			Help:      "Current number of entries in the donutloop ledger.",
		}),

		uptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sovereigntycore",
			Subsystem: "process",
			Name:      "uptime_seconds",
			Help:      "Seconds since the process started.",
		}),
	}

	reg.MustRegister(
		s.rohGauge,
		s.envelopeViolations,
		s.decisionsTotal,
		s.guardRejectionsTotal,
		s.ledgerLength,
		s.uptime,
	)
	return s
}

func (s *PrometheusSink) ObserveRoH(subjectID string, value float32) {
	s.rohGauge.WithLabelValues(subjectID).Set(float64(value))
}

func (s *PrometheusSink) IncEnvelopeViolation(scope string) {
	s.envelopeViolations.WithLabelValues(scope).Inc()
}

func (s *PrometheusSink) IncDecision(scope, decision string) {
	s.decisionsTotal.WithLabelValues(scope, decision).Inc()
}

func (s *PrometheusSink) IncGuardRejection(rule string) {
	s.guardRejectionsTotal.WithLabelValues(rule).Inc()
}

func (s *PrometheusSink) SetLedgerLength(n uint64) {
	s.ledgerLength.Set(float64(n))
}

// ServeMetrics starts the Prometheus HTTP endpoint on addr and blocks
// until ctx is cancelled or the server fails. Callers typically run this
// in its own goroutine.
func (s *PrometheusSink) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go s.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

func (s *PrometheusSink) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.uptime.Set(time.Since(s.startTime).Seconds())
		}
	}
}

// RecordingSink is a non-Prometheus Sink for tests: it simply remembers
// every call so assertions can inspect what the core recorded.
type RecordingSink struct {
	RoHObservations    []RoHObservation
	EnvelopeViolations []string
	Decisions          []DecisionRecord
	GuardRejections    []string
	LedgerLengths      []uint64
}

type RoHObservation struct {
	SubjectID string
	Value     float32
}

type DecisionRecord struct {
	Scope    string
	Decision string
}

func NewRecordingSink() *RecordingSink { return &RecordingSink{} }

func (r *RecordingSink) ObserveRoH(subjectID string, value float32) {
	r.RoHObservations = append(r.RoHObservations, RoHObservation{SubjectID: subjectID, Value: value})
}

func (r *RecordingSink) IncEnvelopeViolation(scope string) {
	r.EnvelopeViolations = append(r.EnvelopeViolations, scope)
}

func (r *RecordingSink) IncDecision(scope, decision string) {
	r.Decisions = append(r.Decisions, DecisionRecord{Scope: scope, Decision: decision})
}

func (r *RecordingSink) IncGuardRejection(rule string) {
	r.GuardRejections = append(r.GuardRejections, rule)
}

func (r *RecordingSink) SetLedgerLength(n uint64) {
	r.LedgerLengths = append(r.LedgerLengths, n)
}

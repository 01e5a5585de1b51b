// Package metrics exposes session counters through a Prometheus registry.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rbright/resound/internal/fsm"
)

// Metrics holds the collectors updated by the session machine.
type Metrics struct {
	reg *prometheus.Registry

	triggers      *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	uploadLatency prometheus.Histogram
	state         *prometheus.GaugeVec
}

var trackedStates = []fsm.State{
	fsm.StateIdle,
	fsm.StateAwaitingPermission,
	fsm.StateRecording,
	fsm.StateProcessing,
	fsm.StateResult,
	fsm.StateError,
}

// New registers every collector on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		reg: reg,

		triggers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "resound_triggers_total",
			Help: "Number of recording triggers by disposition",
		}, []string{"result"}),
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "resound_upload_outcomes_total",
			Help: "Number of upload attempts by outcome kind",
		}, []string{"kind"}),
		uploadLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "resound_upload_latency_seconds",
			Help:    "Time from dispatching a clip upload to its classified outcome",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}),
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "resound_ui_state",
			Help: "Current UI state; exactly one label is 1",
		}, []string{"state"}),
	}
	m.StateChanged(string(fsm.StateIdle))
	return m
}

// TriggerAccepted counts a trigger that started a recording.
func (m *Metrics) TriggerAccepted() {
	m.triggers.WithLabelValues("accepted").Inc()
}

// TriggerIgnored counts a trigger rejected by the control guard.
func (m *Metrics) TriggerIgnored(reason string) {
	m.triggers.WithLabelValues("ignored_" + reason).Inc()
}

// UploadFinished records one applied upload outcome.
func (m *Metrics) UploadFinished(kind string, latency time.Duration) {
	m.outcomes.WithLabelValues(kind).Inc()
	m.uploadLatency.Observe(latency.Seconds())
}

func (m *Metrics) StateChanged(state string) {
	for _, s := range trackedStates {
		value := 0.0
		if string(s) == state {
			value = 1
		}
		m.state.WithLabelValues(string(s)).Set(value)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(
		m.reg, promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}),
	)
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return m.serveListener(ctx, listener)
}

func (m *Metrics) serveListener(ctx context.Context, listener net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	hs := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}()

	if err := hs.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

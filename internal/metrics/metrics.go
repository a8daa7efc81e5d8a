// Package metrics wires the engine's signal-generation, outcome, and
// ingestion counters into Prometheus, grounded on the teacher's
// internal/interfaces/http.MetricsRegistry (struct-of-vectors built in one
// constructor, registered once with prometheus.MustRegister, exposed over
// promhttp.Handler()).
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sharplee/signalcore/internal/model"
	"github.com/sharplee/signalcore/internal/ports"
	"github.com/sharplee/signalcore/internal/signalgen"
)

// Registry holds every Prometheus metric this engine exports.
type Registry struct {
	SignalsEmitted *prometheus.CounterVec
	SignalsDiscarded *prometheus.CounterVec
	Anomalies      *prometheus.CounterVec

	SignalsClosed *prometheus.CounterVec
	MAERatio      *prometheus.HistogramVec
	MFERatio      *prometheus.HistogramVec

	IngestionPhase     *prometheus.GaugeVec
	IngestionStaleBars prometheus.Gauge
}

// NewRegistry builds and registers every metric against reg (pass
// prometheus.DefaultRegisterer for the process-wide registry).
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		SignalsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalcore_signals_emitted_total",
				Help: "Total number of signals emitted, by instrument/timeframe and direction.",
			},
			[]string{"key", "direction"},
		),
		SignalsDiscarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalcore_signals_discarded_total",
				Help: "Total number of candidate signals discarded before emission, by reason.",
			},
			[]string{"key", "reason"},
		),
		Anomalies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalcore_signal_anomalies_total",
				Help: "Total number of same-bar LONG/SHORT anomaly discards.",
			},
			[]string{"key"},
		),
		SignalsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalcore_signals_closed_total",
				Help: "Total number of signals closed, by outcome (TP/SL).",
			},
			[]string{"outcome"},
		),
		MAERatio: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalcore_mae_ratio",
				Help:    "Maximum adverse excursion, as a ratio of stop-loss distance, at each throttled publish.",
				Buckets: []float64{0.1, 0.25, 0.5, 0.75, 1.0, 1.5, 2.0},
			},
			[]string{"key"},
		),
		MFERatio: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalcore_mfe_ratio",
				Help:    "Maximum favorable excursion, as a ratio of take-profit distance, at each throttled publish.",
				Buckets: []float64{0.1, 0.25, 0.5, 0.75, 1.0, 1.5, 2.0},
			},
			[]string{"key"},
		),
		IngestionPhase: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signalcore_ingestion_phase",
				Help: "1 for the ingestion pipeline's current phase, 0 otherwise.",
			},
			[]string{"phase"},
		),
		IngestionStaleBars: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "signalcore_ingestion_stale_bars",
				Help: "Cumulative count of invalid or core-rejected bars discarded by the ingestion pipeline.",
			},
		),
	}

	reg.MustRegister(
		r.SignalsEmitted,
		r.SignalsDiscarded,
		r.Anomalies,
		r.SignalsClosed,
		r.MAERatio,
		r.MFERatio,
		r.IngestionPhase,
		r.IngestionStaleBars,
	)
	return r
}

// SignalGenMetrics adapts r into the narrow func-based interface
// signalgen.Generator expects, so the generator never imports Prometheus
// directly.
func (r *Registry) SignalGenMetrics() signalgen.Metrics {
	return signalgen.Metrics{
		IncSignalEmitted: func(key model.Key, dir model.Direction) {
			r.SignalsEmitted.WithLabelValues(key.String(), string(dir)).Inc()
		},
		IncSignalDiscard: func(key model.Key, reason string) {
			r.SignalsDiscarded.WithLabelValues(key.String(), reason).Inc()
		},
		IncAnomaly: func(key model.Key) {
			r.Anomalies.WithLabelValues(key.String()).Inc()
		},
	}
}

// SubscribeOutcome registers an observer-bus handler that records close
// outcomes and MAE/MFE ratios. It rides the same bus the engine already
// fans SIGNAL_CLOSED/SIGNAL_MAE_UPDATED events out on, rather than adding a
// Prometheus dependency to internal/outcome directly.
func (r *Registry) SubscribeOutcome(bus ports.ObserverBus) {
	if bus == nil {
		return
	}
	bus.Subscribe(func(ctx context.Context, event model.Event) {
		switch event.Kind {
		case model.EventSignalClosed:
			if event.Closed != nil {
				r.SignalsClosed.WithLabelValues(string(event.Closed.Outcome)).Inc()
			}
		case model.EventSignalMAEUpdate:
			if event.MAEUpdate != nil {
				r.MAERatio.WithLabelValues(event.MAEUpdate.ID).Observe(event.MAEUpdate.MAERatio)
				r.MFERatio.WithLabelValues(event.MAEUpdate.ID).Observe(event.MAEUpdate.MFERatio)
			}
		}
	})
}

// IngestionPoller periodically samples an ingestion pipeline's phase and
// stale-bar counter into gauges, since both change far too infrequently to
// justify an event per transition.
type IngestionPoller struct {
	reg      *Registry
	log      zerolog.Logger
	phase    func() string
	staleBars func() int64
}

// NewIngestionPoller builds a poller. phase and staleBars are typically
// pipeline.Phase (coerced to string) and pipeline.StaleBarCount.
func NewIngestionPoller(reg *Registry, log zerolog.Logger, phase func() string, staleBars func() int64) *IngestionPoller {
	return &IngestionPoller{reg: reg, log: log.With().Str("component", "metrics_poller").Logger(), phase: phase, staleBars: staleBars}
}

var allPhases = []string{"IDLE", "INIT", "CHECK_STATE", "BACKFILL", "RESTORE", "REPLAY", "CUTOVER", "LIVE"}

// Sample takes one reading, setting the active phase's gauge to 1 and every
// other known phase's gauge to 0.
func (p *IngestionPoller) Sample() {
	current := p.phase()
	for _, ph := range allPhases {
		v := 0.0
		if ph == current {
			v = 1.0
		}
		p.reg.IngestionPhase.WithLabelValues(ph).Set(v)
	}
	stale := p.staleBars()
	p.reg.IngestionStaleBars.Set(float64(stale))
	p.log.Debug().Str("phase", current).Int64("stale_bars", stale).Msg("ingestion metrics sampled")
}

// Run samples on interval until ctx is done.
func (p *IngestionPoller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	p.Sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sample()
		}
	}
}

// Handler exposes the registry in Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

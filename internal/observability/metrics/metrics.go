// Package metrics holds the Prometheus collectors for the bot and adapts them
// to the small Metrics interfaces the services accept.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rafflebot/internal/dispatch"
	"rafflebot/internal/donation"
	"rafflebot/internal/drawing"
	"rafflebot/internal/eventbus"
)

const namespace = "rafflebot"

const (
	LabelKind     = "kind"
	LabelOutcome  = "outcome"
	LabelReason   = "reason"
	LabelCurrency = "currency"
)

type Metrics struct {
	reg *prometheus.Registry

	raised       *prometheus.GaugeVec
	authFailures prometheus.Counter
	pollFailures prometheus.Counter

	entries  prometheus.Counter
	drawings *prometheus.CounterVec
	rerolls  prometheus.Counter

	sent       prometheus.Counter
	dropped    *prometheus.CounterVec
	queueDepth prometheus.Gauge

	events *prometheus.CounterVec
}

var (
	_ donation.Metrics = (*Metrics)(nil)
	_ drawing.Metrics  = (*Metrics)(nil)
	_ dispatch.Metrics = (*Metrics)(nil)
)

// New registers all collectors on a fresh registry, along with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		raised: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "donation", Name: "amount_raised",
			Help: "Campaign total as last reported by the donation platform.",
		}, []string{LabelCurrency}),
		authFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "donation", Name: "auth_failures_total",
			Help: "Failed donation platform logins.",
		}),
		pollFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "donation", Name: "poll_failures_total",
			Help: "Failed campaign total fetches.",
		}),
		entries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "drawing", Name: "entries_total",
			Help: "Accepted raffle entries.",
		}),
		drawings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "drawing", Name: "resolved_total",
			Help: "Resolved drawings by outcome.",
		}, []string{LabelOutcome}),
		rerolls: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "drawing", Name: "rerolls_total",
			Help: "Winners redrawn after an unclaimed window.",
		}),
		sent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "sent_total",
			Help: "Chat messages delivered.",
		}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "dropped_total",
			Help: "Chat messages dropped by reason.",
		}, []string{LabelReason}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "queue_depth",
			Help: "Messages waiting to be sent.",
		}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "events", Name: "published_total",
			Help: "Domain events seen on the bus by kind.",
		}, []string{LabelKind}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ObserveRaised(amount float64, currency string) {
	m.raised.WithLabelValues(currency).Set(amount)
}
func (m *Metrics) AuthFailed() { m.authFailures.Inc() }
func (m *Metrics) PollFailed() { m.pollFailures.Inc() }

func (m *Metrics) EntryAccepted()                 { m.entries.Inc() }
func (m *Metrics) DrawingResolved(outcome string) { m.drawings.WithLabelValues(outcome).Inc() }
func (m *Metrics) Reroll()                        { m.rerolls.Inc() }

func (m *Metrics) MessageSent()                 { m.sent.Inc() }
func (m *Metrics) MessageDropped(reason string) { m.dropped.WithLabelValues(reason).Inc() }
func (m *Metrics) QueueDepth(n int)             { m.queueDepth.Set(float64(n)) }

// HandleEvent counts bus traffic; subscribe it to the event bus.
func (m *Metrics) HandleEvent(e eventbus.Event) error {
	m.events.WithLabelValues(e.Kind.String()).Inc()
	return nil
}

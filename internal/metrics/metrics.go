// Package metrics exposes Prometheus instruments for the bet agent.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "betclaw"

// Event outcomes at the orchestrator boundary.
const (
	OutcomeProcessed  = "processed"
	OutcomeDuplicate  = "duplicate"
	OutcomeSelf       = "self"
	OutcomeNonText    = "non_text"
	OutcomeUnresolved = "unresolved"
	OutcomeDropped    = "dropped" // conversation queue full or orchestrator closed
)

// Metrics holds every instrument. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	events          *prometheus.CounterVec
	intents         *prometheus.CounterVec
	classifierErrs  *prometheus.CounterVec
	classifyLatency prometheus.Histogram
	sends           *prometheus.CounterVec
	ledgerErrs      prometheus.Counter
	bets            *prometheus.GaugeVec
	conversations   prometheus.Gauge
}

// New registers all instruments on a fresh registry, alongside the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound chat events by channel and outcome.",
		}, []string{"channel", "outcome"}),
		intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_total",
			Help:      "Classifier verdicts by kind.",
		}, []string{"kind"}),
		classifierErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_errors_total",
			Help:      "Classifier failures by reason.",
		}, []string{"reason"}),
		classifyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classify_duration_seconds",
			Help:      "Latency of one classifier call.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Outbound messages by channel and result.",
		}, []string{"channel", "result"}),
		ledgerErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_errors_total",
			Help:      "Ledger events that at least one sink failed to record.",
		}),
		bets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bets",
			Help:      "Bets currently held, by state.",
		}, []string{"state"}),
		conversations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversations",
			Help:      "Conversations with an active session.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.events, m.intents, m.classifierErrs, m.classifyLatency,
		m.sends, m.ledgerErrs, m.bets, m.conversations,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Event(channel, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) Intent(kind string) {
	if m == nil {
		return
	}
	m.intents.WithLabelValues(kind).Inc()
}

func (m *Metrics) ClassifierError(reason string) {
	if m == nil {
		return
	}
	m.classifierErrs.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveClassify(d time.Duration) {
	if m == nil {
		return
	}
	m.classifyLatency.Observe(d.Seconds())
}

func (m *Metrics) Send(channel string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sends.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) LedgerError() {
	if m == nil {
		return
	}
	m.ledgerErrs.Inc()
}

// SetBets records the current pending and confirmed totals.
func (m *Metrics) SetBets(pending, confirmed int) {
	if m == nil {
		return
	}
	m.bets.WithLabelValues("pending").Set(float64(pending))
	m.bets.WithLabelValues("confirmed").Set(float64(confirmed))
}

func (m *Metrics) SetConversations(n int) {
	if m == nil {
		return
	}
	m.conversations.Set(float64(n))
}

// Package metrics holds the Prometheus collectors of
// a privacy node.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "privacy"

// Metrics groups every collector. Construct one per
// registry; collectors register on creation.
type Metrics struct { // A
	registry *prometheus.Registry

	TransactionsSent     prometheus.Counter
	TransactionsStored   *prometheus.CounterVec
	TransactionsRejected *prometheus.CounterVec
	PublishFailures      prometheus.Counter
	ResendPublished      prometheus.Counter
	ResendFailed         prometheus.Counter
	ResendReceived       *prometheus.CounterVec
	PartyInfoPolls       *prometheus.CounterVec
	KnownRecipients      prometheus.Gauge
	KnownParties         prometheus.Gauge
	PrivacyGroups        prometheus.Counter
	TaskRuns             *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics { // A
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		TransactionsSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_sent_total",
			Help:      "Transactions encrypted and stored by a local sender",
		}),
		TransactionsStored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_stored_total",
			Help:      "Inbound transactions persisted, by outcome",
		}, []string{"outcome"}),
		TransactionsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_rejected_total",
			Help:      "Inbound transactions rejected, by reason",
		}, []string{"reason"}),
		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Peers a payload could not be pushed to",
		}),
		ResendPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resend_published_total",
			Help:      "Transactions republished by resend",
		}),
		ResendFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resend_failed_total",
			Help:      "Transactions resend could not republish",
		}),
		ResendReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resend_received_total",
			Help:      "Items received from peers by resend request, by outcome",
		}, []string{"outcome"}),
		PartyInfoPolls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partyinfo_polls_total",
			Help:      "Party info exchanges, by result",
		}, []string{"result"}),
		KnownRecipients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "known_recipients",
			Help:      "Recipient keys in the routing registry",
		}),
		KnownParties: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "known_parties",
			Help:      "Peer URLs in the routing registry",
		}),
		PrivacyGroups: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "privacy_groups_stored_total",
			Help:      "Privacy groups created or received",
		}),
		TaskRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_total",
			Help:      "Background task runs, by task and result",
		}, []string{"task", "result"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTask records one background task run.
func (m *Metrics) ObserveTask(task string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.TaskRuns.WithLabelValues(task, result).Inc()
}

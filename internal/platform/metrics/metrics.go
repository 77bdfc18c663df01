package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the core service.
type Metrics struct {
	AttestationsAccepted prometheus.Counter
	AttestationsRejected *prometheus.CounterVec
	FraudEvents          *prometheus.CounterVec
	EpochsPublished      prometheus.Counter
	IntentsCreated       prometheus.Counter
	IntentsDelivered     prometheus.Counter
	IntentsAcknowledged  *prometheus.CounterVec
	IntentsExpired       prometheus.Counter
	SessionsCreated      prometheus.Counter
	SessionsAuthorized   prometheus.Counter
	SessionsExpired      prometheus.Counter
	BatchesExecuted      *prometheus.CounterVec
	BatchSettlementValue prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		AttestationsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gns_attestations_accepted_total",
			Help: "Attestations admitted to a chain",
		}),
		AttestationsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gns_attestations_rejected_total",
			Help: "Attestations rejected, by reason",
		}, []string{"reason"}),
		FraudEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gns_fraud_events_total",
			Help: "Fraud events recorded, by severity",
		}, []string{"severity"}),
		EpochsPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gns_epochs_published_total",
			Help: "Epoch headers published by the aggregator",
		}),
		IntentsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gns_payment_intents_created_total",
			Help: "Payment intents created",
		}),
		IntentsDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gns_payment_intents_delivered_total",
			Help: "Payment intents delivered to recipients",
		}),
		IntentsAcknowledged: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gns_payment_intents_acknowledged_total",
			Help: "Payment intent acknowledgments, by verdict",
		}, []string{"verdict"}),
		IntentsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gns_payment_intents_expired_total",
			Help: "Payment intents expired by the sweep",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gns_geoauth_sessions_created_total",
			Help: "GeoAuth sessions created",
		}),
		SessionsAuthorized: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gns_geoauth_sessions_authorized_total",
			Help: "GeoAuth sessions authorized",
		}),
		SessionsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gns_geoauth_sessions_expired_total",
			Help: "GeoAuth sessions expired by the sweep",
		}),
		BatchesExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gns_settlement_batches_total",
			Help: "Settlement batches executed, by outcome",
		}, []string{"outcome"}),
		BatchSettlementValue: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gns_settlement_batched_value_total",
			Help: "Cumulative net value batched, in minor units",
		}),
	}
}

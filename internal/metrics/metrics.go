package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_requests_total",
			Help: "Total requests checked by the gate pipeline",
		},
		[]string{"profile"},
	)

	AllowedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_allowed_total",
			Help: "Total requests allowed past the rate limiter",
		},
		[]string{"profile"},
	)

	RejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_rejected_total",
			Help: "Total requests rejected, by reason",
		},
		[]string{"reason"},
	)

	BypassTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_bypass_total",
			Help: "Total requests classified as trusted infrastructure, by signal",
		},
		[]string{"reason"},
	)

	DegradedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gate_store_degraded_total",
			Help: "Total operations served from the in-process fallback counter",
		},
	)

	AuditDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gate_audit_dropped_total",
			Help: "Total audit events dropped due to a full buffer",
		},
	)
)

func Register() {
	prometheus.MustRegister(
		RequestsTotal,
		AllowedTotal,
		RejectedTotal,
		BypassTotal,
		DegradedTotal,
		AuditDroppedTotal,
	)
}

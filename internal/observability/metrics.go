package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bulknotif_api_requests_total", Help: "Admin API requests"},
		[]string{"endpoint", "status"},
	)
	CampaignRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bulknotif_campaign_runs_total", Help: "Finalized campaign runs"},
		[]string{"kind", "status"},
	)
	CampaignDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bulknotif_campaign_run_duration_seconds",
			Help:    "Wall time of a campaign run",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
		},
		[]string{"kind"},
	)
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bulknotif_deliveries_total", Help: "Per-recipient delivery outcomes"},
		[]string{"kind", "result"},
	)
	TwilioSend = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "twilio_send_total", Help: "Twilio send outcomes"},
		[]string{"result", "http_status"},
	)
	TwilioLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "twilio_send_latency_seconds", Help: "Twilio send latency"},
	)
	AuditWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "bulknotif_audit_write_failures_total", Help: "Delivery records that could not be persisted"},
	)
	CounterUpdateFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "bulknotif_counter_update_failures_total", Help: "Recipient counter increments that failed after a successful delivery"},
	)
	TriggerFirings = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bulknotif_trigger_firings_total", Help: "Trigger firings by result"},
		[]string{"trigger", "result"},
	)
	DeliverySuppressed = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "bulknotif_delivery_suppressed", Help: "1 while provider calls are suppressed after a failed self-check"},
	)
	StatusEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "twilio_status_events_total", Help: "Provider status callbacks"},
		[]string{"status"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		APIRequests,
		CampaignRuns,
		CampaignDuration,
		Deliveries,
		TwilioSend,
		TwilioLatency,
		AuditWriteFailures,
		CounterUpdateFailures,
		TriggerFirings,
		DeliverySuppressed,
		StatusEvents,
	)
}

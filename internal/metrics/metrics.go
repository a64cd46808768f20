package metrics

import "github.com/prometheus/client_golang/prometheus"

var WebhookEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Provider webhook deliveries accepted, by kind",
	},
	[]string{"kind"},
)

var WebhookDuplicates = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "webhook_duplicate_events_total",
		Help: "Webhook deliveries skipped as already processed",
	},
)

var VoiceControlFallbacks = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "voice_control_fallbacks_total",
		Help: "Call control actions finalized locally after a provider failure",
	},
)

var CRMSyncFailures = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "crm_sync_failures_total",
		Help: "CRM sync jobs that failed after exhausting retries",
	},
)

var CRMSyncDropped = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "crm_sync_dropped_total",
		Help: "CRM sync jobs dropped because the queue was full",
	},
)

func init() {
	prometheus.MustRegister(WebhookEvents)
	prometheus.MustRegister(WebhookDuplicates)
	prometheus.MustRegister(VoiceControlFallbacks)
	prometheus.MustRegister(CRMSyncFailures)
	prometheus.MustRegister(CRMSyncDropped)
}

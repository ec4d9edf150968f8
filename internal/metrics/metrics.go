package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks the number of live charge point WebSocket connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "centralsystem_active_connections",
		Help: "The total number of active charge point WebSocket connections.",
	})

	// MessagesReceived counts inbound CALL messages, labeled by action.
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "centralsystem_messages_received_total",
		Help: "Total number of CALL messages received from charge points.",
	}, []string{"action"})

	// CallErrorsSent counts CALLERROR responses, labeled by error code.
	CallErrorsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "centralsystem_call_errors_total",
		Help: "Total number of CALLERROR responses sent to charge points.",
	}, []string{"error_code"})

	// EventsPublished counts state delta events published on the event bus, labeled by event type.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "centralsystem_events_published_total",
		Help: "Total number of state delta events published on the event bus.",
	}, []string{"event_type"})

	// PendingRequests tracks in-flight server-initiated CALLs awaiting a response.
	PendingRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "centralsystem_pending_requests",
		Help: "Number of server-initiated CALLs awaiting a CALLRESULT or CALLERROR.",
	})

	// ActiveTransactions tracks charging transactions that have started but not stopped.
	ActiveTransactions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "centralsystem_active_transactions",
		Help: "Number of charging transactions currently in progress.",
	})

	// DashboardSubscribers tracks connected dashboard WebSocket clients.
	DashboardSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "centralsystem_dashboard_subscribers",
		Help: "Number of connected dashboard WebSocket subscribers.",
	})

	// CommandsConsumed counts operator commands consumed from the message broker, labeled by command name.
	CommandsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "centralsystem_commands_consumed_total",
		Help: "Total number of operator commands consumed from the message broker.",
	}, []string{"command_name"})

	// MessageProcessingDuration observes CALL handling latency, labeled by action.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "centralsystem_message_processing_duration_seconds",
		Help:    "Histogram of CALL handling times.",
		Buckets: prometheus.LinearBuckets(0.01, 0.01, 10),
	}, []string{"action"})
)

// Package metrics provides Prometheus metrics collection for the supportbot application.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesReceived tracks the total number of chat messages received from users
	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportbot_messages_received_total",
		Help: "Total number of chat messages received from users",
	})

	// MessagesSent tracks the total number of replies sent to users
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportbot_messages_sent_total",
		Help: "Total number of replies sent to users",
	})

	// MessageErrors tracks the total number of message processing errors
	MessageErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportbot_message_errors_total",
		Help: "Total number of message processing errors",
	})

	// OTPRequests tracks the total number of OTP send attempts by result
	OTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supportbot_otp_requests_total",
		Help: "Total number of OTP send attempts by result",
	}, []string{"result"})

	// OTPVerifications tracks the total number of OTP verification attempts by result
	OTPVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supportbot_otp_verifications_total",
		Help: "Total number of OTP verification attempts by result",
	}, []string{"result"})

	// ProviderLatency tracks the latency of verification provider calls by operation
	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "supportbot_provider_latency_seconds",
		Help:    "Latency of verification provider calls in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// EngineRequests tracks the total number of answer engine requests
	EngineRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportbot_engine_requests_total",
		Help: "Total number of answer engine requests",
	})

	// EngineErrors tracks the total number of answer engine errors
	EngineErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportbot_engine_errors_total",
		Help: "Total number of answer engine errors",
	})

	// EngineLatency tracks the latency of answer engine requests
	EngineLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "supportbot_engine_latency_seconds",
		Help:    "Latency of answer engine requests in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// HandoversTriggered tracks the total number of human handovers initiated
	HandoversTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportbot_handovers_triggered_total",
		Help: "Total number of human handovers initiated",
	})

	// HandoverFailures tracks the total number of failed handover forwards
	HandoverFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportbot_handover_failures_total",
		Help: "Total number of failed handover forwards to the agent gateway",
	})

	// AgentMessagesQueued tracks the total number of agent messages queued for delivery
	AgentMessagesQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportbot_agent_messages_queued_total",
		Help: "Total number of agent messages queued for client delivery",
	})

	// AgentMessagesDelivered tracks the total number of agent messages drained by polls
	AgentMessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportbot_agent_messages_delivered_total",
		Help: "Total number of agent messages delivered to clients via poll",
	})

	// PollRequests tracks the total number of poll requests
	PollRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportbot_poll_requests_total",
		Help: "Total number of poll requests from clients",
	})

	// SessionsCreated tracks the total number of sessions created
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportbot_sessions_created_total",
		Help: "Total number of chat sessions created",
	})

	// SessionsVerified tracks the total number of sessions that completed OTP verification
	SessionsVerified = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportbot_sessions_verified_total",
		Help: "Total number of sessions that completed OTP verification",
	})

	// SessionsReset tracks the total number of sessions reset by administrators
	SessionsReset = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportbot_sessions_reset_total",
		Help: "Total number of sessions reset by administrators",
	})

	// StorageErrors tracks the total number of storage operation failures
	StorageErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportbot_storage_errors_total",
		Help: "Total number of storage operation failures",
	})

	// HTTPRequestDuration tracks HTTP request duration by endpoint and method
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "supportbot_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint", "method"})
)

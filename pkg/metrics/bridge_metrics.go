package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bridge metrics for call sessions and tool execution.
var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_bridge_sessions_active",
		Help: "Current number of streaming call sessions",
	})

	SessionTerminalTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_session_terminal_total",
		Help: "Sessions that reached a terminal state",
	}, []string{"state"})

	InboundEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_inbound_events_total",
		Help: "Inbound realtime events by class",
	}, []string{"class"})

	ProtocolParseErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_bridge_protocol_parse_errors_total",
		Help: "Inbound realtime messages skipped because they could not be parsed",
	})

	ToolInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_tool_invocations_total",
		Help: "Tool invocations by kind and outcome status",
	}, []string{"kind", "status"})

	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_dispatch_total",
		Help: "External automation dispatches by result",
	}, []string{"result"}) // "done", "failed"

	DuplicateSuppressedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_bridge_duplicate_suppressed_total",
		Help: "Executions answered from an existing idempotency record",
	})

	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_bridge_dispatch_duration_seconds",
		Help:    "Time spent waiting on the automation endpoint",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	PersistenceErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_persistence_errors_total",
		Help: "Fire-and-forget persistence failures",
	}, []string{"operation"})
)

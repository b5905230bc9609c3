// Package metrics publishes agent runtime metrics as an optional event
// sink. The core stream contract never requires it; wiring happens at the
// composition root.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/freeact-go/freeact/pkg/events"
)

// Sink counts emitted events by kind and tracks the approval and tool
// output volume per agent. It implements events.Sink.
type Sink struct {
	eventsTotal    *prometheus.CounterVec
	approvalsTotal *prometheus.CounterVec
	toolOutputs    *prometheus.CounterVec
	responsesTotal *prometheus.CounterVec
}

// NewSink registers the sink's collectors with reg and returns it.
func NewSink(reg prometheus.Registerer) *Sink {
	factory := promauto.With(reg)
	return &Sink{
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "freeact_events_total",
			Help: "Agent stream events emitted, by kind.",
		}, []string{"kind"}),
		approvalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "freeact_approval_requests_total",
			Help: "Approval requests surfaced to the consumer, by agent.",
		}, []string{"agent_id"}),
		toolOutputs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "freeact_tool_outputs_total",
			Help: "Non-kernel tool results produced, by agent.",
		}, []string{"agent_id"}),
		responsesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "freeact_responses_total",
			Help: "Final model responses emitted, by agent.",
		}, []string{"agent_id"}),
	}
}

// Emit records one event. It never blocks.
func (s *Sink) Emit(ev events.Event) {
	s.eventsTotal.WithLabelValues(string(ev.Kind)).Inc()
	switch ev.Kind {
	case events.KindApprovalRequest:
		s.approvalsTotal.WithLabelValues(ev.AgentID).Inc()
	case events.KindToolOutput:
		s.toolOutputs.WithLabelValues(ev.AgentID).Inc()
	case events.KindResponse:
		s.responsesTotal.WithLabelValues(ev.AgentID).Inc()
	}
}

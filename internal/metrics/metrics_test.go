package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/freeact-go/freeact/pkg/events"
)

func TestSinkCountsEventsByKind(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewSink(reg)

	sink.Emit(events.ResponseChunk("main", "He"))
	sink.Emit(events.ResponseChunk("main", "llo"))
	sink.Emit(events.Response("main", "Hello"))
	sink.Emit(events.ToolOutput("sub-1a2b", "call-1", "42"))

	ev, _ := events.NewApproval("main", "call-2", "database_query", nil)
	sink.Emit(ev)

	assert.Equal(t, 2.0, testutil.ToFloat64(sink.eventsTotal.WithLabelValues(string(events.KindResponseChunk))))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.responsesTotal.WithLabelValues("main")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.toolOutputs.WithLabelValues("sub-1a2b")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.approvalsTotal.WithLabelValues("main")))
}

func TestSinkRegistersCollectorsOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewSink(reg)

	// A second sink on the same registry would collide; a fresh registry
	// is fine.
	assert.Panics(t, func() { NewSink(reg) })
	assert.NotPanics(t, func() { NewSink(prometheus.NewRegistry()) })
}

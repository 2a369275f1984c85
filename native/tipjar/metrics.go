package tipjar

import (
	"tipjar/core/events"
	"tipjar/observability"
)

// MetricsEmitter records committed events in the Prometheus registry. Attach
// it to the executor emitter so rolled back transactions are never counted.
type MetricsEmitter struct {
	metrics *observability.TipJarMetrics
}

// NewMetricsEmitter returns an emitter backed by the process-wide registry.
func NewMetricsEmitter() *MetricsEmitter {
	return &MetricsEmitter{metrics: observability.TipJar()}
}

// Emit implements events.Emitter.
func (m *MetricsEmitter) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	observability.Events().RecordEvent(evt.EventType())
	switch e := evt.(type) {
	case Initialized:
		m.metrics.RecordInitialized()
	case Tipped:
		m.metrics.RecordTip(e.Amount)
	case Withdrawn:
		m.metrics.RecordWithdrawal(e.Amount)
	}
}

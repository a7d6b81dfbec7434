package cascade

import (
	"errors"
	"time"

	"github.com/WessleyAI/wessley-compare/engine/domain"
	"github.com/WessleyAI/wessley-compare/pkg/metrics"
)

// Metrics records fetch outcomes per field. A nil *Metrics records nothing.
type Metrics struct {
	reg *metrics.Registry
}

// NewMetrics registers the cascade metric families on reg.
func NewMetrics(reg *metrics.Registry) *Metrics {
	return &Metrics{reg: reg}
}

func (m *Metrics) fetched(field string, start time.Time) {
	if m == nil {
		return
	}
	m.reg.Counter(metrics.WithLabels("cascade_fetches_total", "field", field), "Option fetches applied to a field").Inc()
	m.reg.Histogram(metrics.WithLabels("cascade_fetch_duration_seconds", "field", field), "Option fetch latency", nil).Since(start)
}

func (m *Metrics) failed(field string, err error) {
	if m == nil {
		return
	}
	m.reg.Counter(metrics.WithLabels("cascade_fetch_failures_total", "field", field, "kind", kindLabel(err)), "Option fetches that left a field in the error state").Inc()
}

func (m *Metrics) stale(field string) {
	if m == nil {
		return
	}
	m.reg.Counter(metrics.WithLabels("cascade_stale_responses_total", "field", field), "Responses discarded because a newer request superseded them").Inc()
}

func (m *Metrics) inflight(delta int64) {
	if m == nil {
		return
	}
	m.reg.Gauge("cascade_fetches_inflight", "Option fetches in flight").Add(delta)
}

func kindLabel(err error) string {
	switch k := domain.KindOf(err); {
	case errors.Is(k, domain.ErrStatus):
		return "status"
	case errors.Is(k, domain.ErrMalformedPayload):
		return "malformed"
	default:
		return "transport"
	}
}

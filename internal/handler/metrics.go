package handler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pavelanni/suppcompanion/internal/wserr"
)

type metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "suppcompanion",
			Name:      "ws_calls_total",
			Help:      "Web service function calls by function and result code.",
		}, []string{"function", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "suppcompanion",
			Name:      "ws_call_duration_seconds",
			Help:      "Web service function call duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"function"}),
	}
	for _, c := range []prometheus.Collector{m.calls, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// observe records one call. The code label is "ok" or the error code.
func (m *metrics) observe(function string, err error, d time.Duration) {
	if m == nil {
		return
	}
	code := "ok"
	if err != nil {
		code = wserr.From(err).Code
	}
	m.calls.WithLabelValues(function, code).Inc()
	m.duration.WithLabelValues(function).Observe(d.Seconds())
}

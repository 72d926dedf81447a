package dispatch

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aviary_calls_total",
		Help: "Tool calls dispatched, by tool and terminal result",
	}, []string{"tool", "result"})

	callsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aviary_calls_active",
		Help: "Tool calls currently executing or blocked at the gate",
	})

	callDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aviary_call_duration_seconds",
		Help:    "Tool call duration from dispatch to completion",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"tool"})
)

var sessionGaugeOnce sync.Once

// RegisterSessionGauge exposes the live session count as a gauge. Call once
// at startup with a snapshot function.
func RegisterSessionGauge(count func() int) {
	sessionGaugeOnce.Do(func() {
		promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "aviary_sessions_active",
			Help: "Sessions currently registered",
		}, func() float64 { return float64(count()) })
	})
}

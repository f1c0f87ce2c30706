// © 2026 The delimabot Authors. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package poller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "delimabot"

// Error classes used in logs and the errors metric.
const (
	classConflict     = "conflict"
	classRateLimit    = "rate_limit"
	classUnauthorized = "unauthorized"
	classGeneric      = "generic"
	classHandler      = "handler"
	classSend         = "send"
	classLock         = "lock"
)

// Reply results.
const (
	resultOK      = "ok"
	resultApology = "apology"
	resultFailed  = "failed"
)

// Metrics are the poller's Prometheus metrics.
type Metrics struct {
	Updates  prometheus.Counter
	Replies  *prometheus.CounterVec
	Errors   *prometheus.CounterVec
	Sessions prometheus.Counter
	Backoff  prometheus.Histogram
	State    prometheus.Gauge
}

// NewMetrics creates the metrics and registers them with reg. If reg is nil,
// the metrics are not registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Updates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Updates received from the messaging backend.",
		}),
		Replies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Replies by result: ok, apology or failed.",
		}, []string{"result"}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors by class.",
		}, []string{"class"}),
		Sessions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Receiving sessions started.",
		}),
		Backoff: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backoff_seconds",
			Help:      "Delays chosen before reconnecting.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		}),
		State: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current session state: 0 idle, 1 connecting, 2 receiving, 3 backoff, 4 terminated.",
		}),
	}
}

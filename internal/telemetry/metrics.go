/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "calrem"

var (
	// NotifierRunsTotal counts notifier runs by outcome (ok, error, skipped).
	NotifierRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifier_runs_total",
		Help:      "Notifier runs by result.",
	}, []string{"result"})

	NotifierRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "notifier_run_duration_seconds",
		Help:      "Wall time of a notifier run.",
		Buckets:   prometheus.DefBuckets,
	})

	// NotificationsDue counts notifications selected by the window filter.
	NotificationsDue = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_due_total",
		Help:      "Notifications that fell inside a run window.",
	})

	MessagesDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_delivered_total",
		Help:      "Messages handed to a delivery sink.",
	}, []string{"sink"})

	DeliveryFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "delivery_failures_total",
		Help:      "Delivery failures by sink and stage.",
	}, []string{"sink", "stage"})

	CalendarEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "calendar_entries",
		Help:      "Entries found in the calendar file on the last parse.",
	})

	WatermarkTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "watermark_timestamp_seconds",
		Help:      "Last watermark written by the notifier.",
	})

	RunLockHeld = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_lock_held",
		Help:      "1 while this instance holds the notifier run lock.",
	}, []string{"instance"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "endpoint", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "api_active_connections",
		Help:      "In-flight HTTP requests.",
	})
)

// Handler exposes metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

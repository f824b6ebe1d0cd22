// Package metrics exposes relay counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FeedMessages counts inbound feed frames by message kind.
	FeedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_feed_messages_total",
		Help: "Feed messages received, by kind.",
	}, []string{"kind"})

	// FeedErrors counts transport failures of the feed connection.
	FeedErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_feed_transport_errors_total",
		Help: "Feed connection errors.",
	})

	// AlertEvents counts tracker outcomes, e.g. posted, closed, duplicate, unknown, excluded.
	AlertEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_alert_events_total",
		Help: "Alert events handled by the tracker, by outcome.",
	}, []string{"outcome"})

	// TrackedAlerts is the number of in-flight alerts.
	TrackedAlerts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_tracked_alerts",
		Help: "Alerts currently tracked.",
	})

	// Tracking is 1 while the relay accepts new alerts.
	Tracking = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_tracking",
		Help: "1 while inside the tracking window with an open feed.",
	})
)

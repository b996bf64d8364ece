// Package metrics exposes the operational Prometheus gauges/counters for
// the tracker, actor registry, and consumer, grounded on
// Guizzs26-go-sync-db's pkg/metrics/metrics.go (promauto CounterVec /
// Histogram / Gauge shape).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "astra_data_updater_messages_consumed_total",
		Help: "Total AMQP deliveries consumed, by msg_type and outcome",
	}, []string{"msg_type", "outcome"})

	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "astra_data_updater_message_processing_seconds",
		Help: "Time spent processing a single device message",
	}, []string{"msg_type"})

	ActiveDeviceActors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "astra_data_updater_active_device_actors",
		Help: "Number of currently-live per-device actors",
	})

	TrackerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "astra_data_updater_tracker_queue_depth",
		Help: "Total in-flight messages across all message trackers",
	})

	TrackerRequeues = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "astra_data_updater_tracker_requeues_total",
		Help: "Messages requeued to the broker after a device actor crash",
	}, []string{"realm"})

	InterfaceCacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "astra_data_updater_interface_cache_evictions_total",
		Help: "Interface cache entries evicted, by reason",
	}, []string{"reason"})

	TriggersPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "astra_data_updater_triggers_published_total",
		Help: "Trigger events published to the outbound exchange, by event_type and outcome",
	}, []string{"event_type", "outcome"})
)

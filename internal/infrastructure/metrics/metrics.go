package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cync_lan_build_info",
		Help: "Build information of the cync-lan bridge.",
	}, []string{"version", "commit", "date"})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cync_lan_sessions_active", Help: "Device sessions currently connected.",
	})
	SessionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cync_lan_sessions_accepted_total", Help: "Total device sessions accepted.",
	})
	SessionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cync_lan_sessions_rejected_total", Help: "Connections rejected before a session started.",
	}, []string{"reason"})
	PrimaryElections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cync_lan_primary_elections_total", Help: "Primary listener elections, including failovers.",
	})

	PacketsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cync_lan_packets_received_total", Help: "Packets decoded from device sessions, by type byte.",
	}, []string{"type"})
	PacketsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cync_lan_packets_sent_total", Help: "Packets written to device sessions, by kind.",
	}, []string{"kind"})
	FrameErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cync_lan_frame_errors_total", Help: "Wire decode anomalies.",
	}, []string{"kind"})

	CommandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cync_lan_commands_executed_total", Help: "Commands drained from the queue, by result.",
	}, []string{"result"})
	CommandDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cync_lan_command_duration_seconds",
		Help:    "Wall time from dequeue to completion, including settle and refresh.",
		Buckets: prometheus.DefBuckets,
	})
	CommandQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cync_lan_command_queue_depth", Help: "Commands waiting in the queue.",
	})
	ControlRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cync_lan_control_retries_total", Help: "Pending control packets resent after the resend interval.",
	})
	ControlAbandoned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cync_lan_control_abandoned_total", Help: "Pending control packets abandoned after the pending TTL.",
	})

	StatusPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cync_lan_status_publishes_total", Help: "Status snapshots published to MQTT, by origin.",
	}, []string{"origin"})
	DevicesOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cync_lan_devices_online", Help: "Devices currently marked online.",
	})
	DevicesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cync_lan_devices_total", Help: "Devices known from configuration.",
	})

	MQTTConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cync_lan_mqtt_connected", Help: "1 while the MQTT client is connected.",
	})
	MQTTPublishErrs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cync_lan_mqtt_publish_errors_total", Help: "MQTT publish failures.",
	})
)

package cync

import (
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cynclan/cync-lan/internal/device"
	"github.com/cynclan/cync-lan/internal/infrastructure/influxdb"
	"github.com/cynclan/cync-lan/internal/infrastructure/mqtt"
)

const defaultMonitorInterval = 30 * time.Second

// MonitorOptions configures NewMonitor.
type MonitorOptions struct {
	Sessions *SessionRegistry
	Registry *device.Registry
	MQTT     MQTTConn
	Topics   mqtt.Topics
	Influx   *influxdb.Client
	QoS      byte
	Interval time.Duration
	Logger   Logger
	Clock    clockwork.Clock
}

// Monitor periodically publishes the bridge's own diagnostic sensors
// (session count, configured device count) and forwards session gauges
// to InfluxDB when configured.
type Monitor struct {
	sessions *SessionRegistry
	registry *device.Registry
	mqttc    MQTTConn
	topics   mqtt.Topics
	influx   *influxdb.Client
	qos      byte
	interval time.Duration
	logger   Logger
	clock    clockwork.Clock

	done     *closeOnce
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMonitor builds a monitor; Start launches its loop.
func NewMonitor(opts MonitorOptions) *Monitor {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultMonitorInterval
	}
	return &Monitor{
		sessions: opts.Sessions,
		registry: opts.Registry,
		mqttc:    opts.MQTT,
		topics:   opts.Topics,
		influx:   opts.Influx,
		qos:      opts.QoS,
		interval: opts.Interval,
		logger:   opts.Logger,
		clock:    opts.Clock,
		done:     newCloseOnce(),
	}
}

// Start publishes one immediate sample, then one per interval.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.loop()
}

// Stop halts the loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.done.Close()
		m.wg.Wait()
	})
}

func (m *Monitor) loop() {
	defer m.wg.Done()
	m.sample()
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done.Done():
			return
		case <-ticker.Chan():
			m.sample()
		}
	}
}

func (m *Monitor) sample() {
	total := m.sessions.Count()
	ready := m.sessions.ReadyCount()
	devices := m.registry.DeviceCount()

	if err := m.mqttc.PublishString(m.topics.Status("bridge-tcp-devices"), strconv.Itoa(total), m.qos, false); err != nil {
		m.logger.Debug("monitor publish failed", "sensor", "tcp_devices", "error", err)
	}
	if err := m.mqttc.PublishString(m.topics.Status("bridge-total-devices"), strconv.Itoa(devices), m.qos, false); err != nil {
		m.logger.Debug("monitor publish failed", "sensor", "total_devices", "error", err)
	}
	if m.influx != nil && m.influx.IsConnected() {
		m.influx.WriteSessionGauges(total, ready)
	}
	m.logger.Debug("pool sampled", "sessions", total, "ready", ready, "devices", devices)
}

package cync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cynclan/cync-lan/internal/device"
	"github.com/cynclan/cync-lan/internal/hass"
	"github.com/cynclan/cync-lan/internal/infrastructure/influxdb"
	"github.com/cynclan/cync-lan/internal/infrastructure/mqtt"
)

// MQTTConn is the slice of the MQTT client the bridge publishes and
// subscribes through.
type MQTTConn interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishString(topic, payload string, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	SetOnConnect(callback func())
}

// BridgeOptions configures NewBridge. Registry, MQTT and Topics are
// required.
type BridgeOptions struct {
	Registry *device.Registry
	MQTT     MQTTConn
	Topics   mqtt.Topics

	// Version is the bridge build version shown on discovery cards.
	Version string

	// KelvinMin/KelvinMax span the white range for temperature
	// conversions. Defaults 2000-7000.
	KelvinMin int
	KelvinMax int

	// History and Influx are optional reconciliation outputs.
	History device.HistoryRepository
	Influx  *influxdb.Client

	// QoS applies to every bridge publication.
	QoS byte

	// Executor tuning; zero values use package defaults.
	Broadcasts    int
	AckTimeout    time.Duration
	SettleDelay   time.Duration
	QueueCapacity int

	// RefreshInterval enables the periodic mesh refresh when positive.
	// Off by default; the post-command refresh usually suffices.
	RefreshInterval time.Duration

	Logger Logger
	Clock  clockwork.Clock
}

// Bridge is the orchestrator: it owns the session registry, routes MQTT
// commands into the executor, gates status on the primary listener, and
// publishes reconciled state, availability and discovery.
//
// It implements SessionHandler for sessions, StatePublisher for the
// executor, and StateSink for the reconciler.
type Bridge struct {
	registry   *device.Registry
	mqttc      MQTTConn
	topics     mqtt.Topics
	builder    *hass.Builder
	sessions   *SessionRegistry
	reconciler *Reconciler
	executor   *Executor
	logger     Logger
	clock      clockwork.Clock

	qos             byte
	kelvinMin       int
	kelvinMax       int
	refreshInterval time.Duration

	ctx      context.Context
	restart  chan struct{}
	done     *closeOnce
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewBridge wires the orchestrator. Start must be called before any
// session is accepted.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Registry == nil || opts.MQTT == nil {
		return nil, errors.New("cync: bridge needs a device registry and an mqtt client")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.KelvinMin <= 0 {
		opts.KelvinMin = 2000
	}
	if opts.KelvinMax <= opts.KelvinMin {
		opts.KelvinMax = 7000
	}

	b := &Bridge{
		registry: opts.Registry,
		mqttc:    opts.MQTT,
		topics:   opts.Topics,
		builder: &hass.Builder{
			Topics:    opts.Topics,
			Version:   opts.Version,
			KelvinMin: opts.KelvinMin,
			KelvinMax: opts.KelvinMax,
			Effects:   EffectNames(),
		},
		sessions:        NewSessionRegistry(opts.Logger),
		logger:          opts.Logger,
		clock:           opts.Clock,
		qos:             opts.QoS,
		kelvinMin:       opts.KelvinMin,
		kelvinMax:       opts.KelvinMax,
		refreshInterval: opts.RefreshInterval,
		ctx:             context.Background(),
		restart:         make(chan struct{}, 1),
		done:            newCloseOnce(),
	}
	b.reconciler = NewReconciler(ReconcilerOptions{
		Registry: opts.Registry,
		Sink:     b,
		History:  opts.History,
		Influx:   opts.Influx,
		Logger:   opts.Logger,
	})
	b.executor = NewExecutor(ExecutorOptions{
		Sessions:      b.sessions,
		Publisher:     b,
		OnPending:     func(id int) { opts.Registry.SetPendingCommand(id, true) },
		Broadcasts:    opts.Broadcasts,
		AckTimeout:    opts.AckTimeout,
		SettleDelay:   opts.SettleDelay,
		QueueCapacity: opts.QueueCapacity,
		Logger:        opts.Logger,
		Clock:         opts.Clock,
	})
	return b, nil
}

// Sessions exposes the session registry for the listener and the
// diagnostics surfaces.
func (b *Bridge) Sessions() *SessionRegistry {
	return b.sessions
}

// Executor exposes the command executor for the diagnostics surfaces.
func (b *Bridge) Executor() *Executor {
	return b.executor
}

// RestartSignal is fired when Home Assistant presses the restart button.
// The process runner listens and exits for the supervisor to relaunch.
func (b *Bridge) RestartSignal() <-chan struct{} {
	return b.restart
}

// RequestRestart fires the restart signal. Used by the MQTT restart
// button and the diagnostics API; a signal already pending is enough.
func (b *Bridge) RequestRestart() {
	select {
	case b.restart <- struct{}{}:
	default:
	}
}

// Start subscribes the command router, publishes discovery, and launches
// the periodic refresh when enabled. ctx scopes reconciliation writes.
func (b *Bridge) Start(ctx context.Context) error {
	if ctx != nil {
		b.ctx = ctx
	}
	b.executor.Start()

	if err := b.mqttc.Subscribe(b.topics.AllSet(), b.qos, b.handleSet); err != nil {
		return fmt.Errorf("cync: subscribe %s: %w", b.topics.AllSet(), err)
	}
	if err := b.mqttc.Subscribe(b.topics.HassStatus(), b.qos, b.handleHassStatus); err != nil {
		return fmt.Errorf("cync: subscribe %s: %w", b.topics.HassStatus(), err)
	}
	b.mqttc.SetOnConnect(func() {
		b.PublishDiscovery()
		b.PublishAllStates()
	})

	b.PublishDiscovery()
	b.PublishAllStates()

	if b.refreshInterval > 0 {
		b.wg.Add(1)
		go b.refreshLoop()
	}
	b.logger.Info("bridge started",
		"devices", b.registry.DeviceCount(), "groups", b.registry.GroupCount(),
		"periodic_refresh", b.refreshInterval)
	return nil
}

// Stop halts the executor, reconciler and timers. Sessions are closed by
// the listener's Stop.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.done.Close()
		b.executor.Stop()
		b.reconciler.Stop()
		b.wg.Wait()
	})
}

func (b *Bridge) refreshLoop() {
	defer b.wg.Done()
	ticker := b.clock.NewTicker(b.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.done.Done():
			return
		case <-ticker.Chan():
			if err := b.executor.RefreshMesh(); err != nil {
				b.logger.Debug("periodic refresh skipped", "error", err)
			}
		}
	}
}

// ----- SessionHandler -----

// OnReady is called when a session finishes its handshake.
func (b *Bridge) OnReady(s *Session) {
	b.logger.Info("session ready",
		"session", s.ID(), "addr", s.Addr(), "primary", b.sessions.IsPrimary(s),
		"ready_sessions", b.sessions.ReadyCount())
}

// OnStatus applies reports from the primary listener only. Every session
// has already written its protocol-mandated acks; dropping here is what
// keeps N witnesses of the same mesh from double-writing the store.
func (b *Bridge) OnStatus(s *Session, reports []StatusReport, source string) {
	if !b.sessions.IsPrimary(s) {
		b.logger.Debug("status from non-primary dropped",
			"session", s.ID(), "source", source, "reports", len(reports))
		return
	}
	b.reconciler.Apply(b.ctx, reports, source)
}

// OnControlResult clears the device's pending flag once any session
// hears back. A rejected command is not republished; the mesh refresh
// that follows the command reconciles the optimistic state.
func (b *Bridge) OnControlResult(s *Session, deviceID int, verb string, success bool) {
	b.registry.SetPendingCommand(deviceID, false)
	if !success {
		b.logger.Warn("command rejected by device",
			"session", s.ID(), "device", deviceID, "verb", verb)
	}
}

// OnControlAbandoned clears the pending flag when a control aged out
// without an acknowledgement.
func (b *Bridge) OnControlAbandoned(s *Session, deviceID int) {
	b.registry.SetPendingCommand(deviceID, false)
}

// OnClosed removes the session and logs any failover.
func (b *Bridge) OnClosed(s *Session, err error) {
	promoted, wasPrimary := b.sessions.Remove(s)
	fields := []any{"session", s.ID(), "addr", s.Addr(), "sessions", b.sessions.Count()}
	if err != nil && !errors.Is(err, context.Canceled) {
		fields = append(fields, "error", err)
	}
	b.logger.Info("session closed", fields...)
	if wasPrimary && promoted == nil {
		b.logger.Warn("no sessions left; device state is frozen until one reconnects")
	}
}

// ----- StatePublisher (optimistic path) -----

// PublishCommandState publishes the expected post-command state without
// touching the store. Switch commands also sync the switch's primary
// group members; group commands sync every member.
func (b *Bridge) PublishCommandState(cmd Command) {
	if cmd.Group {
		g, ok := b.registry.GetGroup(cmd.ID)
		if !ok {
			return
		}
		pg := projectGroup(g, cmd)
		b.PublishGroupState(pg, "optimistic")
		for _, mid := range g.Members {
			if d, ok := b.registry.GetDevice(mid); ok {
				b.PublishDeviceState(projectDevice(d, cmd), "optimistic")
			}
		}
		return
	}

	d, ok := b.registry.GetDevice(cmd.ID)
	if !ok {
		return
	}
	b.PublishDeviceState(projectDevice(d, cmd), "optimistic")

	// A wired switch drives the loads of its room; show them flipping
	// together rather than waiting out the mesh round trip.
	if d.Type.Component() == "switch" {
		if pg, ok := b.registry.PrimaryGroupOf(d.ID); ok {
			for _, mid := range pg.Members {
				if mid == d.ID {
					continue
				}
				if member, ok := b.registry.GetDevice(mid); ok {
					b.PublishDeviceState(projectDevice(member, cmd), "optimistic")
				}
			}
		}
	}
}

// projectDevice returns a copy of d carrying cmd's expected post-state.
// The temperature markers (129 effect, 254 RGB) drive the color mode of
// the rendered payload.
func projectDevice(d device.Device, cmd Command) device.Device {
	switch cmd.Kind {
	case CmdPower:
		d.On = cmd.On
	case CmdBrightness:
		d.Brightness = cmd.Value
		d.On = cmd.Value > 0
	case CmdTemperature:
		d.Temperature = cmd.Value
		d.On = true
	case CmdRGB:
		d.R, d.G, d.B = cmd.R, cmd.G, cmd.B
		d.Temperature = 254
		d.On = true
	case CmdLightshow:
		d.Temperature = 129
		d.On = true
	case CmdFanSpeed:
		d.Brightness = cmd.Value
		d.On = cmd.Value > 0
	}
	return d
}

func projectGroup(g device.Group, cmd Command) device.Group {
	switch cmd.Kind {
	case CmdPower:
		g.On = cmd.On
	case CmdBrightness:
		g.Brightness = cmd.Value
		g.On = cmd.Value > 0
	case CmdTemperature:
		g.Temperature = cmd.Value
		g.On = true
	case CmdRGB, CmdLightshow:
		g.On = true
	case CmdFanSpeed:
		g.Brightness = cmd.Value
		g.On = cmd.Value > 0
	}
	return g
}

// ----- StateSink (reconciled path) -----

// PublishDeviceState renders and publishes a device snapshot: plain
// ON/OFF for switches and plugs, percent for fans, JSON for lights.
func (b *Bridge) PublishDeviceState(d device.Device, origin string) {
	hassID := hass.DeviceID(d.HomeID, d.ID)
	var payload []byte
	switch d.Type.Component() {
	case "switch":
		payload = hass.OnOffPayload(d.On)
	case "fan":
		payload = hass.FanPayload(d)
	default:
		var err error
		payload, err = hass.LightPayload(d, b.kelvinMin, b.kelvinMax)
		if err != nil {
			b.logger.Error("render light payload", "device", d.ID, "error", err)
			return
		}
	}
	if err := b.mqttc.Publish(b.topics.Status(hassID), payload, b.qos, false); err != nil {
		b.logger.Warn("state publish failed", "device", d.ID, "error", err)
		return
	}
	b.logger.Debug("state published", "entity", hassID, "origin", origin)
}

// PublishDeviceAvailability publishes online/offline for a device.
func (b *Bridge) PublishDeviceAvailability(d device.Device) {
	hassID := hass.DeviceID(d.HomeID, d.ID)
	if err := b.mqttc.Publish(b.topics.Availability(hassID), hass.AvailabilityPayload(d.Online), b.qos, false); err != nil {
		b.logger.Warn("availability publish failed", "device", d.ID, "error", err)
	}
}

// PublishGroupState publishes a group snapshot as a JSON light payload.
func (b *Bridge) PublishGroupState(g device.Group, origin string) {
	hassID := hass.GroupID(g.HomeID, g.ID)
	payload, err := hass.GroupPayload(g, b.kelvinMin, b.kelvinMax)
	if err != nil {
		b.logger.Error("render group payload", "group", g.ID, "error", err)
		return
	}
	if err := b.mqttc.Publish(b.topics.Status(hassID), payload, b.qos, false); err != nil {
		b.logger.Warn("group state publish failed", "group", g.ID, "error", err)
		return
	}
	b.logger.Debug("state published", "entity", hassID, "origin", origin)
}

// PublishGroupAvailability publishes online/offline for a group.
func (b *Bridge) PublishGroupAvailability(g device.Group) {
	hassID := hass.GroupID(g.HomeID, g.ID)
	if err := b.mqttc.Publish(b.topics.Availability(hassID), hass.AvailabilityPayload(g.Online), b.qos, false); err != nil {
		b.logger.Warn("group availability publish failed", "group", g.ID, "error", err)
	}
}

// ----- Discovery -----

// PublishDiscovery publishes retained discovery configs for every
// device, every group (virtual lights) and the bridge's own entities.
func (b *Bridge) PublishDiscovery() {
	published := 0
	for _, d := range b.registry.Devices() {
		area := ""
		if pg, ok := b.registry.PrimaryGroupOf(d.ID); ok {
			area = hass.SuggestedArea(d.Name, pg.Name)
		} else {
			area = hass.SuggestedArea(d.Name, "")
		}
		if b.publishEntity(b.builder.Device(d, area)) {
			published++
		}
	}
	for _, g := range b.registry.Groups() {
		if b.publishEntity(b.builder.Group(g)) {
			published++
		}
	}
	for _, ent := range b.builder.BridgeEntities() {
		if b.publishEntity(ent) {
			published++
		}
	}
	b.logger.Info("discovery published", "entities", published)
}

func (b *Bridge) publishEntity(ent hass.Entity) bool {
	payload, err := json.Marshal(ent.Config)
	if err != nil {
		b.logger.Error("marshal discovery config", "object_id", ent.ObjectID, "error", err)
		return false
	}
	topic := b.topics.Discovery(ent.Component, ent.ObjectID)
	if err := b.mqttc.Publish(topic, payload, b.qos, true); err != nil {
		b.logger.Warn("discovery publish failed", "topic", topic, "error", err)
		return false
	}
	return true
}

// PublishAllStates pushes current state and availability for everything,
// so a freshly (re)subscribed Home Assistant renders without waiting for
// mesh traffic.
func (b *Bridge) PublishAllStates() {
	for _, d := range b.registry.Devices() {
		b.PublishDeviceState(d, "snapshot")
		b.PublishDeviceAvailability(d)
	}
	for _, g := range b.registry.Groups() {
		b.PublishGroupState(g, "snapshot")
		b.PublishGroupAvailability(g)
	}
}

// ----- MQTT routing -----

// handleSet routes one inbound command topic.
//
// Topic shapes under ${cync}/set/:
//
//	bridge/restart | bridge/refresh_status | bridge/export | bridge/otp/…
//	${home}-${device}                  plain or JSON command
//	${home}-${device}/percentage       fan percent 0-100
//	${home}-${device}/preset           fan preset name
//	${home}-group-${group}             plain or JSON command
func (b *Bridge) handleSet(topic string, payload []byte) error {
	rest := strings.TrimPrefix(topic, b.topics.SetPrefix())
	if rest == topic || rest == "" {
		return nil
	}
	parts := strings.Split(rest, "/")
	hassID := parts[0]
	sub := ""
	if len(parts) > 1 {
		sub = strings.Join(parts[1:], "/")
	}

	if hassID == hass.BridgeID {
		return b.handleBridgeCommand(sub, payload)
	}

	target, err := hass.ParseID(hassID)
	if err != nil {
		b.logger.Warn("unroutable command topic", "topic", topic)
		return nil
	}
	switch target.Kind {
	case hass.TargetDevice:
		return b.handleDeviceCommand(target, sub, payload)
	case hass.TargetGroup:
		return b.handleGroupCommand(target, payload)
	default:
		return nil
	}
}

func (b *Bridge) handleBridgeCommand(action string, payload []byte) error {
	switch {
	case action == "restart":
		b.logger.Info("restart requested over mqtt")
		b.RequestRestart()
		return nil
	case action == "refresh_status":
		if err := b.executor.RefreshMesh(); err != nil {
			b.logger.Warn("refresh request failed", "error", err)
		}
		return nil
	case action == "export" || strings.HasPrefix(action, "otp"):
		// Config export (and its OTP exchange) talks to the vendor
		// cloud and lives outside the bridge.
		b.logger.Info("export subsystem not wired", "action", action, "payload_len", len(payload))
		return nil
	default:
		b.logger.Warn("unknown bridge action", "action", action)
		return nil
	}
}

func (b *Bridge) handleDeviceCommand(target hass.Target, sub string, payload []byte) error {
	d, ok := b.registry.GetDevice(target.ID)
	if !ok || d.HomeID != target.HomeID {
		b.logger.Warn("command for unknown device", "home", target.HomeID, "device", target.ID)
		return nil
	}

	switch sub {
	case "percentage":
		pct, err := strconv.Atoi(strings.TrimSpace(string(payload)))
		if err != nil || pct < 0 || pct > 100 {
			b.logger.Warn("bad fan percentage", "device", d.ID, "payload", string(payload))
			return nil
		}
		return b.submit(Command{Kind: CmdFanSpeed, ID: d.ID, Value: pct})
	case "preset":
		pct, err := hass.FanPresetToPercent(string(payload))
		if err != nil {
			b.logger.Warn("bad fan preset", "device", d.ID, "payload", string(payload))
			return nil
		}
		return b.submit(Command{Kind: CmdFanSpeed, ID: d.ID, Value: pct})
	case "":
	default:
		b.logger.Warn("unknown command subtopic", "device", d.ID, "sub", sub)
		return nil
	}

	hcmd, err := hass.ParseCommand(payload)
	if err != nil {
		b.logger.Warn("undecodable command", "device", d.ID, "error", err)
		return nil
	}
	if d.Type.Component() == "fan" {
		// A bare ON/OFF on the fan's command topic is a power toggle;
		// speeds arrive on the percentage/preset subtopics.
		if hcmd.State != nil {
			return b.submit(Command{Kind: CmdPower, ID: d.ID, On: *hcmd.State})
		}
		return nil
	}
	cmd, ok := b.commandFor(d.ID, false, hcmd)
	if !ok {
		return nil
	}
	return b.submit(cmd)
}

func (b *Bridge) handleGroupCommand(target hass.Target, payload []byte) error {
	g, ok := b.registry.GetGroup(target.ID)
	if !ok || g.HomeID != target.HomeID {
		b.logger.Warn("command for unknown group", "home", target.HomeID, "group", target.ID)
		return nil
	}
	hcmd, err := hass.ParseCommand(payload)
	if err != nil {
		b.logger.Warn("undecodable group command", "group", g.ID, "error", err)
		return nil
	}
	cmd, ok := b.commandFor(g.ID, true, hcmd)
	if !ok {
		return nil
	}
	return b.submit(cmd)
}

// commandFor maps a decoded payload onto the single wire verb it
// implies. Precedence follows specificity: effect, color, temperature,
// brightness, power. Device-side, every verb also powers the target on.
func (b *Bridge) commandFor(id int, group bool, c hass.Command) (Command, bool) {
	switch {
	case c.Effect != "":
		return Command{Kind: CmdLightshow, ID: id, Group: group, Effect: c.Effect}, true
	case c.Color != nil:
		return Command{Kind: CmdRGB, ID: id, Group: group, R: c.Color.R, G: c.Color.G, B: c.Color.B}, true
	case c.ColorTemp != nil:
		pct := hass.MiredsToPercent(*c.ColorTemp, b.kelvinMin, b.kelvinMax)
		return Command{Kind: CmdTemperature, ID: id, Group: group, Value: pct}, true
	case c.Brightness != nil:
		return Command{Kind: CmdBrightness, ID: id, Group: group, Value: *c.Brightness}, true
	case c.State != nil:
		return Command{Kind: CmdPower, ID: id, Group: group, On: *c.State}, true
	default:
		return Command{}, false
	}
}

func (b *Bridge) submit(cmd Command) error {
	err := b.executor.Submit(cmd)
	if errors.Is(err, ErrQueueFull) || errors.Is(err, ErrQueueClosed) {
		// Dropping is correct: the UI will be reconciled by the next
		// refresh, and erroring the MQTT handler would only log twice.
		return nil
	}
	return err
}

// handleHassStatus reacts to Home Assistant's birth message by
// republishing discovery and state, so a restarted HA repopulates.
func (b *Bridge) handleHassStatus(_ string, payload []byte) error {
	if !strings.EqualFold(strings.TrimSpace(string(payload)), hass.PayloadOnline) {
		return nil
	}
	b.logger.Info("home assistant birth; republishing discovery")
	b.PublishDiscovery()
	b.PublishAllStates()
	return nil
}

package cync

import (
	"context"
	"strconv"

	"github.com/alitto/pond/v2"

	"github.com/cynclan/cync-lan/internal/device"
	"github.com/cynclan/cync-lan/internal/infrastructure/influxdb"
	"github.com/cynclan/cync-lan/internal/infrastructure/metrics"
)

// defaultApplyWorkers bounds parallel applies within one bulk batch.
const defaultApplyWorkers = 4

// StateSink receives reconciled snapshots for publication. The
// orchestrator implements it over MQTT.
type StateSink interface {
	PublishDeviceState(d device.Device, origin string)
	PublishDeviceAvailability(d device.Device)
	PublishGroupState(g device.Group, origin string)
	PublishGroupAvailability(g device.Group)
}

// ReconcilerOptions configures NewReconciler. Registry and Sink are
// required; History and Influx are optional outputs.
type ReconcilerOptions struct {
	Registry *device.Registry
	Sink     StateSink
	History  device.HistoryRepository
	Influx   *influxdb.Client
	Logger   Logger

	// Workers bounds parallel applies in a bulk batch. Default 4.
	Workers int
}

// Reconciler walks parsed status reports into the device store and fans
// the resulting snapshots out to MQTT, the history journal and the time
// series store. Per-ID writes are last-writer-wins, so reports within one
// bulk batch apply in parallel.
type Reconciler struct {
	registry *device.Registry
	sink     StateSink
	history  device.HistoryRepository
	influx   *influxdb.Client
	logger   Logger
	pool     pond.Pool
}

// NewReconciler builds a reconciler.
func NewReconciler(opts ReconcilerOptions) *Reconciler {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultApplyWorkers
	}
	return &Reconciler{
		registry: opts.Registry,
		sink:     opts.Sink,
		history:  opts.History,
		influx:   opts.Influx,
		logger:   opts.Logger,
		pool:     pond.NewPool(opts.Workers),
	}
}

// Stop drains the apply pool.
func (r *Reconciler) Stop() {
	r.pool.StopAndWait()
}

// Apply reconciles a batch of reports attributed to source.
func (r *Reconciler) Apply(ctx context.Context, reports []StatusReport, source string) {
	switch len(reports) {
	case 0:
		return
	case 1:
		r.applyOne(ctx, reports[0], source)
	default:
		group := r.pool.NewGroup()
		for _, rep := range reports {
			rep := rep
			group.Submit(func() { r.applyOne(ctx, rep, source) })
		}
		_ = group.Wait()
	}
	r.refreshGauges()
}

func (r *Reconciler) applyOne(ctx context.Context, rep StatusReport, source string) {
	devRes, grpRes, err := r.registry.ApplyStatus(rep.ID, rep.Update)
	if err != nil {
		// Mesh replies enumerate whatever the hardware sees, including
		// devices missing from the configured homes.
		r.logger.Debug("status for unknown target", "id", rep.ID, "source", source)
		return
	}
	switch {
	case devRes.Device.ID != 0:
		r.finishDevice(ctx, devRes, source)
	case grpRes.Group.ID != 0:
		r.finishGroup(grpRes, source)
	}
}

func (r *Reconciler) finishDevice(ctx context.Context, res device.ApplyResult, source string) {
	d := res.Device
	if res.OnlineChanged {
		r.sink.PublishDeviceAvailability(d)
		r.logger.Info("device availability changed", "device", d.ID, "name", d.Name, "online", d.Online)
	}
	if res.Applied {
		r.sink.PublishDeviceState(d, source)
		metrics.StatusPublishes.WithLabelValues(source).Inc()
		r.journal(ctx, res, source)
		r.timeSeries(d, source)
	}
	// Subgroups re-aggregate on offline flips too: losing the last
	// online member must drag the aggregate offline.
	if res.Applied || res.OnlineChanged {
		r.reaggregate(d.ID, source)
	}
}

func (r *Reconciler) finishGroup(res device.GroupApplyResult, source string) {
	g := res.Group
	if res.OnlineChanged {
		r.sink.PublishGroupAvailability(g)
		r.logger.Info("group availability changed", "group", g.ID, "name", g.Name, "online", g.Online)
	}
	if res.Applied {
		r.sink.PublishGroupState(g, source)
		metrics.StatusPublishes.WithLabelValues(source).Inc()
	}
}

// reaggregate recomputes and republishes every subgroup containing the
// device. Aggregates carry a derived origin so downstream consumers can
// tell a computed snapshot from a reported one.
func (r *Reconciler) reaggregate(deviceID int, source string) {
	subgroups := r.registry.SubgroupsContaining(deviceID)
	if len(subgroups) == 0 {
		return
	}
	origin := "aggregated:" + source
	for _, sg := range subgroups {
		g, ok := r.registry.AggregateSubgroup(sg.ID)
		if !ok {
			continue
		}
		r.sink.PublishGroupState(g, origin)
		r.sink.PublishGroupAvailability(g)
		metrics.StatusPublishes.WithLabelValues(origin).Inc()
	}
}

func (r *Reconciler) journal(ctx context.Context, res device.ApplyResult, source string) {
	if r.history == nil {
		return
	}
	d := res.Device
	if err := r.history.RecordTransition(ctx, d.HomeID, d.ID, res.Prior, d.Record(), source); err != nil {
		r.logger.Warn("history write failed", "device", d.ID, "error", err)
	}
}

func (r *Reconciler) timeSeries(d device.Device, source string) {
	if r.influx == nil {
		return
	}
	r.influx.WriteDeviceState(influxdb.DeviceStatePoint{
		Home:        strconv.Itoa(d.HomeID),
		DeviceID:    d.ID,
		Source:      source,
		On:          d.On,
		Brightness:  d.Brightness,
		Temperature: d.Temperature,
		R:           d.R,
		G:           d.G,
		B:           d.B,
		Online:      d.Online,
	})
}

func (r *Reconciler) refreshGauges() {
	online := 0
	devices := r.registry.Devices()
	for i := range devices {
		if devices[i].Online {
			online++
		}
	}
	metrics.DevicesOnline.Set(float64(online))
	metrics.DevicesTotal.Set(float64(len(devices)))
}

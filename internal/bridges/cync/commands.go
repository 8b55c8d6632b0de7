package cync

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/jonboulle/clockwork"

	"github.com/cynclan/cync-lan/internal/infrastructure/metrics"
)

const (
	// defaultBroadcasts is the fan-out width for device commands.
	defaultBroadcasts = 3
	// defaultAckTimeout bounds the wait for the first acknowledgement.
	defaultAckTimeout = 2 * time.Second
	// defaultSettleDelay lets the mesh propagate before the refresh.
	defaultSettleDelay = 500 * time.Millisecond
)

// StatePublisher receives the optimistic state for a submitted command.
// The orchestrator implements it; the executor itself never touches the
// device store, so a failed command leaves stored state untouched and the
// post-command mesh refresh reconciles whatever the UI was shown.
type StatePublisher interface {
	PublishCommandState(cmd Command)
}

// ExecutorOptions configures NewExecutor. Sessions and Publisher are
// required.
type ExecutorOptions struct {
	Sessions  *SessionRegistry
	Publisher StatePublisher

	// OnPending marks a device as having an in-flight command. Optional.
	OnPending func(deviceID int)

	// Broadcasts is the device-command fan-out width. Default 3.
	Broadcasts int

	AckTimeout    time.Duration
	SettleDelay   time.Duration
	QueueCapacity int

	Logger Logger
	Clock  clockwork.Clock
}

// Executor drains the command queue: optimistic publish at submit, frame
// fan-out, shared ACK wait, settle delay, then a mesh refresh that
// reconciles optimistic state against reality.
type Executor struct {
	sessions  *SessionRegistry
	publisher StatePublisher
	onPending func(int)

	broadcasts  int
	ackTimeout  time.Duration
	settleDelay time.Duration

	queue  *CommandQueue
	pool   pond.Pool
	logger Logger
	clock  clockwork.Clock
	done   *closeOnce
}

// NewExecutor builds an executor. Start must be called before Submit.
func NewExecutor(opts ExecutorOptions) *Executor {
	if opts.Broadcasts <= 0 {
		opts.Broadcasts = defaultBroadcasts
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = defaultAckTimeout
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = defaultSettleDelay
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	e := &Executor{
		sessions:    opts.Sessions,
		publisher:   opts.Publisher,
		onPending:   opts.OnPending,
		broadcasts:  opts.Broadcasts,
		ackTimeout:  opts.AckTimeout,
		settleDelay: opts.SettleDelay,
		pool:        pond.NewPool(opts.Broadcasts),
		logger:      opts.Logger,
		clock:       opts.Clock,
		done:        newCloseOnce(),
	}
	e.queue = NewCommandQueue(opts.QueueCapacity, e.execute, opts.Logger)
	return e
}

// Start launches the queue worker.
func (e *Executor) Start() {
	e.queue.Start()
}

// Stop halts the worker and the fan-out pool. Idempotent.
func (e *Executor) Stop() {
	e.done.Close()
	e.queue.Stop()
	e.pool.StopAndWait()
}

// QueueDepth returns the number of waiting commands.
func (e *Executor) QueueDepth() int {
	return e.queue.Depth()
}

// Submit enqueues cmd and, on success, publishes its optimistic state.
// The publish is unconditional on the eventual ACK: the UI flips
// immediately and the post-command refresh walks it back if the mesh
// disagrees.
func (e *Executor) Submit(cmd Command) error {
	if err := e.queue.Enqueue(cmd); err != nil {
		e.logger.Warn("command dropped", "command", cmd.String(), "error", err)
		return err
	}
	e.publisher.PublishCommandState(cmd)
	if !cmd.Group && e.onPending != nil {
		e.onPending(cmd.ID)
	}
	e.logger.Debug("command queued", "command", cmd.String(), "depth", e.queue.Depth())
	return nil
}

// RefreshMesh asks one ready session for a store-updating mesh snapshot.
func (e *Executor) RefreshMesh() error {
	s, ok := e.sessions.FirstReady()
	if !ok {
		return ErrNoSessions
	}
	return s.RequestMeshInfo(true)
}

// execute runs one command to completion. Errors never leak out of the
// worker; they are logged and counted.
func (e *Executor) execute(cmd Command) {
	start := e.clock.Now()
	result := e.run(cmd)
	metrics.CommandsExecuted.WithLabelValues(result).Inc()
	metrics.CommandDuration.Observe(e.clock.Since(start).Seconds())
	e.logger.Info("command finished", "command", cmd.String(), "result", result,
		"elapsed", e.clock.Since(start).Round(time.Millisecond))
}

func (e *Executor) run(cmd Command) string {
	targets := e.pickTargets(cmd)
	if len(targets) == 0 {
		e.logger.Warn("no sessions for command", "command", cmd.String())
		return "no_sessions"
	}

	if cmd.Kind == CmdLightshow {
		// Lightshows are never acknowledged; send and move on.
		if err := e.sendLightshow(cmd, targets); err != nil {
			e.logger.Warn("lightshow failed", "command", cmd.String(), "error", err)
			return "encode_error"
		}
		return "fire_and_forget"
	}

	ack := NewAckSignal()
	var sent atomic.Int32
	group := e.pool.NewGroup()
	for _, sess := range targets {
		sess := sess
		ctr := sess.NextCtr()
		frame, err := e.encode(cmd, sess.QueueID(), ctr)
		if err != nil {
			e.logger.Error("command encode failed", "command", cmd.String(), "error", err)
			return "encode_error"
		}
		p := &PendingControl{
			Ctr:      ctr,
			DeviceID: cmd.ID,
			Frame:    frame,
			Ack:      ack,
			Callback: func() { e.publisher.PublishCommandState(cmd) },
		}
		group.Submit(func() {
			if err := sess.SendControl(p); err != nil {
				e.logger.Warn("command write failed",
					"command", cmd.String(), "session", sess.ID(), "error", err)
				return
			}
			sent.Add(1)
		})
	}
	_ = group.Wait()
	if sent.Load() == 0 {
		e.logger.Warn("command reached no session", "command", cmd.String())
		return "write_failed"
	}

	result := "acked"
	select {
	case <-ack.Done():
	case <-e.clock.After(e.ackTimeout):
		// Copies stay pending; their sessions keep retrying until the
		// pending TTL abandons them.
		e.logger.Warn("ack timeout", "command", cmd.String(), "sessions", sent.Load())
		result = "timeout"
	case <-e.done.Done():
		return "shutdown"
	}

	e.sleep(e.settleDelay)

	if err := e.RefreshMesh(); err != nil {
		e.logger.Warn("post-command refresh failed", "command", cmd.String(), "error", err)
	}
	return result
}

// pickTargets chooses sessions for the command. Device commands fan out;
// group commands ride a single ready session because every session
// relays into the same mesh and a fanned-out group write would ripple N
// times through it.
func (e *Executor) pickTargets(cmd Command) []*Session {
	if cmd.Group {
		s, ok := e.sessions.FirstReady()
		if !ok {
			return nil
		}
		return []*Session{s}
	}
	return e.sessions.Pick(e.broadcasts)
}

func (e *Executor) sendLightshow(cmd Command, targets []*Session) error {
	group := e.pool.NewGroup()
	for _, sess := range targets {
		sess := sess
		frame, err := LightshowFrame(sess.QueueID(), sess.NextCtr(), cmd.ID, cmd.Effect)
		if err != nil {
			return err
		}
		group.Submit(func() {
			if err := sess.SendFrame(frame); err != nil {
				e.logger.Warn("lightshow write failed", "session", sess.ID(), "error", err)
			}
		})
	}
	_ = group.Wait()
	return nil
}

func (e *Executor) encode(cmd Command, queueID []byte, ctr byte) ([]byte, error) {
	switch cmd.Kind {
	case CmdPower:
		return PowerFrame(queueID, ctr, cmd.ID, cmd.On)
	case CmdBrightness:
		return BrightnessFrame(queueID, ctr, cmd.ID, cmd.Value)
	case CmdTemperature:
		return TemperatureFrame(queueID, ctr, cmd.ID, cmd.Value)
	case CmdRGB:
		return RGBFrame(queueID, ctr, cmd.ID, cmd.R, cmd.G, cmd.B)
	case CmdFanSpeed:
		// Fans reuse the brightness register as their speed control;
		// zero percent means power off.
		if cmd.Value <= 0 {
			return PowerFrame(queueID, ctr, cmd.ID, false)
		}
		return BrightnessFrame(queueID, ctr, cmd.ID, cmd.Value)
	default:
		return nil, fmt.Errorf("%w: command kind %d", ErrInvalidValue, cmd.Kind)
	}
}

func (e *Executor) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-e.clock.After(d):
	case <-e.done.Done():
	}
}

package cync

import (
	"fmt"
	"sync"

	"github.com/cynclan/cync-lan/internal/infrastructure/metrics"
)

const defaultQueueCapacity = 64

// CommandKind selects the wire verb a Command maps to.
type CommandKind int

const (
	CmdPower CommandKind = iota
	CmdBrightness
	CmdTemperature
	CmdRGB
	CmdLightshow
	CmdFanSpeed
)

func (k CommandKind) String() string {
	switch k {
	case CmdPower:
		return "power"
	case CmdBrightness:
		return "brightness"
	case CmdTemperature:
		return "temperature"
	case CmdRGB:
		return "rgb"
	case CmdLightshow:
		return "lightshow"
	case CmdFanSpeed:
		return "fan_speed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Command is one queued operation against a device or group target.
// Value carries the brightness, white temperature or fan percent,
// depending on Kind.
type Command struct {
	Kind   CommandKind
	ID     int
	Group  bool
	On     bool
	Value  int
	R      int
	G      int
	B      int
	Effect string
}

func (c Command) String() string {
	target := "device"
	if c.Group {
		target = "group"
	}
	return fmt.Sprintf("%s %s %d", c.Kind, target, c.ID)
}

// CommandQueue serializes commands: enqueue never blocks, and a single
// worker drains in FIFO order, so command k+1 never starts before
// command k has been acknowledged or timed out and settled.
type CommandQueue struct {
	ch     chan Command
	run    func(Command)
	logger Logger

	done     *closeOnce
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCommandQueue builds a queue whose worker invokes run for each
// command. Zero capacity uses the default.
func NewCommandQueue(capacity int, run func(Command), logger Logger) *CommandQueue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &CommandQueue{
		ch:     make(chan Command, capacity),
		run:    run,
		logger: logger,
		done:   newCloseOnce(),
	}
}

// Start launches the single worker.
func (q *CommandQueue) Start() {
	q.wg.Add(1)
	go q.worker()
}

// Stop halts the worker after its current command. Queued-but-undrained
// commands are dropped; devices reconverge on the next mesh refresh.
func (q *CommandQueue) Stop() {
	q.stopOnce.Do(func() {
		q.done.Close()
		q.wg.Wait()
	})
}

// Enqueue adds cmd without blocking. ErrQueueFull when the buffer is at
// capacity, ErrQueueClosed after Stop.
func (q *CommandQueue) Enqueue(cmd Command) error {
	select {
	case <-q.done.Done():
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- cmd:
		metrics.CommandQueueDepth.Set(float64(len(q.ch)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Depth returns how many commands are waiting.
func (q *CommandQueue) Depth() int {
	return len(q.ch)
}

func (q *CommandQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done.Done():
			return
		case cmd := <-q.ch:
			metrics.CommandQueueDepth.Set(float64(len(q.ch)))
			q.run(cmd)
		}
	}
}

package cync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/cynclan/cync-lan/internal/infrastructure/metrics"
)

const (
	// defaultPendingTTL is how long a control stays correlatable before
	// it is abandoned and the device's pending flag cleared.
	defaultPendingTTL = 30 * time.Second
	// defaultResendAfter is the age at which the cleanup loop resends an
	// unacknowledged control frame.
	defaultResendAfter = 500 * time.Millisecond
	// defaultCleanupInterval paces the per-session cleanup loop.
	defaultCleanupInterval = 100 * time.Millisecond
	// defaultMaxRetries bounds resends of a single pending control.
	defaultMaxRetries = 3
)

// AckSignal is a one-shot completion signal shared by every copy of a
// fanned-out command. The first acknowledging session fires it; waiters
// select on Done.
type AckSignal struct {
	once sync.Once
	ch   chan struct{}
}

// NewAckSignal returns an unfired signal.
func NewAckSignal() *AckSignal {
	return &AckSignal{ch: make(chan struct{})}
}

// Fire releases all waiters. Safe to call any number of times from any
// goroutine.
func (s *AckSignal) Fire() {
	s.once.Do(func() { close(s.ch) })
}

// Done returns a channel closed once the signal has fired.
func (s *AckSignal) Done() <-chan struct{} {
	return s.ch
}

// Fired reports whether the signal has fired without blocking.
func (s *AckSignal) Fired() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// PendingControl tracks one outbound control frame awaiting its 0xF9
// acknowledgement.
type PendingControl struct {
	Ctr      uint8
	DeviceID int
	Frame    []byte
	Callback func()
	Ack      *AckSignal

	sentAt  atomic.Int64 // unix nanos of the most recent send
	retries atomic.Int32
}

// Touch records a (re)send time.
func (p *PendingControl) Touch(now time.Time) {
	p.sentAt.Store(now.UnixNano())
}

// SentAt returns the most recent send time.
func (p *PendingControl) SentAt() time.Time {
	return time.Unix(0, p.sentAt.Load())
}

// AddRetry bumps and returns the retry count.
func (p *PendingControl) AddRetry() int {
	return int(p.retries.Add(1))
}

// Retries returns how many times the frame has been resent.
func (p *PendingControl) Retries() int {
	return int(p.retries.Load())
}

// PendingTable is the per-session map of in-flight controls keyed by
// control counter. Entries expire after pendingTTL; expiry invokes the
// abandon callback so the orchestrator can clear the device's pending
// flag.
type PendingTable struct {
	cache *ttlcache.Cache[uint8, *PendingControl]
}

// NewPendingTable builds a table whose entries expire after ttl (zero
// uses the default). onAbandon may be nil; when set it runs on TTL
// expiry, not on explicit Pop.
func NewPendingTable(ttl time.Duration, onAbandon func(*PendingControl)) *PendingTable {
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	cache := ttlcache.New[uint8, *PendingControl](
		ttlcache.WithTTL[uint8, *PendingControl](ttl),
		ttlcache.WithDisableTouchOnHit[uint8, *PendingControl](),
	)
	cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[uint8, *PendingControl]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		metrics.ControlAbandoned.Inc()
		if onAbandon != nil {
			onAbandon(item.Value())
		}
	})
	return &PendingTable{cache: cache}
}

// Start runs the expiry loop until Stop. Blocking; callers run it in a
// goroutine.
func (t *PendingTable) Start() { t.cache.Start() }

// Stop terminates the expiry loop.
func (t *PendingTable) Stop() { t.cache.Stop() }

// Put registers an in-flight control under its counter.
func (t *PendingTable) Put(p *PendingControl) {
	t.cache.Set(p.Ctr, p, ttlcache.DefaultTTL)
}

// Pop removes and returns the entry for ctr, if present.
func (t *PendingTable) Pop(ctr uint8) (*PendingControl, bool) {
	item := t.cache.Get(ctr)
	if item == nil {
		return nil, false
	}
	t.cache.Delete(ctr)
	return item.Value(), true
}

// Len returns the number of unexpired entries.
func (t *PendingTable) Len() int {
	return t.cache.Len()
}

// Stale snapshots entries whose last send is older than cutoff. The
// resend loop writes outside the snapshot so a slow socket never holds
// the table lock.
func (t *PendingTable) Stale(cutoff time.Time) []*PendingControl {
	var stale []*PendingControl
	for _, item := range t.cache.Items() {
		p := item.Value()
		if p.SentAt().Before(cutoff) {
			stale = append(stale, p)
		}
	}
	return stale
}

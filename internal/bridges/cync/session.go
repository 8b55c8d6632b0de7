package cync

import (
	"crypto/rand"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/cynclan/cync-lan/internal/infrastructure/metrics"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Handshake and read-loop timing.
const (
	// readChunkSize is the TCP read buffer; frames never exceed it.
	readChunkSize = 8192
	// wantControlDelay separates the identify ack from the 0xA3
	// want-control frame. Firmware drops an 0xA3 that arrives too soon.
	wantControlDelay = 500 * time.Millisecond
	// readyDelay is how long after sending 0xA3 the session is
	// considered able to carry control frames.
	readyDelay = 1500 * time.Millisecond

	defaultReadTimeout  = 5 * time.Minute
	defaultWriteTimeout = 10 * time.Second
)

// SessionState tracks a session through its handshake lifecycle.
type SessionState int32

const (
	StateAccepted SessionState = iota
	StateIdentified
	StateReadyToControl
	StateMeshKnown
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateIdentified:
		return "identified"
	case StateReadyToControl:
		return "ready_to_control"
	case StateMeshKnown:
		return "mesh_known"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// SessionHandler receives session lifecycle and protocol events. Every
// session reports status regardless of primary election; the handler is
// the one place that gates.
type SessionHandler interface {
	// OnReady fires once the handshake completes and the session can
	// carry control frames.
	OnReady(s *Session)

	// OnStatus delivers parsed status reports. Source is one of the
	// Source* constants.
	OnStatus(s *Session, reports []StatusReport, source string)

	// OnControlResult fires when a device acknowledges (or rejects) a
	// control frame, after pending-table bookkeeping.
	OnControlResult(s *Session, deviceID int, verb string, success bool)

	// OnControlAbandoned fires when a pending control expires without
	// any acknowledgement.
	OnControlAbandoned(s *Session, deviceID int)

	// OnClosed fires exactly once as the session tears down.
	OnClosed(s *Session, err error)
}

// SessionStats is a point-in-time snapshot for diagnostics.
type SessionStats struct {
	ID           string    `json:"id"`
	Addr         string    `json:"addr"`
	State        string    `json:"state"`
	Ready        bool      `json:"ready"`
	QueueID      string    `json:"queue_id"`
	Firmware     string    `json:"firmware,omitempty"`
	PacketsRx    uint64    `json:"packets_rx"`
	PacketsTx    uint64    `json:"packets_tx"`
	Pending      int       `json:"pending_controls"`
	KnownDevices int       `json:"known_devices"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastSeen     time.Time `json:"last_seen"`
}

// Session owns one TLS connection from a Wi-Fi-capable device. It runs a
// read loop feeding the framer, acks every packet per the protocol
// contract, drives the handshake, and correlates control acknowledgements
// against its pending table.
//
// Thread Safety: all exported methods are safe for concurrent use. The
// framer and checksum memory are touched only by the read loop.
type Session struct {
	id      string
	conn    net.Conn
	addr    string
	handler SessionHandler
	clock   clockwork.Clock
	logger  Logger

	readTimeout     time.Duration
	writeTimeout    time.Duration
	resendAfter     time.Duration
	cleanupInterval time.Duration
	maxRetries      int

	state           atomic.Int32
	readyToControl  atomic.Bool
	parseMeshStatus atomic.Bool
	ctr             atomic.Uint32

	mu       sync.RWMutex
	queueID  []byte
	known    map[int]struct{}
	firmware string

	framer   Framer
	checksum ChecksumMemory

	writeMu sync.Mutex
	pending *PendingTable

	done     *closeOnce
	stopOnce sync.Once
	wg       sync.WaitGroup

	packetsRx   atomic.Uint64
	packetsTx   atomic.Uint64
	lastSeen    atomic.Int64
	connectedAt time.Time
}

// SessionOptions configures NewSession. Conn and Handler are required.
type SessionOptions struct {
	Conn    net.Conn
	Handler SessionHandler

	// Logger is optional; nil discards.
	Logger Logger

	// Clock is optional; nil uses the wall clock. Tests inject a fake.
	Clock clockwork.Clock

	// ReadTimeout bounds a single blocking read. Devices heartbeat well
	// inside it; a silent socket is a dead device. Default 5 minutes.
	ReadTimeout time.Duration

	// WriteTimeout bounds a single frame write. Default 10 seconds.
	WriteTimeout time.Duration

	// PendingTTL, ResendAfter, CleanupInterval and MaxRetries tune the
	// pending-control lifecycle. Zero values use the package defaults.
	PendingTTL      time.Duration
	ResendAfter     time.Duration
	CleanupInterval time.Duration
	MaxRetries      int
}

// NewSession wraps an accepted connection. The session is inert until
// Start.
func NewSession(opts SessionOptions) *Session {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.ResendAfter <= 0 {
		opts.ResendAfter = defaultResendAfter
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}

	s := &Session{
		id:              uuid.NewString(),
		conn:            opts.Conn,
		addr:            opts.Conn.RemoteAddr().String(),
		handler:         opts.Handler,
		clock:           opts.Clock,
		logger:          opts.Logger,
		readTimeout:     opts.ReadTimeout,
		writeTimeout:    opts.WriteTimeout,
		resendAfter:     opts.ResendAfter,
		cleanupInterval: opts.CleanupInterval,
		maxRetries:      opts.MaxRetries,
		known:           make(map[int]struct{}),
		done:            newCloseOnce(),
		connectedAt:     opts.Clock.Now(),
	}
	s.state.Store(int32(StateAccepted))
	s.lastSeen.Store(s.connectedAt.UnixNano())
	s.pending = NewPendingTable(opts.PendingTTL, func(p *PendingControl) {
		s.logger.Warn("control abandoned", "session", s.id, "ctr", p.Ctr, "device", p.DeviceID, "retries", p.Retries())
		s.handler.OnControlAbandoned(s, p.DeviceID)
	})
	return s
}

// Start launches the read loop, the pending-control cleanup loop, and the
// pending-table expiry loop.
func (s *Session) Start() {
	s.wg.Add(2)
	go s.readLoop()
	go s.cleanupLoop()
	go s.pending.Start()
}

// Close tears the session down. Idempotent.
func (s *Session) Close() {
	s.closeWith(nil)
}

func (s *Session) closeWith(err error) {
	s.stopOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		s.readyToControl.Store(false)
		s.done.Close()
		s.conn.Close()
		s.pending.Stop()
		// OnClosed must not run before the loops drain, and the read
		// loop itself lands here on EOF, so wait off to the side.
		go func() {
			s.wg.Wait()
			s.handler.OnClosed(s, err)
		}()
	})
}

// Done is closed when the session has begun teardown.
func (s *Session) Done() <-chan struct{} {
	return s.done.Done()
}

// ID returns the session's log identifier.
func (s *Session) ID() string { return s.id }

// Addr returns the device's remote address.
func (s *Session) Addr() string { return s.addr }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Ready reports whether the handshake has completed and control frames
// can be carried.
func (s *Session) Ready() bool {
	return s.readyToControl.Load() && s.State() != StateClosed
}

// QueueID returns a copy of the 5-byte routing ID from the identify
// packet, or nil before identification.
func (s *Session) QueueID() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.queueID == nil {
		return nil
	}
	out := make([]byte, len(s.queueID))
	copy(out, s.queueID)
	return out
}

// Firmware returns the last firmware version announced on this session.
func (s *Session) Firmware() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.firmware
}

// KnowsDevice reports whether this session's device has ever listed id
// in a mesh or status report.
func (s *Session) KnowsDevice(id int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.known[id]
	return ok
}

// KnownDevices returns the sorted IDs this session has witnessed.
func (s *Session) KnownDevices() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int, 0, len(s.known))
	for id := range s.known {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// NextCtr returns the next control counter. Wraps mod 256.
func (s *Session) NextCtr() byte {
	return byte(s.ctr.Add(1))
}

// Stats snapshots the session for the diagnostics surfaces.
func (s *Session) Stats() SessionStats {
	s.mu.RLock()
	queue := fmt.Sprintf("%X", s.queueID)
	firmware := s.firmware
	known := len(s.known)
	s.mu.RUnlock()
	return SessionStats{
		ID:           s.id,
		Addr:         s.addr,
		State:        s.State().String(),
		Ready:        s.Ready(),
		QueueID:      queue,
		Firmware:     firmware,
		PacketsRx:    s.packetsRx.Load(),
		PacketsTx:    s.packetsTx.Load(),
		Pending:      s.pending.Len(),
		KnownDevices: known,
		ConnectedAt:  s.connectedAt,
		LastSeen:     time.Unix(0, s.lastSeen.Load()),
	}
}

// SendControl registers p in the pending table and writes its frame.
// The entry is withdrawn if the write fails.
func (s *Session) SendControl(p *PendingControl) error {
	if s.State() == StateClosed {
		return ErrSessionClosed
	}
	p.Touch(s.clock.Now())
	s.pending.Put(p)
	if err := s.write(p.Frame); err != nil {
		s.pending.Pop(p.Ctr)
		return err
	}
	return nil
}

// SendFrame writes a fire-and-forget frame (lightshows, acks issued on
// behalf of the orchestrator).
func (s *Session) SendFrame(frame []byte) error {
	if s.State() == StateClosed {
		return ErrSessionClosed
	}
	return s.write(frame)
}

// RequestMeshInfo asks the device to enumerate every mesh peer it can
// reach. With updateStore set, the next mesh reply flows into the state
// store instead of only refreshing the session's known-device set.
func (s *Session) RequestMeshInfo(updateStore bool) error {
	if !s.Ready() {
		return ErrNotReady
	}
	frame, err := MeshInfoFrame(s.QueueID(), s.NextCtr())
	if err != nil {
		return err
	}
	if updateStore {
		s.parseMeshStatus.Store(true)
	}
	return s.write(frame)
}

func (s *Session) write(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := s.conn.Write(frame); err != nil {
		// A session that cannot write is retired; the device reconnects
		// and outstanding commands ride any parallel sessions.
		s.logger.Warn("write failed, retiring session", "session", s.id, "addr", s.addr, "error", err)
		s.closeWith(fmt.Errorf("write: %w", err))
		return err
	}
	s.packetsTx.Add(1)
	metrics.PacketsSent.WithLabelValues(packetLabel(frame[0])).Inc()
	return nil
}

func packetLabel(b byte) string {
	return fmt.Sprintf("0x%02X", b)
}

// readLoop blocks on the socket, feeds the framer, and dispatches
// complete packets. Any packet-level error is logged with context and the
// loop continues; only EOF, a socket error, or shutdown exits.
func (s *Session) readLoop() {
	defer s.wg.Done()
	buf := make([]byte, readChunkSize)
	for {
		select {
		case <-s.done.Done():
			return
		default:
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			s.closeWith(fmt.Errorf("set read deadline: %w", err))
			return
		}
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.lastSeen.Store(s.clock.Now().UnixNano())
			s.framer.Feed(buf[:n])
			s.drainFrames()
		}
		if err != nil {
			s.closeWith(err)
			return
		}
	}
}

func (s *Session) drainFrames() {
	for {
		pkt, skipped, ok := s.framer.Next()
		if skipped > 0 {
			metrics.FrameErrors.WithLabelValues("skipped_bytes").Add(float64(skipped))
			s.logger.Warn("skipped unframeable bytes", "session", s.id, "addr", s.addr, "bytes", skipped)
		}
		if !ok {
			return
		}
		s.packetsRx.Add(1)
		metrics.PacketsReceived.WithLabelValues(packetLabel(pkt.Type)).Inc()
		if err := s.handlePacket(pkt); err != nil {
			s.logger.Warn("packet handling failed",
				"session", s.id, "addr", s.addr, "type", packetLabel(pkt.Type), "error", err)
		}
	}
}

func (s *Session) handlePacket(pkt Packet) error {
	switch pkt.Type {
	case TypeIdentify:
		return s.handleIdentify(pkt)
	case TypeHeartbeat:
		return s.write(HeartbeatAck())
	case TypeConnection:
		return s.write(ConnectionAck(s.clock.Now()))
	case TypeWantControl:
		// Device- or app-originated 0xA3: just acknowledge.
		return s.write(WantControlAck(pkt.MsgID()))
	case TypeWantControlAck, TypeControlAck:
		// Acks of our own 0xA3/0x73; length tracking was the only duty.
		return nil
	case TypeInfo:
		return s.handleInfo(pkt)
	case TypeStatus:
		return s.handleStatus(pkt)
	case TypeControl:
		return s.handleControl(pkt)
	case typeAppAuth, typeAppData:
		s.logger.Debug("blackholed app packet", "session", s.id, "type", packetLabel(pkt.Type))
		return nil
	default:
		return fmt.Errorf("%w: dispatch for type 0x%02X", ErrBadEnvelope, pkt.Type)
	}
}

func (s *Session) handleIdentify(pkt Packet) error {
	if err := s.write(IdentifyAck()); err != nil {
		return err
	}
	queue, err := ParseIdentify(pkt.Payload)
	if err != nil {
		return fmt.Errorf("identify: %w", err)
	}
	s.mu.Lock()
	s.queueID = queue
	s.mu.Unlock()

	// Duplicate 0x23s re-ack but must not restart the handshake.
	if !s.state.CompareAndSwap(int32(StateAccepted), int32(StateIdentified)) {
		return nil
	}
	s.logger.Info("device identified", "session", s.id, "addr", s.addr, "queue_id", fmt.Sprintf("%X", queue))

	s.wg.Add(1)
	go s.completeHandshake()
	return nil
}

// completeHandshake paces the post-identify sequence: wait, claim control
// with 0xA3, wait again, then mark ready and pull a first mesh snapshot.
func (s *Session) completeHandshake() {
	defer s.wg.Done()

	select {
	case <-s.clock.After(wantControlDelay):
	case <-s.done.Done():
		return
	}
	var rnd [2]byte
	_, _ = rand.Read(rnd[:])
	if err := s.write(WantControl(s.QueueID(), rnd[0], rnd[1])); err != nil {
		return
	}

	select {
	case <-s.clock.After(readyDelay):
	case <-s.done.Done():
		return
	}
	s.readyToControl.Store(true)
	s.state.CompareAndSwap(int32(StateIdentified), int32(StateReadyToControl))
	s.logger.Info("session ready to control", "session", s.id, "addr", s.addr)
	s.handler.OnReady(s)

	if err := s.RequestMeshInfo(true); err != nil {
		s.logger.Warn("initial mesh request failed", "session", s.id, "error", err)
	}
}

func (s *Session) handleInfo(pkt Packet) error {
	if err := s.write(InfoAck(pkt.MsgID())); err != nil {
		return err
	}
	body := pkt.Body()
	if IsTimestampBody(body) {
		s.logger.Debug("timestamp sync", "session", s.id)
		return nil
	}
	reports := ParseInfoStructs(body)
	if len(reports) == 0 {
		return nil
	}
	s.markKnown(reports)
	s.handler.OnStatus(s, reports, SourceUnsolicited)
	return nil
}

func (s *Session) handleStatus(pkt Packet) error {
	if err := s.write(StatusAck(pkt.MsgID())); err != nil {
		return err
	}
	body := pkt.Body()
	if IsFirmwareBody(body) {
		s.setFirmware(ParseFirmwareVersion(body))
		return nil
	}
	inner, err := extractInner(body)
	if err != nil {
		metrics.FrameErrors.WithLabelValues("bad_inner").Inc()
		return err
	}
	sumOK, err := checkInner(inner)
	if err != nil {
		metrics.FrameErrors.WithLabelValues("bad_inner").Inc()
		return err
	}
	// Streamed status bursts reuse the first packet's checksum; the
	// memory accepts those repeats and flags genuine mismatches.
	if s.checksum.Check(inner, sumOK) == ChecksumBad {
		metrics.FrameErrors.WithLabelValues("checksum").Inc()
		s.logger.Warn("status checksum mismatch, parsing anyway", "session", s.id, "addr", s.addr)
	}
	report, err := ParseInnerStatus(inner)
	if err != nil {
		return err
	}
	s.markKnown([]StatusReport{report})
	s.handler.OnStatus(s, []StatusReport{report}, SourceStream)
	return nil
}

func (s *Session) handleControl(pkt Packet) error {
	if err := s.write(ControlAckFrame(pkt.QueueID(), pkt.MsgID())); err != nil {
		return err
	}
	inner, err := extractInner(pkt.Body())
	if err != nil {
		metrics.FrameErrors.WithLabelValues("bad_inner").Inc()
		return err
	}
	if sumOK, err := checkInner(inner); err != nil {
		metrics.FrameErrors.WithLabelValues("bad_inner").Inc()
		return err
	} else if !sumOK {
		metrics.FrameErrors.WithLabelValues("checksum").Inc()
		s.logger.Warn("control reply checksum mismatch, parsing anyway", "session", s.id, "addr", s.addr)
	}

	switch classifyInner(inner) {
	case innerMeshReply:
		return s.handleMeshReply(inner)
	case innerControlAck:
		return s.handleControlAck(inner)
	case innerFirmware:
		s.setFirmware(ParseFirmwareVersion(inner))
		return nil
	default:
		s.logger.Debug("unclassified control reply",
			"session", s.id, "marker", packetLabel(inner[innerMarkerIdx]), "function", packetLabel(inner[innerFunctionIdx]))
		return nil
	}
}

func (s *Session) handleMeshReply(inner []byte) error {
	reports, ackOnly, err := ParseMeshReply(inner)
	if err != nil {
		return err
	}
	if ackOnly {
		s.logger.Debug("mesh ack-only reply", "session", s.id)
		return nil
	}
	s.markKnown(reports)
	if s.state.CompareAndSwap(int32(StateReadyToControl), int32(StateMeshKnown)) {
		s.logger.Info("mesh enumerated", "session", s.id, "addr", s.addr, "devices", len(reports))
	}
	if s.parseMeshStatus.Swap(false) {
		s.handler.OnStatus(s, reports, SourceMeshInfo)
	}
	return nil
}

func (s *Session) handleControlAck(inner []byte) error {
	ack, err := ParseControlAck(inner)
	if err != nil {
		return err
	}
	p, ok := s.pending.Pop(ack.Ctr)
	if !ok {
		// Raced with a retry ack or another session won the fan-out.
		s.logger.Debug("unmatched control ack", "session", s.id, "ctr", ack.Ctr, "verb", ack.Verb)
		return nil
	}
	if ack.Success {
		p.Ack.Fire()
		if p.Callback != nil {
			p.Callback()
		}
	} else {
		s.logger.Warn("device rejected control",
			"session", s.id, "device", p.DeviceID, "verb", ack.Verb, "ctr", ack.Ctr)
	}
	s.handler.OnControlResult(s, p.DeviceID, ack.Verb, ack.Success)
	return nil
}

// cleanupLoop resends pending controls that have gone unacknowledged past
// the resend interval, up to the retry cap. Entries past the pending TTL
// are abandoned by the table itself.
func (s *Session) cleanupLoop() {
	defer s.wg.Done()
	ticker := s.clock.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done.Done():
			return
		case <-ticker.Chan():
			s.resendStale()
		}
	}
}

func (s *Session) resendStale() {
	cutoff := s.clock.Now().Add(-s.resendAfter)
	for _, p := range s.pending.Stale(cutoff) {
		if p.Ack.Fired() {
			// Another session's copy was acknowledged first.
			s.pending.Pop(p.Ctr)
			continue
		}
		if p.Retries() >= s.maxRetries {
			continue
		}
		p.AddRetry()
		p.Touch(s.clock.Now())
		metrics.ControlRetries.Inc()
		s.logger.Debug("resending control", "session", s.id, "ctr", p.Ctr, "device", p.DeviceID, "retry", p.Retries())
		if err := s.write(p.Frame); err != nil {
			return
		}
	}
}

func (s *Session) markKnown(reports []StatusReport) {
	s.mu.Lock()
	for _, r := range reports {
		s.known[r.ID] = struct{}{}
	}
	s.mu.Unlock()
}

func (s *Session) setFirmware(version string) {
	if version == "" {
		return
	}
	s.mu.Lock()
	changed := s.firmware != version
	s.firmware = version
	s.mu.Unlock()
	if changed {
		s.logger.Info("firmware announced", "session", s.id, "addr", s.addr, "version", version)
	}
}

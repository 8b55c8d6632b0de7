package cync

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cynclan/cync-lan/internal/infrastructure/metrics"
)

// defaultListenAddr is the port devices dial once DNS points the vendor
// cloud hostname at the bridge.
const defaultListenAddr = ":23779"

// legacyCipherSuites is the negotiable set. Old firmware only speaks
// TLS 1.0 with CBC suites, and the oldest needs 3DES, so the CBC and
// 3DES suites Go no longer enables by default are listed explicitly.
var legacyCipherSuites = []uint16{
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
	tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
	tls.TLS_RSA_WITH_AES_256_CBC_SHA,
	tls.TLS_RSA_WITH_AES_128_CBC_SHA,
	tls.TLS_RSA_WITH_3DES_EDE_CBC_SHA,
}

// ServerOptions configures the device listener. Handler and Registry are
// required; CertFile/KeyFile must name a usable pair (self-signed is
// fine, devices never verify).
type ServerOptions struct {
	Addr     string
	CertFile string
	KeyFile  string

	// MaxConnections caps concurrent sessions; 0 means uncapped.
	MaxConnections int

	// BlackholeDelay is held before closing a rejected connection so a
	// misconfigured device cannot flood the accept loop.
	BlackholeDelay time.Duration

	// Whitelist restricts source IPs; empty admits any.
	Whitelist []string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Pending-control tuning, forwarded to each session.
	PendingTTL      time.Duration
	ResendAfter     time.Duration
	CleanupInterval time.Duration
	MaxRetries      int

	Handler  SessionHandler
	Registry *SessionRegistry
	Logger   Logger
	Clock    clockwork.Clock
}

// Server terminates TLS for device sessions: accept, gate on whitelist
// and capacity, wrap in a Session, register, start.
type Server struct {
	opts      ServerOptions
	tlsConfig *tls.Config
	whitelist map[string]struct{}
	logger    Logger
	clock     clockwork.Clock

	listener net.Listener
	done     *closeOnce
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewServer loads the certificate pair and prepares the listener
// configuration. A missing or unreadable pair is fatal.
func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Handler == nil || opts.Registry == nil {
		return nil, errors.New("cync: server needs a handler and a session registry")
	}
	if opts.Addr == "" {
		opts.Addr = defaultListenAddr
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("cync: load key pair: %w", err)
	}

	whitelist := make(map[string]struct{}, len(opts.Whitelist))
	for _, raw := range opts.Whitelist {
		ip := net.ParseIP(raw)
		if ip == nil {
			return nil, fmt.Errorf("cync: whitelist entry %q is not an IP", raw)
		}
		whitelist[ip.String()] = struct{}{}
	}

	return &Server{
		opts: opts,
		tlsConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			// Deliberately permissive: peer auth comes from the
			// queue_id inside the 0x23 identify, not from TLS.
			MinVersion:   tls.VersionTLS10,
			CipherSuites: legacyCipherSuites,
		},
		whitelist: whitelist,
		logger:    opts.Logger,
		clock:     opts.Clock,
		done:      newCloseOnce(),
	}, nil
}

// Start binds the listener and launches the accept loop. A bind failure
// is fatal.
func (s *Server) Start() error {
	ln, err := tls.Listen("tcp", s.opts.Addr, s.tlsConfig)
	if err != nil {
		return fmt.Errorf("cync: listen %s: %w", s.opts.Addr, err)
	}
	s.listener = ln
	s.logger.Info("device listener up",
		"addr", ln.Addr().String(), "max_connections", s.opts.MaxConnections, "whitelist", len(s.whitelist))
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listen address, useful when Port was 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.opts.Addr
	}
	return s.listener.Addr().String()
}

// Stop closes the listener and every live session, then waits for the
// accept machinery to drain. Idempotent.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.done.Close()
		if s.listener != nil {
			s.listener.Close()
		}
		for _, sess := range s.opts.Registry.All() {
			sess.Close()
		}
		s.wg.Wait()
	})
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn gates the connection and runs its session to completion.
// Both checks happen before any read, so rejected peers never cost a TLS
// handshake.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()

	if !s.allowed(conn.RemoteAddr()) {
		metrics.SessionsRejected.WithLabelValues("whitelist").Inc()
		s.logger.Warn("connection from unlisted address", "addr", conn.RemoteAddr().String())
		s.blackhole(conn)
		return
	}
	if limit := s.opts.MaxConnections; limit > 0 && s.opts.Registry.Count() >= limit {
		metrics.SessionsRejected.WithLabelValues("capacity").Inc()
		s.logger.Warn("connection cap reached", "addr", conn.RemoteAddr().String(), "cap", limit)
		s.blackhole(conn)
		return
	}

	metrics.SessionsAccepted.Inc()
	sess := NewSession(SessionOptions{
		Conn:            conn,
		Handler:         s.opts.Handler,
		Logger:          s.logger,
		Clock:           s.clock,
		ReadTimeout:     s.opts.ReadTimeout,
		WriteTimeout:    s.opts.WriteTimeout,
		PendingTTL:      s.opts.PendingTTL,
		ResendAfter:     s.opts.ResendAfter,
		CleanupInterval: s.opts.CleanupInterval,
		MaxRetries:      s.opts.MaxRetries,
	})
	s.opts.Registry.Add(sess)
	s.logger.Info("device connected", "session", sess.ID(), "addr", sess.Addr(), "sessions", s.opts.Registry.Count())
	sess.Start()
	<-sess.Done()
}

func (s *Server) allowed(addr net.Addr) bool {
	if len(s.whitelist) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	_, ok := s.whitelist[ip.String()]
	return ok
}

// blackhole holds a rejected connection open for the configured delay,
// then closes it without reading a byte.
func (s *Server) blackhole(conn net.Conn) {
	if d := s.opts.BlackholeDelay; d > 0 {
		select {
		case <-s.clock.After(d):
		case <-s.done.Done():
		}
	}
	conn.Close()
}

package ircd

import (
	"crypto/tls"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// livenessInterval is how often the shared ticker re-evaluates every
// session's PING/PONG state.
const livenessInterval = 5 * time.Second

// Server owns the shared ServerState plus the listener and connection
// admission layer around it. Config can be swapped out from under a
// running Server by Reload, while the ServerState (users, channels) is
// kept intact across the swap.
type Server struct {
	mu       sync.Mutex
	cfg      *Config
	state    *ServerState
	listener net.Listener
	closed   bool
	admit    *connValidator

	livenessOnce sync.Once

	sessionsMu sync.Mutex
	sessions   map[UserID]*Session
}

// NewServer builds a Server from an already-loaded Config. The shared
// ServerState is created once and outlives any later Reload.
func NewServer(cfg *Config) *Server {
	return &Server{
		cfg:      cfg,
		state:    NewServerState(cfg),
		admit:    newConnValidator(),
		sessions: make(map[UserID]*Session),
	}
}

// Listen binds the configured address/port, wrapping it in TLS if
// cfg.TLS is set.
func (srv *Server) Listen() error {
	srv.mu.Lock()
	cfg := srv.cfg
	srv.mu.Unlock()

	addr := net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", addr)
	}

	if cfg.TLS != nil {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertPath, cfg.TLS.KeyPath)
		if err != nil {
			ln.Close()
			return errors.Wrap(err, "loading TLS certificate")
		}
		ln = tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}})
	}

	srv.mu.Lock()
	srv.listener = ln
	srv.mu.Unlock()
	return nil
}

// Serve runs the accept loop until Close, and starts the shared liveness
// ticker. It blocks the calling goroutine. A Reload swaps the listener out
// from under the loop; Serve notices the swap and keeps accepting on the
// replacement rather than returning.
func (srv *Server) Serve() error {
	srv.livenessOnce.Do(func() { go srv.runLiveness() })

	for {
		srv.mu.Lock()
		ln := srv.listener
		srv.mu.Unlock()

		conn, err := ln.Accept()
		if err != nil {
			if isClosedErr(err) {
				if srv.awaitReplacementListener(ln) {
					continue
				}
				return nil
			}
			log.Printf("ircd: accept error: %v", err)
			return errors.Wrap(err, "accepting connection")
		}

		if !srv.admit.Validate(conn.RemoteAddr()) {
			conn.Close()
			continue
		}

		go srv.handleConn(conn)
	}
}

// awaitReplacementListener is entered when Accept fails on a closed
// listener. It reports true once Reload has installed a different listener
// to continue accepting on, and false when the server is shutting down (or
// no replacement ever shows up, e.g. a reload whose rebind failed).
func (srv *Server) awaitReplacementListener(old net.Listener) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		srv.mu.Lock()
		cur, closed := srv.listener, srv.closed
		srv.mu.Unlock()
		if closed {
			return false
		}
		if cur != old {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	log.Printf("ircd: listener closed and no replacement installed, stopping accept loop")
	return false
}

func (srv *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	srv.mu.Lock()
	limit := srv.cfg.MessagesPerSecondLimit
	srv.mu.Unlock()

	client := NewClient(conn, srv.state, limit)

	srv.sessionsMu.Lock()
	srv.sessions[client.Session().ID()] = client.Session()
	srv.sessionsMu.Unlock()

	defer func() {
		srv.sessionsMu.Lock()
		delete(srv.sessions, client.Session().ID())
		srv.sessionsMu.Unlock()
	}()

	client.Serve()
}

// runLiveness periodically ticks every live session's PING/PONG state
// machine. If the loaded config carries no timeout_config, liveness
// checking is a no-op (AllGood perpetually), per spec §4.4.
func (srv *Server) runLiveness() {
	ticker := time.NewTicker(livenessInterval)
	defer ticker.Stop()

	for range ticker.C {
		srv.mu.Lock()
		timeoutCfg := srv.cfg.TimeoutConfig()
		srv.mu.Unlock()
		if timeoutCfg == nil {
			continue
		}

		srv.sessionsMu.Lock()
		sessions := make([]*Session, 0, len(srv.sessions))
		for _, s := range srv.sessions {
			sessions = append(sessions, s)
		}
		srv.sessionsMu.Unlock()

		now := time.Now()
		for _, s := range sessions {
			s.Tick(now, *timeoutCfg)
		}
	}
}

// Reload re-reads the config file at path and rebuilds the listener,
// keeping the shared ServerState (and therefore every existing
// connection) intact. The running Serve loop picks the new listener up
// and keeps going. Typically wired to SIGHUP by the cmd/ircd entry point.
func (srv *Server) Reload(path string) error {
	cfg, err := LoadConfig(path)
	if err != nil {
		return errors.Wrap(err, "reloading config")
	}

	srv.mu.Lock()
	oldListener := srv.listener
	srv.cfg = cfg
	srv.mu.Unlock()

	// The old listener has to go away before Listen can rebind the same
	// address; Serve waits out the gap.
	if oldListener != nil {
		oldListener.Close()
	}

	if err := srv.Listen(); err != nil {
		return errors.Wrap(err, "rebuilding listener")
	}
	return nil
}

// Close shuts the listener down, causing Serve to return.
func (srv *Server) Close() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.closed = true
	if srv.listener == nil {
		return nil
	}
	return srv.listener.Close()
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

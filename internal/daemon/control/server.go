package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/meshctl/mesh/internal/auditlog"
	"github.com/meshctl/mesh/internal/config"
	"github.com/meshctl/mesh/internal/daemon/federation"
	"github.com/meshctl/mesh/internal/daemon/ratelimit"
	"github.com/meshctl/mesh/internal/daemon/watcher"
	"github.com/meshctl/mesh/internal/logging"
	"github.com/meshctl/mesh/internal/meshdir"
	"github.com/meshctl/mesh/internal/meshrpc"
	"github.com/meshctl/mesh/internal/transport"
)

// Server is the daemon's own IPC listener and the home of the relay
// algorithm, rate limiter, audit log, subscriber fan-out, and auto-shutdown
// timer.
type Server struct {
	dir     *meshdir.Dir
	cfg     *config.Config
	hostname string
	watcher *watcher.Watcher
	fed     *federation.Federation
	limiter *ratelimit.Limiter
	audit   *auditlog.Log
	log     *logging.Logger

	startedAt time.Time
	listener  net.Listener
	wg        sync.WaitGroup

	mu       sync.Mutex
	pending  map[string]chan json.RawMessage
	shutdown bool

	subsMu sync.Mutex
	subs   map[*subscriber]struct{}

	idle *idleTimer

	killCh chan struct{}
}

// New builds a Server over the given daemon control directory, config, and
// watcher/federation components. Either component may be nil and attached
// later with BindWatcher/BindFederation.
func New(dir *meshdir.Dir, cfg *config.Config, hostname string, w *watcher.Watcher, fed *federation.Federation) *Server {
	s := &Server{
		dir:      dir,
		cfg:      cfg,
		hostname: hostname,
		watcher:  w,
		fed:      fed,
		limiter:  ratelimit.New(cfg.RateLimitPerWindow, cfg.RateLimitWindow),
		log:      logging.New("control"),
		pending:  make(map[string]chan json.RawMessage),
		subs:     make(map[*subscriber]struct{}),
		killCh:   make(chan struct{}),
	}
	s.idle = newIdleTimer(cfg.AutoShutdownTimeout, s.idleCondition, func() { close(s.killCh) })
	return s
}

// Start opens the audit log and binds daemon.sock.
func (s *Server) Start(ctx context.Context) error {
	audit, err := auditlog.Open(s.dir.AuditLogPath())
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	s.audit = audit
	s.startedAt = time.Now()

	socketPath := s.dir.DaemonSocketPath()
	_ = os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on daemon socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("chmod daemon socket: %w", err)
	}
	s.listener = ln

	s.idle.Start()
	go s.acceptLoop(ctx)
	return nil
}

// KillRequested returns a channel that closes once a client issues `kill`.
func (s *Server) KillRequested() <-chan struct{} { return s.killCh }

// BindWatcher and BindFederation complete construction for the circular
// wiring between Server and its two components: the watcher's callbacks
// point at the Server, and the Server's handlers point back at federation,
// so one side of each pair must be attached after New returns but before
// Start is called.
func (s *Server) BindWatcher(w *watcher.Watcher)          { s.watcher = w }
func (s *Server) BindFederation(fed *federation.Federation) { s.fed = fed }

// Stop closes the listener, waits up to 5 seconds for open connections to
// finish, and removes daemon.sock. It does not close client or subscriber
// connections itself.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	s.idle.Stop()

	if s.listener != nil {
		_ = s.listener.Close()
	}

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}

	_ = os.Remove(s.dir.DaemonSocketPath())
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				return
			}
			s.log.Warnf("accept error: %v", err)
			continue
		}
		s.wg.Add(1)
		connCtx := transport.WithTransport(ctx, transport.TransportUnixSocket)
		go func() {
			defer s.wg.Done()
			s.handleConn(connCtx, conn, "local")
		}()
	}
}

// clientConn serializes writes to one connection: a background event push
// from a subscription must never tear a response write in half.
type clientConn struct {
	fw      *meshrpc.FrameWriter
	writeMu sync.Mutex
}

func (c *clientConn) writeEnvelope(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.fw.WriteFrame(data)
}

// idleCondition reports whether the daemon currently has zero local
// sessions and zero connected peers — the condition that lets the idle
// timer actually fire rather than just reset itself.
func (s *Server) idleCondition() bool {
	if s.watcher.Len() != 0 {
		return false
	}
	for _, p := range s.fed.Table().List() {
		if p.IsOpen() {
			return false
		}
	}
	return true
}

func (s *Server) handleConn(ctx context.Context, netConn net.Conn, peerKey string) {
	defer func() { _ = netConn.Close() }()

	fr := meshrpc.NewFrameReader(netConn)
	c := &clientConn{fw: meshrpc.NewFrameWriter(netConn)}

	var sub *subscriber
	defer func() {
		if sub != nil {
			s.removeSubscriber(sub)
		}
	}()

	for {
		line, err := fr.ReadFrame()
		if err == meshrpc.ErrFrameTooLarge {
			_ = c.writeEnvelope(map[string]string{"type": "error", "error": err.Error()})
			return
		}
		if err != nil {
			return
		}

		s.idle.Touch()

		resp, newSub, postAck := s.dispatch(ctx, c, line, peerKey)
		if err := c.writeEnvelope(resp); err != nil {
			return
		}
		if newSub != nil {
			sub = newSub
		}
		if postAck != nil {
			postAck()
		}
	}
}

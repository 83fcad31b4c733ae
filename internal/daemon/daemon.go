// Package daemon wires the four running components — watcher, federation,
// control plane, and optional WebSocket adapter — into one process lifecycle:
// acquire the singleton lock, write the PID file, start everything in
// dependency order, then wait for a signal or a `kill` command and tear
// everything down in reverse order.
package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/meshctl/mesh/internal/config"
	"github.com/meshctl/mesh/internal/daemon/control"
	"github.com/meshctl/mesh/internal/daemon/federation"
	"github.com/meshctl/mesh/internal/daemon/lock"
	"github.com/meshctl/mesh/internal/daemon/procfile"
	"github.com/meshctl/mesh/internal/daemon/watcher"
	"github.com/meshctl/mesh/internal/logging"
	"github.com/meshctl/mesh/internal/meshdir"
)

// Lifecycle owns the daemon's singleton lock, PID file, and every running
// component, and sequences their startup and shutdown.
type Lifecycle struct {
	dir      *meshdir.Dir
	cfg      *config.Config
	hostname string

	watcher *watcher.Watcher
	fed     *federation.Federation
	ctrl    *control.Server
	ws      *control.WSServer

	lockPath string
	lock     *lock.FileLock

	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	log *logging.Logger
}

// New builds the full component graph for dir/cfg but starts nothing. wsAddr
// is only used if non-empty, turning on the optional WebSocket front door
// alongside daemon.sock.
func New(dir *meshdir.Dir, cfg *config.Config, hostname string, wsAddr string) *Lifecycle {
	ctrl := control.New(dir, cfg, hostname, nil, nil)

	w := watcher.New(dir, ctrl.LocalSessionAdded, ctrl.LocalSessionRemoved)

	fed := federation.New(hostname, cfg.Port, ctrl, func() []watcher.SessionInfo {
		return sessionInfos(w.List())
	})

	ctrl.BindWatcher(w)
	ctrl.BindFederation(fed)

	l := &Lifecycle{
		dir:        dir,
		cfg:        cfg,
		hostname:   hostname,
		watcher:    w,
		fed:        fed,
		ctrl:       ctrl,
		lockPath:   filepath.Join(dir.Root(), "daemon.lock"),
		shutdownCh: make(chan struct{}),
		log:        logging.New("daemon"),
	}
	if wsAddr != "" {
		l.ws = control.NewWSServer(ctrl, wsAddr)
	}
	return l
}

func sessionInfos(entries []watcher.LocalSessionEntry) []watcher.SessionInfo {
	out := make([]watcher.SessionInfo, len(entries))
	for i, e := range entries {
		out[i] = e.SessionInfo
	}
	return out
}

// Run acquires the singleton lock, writes the PID file, starts every
// component, then blocks until a signal or the control plane's `kill`
// command arrives, and shuts everything back down in reverse order.
func (l *Lifecycle) Run(ctx context.Context) error {
	fl, err := lock.Acquire(l.lockPath)
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	l.lock = fl
	defer l.releaseLock()

	running, info, err := procfile.Check(l.dir.DaemonPidPath())
	if err != nil {
		l.log.Warnf("read existing pid file: %v", err)
	} else if running {
		return fmt.Errorf("daemon already running (pid %d)", info.PID)
	}

	if err := procfile.Write(l.dir.DaemonPidPath(), procfile.Info{
		PID:        os.Getpid(),
		StartedAt:  time.Now().UTC(),
		SocketPath: l.dir.DaemonSocketPath(),
	}); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}

	var shutdownComplete atomic.Bool
	defer func() {
		if !shutdownComplete.Load() {
			l.stopAll()
			_ = procfile.Remove(l.dir.DaemonPidPath())
		}
	}()

	if err := l.watcher.Start(); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	if err := l.fed.Listen(fmt.Sprintf(":%d", l.cfg.Port)); err != nil {
		return fmt.Errorf("start federation listener: %w", err)
	}
	l.dialConfiguredPeers()
	if err := l.ctrl.Start(ctx); err != nil {
		return fmt.Errorf("start control server: %w", err)
	}
	if l.ws != nil {
		if err := l.ws.Start(); err != nil {
			return fmt.Errorf("start websocket server: %w", err)
		}
	}

	go l.handleSignals()
	go l.watchKillCommand()

	<-l.shutdownCh
	shutdownComplete.Store(true)
	return l.shutdown()
}

// dialConfiguredPeers connects to every peer in config.json at startup.
// A peer that fails to connect here is logged, not treated as a fatal
// error, and is not retried.
func (l *Lifecycle) dialConfiguredPeers() {
	for _, addr := range l.cfg.Peers {
		host, port := splitHostPort(addr, l.cfg.Port)
		if err := l.fed.AddPeer(host, port, 10*time.Second); err != nil {
			l.log.Warnf("connect configured peer %s: %v", addr, err)
		}
	}
}

// splitHostPort parses a peer address of the form "host[:port]". A missing
// port falls back to defaultPort with the whole address treated as a bare
// host; a non-numeric port or an explicit ":0" falls back to defaultPort
// with the part before the colon as the host. None is rejected outright.
func splitHostPort(addr string, defaultPort int) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, defaultPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port == 0 {
		return host, defaultPort
	}
	return host, port
}

func (l *Lifecycle) handleSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	l.log.Infof("received signal %v, shutting down", sig)
	l.Shutdown()
}

func (l *Lifecycle) watchKillCommand() {
	<-l.ctrl.KillRequested()
	l.log.Infof("kill command received, shutting down")
	l.Shutdown()
}

// Shutdown triggers a graceful shutdown; safe to call more than once or
// concurrently with the signal handler.
func (l *Lifecycle) Shutdown() {
	l.shutdownOnce.Do(func() { close(l.shutdownCh) })
}

func (l *Lifecycle) stopAll() {
	if l.ws != nil {
		if err := l.ws.Stop(); err != nil {
			l.log.Warnf("stop websocket server: %v", err)
		}
	}
	if err := l.ctrl.Stop(); err != nil {
		l.log.Warnf("stop control server: %v", err)
	}
	if err := l.fed.Close(); err != nil {
		l.log.Warnf("stop federation listener: %v", err)
	}
	l.watcher.Stop()
}

func (l *Lifecycle) shutdown() error {
	l.stopAll()
	if err := procfile.Remove(l.dir.DaemonPidPath()); err != nil {
		l.log.Warnf("remove pid file: %v", err)
	}
	l.releaseLock()
	return nil
}

func (l *Lifecycle) releaseLock() {
	if l.lock == nil {
		return
	}
	if err := l.lock.Release(); err != nil {
		l.log.Warnf("release daemon lock: %v", err)
	}
	l.lock = nil
}

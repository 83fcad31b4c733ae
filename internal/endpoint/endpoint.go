package endpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/meshctl/mesh/internal/logging"
	"github.com/meshctl/mesh/internal/meshdir"
	"github.com/meshctl/mesh/internal/meshrpc"
)

// Endpoint is the single-listener IPC server for one agent session.
type Endpoint struct {
	sessionID string
	dir       *meshdir.Dir
	agent     Agent
	log       *logging.Logger

	listener net.Listener
	wg       sync.WaitGroup

	mu       sync.Mutex
	shutdown bool

	aliasStop chan struct{}
}

// New builds an Endpoint for sessionID, backed by agent, rooted at dir.
func New(sessionID string, dir *meshdir.Dir, agent Agent) *Endpoint {
	return &Endpoint{
		sessionID: sessionID,
		dir:       dir,
		agent:     agent,
		log:       logging.New("endpoint"),
	}
}

// Start binds <controlDir>/<sessionId>.sock, mode 0600, and begins accepting
// clients. It also starts the 1-second alias reconciliation loop.
func (e *Endpoint) Start(ctx context.Context) error {
	socketPath, err := e.dir.SocketPath(e.sessionID)
	if err != nil {
		return err
	}
	_ = os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on endpoint socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("chmod endpoint socket: %w", err)
	}
	e.listener = listener

	e.aliasStop = make(chan struct{})
	go e.aliasReconcileLoop(e.aliasStop)

	go e.acceptLoop(ctx)
	return nil
}

// Stop closes the listener, stops alias reconciliation, and removes the
// endpoint's socket node and every alias pointing at it — the clean
// shutdown path from spec.md §3's Endpoint lifecycle.
func (e *Endpoint) Stop() error {
	e.mu.Lock()
	e.shutdown = true
	e.mu.Unlock()

	if e.aliasStop != nil {
		close(e.aliasStop)
	}
	if e.listener != nil {
		_ = e.listener.Close()
	}

	done := make(chan struct{})
	go func() { e.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}

	if err := e.dir.RemoveAllAliasesFor(e.sessionID); err != nil {
		e.log.Warnf("remove aliases for %s: %v", e.sessionID, err)
	}
	socketPath, err := e.dir.SocketPath(e.sessionID)
	if err == nil {
		_ = os.Remove(socketPath)
	}
	return nil
}

func (e *Endpoint) acceptLoop(ctx context.Context) {
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			e.mu.Lock()
			shutdown := e.shutdown
			e.mu.Unlock()
			if shutdown {
				return
			}
			e.log.Warnf("accept error: %v", err)
			continue
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.handleConn(ctx, conn)
		}()
	}
}

// clientConn serializes writes on one connection so a turn-end event fired
// from the agent's own goroutine never tears a response write in half.
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

func (e *Endpoint) handleConn(ctx context.Context, netConn net.Conn) {
	defer func() { _ = netConn.Close() }()

	fr := meshrpc.NewFrameReader(netConn)
	c := &clientConn{fw: meshrpc.NewFrameWriter(netConn)}

	var unsubscribe func()
	defer func() {
		if unsubscribe != nil {
			unsubscribe()
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

		e.reconcileAlias()

		resp, sub := e.dispatch(ctx, c, line)
		if err := c.writeEnvelope(resp); err != nil {
			return
		}
		if sub != nil {
			unsubscribe = sub
		}
	}
}

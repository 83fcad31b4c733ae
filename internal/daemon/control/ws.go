package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meshctl/mesh/internal/logging"
	"github.com/meshctl/mesh/internal/meshrpc"
	"github.com/meshctl/mesh/internal/transport"
)

// WSServer is an optional WebSocket front door onto the same control-plane
// operations as daemon.sock, so a browser dashboard can `subscribe` without
// a Unix socket. Every text message is one meshrpc envelope — there is no
// JSON-RPC 2.0 batching here, unlike the chat-notification WebSocket this
// is adapted from; the wire shape matches daemon.sock exactly.
type WSServer struct {
	ctrl       *Server
	addr       string
	httpServer *http.Server
	upgrader   websocket.Upgrader
	log        *logging.Logger

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

// NewWSServer builds a WebSocket adapter over ctrl, bound to addr.
func NewWSServer(ctrl *Server, addr string) *WSServer {
	s := &WSServer{
		ctrl: ctrl,
		addr: addr,
		log:  logging.New("control-ws"),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  meshrpc.MaxFrameBytes,
			WriteBufferSize: meshrpc.MaxFrameBytes,
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.httpServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return s
}

// Start begins accepting WebSocket connections.
func (s *WSServer) Start() error {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Warnf("websocket server error: %v", err)
		}
	}()
	return nil
}

// Stop shuts the HTTP server down, waiting briefly for active connections.
func (s *WSServer) Stop() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown websocket server: %w", err)
	}

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
	return nil
}

func (s *WSServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.wg.Done()
		s.log.Warnf("upgrade error: %v", err)
		return
	}
	go s.serveConn(r.Context(), conn)
}

// wsWriter adapts a *websocket.Conn to envelopeWriter, serializing all
// writes (responses and pushed events) behind one mutex.
type wsWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsWriter) writeEnvelope(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *WSServer) serveConn(ctx context.Context, conn *websocket.Conn) {
	defer s.wg.Done()
	defer func() { _ = conn.Close() }()

	ctx = transport.WithTransport(ctx, transport.TransportWebSocket)
	writer := &wsWriter{conn: conn}
	peerKey := conn.RemoteAddr().String()

	var sub *subscriber
	defer func() {
		if sub != nil {
			s.ctrl.removeSubscriber(sub)
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if len(message) > meshrpc.MaxFrameBytes {
			_ = writer.writeEnvelope(map[string]string{"type": "error", "error": meshrpc.ErrFrameTooLarge.Error()})
			return
		}

		s.ctrl.idle.Touch()

		resp, newSub, postAck := s.ctrl.dispatch(ctx, writer, message, peerKey)
		if err := writer.writeEnvelope(resp); err != nil {
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

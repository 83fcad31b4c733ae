package federation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/meshctl/mesh/internal/daemon/watcher"
	"github.com/meshctl/mesh/internal/logging"
	"github.com/meshctl/mesh/internal/meshrpc"
)

var errPeerNotOpen = errors.New("peer connection is not open")

// Handlers receives every event the federation layer produces. The control
// plane implements this to fold remote session changes into its own view
// and to route relayed RPCs.
type Handlers interface {
	PeerConnecting(host string)
	PeerConnected(host string)
	PeerDisconnected(host string)
	PeerReconnecting(host string)
	PeerGaveUp(host string)
	SessionAdded(host string, info watcher.SessionInfo)
	SessionRemoved(host string, sessionID string)
	RPCReceived(peer *Peer, requestID, targetSessionID string, command json.RawMessage)
	RPCResponseReceived(requestID string, response json.RawMessage)
}

// Federation owns the peer table, the inbound listener, and every outbound
// connection's lifecycle.
type Federation struct {
	table    *Table
	handlers Handlers
	log      *logging.Logger

	selfHost string
	selfPort int

	localSessions func() []watcher.SessionInfo

	ln net.Listener

	stopped bool
}

// New builds a Federation. localSessions is consulted for the snapshot sent
// in every outbound/inbound hello.
func New(selfHost string, selfPort int, handlers Handlers, localSessions func() []watcher.SessionInfo) *Federation {
	return &Federation{
		table:         NewTable(),
		handlers:      handlers,
		log:           logging.New("federation"),
		selfHost:      selfHost,
		selfPort:      selfPort,
		localSessions: localSessions,
	}
}

// Table exposes the peer table for read-side queries (list_sessions etc).
func (f *Federation) Table() *Table { return f.table }

// Listen starts accepting inbound peer connections on addr ("host:port" or
// ":port").
func (f *Federation) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("federation listen: %w", err)
	}
	f.ln = ln
	go f.acceptLoop()
	return nil
}

// Close stops accepting new inbound connections. Existing peer connections
// are left running; callers that want a full shutdown should also close
// every peer's connection via RemovePeer or let the process exit.
func (f *Federation) Close() error {
	f.stopped = true
	if f.ln != nil {
		return f.ln.Close()
	}
	return nil
}

func (f *Federation) acceptLoop() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			if f.stopped {
				return
			}
			f.log.Warnf("accept error: %v", err)
			continue
		}
		go f.handleInbound(conn)
	}
}

func (f *Federation) handleInbound(conn net.Conn) {
	fw := meshrpc.NewFrameWriter(conn)
	fr := meshrpc.NewFrameReader(conn)

	if err := f.writeHello(fw); err != nil {
		f.log.Warnf("inbound hello write: %v", err)
		_ = conn.Close()
		return
	}

	host, port, sessions, err := f.readHello(fr)
	if err != nil {
		f.log.Warnf("inbound hello read: %v", err)
		_ = conn.Close()
		return
	}

	peer := f.table.GetOrCreate(host, port)
	f.runConnection(peer, conn, fr, fw, sessions, false)
}

// AddPeer dials host:port and waits up to timeout for the dial and hello
// exchange, then up to timeout again for the peer to become open, so a call
// can block for about twice timeout. It marks the peer outbound-managed so
// later disconnects are auto-reconnected.
func (f *Federation) AddPeer(host string, port int, timeout time.Duration) error {
	peer := f.table.GetOrCreate(host, port)
	if peer.IsOpen() {
		return fmt.Errorf("peer %s:%d is already connected", host, port)
	}
	peer.outboundManaged = true
	peer.clearRemoved()

	errCh := make(chan error, 1)
	go func() { errCh <- f.dialOnce(peer) }()

	deadline := time.After(timeout)
	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-deadline:
		return fmt.Errorf("timed out connecting to %s:%d", host, port)
	}

	deadline2 := time.Now().Add(timeout)
	for time.Now().Before(deadline2) {
		if peer.IsOpen() {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("%s:%d did not complete handshake in time", host, port)
}

// RemovePeer permanently retires host: cancels any pending reconnect,
// drops the live socket, and deletes the table entry.
func (f *Federation) RemovePeer(host string) error {
	peer, ok := f.table.Get(host)
	if !ok {
		return fmt.Errorf("unknown peer %q", host)
	}
	peer.markRemoved()
	f.table.Remove(host)
	return nil
}

// dialOnce performs a single outbound connection attempt: TCP connect,
// hello exchange, then hands off to the shared connection loop. It returns
// once both hellos have been exchanged (or the exchange failed); the read
// loop itself runs in its own goroutine.
//
// dialOnce never schedules a reconnect itself: it is called both for the
// initial add_peer dial and for the single retry scheduleReconnect's timer
// fires, and either caller decides on its own what a failure means (return
// the error to the admin request, or give up for good).
func (f *Federation) dialOnce(peer *Peer) error {
	f.handlers.PeerConnecting(peer.Host)

	conn, err := net.DialTimeout("tcp", peer.Address(), ConnectTimeout)
	if err != nil {
		return err
	}

	fw := meshrpc.NewFrameWriter(conn)
	fr := meshrpc.NewFrameReader(conn)

	if err := f.writeHello(fw); err != nil {
		_ = conn.Close()
		return err
	}
	host, port, sessions, err := f.readHello(fr)
	if err != nil {
		_ = conn.Close()
		return err
	}
	if host != peer.Host {
		peer.Host = host
	}
	if port != 0 {
		peer.Port = port
	}

	go f.runConnection(peer, conn, fr, fw, sessions, true)
	return nil
}

func (f *Federation) writeHello(fw *meshrpc.FrameWriter) error {
	frame := helloFrame{
		Type:     "hello",
		Host:     f.selfHost,
		Port:     f.selfPort,
		Sessions: f.localSessions(),
	}
	data, err := encodeFrame(frame)
	if err != nil {
		return err
	}
	return fw.WriteFrame(data)
}

func (f *Federation) readHello(fr *meshrpc.FrameReader) (host string, port int, sessions []watcher.SessionInfo, err error) {
	raw, err := fr.ReadFrame()
	if err != nil {
		return "", 0, nil, err
	}
	typ, err := decodeFrameType(raw)
	if err != nil {
		return "", 0, nil, err
	}
	if typ != "hello" {
		return "", 0, nil, fmt.Errorf("expected hello frame, got %q", typ)
	}
	var h helloFrame
	if err := json.Unmarshal(raw, &h); err != nil {
		return "", 0, nil, err
	}
	return h.Host, h.Port, h.Sessions, nil
}

// runConnection is the shared read loop for both inbound and outbound
// connections. It promotes the connection onto peer (superseding any older
// one), applies the advertised session snapshot, then reads frames until
// the connection dies or is superseded.
func (f *Federation) runConnection(peer *Peer, conn net.Conn, fr *meshrpc.FrameReader, fw *meshrpc.FrameWriter, initialSessions []watcher.SessionInfo, outbound bool) {
	gen := peer.promote(conn, fw)

	previous := peer.Sessions()
	for _, s := range initialSessions {
		peer.setSession(s)
	}
	for id := range previous {
		if !containsSession(initialSessions, id) {
			f.handlers.SessionRemoved(peer.Host, id)
		}
	}
	for _, s := range initialSessions {
		f.handlers.SessionAdded(peer.Host, s)
	}
	f.handlers.PeerConnected(peer.Host)

	heartbeatStop := make(chan struct{})
	go f.heartbeatLoop(peer, fw, heartbeatStop)
	defer close(heartbeatStop)

	deadline := HeartbeatInterval * DeadPeerMultiplier
	for {
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
		raw, err := fr.ReadFrame()
		if err != nil {
			break
		}
		peer.touch()
		f.handleFrame(peer, raw)
	}

	_ = conn.Close()
	sessions, did := peer.demote(gen)
	if !did {
		return // superseded by a newer connection; that one owns disconnect handling
	}

	f.handlers.PeerDisconnected(peer.Host)
	for id := range sessions {
		f.handlers.SessionRemoved(peer.Host, id)
	}

	if outbound && peer.outboundManaged && !peer.IsRemoved() {
		f.scheduleReconnect(peer)
	}
}

func containsSession(sessions []watcher.SessionInfo, id string) bool {
	for _, s := range sessions {
		if s.SessionID == id {
			return true
		}
	}
	return false
}

func (f *Federation) heartbeatLoop(peer *Peer, fw *meshrpc.FrameWriter, stop chan struct{}) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := peer.writeFrame(heartbeatFrame{Type: "heartbeat"}); err != nil {
				return
			}
		}
	}
}

func (f *Federation) handleFrame(peer *Peer, raw []byte) {
	typ, err := decodeFrameType(raw)
	if err != nil {
		f.log.Warnf("malformed frame from %s: %v", peer.Host, err)
		return
	}
	switch typ {
	case "heartbeat", "hello":
		// hello after the initial handshake is unexpected; ignore rather
		// than tearing down the connection over a protocol quirk.
	case "session_added":
		var frame sessionAddedFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			f.log.Warnf("bad session_added from %s: %v", peer.Host, err)
			return
		}
		peer.setSession(frame.Session)
		f.handlers.SessionAdded(peer.Host, frame.Session)
	case "session_removed":
		var frame sessionRemovedFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			f.log.Warnf("bad session_removed from %s: %v", peer.Host, err)
			return
		}
		peer.dropSession(frame.SessionID)
		f.handlers.SessionRemoved(peer.Host, frame.SessionID)
	case "rpc":
		var frame rpcFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			f.log.Warnf("bad rpc from %s: %v", peer.Host, err)
			return
		}
		f.handlers.RPCReceived(peer, frame.RequestID, frame.TargetSessionID, frame.Command)
	case "rpc_response":
		var frame rpcResponseFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			f.log.Warnf("bad rpc_response from %s: %v", peer.Host, err)
			return
		}
		f.handlers.RPCResponseReceived(frame.RequestID, frame.Response)
	default:
		f.log.Warnf("unknown frame type %q from %s", typ, peer.Host)
	}
}

// scheduleReconnect implements the single-retry policy: one attempt after
// ReconnectDelay, terminal either way. If that one attempt also fails, the
// peer is marked gaveUp and no further automatic attempt is ever scheduled;
// the timer closure itself is where the policy terminates, so dialOnce must
// never schedule a reconnect of its own.
func (f *Federation) scheduleReconnect(peer *Peer) {
	if peer.IsRemoved() || peer.IsGaveUp() {
		return
	}
	f.handlers.PeerReconnecting(peer.Host)
	timer := time.AfterFunc(ReconnectDelay, func() {
		if peer.IsRemoved() || peer.IsGaveUp() {
			return
		}
		if err := f.dialOnce(peer); err != nil {
			peer.setGaveUp()
			f.handlers.PeerGaveUp(peer.Host)
		}
	})
	peer.setReconnectTimer(timer)
}

// BroadcastSessionAdded tells every open peer about a newly reachable local
// session.
func (f *Federation) BroadcastSessionAdded(info watcher.SessionInfo) {
	frame := sessionAddedFrame{Type: "session_added", Session: info}
	for _, p := range f.table.List() {
		if !p.IsOpen() {
			continue
		}
		if err := p.writeFrame(frame); err != nil {
			f.log.Warnf("broadcast session_added to %s: %v", p.Host, err)
		}
	}
}

// BroadcastSessionRemoved tells every open peer that a local session is
// gone.
func (f *Federation) BroadcastSessionRemoved(sessionID string) {
	frame := sessionRemovedFrame{Type: "session_removed", SessionID: sessionID}
	for _, p := range f.table.List() {
		if !p.IsOpen() {
			continue
		}
		if err := p.writeFrame(frame); err != nil {
			f.log.Warnf("broadcast session_removed to %s: %v", p.Host, err)
		}
	}
}

// SendRPC relays a command to targetSessionID over peer's live connection.
func (f *Federation) SendRPC(peer *Peer, requestID, targetSessionID string, command json.RawMessage) error {
	return peer.writeFrame(rpcFrame{
		Type:            "rpc",
		TargetSessionID: targetSessionID,
		RequestID:       requestID,
		Command:         command,
	})
}

// SendRPCResponse replies to an inbound rpc frame.
func (f *Federation) SendRPCResponse(peer *Peer, requestID string, response json.RawMessage) error {
	return peer.writeFrame(rpcResponseFrame{
		Type:      "rpc_response",
		RequestID: requestID,
		Response:  response,
	})
}

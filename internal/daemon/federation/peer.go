package federation

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/meshctl/mesh/internal/daemon/watcher"
	"github.com/meshctl/mesh/internal/meshrpc"
)

// Transport states for a Peer, matching the data model's PeerEntry.
const (
	TransportConnecting = "connecting"
	TransportOpen        = "open"
	TransportClosed       = "closed"
)

// Peer is one row of the peer table: everything the daemon knows about a
// remote host, plus the live connection when one is open.
type Peer struct {
	Host string
	Port int

	// outboundManaged is true when this host was dialed by add_peer (or the
	// persisted peer list at startup) rather than merely discovered via an
	// inbound hello. Only outbound-managed peers get auto-reconnected.
	outboundManaged bool

	mu             sync.Mutex
	conn           net.Conn
	fw             *meshrpc.FrameWriter
	generation     int
	transport      string
	sessions       map[string]watcher.SessionInfo
	lastSeen       time.Time
	reconnectState string
	removed        bool
	gaveUp         bool
	reconnectTimer *time.Timer
}

func newPeer(host string, port int) *Peer {
	return &Peer{
		Host:      host,
		Port:      port,
		transport: TransportClosed,
		sessions:  make(map[string]watcher.SessionInfo),
	}
}

// Address is host:port, suitable for net.Dial.
func (p *Peer) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// IsOpen reports whether a live connection is currently attached.
func (p *Peer) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transport == TransportOpen
}

// IsRemoved reports whether remove_peer has permanently retired this entry.
func (p *Peer) IsRemoved() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removed
}

// IsGaveUp reports whether the single mandated reconnect attempt already
// failed. Once true, no further automatic reconnect is scheduled — the
// user must reissue add_peer.
func (p *Peer) IsGaveUp() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gaveUp
}

// Sessions returns a snapshot of the sessions this peer last advertised.
func (p *Peer) Sessions() map[string]watcher.SessionInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]watcher.SessionInfo, len(p.sessions))
	for k, v := range p.sessions {
		out[k] = v
	}
	return out
}

// HasSession reports whether sessionID is currently advertised by this peer.
func (p *Peer) HasSession(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sessions[sessionID]
	return ok
}

// promote installs conn as the peer's active connection, superseding
// whatever connection (if any) held the slot before. The returned
// generation must be passed to every subsequent call that might need to
// tell whether it still owns the slot.
func (p *Peer) promote(conn net.Conn, fw *meshrpc.FrameWriter) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn = conn
	p.fw = fw
	p.generation++
	p.transport = TransportOpen
	p.reconnectState = TransportOpen
	p.lastSeen = time.Now()
	return p.generation
}

// demote marks the connection closed if gen is still current. It reports
// whether it actually performed the transition (false means a newer
// connection already superseded this one, and the caller must not emit
// disconnect handling for it).
func (p *Peer) demote(gen int) (sessions map[string]watcher.SessionInfo, did bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.generation != gen {
		return nil, false
	}
	p.transport = TransportClosed
	sessions = p.sessions
	p.sessions = make(map[string]watcher.SessionInfo)
	return sessions, true
}

func (p *Peer) touch() {
	p.mu.Lock()
	p.lastSeen = time.Now()
	p.mu.Unlock()
}

func (p *Peer) setSession(info watcher.SessionInfo) {
	p.mu.Lock()
	p.sessions[info.SessionID] = info
	p.mu.Unlock()
}

func (p *Peer) dropSession(sessionID string) {
	p.mu.Lock()
	delete(p.sessions, sessionID)
	p.mu.Unlock()
}

func (p *Peer) currentGeneration() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

func (p *Peer) markRemoved() {
	p.mu.Lock()
	p.removed = true
	if p.reconnectTimer != nil {
		p.reconnectTimer.Stop()
	}
	conn := p.conn
	p.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (p *Peer) setReconnectTimer(t *time.Timer) {
	p.mu.Lock()
	p.reconnectTimer = t
	p.mu.Unlock()
}

func (p *Peer) clearRemoved() {
	p.mu.Lock()
	p.removed = false
	p.gaveUp = false
	p.mu.Unlock()
}

func (p *Peer) setGaveUp() {
	p.mu.Lock()
	p.gaveUp = true
	p.reconnectState = "gaveUp"
	p.mu.Unlock()
}

// writeFrame marshals and writes v as a single framed line, under the
// peer's write lock. It is a no-op error if the transport is not open.
func (p *Peer) writeFrame(v any) error {
	data, err := encodeFrame(v)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fw == nil || p.transport != TransportOpen {
		return errPeerNotOpen
	}
	return p.fw.WriteFrame(data)
}

// Table is the thread-safe set of known peers, keyed by host.
type Table struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

// NewTable builds an empty peer table.
func NewTable() *Table {
	return &Table{peers: make(map[string]*Peer)}
}

// GetOrCreate returns the entry for host, creating it (closed, not yet
// connected) if it doesn't exist.
func (t *Table) GetOrCreate(host string, port int) *Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[host]; ok {
		return p
	}
	p := newPeer(host, port)
	t.peers[host] = p
	return p
}

// Get returns the entry for host, if any.
func (t *Table) Get(host string) (*Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[host]
	return p, ok
}

// List returns every known peer.
func (t *Table) List() []*Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p)
	}
	return out
}

// Remove deletes host's entry entirely.
func (t *Table) Remove(host string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, host)
}

// FindBySession returns the (possibly closed) peer currently advertising
// sessionID, used by the relay path to decide peer_unreachable vs
// not_found.
func (t *Table) FindBySession(sessionID string) (*Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, p := range t.peers {
		if p.HasSession(sessionID) {
			return p, true
		}
	}
	return nil, false
}

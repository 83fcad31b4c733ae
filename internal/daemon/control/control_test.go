package control

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/meshctl/mesh/internal/config"
	"github.com/meshctl/mesh/internal/daemon/federation"
	"github.com/meshctl/mesh/internal/daemon/watcher"
	"github.com/meshctl/mesh/internal/endpoint"
	"github.com/meshctl/mesh/internal/meshdir"
)

// fakeAgent is a minimal stand-in for the endpoint's host-agent
// collaborator, just enough to exercise relay delivery through a real
// endpoint socket.
type fakeAgent struct {
	lastMessage string
}

func (f *fakeAgent) Deliver(_ context.Context, message string, _ endpoint.DeliverMode) error {
	f.lastMessage = message
	return nil
}
func (f *fakeAgent) Abort()                                  {}
func (f *fakeAgent) IsIdle() bool                             { return true }
func (f *fakeAgent) LastAssistantMessage() (string, bool)     { return "", false }
func (f *fakeAgent) Summarize(context.Context) (string, error) { return "", nil }
func (f *fakeAgent) CurrentEntryID() string                   { return "root" }
func (f *fakeAgent) RootEntryID() string                      { return "root" }
func (f *fakeAgent) RewindTo(string) error                    { return nil }
func (f *fakeAgent) OnTurnEnd(func(string)) func()            { return func() {} }
func (f *fakeAgent) Name() string                             { return "" }

type testServer struct {
	srv *Server
	dir *meshdir.Dir
	w   *watcher.Watcher
	fed *federation.Federation
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir, err := meshdir.Open(t.TempDir())
	if err != nil {
		t.Fatalf("meshdir.Open: %v", err)
	}
	cfg := config.Defaults()
	cfg.AutoShutdownTimeout = time.Hour
	cfg.RateLimitPerWindow = 3
	cfg.RateLimitWindow = time.Minute

	srv := New(dir, cfg, "test-host", nil, nil)
	w := watcher.New(dir, srv.LocalSessionAdded, srv.LocalSessionRemoved)
	fed := federation.New("test-host", cfg.Port, srv, func() []watcher.SessionInfo { return nil })
	srv.BindWatcher(w)
	srv.BindFederation(fed)

	if err := w.Start(); err != nil {
		t.Fatalf("watcher.Start: %v", err)
	}
	t.Cleanup(w.Stop)

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Server.Start: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })

	return &testServer{srv: srv, dir: dir, w: w, fed: fed}
}

func dialControl(t *testing.T, dir *meshdir.Dir) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("unix", dir.DaemonSocketPath())
	if err != nil {
		t.Fatalf("dial daemon socket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, bufio.NewReader(conn)
}

func call(t *testing.T, conn net.Conn, r *bufio.Reader, req map[string]any) map[string]any {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		t.Fatalf("write: %v", err)
	}
	line, err := r.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var resp map[string]any
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("unmarshal %s: %v", line, err)
	}
	return resp
}

func TestStatus_ReportsPortAndZeroSessions(t *testing.T) {
	ts := newTestServer(t)
	conn, r := dialControl(t, ts.dir)

	resp := call(t, conn, r, map[string]any{"type": "status"})
	if resp["success"] != true {
		t.Fatalf("expected success, got %+v", resp)
	}
	data := resp["data"].(map[string]any)
	if data["port"].(float64) != float64(ts.srv.cfg.Port) {
		t.Fatalf("expected port %d, got %v", ts.srv.cfg.Port, data["port"])
	}
	if data["localSessions"].(float64) != 0 {
		t.Fatalf("expected zero local sessions, got %v", data["localSessions"])
	}
}

func TestAddPeer_RequiresHost(t *testing.T) {
	ts := newTestServer(t)
	conn, r := dialControl(t, ts.dir)

	resp := call(t, conn, r, map[string]any{"type": "add_peer"})
	if resp["success"] != false {
		t.Fatalf("expected failure for missing host, got %+v", resp)
	}
}

func TestRemovePeer_UnknownHostFails(t *testing.T) {
	ts := newTestServer(t)
	conn, r := dialControl(t, ts.dir)

	resp := call(t, conn, r, map[string]any{"type": "remove_peer", "host": "nowhere"})
	if resp["success"] != false {
		t.Fatalf("expected failure for unknown peer, got %+v", resp)
	}
}

func TestRelay_SessionNotFound(t *testing.T) {
	ts := newTestServer(t)
	conn, r := dialControl(t, ts.dir)

	resp := call(t, conn, r, map[string]any{
		"type":            "relay",
		"targetSessionId": "ghost",
		"rpcCommand":      map[string]any{"type": "get_message"},
	})
	if resp["success"] != false {
		t.Fatalf("expected failure for unknown session, got %+v", resp)
	}
	if resp["error"] != "session not found" {
		t.Fatalf("expected 'session not found', got %v", resp["error"])
	}
}

func TestRelay_DeliversToLocalEndpoint(t *testing.T) {
	ts := newTestServer(t)

	agent := &fakeAgent{}
	ep := endpoint.New("s1", ts.dir, agent)
	if err := ep.Start(context.Background()); err != nil {
		t.Fatalf("endpoint.Start: %v", err)
	}
	t.Cleanup(func() { _ = ep.Stop() })

	waitUntilSession(t, ts.w, "s1")

	conn, r := dialControl(t, ts.dir)
	resp := call(t, conn, r, map[string]any{
		"type":            "relay",
		"targetSessionId": "s1",
		"rpcCommand":      map[string]any{"type": "send", "message": "hello"},
	})
	if resp["success"] != true {
		t.Fatalf("expected success, got %+v", resp)
	}
}

func TestRelay_RateLimitExceeded(t *testing.T) {
	ts := newTestServer(t)
	conn, r := dialControl(t, ts.dir)

	var last map[string]any
	for i := 0; i < 5; i++ {
		last = call(t, conn, r, map[string]any{
			"type":            "relay",
			"targetSessionId": "ghost",
			"rpcCommand":      map[string]any{"type": "get_message"},
		})
	}
	if last["success"] != false || last["error"] != "Rate limit exceeded" {
		t.Fatalf("expected rate limit to trip after 3 requests, got %+v", last)
	}
}

func TestListSessions_Empty(t *testing.T) {
	ts := newTestServer(t)
	conn, r := dialControl(t, ts.dir)

	resp := call(t, conn, r, map[string]any{"type": "list_sessions"})
	if resp["success"] != true {
		t.Fatalf("expected success, got %+v", resp)
	}
	data := resp["data"].(map[string]any)
	if data["sessions"] != nil {
		t.Fatalf("expected no sessions, got %v", data["sessions"])
	}
}

func TestSubscribe_ReceivesSessionAddedEvent(t *testing.T) {
	ts := newTestServer(t)
	conn, r := dialControl(t, ts.dir)

	resp := call(t, conn, r, map[string]any{"type": "subscribe"})
	if resp["success"] != true {
		t.Fatalf("expected subscribe ack, got %+v", resp)
	}

	agent := &fakeAgent{}
	ep := endpoint.New("s2", ts.dir, agent)
	if err := ep.Start(context.Background()); err != nil {
		t.Fatalf("endpoint.Start: %v", err)
	}
	t.Cleanup(func() { _ = ep.Stop() })

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := r.ReadBytes('\n')
	if err != nil {
		t.Fatalf("expected a session_added event: %v", err)
	}
	var ev map[string]any
	if err := json.Unmarshal(line, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if ev["event"] != "session_added" {
		t.Fatalf("expected session_added, got %+v", ev)
	}
}

func TestKill_ClosesKillRequestedChannel(t *testing.T) {
	ts := newTestServer(t)
	conn, r := dialControl(t, ts.dir)

	resp := call(t, conn, r, map[string]any{"type": "kill"})
	if resp["success"] != true {
		t.Fatalf("expected kill ack, got %+v", resp)
	}

	select {
	case <-ts.srv.KillRequested():
	case <-time.After(2 * time.Second):
		t.Fatal("expected KillRequested to close after kill command")
	}
}

func waitUntilSession(t *testing.T, w *watcher.Watcher, sessionID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := w.Get(sessionID); ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("session %s never appeared in watcher", sessionID)
}

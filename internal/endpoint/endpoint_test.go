package endpoint

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/meshctl/mesh/internal/meshdir"
)

func startTestEndpoint(t *testing.T, agent *fakeAgent) (*Endpoint, *meshdir.Dir, string) {
	t.Helper()
	dir, err := meshdir.Open(t.TempDir())
	if err != nil {
		t.Fatalf("meshdir.Open: %v", err)
	}
	ep := New("s1", dir, agent)
	if err := ep.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = ep.Stop() })

	sockPath, err := dir.SocketPath("s1")
	if err != nil {
		t.Fatalf("SocketPath: %v", err)
	}
	return ep, dir, sockPath
}

func dial(t *testing.T, sockPath string) net.Conn {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 20; i++ {
		conn, err = net.Dial("unix", sockPath)
		if err == nil {
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("dial %s: %v", sockPath, err)
	return nil
}

func sendLine(t *testing.T, conn net.Conn, obj any) {
	t.Helper()
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readLine(t *testing.T, r *bufio.Reader) map[string]any {
	t.Helper()
	line, err := r.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(line, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", line, err)
	}
	return m
}

func TestSend_DeliversAndReturnsSuccess(t *testing.T) {
	agent := newFakeAgent()
	_, _, sockPath := startTestEndpoint(t, agent)

	conn := dial(t, sockPath)
	defer func() { _ = conn.Close() }()
	r := bufio.NewReader(conn)

	sendLine(t, conn, map[string]any{"type": "send", "message": "hi", "id": "r1"})
	resp := readLine(t, r)
	if resp["success"] != true {
		t.Errorf("got %v", resp)
	}
	if resp["id"] != "r1" {
		t.Errorf("id not echoed: %v", resp)
	}
}

func TestSend_EmptyMessageFails(t *testing.T) {
	agent := newFakeAgent()
	_, _, sockPath := startTestEndpoint(t, agent)

	conn := dial(t, sockPath)
	defer func() { _ = conn.Close() }()
	r := bufio.NewReader(conn)

	sendLine(t, conn, map[string]any{"type": "send", "message": ""})
	resp := readLine(t, r)
	if resp["success"] != false {
		t.Errorf("expected failure, got %v", resp)
	}
}

func TestGetMessage_NullWhenNoneYet(t *testing.T) {
	agent := newFakeAgent()
	_, _, sockPath := startTestEndpoint(t, agent)

	conn := dial(t, sockPath)
	defer func() { _ = conn.Close() }()
	r := bufio.NewReader(conn)

	sendLine(t, conn, map[string]any{"type": "get_message"})
	resp := readLine(t, r)
	data, _ := resp["data"].(map[string]any)
	if data["message"] != nil {
		t.Errorf("got %v, want nil", data["message"])
	}
}

func TestClear_IdempotentAtRoot(t *testing.T) {
	agent := newFakeAgent()
	_, _, sockPath := startTestEndpoint(t, agent)

	conn := dial(t, sockPath)
	defer func() { _ = conn.Close() }()
	r := bufio.NewReader(conn)

	sendLine(t, conn, map[string]any{"type": "clear"})
	resp := readLine(t, r)
	data, _ := resp["data"].(map[string]any)
	if data["alreadyAtRoot"] != true {
		t.Errorf("got %v", resp)
	}
}

func TestClear_BusyReturnsBusyError(t *testing.T) {
	agent := newFakeAgent()
	agent.idle = false
	_, _, sockPath := startTestEndpoint(t, agent)

	conn := dial(t, sockPath)
	defer func() { _ = conn.Close() }()
	r := bufio.NewReader(conn)

	sendLine(t, conn, map[string]any{"type": "clear"})
	resp := readLine(t, r)
	if resp["success"] != false {
		t.Errorf("got %v", resp)
	}
}

func TestClear_SummarizeTrueUnsupported(t *testing.T) {
	agent := newFakeAgent()
	_, _, sockPath := startTestEndpoint(t, agent)

	conn := dial(t, sockPath)
	defer func() { _ = conn.Close() }()
	r := bufio.NewReader(conn)

	sendLine(t, conn, map[string]any{"type": "clear", "summarize": true})
	resp := readLine(t, r)
	if resp["success"] != false || !strings.Contains(resp["error"].(string), "not supported") {
		t.Errorf("got %v", resp)
	}
}

func TestSubscribe_FiresOnceOnTurnEnd(t *testing.T) {
	agent := newFakeAgent()
	_, _, sockPath := startTestEndpoint(t, agent)

	conn := dial(t, sockPath)
	defer func() { _ = conn.Close() }()
	r := bufio.NewReader(conn)

	sendLine(t, conn, map[string]any{"type": "subscribe", "event": "turn_end"})
	resp := readLine(t, r)
	if resp["success"] != true {
		t.Fatalf("subscribe failed: %v", resp)
	}

	sendLine(t, conn, map[string]any{"type": "send", "message": "go"})
	_ = readLine(t, r) // response to send

	agent.fireTurnEnd("final reply")
	event := readLine(t, r)
	if event["type"] != "event" || event["event"] != "turn_end" {
		t.Errorf("got %v", event)
	}
}

func TestMalformedFrame_KeepsConnectionOpen(t *testing.T) {
	agent := newFakeAgent()
	_, _, sockPath := startTestEndpoint(t, agent)

	conn := dial(t, sockPath)
	defer func() { _ = conn.Close() }()
	r := bufio.NewReader(conn)

	if _, err := conn.Write([]byte("not json\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp := readLine(t, r)
	if resp["success"] != false {
		t.Errorf("got %v", resp)
	}

	// Connection must still be usable for the next frame.
	sendLine(t, conn, map[string]any{"type": "abort"})
	resp = readLine(t, r)
	if resp["success"] != true {
		t.Errorf("got %v", resp)
	}
}

func TestAliasReconciliation_CreatesLinkForAdvertisedName(t *testing.T) {
	agent := newFakeAgent()
	agent.name = "amber-fox"
	_, dir, sockPath := startTestEndpoint(t, agent)

	conn := dial(t, sockPath)
	defer func() { _ = conn.Close() }()
	r := bufio.NewReader(conn)

	sendLine(t, conn, map[string]any{"type": "abort"})
	_ = readLine(t, r)

	resolved, err := dir.ResolveAlias("amber-fox")
	if err != nil {
		t.Fatalf("ResolveAlias: %v", err)
	}
	if resolved != "s1" {
		t.Errorf("got %q, want s1", resolved)
	}
}

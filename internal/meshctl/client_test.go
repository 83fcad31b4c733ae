package meshctl

import (
	"encoding/json"
	"net"
	"path/filepath"
	"testing"

	"github.com/meshctl/mesh/internal/meshrpc"
)

// fakeDaemon echoes back one OK response per request, tagged with the
// command it received, so tests can assert on the wire shape Call produces.
func fakeDaemon(t *testing.T, socketPath string) {
	t.Helper()
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		fr := meshrpc.NewFrameReader(conn)
		fw := meshrpc.NewFrameWriter(conn)
		for {
			line, err := fr.ReadFrame()
			if err != nil {
				return
			}
			typ, err := meshrpc.PeekType(line)
			if err != nil {
				return
			}
			resp := meshrpc.OK(typ, "", map[string]any{"echoed": string(line)})
			data, _ := json.Marshal(resp)
			if err := fw.WriteFrame(data); err != nil {
				return
			}
		}
	}()
}

func TestClient_CallRoundTrip(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "daemon.sock")
	fakeDaemon(t, socketPath)

	c, err := Dial(socketPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = c.Close() }()

	resp, err := c.AddPeer("peer.local", 7433)
	if err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp)
	}
	if resp.Command != "add_peer" {
		t.Fatalf("expected command add_peer, got %q", resp.Command)
	}
}

func TestClient_StatusAndRelayEncodeType(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "daemon.sock")
	fakeDaemon(t, socketPath)

	c, err := Dial(socketPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = c.Close() }()

	if resp, err := c.Status(); err != nil || resp.Command != "status" {
		t.Fatalf("Status: resp=%+v err=%v", resp, err)
	}
	if resp, err := c.Relay("s1", json.RawMessage(`{"type":"get_message"}`), "r1", false); err != nil || resp.Command != "relay" {
		t.Fatalf("Relay: resp=%+v err=%v", resp, err)
	}
}

func TestDial_NoListenerFails(t *testing.T) {
	if _, err := Dial(filepath.Join(t.TempDir(), "missing.sock")); err == nil {
		t.Fatal("expected Dial to fail with no listener")
	}
}

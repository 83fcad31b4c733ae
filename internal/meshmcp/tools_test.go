package meshmcp

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/meshctl/mesh/internal/meshrpc"
)

// fakeDaemon answers one canned response per command, keyed by the "type"
// field of the request frame, so tests can exercise a tool handler without a
// real daemon.Lifecycle running.
func fakeDaemon(t *testing.T, socketPath string, responses map[string]meshrpc.Response) {
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
			resp, ok := responses[typ]
			if !ok {
				resp = meshrpc.Fail(typ, "", meshrpc.NewError(meshrpc.KindUnsupported, "no canned response for %s", typ))
			}
			data, _ := json.Marshal(resp)
			if err := fw.WriteFrame(data); err != nil {
				return
			}
		}
	}()
}

func newTestServer(t *testing.T, responses map[string]meshrpc.Response) *Server {
	t.Helper()
	dir := t.TempDir()
	fakeDaemon(t, dir+"/daemon.sock", responses)

	s, err := NewServer(dir)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func TestHandleStatus_ReturnsDaemonData(t *testing.T) {
	s := newTestServer(t, map[string]meshrpc.Response{
		"status": meshrpc.OK("status", "", map[string]any{
			"hostname": "host-a", "port": 7433, "localSessions": 2,
		}),
	})

	_, out, err := s.handleStatus(context.Background(), nil, struct{}{})
	if err != nil {
		t.Fatalf("handleStatus: %v", err)
	}
	if out.Hostname != "host-a" || out.Port != 7433 || out.LocalSessions != 2 {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestHandleListSessions_ReturnsEntries(t *testing.T) {
	s := newTestServer(t, map[string]meshrpc.Response{
		"list_sessions": meshrpc.OK("list_sessions", "", map[string]any{
			"sessions": []map[string]any{
				{"sessionId": "s1", "host": "host-a", "isRemote": false},
			},
		}),
	})

	_, out, err := s.handleListSessions(context.Background(), nil, struct{}{})
	if err != nil {
		t.Fatalf("handleListSessions: %v", err)
	}
	if len(out.Sessions) != 1 || out.Sessions[0].SessionID != "s1" {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestHandleRelay_RequiresSessionAndCommand(t *testing.T) {
	s := newTestServer(t, nil)

	if _, _, err := s.handleRelay(context.Background(), nil, RelayInput{}); err == nil {
		t.Fatal("expected error for missing sessionId and rpcCommand")
	}
	if _, _, err := s.handleRelay(context.Background(), nil, RelayInput{SessionID: "s1"}); err == nil {
		t.Fatal("expected error for missing rpcCommand")
	}
}

func TestHandleRelay_PropagatesFailure(t *testing.T) {
	s := newTestServer(t, map[string]meshrpc.Response{
		"relay": meshrpc.Fail("relay", "", meshrpc.NewError(meshrpc.KindNotFound, "session not found")),
	})

	_, _, err := s.handleRelay(context.Background(), nil, RelayInput{
		SessionID:  "ghost",
		RPCCommand: json.RawMessage(`{"type":"get_message"}`),
	})
	if err == nil {
		t.Fatal("expected relay failure to surface as an error")
	}
}

func TestHandleAddPeer_RequiresHost(t *testing.T) {
	s := newTestServer(t, nil)
	if _, _, err := s.handleAddPeer(context.Background(), nil, AddPeerInput{}); err == nil {
		t.Fatal("expected error for missing host")
	}
}

func TestHandleAddPeer_Succeeds(t *testing.T) {
	s := newTestServer(t, map[string]meshrpc.Response{
		"add_peer": meshrpc.OK("add_peer", "", map[string]any{"host": "peer.local"}),
	})

	_, out, err := s.handleAddPeer(context.Background(), nil, AddPeerInput{Host: "peer.local"})
	if err != nil {
		t.Fatalf("handleAddPeer: %v", err)
	}
	if out.Host != "peer.local" {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestHandleRemovePeer_RequiresHost(t *testing.T) {
	s := newTestServer(t, nil)
	if _, _, err := s.handleRemovePeer(context.Background(), nil, RemovePeerInput{}); err == nil {
		t.Fatal("expected error for missing host")
	}
}

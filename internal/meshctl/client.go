// Package meshctl is the daemon's own client library: a thin wrapper over
// daemon.sock's newline-delimited JSON envelopes, shared by the meshctl CLI
// and anything else that needs to talk to a running daemon.
package meshctl

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/meshctl/mesh/internal/meshrpc"
)

// Client holds one open connection to a daemon's control socket.
type Client struct {
	conn net.Conn
	fr   *meshrpc.FrameReader
	fw   *meshrpc.FrameWriter
	mu   sync.Mutex
}

// Dial connects to the daemon control socket at socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	return &Client{
		conn: conn,
		fr:   meshrpc.NewFrameReader(conn),
		fw:   meshrpc.NewFrameWriter(conn),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Call sends one request envelope — req's fields plus "type": command — and
// returns the single matching response. Requests on one Client are not
// pipelined: Call blocks any concurrent caller until its response arrives.
func (c *Client) Call(command string, req any) (meshrpc.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := encodeRequest(command, req)
	if err != nil {
		return meshrpc.Response{}, err
	}
	if err := c.fw.WriteFrame(data); err != nil {
		return meshrpc.Response{}, fmt.Errorf("write request: %w", err)
	}

	line, err := c.fr.ReadFrame()
	if err != nil {
		return meshrpc.Response{}, fmt.Errorf("read response: %w", err)
	}
	var resp meshrpc.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return meshrpc.Response{}, fmt.Errorf("parse response: %w", err)
	}
	return resp, nil
}

// Subscribe sends the subscribe request. Once it returns, NextEvent reads
// the event stream pushed on this same connection.
func (c *Client) Subscribe() (meshrpc.Response, error) {
	return c.Call("subscribe", map[string]any{})
}

// NextEvent blocks for the next event frame on a subscribed connection.
func (c *Client) NextEvent() (meshrpc.Event, error) {
	line, err := c.fr.ReadFrame()
	if err != nil {
		return meshrpc.Event{}, fmt.Errorf("read event: %w", err)
	}
	var ev meshrpc.Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return meshrpc.Event{}, fmt.Errorf("parse event: %w", err)
	}
	return ev, nil
}

// Status, AddPeer, RemovePeer, ListSessions, ListTailscale, Relay, and Kill
// are typed convenience wrappers over Call for the daemon's fixed command
// set (spec.md §4.E).

func (c *Client) Status() (meshrpc.Response, error) {
	return c.Call("status", map[string]any{})
}

func (c *Client) AddPeer(host string, port int) (meshrpc.Response, error) {
	return c.Call("add_peer", map[string]any{"host": host, "port": port})
}

func (c *Client) RemovePeer(host string) (meshrpc.Response, error) {
	return c.Call("remove_peer", map[string]any{"host": host})
}

func (c *Client) ListSessions() (meshrpc.Response, error) {
	return c.Call("list_sessions", map[string]any{})
}

func (c *Client) ListTailscale() (meshrpc.Response, error) {
	return c.Call("list_tailscale", map[string]any{})
}

func (c *Client) Relay(targetSessionID string, rpcCommand json.RawMessage, requestID string, fireAndForget bool) (meshrpc.Response, error) {
	return c.Call("relay", map[string]any{
		"targetSessionId": targetSessionID,
		"rpcCommand":      rpcCommand,
		"requestId":       requestID,
		"fireAndForget":   fireAndForget,
	})
}

func (c *Client) Kill() (meshrpc.Response, error) {
	return c.Call("kill", map[string]any{})
}

func encodeRequest(command string, req any) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", command, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("encode %s request: %w", command, err)
	}
	typeTag, err := json.Marshal(command)
	if err != nil {
		return nil, err
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}
	fields["type"] = typeTag
	return json.Marshal(fields)
}

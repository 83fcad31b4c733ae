package meshmcp

import (
	"context"
	"encoding/json"
	"fmt"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// StatusOutput holds the fields the tool reports from the daemon's status
// response data. The daemon's status carries no hostname, so Hostname is
// empty unless the response includes one.
type StatusOutput struct {
	Hostname      string       `json:"hostname"`
	Port          int          `json:"port"`
	LocalSessions int          `json:"localSessions"`
	Peers         []PeerStatus `json:"peers,omitempty"`
}

// PeerStatus is one entry of the daemon's per-peer status summary.
type PeerStatus struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Transport    string `json:"transport"`
	SessionCount int    `json:"sessionCount"`
}

func (s *Server) handleStatus(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input struct{},
) (*gomcp.CallToolResult, StatusOutput, error) {
	c, err := s.client()
	if err != nil {
		return nil, StatusOutput{}, fmt.Errorf("connect to daemon: %w", err)
	}
	defer func() { _ = c.Close() }()

	resp, err := c.Status()
	if err != nil {
		return nil, StatusOutput{}, fmt.Errorf("status: %w", err)
	}
	if !resp.Success {
		return nil, StatusOutput{}, fmt.Errorf("status: %s", resp.Error)
	}

	var out StatusOutput
	if err := remarshal(resp.Data, &out); err != nil {
		return nil, StatusOutput{}, err
	}
	return nil, out, nil
}

// ListSessionsOutput mirrors the daemon's list_sessions response data: one
// entry per session the watcher or a peer link has told us about.
type ListSessionsOutput struct {
	Sessions []SessionEntry `json:"sessions"`
}

type SessionEntry struct {
	SessionID string   `json:"sessionId"`
	Name      string   `json:"name,omitempty"`
	Aliases   []string `json:"aliases,omitempty"`
	Host      string   `json:"host"`
	IsRemote  bool     `json:"isRemote"`
}

func (s *Server) handleListSessions(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input struct{},
) (*gomcp.CallToolResult, ListSessionsOutput, error) {
	c, err := s.client()
	if err != nil {
		return nil, ListSessionsOutput{}, fmt.Errorf("connect to daemon: %w", err)
	}
	defer func() { _ = c.Close() }()

	resp, err := c.ListSessions()
	if err != nil {
		return nil, ListSessionsOutput{}, fmt.Errorf("list sessions: %w", err)
	}
	if !resp.Success {
		return nil, ListSessionsOutput{}, fmt.Errorf("list sessions: %s", resp.Error)
	}

	var out ListSessionsOutput
	if err := remarshal(resp.Data, &out); err != nil {
		return nil, ListSessionsOutput{}, err
	}
	return nil, out, nil
}

// RelayInput addresses one RPC command frame to a session by id.
type RelayInput struct {
	SessionID     string          `json:"sessionId" jsonschema:"the target session's id"`
	RPCCommand    json.RawMessage `json:"rpcCommand" jsonschema:"the raw RPC command frame to deliver, e.g. {\"type\":\"send\",\"message\":\"...\"}"`
	RequestID     string          `json:"requestId,omitempty" jsonschema:"correlation id; generated by the daemon if omitted"`
	FireAndForget bool            `json:"fireAndForget,omitempty" jsonschema:"if true, ack immediately and drop the eventual response"`
}

type RelayOutput struct {
	Response json.RawMessage `json:"response,omitempty"`
}

func (s *Server) handleRelay(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input RelayInput,
) (*gomcp.CallToolResult, RelayOutput, error) {
	if input.SessionID == "" {
		return nil, RelayOutput{}, fmt.Errorf("'sessionId' is required")
	}
	if len(input.RPCCommand) == 0 {
		return nil, RelayOutput{}, fmt.Errorf("'rpcCommand' is required")
	}

	c, err := s.client()
	if err != nil {
		return nil, RelayOutput{}, fmt.Errorf("connect to daemon: %w", err)
	}
	defer func() { _ = c.Close() }()

	resp, err := c.Relay(input.SessionID, input.RPCCommand, input.RequestID, input.FireAndForget)
	if err != nil {
		return nil, RelayOutput{}, fmt.Errorf("relay: %w", err)
	}
	if !resp.Success {
		return nil, RelayOutput{}, fmt.Errorf("relay: %s", resp.Error)
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, RelayOutput{}, fmt.Errorf("marshal relay response: %w", err)
	}
	return nil, RelayOutput{Response: raw}, nil
}

// AddPeerInput names a peer daemon to connect to.
type AddPeerInput struct {
	Host string `json:"host" jsonschema:"the peer's hostname or address"`
	Port int    `json:"port,omitempty" jsonschema:"peer port; defaults to this daemon's own configured port"`
}

type AddPeerOutput struct {
	Host string `json:"host"`
}

func (s *Server) handleAddPeer(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input AddPeerInput,
) (*gomcp.CallToolResult, AddPeerOutput, error) {
	if input.Host == "" {
		return nil, AddPeerOutput{}, fmt.Errorf("'host' is required")
	}

	c, err := s.client()
	if err != nil {
		return nil, AddPeerOutput{}, fmt.Errorf("connect to daemon: %w", err)
	}
	defer func() { _ = c.Close() }()

	resp, err := c.AddPeer(input.Host, input.Port)
	if err != nil {
		return nil, AddPeerOutput{}, fmt.Errorf("add peer: %w", err)
	}
	if !resp.Success {
		return nil, AddPeerOutput{}, fmt.Errorf("add peer: %s", resp.Error)
	}
	return nil, AddPeerOutput{Host: input.Host}, nil
}

// RemovePeerInput names a peer daemon to disconnect from.
type RemovePeerInput struct {
	Host string `json:"host" jsonschema:"the peer's hostname or address"`
}

type RemovePeerOutput struct {
	Host string `json:"host"`
}

func (s *Server) handleRemovePeer(
	ctx context.Context,
	req *gomcp.CallToolRequest,
	input RemovePeerInput,
) (*gomcp.CallToolResult, RemovePeerOutput, error) {
	if input.Host == "" {
		return nil, RemovePeerOutput{}, fmt.Errorf("'host' is required")
	}

	c, err := s.client()
	if err != nil {
		return nil, RemovePeerOutput{}, fmt.Errorf("connect to daemon: %w", err)
	}
	defer func() { _ = c.Close() }()

	resp, err := c.RemovePeer(input.Host)
	if err != nil {
		return nil, RemovePeerOutput{}, fmt.Errorf("remove peer: %w", err)
	}
	if !resp.Success {
		return nil, RemovePeerOutput{}, fmt.Errorf("remove peer: %s", resp.Error)
	}
	return nil, RemovePeerOutput{Host: input.Host}, nil
}

// remarshal round-trips v's data through JSON into out, since Response.Data
// arrives as an any (already decoded generic JSON) rather than raw bytes.
func remarshal(data any, out any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal response data: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

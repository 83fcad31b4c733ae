// Package meshmcp exposes the mesh's control-plane commands as MCP tools,
// so an editor or agent harness that speaks MCP over stdio can list
// sessions, relay RPC frames, and manage peers without shelling out to
// meshctl.
package meshmcp

import (
	"context"
	"fmt"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/meshctl/mesh/internal/meshctl"
	"github.com/meshctl/mesh/internal/meshdir"
)

// Server is the mesh MCP server. It holds no live daemon connection: every
// tool call opens its own short-lived Client, since one meshctl.Client
// serializes its calls and MCP tool calls can arrive interleaved.
type Server struct {
	dir     *meshdir.Dir
	version string
	server  *gomcp.Server
}

// Option configures the MCP server.
type Option func(*Server)

// WithVersion sets the server version string reported in the MCP
// implementation handshake.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewServer creates an MCP server bound to the control directory at dir
// (following the same resolution meshctl and meshd use). It does not
// require a running daemon: tool calls self-spawn one on first use.
func NewServer(dir string, opts ...Option) (*Server, error) {
	d, err := meshdir.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("open control directory: %w", err)
	}

	s := &Server{dir: d, version: "dev"}
	for _, opt := range opts {
		opt(s)
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{
			Name:    "meshctl",
			Version: s.version,
		},
		nil,
	)
	s.registerTools()

	return s, nil
}

// Run serves MCP requests on stdin/stdout until the client disconnects or
// ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// client opens a fresh connection to the daemon, self-spawning it if it
// isn't already running.
func (s *Server) client() (*meshctl.Client, error) {
	return meshctl.EnsureRunning(s.dir)
}

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "mesh_status",
		Description: "Show this host's daemon status: listening port, local session count, and connected peers",
	}, s.handleStatus)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "mesh_list_sessions",
		Description: "List every agent session visible to the mesh, local and remote, by host",
	}, s.handleListSessions)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "mesh_relay",
		Description: "Relay one RPC command frame to a session by id, local or on a peer host, and return its response",
	}, s.handleRelay)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "mesh_add_peer",
		Description: "Connect this daemon to a peer daemon by host (and optional port)",
	}, s.handleAddPeer)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "mesh_remove_peer",
		Description: "Disconnect from a peer and stop reconnecting to it",
	}, s.handleRemovePeer)
}

// Package federation implements the peer-to-peer wire protocol (component
// D): a TCP listener plus outbound connector per configured peer host,
// hello/heartbeat/delta framing, the single-retry reconnect policy, and the
// peer-session table.
package federation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/meshctl/mesh/internal/daemon/watcher"
	"github.com/meshctl/mesh/internal/meshrpc"
)

// HeartbeatInterval is the default period between heartbeat frames.
const HeartbeatInterval = 15 * time.Second

// DeadPeerMultiplier is how many missed heartbeat periods before a
// connection is declared dead.
const DeadPeerMultiplier = 3

// ReconnectDelay is how long the dialer waits before its single retry.
const ReconnectDelay = 3 * time.Second

// ConnectTimeout bounds an outbound TCP dial.
const ConnectTimeout = 5 * time.Second

type helloFrame struct {
	Type     string                  `json:"type"`
	Host     string                  `json:"host"`
	Port     int                     `json:"port"`
	Sessions []watcher.SessionInfo   `json:"sessions"`
}

type heartbeatFrame struct {
	Type string `json:"type"`
}

type sessionAddedFrame struct {
	Type    string               `json:"type"`
	Session watcher.SessionInfo  `json:"session"`
}

type sessionRemovedFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type rpcFrame struct {
	Type            string          `json:"type"`
	TargetSessionID string          `json:"targetSessionId"`
	RequestID       string          `json:"requestId"`
	Command         json.RawMessage `json:"command"`
}

type rpcResponseFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Response  json.RawMessage `json:"response"`
}

func encodeFrame(v any) ([]byte, error) {
	return json.Marshal(v)
}

// decodeFrameType extracts just the discriminator, as meshrpc.PeekType, but
// kept local to avoid a second dependency on the exact error type.
func decodeFrameType(raw []byte) (string, error) {
	typ, err := meshrpc.PeekType(raw)
	if err != nil {
		return "", fmt.Errorf("decode peer frame: %w", err)
	}
	return typ, nil
}

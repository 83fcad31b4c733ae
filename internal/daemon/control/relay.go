package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/meshctl/mesh/internal/config"
	"github.com/meshctl/mesh/internal/meshrpc"
	"github.com/meshctl/mesh/internal/transport"
)

func timeoutForRaw(command json.RawMessage) time.Duration {
	typ, err := meshrpc.PeekType(command)
	if err != nil {
		return config.TimeoutForCommand("")
	}
	return config.TimeoutForCommand(typ)
}

// handleRelay implements spec §4.E's relay algorithm: rate limit, pick a
// timeout by command kind, try the local table, then the peer table, then
// give up with not_found.
func (s *Server) handleRelay(ctx context.Context, command, id string, line []byte, peerKey string) meshrpc.Response {
	var req relayRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return meshrpc.Fail(command, id, meshrpc.NewError(meshrpc.KindParse, "%v", err))
	}
	if req.TargetSessionID == "" {
		return meshrpc.Fail(command, id, meshrpc.NewError(meshrpc.KindParse, "targetSessionId is required"))
	}
	requestID := req.RequestID
	if requestID == "" {
		requestID = ulid.Make().String()
	}

	if err := s.limiter.Allow(peerKey); err != nil {
		s.auditRelay(peerKey, req.TargetSessionID, "fail", "Rate limit exceeded")
		s.log.Warnf("rate limit exceeded for %s via %s", peerKey, transport.GetTransport(ctx))
		return meshrpc.Fail(command, id, meshrpc.NewError(meshrpc.KindRateLimited, "Rate limit exceeded"))
	}

	timeout := timeoutForRaw(req.RPCCommand)

	if entry, ok := s.watcher.Get(req.TargetSessionID); ok {
		if req.FireAndForget {
			go func() {
				if _, err := s.deliverLocal(entry.EndpointPath, req.RPCCommand, timeout); err != nil {
					s.log.Warnf("fire-and-forget delivery to %s: %v", req.TargetSessionID, err)
				}
			}()
			return meshrpc.OK(command, id, map[string]any{"requestId": requestID, "acknowledged": true})
		}

		raw, err := s.deliverLocal(entry.EndpointPath, req.RPCCommand, timeout)
		if err != nil {
			s.auditRelay(peerKey, req.TargetSessionID, "fail", err.Error())
			return meshrpc.Fail(command, id, meshrpc.NewError(meshrpc.KindTransport, "%v", err))
		}
		s.auditRelay(peerKey, req.TargetSessionID, "ok", "")
		return meshrpc.OK(command, id, map[string]any{"requestId": requestID, "response": json.RawMessage(raw)})
	}

	peer, ok := s.fed.Table().FindBySession(req.TargetSessionID)
	if !ok {
		if !req.FireAndForget {
			s.auditRelay(peerKey, req.TargetSessionID, "fail", "session not found")
		}
		return meshrpc.Fail(command, id, meshrpc.NewError(meshrpc.KindNotFound, "session not found"))
	}
	if !peer.IsOpen() {
		if !req.FireAndForget {
			s.auditRelay(peerKey, req.TargetSessionID, "fail", "session is on a disconnected peer")
		}
		return meshrpc.Fail(command, id, meshrpc.NewError(meshrpc.KindPeerUnreachable, "session is on a disconnected peer"))
	}

	cmdRaw, err := json.Marshal(req.RPCCommand)
	if err != nil {
		return meshrpc.Fail(command, id, meshrpc.NewError(meshrpc.KindParse, "%v", err))
	}

	if req.FireAndForget {
		if err := s.fed.SendRPC(peer, requestID, req.TargetSessionID, cmdRaw); err != nil {
			return meshrpc.Fail(command, id, meshrpc.NewError(meshrpc.KindTransport, "%v", err))
		}
		return meshrpc.OK(command, id, map[string]any{"requestId": requestID, "acknowledged": true})
	}

	ch := make(chan json.RawMessage, 1)
	s.mu.Lock()
	s.pending[requestID] = ch
	s.mu.Unlock()

	if err := s.fed.SendRPC(peer, requestID, req.TargetSessionID, cmdRaw); err != nil {
		s.mu.Lock()
		delete(s.pending, requestID)
		s.mu.Unlock()
		s.auditRelay(peerKey, req.TargetSessionID, "fail", err.Error())
		return meshrpc.Fail(command, id, meshrpc.NewError(meshrpc.KindTransport, "%v", err))
	}

	select {
	case resp := <-ch:
		s.auditRelay(peerKey, req.TargetSessionID, "ok", "")
		return meshrpc.OK(command, id, map[string]any{"requestId": requestID, "response": resp})
	case <-time.After(timeout):
		s.mu.Lock()
		delete(s.pending, requestID)
		s.mu.Unlock()
		msg := fmt.Sprintf("Relay timeout after %dms", timeout.Milliseconds())
		s.auditRelay(peerKey, req.TargetSessionID, "fail", msg)
		return meshrpc.Fail(command, id, meshrpc.NewError(meshrpc.KindTimeout, "%s", msg))
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, requestID)
		s.mu.Unlock()
		return meshrpc.Fail(command, id, meshrpc.NewError(meshrpc.KindTransport, "client disconnected"))
	}
}

// deliverLocal opens a fresh connection to the endpoint socket, writes the
// command frame, and awaits exactly one response frame.
func (s *Server) deliverLocal(endpointPath string, command json.RawMessage, timeout time.Duration) ([]byte, error) {
	conn, err := net.DialTimeout("unix", endpointPath, 2*time.Second)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(timeout))

	fw := meshrpc.NewFrameWriter(conn)
	if err := fw.WriteFrame(command); err != nil {
		return nil, err
	}

	fr := meshrpc.NewFrameReader(conn)
	raw, err := fr.ReadFrame()
	if err != nil {
		return nil, err
	}
	return raw, nil
}

package control

import (
	"encoding/json"

	"github.com/meshctl/mesh/internal/daemon/federation"
	"github.com/meshctl/mesh/internal/daemon/watcher"
	"github.com/meshctl/mesh/internal/meshrpc"
	"github.com/meshctl/mesh/internal/transport"
)

// The methods below satisfy federation.Handlers: the Server is the single
// place that folds peer-link events into the event stream and (for RPCs
// addressed to one of our local sessions) into the relay path.

func (s *Server) PeerConnecting(host string) {
	s.idle.Touch()
}

func (s *Server) PeerConnected(host string) {
	s.idle.Touch()
	s.broadcast(meshrpc.NewEvent("peer_connected", map[string]any{"host": host}))
}

func (s *Server) PeerDisconnected(host string) {
	s.idle.Touch()
	s.broadcast(meshrpc.NewEvent("peer_disconnected", map[string]any{"host": host}))
}

func (s *Server) PeerReconnecting(host string) {
	s.broadcast(meshrpc.NewEvent("peer_reconnecting", map[string]any{"host": host}))
}

func (s *Server) PeerGaveUp(host string) {
	s.broadcast(meshrpc.NewEvent("peer_gave_up", map[string]any{"host": host}))
}

func (s *Server) SessionAdded(host string, info watcher.SessionInfo) {
	s.idle.Touch()
	s.broadcast(meshrpc.NewEvent("session_added", sessionEntry{
		SessionID: info.SessionID,
		Name:      info.Name,
		Aliases:   info.Aliases,
		Host:      host,
		IsRemote:  true,
	}))
}

func (s *Server) SessionRemoved(host string, sessionID string) {
	s.idle.Touch()
	s.broadcast(meshrpc.NewEvent("session_removed", sessionEntry{
		SessionID: sessionID,
		Host:      host,
		IsRemote:  true,
	}))
}

// RPCReceived handles an inbound rpc frame from a peer: it targets one of
// our local sessions, so we deliver it the same way a local relay would and
// write back the rpc_response on the same peer connection.
func (s *Server) RPCReceived(peer *federation.Peer, requestID, targetSessionID string, command json.RawMessage) {
	go func() {
		peerKey := peer.Address()

		if err := s.limiter.Allow(peerKey); err != nil {
			s.auditRelay(peerKey, targetSessionID, "fail", "Rate limit exceeded")
			s.log.Warnf("rate limit exceeded for %s via %s", peerKey, transport.TransportPeerTCP)
			resp := meshrpc.Fail("", "", meshrpc.NewError(meshrpc.KindRateLimited, "Rate limit exceeded"))
			s.replyToPeer(peer, requestID, resp)
			return
		}

		entry, ok := s.watcher.Get(targetSessionID)
		if !ok {
			s.auditRelay(peerKey, targetSessionID, "fail", "session not found")
			resp := meshrpc.Fail("", "", meshrpc.NewError(meshrpc.KindNotFound, "session not found"))
			s.replyToPeer(peer, requestID, resp)
			return
		}
		raw, err := s.deliverLocal(entry.EndpointPath, command, timeoutForRaw(command))
		if err != nil {
			s.auditRelay(peerKey, targetSessionID, "fail", err.Error())
			resp := meshrpc.Fail("", "", meshrpc.NewError(meshrpc.KindTransport, "%v", err))
			s.replyToPeer(peer, requestID, resp)
			return
		}
		s.auditRelay(peerKey, targetSessionID, "ok", "")
		if err := s.fed.SendRPCResponse(peer, requestID, raw); err != nil {
			s.log.Warnf("send rpc_response to %s: %v", peer.Host, err)
		}
	}()
}

func (s *Server) replyToPeer(peer *federation.Peer, requestID string, resp meshrpc.Response) {
	raw, err := json.Marshal(resp)
	if err != nil {
		s.log.Warnf("marshal error response for %s: %v", requestID, err)
		return
	}
	if err := s.fed.SendRPCResponse(peer, requestID, raw); err != nil {
		s.log.Warnf("send rpc_response to %s: %v", peer.Host, err)
	}
}

// RPCResponseReceived resolves a pending relay, if one is still waiting.
func (s *Server) RPCResponseReceived(requestID string, response json.RawMessage) {
	s.mu.Lock()
	ch, ok := s.pending[requestID]
	if ok {
		delete(s.pending, requestID)
	}
	s.mu.Unlock()
	if !ok {
		return // deadline already elapsed, or origin disconnected first
	}
	select {
	case ch <- response:
	default:
	}
}

// LocalSessionAdded is wired as the Watcher's onAdd callback.
func (s *Server) LocalSessionAdded(info watcher.SessionInfo) {
	s.idle.Touch()
	s.broadcast(meshrpc.NewEvent("session_added", sessionEntry{
		SessionID: info.SessionID,
		Name:      info.Name,
		Aliases:   info.Aliases,
		Host:      s.hostname,
		IsRemote:  false,
	}))
	s.fed.BroadcastSessionAdded(info)
}

// LocalSessionRemoved is wired as the Watcher's onRemove callback.
func (s *Server) LocalSessionRemoved(sessionID string) {
	s.idle.Touch()
	s.broadcast(meshrpc.NewEvent("session_removed", sessionEntry{
		SessionID: sessionID,
		Host:      s.hostname,
		IsRemote:  false,
	}))
	s.fed.BroadcastSessionRemoved(sessionID)
}

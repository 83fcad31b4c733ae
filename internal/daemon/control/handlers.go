package control

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/meshctl/mesh/internal/meshrpc"
	"tailscale.com/client/local"
)

func (s *Server) dispatch(ctx context.Context, c envelopeWriter, line []byte, peerKey string) (resp meshrpc.Response, newSub *subscriber, postAck func()) {
	typ, err := meshrpc.PeekType(line)
	if err != nil {
		return meshrpc.Fail("", "", meshrpc.NewError(meshrpc.KindParse, "%v", err)), nil, nil
	}
	id := meshrpc.PeekID(line)

	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("panic handling %q: %v", typ, r)
			resp, newSub, postAck = meshrpc.Fail(typ, id, meshrpc.NewError(meshrpc.KindBackend, "internal error: %v", r)), nil, nil
		}
	}()

	switch typ {
	case "status":
		return s.handleStatus(typ, id), nil, nil
	case "add_peer":
		return s.handleAddPeer(ctx, typ, id, line), nil, nil
	case "remove_peer":
		return s.handleRemovePeer(typ, id, line), nil, nil
	case "list_sessions":
		return s.handleListSessions(typ, id), nil, nil
	case "list_tailscale":
		return s.handleListTailscale(ctx, typ, id), nil, nil
	case "relay":
		return s.handleRelay(ctx, typ, id, line, peerKey), nil, nil
	case "subscribe":
		resp, sub := s.handleSubscribe(typ, id, c)
		return resp, sub, nil
	case "kill":
		resp, hook := s.handleKill(typ, id)
		return resp, nil, hook
	default:
		return meshrpc.Fail(typ, id, meshrpc.NewError(meshrpc.KindParse, "unknown command %q", typ)), nil, nil
	}
}

func (s *Server) handleStatus(command, id string) meshrpc.Response {
	peers := s.fed.Table().List()
	summaries := make([]peerSummary, 0, len(peers))
	connected := 0
	for _, p := range peers {
		transport := "closed"
		if p.IsOpen() {
			transport = "open"
			connected++
		}
		summaries = append(summaries, peerSummary{
			Host:         p.Host,
			Port:         p.Port,
			Transport:    transport,
			SessionCount: len(p.Sessions()),
		})
	}

	data := statusData{
		PID:            os.Getpid(),
		UptimeSeconds:  time.Since(s.startedAt).Seconds(),
		Port:           s.cfg.Port,
		LocalSessions:  s.watcher.Len(),
		ConnectedPeers: connected,
		Peers:          summaries,
	}
	return meshrpc.OK(command, id, data)
}

func (s *Server) handleAddPeer(ctx context.Context, command, id string, line []byte) meshrpc.Response {
	var req addPeerRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return meshrpc.Fail(command, id, meshrpc.NewError(meshrpc.KindParse, "%v", err))
	}
	if req.Host == "" {
		return meshrpc.Fail(command, id, meshrpc.NewError(meshrpc.KindParse, "host is required"))
	}
	port := req.Port
	if port == 0 {
		port = s.cfg.Port
	}

	if peer, ok := s.fed.Table().Get(req.Host); ok && peer.IsOpen() {
		return meshrpc.Fail(command, id, fmt.Errorf("peer %s is already connected", req.Host))
	}

	if err := s.fed.AddPeer(req.Host, port, 10*time.Second); err != nil {
		return meshrpc.Fail(command, id, err)
	}

	if err := s.cfg.AddPeer(fmt.Sprintf("%s:%d", req.Host, port)); err != nil {
		s.log.Warnf("persist peer %s to config: %v", req.Host, err)
	}

	return meshrpc.OK(command, id, map[string]any{"host": req.Host, "port": port})
}

func (s *Server) handleRemovePeer(command, id string, line []byte) meshrpc.Response {
	var req removePeerRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return meshrpc.Fail(command, id, meshrpc.NewError(meshrpc.KindParse, "%v", err))
	}
	if req.Host == "" {
		return meshrpc.Fail(command, id, meshrpc.NewError(meshrpc.KindParse, "host is required"))
	}
	if err := s.fed.RemovePeer(req.Host); err != nil {
		return meshrpc.Fail(command, id, meshrpc.NewError(meshrpc.KindNotFound, "%v", err))
	}
	if err := s.cfg.RemovePeer(req.Host); err != nil {
		s.log.Warnf("remove peer %s from config: %v", req.Host, err)
	}
	return meshrpc.OK(command, id, map[string]any{"host": req.Host})
}

func (s *Server) handleListSessions(command, id string) meshrpc.Response {
	var out []sessionEntry
	for _, e := range s.watcher.List() {
		out = append(out, sessionEntry{
			SessionID: e.SessionID,
			Name:      e.Name,
			Aliases:   e.Aliases,
			Host:      s.hostname,
			IsRemote:  false,
		})
	}
	for _, p := range s.fed.Table().List() {
		if !p.IsOpen() {
			continue
		}
		for _, info := range p.Sessions() {
			out = append(out, sessionEntry{
				SessionID: info.SessionID,
				Name:      info.Name,
				Aliases:   info.Aliases,
				Host:      p.Host,
				IsRemote:  true,
			})
		}
	}
	return meshrpc.OK(command, id, map[string]any{"sessions": out})
}

func (s *Server) handleListTailscale(ctx context.Context, command, id string) meshrpc.Response {
	client := &local.Client{}
	status, err := client.Status(ctx)
	if err != nil {
		// Fails cleanly: tailscaled absent is not a crash, just a failed
		// response carrying the error.
		return meshrpc.Fail(command, id, fmt.Errorf("tailscale unavailable: %w", err))
	}

	var peers []tailscalePeer
	for _, p := range status.Peer {
		host := p.HostName
		ip := ""
		if len(p.TailscaleIPs) > 0 {
			ip = p.TailscaleIPs[0].String()
		}
		peers = append(peers, tailscalePeer{Hostname: host, IP: ip})
	}
	return meshrpc.OK(command, id, map[string]any{"peers": peers})
}

func (s *Server) handleKill(command, id string) (meshrpc.Response, func()) {
	resp := meshrpc.OK(command, id, map[string]any{"stopping": true})
	return resp, func() {
		time.AfterFunc(50*time.Millisecond, func() {
			select {
			case <-s.killCh:
			default:
				close(s.killCh)
			}
		})
	}
}

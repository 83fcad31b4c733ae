package control

import (
	"github.com/meshctl/mesh/internal/meshrpc"
)

// envelopeWriter is the minimal capability a subscriber needs from its
// connection: write one JSON envelope, serialized against any concurrent
// response write. Both the Unix-socket clientConn and the WebSocket
// adapter implement it.
type envelopeWriter interface {
	writeEnvelope(v any) error
}

// subscriber is one connection that has upgraded to the event stream. Each
// subscriber owns a small buffered queue; a full queue drops the event for
// that subscriber and a write failure drops the subscriber, so neither
// blocks the broadcaster.
type subscriber struct {
	queue chan meshrpc.Event
	conn  envelopeWriter
	done  chan struct{}
}

func newSubscriber(conn envelopeWriter) *subscriber {
	return &subscriber{
		queue: make(chan meshrpc.Event, 64),
		conn:  conn,
		done:  make(chan struct{}),
	}
}

func (s *Server) handleSubscribe(command, id string, c envelopeWriter) (meshrpc.Response, *subscriber) {
	sub := newSubscriber(c)

	s.subsMu.Lock()
	s.subs[sub] = struct{}{}
	s.subsMu.Unlock()

	go s.pumpSubscriber(sub)

	return meshrpc.OK(command, id, map[string]any{"subscribed": true}), sub
}

// pumpSubscriber drains sub's queue onto its connection. On the first write
// failure it removes itself from the subscriber set; no retry, no replay.
func (s *Server) pumpSubscriber(sub *subscriber) {
	for {
		select {
		case <-sub.done:
			return
		case ev := <-sub.queue:
			if err := sub.conn.writeEnvelope(ev); err != nil {
				s.removeSubscriber(sub)
				return
			}
		}
	}
}

func (s *Server) removeSubscriber(sub *subscriber) {
	s.subsMu.Lock()
	if _, ok := s.subs[sub]; ok {
		delete(s.subs, sub)
		close(sub.done)
	}
	s.subsMu.Unlock()
}

// broadcast pushes ev to every current subscriber, best-effort.
func (s *Server) broadcast(ev meshrpc.Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for sub := range s.subs {
		select {
		case sub.queue <- ev:
		default:
			// Queue full: drop this event for this subscriber rather than
			// block the broadcaster. Matches the no-buffering-beyond-limits
			// back-pressure policy.
		}
	}
}

func (s *Server) broadcastError(message string) {
	s.broadcast(meshrpc.NewEvent("error", map[string]any{"message": message}))
}

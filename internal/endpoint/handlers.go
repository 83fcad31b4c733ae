package endpoint

import (
	"context"
	"encoding/json"
	"time"

	"github.com/meshctl/mesh/internal/meshrpc"
	"github.com/oklog/ulid/v2"
)

type sendRequest struct {
	Message string `json:"message"`
	Mode    string `json:"mode"`
}

type clearRequest struct {
	Summarize bool `json:"summarize"`
}

type subscribeRequest struct {
	Event string `json:"event"`
}

// dispatch decodes one frame, runs the matching command, and returns the
// response envelope plus (for `subscribe`) an unsubscribe func the caller
// must remember to call on disconnect.
func (e *Endpoint) dispatch(ctx context.Context, c *clientConn, line []byte) (resp meshrpc.Response, unsubscribe func()) {
	id := meshrpc.PeekID(line)

	typ, err := meshrpc.PeekType(line)
	if err != nil {
		return meshrpc.Fail("", id, err), nil
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.Errorf("panic handling %q: %v", typ, r)
			resp, unsubscribe = meshrpc.Fail(typ, id, meshrpc.NewError(meshrpc.KindBackend, "internal error: %v", r)), nil
		}
	}()

	switch typ {
	case "send":
		return e.handleSend(ctx, id, line), nil
	case "get_message":
		return e.handleGetMessage(id), nil
	case "get_summary":
		return e.handleGetSummary(ctx, id), nil
	case "clear":
		return e.handleClear(id, line), nil
	case "abort":
		return e.handleAbort(id), nil
	case "subscribe":
		return e.handleSubscribe(c, id, line)
	default:
		return meshrpc.Fail(typ, id, meshrpc.NewError(meshrpc.KindParse, "unknown command %q", typ)), nil
	}
}

func (e *Endpoint) handleSend(ctx context.Context, id string, line []byte) meshrpc.Response {
	var req sendRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return meshrpc.Fail("send", id, meshrpc.NewError(meshrpc.KindParse, "invalid send payload: %v", err))
	}
	if req.Message == "" {
		return meshrpc.Fail("send", id, meshrpc.NewError(meshrpc.KindParse, "message must not be empty"))
	}
	mode := ModeSteer
	if req.Mode == string(ModeFollowUp) {
		mode = ModeFollowUp
	}
	if err := e.agent.Deliver(ctx, req.Message, mode); err != nil {
		return meshrpc.Fail("send", id, meshrpc.AsError(err))
	}
	return meshrpc.OK("send", id, map[string]bool{"delivered": true})
}

func (e *Endpoint) handleGetMessage(id string) meshrpc.Response {
	msg, ok := e.agent.LastAssistantMessage()
	if !ok {
		return meshrpc.OK("get_message", id, map[string]any{"message": nil})
	}
	return meshrpc.OK("get_message", id, map[string]any{"message": msg})
}

func (e *Endpoint) handleGetSummary(ctx context.Context, id string) meshrpc.Response {
	summary, err := e.agent.Summarize(ctx)
	if err != nil {
		return meshrpc.Fail("get_summary", id, meshrpc.NewError(meshrpc.KindBackend, "%v", err))
	}
	return meshrpc.OK("get_summary", id, map[string]string{"summary": summary})
}

func (e *Endpoint) handleClear(id string, line []byte) meshrpc.Response {
	var req clearRequest
	_ = json.Unmarshal(line, &req)

	if req.Summarize {
		return meshrpc.Fail("clear", id, meshrpc.NewError(meshrpc.KindUnsupported, "clear with summarize=true is not supported via this channel"))
	}
	if !e.agent.IsIdle() {
		return meshrpc.Fail("clear", id, meshrpc.NewError(meshrpc.KindBusy, "session is busy"))
	}
	if e.agent.CurrentEntryID() == e.agent.RootEntryID() {
		return meshrpc.OK("clear", id, map[string]bool{"alreadyAtRoot": true})
	}
	if err := e.agent.RewindTo(e.agent.RootEntryID()); err != nil {
		return meshrpc.Fail("clear", id, meshrpc.AsError(err))
	}
	return meshrpc.OK("clear", id, map[string]bool{"alreadyAtRoot": false})
}

func (e *Endpoint) handleAbort(id string) meshrpc.Response {
	e.agent.Abort()
	return meshrpc.OK("abort", id, nil)
}

func (e *Endpoint) handleSubscribe(c *clientConn, id string, line []byte) (meshrpc.Response, func()) {
	var req subscribeRequest
	if err := json.Unmarshal(line, &req); err != nil || req.Event != "turn_end" {
		return meshrpc.Fail("subscribe", id, meshrpc.NewError(meshrpc.KindParse, "subscribe requires event=\"turn_end\"")), nil
	}

	subscriptionID := ulid.Make().String()
	unsubscribe := e.agent.OnTurnEnd(func(message string) {
		_ = c.writeEnvelope(meshrpc.Event{
			Type:           "event",
			Event:          "turn_end",
			Data:           map[string]string{"message": message},
			SubscriptionID: subscriptionID,
		})
	})

	return meshrpc.OK("subscribe", id, map[string]string{"subscriptionId": subscriptionID}), unsubscribe
}

func (e *Endpoint) reconcileAlias() {
	name := e.agent.Name()
	existing, err := e.dir.AliasesPointingTo(e.sessionID)
	if err != nil {
		e.log.Warnf("list aliases for %s: %v", e.sessionID, err)
		return
	}

	if name == "" {
		for _, alias := range existing {
			_ = e.dir.RemoveAlias(alias)
		}
		return
	}

	hasCurrent := false
	for _, alias := range existing {
		if alias == name {
			hasCurrent = true
			continue
		}
		_ = e.dir.RemoveAlias(alias)
	}
	if !hasCurrent {
		if err := e.dir.EnsureAlias(name, e.sessionID); err != nil {
			e.log.Warnf("create alias %s for %s: %v", name, e.sessionID, err)
		}
	}
}

func (e *Endpoint) aliasReconcileLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.reconcileAlias()
		}
	}
}

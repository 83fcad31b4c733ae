package meshrpc

import "encoding/json"

// Response is the envelope every session-endpoint and daemon-control request
// gets exactly one of, per spec §6: {type:"response", command, success,
// data?, error?, id?}.
type Response struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	ID      string `json:"id,omitempty"`
}

// Event is the streaming envelope used by turn-end subscriptions on the
// endpoint and by session/peer events on the daemon control plane:
// {type:"event", event, data?, subscriptionId?}.
type Event struct {
	Type           string `json:"type"`
	Event          string `json:"event"`
	Data           any    `json:"data,omitempty"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
}

// OK builds a successful response envelope.
func OK(command, id string, data any) Response {
	return Response{Type: "response", Command: command, Success: true, Data: data, ID: id}
}

// Fail builds a failed response envelope from an error. If err is already a
// typed *Error its Message is used verbatim; otherwise err.Error() is used.
func Fail(command, id string, err error) Response {
	msg := err.Error()
	return Response{Type: "response", Command: command, Success: false, Error: msg, ID: id}
}

// NewEvent builds an event envelope.
func NewEvent(event string, data any) Event {
	return Event{Type: "event", Event: event, Data: data}
}

// envelopeHeader is the minimal shape every inbound frame must have: a type
// tag, and optionally an id for correlation. Every command-specific request
// struct embeds or mirrors this.
type envelopeHeader struct {
	Type string           `json:"type"`
	ID   *json.RawMessage `json:"id,omitempty"`
}

// PeekType extracts just the "type" discriminator from a raw frame, without
// committing to a concrete request struct. Returns KindParse if the frame
// isn't a JSON object or has no type field.
func PeekType(raw []byte) (string, error) {
	var hdr envelopeHeader
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return "", NewError(KindParse, "invalid JSON frame: %v", err)
	}
	if hdr.Type == "" {
		return "", NewError(KindParse, "frame missing required \"type\" field")
	}
	return hdr.Type, nil
}

// PeekID extracts the optional id field as a string, for echoing back in the
// response envelope. Returns "" if absent or non-scalar.
func PeekID(raw []byte) string {
	var hdr envelopeHeader
	if err := json.Unmarshal(raw, &hdr); err != nil || hdr.ID == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(*hdr.ID, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(*hdr.ID, &n); err == nil {
		return n.String()
	}
	return ""
}

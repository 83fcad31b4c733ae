package meshrpc

import "fmt"

// Kind is the closed set of error kinds a relay, endpoint, or control-plane
// handler can surface to a client.
type Kind string

const (
	KindParse           Kind = "parse"
	KindSizeExceeded    Kind = "size_exceeded"
	KindNotFound        Kind = "not_found"
	KindPeerUnreachable Kind = "peer_unreachable"
	KindTimeout         Kind = "timeout"
	KindRateLimited     Kind = "rate_limited"
	KindBusy            Kind = "busy"
	KindUnsupported     Kind = "unsupported"
	KindBackend         Kind = "backend"
	KindTransport       Kind = "transport"
)

// Error is a typed RPC-boundary error: it carries a machine-checkable Kind
// alongside the human message that goes into a response's error field.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// NewError builds an Error with the given kind and formatted message.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts an *Error from err, or wraps it as a backend error if it
// isn't already typed — handlers must never let a bare error escape to a
// client without a kind attached.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if rpcErr, ok := err.(*Error); ok {
		return rpcErr
	}
	return &Error{Kind: KindBackend, Message: err.Error()}
}

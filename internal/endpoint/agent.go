// Package endpoint implements the per-session IPC listener (component B):
// it parses RPC commands from any number of clients and dispatches them to
// a host agent collaborator, emitting turn-end events to one-shot
// subscribers.
package endpoint

import "context"

// DeliverMode selects how a `send` is applied when the agent is mid-turn.
type DeliverMode string

const (
	// ModeSteer interrupts/prepends the current turn.
	ModeSteer DeliverMode = "steer"
	// ModeFollowUp queues the message after the current turn completes.
	ModeFollowUp DeliverMode = "follow_up"
)

// Agent is the host agent collaborator the endpoint depends on. The core
// never touches an agent process directly — it only sees this interface,
// per spec.md §1's explicit boundary.
type Agent interface {
	// Deliver hands message to the agent. If the agent is idle it always
	// starts a fresh turn regardless of mode; if busy, mode selects steer
	// vs. follow-up semantics.
	Deliver(ctx context.Context, message string, mode DeliverMode) error

	// Abort cancels any in-progress turn. Idempotent: calling it while idle
	// succeeds with no effect.
	Abort()

	// IsIdle reports whether the agent is between turns.
	IsIdle() bool

	// LastAssistantMessage returns the most recent assistant text message
	// on the current branch, or ok=false if none exists yet.
	LastAssistantMessage() (message string, ok bool)

	// Summarize produces a text summary of the span since the last user
	// prompt. Returns an error if no messages exist in that span, or no
	// summarization backend is available — the caller surfaces this as a
	// `backend` error.
	Summarize(ctx context.Context) (string, error)

	// CurrentEntryID and RootEntryID identify the branch position; `clear`
	// is idempotent when they're already equal.
	CurrentEntryID() string
	RootEntryID() string

	// RewindTo moves the branch to entryID. Fails if the agent is busy.
	RewindTo(entryID string) error

	// OnTurnEnd registers fn to be called exactly once, the next time the
	// current (or next) turn completes, with the trailing assistant
	// message. The returned unsubscribe func is safe to call multiple
	// times and after fn has already fired.
	OnTurnEnd(fn func(message string)) (unsubscribe func())

	// Name returns the agent's currently advertised session name, or ""
	// if it hasn't chosen one — used for alias reconciliation.
	Name() string
}

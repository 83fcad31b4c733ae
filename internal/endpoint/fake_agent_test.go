package endpoint

import (
	"context"
	"fmt"
	"sync"
)

// fakeAgent is a minimal, deterministic stand-in for the host agent
// collaborator, used only in tests.
type fakeAgent struct {
	mu sync.Mutex

	idle        bool
	lastMessage string
	hasMessage  bool
	current     string
	root        string
	name        string

	summary    string
	summaryErr error

	deliverErr error
	rewindErr  error

	turnEndFn func(string)
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{idle: true, current: "root", root: "root"}
}

func (f *fakeAgent) Deliver(_ context.Context, message string, _ DeliverMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deliverErr != nil {
		return f.deliverErr
	}
	f.lastMessage = fmt.Sprintf("reply to: %s", message)
	f.hasMessage = true
	f.current = "entry-1"
	return nil
}

// fireTurnEnd simulates the turn actually completing some time after Deliver
// has already returned its delivery acknowledgement, mirroring send's
// asynchronous-to-the-response contract.
func (f *fakeAgent) fireTurnEnd(message string) {
	f.mu.Lock()
	fn := f.turnEndFn
	f.turnEndFn = nil
	f.mu.Unlock()
	if fn != nil {
		fn(message)
	}
}

func (f *fakeAgent) Abort() {}

func (f *fakeAgent) IsIdle() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.idle
}

func (f *fakeAgent) LastAssistantMessage() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastMessage, f.hasMessage
}

func (f *fakeAgent) Summarize(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summary, f.summaryErr
}

func (f *fakeAgent) CurrentEntryID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeAgent) RootEntryID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.root
}

func (f *fakeAgent) RewindTo(entryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rewindErr != nil {
		return f.rewindErr
	}
	f.current = entryID
	return nil
}

func (f *fakeAgent) OnTurnEnd(fn func(string)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turnEndFn = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.turnEndFn = nil
	}
}

func (f *fakeAgent) Name() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.name
}

// Package watcher implements the discovery watcher (component C): it
// enumerates the control directory, probes `*.sock` nodes for liveness, and
// maintains the daemon's local-session table, emitting session_added and
// session_removed notifications as endpoints come and go.
package watcher

import (
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/meshctl/mesh/internal/logging"
	"github.com/meshctl/mesh/internal/meshdir"
)

// SessionInfo is the data model's SessionInfo: {sessionId, name, aliases}.
type SessionInfo struct {
	SessionID string   `json:"sessionId"`
	Name      string   `json:"name"`
	Aliases   []string `json:"aliases"`
}

// LocalSessionEntry is SessionInfo plus the daemon-private bookkeeping the
// Watcher needs: the endpoint socket path and the last successful probe
// time.
type LocalSessionEntry struct {
	SessionInfo
	EndpointPath string
	VerifiedAt   time.Time
}

// ProbeTimeout is the default connect timeout a liveness probe allows.
const ProbeTimeout = 300 * time.Millisecond

// DebounceInterval absorbs the rename-then-unlink pattern common to
// rebinding an endpoint socket.
const DebounceInterval = 50 * time.Millisecond

// Watcher owns the local-session table.
type Watcher struct {
	dir          *meshdir.Dir
	probeTimeout time.Duration
	debounce     time.Duration
	log          *logging.Logger

	onAdd    func(SessionInfo)
	onRemove func(sessionID string)

	mu      sync.RWMutex
	entries map[string]LocalSessionEntry

	fsw       *fsnotify.Watcher
	pending   map[string]*time.Timer
	pendingMu sync.Mutex
	stop      chan struct{}
}

// New builds a Watcher over dir. onAdd/onRemove are called synchronously
// from the goroutine running the recheck (Start's caller during the initial
// scan, a debounce timer's goroutine afterwards) and must not block.
func New(dir *meshdir.Dir, onAdd func(SessionInfo), onRemove func(string)) *Watcher {
	return &Watcher{
		dir:          dir,
		probeTimeout: ProbeTimeout,
		debounce:     DebounceInterval,
		log:          logging.New("watcher"),
		onAdd:        onAdd,
		onRemove:     onRemove,
		entries:      make(map[string]LocalSessionEntry),
		pending:      make(map[string]*time.Timer),
		stop:         make(chan struct{}),
	}
}

// Start performs the initial scan-and-probe, then subscribes to directory
// changes.
func (w *Watcher) Start() error {
	if err := w.initialScan(); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir.Root()); err != nil {
		_ = fsw.Close()
		return err
	}
	w.fsw = fsw

	go w.watchLoop()
	return nil
}

// Stop tears down the fsnotify watch and any pending debounce timers.
func (w *Watcher) Stop() {
	close(w.stop)
	if w.fsw != nil {
		_ = w.fsw.Close()
	}
	w.pendingMu.Lock()
	for _, t := range w.pending {
		t.Stop()
	}
	w.pendingMu.Unlock()
}

func (w *Watcher) initialScan() error {
	entries, err := os.ReadDir(w.dir.Root())
	if err != nil {
		return err
	}
	for _, e := range entries {
		sessionID, ok := meshdir.SessionIDFromSocket(e.Name())
		if !ok {
			continue
		}
		w.recheck(sessionID)
	}
	return nil
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			sessionID, ok := meshdir.SessionIDFromSocket(filepath.Base(event.Name))
			if !ok {
				continue
			}
			w.scheduleRecheck(sessionID)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warnf("fsnotify error: %v", err)
		}
	}
}

// scheduleRecheck debounces repeated change notifications for the same
// session id, coalescing bursts (like rename-then-unlink) into one recheck.
func (w *Watcher) scheduleRecheck(sessionID string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	if t, ok := w.pending[sessionID]; ok {
		t.Stop()
	}
	w.pending[sessionID] = time.AfterFunc(w.debounce, func() {
		w.pendingMu.Lock()
		delete(w.pending, sessionID)
		w.pendingMu.Unlock()
		w.recheck(sessionID)
	})
}

// recheck probes sessionID's endpoint and updates the table accordingly.
func (w *Watcher) recheck(sessionID string) {
	socketPath, err := w.dir.SocketPath(sessionID)
	if err != nil {
		return
	}

	alive := w.probe(socketPath)

	w.mu.Lock()
	_, present := w.entries[sessionID]
	w.mu.Unlock()

	switch {
	case alive && !present:
		name, err := w.dir.LoadOrAssignName(sessionID)
		if err != nil {
			w.log.Warnf("assign name for %s: %v", sessionID, err)
			name = sessionID
		}
		aliases, _ := w.dir.AliasesPointingTo(sessionID)
		info := SessionInfo{SessionID: sessionID, Name: name, Aliases: aliases}

		w.mu.Lock()
		w.entries[sessionID] = LocalSessionEntry{SessionInfo: info, EndpointPath: socketPath, VerifiedAt: time.Now()}
		w.mu.Unlock()

		if w.onAdd != nil {
			w.onAdd(info)
		}
	case !alive && present:
		w.mu.Lock()
		delete(w.entries, sessionID)
		w.mu.Unlock()

		if w.onRemove != nil {
			w.onRemove(sessionID)
		}
	}
}

// probe reports alive iff a connect to socketPath completes within the
// probe timeout. No bytes are sent.
func (w *Watcher) probe(socketPath string) bool {
	conn, err := net.DialTimeout("unix", socketPath, w.probeTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Get returns the entry for sessionID, if the daemon currently considers it
// reachable.
func (w *Watcher) Get(sessionID string) (LocalSessionEntry, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	e, ok := w.entries[sessionID]
	return e, ok
}

// List returns every locally reachable session.
func (w *Watcher) List() []LocalSessionEntry {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]LocalSessionEntry, 0, len(w.entries))
	for _, e := range w.entries {
		out = append(out, e)
	}
	return out
}

// Len reports the number of locally reachable sessions.
func (w *Watcher) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entries)
}

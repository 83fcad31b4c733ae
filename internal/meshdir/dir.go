// Package meshdir implements the control-directory layout that the session
// endpoint and the daemon share on disk: endpoint sockets, alias symlinks,
// the daemon's own singleton files, and persisted auto-names.
package meshdir

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultDirName is the control directory name relative to the user's home,
// matching spec.md's example layout.
const DefaultDirName = ".pi/remote-control"

// Dir resolves every path within one control directory. All paths it hands
// out have already passed ValidateSafeID on their id component.
type Dir struct {
	root string
}

// Open resolves the control directory at root, creating it (mode 0700) if
// absent. Pass "" to use the default location under the user's home.
func Open(root string) (*Dir, error) {
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		root = filepath.Join(home, DefaultDirName)
	}
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("create control directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "names"), 0700); err != nil {
		return nil, fmt.Errorf("create names directory: %w", err)
	}
	return &Dir{root: root}, nil
}

// Root returns the control directory's absolute path.
func (d *Dir) Root() string { return d.root }

// SocketPath returns <controlDir>/<sessionId>.sock after validating id.
func (d *Dir) SocketPath(sessionID string) (string, error) {
	if err := ValidateSafeID(sessionID); err != nil {
		return "", err
	}
	return filepath.Join(d.root, sessionID+".sock"), nil
}

// AliasPath returns <controlDir>/<alias>.alias after validating alias.
func (d *Dir) AliasPath(alias string) (string, error) {
	if err := ValidateSafeID(alias); err != nil {
		return "", err
	}
	return filepath.Join(d.root, alias+".alias"), nil
}

// DaemonSocketPath returns <controlDir>/daemon.sock.
func (d *Dir) DaemonSocketPath() string { return filepath.Join(d.root, "daemon.sock") }

// DaemonPidPath returns <controlDir>/daemon.pid.
func (d *Dir) DaemonPidPath() string { return filepath.Join(d.root, "daemon.pid") }

// ConfigPath returns <controlDir>/config.json.
func (d *Dir) ConfigPath() string { return filepath.Join(d.root, "config.json") }

// AuditLogPath returns <controlDir>/audit.log.
func (d *Dir) AuditLogPath() string { return filepath.Join(d.root, "audit.log") }

// NamesDir returns <controlDir>/names.
func (d *Dir) NamesDir() string { return filepath.Join(d.root, "names") }

// NamePath returns <controlDir>/names/<sessionId> after validating id.
func (d *Dir) NamePath(sessionID string) (string, error) {
	if err := ValidateSafeID(sessionID); err != nil {
		return "", err
	}
	return filepath.Join(d.NamesDir(), sessionID), nil
}

// SessionIDFromSocket strips the .sock suffix from a socket's base filename,
// or returns ok=false if the filename doesn't look like an endpoint node.
func SessionIDFromSocket(name string) (id string, ok bool) {
	const suffix = ".sock"
	if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
		return "", false
	}
	id = name[:len(name)-len(suffix)]
	if id == "daemon" {
		return "", false
	}
	return id, true
}

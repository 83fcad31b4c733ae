package meshdir

import (
	"fmt"
	"os"
	"strings"
)

// ResolveAlias reads <alias>.alias and returns the sessionId it points at.
// Per the design notes, aliases are never cached — every caller rereads the
// symlink fresh so a rename is visible on the very next relay.
func (d *Dir) ResolveAlias(alias string) (string, error) {
	path, err := d.AliasPath(alias)
	if err != nil {
		return "", err
	}
	target, err := os.Readlink(path)
	if err != nil {
		return "", fmt.Errorf("resolve alias %q: %w", alias, err)
	}
	sessionID, ok := SessionIDFromSocket(target)
	if !ok {
		return "", fmt.Errorf("alias %q points at unexpected target %q", alias, target)
	}
	return sessionID, nil
}

// AliasesPointingTo scans the control directory for every *.alias symlink
// that currently resolves to sessionID, returning the bare alias names
// (without the .alias suffix). Rebuildable from scratch by a filesystem
// scan, as the design notes require.
func (d *Dir) AliasesPointingTo(sessionID string) ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("scan control directory: %w", err)
	}
	want := sessionID + ".sock"
	var aliases []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".alias") {
			continue
		}
		target, err := os.Readlink(d.root + "/" + name)
		if err != nil || target != want {
			continue
		}
		aliases = append(aliases, strings.TrimSuffix(name, ".alias"))
	}
	return aliases, nil
}

// EnsureAlias creates <alias>.alias → <sessionId>.sock if it doesn't already
// point there, replacing any stale link. Best-effort: callers must not fail
// an RPC because alias maintenance hiccupped.
func (d *Dir) EnsureAlias(alias, sessionID string) error {
	path, err := d.AliasPath(alias)
	if err != nil {
		return err
	}
	target := sessionID + ".sock"

	if existing, err := os.Readlink(path); err == nil {
		if existing == target {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("replace stale alias %q: %w", alias, err)
		}
	}
	if err := os.Symlink(target, path); err != nil {
		return fmt.Errorf("create alias %q: %w", alias, err)
	}
	return nil
}

// RemoveAlias removes <alias>.alias if present. Idempotent.
func (d *Dir) RemoveAlias(alias string) error {
	path, err := d.AliasPath(alias)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove alias %q: %w", alias, err)
	}
	return nil
}

// RemoveAllAliasesFor removes every alias currently pointing at sessionID.
// Used on clean endpoint shutdown.
func (d *Dir) RemoveAllAliasesFor(sessionID string) error {
	aliases, err := d.AliasesPointingTo(sessionID)
	if err != nil {
		return err
	}
	for _, alias := range aliases {
		if err := d.RemoveAlias(alias); err != nil {
			return err
		}
	}
	return nil
}

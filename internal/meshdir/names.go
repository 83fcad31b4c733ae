package meshdir

import (
	"fmt"
	"os"
	"strings"
)

// LoadOrAssignName returns the persisted name for sessionID under
// names/<sessionId>, or generates and persists a fresh WhimsicalName if none
// exists yet. Matches the name-assignment policy: generate once, reuse ever
// after.
func (d *Dir) LoadOrAssignName(sessionID string) (string, error) {
	path, err := d.NamePath(sessionID)
	if err != nil {
		return "", err
	}

	if data, err := os.ReadFile(path); err == nil { //nolint:gosec // G304 - path built from validated sessionID
		name := strings.TrimSpace(string(data))
		if name != "" {
			return name, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read persisted name: %w", err)
	}

	name := GenerateWhimsicalName()
	if err := os.WriteFile(path, []byte(name), 0600); err != nil {
		return "", fmt.Errorf("persist name: %w", err)
	}
	return name, nil
}

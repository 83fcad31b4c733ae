package meshdir

import (
	"fmt"
	"strings"
)

// ValidateSafeID rejects any sessionId or alias that isn't safe to use as a
// filename component: empty, containing a path separator, a backslash, or
// ".." anywhere. Every sessionId and alias accepted from the wire or disk
// must pass this check before it touches the filesystem.
func ValidateSafeID(id string) error {
	if id == "" {
		return fmt.Errorf("id must not be empty")
	}
	if strings.Contains(id, "/") {
		return fmt.Errorf("id %q must not contain a path separator", id)
	}
	if strings.Contains(id, "\\") {
		return fmt.Errorf("id %q must not contain a backslash", id)
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("id %q must not contain \"..\"", id)
	}
	return nil
}

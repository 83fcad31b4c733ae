package meshctl

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/meshctl/mesh/internal/meshdir"
)

// SelfSpawnTimeout is spec.md §4's literal self-spawn poll budget: a client
// that cannot connect gives up after 5 seconds.
const SelfSpawnTimeout = 5 * time.Second

// EnsureRunning dials dir's daemon socket. If nothing answers, it spawns a
// detached meshd process and polls for the socket's appearance, giving up
// after SelfSpawnTimeout.
func EnsureRunning(dir *meshdir.Dir) (*Client, error) {
	if c, err := Dial(dir.DaemonSocketPath()); err == nil {
		return c, nil
	}

	if err := spawnDaemon(dir.Root()); err != nil {
		return nil, fmt.Errorf("spawn daemon: %w", err)
	}

	deadline := time.Now().Add(SelfSpawnTimeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		<-ticker.C
		if c, err := Dial(dir.DaemonSocketPath()); err == nil {
			return c, nil
		}
	}
	return nil, fmt.Errorf("daemon did not become reachable within %s", SelfSpawnTimeout)
}

// spawnDaemon starts a detached `meshd run --dir root` process and releases
// it so it is adopted by init rather than tied to this process's lifetime.
func spawnDaemon(root string) error {
	bin, err := daemonExecutable()
	if err != nil {
		return fmt.Errorf("locate meshd: %w", err)
	}

	cmd := exec.Command(bin, "run", "--dir", root) //nolint:gosec // bin resolved below, not attacker-controlled input
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon process: %w", err)
	}
	return cmd.Process.Release()
}

// daemonExecutable resolves the meshd binary: first alongside this
// process's own executable (a packaged install ships both side by side),
// falling back to PATH.
func daemonExecutable() (string, error) {
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), "meshd")
		if _, statErr := os.Stat(candidate); statErr == nil {
			return candidate, nil
		}
	}
	return exec.LookPath("meshd")
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"), Overrides{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 7433 {
		t.Errorf("Port = %d, want 7433", cfg.Port)
	}
	if cfg.AutoShutdownTimeout != 300*time.Second {
		t.Errorf("AutoShutdownTimeout = %v, want 300s", cfg.AutoShutdownTimeout)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"port":9000,"peers":["a","b"]}`), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path, Overrides{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Port)
	}
	if len(cfg.Peers) != 2 {
		t.Errorf("Peers = %v", cfg.Peers)
	}
}

func TestLoad_FlagOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"port":9000}`), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path, Overrides{Port: 1234})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 1234 {
		t.Errorf("Port = %d, want 1234", cfg.Port)
	}
}

func TestAddRemovePeer_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg, err := Load(path, Overrides{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.AddPeer("host1:7433"); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	// Adding the same peer twice must not duplicate it.
	if err := cfg.AddPeer("host1:7433"); err != nil {
		t.Fatalf("AddPeer (dup): %v", err)
	}

	reloaded, err := Load(path, Overrides{})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(reloaded.Peers) != 1 || reloaded.Peers[0] != "host1:7433" {
		t.Errorf("got %v", reloaded.Peers)
	}

	if err := cfg.RemovePeer("host1:7433"); err != nil {
		t.Fatalf("RemovePeer: %v", err)
	}
	reloaded, err = Load(path, Overrides{})
	if err != nil {
		t.Fatalf("reload after remove: %v", err)
	}
	if len(reloaded.Peers) != 0 {
		t.Errorf("got %v, want empty", reloaded.Peers)
	}
}

// TestRemovePeer_MatchesBareHostAgainstPersistedHostPort covers the mismatch
// between add_peer's persisted "host:port" key and remove_peer's bare-host
// argument: the daemon's remove_peer handler only ever has the bare host,
// so RemovePeer must strip the port before comparing.
func TestRemovePeer_MatchesBareHostAgainstPersistedHostPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg, err := Load(path, Overrides{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.AddPeer("hostB:7433"); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}

	if err := cfg.RemovePeer("hostB"); err != nil {
		t.Fatalf("RemovePeer: %v", err)
	}

	reloaded, err := Load(path, Overrides{})
	if err != nil {
		t.Fatalf("reload after remove: %v", err)
	}
	if len(reloaded.Peers) != 0 {
		t.Errorf("got %v, want empty (bare-host remove should match host:port entry)", reloaded.Peers)
	}
}

func TestTimeoutForCommand(t *testing.T) {
	cases := map[string]time.Duration{
		"get_message": 15 * time.Second,
		"clear":       15 * time.Second,
		"get_summary": 60 * time.Second,
		"send":        5 * time.Minute,
		"abort":       10 * time.Second,
	}
	for cmd, want := range cases {
		if got := TimeoutForCommand(cmd); got != want {
			t.Errorf("TimeoutForCommand(%q) = %v, want %v", cmd, got, want)
		}
	}
}

// Package config resolves the daemon's tunables the way the reference
// daemon layers its own configuration: built-in defaults, then the
// persisted config.json, then MESH_* environment variables, then explicit
// CLI flag overrides — each stage taking precedence over the last.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config holds every daemon tunable named in spec.md §6.
type Config struct {
	Port                int           `json:"port"`
	Peers               []string      `json:"peers"`
	AutoShutdownTimeout time.Duration `json:"-"`
	HeartbeatInterval   time.Duration `json:"-"`
	MaxFrameBytes       int           `json:"-"`
	RateLimitPerWindow  int           `json:"-"`
	RateLimitWindow     time.Duration `json:"-"`
	ReconnectAttempts   int           `json:"-"`
	ReconnectDelay      time.Duration `json:"-"`
	ProbeTimeout        time.Duration `json:"-"`

	// AutoShutdownTimeoutSeconds and HeartbeatIntervalSeconds are the
	// on-disk representation matching config.json's integer-seconds fields.
	AutoShutdownTimeoutSeconds int `json:"autoShutdownTimeout"`
	HeartbeatIntervalSeconds   int `json:"heartbeatInterval"`

	path string
	mu   sync.Mutex
}

// Defaults returns the configuration defaults listed in spec.md §6.
func Defaults() *Config {
	return &Config{
		Port:                       7433,
		Peers:                      nil,
		AutoShutdownTimeout:        300 * time.Second,
		HeartbeatInterval:          15 * time.Second,
		MaxFrameBytes:              8192,
		RateLimitPerWindow:         30,
		RateLimitWindow:            60 * time.Second,
		ReconnectAttempts:          1,
		ReconnectDelay:             3 * time.Second,
		ProbeTimeout:               300 * time.Millisecond,
		AutoShutdownTimeoutSeconds: 300,
		HeartbeatIntervalSeconds:   15,
	}
}

// Overrides carries CLI-flag-sourced values; a zero value in any field means
// "not specified on the command line, don't override".
type Overrides struct {
	Port int
}

// Load resolves configuration layered from defaults, the config.json at
// path (if it exists), MESH_* environment variables, then flags.
func Load(path string, flags Overrides) (*Config, error) {
	cfg := Defaults()
	cfg.path = path

	if data, err := os.ReadFile(path); err == nil { //nolint:gosec // G304 - path is the daemon's own control-dir config file
		var onDisk struct {
			Port                int      `json:"port"`
			Peers               []string `json:"peers"`
			AutoShutdownTimeout int      `json:"autoShutdownTimeout"`
			HeartbeatInterval   int      `json:"heartbeatInterval"`
		}
		if err := json.Unmarshal(data, &onDisk); err != nil {
			return nil, fmt.Errorf("parse config.json: %w", err)
		}
		if onDisk.Port != 0 {
			cfg.Port = onDisk.Port
		}
		if onDisk.Peers != nil {
			cfg.Peers = onDisk.Peers
		}
		if onDisk.AutoShutdownTimeout != 0 {
			cfg.AutoShutdownTimeoutSeconds = onDisk.AutoShutdownTimeout
			cfg.AutoShutdownTimeout = time.Duration(onDisk.AutoShutdownTimeout) * time.Second
		}
		if onDisk.HeartbeatInterval != 0 {
			cfg.HeartbeatIntervalSeconds = onDisk.HeartbeatInterval
			cfg.HeartbeatInterval = time.Duration(onDisk.HeartbeatInterval) * time.Second
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config.json: %w", err)
	}

	if v := os.Getenv("MESH_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MESH_PORT: %w", err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("MESH_PEERS"); v != "" {
		cfg.Peers = strings.Split(v, ",")
	}
	if v := os.Getenv("MESH_AUTO_SHUTDOWN_TIMEOUT"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid MESH_AUTO_SHUTDOWN_TIMEOUT: %w", err)
		}
		cfg.AutoShutdownTimeoutSeconds = secs
		cfg.AutoShutdownTimeout = time.Duration(secs) * time.Second
	}

	if flags.Port != 0 {
		cfg.Port = flags.Port
	}

	return cfg, nil
}

// AddPeer appends host[:port] to the in-memory peer list and persists
// config.json, unless already present.
func (c *Config) AddPeer(hostPort string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.Peers {
		if p == hostPort {
			return nil
		}
	}
	c.Peers = append(c.Peers, hostPort)
	return c.saveLocked()
}

// RemovePeer removes every persisted entry matching host's bare host
// component, accepting either a bare host or a host:port the same way
// add_peer wrote it, and persists config.json.
func (c *Config) RemovePeer(host string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	target := peerHost(host)
	out := c.Peers[:0]
	for _, p := range c.Peers {
		if peerHost(p) != target {
			out = append(out, p)
		}
	}
	c.Peers = out
	return c.saveLocked()
}

// peerHost extracts the bare host from a persisted "host" or "host:port"
// peer entry.
func peerHost(hostPort string) string {
	host, _, err := net.SplitHostPort(hostPort)
	if err != nil {
		return hostPort
	}
	return host
}

func (c *Config) saveLocked() error {
	if c.path == "" {
		return nil
	}
	onDisk := struct {
		Port                int      `json:"port"`
		Peers               []string `json:"peers"`
		AutoShutdownTimeout int      `json:"autoShutdownTimeout"`
		HeartbeatInterval   int      `json:"heartbeatInterval"`
	}{
		Port:                c.Port,
		Peers:               c.Peers,
		AutoShutdownTimeout: c.AutoShutdownTimeoutSeconds,
		HeartbeatInterval:   c.HeartbeatIntervalSeconds,
	}
	data, err := json.MarshalIndent(onDisk, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config.json: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("write config.json: %w", err)
	}
	return nil
}

// TimeoutForCommand returns the relay deadline for a given RPC command kind,
// per spec.md §4.E step 2.
func TimeoutForCommand(command string) time.Duration {
	switch command {
	case "get_message", "clear":
		return 15 * time.Second
	case "get_summary":
		return 60 * time.Second
	case "send":
		return 5 * time.Minute
	default:
		return 10 * time.Second
	}
}

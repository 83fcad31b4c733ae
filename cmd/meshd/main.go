package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/meshctl/mesh/internal/config"
	"github.com/meshctl/mesh/internal/daemon"
	"github.com/meshctl/mesh/internal/daemon/procfile"
	"github.com/meshctl/mesh/internal/meshctl"
	"github.com/meshctl/mesh/internal/meshdir"
)

var (
	flagDir  string
	flagPort int
	flagWS   string
)

func main() {
	root := &cobra.Command{
		Use:           "meshd",
		Short:         "Multi-host agent control mesh daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagDir, "dir", "", "control directory (default ~/.pi/remote-control)")
	root.PersistentFlags().IntVar(&flagPort, "port", 0, "federation listen port (overrides config.json)")
	root.PersistentFlags().StringVar(&flagWS, "ws-addr", "", "optional WebSocket listen address, e.g. :7434")

	root.AddCommand(runCmd(), startCmd(), stopCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func openDir() (*meshdir.Dir, error) {
	return meshdir.Open(flagDir)
}

func loadConfig(dir *meshdir.Dir) (*config.Config, error) {
	return config.Load(dir.ConfigPath(), config.Overrides{Port: flagPort})
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "run",
		Short:  "Run the daemon in the foreground (used internally by `start`)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := openDir()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(dir)
			if err != nil {
				return err
			}
			hostname, err := os.Hostname()
			if err != nil {
				hostname = "localhost"
			}

			lc := daemon.New(dir, cfg, hostname, flagWS)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer cancel()

			return lc.Run(ctx)
		},
	}
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := openDir()
			if err != nil {
				return err
			}
			if running, info, _ := procfile.Check(dir.DaemonPidPath()); running {
				return fmt.Errorf("daemon already running (pid %d)", info.PID)
			}

			self, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve own executable: %w", err)
			}
			spawnArgs := []string{"run"}
			if flagDir != "" {
				spawnArgs = append(spawnArgs, "--dir", flagDir)
			}
			if flagPort != 0 {
				spawnArgs = append(spawnArgs, "--port", fmt.Sprintf("%d", flagPort))
			}
			if flagWS != "" {
				spawnArgs = append(spawnArgs, "--ws-addr", flagWS)
			}

			child := exec.Command(self, spawnArgs...) //nolint:gosec // self from os.Executable(), args are this process's own flags
			child.Stdout = nil
			child.Stderr = nil
			child.Stdin = nil
			child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
			if err := child.Start(); err != nil {
				return fmt.Errorf("start daemon process: %w", err)
			}
			if err := child.Process.Release(); err != nil {
				return fmt.Errorf("release daemon process: %w", err)
			}

			deadline := time.Now().Add(meshctl.SelfSpawnTimeout)
			for time.Now().Before(deadline) {
				if c, dialErr := meshctl.Dial(dir.DaemonSocketPath()); dialErr == nil {
					_ = c.Close()
					fmt.Println("daemon started")
					return nil
				}
				time.Sleep(100 * time.Millisecond)
			}
			return fmt.Errorf("timed out waiting for daemon to start")
		},
	}
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon gracefully",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := openDir()
			if err != nil {
				return err
			}
			c, err := meshctl.Dial(dir.DaemonSocketPath())
			if err != nil {
				return fmt.Errorf("daemon is not running: %w", err)
			}
			defer func() { _ = c.Close() }()

			if _, err := c.Kill(); err != nil {
				return fmt.Errorf("send kill: %w", err)
			}
			fmt.Println("daemon stopping")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := openDir()
			if err != nil {
				return err
			}
			running, info, err := procfile.Check(dir.DaemonPidPath())
			if err != nil {
				return err
			}
			if !running {
				fmt.Println("daemon: not running")
				os.Exit(1)
			}
			fmt.Printf("daemon: running (pid %d, started %s)\n", info.PID, info.StartedAt.Format(time.RFC3339))

			c, err := meshctl.Dial(dir.DaemonSocketPath())
			if err != nil {
				return nil
			}
			defer func() { _ = c.Close() }()
			resp, err := c.Status()
			if err == nil && resp.Success {
				fmt.Printf("status: %+v\n", resp.Data)
			}
			return nil
		},
	}
}

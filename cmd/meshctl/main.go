package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meshctl/mesh/internal/meshctl"
	"github.com/meshctl/mesh/internal/meshdir"
)

var flagDir string

func main() {
	root := &cobra.Command{
		Use:           "meshctl",
		Short:         "Client for the multi-host agent control mesh daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagDir, "dir", "", "control directory (default ~/.pi/remote-control)")

	root.AddCommand(statusCmd(), addPeerCmd(), removePeerCmd(), listSessionsCmd(), listTailscaleCmd(), relayCmd(), subscribeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func connect() (*meshctl.Client, error) {
	dir, err := meshdir.Open(flagDir)
	if err != nil {
		return nil, err
	}
	return meshctl.EnsureRunning(dir)
}

func printResult(command string, data any, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", command, err)
	}
	out, marshalErr := json.MarshalIndent(data, "", "  ")
	if marshalErr != nil {
		return marshalErr
	}
	fmt.Println(string(out))
	return nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and peer status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			resp, err := c.Status()
			if err != nil {
				return err
			}
			if !resp.Success {
				return fmt.Errorf("status: %s", resp.Error)
			}
			return printResult("status", resp.Data, nil)
		},
	}
}

func addPeerCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "add-peer <host>",
		Short: "Connect to a peer daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			resp, err := c.AddPeer(args[0], port)
			if err != nil {
				return err
			}
			if !resp.Success {
				return fmt.Errorf("add-peer: %s", resp.Error)
			}
			return printResult("add_peer", resp.Data, nil)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "peer port (defaults to the daemon's own configured port)")
	return cmd
}

func removePeerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-peer <host>",
		Short: "Disconnect and stop reconnecting to a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			resp, err := c.RemovePeer(args[0])
			if err != nil {
				return err
			}
			if !resp.Success {
				return fmt.Errorf("remove-peer: %s", resp.Error)
			}
			return printResult("remove_peer", resp.Data, nil)
		},
	}
}

func listSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-sessions",
		Short: "List every local and remote session the mesh can see",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			resp, err := c.ListSessions()
			if err != nil {
				return err
			}
			if !resp.Success {
				return fmt.Errorf("list-sessions: %s", resp.Error)
			}
			return printResult("list_sessions", resp.Data, nil)
		},
	}
}

func listTailscaleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-tailscale",
		Short: "List Tailscale peers visible to this host, for convenient add-peer targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			resp, err := c.ListTailscale()
			if err != nil {
				return err
			}
			if !resp.Success {
				return fmt.Errorf("list-tailscale: %s", resp.Error)
			}
			return printResult("list_tailscale", resp.Data, nil)
		},
	}
}

func relayCmd() *cobra.Command {
	var requestID string
	var fireAndForget bool
	cmd := &cobra.Command{
		Use:   "relay <sessionId> <rpcCommandJSON>",
		Short: "Relay one RPC command frame to a local or remote session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("rpcCommandJSON is not valid JSON")
			}
			c, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			resp, err := c.Relay(args[0], json.RawMessage(args[1]), requestID, fireAndForget)
			if err != nil {
				return err
			}
			if !resp.Success {
				return fmt.Errorf("relay: %s", resp.Error)
			}
			return printResult("relay", resp.Data, nil)
		},
	}
	cmd.Flags().StringVar(&requestID, "request-id", "", "correlation id (generated if omitted)")
	cmd.Flags().BoolVar(&fireAndForget, "fire-and-forget", false, "ack immediately and drop the eventual response")
	return cmd
}

func subscribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe",
		Short: "Stream daemon events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			if _, err := c.Subscribe(); err != nil {
				return err
			}
			for {
				ev, err := c.NextEvent()
				if err != nil {
					return err
				}
				out, _ := json.Marshal(ev)
				fmt.Println(string(out))
			}
		},
	}
}

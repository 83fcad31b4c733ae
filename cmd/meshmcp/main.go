package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/meshctl/mesh/internal/meshmcp"
)

var flagDir string

// Version is overridden at build time via -ldflags.
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "meshmcp",
		Short:         "MCP stdio server exposing mesh control-plane tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	root.PersistentFlags().StringVar(&flagDir, "dir", "", "control directory (default ~/.pi/remote-control)")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe() error {
	server, err := meshmcp.NewServer(flagDir, meshmcp.WithVersion(Version))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return server.Run(ctx)
}

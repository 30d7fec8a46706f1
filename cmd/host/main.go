// Command host is the reference host-side process: it spawns the
// script binary as a subprocess, wires its stdin/stdout as the RPC
// transport, and exposes the Methods and TicTacToeBoard plugins for
// the script to load via LoadComponents.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pluginbridge/rpc"
	"github.com/pluginbridge/rpc/hostplugin"
	"github.com/pluginbridge/rpc/plugins/boardplugin"
	"github.com/pluginbridge/rpc/plugins/echoplugin"
	"github.com/pluginbridge/rpc/transport"
)

func main() {
	root := &cobra.Command{
		Use:   "host",
		Short: "Run the reference host process, spawning the script binary as a subprocess",
		RunE:  run,
	}
	root.Flags().String("script-path", "", "path to the script binary (defaults to 'go run ./cmd/script')")
	root.Flags().Duration("timeout", 10*time.Second, "how long to let the script run")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "host:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	scriptPath, _ := cmd.Flags().GetString("script-path")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var child *exec.Cmd
	if scriptPath != "" {
		child = exec.CommandContext(ctx, scriptPath)
	} else {
		child = exec.CommandContext(ctx, "go", "run", "./cmd/script")
	}
	child.Stderr = os.Stderr

	stdin, err := child.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := child.StdoutPipe()
	if err != nil {
		return err
	}

	t := transport.NewPipeTransport(stdin, stdout)
	registry := hostplugin.NewRegistry()
	peer := rpc.NewPeer(t, rpc.WithRequestHandler(registry.Handle))
	peer.On("error", func(a ...any) { fmt.Fprintln(os.Stderr, "host: error event:", a) })
	fmt.Fprintln(os.Stderr, "host: session", peer.SessionID())

	// Plugin construction is independent per plugin; set them up
	// concurrently and register each as it becomes ready.
	group, _ := errgroup.WithContext(ctx)
	group.Go(func() error {
		registry.Register("Methods", echoplugin.New())
		return nil
	})
	group.Go(func() error {
		registry.Register("TicTacToeBoard", boardplugin.New(peer))
		return nil
	})
	if err := group.Wait(); err != nil {
		return err
	}

	if err := child.Start(); err != nil {
		return err
	}
	return child.Wait()
}

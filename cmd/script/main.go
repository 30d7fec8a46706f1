// Command script is the reference script-side process: it speaks the
// rpc wire protocol over its own stdin/stdout, loads the "Methods" and
// "TicTacToeBoard" capabilities from its host, and demonstrates a
// handful of calls and a notification subscription before exiting.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pluginbridge/rpc"
	"github.com/pluginbridge/rpc/transport"
)

func main() {
	root := &cobra.Command{
		Use:   "script",
		Short: "Run the reference script process over stdio",
		RunE:  run,
	}
	root.Flags().Duration("timeout", 5*time.Second, "how long to wait for the demo to finish")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "script:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	t := transport.NewPipeTransport(os.Stdout, os.Stdin)
	runtime := rpc.NewScriptRuntime(t)
	runtime.SetLogging(false)

	runtime.On("error", func(a ...any) { fmt.Fprintln(os.Stderr, "script: error event:", a) })

	var methods, board *rpc.Stub
	inject := rpc.NewInjectionBuilder(runtime)
	if err := inject.Require("Methods", &methods); err != nil {
		return err
	}
	if err := inject.Require("TicTacToeBoard", &board); err != nil {
		return err
	}

	err := runtime.Enable(ctx, inject, func(ctx context.Context) error {
		return demo(ctx, methods, board)
	})
	if err != nil {
		return err
	}
	return nil
}

func demo(ctx context.Context, methods, board *rpc.Stub) error {
	bounced, err := methods.Call(ctx, "bounce", 1, true, "xxx")
	if err != nil {
		return fmt.Errorf("bounce: %w", err)
	}
	fmt.Fprintln(os.Stderr, "[script] bounce ->", bounced)

	board.On("ChoosePosition", func(args ...any) {
		fmt.Fprintln(os.Stderr, "script: ChoosePosition ->", args)
	})

	if _, err := rpc.CallAs[bool](ctx, board, "choosePosition", 0, 0, "X"); err != nil {
		return fmt.Errorf("choosePosition: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"clubhouse/cmd/internal/app"
	"clubhouse/cmd/internal/ctl"
)

func main() {
	if err := app.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := ctl.Run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

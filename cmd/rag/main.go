// Package main is the docrag command line: ingest files into collections,
// ask questions, and manage collections.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd(openApp).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

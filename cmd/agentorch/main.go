// Command agentorch plans, executes and verifies tool workflows.
//
// Lexical issue search needs SQLite FTS5, so build and test with the
// sqlite_fts5 tag (the Makefile sets it):
//
//	go build -tags sqlite_fts5 ./cmd/agentorch
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red("Error: ")+err.Error())
		stop()
		os.Exit(1)
	}
}

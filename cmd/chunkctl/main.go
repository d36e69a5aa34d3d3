// Command chunkctl operates the chunk store and search index from a shell:
// schema migrations, reindexing, metadata inspection, one-off ingestion and
// retrieval.
//
// Usage:
//
//	chunkctl [--config configs/development.yaml] <command>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

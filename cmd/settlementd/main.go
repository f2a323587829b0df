// Command settlementd runs the off-chain settlement core as a
// long-lived daemon: discovery promotion, the batch worker, and the
// chain watcher/submitter, all wired by internal/node.Engine.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/offramp-labs/settlement-core/internal/config"
	"github.com/offramp-labs/settlement-core/internal/node"
)

func main() {
	configPath := flag.String("config", "settlementd.yaml", "path to the settlement core config file")
	flag.Parse()

	logger := log.New(os.Stdout, "", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	engine, err := node.New(cfg, logger)
	if err != nil {
		logger.Fatalf("failed to construct engine: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := engine.Start(ctx); err != nil {
		logger.Fatalf("failed to start engine: %v", err)
	}

	<-ctx.Done()
	logger.Printf("shutdown signal received")

	if err := engine.Stop(); err != nil {
		logger.Fatalf("failed to stop engine cleanly: %v", err)
	}
}

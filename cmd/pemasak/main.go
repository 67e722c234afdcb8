package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mustafasegf/pemasak-infra/internal/config"
	"github.com/mustafasegf/pemasak-infra/internal/orchestrator"
)

func main() {
	logger := log.New(os.Stdout, "pemasak ", log.LstdFlags|log.LUTC)

	cfg, err := config.Load("configuration.yml")
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	orch, err := orchestrator.New(cfg, logger)
	if err != nil {
		logger.Fatalf("orchestrator: %v", err)
	}
	defer orch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	if err := orch.Reconcile(ctx); err != nil {
		logger.Printf("reconcile: %v", err)
	}

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-stop
		logger.Printf("signal received, shutting down...")
		cancel()
	}()

	if err := orch.Run(ctx); err != nil {
		logger.Fatalf("server: %v", err)
	}
}

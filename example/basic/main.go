package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/Audric-Dune/mondon-server"
)

func main() {
	flow, err := mondon.Conf("../../data/mondon.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := flow.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("speed runtime exited: %v", err)
	}
}

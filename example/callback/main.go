package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/Audric-Dune/mondon-server/pkg/mondon"
)

func main() {
	cfg, err := mondon.DefaultConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg.Store.DSN = "./example.db"

	flow, err := mondon.ConfFromConfig(cfg)
	if err != nil {
		log.Fatalf("flow: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	callback := func(e mondon.Event) {
		switch e.Kind {
		case mondon.EventNewReading:
			fmt.Printf("%s speed=%d\n", e.Reading.Time().Format(time.RFC3339Nano), e.Reading.Speed)
		case mondon.EventError:
			fmt.Printf("%s error: %s\n", e.At.Format(time.RFC3339Nano), e.Message)
		}
	}

	err = flow.
		StreamIN(mondon.StreamInSimulator()).
		Run(ctx, mondon.StreamOutCallback("stdout", callback))
	if err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}

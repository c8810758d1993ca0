package main

import (
	"context"
	"fmt"
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

	listener, events, closeEvents := mondon.NewChannelListener("averager", 32)

	done := make(chan struct{})
	go func() {
		defer close(done)
		averageWorker(events, 25)
	}()

	if err := flow.Run(ctx, mondon.StreamOutListener(listener)); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
	closeEvents()
	<-done
}

// averageWorker prints the mean speed of every window of n readings.
func averageWorker(events <-chan mondon.Event, n int) {
	var (
		sum   uint64
		count int
	)
	for e := range events {
		if e.Kind != mondon.EventNewReading {
			continue
		}
		sum += uint64(e.Reading.Speed)
		count++
		if count == n {
			fmt.Printf("mean speed over %d readings: %.1f\n", n, float64(sum)/float64(n))
			sum, count = 0, 0
		}
	}
}

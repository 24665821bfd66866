package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/AegisIsolate"
)

func main() {
	flow, err := aegisisolate.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink, batches, closeBatches := aegisisolate.NewChannelSink("alerts", 32)
	defer closeBatches()

	go alertWorker("pager", batches)

	if err := flow.Run(ctx, aegisisolate.StreamOutSink(sink)); err != nil && err != context.Canceled {
		log.Fatalf("engine error: %v", err)
	}
}

func alertWorker(name string, batches <-chan []aegisisolate.IsolationEvent) {
	for batch := range batches {
		for _, ev := range batch {
			if ev.Outcome == aegisisolate.OutcomeIsolationFailed {
				fmt.Printf("[%s] %s unit %d could not be taken offline (state %s)\n",
					name, time.Now().Format(time.RFC3339), ev.UnitID, ev.State)
				continue
			}
			fmt.Printf("[%s] %s unit %d offline: %s\n", name, time.Now().Format(time.RFC3339), ev.UnitID, ev.Reason)
		}
	}
}

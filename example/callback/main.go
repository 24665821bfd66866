package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghalamif/AegisIsolate/pkg/aegisisolate"
)

func main() {
	flow, err := aegisisolate.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	callback := func(batch []aegisisolate.IsolationEvent) error {
		for _, ev := range batch {
			fmt.Printf("%s unit=%d outcome=%s state=%s ce=%d uce=%d reason=%q\n",
				ev.Timestamp.Format(time.RFC3339Nano),
				ev.UnitID,
				ev.Outcome,
				ev.State,
				ev.CorrectedTotal,
				ev.UncorrectedTotal,
				ev.Reason,
			)
		}
		return nil
	}

	if err := flow.Run(ctx, aegisisolate.StreamOutCallback("stdout", callback)); err != nil && err != context.Canceled {
		log.Fatalf("engine error: %v", err)
	}
}

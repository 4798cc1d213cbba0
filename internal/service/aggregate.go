package service

import (
	"context"
	"log"
	"sync"

	"github.com/mschirtzinger/bugwarrior/internal/issue"
)

// streamBuffer bounds how far connectors may run ahead of the engine.
const streamBuffer = 64

// Aggregate fetches every target concurrently, one goroutine per target,
// and flattens the results into one stream. The channel is closed after
// every target has finished. A failing target contributes a single Record
// carrying its FetchError after whatever issues it produced before failing.
func Aggregate(ctx context.Context, targets []Target, logger *log.Logger) <-chan Record {
	out := make(chan Record, streamBuffer)

	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			fetch(ctx, t, out, logger)
		}(t)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

func fetch(ctx context.Context, t Target, out chan<- Record, logger *log.Logger) {
	send := func(r Record) error {
		select {
		case out <- r:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	count := 0
	err := t.Connector.Issues(ctx, func(iss *issue.Issue) error {
		if iss.Target == "" {
			iss.Target = t.Name
		}
		if iss.Service == "" {
			iss.Service = t.Definition.Service
		}
		count++
		return send(Record{Target: t.Name, Issue: iss})
	})

	if err != nil {
		if logger != nil {
			logger.Printf("WARNING: target %s failed after %d issues: %v", t.Name, count, err)
		}
		fetchErr := &FetchError{Target: t.Name, Service: t.Definition.Service, Err: err}
		// Sent unconditionally; the engine drains the stream to the end.
		out <- Record{Target: t.Name, Err: fetchErr}
		return
	}

	if logger != nil {
		logger.Printf("target %s: fetched %d issues", t.Name, count)
	}
}

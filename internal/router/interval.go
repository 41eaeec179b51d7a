package router

import (
	"context"
	"log/slog"
	"time"
)

// TrackTimeInterval calls fn every interval until the returned cancel
// function is called or ctx ends. A call always finishes before the
// next one can start; ticks that fire meanwhile are dropped. Errors
// from fn are logged and the schedule continues.
//
// cancel blocks until the loop has exited and may be called more than
// once.
func TrackTimeInterval(ctx context.Context, fn func(context.Context) error, interval time.Duration, logger *slog.Logger) (cancel func()) {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, stop := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := fn(ctx); err != nil && ctx.Err() == nil {
					logger.Error("scheduled update failed",
						"interval", interval.String(),
						"error", err,
					)
				}
			}
		}
	}()

	return func() {
		stop()
		<-done
	}
}

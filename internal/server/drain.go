package server

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/gaspardpetit/genserve/internal/inflight"
	"github.com/gaspardpetit/genserve/internal/logx"
	"github.com/gaspardpetit/genserve/internal/serverstate"
)

// ShutdownOnSignals runs until ctx ends. The first signal marks the server as
// draining and calls cancel once counter reaches zero or timeout elapses. A
// second signal, or a zero timeout, calls cancel at once. A negative timeout
// waits indefinitely.
func ShutdownOnSignals(ctx context.Context, cancel context.CancelFunc, sigs <-chan os.Signal, tracker *serverstate.Tracker, counter *inflight.Counter, timeout time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
		}
		if tracker.IsDraining(ctx) || timeout == 0 {
			logx.Log.Warn().Msg("termination requested")
			cancel()
			return
		}
		tracker.StartDrain(ctx)
		go drain(ctx, cancel, counter, timeout)
	}
}

func drain(ctx context.Context, cancel context.CancelFunc, counter *inflight.Counter, timeout time.Duration) {
	waitCtx := ctx
	if timeout > 0 {
		var stop context.CancelFunc
		waitCtx, stop = context.WithTimeout(ctx, timeout)
		defer stop()
		logx.Log.Info().Int64("inflight", counter.Load()).Dur("timeout", timeout).Msg("draining; send SIGTERM again to terminate immediately")
	} else {
		logx.Log.Info().Int64("inflight", counter.Load()).Msg("draining; send SIGTERM again to terminate immediately")
	}
	if counter.WaitForZero(waitCtx) {
		logx.Log.Info().Msg("drain complete; terminating")
		cancel()
		return
	}
	if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		logx.Log.Warn().Int64("inflight", counter.Load()).Msg("drain timeout exceeded; terminating")
		cancel()
	}
}

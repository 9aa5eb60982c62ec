package workerbridge

import (
	"context"
	"fmt"
)

// WithBridge manages bridge lifecycle with automatic cleanup.
//
// It creates a bridge, lets setup register subscriptions, starts the worker,
// runs fn and closes the bridge when fn returns. Subscribing in setup rather
// than in fn guarantees that events printed right after READY are seen.
// A nil setup is allowed.
//
// If fn returns an error, it is returned to the caller. A Close failure is
// logged and does not override fn's error.
//
// Example usage:
//
//	err := workerbridge.WithBridge(ctx,
//	    func(b workerbridge.Bridge) {
//	        b.Subscribe("answer", printAnswer)
//	    },
//	    func(b workerbridge.Bridge) error {
//	        return b.SendCommand(ctx, "Hello")
//	    },
//	    workerbridge.WithWorkerPath("./worker"),
//	)
func WithBridge(
	ctx context.Context,
	setup func(Bridge),
	fn func(Bridge) error,
	opts ...Option,
) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	options := applyOptions(opts)

	log := options.Logger
	if log == nil {
		log = NopLogger()
	}

	b := NewBridge()

	if setup != nil {
		setup(b)
	}

	if err := b.Start(ctx, opts...); err != nil {
		return fmt.Errorf("failed to start bridge: %w", err)
	}

	defer func() {
		if closeErr := b.Close(); closeErr != nil {
			log.Warn("failed to close bridge", "error", closeErr)
		}
	}()

	return fn(b)
}

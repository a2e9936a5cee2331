package sigutil

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Done closes the returned channel on SIGINT or SIGTERM.
func Done() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		close(done)
	}()

	return done
}

// WithSignal cancels the returned context on SIGINT or SIGTERM.
func WithSignal(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

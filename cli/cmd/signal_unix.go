//go:build unix

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// notifyFlush calls trigger on every SIGUSR1 until ctx ends or stop is called.
func notifyFlush(ctx context.Context, trigger func()) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ch:
				trigger()
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}

//go:build !unix

package cmd

import "context"

// notifyFlush is a no-op where SIGUSR1 does not exist.
func notifyFlush(context.Context, func()) (stop func()) {
	return func() {}
}

// Package panicerr converts panics in supervised goroutines into plain errors
// so a misbehaving background job cannot take the process down.
package panicerr

import (
	"github.com/sourcegraph/conc/panics"
)

// Safe wraps fn so that a panic inside it is recovered and returned as an
// error instead of unwinding the goroutine.
func Safe(fn func() error) func() error {
	return func() error {
		var (
			catcher panics.Catcher
			err     error
		)
		catcher.Try(func() {
			err = fn()
		})
		if err != nil {
			return err
		}
		return catcher.Recovered().AsError()
	}
}

// Go runs fn on its own goroutine and reports a recovered panic or returned
// error through done. Used for fire-and-forget work that still wants its
// failures logged by the caller.
func Go(fn func() error, done func(error)) {
	go func() {
		done(Safe(fn)())
	}()
}

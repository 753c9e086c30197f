package observability

import (
	"runtime/debug"
)

// RecoverPanic recovers a panic in the calling goroutine and logs it with the
// stack trace. Deferred at the top of background goroutines so a panic in one
// cannot take the process down:
//
//	go func() {
//	    defer observability.RecoverPanic(logger, "seed file watcher")
//	    ...
//	}()
//
// The panic is swallowed after logging; the goroutine exits normally.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("panic recovered")
	}
}

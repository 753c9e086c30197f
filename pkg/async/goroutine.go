package async

import (
	"context"
	"log"
	"runtime/debug"
	"time"
)

// SafeGo runs fn in a goroutine with a deadline, panic recovery, and error
// logging. Used for fire-and-forget work hanging off the request path, such
// as usage recording and flag evaluation stats, where a panic or a hung store
// call must not take the serving goroutine with it.
//
//	SafeGo(context.WithoutCancel(ctx), 5*time.Second, "record usage", func(ctx context.Context) error {
//	    return store.RecordUsage(ctx, tenantID, metric)
//	})
//
// Errors are logged and dropped; callers that need the result should not be
// using SafeGo.
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				log.Printf("[async] panic in %s: %v\n%s", taskName, r, string(debug.Stack()))
			}
		}()

		if err := fn(ctx); err != nil {
			log.Printf("[async] %s failed: %v", taskName, err)
		}
	}()
}

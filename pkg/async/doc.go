// Package async provides safe goroutine execution for background tasks.
//
// SafeGo runs a function off the request path with panic recovery and a
// deadline:
//
//	async.SafeGo(ctx, 5*time.Second, "record usage", func(ctx context.Context) error {
//		return store.RecordUsage(ctx, tenantID, metric)
//	})
//
// Errors are logged and dropped, so it fits advisory work only: usage
// recording, flag evaluation stats, and similar writes where losing one is
// acceptable.
//
// # Related Packages
//
//   - pkg/middleware: uses SafeGo for asynchronous usage tracking
//   - pkg/features: uses SafeGo for flag evaluation stats
package async

// Package retry provides exponential backoff with jitter.
//
// Two shapes are offered. Do and DoWithResult wrap a single operation and
// retry it until it succeeds, returns a NonRetryable error, the context ends,
// or MaxAttempts is reached:
//
//	bucket, err := retry.DoWithResult(ctx, retry.Quick(), func() (jetstream.KeyValue, error) {
//	    return js.KeyValue(ctx, name)
//	})
//
// Backoff is for loops that own their retry state, like a change-feed watcher
// that reconnects after losing its subscription and resets the budget once it
// is healthy again:
//
//	b, _ := retry.NewBackoff(cfg)
//	for {
//	    if err := open(); err == nil {
//	        b.Reset()
//	        continue
//	    }
//	    d, ok := b.Next()
//	    if !ok {
//	        return errGaveUp
//	    }
//	    _ = retry.Sleep(ctx, d)
//	}
//
// Presets: DefaultConfig (3 attempts), Quick (10 attempts, short delays) and
// Persistent (30 attempts, up to 10s between them).
//
// Do, DoWithResult and Sleep are safe for concurrent use. A Backoff is not.
package retry

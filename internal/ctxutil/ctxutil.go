// Package ctxutil holds context helpers shared by the dispatcher and the
// browser hosts.
package ctxutil

import (
	"context"
	"time"
)

// CombineContext returns a context carrying primary's values that is
// canceled when either primary or secondary is. The browser hosts use it to
// pair a chromedp target context (values) with a request's deadline.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

// detached keeps a parent's values but none of its deadline or cancellation.
type detached struct {
	context.Context
}

func (detached) Deadline() (time.Time, bool) { return time.Time{}, false }
func (detached) Done() <-chan struct{}       { return nil }
func (detached) Err() error                  { return nil }

// Detach returns a context with ctx's values that is never canceled. Work
// started on it runs to completion even if the caller goes away.
func Detach(ctx context.Context) context.Context {
	return detached{ctx}
}

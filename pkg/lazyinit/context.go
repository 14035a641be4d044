package lazyinit

import "context"

type attemptKey struct{}

// attemptFrame links the attempts running on one call chain. A factory that
// initializes another cell pushes a new frame onto the chain it received.
type attemptFrame struct {
	attempt *attempt
	parent  *attemptFrame
}

// withAttempt returns a context marking a as running on the caller's chain.
func withAttempt(ctx context.Context, a *attempt) context.Context {
	parent, _ := ctx.Value(attemptKey{}).(*attemptFrame)
	return context.WithValue(ctx, attemptKey{}, &attemptFrame{attempt: a, parent: parent})
}

// runningIn reports whether ctx descends from the factory run of attempt a.
// Waiting on a from such a context would never return.
func runningIn(ctx context.Context, a *attempt) bool {
	f, _ := ctx.Value(attemptKey{}).(*attemptFrame)
	for ; f != nil; f = f.parent {
		if f.attempt == a {
			return true
		}
	}
	return false
}

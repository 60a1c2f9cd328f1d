// Package concurrencylimiter bounds how many goroutines may be doing
// concurrent work at once, scoped to a context.Context. It is used by the
// executor to cap the number of subgraph fetches a single request may have
// in flight at any moment, the same role thunder's root-level semaphore
// played for expensive field resolution.
package concurrencylimiter

import (
	"context"
	"sync"
)

type limiterKey struct{}

// limiter holds a token bucket. Holding a token means "doing limited work";
// TemporarilyRelease lets a goroutine give its token back while it blocks on
// something else (e.g. waiting on children), without losing its place once
// it resumes.
type limiter struct {
	tokens chan struct{}
}

// With attaches a limiter accepting at most max concurrent holders to ctx.
// A non-positive max disables limiting entirely: Acquire and
// TemporarilyRelease both become no-ops against the returned context.
func With(ctx context.Context, max int) context.Context {
	if max <= 0 {
		return ctx
	}
	return context.WithValue(ctx, limiterKey{}, &limiter{tokens: make(chan struct{}, max)})
}

// Acquire blocks until a token is available or ctx is cancelled, returning a
// release function that must be called exactly once. Acquire against a
// context with no limiter attached returns immediately with a no-op release.
func Acquire(ctx context.Context) (context.Context, func()) {
	l, ok := ctx.Value(limiterKey{}).(*limiter)
	if !ok {
		return ctx, func() {}
	}

	select {
	case l.tokens <- struct{}{}:
	case <-ctx.Done():
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			select {
			case <-l.tokens:
			default:
			}
		})
	}
	return ctx, release
}

// TemporarilyRelease gives up ctx's token for the duration of f, if ctx
// holds one, then reacquires it before returning. Calling it from a
// goroutine that has already released (or never acquired) just runs f.
func TemporarilyRelease(ctx context.Context, f func()) {
	l, ok := ctx.Value(limiterKey{}).(*limiter)
	if !ok {
		f()
		return
	}

	select {
	case <-l.tokens:
	default:
	}
	defer func() {
		select {
		case l.tokens <- struct{}{}:
		default:
		}
	}()

	f()
}

// Package groutine starts goroutines carrying a pprof "goroutine_name" label,
// so scan, expiry, GATT and PTY loops can be told apart in goroutine dumps.
package groutine

import (
	"context"
	"runtime/pprof"
)

type ctxKey struct{}

// Go runs fn in a new goroutine labelled name. The context passed to fn
// derives from parent (context.Background when nil) and carries the name.
//
//	groutine.Go(ctx, "watcher-scan", func(ctx context.Context) {
//	    // scan until ctx is done
//	})
func Go(parent context.Context, name string, fn func(ctx context.Context)) {
	if parent == nil {
		parent = context.Background()
	}
	go pprof.Do(parent, pprof.Labels("goroutine_name", name), func(ctx context.Context) {
		fn(context.WithValue(ctx, ctxKey{}, name))
	})
}

// Name returns the name given to Go, or "" outside such a goroutine.
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(ctxKey{}).(string)
	return name
}

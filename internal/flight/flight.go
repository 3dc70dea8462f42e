// Package flight coordinates one in-flight operation among many callers.
package flight

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Group holds at most one pending call. Callers arriving while it is pending
// share its outcome; once it settles the next caller starts a new one.
type Group[T any] struct {
	g   singleflight.Group
	key string
}

func New[T any](name string) *Group[T] {
	return &Group[T]{key: name}
}

// Do joins the pending call or starts fn. fn runs detached from the caller's
// cancellation so other waiters are unaffected; ctx only bounds this caller's
// wait. shared reports whether the result was delivered to more than one caller.
func (f *Group[T]) Do(ctx context.Context, fn func(ctx context.Context) (T, error)) (v T, shared bool, err error) {
	detached := context.WithoutCancel(ctx)
	ch := f.g.DoChan(f.key, func() (any, error) {
		return fn(detached)
	})

	select {
	case <-ctx.Done():
		return v, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return v, res.Shared, res.Err
		}
		return res.Val.(T), res.Shared, nil
	}
}

// Forget detaches the pending call, if any: its current waiters still get
// its result but the next Do starts a fresh call.
func (f *Group[T]) Forget() {
	f.g.Forget(f.key)
}

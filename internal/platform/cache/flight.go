package cache

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Flight runs fn once per key across concurrent callers. Each caller stops
// waiting when its own ctx is done; the shared call runs detached from any
// single caller's cancellation so the remaining waiters still get a result.
func Flight[T any](ctx context.Context, group *singleflight.Group, key string, fn func(context.Context) (T, error)) (T, error) {
	detached := context.WithoutCancel(ctx)
	resultChan := group.DoChan(key, func() (interface{}, error) {
		return fn(detached)
	})
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

package scheduler

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RunParallel runs one fn per key concurrently, each through
// RunSerialized so a key's own operation is still internally
// serialized against any other caller using the same key. The first
// error cancels the group's context and is returned; all goroutines
// are awaited before RunParallel returns.
func (k *Kernel) RunParallel(ctx context.Context, keys []string, fn func(ctx context.Context, key string) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			return k.RunSerialized(gctx, key, 0, func(innerCtx context.Context) error {
				return fn(innerCtx, key)
			})
		})
	}
	return g.Wait()
}

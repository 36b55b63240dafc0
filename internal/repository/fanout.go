package repository

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// deleteEach runs del for every key concurrently and waits for all of them.
// A failed deletion does not stop the others; the first error is returned
// together with the failure count.
func deleteEach[K any](keys []K, del func(K) error) (int, error) {
	var (
		g       errgroup.Group
		deleted atomic.Int64
		failed  atomic.Int64
	)
	for _, key := range keys {
		key := key // per-iteration copy; go directive is 1.21 (pre-1.22 loop semantics)
		g.Go(func() error {
			if err := del(key); err != nil {
				failed.Add(1)
				return err
			}
			deleted.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(deleted.Load()), fmt.Errorf("%d of %d deletions failed: %w", failed.Load(), len(keys), err)
	}
	return int(deleted.Load()), nil
}

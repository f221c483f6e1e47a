package artifact

import (
	"context"
	"sync"

	"github.com/marmos91/artifactgrid/internal/logger"
)

// batchParallelism bounds concurrent Store calls inside StoreBatch.
const batchParallelism = 8

// BatchErrorFunc receives the index and error of each failed batch item.
type BatchErrorFunc func(index int, err error)

// StoreBatch executes the items as independent Store calls with bounded
// parallelism. The result has one slot per item: the artifact id on
// success, the empty string on failure. Failures are isolated; onError,
// when non-nil, receives each item's error.
func (s *Store) StoreBatch(ctx context.Context, items []StoreInput, sessionID string, onError BatchErrorFunc) []string {
	results := make([]string, len(items))

	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, batchParallelism)
		mu  sync.Mutex
	)
	for i := range items {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			in := items[i]
			if in.SessionID == "" {
				in.SessionID = sessionID
			}
			id, err := s.Store(ctx, in)
			if err != nil {
				logger.Warn("batch item failed",
					logger.Operation("store_batch"),
					logger.Err(err))
				if onError != nil {
					mu.Lock()
					onError(i, err)
					mu.Unlock()
				}
				return
			}
			results[i] = id
		}(i)
	}
	wg.Wait()
	return results
}

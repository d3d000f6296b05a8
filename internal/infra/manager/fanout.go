package manager

import (
	"context"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"mcpchat/internal/domain"
	"mcpchat/internal/infra/telemetry"
)

// fanOut runs fetch for every spec with bounded concurrency. Per-spec
// failures (including panics) are logged and counted, never propagated.
// Results keep registration order: slot i belongs to specs[i].
func fanOut[T any](ctx context.Context, specs []domain.ProviderSpec, concurrency int, fetch func(context.Context, domain.ProviderSpec) ([]T, error), logger *zap.Logger) ([][]T, int) {
	results := make([][]T, len(specs))
	var failures int
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)

	for i, spec := range specs {
		wg.Add(1)
		go func(i int, spec domain.ProviderSpec) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			var items []T
			err := guard(logger, spec.Name, func() error {
				var fetchErr error
				items, fetchErr = fetch(ctx, spec)
				return fetchErr
			})
			if err != nil {
				logger.Warn("provider skipped during aggregation",
					telemetry.ProviderField(spec.Name),
					zap.Error(err),
				)
				mu.Lock()
				failures++
				mu.Unlock()
				return
			}
			mu.Lock()
			results[i] = items
			mu.Unlock()
		}(i, spec)
	}
	wg.Wait()
	return results, failures
}

func flatten[T any](results [][]T) []T {
	total := 0
	for _, items := range results {
		total += len(items)
	}
	flat := make([]T, 0, total)
	for _, items := range results {
		flat = append(flat, items...)
	}
	return flat
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Page is one page of a paginated query. Total is the number of items the
// whole query is expected to return.
type Page[T any] struct {
	Items []T
	Total int
}

// PageFetcher fetches the page starting at item offset startAt.
type PageFetcher[T any] func(ctx context.Context, startAt, pageSize int) (Page[T], error)

// LoadPages runs a paginated query. The first page is fetched to learn the
// total; the remaining pages are fetched concurrently by at most GOMAXPROCS
// workers. Items are returned in page order. A shortfall or surplus of up to
// max(2, total/100) items is logged; a larger one is an error.
func LoadPages[T any](ctx context.Context, pageSize int, fetch PageFetcher[T], logger *slog.Logger) ([]T, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("invalid page size %d", pageSize)
	}
	if logger == nil {
		logger = slog.Default()
	}

	first, err := fetch(ctx, 0, pageSize)
	if err != nil {
		return nil, fmt.Errorf("fetch first page: %w", err)
	}
	total := first.Total
	pages := (total + pageSize - 1) / pageSize
	results := make([][]T, max(pages, 1))
	results[0] = first.Items

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for p := 1; p < pages; p++ {
		g.Go(func() error {
			page, err := fetch(gctx, p*pageSize, pageSize)
			if err != nil {
				return fmt.Errorf("fetch page %d: %w", p, err)
			}
			results[p] = page.Items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var items []T
	for _, r := range results {
		items = append(items, r...)
	}

	diff := total - len(items)
	if diff < 0 {
		diff = -diff
	}
	if tolerance := max(2, total/100); diff > tolerance {
		return nil, fmt.Errorf("loaded %d items but query reported %d", len(items), total)
	}
	if diff > 0 {
		logger.Warn("bulk load count mismatch", "expected", total, "loaded", len(items))
	}
	return items, nil
}

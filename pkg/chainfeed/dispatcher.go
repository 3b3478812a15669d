package chainfeed

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/chainmapper/indexer-core/pkg/ethchain"
	"github.com/chainmapper/indexer-core/pkg/trigger"
)

// BlocksWithTriggers returns the ascending, deduplicated union of blocks in
// [from, to] that carry a log matching logFilter, a call matching
// callFilter, or (if blockFilter.TriggerEveryBlock) every block in range.
// The three underlying adapter queries run concurrently; it does not
// itself evaluate filters against chain data.
func BlocksWithTriggers(
	ctx context.Context,
	adapter Adapter,
	from, to int64,
	logFilter trigger.LogFilter,
	callFilter trigger.CallFilter,
	blockFilter trigger.BlockFilter,
) ([]ethchain.BlockPointer, error) {
	if to < from {
		return nil, fmt.Errorf("chainfeed: invalid range [%d, %d]", from, to)
	}

	var withLogs, withCalls, allBlocks []ethchain.BlockPointer

	g, gctx := errgroup.WithContext(ctx)

	if !logFilter.IsEmpty() {
		g.Go(func() error {
			blocks, err := adapter.BlocksWithLogs(gctx, from, to, logFilter)
			if err != nil {
				return fmt.Errorf("blocks_with_logs: %w", err)
			}
			withLogs = blocks
			return nil
		})
	}

	if !callFilter.IsEmpty() {
		g.Go(func() error {
			blocks, err := adapter.BlocksWithCalls(gctx, from, to, callFilter)
			if err != nil {
				return fmt.Errorf("blocks_with_calls: %w", err)
			}
			withCalls = blocks
			return nil
		})
	}

	if blockFilter.TriggerEveryBlock {
		g.Go(func() error {
			blocks, err := adapter.Blocks(gctx, from, to)
			if err != nil {
				return fmt.Errorf("blocks: %w", err)
			}
			allBlocks = blocks
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return mergeSortedUnique(withLogs, withCalls, allBlocks), nil
}

// mergeSortedUnique deduplicates by block number (keeping the first hash
// seen for a number) and returns the result sorted ascending.
func mergeSortedUnique(sets ...[]ethchain.BlockPointer) []ethchain.BlockPointer {
	seen := make(map[int64]ethchain.BlockPointer)
	for _, set := range sets {
		for _, bp := range set {
			if _, ok := seen[bp.Number]; !ok {
				seen[bp.Number] = bp
			}
		}
	}

	merged := make([]ethchain.BlockPointer, 0, len(seen))
	for _, bp := range seen {
		merged = append(merged, bp)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Number < merged[j].Number })
	return merged
}

// Package orchestrator drives the indexing loop: ask the dispatcher for
// blocks with triggers, load each block's logs and calls, and route them to
// whichever runtime hosts declared an interest.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/chainmapper/indexer-core/pkg/chainfeed"
	"github.com/chainmapper/indexer-core/pkg/ethchain"
	"github.com/chainmapper/indexer-core/pkg/runtimehost"
	"github.com/chainmapper/indexer-core/pkg/sharedmemory"
	"github.com/chainmapper/indexer-core/pkg/trigger"
)

// pollInterval is how long Pipeline.Run waits before re-checking the chain
// head when it has already caught up.
const pollInterval = 2 * time.Second

// Pipeline ties one chain adapter to the set of runtime hosts built from a
// manifest's data sources.
type Pipeline struct {
	name        string
	adapter     chainfeed.Adapter
	hosts       []*runtimehost.Host
	logFilter   trigger.LogFilter
	callFilter  trigger.CallFilter
	blockFilter trigger.BlockFilter
	memory      *sharedmemory.SharedMemory
	batchSize   int64
	logger      zerolog.Logger
}

// New builds a Pipeline from already-constructed hosts and the data sources
// that produced them, combining their filters via set union the way
// chainfeed.BlocksWithTriggers expects.
func New(
	name string,
	adapter chainfeed.Adapter,
	dataSources []trigger.DataSource,
	hosts []*runtimehost.Host,
	memory *sharedmemory.SharedMemory,
	batchSize int64,
	logger zerolog.Logger,
) *Pipeline {
	blockFilter := trigger.NewBlockFilter(dataSources)
	// A call-gated block handler only fires for blocks containing a
	// matching call, so its (start_block, address) pairs must also drive
	// BlocksWithTriggers' blocks_with_calls query, not just routeBlock's
	// later re-check of the same call.
	callFilter := trigger.NewCallFilter(dataSources).Extend(trigger.FromBlockFilter(blockFilter))

	return &Pipeline{
		name:        name,
		adapter:     adapter,
		hosts:       hosts,
		logFilter:   trigger.NewLogFilter(dataSources),
		callFilter:  callFilter,
		blockFilter: blockFilter,
		memory:      memory,
		batchSize:   batchSize,
		logger:      logger.With().Str("component", "orchestrator").Str("pipeline", name).Logger(),
	}
}

// Run advances the pipeline from the last seen block (or startBlock, if
// nothing has been processed yet) to the chain head, and keeps polling for
// new blocks until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, startBlock int64) error {
	from := startBlock
	if last, ok := p.memory.GetLastSeenBlockNumber(p.name); ok {
		from = last + 1
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		head, err := p.adapter.LatestBlock(ctx)
		if err != nil {
			return fmt.Errorf("fetching latest block: %w", err)
		}

		if from > head.Number {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
			continue
		}

		to := from + p.batchSize - 1
		if to > head.Number {
			to = head.Number
		}

		if err := p.processRange(ctx, from, to); err != nil {
			return err
		}

		p.memory.SetLastSeenBlockNumber(p.name, to)
		from = to + 1
	}
}

func (p *Pipeline) processRange(ctx context.Context, from, to int64) error {
	pointers, err := chainfeed.BlocksWithTriggers(ctx, p.adapter, from, to, p.logFilter, p.callFilter, p.blockFilter)
	if err != nil {
		return fmt.Errorf("computing blocks with triggers in [%d, %d]: %w", from, to, err)
	}

	for _, bp := range pointers {
		if err := p.processBlock(ctx, bp); err != nil {
			return fmt.Errorf("processing block %d: %w", bp.Number, err)
		}
	}
	return nil
}

func (p *Pipeline) processBlock(ctx context.Context, bp ethchain.BlockPointer) error {
	block, err := p.adapter.LoadFullBlock(ctx, bp)
	if err != nil {
		return fmt.Errorf("loading block: %w", err)
	}

	logs, err := p.adapter.LogsInBlock(ctx, bp)
	if err != nil {
		return fmt.Errorf("loading logs: %w", err)
	}

	calls, err := p.adapter.CallsInBlock(ctx, bp)
	if err != nil {
		return fmt.Errorf("loading calls: %w", err)
	}

	for _, host := range p.hosts {
		if err := p.routeLogs(ctx, host, logs); err != nil {
			return err
		}
		if err := p.routeCalls(ctx, host, calls); err != nil {
			return err
		}
		if err := p.routeBlock(ctx, host, &block, calls); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) routeLogs(ctx context.Context, host *runtimehost.Host, logs []ethchain.Log) error {
	for i := range logs {
		if !host.MatchesLog(&logs[i]) {
			continue
		}
		ops, err := host.ProcessLog(ctx, &logs[i])
		if err != nil {
			return fmt.Errorf("data source %q: %w", host.Name(), err)
		}
		p.logger.Debug().Str("data_source", host.Name()).Int("operations", len(ops)).Msg("log trigger processed")
	}
	return nil
}

func (p *Pipeline) routeCalls(ctx context.Context, host *runtimehost.Host, calls []ethchain.EthereumCall) error {
	for i := range calls {
		if !host.MatchesCall(&calls[i]) {
			continue
		}
		ops, err := host.ProcessCall(ctx, &calls[i])
		if err != nil {
			return fmt.Errorf("data source %q: %w", host.Name(), err)
		}
		p.logger.Debug().Str("data_source", host.Name()).Int("operations", len(ops)).Msg("call trigger processed")
	}
	return nil
}

func (p *Pipeline) routeBlock(ctx context.Context, host *runtimehost.Host, block *ethchain.Block, calls []ethchain.EthereumCall) error {
	filter, has := host.BlockHandlerFilter()
	if !has {
		return nil
	}

	triggered := filter == trigger.BlockHandlerFilterNone
	if filter == trigger.BlockHandlerFilterCall {
		for i := range calls {
			if host.MatchesBlock(&calls[i]) {
				triggered = true
				break
			}
		}
	}
	if !triggered {
		return nil
	}

	ops, err := host.ProcessBlock(ctx, block)
	if err != nil {
		return fmt.Errorf("data source %q: %w", host.Name(), err)
	}
	p.logger.Debug().Str("data_source", host.Name()).Int("operations", len(ops)).Msg("block trigger processed")
	return nil
}

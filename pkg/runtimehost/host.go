// Package runtimehost is the per-data-source execution host: it decides
// whether a trigger belongs to its data source, resolves the handler and
// ABI entry for it, decodes the trigger's arguments, and hands the work to
// a mappingworker.Worker, waiting for the one-shot reply.
package runtimehost

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/chainmapper/indexer-core/pkg/abicodec"
	"github.com/chainmapper/indexer-core/pkg/entity"
	"github.com/chainmapper/indexer-core/pkg/ethchain"
	"github.com/chainmapper/indexer-core/pkg/mappingworker"
	"github.com/chainmapper/indexer-core/pkg/trigger"
)

// Submitter is the slice of mappingworker.Worker that Host depends on.
// Narrowing the dependency to an interface lets tests substitute a fake
// worker instead of instantiating a real WebAssembly module.
type Submitter interface {
	Submit(req mappingworker.Request) error
}

// Config holds everything Host needs to bind a data source to a running
// mapping worker.
type Config struct {
	DataSource trigger.DataSource
	// ABIs maps an ABI name (as referenced by DataSource.ABI) to its
	// parsed contract ABI, mirroring a data source manifest's list of
	// named ABI entries.
	ABIs   map[string]*abi.ABI
	Worker Submitter
	Logger zerolog.Logger
}

// Host is the execution host for exactly one data source.
type Host struct {
	name          string
	contract      *common.Address
	contractABI   *abi.ABI
	eventHandlers []trigger.EventHandler
	callHandlers  []trigger.CallHandler
	blockHandler  *trigger.BlockHandler
	worker        Submitter
	logger        zerolog.Logger
}

// New binds cfg.DataSource to a running worker, resolving its ABI entry up
// front so a missing ABI fails construction rather than the first trigger.
func New(cfg Config) (*Host, error) {
	contractABI, ok := cfg.ABIs[cfg.DataSource.ABI]
	if !ok {
		return nil, fmt.Errorf("%w: data source %q references ABI %q",
			ErrNoABI, cfg.DataSource.Name, cfg.DataSource.ABI)
	}

	return &Host{
		name:          cfg.DataSource.Name,
		contract:      cfg.DataSource.Address,
		contractABI:   contractABI,
		eventHandlers: cfg.DataSource.EventHandlers,
		callHandlers:  cfg.DataSource.CallHandlers,
		blockHandler:  cfg.DataSource.BlockHandler,
		worker:        cfg.Worker,
		logger:        cfg.Logger.With().Str("component", "runtimehost").Str("data_source", cfg.DataSource.Name).Logger(),
	}, nil
}

func (h *Host) matchesContractAddress(addr common.Address) bool {
	return h.contract != nil && *h.contract == addr
}

// MatchesLog reports whether log belongs to this data source's contract
// and has a topic0 handled by one of its event handlers.
func (h *Host) MatchesLog(log *ethchain.Log) bool {
	return h.matchesContractAddress(log.Address) && h.matchesLogSignature(log)
}

func (h *Host) matchesLogSignature(log *ethchain.Log) bool {
	if len(log.Topics) == 0 {
		return false
	}
	signature := log.Topics[0]
	for _, handler := range h.eventHandlers {
		if signature == trigger.EventSignatureHash(handler.Event) {
			return true
		}
	}
	return false
}

// MatchesCall reports whether call belongs to this data source's contract
// and its method id is handled by one of its call handlers.
func (h *Host) MatchesCall(call *ethchain.EthereumCall) bool {
	return h.matchesContractAddress(call.To) && h.matchesCallFunction(call)
}

func (h *Host) matchesCallFunction(call *ethchain.EthereumCall) bool {
	if len(call.Input) < 4 {
		return false
	}
	var target [4]byte
	copy(target[:], call.Input[:4])
	for _, handler := range h.callHandlers {
		if trigger.MethodID(handler.Function) == target {
			return true
		}
	}
	return false
}

// MatchesBlock reports whether this data source has a block handler and
// call belongs to its contract — the same call-filter-backed block trigger
// gating used by trigger.BlockFilter.
func (h *Host) MatchesBlock(call *ethchain.EthereumCall) bool {
	return h.blockHandler != nil && h.matchesContractAddress(call.To)
}

// BlockHandlerFilter returns this data source's block handler filter kind
// and whether it has a block handler at all.
func (h *Host) BlockHandlerFilter() (trigger.BlockHandlerFilterKind, bool) {
	if h.blockHandler == nil {
		return "", false
	}
	return h.blockHandler.Filter, true
}

// Name returns the data source name this host was built for.
func (h *Host) Name() string {
	return h.name
}

func (h *Host) handlerForLog(log *ethchain.Log) (trigger.EventHandler, error) {
	if len(log.Topics) == 0 {
		return trigger.EventHandler{}, fmt.Errorf("%w: log has no topics", ErrNoHandler)
	}
	signature := log.Topics[0]
	for _, handler := range h.eventHandlers {
		if signature == trigger.EventSignatureHash(handler.Event) {
			return handler, nil
		}
	}
	return trigger.EventHandler{}, fmt.Errorf("%w: event handler for data source %q", ErrNoHandler, h.name)
}

func (h *Host) handlerForCall(call *ethchain.EthereumCall) (trigger.CallHandler, error) {
	if len(call.Input) < 4 {
		return trigger.CallHandler{}, fmt.Errorf("%w: call input has less than 4 bytes", ErrNoHandler)
	}
	var target [4]byte
	copy(target[:], call.Input[:4])
	for _, handler := range h.callHandlers {
		if trigger.MethodID(handler.Function) == target {
			return handler, nil
		}
	}
	return trigger.CallHandler{}, fmt.Errorf("%w: call handler for data source %q", ErrNoHandler, h.name)
}

func (h *Host) handlerForBlock() (trigger.BlockHandler, error) {
	if h.blockHandler == nil {
		return trigger.BlockHandler{}, fmt.Errorf("%w: no block handler on data source %q", ErrNoHandler, h.name)
	}
	return *h.blockHandler, nil
}

// ProcessLog resolves the event handler and ABI entry for log, decodes its
// parameters, and runs the handler on the mapping worker.
func (h *Host) ProcessLog(ctx context.Context, log *ethchain.Log) ([]entity.Operation, error) {
	handler, err := h.handlerForLog(log)
	if err != nil {
		return nil, err
	}

	params, err := abicodec.DecodeLog(h.contractABI, handler.Event, log)
	if err != nil {
		return nil, fmt.Errorf("decoding event %q for data source %q: %w", handler.Event, h.name, err)
	}

	h.logger.Debug().Str("signature", handler.Event).Str("handler", handler.Handler).
		Msg("start processing ethereum event")

	start := time.Now()
	result, err := h.dispatch(ctx, handler.Handler, mappingworker.MappingTrigger{
		Kind:   mappingworker.LogTrigger,
		Log:    log,
		Params: params,
	})
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	h.logger.Info().Str("signature", handler.Event).Str("handler", handler.Handler).
		Int64("secs", int64(elapsed/time.Second)).Int64("ms", int64(elapsed/time.Millisecond)%1000).
		Msg("done processing ethereum event")
	return result, nil
}

// ProcessCall resolves the call handler and ABI entry for call, decodes its
// inputs and outputs, and runs the handler on the mapping worker.
func (h *Host) ProcessCall(ctx context.Context, call *ethchain.EthereumCall) ([]entity.Operation, error) {
	handler, err := h.handlerForCall(call)
	if err != nil {
		return nil, err
	}

	inputs, err := abicodec.DecodeCallInputs(h.contractABI, handler.Function, call)
	if err != nil {
		return nil, fmt.Errorf("decoding inputs for call %q on data source %q: %w", handler.Function, h.name, err)
	}
	outputs, err := abicodec.DecodeCallOutputs(h.contractABI, handler.Function, call)
	if err != nil {
		return nil, fmt.Errorf("decoding outputs for call %q on data source %q: %w", handler.Function, h.name, err)
	}

	start := time.Now()
	result, err := h.dispatch(ctx, handler.Handler, mappingworker.MappingTrigger{
		Kind:    mappingworker.CallTrigger,
		Call:    call,
		Inputs:  inputs,
		Outputs: outputs,
	})
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	h.logger.Info().Str("handler", handler.Handler).
		Int64("secs", int64(elapsed/time.Second)).Int64("ms", int64(elapsed/time.Millisecond)%1000).
		Msg("done processing ethereum call")
	return result, nil
}

// ProcessBlock runs this data source's block handler, if any, on the
// mapping worker.
func (h *Host) ProcessBlock(ctx context.Context, block *ethchain.Block) ([]entity.Operation, error) {
	handler, err := h.handlerForBlock()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := h.dispatch(ctx, handler.Handler, mappingworker.MappingTrigger{
		Kind:  mappingworker.BlockTrigger,
		Block: block,
	})
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	h.logger.Info().Str("handler", handler.Handler).
		Int64("secs", int64(elapsed/time.Second)).Int64("ms", int64(elapsed/time.Millisecond)%1000).
		Msg("done processing ethereum block")
	return result, nil
}

func (h *Host) dispatch(ctx context.Context, handler string, trig mappingworker.MappingTrigger) ([]entity.Operation, error) {
	reply := make(chan mappingworker.Result, 1)
	if err := h.worker.Submit(mappingworker.Request{Handler: handler, Trigger: trig, Reply: reply}); err != nil {
		return nil, fmt.Errorf("submitting %q to mapping worker: %w", handler, err)
	}

	select {
	case result := <-reply:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Operations, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

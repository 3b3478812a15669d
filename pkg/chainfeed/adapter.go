// Package chainfeed composes the chain adapter's per-kind block queries into
// the single blocks_with_triggers view the trigger dispatcher needs, and
// defines the adapter contract itself.
package chainfeed

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/chainmapper/indexer-core/pkg/abicodec"
	"github.com/chainmapper/indexer-core/pkg/ethchain"
	"github.com/chainmapper/indexer-core/pkg/trigger"
)

// NetIdentifiers names the chain an Adapter is connected to.
type NetIdentifiers struct {
	NetworkName string
	GenesisHash common.Hash
}

// ContractCallRequest is an eth_call with enough ABI context for the
// adapter to decode its own return data.
type ContractCallRequest struct {
	ContractABI      *abi.ABI
	FunctionSignature string
	Address          common.Address
	Args             []interface{}
	BlockNumber      *int64 // nil means latest
}

// Adapter is the chain adapter contract consumed by the trigger dispatcher
// and the orchestrator. Implementations own all RPC transport; callers only
// see typed chain artifacts and the error taxonomy in errors.go.
type Adapter interface {
	NetIdentifiers(ctx context.Context) (NetIdentifiers, error)
	LatestBlock(ctx context.Context) (ethchain.BlockPointer, error)
	BlockByHash(ctx context.Context, hash common.Hash) (ethchain.Block, error)
	BlockParentHash(ctx context.Context, block ethchain.BlockPointer) (common.Hash, error)
	BlockHashByBlockNumber(ctx context.Context, number int64) (common.Hash, error)
	IsOnMainChain(ctx context.Context, block ethchain.BlockPointer) (bool, error)
	LoadFullBlock(ctx context.Context, block ethchain.BlockPointer) (ethchain.Block, error)
	CallsInBlock(ctx context.Context, block ethchain.BlockPointer) ([]ethchain.EthereumCall, error)
	LogsInBlock(ctx context.Context, block ethchain.BlockPointer) ([]ethchain.Log, error)

	Blocks(ctx context.Context, from, to int64) ([]ethchain.BlockPointer, error)
	BlocksWithLogs(ctx context.Context, from, to int64, filter trigger.LogFilter) ([]ethchain.BlockPointer, error)
	BlocksWithCalls(ctx context.Context, from, to int64, filter trigger.CallFilter) ([]ethchain.BlockPointer, error)

	ContractCall(ctx context.Context, call ContractCallRequest) ([]abicodec.NamedParam, error)
}

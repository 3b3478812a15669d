package chainfeed

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/chainmapper/indexer-core/pkg/abicodec"
	"github.com/chainmapper/indexer-core/pkg/ethchain"
	"github.com/chainmapper/indexer-core/pkg/trigger"
)

// EthClientAdapter implements Adapter against a live JSON-RPC endpoint via
// *ethclient.Client, the way the teacher's EventFeed wraps its
// eventfeed.ChainClient.
type EthClientAdapter struct {
	client *ethclient.Client
}

// NewEthClientAdapter wraps an already-dialled ethclient.
func NewEthClientAdapter(client *ethclient.Client) *EthClientAdapter {
	return &EthClientAdapter{client: client}
}

// NetIdentifiers reports the chain's genesis hash as its identity.
func (a *EthClientAdapter) NetIdentifiers(ctx context.Context) (NetIdentifiers, error) {
	genesis, err := a.client.BlockByNumber(ctx, big.NewInt(0))
	if err != nil {
		return NetIdentifiers{}, fmt.Errorf("%w: fetching genesis block: %s", ErrUnknownAdapter, err)
	}
	return NetIdentifiers{GenesisHash: genesis.Hash()}, nil
}

// LatestBlock returns the current chain head.
func (a *EthClientAdapter) LatestBlock(ctx context.Context) (ethchain.BlockPointer, error) {
	header, err := a.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return ethchain.BlockPointer{}, fmt.Errorf("%w: fetching latest header: %s", ErrUnknownAdapter, err)
	}
	return ethchain.BlockPointer{Number: header.Number.Int64(), Hash: header.Hash()}, nil
}

// BlockByHash fetches header metadata for a known block hash.
func (a *EthClientAdapter) BlockByHash(ctx context.Context, hash common.Hash) (ethchain.Block, error) {
	header, err := a.client.HeaderByHash(ctx, hash)
	if err != nil {
		return ethchain.Block{}, a.wrapHeaderErr(err)
	}
	return headerToBlock(header), nil
}

// BlockParentHash resolves the parent hash of a given block pointer.
func (a *EthClientAdapter) BlockParentHash(ctx context.Context, block ethchain.BlockPointer) (common.Hash, error) {
	header, err := a.client.HeaderByHash(ctx, block.Hash)
	if err != nil {
		return common.Hash{}, a.wrapHeaderErr(err)
	}
	return header.ParentHash, nil
}

// BlockHashByBlockNumber resolves the canonical hash at a block height.
func (a *EthClientAdapter) BlockHashByBlockNumber(ctx context.Context, number int64) (common.Hash, error) {
	header, err := a.client.HeaderByNumber(ctx, big.NewInt(number))
	if err != nil {
		return common.Hash{}, a.wrapHeaderErr(err)
	}
	return header.Hash(), nil
}

// IsOnMainChain reports whether block is still the canonical block at its
// height, i.e. hasn't been reorged out.
func (a *EthClientAdapter) IsOnMainChain(ctx context.Context, block ethchain.BlockPointer) (bool, error) {
	canonicalHash, err := a.BlockHashByBlockNumber(ctx, block.Number)
	if err != nil {
		if errors.Is(err, ErrBlockUnavailable) {
			return false, nil
		}
		return false, err
	}
	return canonicalHash == block.Hash, nil
}

// LoadFullBlock fetches the full block body for a pointer already known to
// exist (typically returned by BlocksWithLogs/BlocksWithCalls/Blocks).
func (a *EthClientAdapter) LoadFullBlock(ctx context.Context, block ethchain.BlockPointer) (ethchain.Block, error) {
	header, err := a.client.HeaderByHash(ctx, block.Hash)
	if err != nil {
		return ethchain.Block{}, a.wrapHeaderErr(err)
	}
	return headerToBlock(header), nil
}

// CallsInBlock returns every top-level call (transaction) in the block.
// Internal calls require a tracing endpoint this adapter does not use.
func (a *EthClientAdapter) CallsInBlock(ctx context.Context, block ethchain.BlockPointer) ([]ethchain.EthereumCall, error) {
	fullBlock, err := a.client.BlockByHash(ctx, block.Hash)
	if err != nil {
		return nil, a.wrapHeaderErr(err)
	}

	calls := make([]ethchain.EthereumCall, 0, len(fullBlock.Transactions()))
	for _, tx := range fullBlock.Transactions() {
		if tx.To() == nil {
			continue // contract creation, not a call into an existing contract
		}
		from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
		if err != nil {
			return nil, fmt.Errorf("%w: recovering sender for %s: %s", ErrUnknownAdapter, tx.Hash(), err)
		}
		calls = append(calls, ethchain.EthereumCall{
			TransactionHash: tx.Hash(),
			BlockNumber:     block.Number,
			To:              *tx.To(),
			From:            from,
			Input:           tx.Data(),
			Output:          nil, // eth_call output is not recoverable post-hoc without a trace
		})
	}
	return calls, nil
}

// LogsInBlock returns every log emitted within block, querying eth_getLogs
// by the block's hash rather than its number.
func (a *EthClientAdapter) LogsInBlock(ctx context.Context, block ethchain.BlockPointer) ([]ethchain.Log, error) {
	query := ethereum.FilterQuery{BlockHash: &block.Hash}
	logs, err := a.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: eth_getLogs for block %s: %s", ErrUnknownAdapter, block.Hash, err)
	}
	return logs, nil
}

// Blocks returns every block pointer in [from, to].
func (a *EthClientAdapter) Blocks(ctx context.Context, from, to int64) ([]ethchain.BlockPointer, error) {
	pointers := make([]ethchain.BlockPointer, 0, to-from+1)
	for n := from; n <= to; n++ {
		header, err := a.client.HeaderByNumber(ctx, big.NewInt(n))
		if err != nil {
			return nil, a.wrapHeaderErr(err)
		}
		pointers = append(pointers, ethchain.BlockPointer{Number: n, Hash: header.Hash()})
	}
	return pointers, nil
}

// BlocksWithLogs returns the distinct blocks in [from, to] containing a log
// that matches filter. It fetches every log in the range with one eth_getLogs
// call (not scoped by address or topic) and applies filter.Matches to each.
func (a *EthClientAdapter) BlocksWithLogs(
	ctx context.Context, from, to int64, filter trigger.LogFilter,
) ([]ethchain.BlockPointer, error) {
	query := ethereum.FilterQuery{
		FromBlock: big.NewInt(from),
		ToBlock:   big.NewInt(to),
	}
	logs, err := a.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: eth_getLogs: %s", ErrUnknownAdapter, err)
	}

	seen := make(map[int64]common.Hash)
	for i := range logs {
		log := &logs[i]
		if filter.Matches(log, int64(log.BlockNumber)) {
			seen[int64(log.BlockNumber)] = log.BlockHash
		}
	}
	return toSortedPointers(seen), nil
}

// BlocksWithCalls returns the distinct blocks in [from, to] containing a
// call that matches filter.
func (a *EthClientAdapter) BlocksWithCalls(
	ctx context.Context, from, to int64, filter trigger.CallFilter,
) ([]ethchain.BlockPointer, error) {
	seen := make(map[int64]common.Hash)
	for n := from; n <= to; n++ {
		header, err := a.client.HeaderByNumber(ctx, big.NewInt(n))
		if err != nil {
			return nil, a.wrapHeaderErr(err)
		}
		calls, err := a.CallsInBlock(ctx, ethchain.BlockPointer{Number: n, Hash: header.Hash()})
		if err != nil {
			return nil, err
		}
		for i := range calls {
			if filter.Matches(&calls[i]) {
				seen[n] = header.Hash()
				break
			}
		}
	}
	return toSortedPointers(seen), nil
}

// ContractCall performs an eth_call and decodes the return data against
// call.ContractABI.
func (a *EthClientAdapter) ContractCall(ctx context.Context, call ContractCallRequest) ([]abicodec.NamedParam, error) {
	input, err := abicodec.EncodeCallInput(call.ContractABI, call.FunctionSignature, call.Args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrABIMismatch, err)
	}

	msg := ethereum.CallMsg{To: &call.Address, Data: input}
	var blockNumber *big.Int
	if call.BlockNumber != nil {
		blockNumber = big.NewInt(*call.BlockNumber)
	}

	output, err := a.client.CallContract(ctx, msg, blockNumber)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", ErrCallTimeout, err)
		}
		return nil, fmt.Errorf("%w: %s", ErrReverted, err)
	}

	decoded, err := abicodec.DecodeCallOutputs(call.ContractABI, call.FunctionSignature,
		&ethchain.EthereumCall{Output: output})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTokenMismatch, err)
	}
	return decoded, nil
}

func (a *EthClientAdapter) wrapHeaderErr(err error) error {
	if errors.Is(err, ethereum.NotFound) {
		return fmt.Errorf("%w: %s", ErrBlockUnavailable, err)
	}
	return fmt.Errorf("%w: %s", ErrUnknownAdapter, err)
}

func headerToBlock(header *types.Header) ethchain.Block {
	return ethchain.Block{
		Number:     header.Number.Int64(),
		Hash:       header.Hash(),
		ParentHash: header.ParentHash,
		Time:       header.Time,
	}
}

func toSortedPointers(seen map[int64]common.Hash) []ethchain.BlockPointer {
	pointers := make([]ethchain.BlockPointer, 0, len(seen))
	for number, hash := range seen {
		pointers = append(pointers, ethchain.BlockPointer{Number: number, Hash: hash})
	}
	for i := 1; i < len(pointers); i++ {
		for j := i; j > 0 && pointers[j-1].Number > pointers[j].Number; j-- {
			pointers[j-1], pointers[j] = pointers[j], pointers[j-1]
		}
	}
	return pointers
}

// Package ethchain defines the chain artifacts consumed by the trigger
// matching and dispatch layers. It owns no behavior of its own; it is the
// shared vocabulary the trigger, abicodec, chainfeed, and runtimehost
// packages use to talk about logs, calls, and blocks, and it imports none of
// them.
package ethchain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Log is a contract event log, as returned by eth_getLogs.
type Log = types.Log

// EthereumCall is a (possibly internal) message call captured from a
// transaction trace. Input[0:4] is the 4-byte method id; Output is the
// raw ABI-encoded return tuple.
type EthereumCall struct {
	TransactionHash common.Hash
	BlockNumber     int64
	To              common.Address
	From            common.Address
	Input           []byte
	Output          []byte
}

// BlockPointer identifies a block by number and hash.
type BlockPointer struct {
	Number int64
	Hash   common.Hash
}

// Block is a minimal block header used by the block trigger machinery.
type Block struct {
	Number     int64
	Hash       common.Hash
	ParentHash common.Hash
	Time       uint64
}

// Pointer returns the BlockPointer for this block.
func (b Block) Pointer() BlockPointer {
	return BlockPointer{Number: b.Number, Hash: b.Hash}
}

// NewEthereumCallFromTransaction builds an EthereumCall for a top-level
// transaction, pairing it with its receipt's block placement.
func NewEthereumCallFromTransaction(
	txHash common.Hash,
	blockNumber *big.Int,
	to, from common.Address,
	input, output []byte,
) EthereumCall {
	var bn int64
	if blockNumber != nil {
		bn = blockNumber.Int64()
	}
	return EthereumCall{
		TransactionHash: txHash,
		BlockNumber:     bn,
		To:              to,
		From:            from,
		Input:           input,
		Output:          output,
	}
}

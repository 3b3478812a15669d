package trigger

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/chainmapper/indexer-core/pkg/ethchain"
)

// callFilterEntry is the per-address membership test: the address's
// start-block, and the set of 4-byte method ids it accepts. An empty
// method-id set means "any call to this address matches".
type callFilterEntry struct {
	startBlock *int64
	methodIDs  map[[4]byte]struct{}
}

// CallFilter maps contract addresses to the set of 4-byte method ids (and
// optional start block) that make a transaction call relevant.
type CallFilter struct {
	byAddress map[common.Address]callFilterEntry
}

// NewCallFilter builds a CallFilter from every data source with an address,
// grouping call handlers by address and computing each handler's 4-byte
// method id as the first 4 bytes of keccak256(function_signature).
func NewCallFilter(dataSources []DataSource) CallFilter {
	f := CallFilter{byAddress: map[common.Address]callFilterEntry{}}
	for _, ds := range dataSources {
		if ds.Address == nil {
			continue
		}
		startBlock := ds.parsedStartBlock()
		for _, ch := range ds.CallHandlers {
			f.add(*ds.Address, startBlock, methodID(ch.Function))
		}
	}
	return f
}

func (f *CallFilter) add(addr common.Address, startBlock *int64, id [4]byte) {
	entry, ok := f.byAddress[addr]
	if !ok {
		entry = callFilterEntry{startBlock: startBlock, methodIDs: map[[4]byte]struct{}{}}
	}
	entry.methodIDs[id] = struct{}{}
	f.byAddress[addr] = entry
}

// Matches reports whether call is relevant: its target address has an
// entry, and either that entry's method-id set is empty (wildcard) or
// contains the call's 4-byte method id. Start-block is enforced
// symmetrically with LogFilter (strict less-than against the call's block
// number) — a deliberate tightening of the permissive source behavior
// documented in DESIGN.md.
func (f CallFilter) Matches(call *ethchain.EthereumCall) bool {
	entry, ok := f.byAddress[call.To]
	if !ok {
		return false
	}
	if entry.startBlock != nil && !(*entry.startBlock < call.BlockNumber) {
		return false
	}
	if len(entry.methodIDs) == 0 {
		return true
	}
	if len(call.Input) < 4 {
		return false
	}
	var id [4]byte
	copy(id[:], call.Input[:4])
	_, matched := entry.methodIDs[id]
	return matched
}

// Extend merges other into f. On a conflicting address the method-id sets
// are unioned and the smaller (more inclusive) start block is kept — a
// correction of the source's overwrite-on-conflict behavior, documented in
// DESIGN.md.
func (f CallFilter) Extend(other CallFilter) CallFilter {
	merged := make(map[common.Address]callFilterEntry, len(f.byAddress))
	for addr, e := range f.byAddress {
		merged[addr] = cloneCallFilterEntry(e)
	}
	for addr, oe := range other.byAddress {
		existing, ok := merged[addr]
		if !ok {
			merged[addr] = cloneCallFilterEntry(oe)
			continue
		}
		for id := range oe.methodIDs {
			existing.methodIDs[id] = struct{}{}
		}
		existing.startBlock = lowerStartBlock(existing.startBlock, oe.startBlock)
		merged[addr] = existing
	}
	return CallFilter{byAddress: merged}
}

func cloneCallFilterEntry(e callFilterEntry) callFilterEntry {
	ids := make(map[[4]byte]struct{}, len(e.methodIDs))
	for id := range e.methodIDs {
		ids[id] = struct{}{}
	}
	return callFilterEntry{startBlock: e.startBlock, methodIDs: ids}
}

// lowerStartBlock picks the more inclusive (smaller, or unset) start block.
func lowerStartBlock(a, b *int64) *int64 {
	if a == nil || b == nil {
		return nil
	}
	if *a < *b {
		return a
	}
	return b
}

// IsEmpty reports whether the filter has no address entries.
func (f CallFilter) IsEmpty() bool {
	return len(f.byAddress) == 0
}

// FromBlockFilter converts a BlockFilter's call-gated addresses into a
// wildcard CallFilter: each (start_block, addr) pair becomes
// addr -> (start_block, {}), matching any call to that address.
func FromBlockFilter(bf BlockFilter) CallFilter {
	f := CallFilter{byAddress: map[common.Address]callFilterEntry{}}
	for addr, sb := range bf.contractAddresses {
		f.byAddress[addr] = callFilterEntry{startBlock: sb, methodIDs: map[[4]byte]struct{}{}}
	}
	return f
}

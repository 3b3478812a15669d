package trigger

import "github.com/ethereum/go-ethereum/common"

// BlockFilter is the set of (start_block?, address) pairs whose blocks
// trigger a call-gated block handler, plus a flag for "every block".
type BlockFilter struct {
	contractAddresses map[common.Address]*int64
	TriggerEveryBlock bool
}

// NewBlockFilter folds over all data sources: if any block handler has no
// filter tag, trigger_every_block is set; if any has the "call" filter
// tag, (start_block, address) is added to the address set.
func NewBlockFilter(dataSources []DataSource) BlockFilter {
	f := BlockFilter{contractAddresses: map[common.Address]*int64{}}
	for _, ds := range dataSources {
		if ds.Address == nil || ds.BlockHandler == nil {
			continue
		}
		switch ds.BlockHandler.Filter {
		case BlockHandlerFilterNone:
			f.TriggerEveryBlock = true
		case BlockHandlerFilterCall:
			f.contractAddresses[*ds.Address] = ds.parsedStartBlock()
		}
	}
	return f
}

// Extend ORs the trigger_every_block flags and unions the address sets.
func (f BlockFilter) Extend(other BlockFilter) BlockFilter {
	merged := make(map[common.Address]*int64, len(f.contractAddresses)+len(other.contractAddresses))
	for addr, sb := range f.contractAddresses {
		merged[addr] = sb
	}
	for addr, sb := range other.contractAddresses {
		if existing, ok := merged[addr]; ok {
			merged[addr] = lowerStartBlock(existing, sb)
			continue
		}
		merged[addr] = sb
	}
	return BlockFilter{
		contractAddresses: merged,
		TriggerEveryBlock: f.TriggerEveryBlock || other.TriggerEveryBlock,
	}
}

// Addresses returns the call-gated contract addresses this filter watches.
func (f BlockFilter) Addresses() []common.Address {
	addrs := make([]common.Address, 0, len(f.contractAddresses))
	for addr := range f.contractAddresses {
		addrs = append(addrs, addr)
	}
	return addrs
}

// IsEmpty reports whether the filter neither triggers every block nor
// watches any call-gated address.
func (f BlockFilter) IsEmpty() bool {
	return !f.TriggerEveryBlock && len(f.contractAddresses) == 0
}

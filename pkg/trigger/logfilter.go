package trigger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainmapper/indexer-core/pkg/ethchain"
)

// logFilterEntry is a single (start_block?, address?, topic0) membership
// tuple. hasStart/hasAddress false means the respective field is unset
// ("any contract emits this event" for address). Plain pointer fields would
// make entries a set by identity rather than by value, since every
// ds.parsedStartBlock() call allocates a fresh *int64 — fields here are
// kept comparable so map-key equality matches value equality.
type logFilterEntry struct {
	startBlock int64
	hasStart   bool
	address    common.Address
	hasAddress bool
	topic0     common.Hash
}

// LogFilter is a set of (start_block?, address?, topic0) tuples used to
// decide whether an event log is relevant to a subgraph revision.
type LogFilter struct {
	entries map[logFilterEntry]struct{}
}

// NewLogFilter builds a LogFilter by flattening every (data source, event
// handler) pair into a tuple. The result is deduplicated via set semantics.
func NewLogFilter(dataSources []DataSource) LogFilter {
	f := LogFilter{entries: map[logFilterEntry]struct{}{}}
	for _, ds := range dataSources {
		startBlock := ds.parsedStartBlock()
		for _, eh := range ds.EventHandlers {
			entry := logFilterEntry{topic0: eventSignatureHash(eh.Event)}
			if startBlock != nil {
				entry.startBlock, entry.hasStart = *startBlock, true
			}
			if ds.Address != nil {
				entry.address, entry.hasAddress = *ds.Address, true
			}
			f.entries[entry] = struct{}{}
		}
	}
	return f
}

// eventSignatureHash returns the 32-byte Keccak-256 hash of a canonical
// event signature string, i.e. topic0 for a non-anonymous event.
func eventSignatureHash(signature string) common.Hash {
	return EventSignatureHash(signature)
}

// EventSignatureHash returns the 32-byte Keccak-256 hash of a canonical
// event signature string (e.g. "Transfer(address,address,uint256)"),
// exported so other packages (runtimehost) that match logs against
// handlers don't duplicate the hashing.
func EventSignatureHash(signature string) common.Hash {
	return common.BytesToHash(keccak256([]byte(signature)))
}

// Matches reports whether log was emitted by a contract/event pair this
// filter declared an interest in, and is active at blockNumber.
//
// Start-block semantics are strict: a tuple with start_block sb is only
// active for blockNumber > sb.
func (f LogFilter) Matches(log *ethchain.Log, blockNumber int64) bool {
	if len(log.Topics) == 0 {
		return false
	}
	sig := log.Topics[0]
	for e := range f.entries {
		if e.topic0 != sig {
			continue
		}
		if e.hasAddress && e.address != log.Address {
			continue
		}
		if e.hasStart && !(e.startBlock < blockNumber) {
			continue
		}
		return true
	}
	return false
}

// CheckBloom is a pre-check against a 2048-bit log bloom filter. It is
// currently permissive and always returns true; a tighter implementation
// could test address/topic0 bits, but must never produce a false negative.
func (f LogFilter) CheckBloom(_ types.Bloom) bool {
	return true
}

// Extend returns the set union of f and other.
func (f LogFilter) Extend(other LogFilter) LogFilter {
	merged := make(map[logFilterEntry]struct{}, len(f.entries)+len(other.entries))
	for e := range f.entries {
		merged[e] = struct{}{}
	}
	for e := range other.entries {
		merged[e] = struct{}{}
	}
	return LogFilter{entries: merged}
}

// IsEmpty reports whether the filter has no entries, i.e. it never matches.
func (f LogFilter) IsEmpty() bool {
	return len(f.entries) == 0
}

// OnlyActivated returns a filter retaining only entries whose start block
// is unset or greater than or equal to startBlock.
func (f LogFilter) OnlyActivated(startBlock int64) LogFilter {
	kept := make(map[logFilterEntry]struct{}, len(f.entries))
	for e := range f.entries {
		if !e.hasStart || e.startBlock >= startBlock {
			kept[e] = struct{}{}
		}
	}
	return LogFilter{entries: kept}
}

// Len returns the number of distinct (start_block, address, topic0) tuples.
func (f LogFilter) Len() int {
	return len(f.entries)
}

// Package trigger compiles data-source declarations into the three
// composable membership tests (log, call, block) that decide whether a
// chain artifact is relevant to a subgraph's mapping.
package trigger

import (
	"github.com/ethereum/go-ethereum/common"
)

// BlockHandlerFilterKind distinguishes an "every block" handler from one
// that only fires for blocks containing a call to the data source's address.
type BlockHandlerFilterKind string

const (
	// BlockHandlerFilterNone means the handler fires for every block.
	BlockHandlerFilterNone BlockHandlerFilterKind = ""
	// BlockHandlerFilterCall means the handler only fires for blocks that
	// contain a call to the data source's contract address.
	BlockHandlerFilterCall BlockHandlerFilterKind = "call"
)

// EventHandler binds an event signature to the guest function that handles it.
type EventHandler struct {
	Event   string `yaml:"event"`
	Handler string `yaml:"handler"`
}

// CallHandler binds a function signature to the guest function that handles it.
type CallHandler struct {
	Function string `yaml:"function"`
	Handler  string `yaml:"handler"`
}

// BlockHandler declares a guest function invoked on block boundaries.
type BlockHandler struct {
	Handler string                 `yaml:"handler"`
	Filter  BlockHandlerFilterKind `yaml:"filter,omitempty"`
}

// DataSource is a declarative unit pairing a contract (address + ABI) with
// a set of event, call, and block handlers.
type DataSource struct {
	Name          string          `yaml:"name"`
	Address       *common.Address `yaml:"address,omitempty"`
	StartBlock    *string         `yaml:"startBlock,omitempty"`
	ABI           string          `yaml:"abi"`
	// Mapping is the filesystem path to the compiled WebAssembly mapping
	// module this data source's handlers are resolved against.
	Mapping       string         `yaml:"mapping"`
	EventHandlers []EventHandler `yaml:"eventHandlers,omitempty"`
	CallHandlers  []CallHandler  `yaml:"callHandlers,omitempty"`
	BlockHandler  *BlockHandler  `yaml:"blockHandler,omitempty"`
}

// parsedStartBlock returns the data source's start block as an *int64,
// nil if unset or unparseable (an unset start block means "always active").
func (ds DataSource) parsedStartBlock() *int64 {
	if ds.StartBlock == nil {
		return nil
	}
	n, err := parseInt64(*ds.StartBlock)
	if err != nil {
		return nil
	}
	return &n
}

package mappingworker

import (
	"github.com/chainmapper/indexer-core/pkg/abicodec"
	"github.com/chainmapper/indexer-core/pkg/entity"
	"github.com/chainmapper/indexer-core/pkg/ethchain"
)

// TriggerKind tags which variant of MappingTrigger is populated.
type TriggerKind int

const (
	// LogTrigger carries a decoded event log.
	LogTrigger TriggerKind = iota
	// CallTrigger carries a decoded contract call.
	CallTrigger
	// BlockTrigger carries a block with no further payload.
	BlockTrigger
)

// MappingTrigger is the tagged union of the three things a mapping handler
// can be invoked with, already ABI-decoded by the caller (runtimehost).
// Params carries a log trigger's decoded event arguments; Inputs/Outputs
// carry a call trigger's decoded arguments and return values separately,
// so a guest can tell which side of the call boundary a parameter came
// from instead of reading one flattened list.
type MappingTrigger struct {
	Kind TriggerKind

	Log     *ethchain.Log
	Call    *ethchain.EthereumCall
	Block   *ethchain.Block
	Params  []abicodec.NamedParam // decoded event arguments, log triggers only
	Inputs  []abicodec.NamedParam // decoded call arguments, call triggers only
	Outputs []abicodec.NamedParam // decoded call return values, call triggers only
}

// Request is one unit of work submitted to a Worker: invoke Handler with
// Trigger and deliver the outcome on Reply exactly once.
type Request struct {
	Handler string
	Trigger MappingTrigger
	Reply   chan Result
}

// Result is what a handler invocation produced, or the error it failed
// with. Operations is nil when Err is non-nil.
type Result struct {
	Operations []entity.Operation
	Err        error
}

package runtimehost

import "errors"

var (
	// ErrNoHandler means no event/call/block handler in the data source
	// matches the trigger being processed.
	ErrNoHandler = errors.New("runtimehost: no handler found for trigger")
	// ErrNoABI means the data source's ABI name does not resolve against
	// any ABI entry supplied at construction time.
	ErrNoABI = errors.New("runtimehost: no ABI entry found for data source contract")
)

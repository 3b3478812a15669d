// Package abicodec decodes event logs and call input/output byte buffers
// into named parameter lists against a contract ABI, and encodes contract
// call arguments the other direction. It covers the payload side of the
// binary conventions of §6: topic0/method-id hashing is handled by package
// trigger, this package only (un)marshals payloads once a handler has
// already been identified.
package abicodec

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/chainmapper/indexer-core/pkg/ethchain"
)

// Sentinel errors distinguishing the DecodeError kinds of §7.
var (
	ErrEventNotInABI    = errors.New("event not found in ABI")
	ErrFunctionNotInABI = errors.New("function not found in ABI")
	ErrArityMismatch    = errors.New("decoded token count does not match declared parameter count")
	ErrInputTooShort    = errors.New("call input is less than 4 bytes")
)

// NamedParam is one decoded argument, paired with the name the ABI gives it.
type NamedParam struct {
	Name  string
	Value interface{}
}

// DecodeLog locates eventSignature in contractABI and decodes log's topics
// and data into a named parameter list.
func DecodeLog(contractABI *abi.ABI, eventSignature string, log *ethchain.Log) ([]NamedParam, error) {
	event, err := eventBySignature(contractABI, eventSignature)
	if err != nil {
		return nil, err
	}

	params := make([]NamedParam, 0, len(event.Inputs))

	// Non-indexed fields live in Data; unpack them positionally.
	nonIndexed := event.Inputs.NonIndexed()
	var dataValues []interface{}
	if len(log.Data) > 0 {
		dataValues, err = nonIndexed.UnpackValues(log.Data)
		if err != nil {
			return nil, fmt.Errorf("unpacking non-indexed event data: %w", err)
		}
	}

	// Indexed fields live in Topics[1:], one 32-byte word each.
	indexedValues := make(map[string]interface{}, len(event.Inputs))
	var indexedArgs abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexedArgs = append(indexedArgs, arg)
		}
	}
	if len(log.Topics) > 1 {
		parsed := map[string]interface{}{}
		if err := abi.ParseTopicsIntoMap(parsed, indexedArgs, log.Topics[1:]); err != nil {
			return nil, fmt.Errorf("unpacking indexed topics: %w", err)
		}
		for k, v := range parsed {
			indexedValues[k] = v
		}
	}

	dataIdx := 0
	for _, arg := range event.Inputs {
		if arg.Indexed {
			params = append(params, NamedParam{Name: arg.Name, Value: indexedValues[arg.Name]})
			continue
		}
		if dataIdx >= len(dataValues) {
			return nil, fmt.Errorf("%w: event %q declares more non-indexed params than data contains",
				ErrArityMismatch, eventSignature)
		}
		params = append(params, NamedParam{Name: arg.Name, Value: dataValues[dataIdx]})
		dataIdx++
	}

	return params, nil
}

// DecodeCallInputs locates functionSignature in contractABI and decodes
// call.Input[4:] (skipping the method id) into named parameters.
func DecodeCallInputs(contractABI *abi.ABI, functionSignature string, call *ethchain.EthereumCall) ([]NamedParam, error) {
	if len(call.Input) < 4 {
		return nil, ErrInputTooShort
	}
	fn, err := functionBySignature(contractABI, functionSignature)
	if err != nil {
		return nil, err
	}
	values, err := fn.Inputs.UnpackValues(call.Input[4:])
	if err != nil {
		return nil, fmt.Errorf("decoding call inputs for %q: %w", functionSignature, err)
	}
	if len(values) != len(fn.Inputs) {
		return nil, fmt.Errorf("%w: function %q expects %d inputs, decoded %d",
			ErrArityMismatch, functionSignature, len(fn.Inputs), len(values))
	}
	return zipNamed(fn.Inputs, values), nil
}

// DecodeCallOutputs locates functionSignature in contractABI and decodes
// call.Output in full against the function's declared output types.
func DecodeCallOutputs(contractABI *abi.ABI, functionSignature string, call *ethchain.EthereumCall) ([]NamedParam, error) {
	fn, err := functionBySignature(contractABI, functionSignature)
	if err != nil {
		return nil, err
	}
	values, err := fn.Outputs.UnpackValues(call.Output)
	if err != nil {
		return nil, fmt.Errorf("decoding call outputs for %q: %w", functionSignature, err)
	}
	if len(values) != len(fn.Outputs) {
		return nil, fmt.Errorf("%w: function %q expects %d outputs, decoded %d",
			ErrArityMismatch, functionSignature, len(fn.Outputs), len(values))
	}
	return zipNamed(fn.Outputs, values), nil
}

// EncodeCallInput ABI-encodes args for functionSignature and prefixes the
// result with the function's 4-byte method id, producing a buffer shaped
// like call.Input. Used by callers (and tests) that need the encode
// direction of the round-trip in §8.
func EncodeCallInput(contractABI *abi.ABI, functionSignature string, args ...interface{}) ([]byte, error) {
	fn, err := functionBySignature(contractABI, functionSignature)
	if err != nil {
		return nil, err
	}
	packed, err := fn.Inputs.Pack(args...)
	if err != nil {
		return nil, fmt.Errorf("encoding call inputs for %q: %w", functionSignature, err)
	}
	encoded := make([]byte, 0, len(fn.ID)+len(packed))
	encoded = append(encoded, fn.ID...)
	encoded = append(encoded, packed...)
	return encoded, nil
}

// eventBySignature locates the event whose canonical signature (e.g.
// "Transfer(address,address,uint256)") matches, not merely its bare name,
// so that overloaded declarations resolve unambiguously.
func eventBySignature(contractABI *abi.ABI, signature string) (abi.Event, error) {
	for _, event := range contractABI.Events {
		if event.Sig == signature {
			return event, nil
		}
	}
	if event, ok := contractABI.Events[bareName(signature)]; ok {
		return event, nil
	}
	return abi.Event{}, fmt.Errorf("%w: %q", ErrEventNotInABI, signature)
}

// functionBySignature locates the function whose canonical signature
// matches, falling back to bare-name lookup for ABIs without overloads.
func functionBySignature(contractABI *abi.ABI, signature string) (abi.Method, error) {
	for _, method := range contractABI.Methods {
		if method.Sig == signature {
			return method, nil
		}
	}
	if fn, ok := contractABI.Methods[bareName(signature)]; ok {
		return fn, nil
	}
	return abi.Method{}, fmt.Errorf("%w: %q", ErrFunctionNotInABI, signature)
}

func bareName(signature string) string {
	for i := 0; i < len(signature); i++ {
		if signature[i] == '(' {
			return signature[:i]
		}
	}
	return signature
}

func zipNamed(args abi.Arguments, values []interface{}) []NamedParam {
	params := make([]NamedParam, len(args))
	for i, arg := range args {
		params[i] = NamedParam{Name: arg.Name, Value: values[i]}
	}
	return params
}

// Package mappingworker hosts a single WebAssembly mapping module on a
// dedicated OS thread and dispatches typed trigger requests to it over a
// bounded channel. A wasmer.Instance is no more portable across goroutines
// than the non-Send wasmi instance it stands in for, so every instance it
// owns is created, called, and torn down on the one goroutine that locked
// itself to an OS thread in New.
package mappingworker

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/iden3/wasmer-go/wasmer"
	"github.com/rs/zerolog/log"

	"github.com/chainmapper/indexer-core/pkg/entity"
)

type state int32

const (
	stateRunning state = iota
	stateCancelled
	statePoisoned
)

// entryPoint names the exported WASM function a trigger kind dispatches to.
var entryPoint = map[TriggerKind]string{
	LogTrigger:   "handle_ethereum_log",
	CallTrigger:  "handle_ethereum_call",
	BlockTrigger: "handle_ethereum_block",
}

// envelope is the length-prefixed JSON blob written into the guest's linear
// memory ahead of every call; the guest is expected to parse it, dispatch
// to Handler internally, and write a result envelope back the same way.
type envelope struct {
	Handler string         `json:"handler"`
	Log     *logPayload    `json:"log,omitempty"`
	Call    *callPayload   `json:"call,omitempty"`
	Params  []paramPayload `json:"params,omitempty"`
}

type logPayload struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    []byte   `json:"data"`
}

type callPayload struct {
	To      string         `json:"to"`
	From    string         `json:"from"`
	Input   []byte         `json:"input"`
	Inputs  []paramPayload `json:"inputs,omitempty"`
	Outputs []paramPayload `json:"outputs,omitempty"`
}

type paramPayload struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

type resultEnvelope struct {
	Operations []entity.RawEntityOperation `json:"operations"`
	Error      string                      `json:"error,omitempty"`
}

// Worker owns one guest module instance and the OS thread it is pinned to.
type Worker struct {
	requests chan Request
	auxTasks chan func()
	cancel   chan struct{}
	done     chan struct{}
}

// New instantiates wasmBytes and starts the dedicated worker goroutine,
// sizing the request and auxiliary task queues to queueSize. It blocks
// until the guest module has been instantiated (or instantiation failed).
func New(wasmBytes []byte, queueSize int) (*Worker, error) {
	w := &Worker{
		requests: make(chan Request, queueSize),
		auxTasks: make(chan func(), queueSize),
		cancel:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	ready := make(chan error, 1)
	go w.run(wasmBytes, ready)
	if err := <-ready; err != nil {
		return nil, err
	}
	return w, nil
}

// Submit enqueues req and blocks only long enough to hand it off; the
// reply arrives asynchronously on req.Reply. Submit is safe to call from
// any goroutine.
func (w *Worker) Submit(req Request) error {
	select {
	case <-w.done:
		return ErrQueueClosed
	default:
	}
	select {
	case w.requests <- req:
		return nil
	case <-w.done:
		return ErrQueueClosed
	}
}

// RunAux schedules fn to run on the worker's dedicated thread between
// request handling, for handler-originated work that must not block the
// submitting goroutine (e.g. an async chain lookup triggered by a guest
// callback).
func (w *Worker) RunAux(fn func()) error {
	select {
	case w.auxTasks <- fn:
		return nil
	case <-w.done:
		return ErrQueueClosed
	}
}

// Stop signals the worker to drop its guest instance and exit, and waits
// until it has. A request already being handled finishes with its own
// result; requests still queued when the worker acts on the signal receive
// ErrReplyDropped.
func (w *Worker) Stop() {
	close(w.cancel)
	<-w.done
}

func (w *Worker) run(wasmBytes []byte, ready chan<- error) {
	runtime.LockOSThread()
	defer close(w.done)

	instance, err := wasmer.NewInstance(wasmBytes)
	if err != nil {
		ready <- fmt.Errorf("instantiating wasm module: %w", err)
		return
	}
	defer instance.Close()
	ready <- nil

	st := stateRunning
	for {
		select {
		case <-w.cancel:
			w.drainQueue(ErrReplyDropped)
			return

		case task := <-w.auxTasks:
			task()

		case req, ok := <-w.requests:
			if !ok {
				return
			}
			if st != stateRunning {
				req.Reply <- Result{Err: stateErr(st)}
				continue
			}
			result, panicked := w.invoke(&instance, req)
			if panicked {
				st = statePoisoned
				log.Error().Str("handler", req.Handler).Msg("mapping handler panicked, worker poisoned")
			}
			req.Reply <- result
		}
	}
}

// invoke calls the guest entry point for req.Trigger.Kind and recovers
// from any panic, poisoning the worker rather than letting it escape onto
// the shared goroutine scheduler.
func (w *Worker) invoke(instance *wasmer.Instance, req Request) (result Result, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			result = Result{Err: fmt.Errorf("mapping handler %q panicked: %v", req.Handler, r)}
		}
	}()

	env := toEnvelope(req)
	payload, err := json.Marshal(env)
	if err != nil {
		return Result{Err: fmt.Errorf("marshaling handler payload: %w", err)}, false
	}

	entry := entryPoint[req.Trigger.Kind]
	fn, ok := instance.Exports[entry]
	if !ok {
		return Result{Err: fmt.Errorf("guest module does not export %q", entry)}, false
	}

	ptr, length, err := writeToGuestMemory(instance, payload)
	if err != nil {
		return Result{Err: err}, false
	}

	raw, err := fn(ptr, length)
	if err != nil {
		return Result{Err: fmt.Errorf("invoking %q: %w", entry, err)}, false
	}

	resultPtr, resultLen := unpackPointer(raw.ToI64())
	resultBytes, err := readFromGuestMemory(instance, resultPtr, resultLen)
	if err != nil {
		return Result{Err: err}, false
	}

	var out resultEnvelope
	if err := json.Unmarshal(resultBytes, &out); err != nil {
		return Result{Err: fmt.Errorf("decoding handler result: %w", err)}, false
	}
	if out.Error != "" {
		return Result{Err: fmt.Errorf("mapping handler %q: %s", req.Handler, out.Error)}, false
	}

	ops := make([]entity.Operation, len(out.Operations))
	for i, op := range out.Operations {
		ops[i] = op
	}
	return Result{Operations: ops}, false
}

func (w *Worker) drainQueue(reason error) {
	for {
		select {
		case req, ok := <-w.requests:
			if !ok {
				return
			}
			req.Reply <- Result{Err: reason}
		default:
			return
		}
	}
}

func stateErr(st state) error {
	if st == statePoisoned {
		return ErrPoisoned
	}
	return ErrReplyDropped
}

func toEnvelope(req Request) envelope {
	env := envelope{Handler: req.Handler}
	switch req.Trigger.Kind {
	case LogTrigger:
		triggerLog := req.Trigger.Log
		topics := make([]string, len(triggerLog.Topics))
		for i, t := range triggerLog.Topics {
			topics[i] = t.Hex()
		}
		env.Log = &logPayload{Address: triggerLog.Address.Hex(), Topics: topics, Data: triggerLog.Data}
	case CallTrigger:
		call := req.Trigger.Call
		env.Call = &callPayload{To: call.To.Hex(), From: call.From.Hex(), Input: call.Input}
		for _, p := range req.Trigger.Inputs {
			env.Call.Inputs = append(env.Call.Inputs, paramPayload{Name: p.Name, Value: p.Value})
		}
		for _, p := range req.Trigger.Outputs {
			env.Call.Outputs = append(env.Call.Outputs, paramPayload{Name: p.Name, Value: p.Value})
		}
	}
	for _, p := range req.Trigger.Params {
		env.Params = append(env.Params, paramPayload{Name: p.Name, Value: p.Value})
	}
	return env
}

// writeToGuestMemory calls the guest's exported "allocate" function and
// copies payload into the returned region of linear memory.
func writeToGuestMemory(instance *wasmer.Instance, payload []byte) (int32, int32, error) {
	allocate, ok := instance.Exports["allocate"]
	if !ok {
		return 0, 0, fmt.Errorf("guest module does not export \"allocate\"")
	}
	result, err := allocate(int32(len(payload)))
	if err != nil {
		return 0, 0, fmt.Errorf("allocating guest memory: %w", err)
	}
	ptr := result.ToI32()
	copy(instance.Memory.Data()[ptr:], payload)
	return ptr, int32(len(payload)), nil
}

func readFromGuestMemory(instance *wasmer.Instance, ptr, length int32) ([]byte, error) {
	mem := instance.Memory.Data()
	if int(ptr)+int(length) > len(mem) {
		return nil, fmt.Errorf("guest returned out-of-bounds result region")
	}
	out := make([]byte, length)
	copy(out, mem[ptr:ptr+length])
	return out, nil
}

// unpackPointer splits a packed (ptr<<32 | len) i64 guest return value, the
// same convention AssemblyScript loaders use for returning a memory slice
// across the host/guest boundary without an extra export.
func unpackPointer(raw int64) (ptr, length int32) {
	packed := uint64(raw)
	return int32(packed >> 32), int32(packed & 0xffffffff)
}

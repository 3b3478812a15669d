package runtimehost

import (
	"context"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/chainmapper/indexer-core/pkg/entity"
	"github.com/chainmapper/indexer-core/pkg/ethchain"
	"github.com/chainmapper/indexer-core/pkg/mappingworker"
	"github.com/chainmapper/indexer-core/pkg/trigger"
)

const hostTestABI = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "from", "type": "address"},
			{"indexed": true, "name": "to", "type": "address"},
			{"indexed": false, "name": "value", "type": "uint256"}
		],
		"name": "Transfer",
		"type": "event"
	},
	{
		"inputs": [{"name": "_value", "type": "uint256"}],
		"name": "set",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

func mustParseHostABI(t *testing.T) *abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(hostTestABI))
	require.NoError(t, err)
	return &parsed
}

type fakeSubmitter struct {
	lastReq mappingworker.Request
	reply   mappingworker.Result
}

func (f *fakeSubmitter) Submit(req mappingworker.Request) error {
	f.lastReq = req
	req.Reply <- f.reply
	return nil
}

func newTestHost(t *testing.T, worker Submitter) (*Host, common.Address) {
	t.Helper()
	addr := common.HexToAddress("0xAAAA000000000000000000000000000000AAAA")
	ds := trigger.DataSource{
		Name:    "transfers",
		Address: &addr,
		ABI:     "ERC20",
		EventHandlers: []trigger.EventHandler{
			{Event: "Transfer(address,address,uint256)", Handler: "handleTransfer"},
		},
		CallHandlers: []trigger.CallHandler{
			{Function: "set(uint256)", Handler: "handleSet"},
		},
		BlockHandler: &trigger.BlockHandler{Handler: "handleBlock"},
	}
	host, err := New(Config{
		DataSource: ds,
		ABIs:       map[string]*abi.ABI{"ERC20": mustParseHostABI(t)},
		Worker:     worker,
	})
	require.NoError(t, err)
	return host, addr
}

func TestNewFailsWhenABIMissing(t *testing.T) {
	t.Parallel()

	_, err := New(Config{
		DataSource: trigger.DataSource{Name: "x", ABI: "Missing"},
		ABIs:       map[string]*abi.ABI{},
	})
	require.ErrorIs(t, err, ErrNoABI)
}

func TestMatchesLogRequiresAddressAndSignature(t *testing.T) {
	t.Parallel()

	host, addr := newTestHost(t, &fakeSubmitter{})
	sig := trigger.EventSignatureHash("Transfer(address,address,uint256)")

	require.True(t, host.MatchesLog(&ethchain.Log{Address: addr, Topics: []common.Hash{sig}}))
	require.False(t, host.MatchesLog(&ethchain.Log{Address: common.HexToAddress("0xBBBB"), Topics: []common.Hash{sig}}))
	require.False(t, host.MatchesLog(&ethchain.Log{Address: addr}))
}

func TestMatchesCallRequiresAddressAndMethodID(t *testing.T) {
	t.Parallel()

	host, addr := newTestHost(t, &fakeSubmitter{})
	id := trigger.MethodID("set(uint256)")

	require.True(t, host.MatchesCall(&ethchain.EthereumCall{To: addr, Input: id[:]}))
	require.False(t, host.MatchesCall(&ethchain.EthereumCall{To: common.HexToAddress("0xBBBB"), Input: id[:]}))
}

func TestMatchesBlockRequiresHandlerAndAddress(t *testing.T) {
	t.Parallel()

	host, addr := newTestHost(t, &fakeSubmitter{})
	require.True(t, host.MatchesBlock(&ethchain.EthereumCall{To: addr}))
	require.False(t, host.MatchesBlock(&ethchain.EthereumCall{To: common.HexToAddress("0xBBBB")}))
}

func TestProcessLogDecodesAndDispatches(t *testing.T) {
	t.Parallel()

	sub := &fakeSubmitter{reply: mappingworker.Result{
		Operations: []entity.Operation{entity.RawEntityOperation{Opcode: entity.OpSet, Entity: "Account", ID: "1"}},
	}}
	host, addr := newTestHost(t, sub)

	event := mustParseHostABI(t).Events["Transfer"]
	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	data, err := event.Inputs.NonIndexed().Pack(common.Big1)
	require.NoError(t, err)

	log := &ethchain.Log{
		Address: addr,
		Topics: []common.Hash{
			event.ID,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: data,
	}

	ops, err := host.ProcessLog(context.Background(), log)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, "handleTransfer", sub.lastReq.Handler)
	require.Equal(t, mappingworker.LogTrigger, sub.lastReq.Trigger.Kind)
	require.Len(t, sub.lastReq.Trigger.Params, 3)
}

func TestProcessLogNoHandlerFails(t *testing.T) {
	t.Parallel()

	host, addr := newTestHost(t, &fakeSubmitter{})
	_, err := host.ProcessLog(context.Background(), &ethchain.Log{Address: addr})
	require.ErrorIs(t, err, ErrNoHandler)
}

func TestProcessCallPropagatesWorkerError(t *testing.T) {
	t.Parallel()

	sub := &fakeSubmitter{reply: mappingworker.Result{Err: mappingworker.ErrReplyDropped}}
	host, addr := newTestHost(t, sub)

	id := trigger.MethodID("set(uint256)")
	packed, err := mustParseHostABI(t).Methods["set"].Inputs.Pack(common.Big1)
	require.NoError(t, err)

	call := &ethchain.EthereumCall{To: addr, Input: append(id[:], packed...)}
	_, err = host.ProcessCall(context.Background(), call)
	require.ErrorIs(t, err, mappingworker.ErrReplyDropped)
}

func TestProcessCallKeepsInputsAndOutputsSeparate(t *testing.T) {
	t.Parallel()

	sub := &fakeSubmitter{reply: mappingworker.Result{
		Operations: []entity.Operation{entity.RawEntityOperation{Opcode: entity.OpSet, Entity: "Account", ID: "1"}},
	}}
	host, addr := newTestHost(t, sub)

	id := trigger.MethodID("set(uint256)")
	packed, err := mustParseHostABI(t).Methods["set"].Inputs.Pack(common.Big1)
	require.NoError(t, err)

	call := &ethchain.EthereumCall{To: addr, Input: append(id[:], packed...)}
	_, err = host.ProcessCall(context.Background(), call)
	require.NoError(t, err)

	require.Equal(t, mappingworker.CallTrigger, sub.lastReq.Trigger.Kind)
	require.Len(t, sub.lastReq.Trigger.Inputs, 1)
	require.Equal(t, "_value", sub.lastReq.Trigger.Inputs[0].Name)
	require.Empty(t, sub.lastReq.Trigger.Outputs, "set(uint256) is void, so no decoded return values")
}

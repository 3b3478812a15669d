package orchestrator

import (
	"context"
	"runtime"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/chainmapper/indexer-core/pkg/abicodec"
	"github.com/chainmapper/indexer-core/pkg/chainfeed"
	"github.com/chainmapper/indexer-core/pkg/entity"
	"github.com/chainmapper/indexer-core/pkg/ethchain"
	"github.com/chainmapper/indexer-core/pkg/mappingworker"
	"github.com/chainmapper/indexer-core/pkg/runtimehost"
	"github.com/chainmapper/indexer-core/pkg/sharedmemory"
	"github.com/chainmapper/indexer-core/pkg/trigger"
)

const orchestratorTestABI = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "from", "type": "address"},
			{"indexed": true, "name": "to", "type": "address"},
			{"indexed": false, "name": "value", "type": "uint256"}
		],
		"name": "Transfer",
		"type": "event"
	}
]`

type stubAdapter struct {
	head  ethchain.BlockPointer
	logs  []ethchain.Log
	calls []ethchain.EthereumCall
}

func (s *stubAdapter) NetIdentifiers(context.Context) (chainfeed.NetIdentifiers, error) {
	return chainfeed.NetIdentifiers{}, nil
}
func (s *stubAdapter) LatestBlock(context.Context) (ethchain.BlockPointer, error) { return s.head, nil }
func (s *stubAdapter) BlockByHash(context.Context, common.Hash) (ethchain.Block, error) {
	return ethchain.Block{}, nil
}
func (s *stubAdapter) BlockParentHash(context.Context, ethchain.BlockPointer) (common.Hash, error) {
	return common.Hash{}, nil
}
func (s *stubAdapter) BlockHashByBlockNumber(context.Context, int64) (common.Hash, error) {
	return common.Hash{}, nil
}
func (s *stubAdapter) IsOnMainChain(context.Context, ethchain.BlockPointer) (bool, error) {
	return true, nil
}
func (s *stubAdapter) LoadFullBlock(_ context.Context, bp ethchain.BlockPointer) (ethchain.Block, error) {
	return ethchain.Block{Number: bp.Number, Hash: bp.Hash}, nil
}
func (s *stubAdapter) CallsInBlock(context.Context, ethchain.BlockPointer) ([]ethchain.EthereumCall, error) {
	return s.calls, nil
}
func (s *stubAdapter) LogsInBlock(context.Context, ethchain.BlockPointer) ([]ethchain.Log, error) {
	return s.logs, nil
}
func (s *stubAdapter) Blocks(_ context.Context, from, to int64) ([]ethchain.BlockPointer, error) {
	return []ethchain.BlockPointer{s.head}, nil
}
func (s *stubAdapter) BlocksWithLogs(context.Context, int64, int64, trigger.LogFilter) ([]ethchain.BlockPointer, error) {
	return []ethchain.BlockPointer{s.head}, nil
}
func (s *stubAdapter) BlocksWithCalls(context.Context, int64, int64, trigger.CallFilter) ([]ethchain.BlockPointer, error) {
	return nil, nil
}
func (s *stubAdapter) ContractCall(context.Context, chainfeed.ContractCallRequest) ([]abicodec.NamedParam, error) {
	return nil, nil
}

var _ chainfeed.Adapter = (*stubAdapter)(nil)

type stubSubmitter struct{ calls int }

func (s *stubSubmitter) Submit(req mappingworker.Request) error {
	s.calls++
	req.Reply <- mappingworker.Result{Operations: []entity.Operation{
		entity.RawEntityOperation{Opcode: entity.OpSet, Entity: "Transfer", ID: "1"},
	}}
	return nil
}

func TestPipelineRunProcessesOneBatchThenStopsOnCancel(t *testing.T) {
	t.Parallel()

	addr := common.HexToAddress("0xAAAA000000000000000000000000000000AAAA")
	parsed, err := abi.JSON(strings.NewReader(orchestratorTestABI))
	require.NoError(t, err)

	ds := trigger.DataSource{
		Name:    "transfers",
		Address: &addr,
		ABI:     "ERC20",
		EventHandlers: []trigger.EventHandler{
			{Event: "Transfer(address,address,uint256)", Handler: "handleTransfer"},
		},
	}

	sub := &stubSubmitter{}
	host, err := runtimehost.New(runtimehost.Config{
		DataSource: ds,
		ABIs:       map[string]*abi.ABI{"ERC20": &parsed},
		Worker:     sub,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	event := parsed.Events["Transfer"]
	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	data, err := event.Inputs.NonIndexed().Pack(common.Big1)
	require.NoError(t, err)

	head := ethchain.BlockPointer{Number: 10, Hash: common.HexToHash("0xBB")}
	adapter := &stubAdapter{
		head: head,
		logs: []ethchain.Log{{
			Address: addr,
			Topics:  []common.Hash{event.ID, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
			Data:    data,
		}},
	}

	memory := sharedmemory.NewSharedMemory()
	pipeline := New("test", adapter, []trigger.DataSource{ds}, []*runtimehost.Host{host}, memory, 100, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// Let Run process the one available batch, then stop it before it
		// polls again (there is nothing new past the stub's fixed head).
		for {
			if _, ok := memory.GetLastSeenBlockNumber("test"); ok {
				break
			}
			runtime.Gosched()
		}
		cancel()
	}()
	_ = pipeline.Run(ctx, 1)

	require.Equal(t, 1, sub.calls)
	last, ok := memory.GetLastSeenBlockNumber("test")
	require.True(t, ok)
	require.Equal(t, int64(10), last)
}

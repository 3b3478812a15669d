package trigger

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/chainmapper/indexer-core/pkg/ethchain"
)

func setterDataSource(addr common.Address, fn string, startBlock *string) DataSource {
	return DataSource{
		Name:       "setter",
		Address:    &addr,
		StartBlock: startBlock,
		ABI:        "Setter",
		CallHandlers: []CallHandler{
			{Function: fn, Handler: "handleSet"},
		},
	}
}

func TestCallFilterMethodIDMatches(t *testing.T) {
	t.Parallel()

	addr := common.HexToAddress("0xAAAA000000000000000000000000000000AAAA")
	f := NewCallFilter([]DataSource{setterDataSource(addr, "set(uint256)", nil)})

	id := methodID("set(uint256)")
	call := &ethchain.EthereumCall{To: addr, Input: append(id[:], make([]byte, 32)...)}
	require.True(t, f.Matches(call))

	otherID := methodID("other(uint256)")
	call2 := &ethchain.EthereumCall{To: addr, Input: append(otherID[:], make([]byte, 32)...)}
	require.False(t, f.Matches(call2))
}

func TestCallFilterNoEntryForAddress(t *testing.T) {
	t.Parallel()

	addr := common.HexToAddress("0xAAAA")
	f := NewCallFilter([]DataSource{setterDataSource(addr, "set(uint256)", nil)})

	call := &ethchain.EthereumCall{To: common.HexToAddress("0xBBBB"), Input: make([]byte, 36)}
	require.False(t, f.Matches(call))
}

func TestCallFilterEmptyMethodSetIsWildcard(t *testing.T) {
	t.Parallel()

	addr := common.HexToAddress("0xAAAA")
	f := FromBlockFilter(BlockFilter{contractAddresses: map[common.Address]*int64{addr: nil}})

	call := &ethchain.EthereumCall{To: addr, Input: []byte{0xde, 0xad, 0xbe, 0xef}}
	require.True(t, f.Matches(call))
}

func TestCallFilterStartBlockEnforced(t *testing.T) {
	t.Parallel()

	addr := common.HexToAddress("0xAAAA")
	sb := "100"
	f := NewCallFilter([]DataSource{setterDataSource(addr, "set(uint256)", &sb)})

	id := methodID("set(uint256)")
	call := &ethchain.EthereumCall{To: addr, BlockNumber: 50, Input: id[:]}
	require.False(t, f.Matches(call), "call before start_block must not match")

	call.BlockNumber = 200
	require.True(t, f.Matches(call))
}

func TestCallFilterExtendMergesMethodIDsAndKeepsSmallerStartBlock(t *testing.T) {
	t.Parallel()

	addr := common.HexToAddress("0xAAAA")
	sbLow := "10"
	sbHigh := "500"
	a := NewCallFilter([]DataSource{setterDataSource(addr, "set(uint256)", &sbHigh)})
	b := NewCallFilter([]DataSource{setterDataSource(addr, "reset()", &sbLow)})

	merged := a.Extend(b)

	setID := methodID("set(uint256)")
	resetID := methodID("reset()")

	setCall := &ethchain.EthereumCall{To: addr, BlockNumber: 20, Input: setID[:]}
	require.True(t, merged.Matches(setCall), "merged filter keeps the more inclusive (smaller) start block")

	resetCall := &ethchain.EthereumCall{To: addr, BlockNumber: 20, Input: resetID[:]}
	require.True(t, merged.Matches(resetCall))
}

func TestCallFilterIsEmpty(t *testing.T) {
	t.Parallel()

	require.True(t, CallFilter{}.IsEmpty())
	f := NewCallFilter([]DataSource{setterDataSource(common.HexToAddress("0xAAAA"), "set(uint256)", nil)})
	require.False(t, f.IsEmpty())
}

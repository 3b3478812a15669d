package trigger

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestBlockFilterEveryBlock(t *testing.T) {
	t.Parallel()

	addr := common.HexToAddress("0xAAAA")
	ds := DataSource{
		Name:         "everyBlock",
		Address:      &addr,
		BlockHandler: &BlockHandler{Handler: "handleBlock"},
	}
	f := NewBlockFilter([]DataSource{ds})
	require.True(t, f.TriggerEveryBlock)
	require.Empty(t, f.Addresses())
}

func TestBlockFilterCallGated(t *testing.T) {
	t.Parallel()

	addr := common.HexToAddress("0xAAAA")
	ds := DataSource{
		Name:         "callGated",
		Address:      &addr,
		BlockHandler: &BlockHandler{Handler: "handleBlock", Filter: BlockHandlerFilterCall},
	}
	f := NewBlockFilter([]DataSource{ds})
	require.False(t, f.TriggerEveryBlock)
	require.Equal(t, []common.Address{addr}, f.Addresses())
}

func TestBlockFilterExtendOrsFlagsAndUnionsAddresses(t *testing.T) {
	t.Parallel()

	addr1 := common.HexToAddress("0x1111")
	addr2 := common.HexToAddress("0x2222")
	a := NewBlockFilter([]DataSource{{
		Name: "a", Address: &addr1,
		BlockHandler: &BlockHandler{Handler: "h", Filter: BlockHandlerFilterCall},
	}})
	b := NewBlockFilter([]DataSource{{
		Name: "b", Address: &addr2,
		BlockHandler: &BlockHandler{Handler: "h"},
	}})

	merged := a.Extend(b)
	require.True(t, merged.TriggerEveryBlock)
	require.ElementsMatch(t, []common.Address{addr1, addr2}, merged.Addresses())
}

func TestBlockFilterIsEmpty(t *testing.T) {
	t.Parallel()

	require.True(t, BlockFilter{}.IsEmpty())
	f := NewBlockFilter([]DataSource{{
		Name:         "x",
		Address:      addrPtr(common.HexToAddress("0xAAAA")),
		BlockHandler: &BlockHandler{Handler: "h"},
	}})
	require.False(t, f.IsEmpty())
}

func addrPtr(a common.Address) *common.Address { return &a }

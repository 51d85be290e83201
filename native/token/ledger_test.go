package token

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var (
	tokenAddr = common.HexToAddress("0x0a")
	alice     = common.HexToAddress("0x01")
	bob       = common.HexToAddress("0x02")
	spender   = common.HexToAddress("0x03")
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func TestMintBurnTransfer(t *testing.T) {
	l := NewLedger(tokenAddr, "USDC", 6)
	require.Equal(t, "USDC", l.Symbol())
	require.Equal(t, uint8(6), l.Decimals())

	require.NoError(t, l.Mint(alice, u(100)))
	require.ErrorIs(t, l.Mint(common.Address{}, u(1)), ErrZeroAddress)
	require.NoError(t, l.Transfer(alice, bob, u(40)))
	require.ErrorIs(t, l.Transfer(alice, bob, u(61)), ErrInsufficientBalance)
	require.ErrorIs(t, l.Transfer(alice, common.Address{}, u(1)), ErrZeroAddress)
	require.NoError(t, l.Burn(bob, u(10)))
	require.ErrorIs(t, l.Burn(bob, u(31)), ErrInsufficientBalance)

	require.Equal(t, u(60), l.BalanceOf(alice))
	require.Equal(t, u(30), l.BalanceOf(bob))
	require.Equal(t, u(90), l.TotalSupply())

	require.ErrorIs(t, l.Mint(alice, new(uint256.Int).SetAllOne()), ErrSupplyOverflow)
	require.Equal(t, u(90), l.TotalSupply())
}

func TestTransferFromAllowance(t *testing.T) {
	l := NewLedger(tokenAddr, "USDC", 6)
	require.NoError(t, l.Mint(alice, u(100)))

	err := l.TransferFrom(spender, alice, bob, u(1))
	require.ErrorIs(t, err, ErrInsufficientAllowance)

	require.NoError(t, l.Approve(alice, spender, u(50)))
	require.NoError(t, l.TransferFrom(spender, alice, bob, u(20)))
	require.Equal(t, u(30), l.Allowance(alice, spender))
	require.ErrorIs(t, l.TransferFrom(spender, alice, bob, u(31)), ErrInsufficientAllowance)

	// An owner moving its own tokens spends no allowance.
	require.NoError(t, l.TransferFrom(alice, alice, bob, u(10)))
	require.Equal(t, u(30), l.Allowance(alice, spender))

	require.NoError(t, l.Approve(alice, spender, new(uint256.Int).SetAllOne()))
	require.NoError(t, l.TransferFrom(spender, alice, bob, u(5)))
	require.True(t, l.Allowance(alice, spender).Eq(new(uint256.Int).SetAllOne()))

	require.NoError(t, l.Approve(alice, spender, u(0)))
	require.True(t, l.Allowance(alice, spender).IsZero())
	require.ErrorIs(t, l.Approve(alice, common.Address{}, u(1)), ErrZeroAddress)

	require.NoError(t, l.TransferFrom(bob, alice, spender, u(0)))
	require.Equal(t, u(65), l.BalanceOf(alice))
	require.Equal(t, u(35), l.BalanceOf(bob))
}

func TestSnapshotRevert(t *testing.T) {
	l := NewLedger(tokenAddr, "USDC", 6)
	require.NoError(t, l.Mint(alice, u(100)))
	require.NoError(t, l.Approve(alice, spender, u(10)))

	id := l.Snapshot()
	require.NoError(t, l.Transfer(alice, bob, u(70)))
	require.NoError(t, l.Approve(alice, spender, u(99)))
	require.NoError(t, l.Mint(bob, u(5)))

	l.RevertToSnapshot(id)
	require.Equal(t, u(100), l.BalanceOf(alice))
	require.True(t, l.BalanceOf(bob).IsZero())
	require.Equal(t, u(10), l.Allowance(alice, spender))
	require.Equal(t, u(100), l.TotalSupply())

	id = l.Snapshot()
	require.NoError(t, l.Transfer(alice, bob, u(1)))
	l.DiscardSnapshot(id)
	// Discarded snapshots can no longer be reverted to.
	l.RevertToSnapshot(id)
	require.Equal(t, u(1), l.BalanceOf(bob))
}

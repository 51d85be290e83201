package vault

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Asset is the underlying token the vault accounts in. Transfers move value
// between addresses; TransferFrom spends an allowance granted to spender.
type Asset interface {
	Address() common.Address
	BalanceOf(owner common.Address) *uint256.Int
	Allowance(owner, spender common.Address) *uint256.Int
	Transfer(from, to common.Address, amount *uint256.Int) error
	Approve(owner, spender common.Address, amount *uint256.Int) error
	TransferFrom(spender, from, to common.Address, amount *uint256.Int) error
}

// Strategy is an ERC-4626 style yield source the vault lends to. Calls that
// move value carry the caller explicitly.
type Strategy interface {
	Address() common.Address
	Asset() common.Address
	BalanceOf(owner common.Address) *uint256.Int
	ConvertToAssets(shares *uint256.Int) *uint256.Int
	ConvertToShares(assets *uint256.Int) *uint256.Int
	MaxDeposit(receiver common.Address) *uint256.Int
	MaxRedeem(owner common.Address) *uint256.Int
	PreviewWithdraw(assets *uint256.Int) *uint256.Int
	// Deposit pulls assets from caller using the allowance caller granted
	// the strategy and mints shares to receiver.
	Deposit(caller common.Address, assets *uint256.Int, receiver common.Address) (*uint256.Int, error)
	// Redeem burns owner's shares and sends the assets to receiver.
	Redeem(caller common.Address, shares *uint256.Int, receiver, owner common.Address) (*uint256.Int, error)
	// Transfer moves strategy shares between holders.
	Transfer(from, to common.Address, shares *uint256.Int) error
}

// Accountant is the fee policy consulted on every report.
type Accountant interface {
	Address() common.Address
	Report(strategy common.Address, gain, loss *uint256.Int) (totalFees, totalRefunds *uint256.Int, err error)
}

// ProtocolFeeSource returns the protocol fee configuration for a vault.
type ProtocolFeeSource interface {
	ProtocolFeeConfig(vault common.Address) (feeBps uint16, recipient common.Address)
}

// ProtocolFeeFunc adapts a function to ProtocolFeeSource.
type ProtocolFeeFunc func(vault common.Address) (uint16, common.Address)

// ProtocolFeeConfig implements ProtocolFeeSource.
func (f ProtocolFeeFunc) ProtocolFeeConfig(vault common.Address) (uint16, common.Address) {
	return f(vault)
}

// DepositLimitModule overrides the numeric deposit limit when configured.
type DepositLimitModule interface {
	Address() common.Address
	AvailableDepositLimit(receiver common.Address) *uint256.Int
}

// WithdrawLimitModule caps withdrawals when configured.
type WithdrawLimitModule interface {
	Address() common.Address
	AvailableWithdrawLimit(owner common.Address, maxLossBps uint64, strategies []common.Address) *uint256.Int
}

package events

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	TypeVaultDeposit                    = "vault.deposit"
	TypeVaultWithdraw                   = "vault.withdraw"
	TypeVaultTransfer                   = "vault.transfer"
	TypeVaultStrategyChanged            = "vault.strategy_changed"
	TypeVaultStrategyReported           = "vault.strategy_reported"
	TypeVaultDebtUpdated                = "vault.debt_updated"
	TypeVaultDebtPurchased              = "vault.debt_purchased"
	TypeVaultUpdatedMaxDebt             = "vault.updated_max_debt"
	TypeVaultUpdatedAccountant          = "vault.updated_accountant"
	TypeVaultUpdatedDefaultQueue        = "vault.updated_default_queue"
	TypeVaultUpdatedUseDefaultQueue     = "vault.updated_use_default_queue"
	TypeVaultUpdatedDepositLimit        = "vault.updated_deposit_limit"
	TypeVaultUpdatedDepositLimitModule  = "vault.updated_deposit_limit_module"
	TypeVaultUpdatedWithdrawLimitModule = "vault.updated_withdraw_limit_module"
	TypeVaultUpdatedMinimumTotalIdle    = "vault.updated_minimum_total_idle"
	TypeVaultUpdatedProfitMaxUnlockTime = "vault.updated_profit_max_unlock_time"
	TypeVaultShutdown                   = "vault.shutdown"
)

// VaultDeposit is emitted when assets enter the vault for shares.
type VaultDeposit struct {
	Vault  common.Address
	Sender common.Address
	Owner  common.Address
	Assets *uint256.Int
	Shares *uint256.Int
}

func (VaultDeposit) EventType() string { return TypeVaultDeposit }

func (e VaultDeposit) Event() *Record {
	return vaultEvent(TypeVaultDeposit, e.Vault, map[string]string{
		"sender": addressString(e.Sender),
		"owner":  addressString(e.Owner),
		"assets": formatUint256(e.Assets),
		"shares": formatUint256(e.Shares),
	})
}

// VaultWithdraw is emitted when shares are burned for assets.
type VaultWithdraw struct {
	Vault    common.Address
	Sender   common.Address
	Receiver common.Address
	Owner    common.Address
	Assets   *uint256.Int
	Shares   *uint256.Int
}

func (VaultWithdraw) EventType() string { return TypeVaultWithdraw }

func (e VaultWithdraw) Event() *Record {
	return vaultEvent(TypeVaultWithdraw, e.Vault, map[string]string{
		"sender":   addressString(e.Sender),
		"receiver": addressString(e.Receiver),
		"owner":    addressString(e.Owner),
		"assets":   formatUint256(e.Assets),
		"shares":   formatUint256(e.Shares),
	})
}

// VaultTransfer is emitted when shares move between holders.
type VaultTransfer struct {
	Vault  common.Address
	From   common.Address
	To     common.Address
	Shares *uint256.Int
}

func (VaultTransfer) EventType() string { return TypeVaultTransfer }

func (e VaultTransfer) Event() *Record {
	return vaultEvent(TypeVaultTransfer, e.Vault, map[string]string{
		"from":   addressString(e.From),
		"to":     addressString(e.To),
		"shares": formatUint256(e.Shares),
	})
}

// VaultStrategyChanged records a strategy being added or revoked.
type VaultStrategyChanged struct {
	Vault      common.Address
	Strategy   common.Address
	ChangeType string
}

func (VaultStrategyChanged) EventType() string { return TypeVaultStrategyChanged }

func (e VaultStrategyChanged) Event() *Record {
	return vaultEvent(TypeVaultStrategyChanged, e.Vault, map[string]string{
		"strategy":   addressString(e.Strategy),
		"changeType": strings.ToLower(strings.TrimSpace(e.ChangeType)),
	})
}

// VaultStrategyReported carries the outcome of a processed report.
// CurrentDebt is the strategy debt before the report was applied.
type VaultStrategyReported struct {
	Vault        common.Address
	Strategy     common.Address
	Gain         *uint256.Int
	Loss         *uint256.Int
	CurrentDebt  *uint256.Int
	ProtocolFees *uint256.Int
	TotalFees    *uint256.Int
	TotalRefunds *uint256.Int
}

func (VaultStrategyReported) EventType() string { return TypeVaultStrategyReported }

func (e VaultStrategyReported) Event() *Record {
	return vaultEvent(TypeVaultStrategyReported, e.Vault, map[string]string{
		"strategy":     addressString(e.Strategy),
		"gain":         formatUint256(e.Gain),
		"loss":         formatUint256(e.Loss),
		"currentDebt":  formatUint256(e.CurrentDebt),
		"protocolFees": formatUint256(e.ProtocolFees),
		"totalFees":    formatUint256(e.TotalFees),
		"totalRefunds": formatUint256(e.TotalRefunds),
	})
}

// VaultDebtUpdated records a change of a strategy's recorded debt.
type VaultDebtUpdated struct {
	Vault       common.Address
	Strategy    common.Address
	CurrentDebt *uint256.Int
	NewDebt     *uint256.Int
}

func (VaultDebtUpdated) EventType() string { return TypeVaultDebtUpdated }

func (e VaultDebtUpdated) Event() *Record {
	return vaultEvent(TypeVaultDebtUpdated, e.Vault, map[string]string{
		"strategy":    addressString(e.Strategy),
		"currentDebt": formatUint256(e.CurrentDebt),
		"newDebt":     formatUint256(e.NewDebt),
	})
}

// VaultDebtPurchased records debt bought out of a strategy.
type VaultDebtPurchased struct {
	Vault    common.Address
	Strategy common.Address
	Amount   *uint256.Int
}

func (VaultDebtPurchased) EventType() string { return TypeVaultDebtPurchased }

func (e VaultDebtPurchased) Event() *Record {
	return vaultEvent(TypeVaultDebtPurchased, e.Vault, map[string]string{
		"strategy": addressString(e.Strategy),
		"amount":   formatUint256(e.Amount),
	})
}

// VaultUpdatedMaxDebt records a new max debt for a strategy.
type VaultUpdatedMaxDebt struct {
	Vault    common.Address
	Strategy common.Address
	MaxDebt  *uint256.Int
}

func (VaultUpdatedMaxDebt) EventType() string { return TypeVaultUpdatedMaxDebt }

func (e VaultUpdatedMaxDebt) Event() *Record {
	return vaultEvent(TypeVaultUpdatedMaxDebt, e.Vault, map[string]string{
		"strategy": addressString(e.Strategy),
		"maxDebt":  formatUint256(e.MaxDebt),
	})
}

// VaultUpdatedAccountant records a new fee policy address.
type VaultUpdatedAccountant struct {
	Vault      common.Address
	Accountant common.Address
}

func (VaultUpdatedAccountant) EventType() string { return TypeVaultUpdatedAccountant }

func (e VaultUpdatedAccountant) Event() *Record {
	return vaultEvent(TypeVaultUpdatedAccountant, e.Vault, map[string]string{
		"accountant": addressString(e.Accountant),
	})
}

// VaultUpdatedDefaultQueue records a new default withdrawal queue.
type VaultUpdatedDefaultQueue struct {
	Vault common.Address
	Queue []common.Address
}

func (VaultUpdatedDefaultQueue) EventType() string { return TypeVaultUpdatedDefaultQueue }

func (e VaultUpdatedDefaultQueue) Event() *Record {
	queue := make([]string, 0, len(e.Queue))
	for _, addr := range e.Queue {
		queue = append(queue, addressString(addr))
	}
	return vaultEvent(TypeVaultUpdatedDefaultQueue, e.Vault, map[string]string{
		"queue": strings.Join(queue, ","),
	})
}

// VaultUpdatedUseDefaultQueue records whether caller queues are ignored.
type VaultUpdatedUseDefaultQueue struct {
	Vault           common.Address
	UseDefaultQueue bool
}

func (VaultUpdatedUseDefaultQueue) EventType() string { return TypeVaultUpdatedUseDefaultQueue }

func (e VaultUpdatedUseDefaultQueue) Event() *Record {
	return vaultEvent(TypeVaultUpdatedUseDefaultQueue, e.Vault, map[string]string{
		"useDefaultQueue": strconv.FormatBool(e.UseDefaultQueue),
	})
}

type VaultUpdatedDepositLimit struct {
	Vault        common.Address
	DepositLimit *uint256.Int
}

func (VaultUpdatedDepositLimit) EventType() string { return TypeVaultUpdatedDepositLimit }

func (e VaultUpdatedDepositLimit) Event() *Record {
	return vaultEvent(TypeVaultUpdatedDepositLimit, e.Vault, map[string]string{
		"depositLimit": formatUint256(e.DepositLimit),
	})
}

type VaultUpdatedDepositLimitModule struct {
	Vault  common.Address
	Module common.Address
}

func (VaultUpdatedDepositLimitModule) EventType() string { return TypeVaultUpdatedDepositLimitModule }

func (e VaultUpdatedDepositLimitModule) Event() *Record {
	return vaultEvent(TypeVaultUpdatedDepositLimitModule, e.Vault, map[string]string{
		"module": addressString(e.Module),
	})
}

type VaultUpdatedWithdrawLimitModule struct {
	Vault  common.Address
	Module common.Address
}

func (VaultUpdatedWithdrawLimitModule) EventType() string { return TypeVaultUpdatedWithdrawLimitModule }

func (e VaultUpdatedWithdrawLimitModule) Event() *Record {
	return vaultEvent(TypeVaultUpdatedWithdrawLimitModule, e.Vault, map[string]string{
		"module": addressString(e.Module),
	})
}

type VaultUpdatedMinimumTotalIdle struct {
	Vault            common.Address
	MinimumTotalIdle *uint256.Int
}

func (VaultUpdatedMinimumTotalIdle) EventType() string { return TypeVaultUpdatedMinimumTotalIdle }

func (e VaultUpdatedMinimumTotalIdle) Event() *Record {
	return vaultEvent(TypeVaultUpdatedMinimumTotalIdle, e.Vault, map[string]string{
		"minimumTotalIdle": formatUint256(e.MinimumTotalIdle),
	})
}

type VaultUpdatedProfitMaxUnlockTime struct {
	Vault               common.Address
	ProfitMaxUnlockTime uint64
}

func (VaultUpdatedProfitMaxUnlockTime) EventType() string { return TypeVaultUpdatedProfitMaxUnlockTime }

func (e VaultUpdatedProfitMaxUnlockTime) Event() *Record {
	return vaultEvent(TypeVaultUpdatedProfitMaxUnlockTime, e.Vault, map[string]string{
		"profitMaxUnlockTime": strconv.FormatUint(e.ProfitMaxUnlockTime, 10),
	})
}

// VaultShutdown marks the one-way transition into shutdown.
type VaultShutdown struct {
	Vault common.Address
}

func (VaultShutdown) EventType() string { return TypeVaultShutdown }

func (e VaultShutdown) Event() *Record {
	return vaultEvent(TypeVaultShutdown, e.Vault, map[string]string{})
}

func vaultEvent(kind string, vault common.Address, attrs map[string]string) *Record {
	attrs["vault"] = addressString(vault)
	return &Record{Type: kind, Attributes: attrs}
}

func addressString(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func formatUint256(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

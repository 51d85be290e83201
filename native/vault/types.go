package vault

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ChangeType identifies the lifecycle transition reported by StrategyChanged.
type ChangeType uint8

const (
	StrategyAdded   ChangeType = 1
	StrategyRevoked ChangeType = 2
)

func (c ChangeType) String() string {
	switch c {
	case StrategyAdded:
		return "added"
	case StrategyRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// StrategyParams is the vault's debt ledger entry for a single strategy.
type StrategyParams struct {
	// Activation is the timestamp the strategy was added. Zero means the
	// strategy is not active.
	Activation uint64
	// LastReport is the timestamp of the most recent processed report.
	LastReport uint64
	// CurrentDebt is the amount of asset the vault has allocated to the
	// strategy as of the last debt update or report.
	CurrentDebt *uint256.Int
	// MaxDebt caps CurrentDebt on debt increases.
	MaxDebt *uint256.Int
}

// Active reports whether the entry belongs to a registered strategy.
func (p *StrategyParams) Active() bool { return p != nil && p.Activation != 0 }

// Clone returns a deep copy of the strategy parameters.
func (p *StrategyParams) Clone() *StrategyParams {
	if p == nil {
		return nil
	}
	return &StrategyParams{
		Activation:  p.Activation,
		LastReport:  p.LastReport,
		CurrentDebt: cloneOrZero(p.CurrentDebt),
		MaxDebt:     cloneOrZero(p.MaxDebt),
	}
}

// Ledger is the complete accounting state of one vault. Engine operations
// mutate a clone and persist it only when the whole call succeeds.
type Ledger struct {
	Asset    common.Address
	Decimals uint8

	TotalIdle   *uint256.Int
	TotalDebt   *uint256.Int
	TotalSupply *uint256.Int

	MinimumTotalIdle    *uint256.Int
	DepositLimit        *uint256.Int
	DepositLimitModule  common.Address
	WithdrawLimitModule common.Address
	Accountant          common.Address

	DefaultQueue    []common.Address
	UseDefaultQueue bool
	Shutdown        bool

	ProfitMaxUnlockTime  uint64
	FullProfitUnlockDate uint64
	ProfitUnlockingRate  *uint256.Int
	LastProfitUpdate     uint64

	Strategies map[common.Address]*StrategyParams
	Balances   map[common.Address]*uint256.Int
	Allowances map[common.Address]map[common.Address]*uint256.Int
}

// NewLedger returns an empty ledger for the supplied asset. Deposits are
// unlimited until a limit is configured.
func NewLedger(asset common.Address, decimals uint8, profitMaxUnlockTime uint64) *Ledger {
	l := &Ledger{
		Asset:               asset,
		Decimals:            decimals,
		DepositLimit:        MaxUint256(),
		ProfitMaxUnlockTime: profitMaxUnlockTime,
	}
	l.EnsureDefaults()
	return l
}

// EnsureDefaults populates nil amounts and maps so decoded ledgers are safe
// to operate on.
func (l *Ledger) EnsureDefaults() {
	if l == nil {
		return
	}
	for _, field := range []**uint256.Int{
		&l.TotalIdle, &l.TotalDebt, &l.TotalSupply, &l.MinimumTotalIdle,
		&l.DepositLimit, &l.ProfitUnlockingRate,
	} {
		if *field == nil {
			*field = new(uint256.Int)
		}
	}
	if l.Strategies == nil {
		l.Strategies = make(map[common.Address]*StrategyParams)
	}
	if l.Balances == nil {
		l.Balances = make(map[common.Address]*uint256.Int)
	}
	if l.Allowances == nil {
		l.Allowances = make(map[common.Address]map[common.Address]*uint256.Int)
	}
	for _, params := range l.Strategies {
		if params.CurrentDebt == nil {
			params.CurrentDebt = new(uint256.Int)
		}
		if params.MaxDebt == nil {
			params.MaxDebt = new(uint256.Int)
		}
	}
}

// Clone returns a deep copy of the ledger.
func (l *Ledger) Clone() *Ledger {
	if l == nil {
		return nil
	}
	clone := &Ledger{
		Asset:                l.Asset,
		Decimals:             l.Decimals,
		TotalIdle:            cloneOrZero(l.TotalIdle),
		TotalDebt:            cloneOrZero(l.TotalDebt),
		TotalSupply:          cloneOrZero(l.TotalSupply),
		MinimumTotalIdle:     cloneOrZero(l.MinimumTotalIdle),
		DepositLimit:         cloneOrZero(l.DepositLimit),
		DepositLimitModule:   l.DepositLimitModule,
		WithdrawLimitModule:  l.WithdrawLimitModule,
		Accountant:           l.Accountant,
		DefaultQueue:         append([]common.Address(nil), l.DefaultQueue...),
		UseDefaultQueue:      l.UseDefaultQueue,
		Shutdown:             l.Shutdown,
		ProfitMaxUnlockTime:  l.ProfitMaxUnlockTime,
		FullProfitUnlockDate: l.FullProfitUnlockDate,
		ProfitUnlockingRate:  cloneOrZero(l.ProfitUnlockingRate),
		LastProfitUpdate:     l.LastProfitUpdate,
		Strategies:           make(map[common.Address]*StrategyParams, len(l.Strategies)),
		Balances:             make(map[common.Address]*uint256.Int, len(l.Balances)),
		Allowances:           make(map[common.Address]map[common.Address]*uint256.Int, len(l.Allowances)),
	}
	for addr, params := range l.Strategies {
		clone.Strategies[addr] = params.Clone()
	}
	for addr, balance := range l.Balances {
		clone.Balances[addr] = cloneOrZero(balance)
	}
	for owner, spenders := range l.Allowances {
		inner := make(map[common.Address]*uint256.Int, len(spenders))
		for spender, amount := range spenders {
			inner[spender] = cloneOrZero(amount)
		}
		clone.Allowances[owner] = inner
	}
	return clone
}

// TotalAssets is the recorded value of the vault: idle plus deployed debt.
func (l *Ledger) TotalAssets() *uint256.Int {
	return new(uint256.Int).Add(orZero(l.TotalIdle), orZero(l.TotalDebt))
}

// BalanceOf returns the minted share balance of owner.
func (l *Ledger) BalanceOf(owner common.Address) *uint256.Int {
	return cloneOrZero(l.Balances[owner])
}

// Allowance returns the share allowance owner granted to spender.
func (l *Ledger) Allowance(owner, spender common.Address) *uint256.Int {
	return cloneOrZero(l.Allowances[owner][spender])
}

// FeeAssessment is the fee outcome of a single report.
type FeeAssessment struct {
	TotalFees            *uint256.Int
	TotalRefunds         *uint256.Int
	ProtocolFees         *uint256.Int
	ProtocolFeeRecipient common.Address
}

// ShareManagement lists the share movements a report applies.
type ShareManagement struct {
	// SharesToBurn is loss plus fees converted to shares, rounded up.
	SharesToBurn *uint256.Int
	// AccountantFeesShares is minted to the accountant, rounded down.
	AccountantFeesShares *uint256.Int
	// ProtocolFeesShares is minted to the protocol fee recipient, rounded down.
	ProtocolFeesShares *uint256.Int
	// SharesToLock is gain plus refunds converted to shares and minted to the
	// vault before burning.
	SharesToLock *uint256.Int
}

// ReportInfo summarises a processed strategy report.
type ReportInfo struct {
	Gain         *uint256.Int
	Loss         *uint256.Int
	ProtocolFees *uint256.Int
	TotalFees    *uint256.Int
	// CurrentDebt is the strategy debt recorded after the report.
	CurrentDebt *uint256.Int
	Fees        FeeAssessment
	Shares      ShareManagement
}

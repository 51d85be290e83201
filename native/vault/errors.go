package vault

import "errors"

// Category groups vault errors by the kind of invariant a call violated.
type Category uint8

const (
	CategoryUnknown Category = iota
	// CategoryLimit covers caller supplied values above a configured or
	// computed ceiling.
	CategoryLimit
	// CategoryState covers no-op calls and targets in the wrong lifecycle state.
	CategoryState
	// CategoryInsufficiency covers requests current liquidity cannot satisfy.
	CategoryInsufficiency
	// CategoryIntegrity covers calls that would corrupt loss or fee accounting.
	CategoryIntegrity
	// CategoryAccess covers missing capabilities.
	CategoryAccess
)

func (c Category) String() string {
	switch c {
	case CategoryLimit:
		return "limit"
	case CategoryState:
		return "state"
	case CategoryInsufficiency:
		return "insufficiency"
	case CategoryIntegrity:
		return "integrity"
	case CategoryAccess:
		return "access"
	default:
		return "unknown"
	}
}

var (
	ErrExceedLimit           = errors.New("vault: exceed limit")
	ErrDebtHigherThanMaxDebt = errors.New("vault: target debt higher than max debt")
	ErrMaxLoss               = errors.New("vault: max loss above 100%")
	ErrTooMuchLoss           = errors.New("vault: too much loss")
	ErrQueueTooLong          = errors.New("vault: default queue too long")
	ErrProfitUnlockTooLong   = errors.New("vault: profit unlock time too long")

	ErrDebtDidntChange       = errors.New("vault: debt did not change")
	ErrStrategyHasDebt       = errors.New("vault: strategy has debt")
	ErrStrategyAlreadyActive = errors.New("vault: strategy already active")
	ErrInactiveStrategy      = errors.New("vault: inactive strategy")
	ErrInactiveVault         = errors.New("vault: vault is shut down")
	ErrInvalidStrategy       = errors.New("vault: invalid strategy")
	ErrInvalidReceiver       = errors.New("vault: invalid receiver")
	ErrUnboundStrategy       = errors.New("vault: strategy implementation not bound")
	ErrUnboundCollaborator   = errors.New("vault: recorded collaborator not bound")

	ErrInsufficientFunds     = errors.New("vault: insufficient idle funds")
	ErrInsufficientAssets    = errors.New("vault: insufficient assets")
	ErrInsufficientShares    = errors.New("vault: insufficient shares")
	ErrInsufficientAllowance = errors.New("vault: insufficient allowance")
	ErrZeroValue             = errors.New("vault: zero value")

	ErrStrategyHasUnrealisedLosses = errors.New("vault: strategy has unrealised losses")
	ErrFeeExceedsMax               = errors.New("vault: protocol fee exceeds max")
	ErrFeeExceedsAssets            = errors.New("vault: fees exceed reported assets")
	ErrMissingFeeRecipient         = errors.New("vault: protocol fee has no recipient")
	ErrOverflow                    = errors.New("vault: arithmetic overflow")

	ErrUnauthorized   = errors.New("vault: unauthorized")
	ErrNilState       = errors.New("vault: state not configured")
	ErrNotInitialised = errors.New("vault: ledger not initialised")
)

var categories = map[error]Category{
	ErrExceedLimit:           CategoryLimit,
	ErrDebtHigherThanMaxDebt: CategoryLimit,
	ErrMaxLoss:               CategoryLimit,
	ErrTooMuchLoss:           CategoryLimit,
	ErrQueueTooLong:          CategoryLimit,
	ErrProfitUnlockTooLong:   CategoryLimit,

	ErrDebtDidntChange:       CategoryState,
	ErrStrategyHasDebt:       CategoryState,
	ErrStrategyAlreadyActive: CategoryState,
	ErrInactiveStrategy:      CategoryState,
	ErrInactiveVault:         CategoryState,
	ErrInvalidStrategy:       CategoryState,
	ErrInvalidReceiver:       CategoryState,
	ErrUnboundStrategy:       CategoryState,
	ErrUnboundCollaborator:   CategoryState,
	ErrNotInitialised:        CategoryState,

	ErrInsufficientFunds:     CategoryInsufficiency,
	ErrInsufficientAssets:    CategoryInsufficiency,
	ErrInsufficientShares:    CategoryInsufficiency,
	ErrInsufficientAllowance: CategoryInsufficiency,
	ErrZeroValue:             CategoryInsufficiency,

	ErrStrategyHasUnrealisedLosses: CategoryIntegrity,
	ErrFeeExceedsMax:               CategoryIntegrity,
	ErrFeeExceedsAssets:            CategoryIntegrity,
	ErrMissingFeeRecipient:         CategoryIntegrity,
	ErrOverflow:                    CategoryIntegrity,

	ErrUnauthorized: CategoryAccess,
}

// CategoryOf classifies err, unwrapping as needed.
func CategoryOf(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	for sentinel, category := range categories {
		if errors.Is(err, sentinel) {
			return category
		}
	}
	return CategoryUnknown
}

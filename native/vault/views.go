package vault

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func (tx *vaultTx) maxDeposit(receiver common.Address) (*uint256.Int, error) {
	if receiver == (common.Address{}) || receiver == tx.vault() {
		return new(uint256.Int), nil
	}
	module, err := tx.depositLimitModule()
	if err != nil {
		return nil, err
	}
	if module != nil {
		return cloneOrZero(module.AvailableDepositLimit(receiver)), nil
	}
	if IsMax(tx.l.DepositLimit) {
		return MaxUint256(), nil
	}
	return sub(tx.l.DepositLimit, tx.l.TotalAssets()), nil
}

// maxWithdraw estimates what owner can take out with the given loss
// tolerance, walking the queue the way a withdrawal would.
func (tx *vaultTx) maxWithdraw(owner common.Address, maxLossBps uint64, hint []common.Address) (*uint256.Int, error) {
	ownerAssets, err := tx.convertToAssets(tx.l.BalanceOf(owner), RoundDown)
	if err != nil {
		return nil, err
	}
	module, err := tx.withdrawLimitModule()
	if err != nil {
		return nil, err
	}
	if module != nil {
		return minOf(orZero(module.AvailableWithdrawLimit(owner, maxLossBps, hint)), ownerAssets), nil
	}
	have := tx.l.TotalIdle.Clone()
	if !ownerAssets.Gt(have) {
		return ownerAssets, nil
	}
	vault := tx.vault()
	loss := new(uint256.Int)
	for _, addr := range tx.withdrawalQueue(hint) {
		impl, params, err := tx.strategy(addr)
		if err != nil {
			return nil, err
		}
		currentDebt := params.CurrentDebt
		toWithdraw := minOf(sub(ownerAssets, have), currentDebt)
		unrealised, err := tx.assessShareOfUnrealisedLosses(impl, toWithdraw, currentDebt)
		if err != nil {
			return nil, err
		}
		strategyLimit := orZero(impl.ConvertToAssets(impl.MaxRedeem(vault)))
		if wanted := sub(toWithdraw, unrealised); strategyLimit.Lt(wanted) {
			if unrealised, err = mulDiv(unrealised, strategyLimit, wanted, RoundDown); err != nil {
				return nil, err
			}
			if toWithdraw, err = add(strategyLimit, unrealised); err != nil {
				return nil, err
			}
		}
		if toWithdraw.IsZero() {
			continue
		}
		if !unrealised.IsZero() && maxLossBps < MaxBps {
			total, err := add(have, toWithdraw)
			if err != nil {
				return nil, err
			}
			cumulative, err := add(loss, unrealised)
			if err != nil {
				return nil, err
			}
			if cumulative.Gt(bpsOf(total, maxLossBps)) {
				break
			}
		}
		if have, err = add(have, toWithdraw); err != nil {
			return nil, err
		}
		if !have.Lt(ownerAssets) {
			break
		}
		if loss, err = add(loss, unrealised); err != nil {
			return nil, err
		}
	}
	return minOf(have, ownerAssets), nil
}

func (tx *vaultTx) maxRedeem(owner common.Address, maxLossBps uint64, hint []common.Address) (*uint256.Int, error) {
	assets, err := tx.maxWithdraw(owner, maxLossBps, hint)
	if err != nil {
		return nil, err
	}
	shares, err := tx.convertToShares(assets, RoundUp)
	if err != nil {
		return nil, err
	}
	return minOf(shares, tx.l.BalanceOf(owner)), nil
}

func (e *Engine) viewAmount(fn func(tx *vaultTx) (*uint256.Int, error)) (*uint256.Int, error) {
	var out *uint256.Int
	err := e.view(func(tx *vaultTx) error {
		var err error
		out, err = fn(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TotalAssets returns idle plus debt.
func (e *Engine) TotalAssets() (*uint256.Int, error) {
	return e.viewAmount(func(tx *vaultTx) (*uint256.Int, error) { return tx.l.TotalAssets(), nil })
}

// TotalSupply returns the circulating supply, excluding vested profit
// shares.
func (e *Engine) TotalSupply() (*uint256.Int, error) {
	return e.viewAmount(func(tx *vaultTx) (*uint256.Int, error) { return tx.totalSupply(), nil })
}

func (e *Engine) TotalIdle() (*uint256.Int, error) {
	return e.viewAmount(func(tx *vaultTx) (*uint256.Int, error) { return tx.l.TotalIdle.Clone(), nil })
}

func (e *Engine) TotalDebt() (*uint256.Int, error) {
	return e.viewAmount(func(tx *vaultTx) (*uint256.Int, error) { return tx.l.TotalDebt.Clone(), nil })
}

// BalanceOf returns the share balance of owner. The vault's own balance
// excludes shares that already unlocked.
func (e *Engine) BalanceOf(owner common.Address) (*uint256.Int, error) {
	return e.viewAmount(func(tx *vaultTx) (*uint256.Int, error) {
		if owner == tx.vault() {
			return sub(tx.l.BalanceOf(owner), tx.unlockedShares()), nil
		}
		return tx.l.BalanceOf(owner), nil
	})
}

func (e *Engine) Allowance(owner, spender common.Address) (*uint256.Int, error) {
	return e.viewAmount(func(tx *vaultTx) (*uint256.Int, error) { return tx.l.Allowance(owner, spender), nil })
}

func (e *Engine) ConvertToShares(assets *uint256.Int) (*uint256.Int, error) {
	return e.viewAmount(func(tx *vaultTx) (*uint256.Int, error) { return tx.convertToShares(assets, RoundDown) })
}

func (e *Engine) ConvertToAssets(shares *uint256.Int) (*uint256.Int, error) {
	return e.viewAmount(func(tx *vaultTx) (*uint256.Int, error) { return tx.convertToAssets(shares, RoundDown) })
}

func (e *Engine) PreviewDeposit(assets *uint256.Int) (*uint256.Int, error) {
	return e.ConvertToShares(assets)
}

func (e *Engine) PreviewMint(shares *uint256.Int) (*uint256.Int, error) {
	return e.viewAmount(func(tx *vaultTx) (*uint256.Int, error) { return tx.convertToAssets(shares, RoundUp) })
}

func (e *Engine) PreviewWithdraw(assets *uint256.Int) (*uint256.Int, error) {
	return e.viewAmount(func(tx *vaultTx) (*uint256.Int, error) { return tx.convertToShares(assets, RoundUp) })
}

func (e *Engine) PreviewRedeem(shares *uint256.Int) (*uint256.Int, error) {
	return e.ConvertToAssets(shares)
}

// PricePerShare returns the assets backing one whole share.
func (e *Engine) PricePerShare() (*uint256.Int, error) {
	return e.viewAmount(func(tx *vaultTx) (*uint256.Int, error) { return tx.pricePerShare() })
}

// MaxDeposit returns how many assets receiver may deposit now.
func (e *Engine) MaxDeposit(receiver common.Address) (*uint256.Int, error) {
	return e.viewAmount(func(tx *vaultTx) (*uint256.Int, error) {
		if tx.l.Shutdown {
			return new(uint256.Int), nil
		}
		return tx.maxDeposit(receiver)
	})
}

func (e *Engine) MaxMint(receiver common.Address) (*uint256.Int, error) {
	return e.viewAmount(func(tx *vaultTx) (*uint256.Int, error) {
		if tx.l.Shutdown {
			return new(uint256.Int), nil
		}
		available, err := tx.maxDeposit(receiver)
		if err != nil {
			return nil, err
		}
		return tx.convertToShares(available, RoundDown)
	})
}

func (e *Engine) MaxWithdraw(owner common.Address, maxLossBps uint64, strategies []common.Address) (*uint256.Int, error) {
	return e.viewAmount(func(tx *vaultTx) (*uint256.Int, error) { return tx.maxWithdraw(owner, maxLossBps, strategies) })
}

func (e *Engine) MaxRedeem(owner common.Address, maxLossBps uint64, strategies []common.Address) (*uint256.Int, error) {
	return e.viewAmount(func(tx *vaultTx) (*uint256.Int, error) { return tx.maxRedeem(owner, maxLossBps, strategies) })
}

// UnlockedShares returns the vested profit shares not yet burned.
func (e *Engine) UnlockedShares() (*uint256.Int, error) {
	return e.viewAmount(func(tx *vaultTx) (*uint256.Int, error) { return tx.unlockedShares(), nil })
}

// AssessShareOfUnrealisedLosses returns the loss a withdrawer of assets
// from strategy would have to absorb.
func (e *Engine) AssessShareOfUnrealisedLosses(strategy common.Address, assets *uint256.Int) (*uint256.Int, error) {
	return e.viewAmount(func(tx *vaultTx) (*uint256.Int, error) {
		impl, params, err := tx.strategy(strategy)
		if err != nil {
			return nil, err
		}
		return tx.assessShareOfUnrealisedLosses(impl, assets, params.CurrentDebt)
	})
}

func (e *Engine) ProfitUnlock() (ProfitUnlockState, error) {
	var state ProfitUnlockState
	err := e.view(func(tx *vaultTx) error {
		state = tx.profitUnlockState()
		return nil
	})
	return state, err
}

// Strategy returns a copy of the parameters of an active strategy.
func (e *Engine) Strategy(addr common.Address) (*StrategyParams, error) {
	var params *StrategyParams
	err := e.view(func(tx *vaultTx) error {
		p, err := tx.strategyParams(addr)
		if err != nil {
			return err
		}
		params = p.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return params, nil
}

// Strategies lists the active strategies in address order.
func (e *Engine) Strategies() ([]common.Address, error) {
	var out []common.Address
	err := e.view(func(tx *vaultTx) error {
		for addr := range tx.l.Strategies {
			out = append(out, addr)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Bytes(), out[j].Bytes()) < 0 })
	return out, err
}

// Ledger returns a copy of the persisted ledger.
func (e *Engine) Ledger() (*Ledger, error) {
	var out *Ledger
	err := e.view(func(tx *vaultTx) error {
		out = tx.l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Summary is a point-in-time overview of the vault.
type Summary struct {
	Asset            common.Address
	TotalAssets      *uint256.Int
	TotalIdle        *uint256.Int
	TotalDebt        *uint256.Int
	TotalSupply      *uint256.Int
	PricePerShare    *uint256.Int
	MinimumTotalIdle *uint256.Int
	DepositLimit     *uint256.Int
	DefaultQueue     []common.Address
	UseDefaultQueue  bool
	Shutdown         bool
	ProfitUnlock     ProfitUnlockState
	StrategyCount    int
}

func (e *Engine) Summary() (Summary, error) {
	var out Summary
	err := e.view(func(tx *vaultTx) error {
		pps, err := tx.pricePerShare()
		if err != nil {
			return err
		}
		out = Summary{
			Asset:            tx.l.Asset,
			TotalAssets:      tx.l.TotalAssets(),
			TotalIdle:        tx.l.TotalIdle.Clone(),
			TotalDebt:        tx.l.TotalDebt.Clone(),
			TotalSupply:      tx.totalSupply(),
			PricePerShare:    pps,
			MinimumTotalIdle: tx.l.MinimumTotalIdle.Clone(),
			DepositLimit:     tx.l.DepositLimit.Clone(),
			DefaultQueue:     append([]common.Address(nil), tx.l.DefaultQueue...),
			UseDefaultQueue:  tx.l.UseDefaultQueue,
			Shutdown:         tx.l.Shutdown,
			ProfitUnlock:     tx.profitUnlockState(),
			StrategyCount:    len(tx.l.Strategies),
		}
		return nil
	})
	return out, err
}

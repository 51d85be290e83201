package vault

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"yieldvault/core/events"
)

// UpdateDebt moves the strategy's debt toward targetDebt, tolerating any
// realised loss on the way down.
func (e *Engine) UpdateDebt(actor, strategy common.Address, targetDebt *uint256.Int) (*uint256.Int, error) {
	return e.UpdateDebtWithMaxLoss(actor, strategy, targetDebt, MaxBps)
}

// UpdateDebtWithMaxLoss is UpdateDebt with an explicit loss tolerance in
// basis points applied to debt decreases.
func (e *Engine) UpdateDebtWithMaxLoss(actor, strategy common.Address, targetDebt *uint256.Int, maxLossBps uint64) (*uint256.Int, error) {
	if err := e.requireRole(actor, RoleDebtManager); err != nil {
		return nil, err
	}
	var newDebt *uint256.Int
	err := e.execute("update_debt", func(tx *vaultTx) error {
		var err error
		newDebt, err = tx.updateDebt(strategy, targetDebt, maxLossBps)
		return err
	})
	if err != nil {
		return nil, err
	}
	return newDebt, nil
}

func (tx *vaultTx) updateDebt(addr common.Address, targetDebt *uint256.Int, maxLossBps uint64) (*uint256.Int, error) {
	if maxLossBps > MaxBps {
		return nil, fmt.Errorf("%w: %d bps", ErrMaxLoss, maxLossBps)
	}
	impl, params, err := tx.strategy(addr)
	if err != nil {
		return nil, err
	}
	if err := tx.burnUnlockedShares(); err != nil {
		return nil, err
	}
	target := cloneOrZero(targetDebt)
	if tx.l.Shutdown {
		target = new(uint256.Int)
	}
	currentDebt := params.CurrentDebt.Clone()
	switch target.Cmp(currentDebt) {
	case 0:
		return nil, fmt.Errorf("%w: %s already at %s", ErrDebtDidntChange, addr.Hex(), currentDebt.Dec())
	case 1:
		if _, err := tx.increaseDebt(impl, params, target); err != nil {
			return nil, err
		}
	default:
		if _, _, err := tx.decreaseDebt(impl, params, target, maxLossBps); err != nil {
			return nil, err
		}
	}
	newDebt := params.CurrentDebt.Clone()
	tx.emit(events.VaultDebtUpdated{
		Vault:       tx.vault(),
		Strategy:    addr,
		CurrentDebt: currentDebt,
		NewDebt:     newDebt,
	})
	return newDebt, nil
}

// increaseDebt deposits idle assets into the strategy and returns the amount
// the strategy actually took.
func (tx *vaultTx) increaseDebt(impl Strategy, params *StrategyParams, target *uint256.Int) (*uint256.Int, error) {
	l := tx.l
	vault := tx.vault()
	addr := impl.Address()
	if target.Gt(params.MaxDebt) {
		return nil, fmt.Errorf("%w: target %s above max %s", ErrDebtHigherThanMaxDebt, target.Dec(), params.MaxDebt.Dec())
	}
	strategyMax := orZero(impl.MaxDeposit(vault))
	if strategyMax.IsZero() {
		return nil, fmt.Errorf("%w: strategy %s accepts no deposits", ErrZeroValue, addr.Hex())
	}
	toDeposit := minOf(sub(target, params.CurrentDebt), strategyMax)
	if !l.TotalIdle.Gt(l.MinimumTotalIdle) {
		return nil, fmt.Errorf("%w: idle %s at or below minimum %s", ErrInsufficientFunds, l.TotalIdle.Dec(), l.MinimumTotalIdle.Dec())
	}
	toDeposit = minOf(toDeposit, sub(l.TotalIdle, l.MinimumTotalIdle))
	if toDeposit.IsZero() {
		return nil, ErrDebtDidntChange
	}

	asset := tx.e.asset
	if err := asset.Approve(vault, addr, toDeposit); err != nil {
		return nil, fmt.Errorf("vault: approve strategy: %w", err)
	}
	before := asset.BalanceOf(vault)
	if _, err := impl.Deposit(vault, toDeposit, vault); err != nil {
		return nil, fmt.Errorf("vault: strategy deposit: %w", err)
	}
	after := asset.BalanceOf(vault)
	if err := asset.Approve(vault, addr, new(uint256.Int)); err != nil {
		return nil, fmt.Errorf("vault: reset approval: %w", err)
	}
	deposited := sub(before, after)
	if deposited.IsZero() {
		return nil, fmt.Errorf("%w: strategy %s took nothing", ErrDebtDidntChange, addr.Hex())
	}

	l.TotalIdle = sub(l.TotalIdle, deposited)
	var err error
	if l.TotalDebt, err = add(l.TotalDebt, deposited); err != nil {
		return nil, err
	}
	if params.CurrentDebt, err = add(params.CurrentDebt, deposited); err != nil {
		return nil, err
	}
	return deposited, nil
}

// decreaseDebt pulls assets back from the strategy. It returns the assets
// received and the debt written off, which exceeds withdrawn by any loss.
func (tx *vaultTx) decreaseDebt(impl Strategy, params *StrategyParams, target *uint256.Int, maxLossBps uint64) (withdrawn, toWithdraw *uint256.Int, err error) {
	l := tx.l
	vault := tx.vault()
	currentDebt := params.CurrentDebt.Clone()

	toWithdraw = sub(currentDebt, target)
	if postIdle, err := add(l.TotalIdle, toWithdraw); err == nil && postIdle.Lt(l.MinimumTotalIdle) {
		toWithdraw = minOf(sub(l.MinimumTotalIdle, l.TotalIdle), currentDebt)
	}
	withdrawable := orZero(impl.ConvertToAssets(impl.MaxRedeem(vault)))
	if withdrawable.IsZero() {
		return nil, nil, fmt.Errorf("%w: strategy %s has nothing withdrawable", ErrZeroValue, impl.Address().Hex())
	}
	toWithdraw = minOf(toWithdraw, withdrawable)
	if toWithdraw.IsZero() {
		return nil, nil, ErrDebtDidntChange
	}
	unrealised, err := tx.assessShareOfUnrealisedLosses(impl, toWithdraw, currentDebt)
	if err != nil {
		return nil, nil, err
	}
	if !unrealised.IsZero() {
		return nil, nil, fmt.Errorf("%w: %s", ErrStrategyHasUnrealisedLosses, unrealised.Dec())
	}

	before := tx.e.asset.BalanceOf(vault)
	if err := tx.withdrawFromStrategy(impl, toWithdraw); err != nil {
		return nil, nil, err
	}
	after := tx.e.asset.BalanceOf(vault)
	withdrawn = minOf(sub(after, before), currentDebt)

	if withdrawn.Lt(toWithdraw) {
		if maxLossBps < MaxBps && sub(toWithdraw, withdrawn).Gt(bpsOf(toWithdraw, maxLossBps)) {
			return nil, nil, fmt.Errorf("%w: withdrew %s of %s", ErrTooMuchLoss, withdrawn.Dec(), toWithdraw.Dec())
		}
	} else if withdrawn.Gt(toWithdraw) {
		toWithdraw = withdrawn.Clone()
	}

	if l.TotalIdle, err = add(l.TotalIdle, withdrawn); err != nil {
		return nil, nil, err
	}
	l.TotalDebt = sub(l.TotalDebt, toWithdraw)
	params.CurrentDebt = sub(currentDebt, toWithdraw)
	return withdrawn, toWithdraw, nil
}

// assessShareOfUnrealisedLosses returns the part of assetsNeeded a withdrawer
// must absorb because the strategy is worth less than its recorded debt.
func (tx *vaultTx) assessShareOfUnrealisedLosses(impl Strategy, assetsNeeded, currentDebt *uint256.Int) (*uint256.Int, error) {
	if orZero(currentDebt).IsZero() || orZero(assetsNeeded).IsZero() {
		return new(uint256.Int), nil
	}
	strategyAssets := orZero(impl.ConvertToAssets(impl.BalanceOf(tx.vault())))
	if !strategyAssets.Lt(currentDebt) {
		return new(uint256.Int), nil
	}
	covered, err := mulDiv(assetsNeeded, strategyAssets, currentDebt, RoundDown)
	if err != nil {
		return nil, err
	}
	return sub(assetsNeeded, covered), nil
}

func (tx *vaultTx) withdrawFromStrategy(impl Strategy, assets *uint256.Int) error {
	vault := tx.vault()
	shares := minOf(impl.PreviewWithdraw(assets), impl.BalanceOf(vault))
	if shares.IsZero() {
		return nil
	}
	if _, err := impl.Redeem(vault, shares, vault, vault); err != nil {
		return fmt.Errorf("vault: strategy redeem: %w", err)
	}
	return nil
}

// BuyDebt lets an authorised buyer take over strategy shares for assets at
// the recorded debt value.
func (e *Engine) BuyDebt(actor, strategy common.Address, amount *uint256.Int) error {
	if err := e.requireRole(actor, RoleDebtPurchaser); err != nil {
		return err
	}
	return e.execute("buy_debt", func(tx *vaultTx) error {
		return tx.buyDebt(actor, strategy, amount)
	})
}

func (tx *vaultTx) buyDebt(buyer, addr common.Address, amount *uint256.Int) error {
	impl, params, err := tx.strategy(addr)
	if err != nil {
		return err
	}
	l := tx.l
	vault := tx.vault()
	currentDebt := params.CurrentDebt.Clone()
	if currentDebt.IsZero() {
		return fmt.Errorf("%w: strategy %s has no debt", ErrZeroValue, addr.Hex())
	}
	bought := minOf(amount, currentDebt)
	if bought.IsZero() {
		return ErrZeroValue
	}
	shares, err := mulDiv(impl.BalanceOf(vault), bought, currentDebt, RoundDown)
	if err != nil {
		return err
	}
	if shares.IsZero() {
		return fmt.Errorf("%w: %s buys no shares", ErrZeroValue, bought.Dec())
	}
	if err := tx.e.asset.TransferFrom(vault, buyer, vault, bought); err != nil {
		return fmt.Errorf("vault: pull debt payment: %w", err)
	}
	if err := impl.Transfer(vault, buyer, shares); err != nil {
		return fmt.Errorf("vault: transfer strategy shares: %w", err)
	}

	newDebt := sub(currentDebt, bought)
	params.CurrentDebt = newDebt
	l.TotalDebt = sub(l.TotalDebt, bought)
	if l.TotalIdle, err = add(l.TotalIdle, bought); err != nil {
		return err
	}
	tx.emit(events.VaultDebtUpdated{Vault: vault, Strategy: addr, CurrentDebt: currentDebt, NewDebt: newDebt.Clone()})
	tx.emit(events.VaultDebtPurchased{Vault: vault, Strategy: addr, Amount: bought})
	return nil
}

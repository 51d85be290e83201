package vault

import (
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"yieldvault/core/events"
)

// AddStrategy activates a strategy with zero debt and appends it to the
// default queue while the queue has room.
func (e *Engine) AddStrategy(actor common.Address, strategy Strategy) error {
	if err := e.requireRole(actor, RoleAddStrategyManager); err != nil {
		return err
	}
	if strategy == nil {
		return ErrInvalidStrategy
	}
	addr := strategy.Address()
	return e.execute("add_strategy", func(tx *vaultTx) error {
		if addr == (common.Address{}) || addr == tx.vault() || strategy.Asset() != tx.l.Asset {
			return fmt.Errorf("%w: %s", ErrInvalidStrategy, addr.Hex())
		}
		if params, ok := tx.l.Strategies[addr]; ok && params.Active() {
			return fmt.Errorf("%w: %s", ErrStrategyAlreadyActive, addr.Hex())
		}
		tx.l.Strategies[addr] = &StrategyParams{
			Activation:  tx.now,
			LastReport:  tx.now,
			CurrentDebt: new(uint256.Int),
			MaxDebt:     new(uint256.Int),
		}
		if len(tx.l.DefaultQueue) < MaxQueue {
			tx.l.DefaultQueue = append(tx.l.DefaultQueue, addr)
		}
		tx.emit(events.VaultStrategyChanged{Vault: tx.vault(), Strategy: addr, ChangeType: StrategyAdded.String()})
		tx.afterCommit(func() {
			e.strategies[addr] = strategy
			slog.Info("vault: strategy added", "vault", e.label(), "strategy", addr.Hex())
		})
		return nil
	})
}

// RevokeStrategy removes a strategy that carries no debt.
func (e *Engine) RevokeStrategy(actor, strategy common.Address) error {
	if err := e.requireRole(actor, RoleRevokeStrategyManager); err != nil {
		return err
	}
	return e.execute("revoke_strategy", func(tx *vaultTx) error {
		return tx.revoke(strategy, false)
	})
}

// ForceRevokeStrategy removes a strategy and writes any remaining debt off
// as a loss.
func (e *Engine) ForceRevokeStrategy(actor, strategy common.Address) error {
	if err := e.requireRole(actor, RoleForceRevokeManager); err != nil {
		return err
	}
	return e.execute("force_revoke_strategy", func(tx *vaultTx) error {
		return tx.revoke(strategy, true)
	})
}

func (tx *vaultTx) revoke(addr common.Address, force bool) error {
	params, err := tx.strategyParams(addr)
	if err != nil {
		return err
	}
	if !params.CurrentDebt.IsZero() {
		if !force {
			return fmt.Errorf("%w: %s owes %s", ErrStrategyHasDebt, addr.Hex(), params.CurrentDebt.Dec())
		}
		if err := tx.writeOffDebt(addr, params); err != nil {
			return err
		}
	}
	delete(tx.l.Strategies, addr)
	queue := make([]common.Address, 0, len(tx.l.DefaultQueue))
	for _, queued := range tx.l.DefaultQueue {
		if queued != addr {
			queue = append(queue, queued)
		}
	}
	tx.l.DefaultQueue = queue
	tx.emit(events.VaultStrategyChanged{Vault: tx.vault(), Strategy: addr, ChangeType: StrategyRevoked.String()})
	tx.afterCommit(func() {
		delete(tx.e.strategies, addr)
		slog.Info("vault: strategy revoked", "vault", tx.e.label(), "strategy", addr.Hex(), "forced", force)
	})
	return nil
}

// writeOffDebt realises the strategy's whole debt as a loss. Locked profit
// absorbs it first, as a report would.
func (tx *vaultTx) writeOffDebt(addr common.Address, params *StrategyParams) error {
	if err := tx.burnUnlockedShares(); err != nil {
		return err
	}
	l := tx.l
	loss := params.CurrentDebt.Clone()
	sharesToBurn, err := tx.convertToShares(loss, RoundUp)
	if err != nil {
		return err
	}
	if err := tx.burn(tx.vault(), minOf(sharesToBurn, l.BalanceOf(tx.vault()))); err != nil {
		return err
	}
	l.TotalDebt = sub(l.TotalDebt, loss)
	params.CurrentDebt = new(uint256.Int)
	if err := tx.rebaseUnlocking(); err != nil {
		return err
	}
	tx.emit(events.VaultStrategyReported{
		Vault:        tx.vault(),
		Strategy:     addr,
		Gain:         new(uint256.Int),
		Loss:         loss.Clone(),
		CurrentDebt:  loss,
		ProtocolFees: new(uint256.Int),
		TotalFees:    new(uint256.Int),
		TotalRefunds: new(uint256.Int),
	})
	return nil
}

// UpdateMaxDebt sets the debt ceiling for an active strategy.
func (e *Engine) UpdateMaxDebt(actor, strategy common.Address, maxDebt *uint256.Int) error {
	if err := e.requireRole(actor, RoleMaxDebtManager); err != nil {
		return err
	}
	return e.execute("update_max_debt", func(tx *vaultTx) error {
		params, err := tx.strategyParams(strategy)
		if err != nil {
			return err
		}
		params.MaxDebt = cloneOrZero(maxDebt)
		tx.emit(events.VaultUpdatedMaxDebt{Vault: tx.vault(), Strategy: strategy, MaxDebt: params.MaxDebt.Clone()})
		return nil
	})
}

package vault

import (
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"yieldvault/core/events"
)

// SetAccountant replaces the fee policy. A nil accountant disables fees.
func (e *Engine) SetAccountant(actor common.Address, accountant Accountant) error {
	if err := e.requireRole(actor, RoleAccountantManager); err != nil {
		return err
	}
	var addr common.Address
	if accountant != nil {
		addr = accountant.Address()
	}
	return e.execute("set_accountant", func(tx *vaultTx) error {
		tx.l.Accountant = addr
		tx.emit(events.VaultUpdatedAccountant{Vault: tx.vault(), Accountant: addr})
		tx.afterCommit(func() { e.accountant = accountant })
		return nil
	})
}

// SetDefaultQueue replaces the withdrawal queue. Every entry must be an
// active strategy and appear once.
func (e *Engine) SetDefaultQueue(actor common.Address, queue []common.Address) error {
	if err := e.requireRole(actor, RoleQueueManager); err != nil {
		return err
	}
	return e.execute("set_default_queue", func(tx *vaultTx) error {
		if len(queue) > MaxQueue {
			return fmt.Errorf("%w: %d entries", ErrQueueTooLong, len(queue))
		}
		seen := make(map[common.Address]struct{}, len(queue))
		for _, addr := range queue {
			if _, err := tx.strategyParams(addr); err != nil {
				return err
			}
			if _, dup := seen[addr]; dup {
				return fmt.Errorf("%w: %s listed twice", ErrInvalidStrategy, addr.Hex())
			}
			seen[addr] = struct{}{}
		}
		tx.l.DefaultQueue = append([]common.Address(nil), queue...)
		tx.emit(events.VaultUpdatedDefaultQueue{Vault: tx.vault(), Queue: append([]common.Address(nil), queue...)})
		return nil
	})
}

// SetUseDefaultQueue forces withdrawals through the default queue,
// ignoring caller supplied strategies.
func (e *Engine) SetUseDefaultQueue(actor common.Address, use bool) error {
	if err := e.requireRole(actor, RoleQueueManager); err != nil {
		return err
	}
	return e.execute("set_use_default_queue", func(tx *vaultTx) error {
		tx.l.UseDefaultQueue = use
		tx.emit(events.VaultUpdatedUseDefaultQueue{Vault: tx.vault(), UseDefaultQueue: use})
		return nil
	})
}

// SetDepositLimit sets the numeric deposit ceiling and clears any deposit
// limit module.
func (e *Engine) SetDepositLimit(actor common.Address, limit *uint256.Int) error {
	if err := e.requireRole(actor, RoleDepositLimitManager); err != nil {
		return err
	}
	return e.execute("set_deposit_limit", func(tx *vaultTx) error {
		if tx.l.Shutdown {
			return ErrInactiveVault
		}
		if tx.l.DepositLimitModule != (common.Address{}) {
			tx.l.DepositLimitModule = common.Address{}
			tx.emit(events.VaultUpdatedDepositLimitModule{Vault: tx.vault()})
			tx.afterCommit(func() { e.depositLimitModule = nil })
		}
		tx.l.DepositLimit = cloneOrZero(limit)
		tx.emit(events.VaultUpdatedDepositLimit{Vault: tx.vault(), DepositLimit: tx.l.DepositLimit.Clone()})
		return nil
	})
}

// SetDepositLimitModule delegates deposit limits to module. The numeric
// limit is lifted so the module alone decides.
func (e *Engine) SetDepositLimitModule(actor common.Address, module DepositLimitModule) error {
	if err := e.requireRole(actor, RoleDepositLimitManager); err != nil {
		return err
	}
	var addr common.Address
	if module != nil {
		addr = module.Address()
	}
	return e.execute("set_deposit_limit_module", func(tx *vaultTx) error {
		if tx.l.Shutdown {
			return ErrInactiveVault
		}
		tx.l.DepositLimitModule = addr
		if addr != (common.Address{}) && !IsMax(tx.l.DepositLimit) {
			tx.l.DepositLimit = MaxUint256()
			tx.emit(events.VaultUpdatedDepositLimit{Vault: tx.vault(), DepositLimit: MaxUint256()})
		}
		tx.emit(events.VaultUpdatedDepositLimitModule{Vault: tx.vault(), Module: addr})
		tx.afterCommit(func() { e.depositLimitModule = module })
		return nil
	})
}

// SetWithdrawLimitModule delegates withdrawal limits to module.
func (e *Engine) SetWithdrawLimitModule(actor common.Address, module WithdrawLimitModule) error {
	if err := e.requireRole(actor, RoleWithdrawLimitManager); err != nil {
		return err
	}
	var addr common.Address
	if module != nil {
		addr = module.Address()
	}
	return e.execute("set_withdraw_limit_module", func(tx *vaultTx) error {
		tx.l.WithdrawLimitModule = addr
		tx.emit(events.VaultUpdatedWithdrawLimitModule{Vault: tx.vault(), Module: addr})
		tx.afterCommit(func() { e.withdrawLimitModule = module })
		return nil
	})
}

// BindLimitModules attaches the implementations of the recorded limit
// modules, typically after a restart.
func (e *Engine) BindLimitModules(deposit DepositLimitModule, withdraw WithdrawLimitModule) error {
	return e.view(func(tx *vaultTx) error {
		if deposit != nil && deposit.Address() != tx.l.DepositLimitModule {
			return fmt.Errorf("vault: recorded deposit limit module is %s", tx.l.DepositLimitModule.Hex())
		}
		if withdraw != nil && withdraw.Address() != tx.l.WithdrawLimitModule {
			return fmt.Errorf("vault: recorded withdraw limit module is %s", tx.l.WithdrawLimitModule.Hex())
		}
		e.depositLimitModule = deposit
		e.withdrawLimitModule = withdraw
		return nil
	})
}

// SetMinimumTotalIdle sets the idle buffer debt allocation must preserve.
func (e *Engine) SetMinimumTotalIdle(actor common.Address, minimum *uint256.Int) error {
	if err := e.requireRole(actor, RoleMinimumIdleManager); err != nil {
		return err
	}
	return e.execute("set_minimum_total_idle", func(tx *vaultTx) error {
		tx.l.MinimumTotalIdle = cloneOrZero(minimum)
		tx.emit(events.VaultUpdatedMinimumTotalIdle{Vault: tx.vault(), MinimumTotalIdle: tx.l.MinimumTotalIdle.Clone()})
		return nil
	})
}

// SetProfitMaxUnlockTime changes the unlock window for future reports.
// Setting zero releases every locked share immediately.
func (e *Engine) SetProfitMaxUnlockTime(actor common.Address, seconds uint64) error {
	if err := e.requireRole(actor, RoleProfitUnlockManager); err != nil {
		return err
	}
	return e.execute("set_profit_max_unlock_time", func(tx *vaultTx) error {
		if seconds > MaxProfitUnlockTime {
			return fmt.Errorf("%w: %d seconds", ErrProfitUnlockTooLong, seconds)
		}
		if seconds == 0 {
			if err := tx.burn(tx.vault(), tx.l.BalanceOf(tx.vault())); err != nil {
				return err
			}
			tx.l.ProfitUnlockingRate = new(uint256.Int)
			tx.l.FullProfitUnlockDate = 0
		}
		tx.l.ProfitMaxUnlockTime = seconds
		tx.emit(events.VaultUpdatedProfitMaxUnlockTime{Vault: tx.vault(), ProfitMaxUnlockTime: seconds})
		return nil
	})
}

// ShutdownVault permanently stops deposits. Debt managers may still pull
// funds back and withdrawals keep working.
func (e *Engine) ShutdownVault(actor common.Address) error {
	if err := e.requireRole(actor, RoleEmergencyManager); err != nil {
		return err
	}
	err := e.execute("shutdown", func(tx *vaultTx) error {
		if tx.l.Shutdown {
			return ErrInactiveVault
		}
		tx.l.Shutdown = true
		tx.l.DepositLimit = new(uint256.Int)
		if tx.l.DepositLimitModule != (common.Address{}) {
			tx.l.DepositLimitModule = common.Address{}
			tx.emit(events.VaultUpdatedDepositLimitModule{Vault: tx.vault()})
			tx.afterCommit(func() { e.depositLimitModule = nil })
		}
		tx.emit(events.VaultUpdatedDepositLimit{Vault: tx.vault(), DepositLimit: new(uint256.Int)})
		tx.emit(events.VaultShutdown{Vault: tx.vault()})
		return nil
	})
	if err == nil {
		slog.Warn("vault: shutdown", "vault", e.label(), "actor", actor.Hex())
	}
	return err
}

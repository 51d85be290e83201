package vault

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"yieldvault/core/events"
	nativecommon "yieldvault/native/common"
)

// Deposit pulls assets from caller and mints shares to receiver. Passing the
// max sentinel deposits the caller's whole asset balance.
func (e *Engine) Deposit(caller common.Address, assets *uint256.Int, receiver common.Address) (*uint256.Int, error) {
	var shares *uint256.Int
	err := e.execute("deposit", func(tx *vaultTx) error {
		if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
			return err
		}
		amount := cloneOrZero(assets)
		if IsMax(amount) {
			amount = orZero(e.asset.BalanceOf(caller)).Clone()
		}
		var err error
		shares, err = tx.deposit(caller, receiver, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return shares, nil
}

// Mint issues exactly shares to receiver, pulling the assets they cost
// rounded up.
func (e *Engine) Mint(caller common.Address, shares *uint256.Int, receiver common.Address) (*uint256.Int, error) {
	var assets *uint256.Int
	err := e.execute("mint", func(tx *vaultTx) error {
		if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
			return err
		}
		var err error
		assets, err = tx.mintShares(caller, receiver, cloneOrZero(shares))
		return err
	})
	if err != nil {
		return nil, err
	}
	return assets, nil
}

func (tx *vaultTx) checkDepositor(receiver common.Address) error {
	if tx.l.Shutdown {
		return ErrInactiveVault
	}
	if receiver == (common.Address{}) || receiver == tx.vault() {
		return fmt.Errorf("%w: %s", ErrInvalidReceiver, receiver.Hex())
	}
	return tx.burnUnlockedShares()
}

func (tx *vaultTx) deposit(caller, receiver common.Address, assets *uint256.Int) (*uint256.Int, error) {
	if err := tx.checkDepositor(receiver); err != nil {
		return nil, err
	}
	available, err := tx.maxDeposit(receiver)
	if err != nil {
		return nil, err
	}
	if assets.Gt(available) {
		return nil, fmt.Errorf("%w: deposit %s above available %s", ErrExceedLimit, assets.Dec(), available.Dec())
	}
	shares, err := tx.convertToShares(assets, RoundDown)
	if err != nil {
		return nil, err
	}
	if shares.IsZero() {
		return nil, fmt.Errorf("%w: %s assets mint no shares", ErrZeroValue, assets.Dec())
	}
	if err := tx.issue(caller, receiver, assets, shares); err != nil {
		return nil, err
	}
	return shares, nil
}

func (tx *vaultTx) mintShares(caller, receiver common.Address, shares *uint256.Int) (*uint256.Int, error) {
	if err := tx.checkDepositor(receiver); err != nil {
		return nil, err
	}
	if shares.IsZero() {
		return nil, ErrZeroValue
	}
	assets, err := tx.convertToAssets(shares, RoundUp)
	if err != nil {
		return nil, err
	}
	if assets.IsZero() {
		return nil, fmt.Errorf("%w: %s shares cost nothing", ErrZeroValue, shares.Dec())
	}
	available, err := tx.maxDeposit(receiver)
	if err != nil {
		return nil, err
	}
	if assets.Gt(available) {
		return nil, fmt.Errorf("%w: deposit %s above available %s", ErrExceedLimit, assets.Dec(), available.Dec())
	}
	if err := tx.issue(caller, receiver, assets, shares); err != nil {
		return nil, err
	}
	return assets, nil
}

func (tx *vaultTx) issue(caller, receiver common.Address, assets, shares *uint256.Int) error {
	vault := tx.vault()
	if err := tx.e.asset.TransferFrom(vault, caller, vault, assets); err != nil {
		return fmt.Errorf("vault: pull deposit: %w", err)
	}
	idle, err := add(tx.l.TotalIdle, assets)
	if err != nil {
		return err
	}
	tx.l.TotalIdle = idle
	if err := tx.mint(receiver, shares); err != nil {
		return err
	}
	tx.emit(events.VaultDeposit{Vault: vault, Sender: caller, Owner: receiver, Assets: assets.Clone(), Shares: shares.Clone()})
	return nil
}

// WithdrawRequest carries the optional knobs of Withdraw and Redeem.
type WithdrawRequest struct {
	Receiver common.Address
	Owner    common.Address
	// MaxLossBps tolerates realised losses up to this share of the assets.
	MaxLossBps uint64
	// Strategies overrides the default queue unless the vault forces it.
	Strategies []common.Address
}

// NewWithdrawRequest returns the default Withdraw request, which tolerates
// no loss.
func NewWithdrawRequest(receiver, owner common.Address) WithdrawRequest {
	return WithdrawRequest{Receiver: receiver, Owner: owner}
}

// NewRedeemRequest returns the default Redeem request, which accepts any
// realised loss.
func NewRedeemRequest(receiver, owner common.Address) WithdrawRequest {
	return WithdrawRequest{Receiver: receiver, Owner: owner, MaxLossBps: MaxBps}
}

// Withdraw burns the owner's shares worth assets, rounded up, and pays the
// receiver.
func (e *Engine) Withdraw(caller common.Address, assets *uint256.Int, req WithdrawRequest) (*uint256.Int, error) {
	var shares *uint256.Int
	err := e.execute("withdraw", func(tx *vaultTx) error {
		if err := tx.burnUnlockedShares(); err != nil {
			return err
		}
		var err error
		shares, err = tx.convertToShares(cloneOrZero(assets), RoundUp)
		if err != nil {
			return err
		}
		_, err = tx.redeem(caller, cloneOrZero(assets), shares, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return shares, nil
}

// Redeem burns shares from the owner and pays the receiver what they are
// worth, rounded down, less any realised loss.
func (e *Engine) Redeem(caller common.Address, shares *uint256.Int, req WithdrawRequest) (*uint256.Int, error) {
	var paid *uint256.Int
	err := e.execute("redeem", func(tx *vaultTx) error {
		if err := tx.burnUnlockedShares(); err != nil {
			return err
		}
		assets, err := tx.convertToAssets(cloneOrZero(shares), RoundDown)
		if err != nil {
			return err
		}
		paid, err = tx.redeem(caller, assets, cloneOrZero(shares), req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// redeem walks the withdrawal queue until idle covers the request, then
// burns shares and pays out. It returns the assets sent to the receiver.
func (tx *vaultTx) redeem(caller common.Address, assets, shares *uint256.Int, req WithdrawRequest) (*uint256.Int, error) {
	l := tx.l
	vault := tx.vault()
	owner := req.Owner
	if req.Receiver == (common.Address{}) {
		return nil, ErrInvalidReceiver
	}
	if req.MaxLossBps > MaxBps {
		return nil, fmt.Errorf("%w: %d bps", ErrMaxLoss, req.MaxLossBps)
	}
	if l.WithdrawLimitModule != (common.Address{}) {
		limit, err := tx.maxWithdraw(owner, req.MaxLossBps, req.Strategies)
		if err != nil {
			return nil, err
		}
		if assets.Gt(limit) {
			return nil, fmt.Errorf("%w: withdraw %s above available %s", ErrExceedLimit, assets.Dec(), limit.Dec())
		}
	}
	if shares.IsZero() {
		return nil, ErrZeroValue
	}
	if balance := l.BalanceOf(owner); balance.Lt(shares) {
		return nil, fmt.Errorf("%w: %s holds %s", ErrInsufficientShares, owner.Hex(), balance.Dec())
	}
	if caller != owner {
		if err := tx.spendAllowance(owner, caller, shares); err != nil {
			return nil, err
		}
	}

	requested := assets.Clone()
	idle := l.TotalIdle.Clone()
	if requested.Gt(idle) {
		var err error
		if requested, idle, err = tx.pullFromQueue(requested, idle, req.Strategies); err != nil {
			return nil, err
		}
	}

	if assets.Gt(requested) && req.MaxLossBps < MaxBps {
		realised := sub(assets, requested)
		if realised.Gt(bpsOf(assets, req.MaxLossBps)) {
			return nil, fmt.Errorf("%w: lost %s of %s", ErrTooMuchLoss, realised.Dec(), assets.Dec())
		}
	}

	if err := tx.burn(owner, shares); err != nil {
		return nil, err
	}
	l.TotalIdle = sub(idle, requested)
	if err := tx.e.asset.Transfer(vault, req.Receiver, requested); err != nil {
		return nil, fmt.Errorf("vault: pay withdrawal: %w", err)
	}
	tx.emit(events.VaultWithdraw{
		Vault:    vault,
		Sender:   caller,
		Receiver: req.Receiver,
		Owner:    owner,
		Assets:   requested.Clone(),
		Shares:   shares.Clone(),
	})
	if realised := sub(assets, requested); !realised.IsZero() {
		label := tx.e.label()
		tx.afterCommit(func() { tx.e.metrics.ObserveWithdrawLoss(label, toFloat(realised)) })
	}
	return requested, nil
}

// pullFromQueue withdraws from strategies in queue order. Unrealised losses
// reduce the requested amount instead of being taken from other holders.
func (tx *vaultTx) pullFromQueue(requested, idle *uint256.Int, hint []common.Address) (*uint256.Int, *uint256.Int, error) {
	l := tx.l
	vault := tx.vault()
	totalDebt := l.TotalDebt.Clone()
	needed := sub(requested, idle)
	previousBalance := tx.e.asset.BalanceOf(vault)

	for _, addr := range tx.withdrawalQueue(hint) {
		impl, params, err := tx.strategy(addr)
		if err != nil {
			return nil, nil, err
		}
		currentDebt := params.CurrentDebt.Clone()
		toWithdraw := minOf(needed, currentDebt)
		maxWithdraw := orZero(impl.ConvertToAssets(impl.MaxRedeem(vault))).Clone()

		unrealised, err := tx.assessShareOfUnrealisedLosses(impl, toWithdraw, currentDebt)
		if err != nil {
			return nil, nil, err
		}
		if !unrealised.IsZero() {
			if wanted := sub(toWithdraw, unrealised); maxWithdraw.Lt(wanted) {
				if unrealised, err = mulDiv(unrealised, maxWithdraw, wanted, RoundDown); err != nil {
					return nil, nil, err
				}
				if toWithdraw, err = add(maxWithdraw, unrealised); err != nil {
					return nil, nil, err
				}
			}
			toWithdraw = sub(toWithdraw, unrealised)
			requested = sub(requested, unrealised)
			needed = sub(needed, unrealised)
			totalDebt = sub(totalDebt, unrealised)
			if maxWithdraw.IsZero() && !unrealised.IsZero() {
				newDebt := sub(currentDebt, unrealised)
				params.CurrentDebt = newDebt
				tx.emit(events.VaultDebtUpdated{Vault: vault, Strategy: addr, CurrentDebt: currentDebt, NewDebt: newDebt.Clone()})
			}
		}

		toWithdraw = minOf(toWithdraw, maxWithdraw)
		if toWithdraw.IsZero() {
			continue
		}
		if err := tx.withdrawFromStrategy(impl, toWithdraw); err != nil {
			return nil, nil, err
		}
		postBalance := tx.e.asset.BalanceOf(vault)
		withdrawn := sub(postBalance, previousBalance)
		loss := new(uint256.Int)
		switch {
		case withdrawn.Gt(toWithdraw):
			toWithdraw = minOf(withdrawn, currentDebt)
		case withdrawn.Lt(toWithdraw):
			loss = sub(toWithdraw, withdrawn)
		}

		if idle, err = add(idle, sub(toWithdraw, loss)); err != nil {
			return nil, nil, err
		}
		requested = sub(requested, loss)
		totalDebt = sub(totalDebt, toWithdraw)

		spent, err := add(toWithdraw, unrealised)
		if err != nil {
			return nil, nil, err
		}
		newDebt := sub(currentDebt, spent)
		params.CurrentDebt = newDebt
		tx.emit(events.VaultDebtUpdated{Vault: vault, Strategy: addr, CurrentDebt: currentDebt, NewDebt: newDebt.Clone()})

		if !requested.Gt(idle) {
			break
		}
		previousBalance = postBalance
		needed = sub(needed, toWithdraw)
	}

	if idle.Lt(requested) {
		return nil, nil, fmt.Errorf("%w: idle %s short of %s", ErrInsufficientAssets, idle.Dec(), requested.Dec())
	}
	l.TotalDebt = totalDebt
	return requested, idle, nil
}

func (tx *vaultTx) withdrawalQueue(hint []common.Address) []common.Address {
	if len(hint) != 0 && !tx.l.UseDefaultQueue {
		return hint
	}
	return tx.l.DefaultQueue
}

// Transfer moves shares from caller to receiver.
func (e *Engine) Transfer(caller, receiver common.Address, shares *uint256.Int) error {
	return e.execute("transfer", func(tx *vaultTx) error {
		return tx.transfer(caller, receiver, cloneOrZero(shares))
	})
}

// TransferFrom moves owner's shares on behalf of caller, spending allowance.
func (e *Engine) TransferFrom(caller, owner, receiver common.Address, shares *uint256.Int) error {
	return e.execute("transfer_from", func(tx *vaultTx) error {
		amount := cloneOrZero(shares)
		if err := tx.spendAllowance(owner, caller, amount); err != nil {
			return err
		}
		return tx.transfer(owner, receiver, amount)
	})
}

// Approve sets the share allowance owner grants spender.
func (e *Engine) Approve(owner, spender common.Address, shares *uint256.Int) error {
	return e.execute("approve", func(tx *vaultTx) error {
		if spender == (common.Address{}) {
			return fmt.Errorf("%w: zero spender", ErrInvalidReceiver)
		}
		tx.setAllowance(owner, spender, cloneOrZero(shares))
		return nil
	})
}

func (tx *vaultTx) transfer(from, to common.Address, shares *uint256.Int) error {
	if to == (common.Address{}) || to == tx.vault() {
		return fmt.Errorf("%w: %s", ErrInvalidReceiver, to.Hex())
	}
	if err := tx.burnUnlockedShares(); err != nil {
		return err
	}
	balance := tx.l.BalanceOf(from)
	if balance.Lt(shares) {
		return fmt.Errorf("%w: %s holds %s", ErrInsufficientShares, from.Hex(), balance.Dec())
	}
	if err := tx.burn(from, shares); err != nil {
		return err
	}
	if err := tx.mint(to, shares); err != nil {
		return err
	}
	tx.emit(events.VaultTransfer{Vault: tx.vault(), From: from, To: to, Shares: shares.Clone()})
	return nil
}

package vault

import (
	"github.com/holiman/uint256"
)

// ProfitUnlockState is a snapshot of the profit unlocking schedule.
type ProfitUnlockState struct {
	MaxUnlockTime    uint64
	FullUnlockDate   uint64
	UnlockingRate    *uint256.Int
	LastProfitUpdate uint64
	LockedShares     *uint256.Int
	UnlockedShares   *uint256.Int
}

// unlockedShares returns how many of the vault's locked shares have vested
// since the last profit update.
func (tx *vaultTx) unlockedShares() *uint256.Int {
	l := tx.l
	locked := l.BalanceOf(tx.vault())
	switch {
	case l.FullProfitUnlockDate > tx.now:
		elapsed := uint256.NewInt(tx.now - l.LastProfitUpdate)
		vested, err := mulDiv(orZero(l.ProfitUnlockingRate), elapsed, maxBpsExtended, RoundDown)
		if err != nil {
			return locked
		}
		return minOf(vested, locked)
	case l.FullProfitUnlockDate != 0:
		return locked
	default:
		return new(uint256.Int)
	}
}

// burnUnlockedShares destroys vested profit shares so the share price
// reflects them.
func (tx *vaultTx) burnUnlockedShares() error {
	unlocked := tx.unlockedShares()
	if unlocked.IsZero() {
		return nil
	}
	if err := tx.burn(tx.vault(), unlocked); err != nil {
		return err
	}
	if tx.l.FullProfitUnlockDate > tx.now {
		tx.l.LastProfitUpdate = tx.now
		return nil
	}
	tx.l.FullProfitUnlockDate = 0
	tx.l.ProfitUnlockingRate = new(uint256.Int)
	return nil
}

// manageUnlockingOfShares restarts the unlocking window over every share the
// vault currently holds.
func (tx *vaultTx) manageUnlockingOfShares() error {
	l := tx.l
	total := l.BalanceOf(tx.vault())
	if l.ProfitMaxUnlockTime == 0 || total.IsZero() {
		if err := tx.burn(tx.vault(), total); err != nil {
			return err
		}
		l.ProfitUnlockingRate = new(uint256.Int)
		l.FullProfitUnlockDate = 0
		l.LastProfitUpdate = tx.now
		return nil
	}
	rate, err := mulDiv(total, maxBpsExtended, uint256.NewInt(l.ProfitMaxUnlockTime), RoundDown)
	if err != nil {
		return err
	}
	l.ProfitUnlockingRate = rate
	l.FullProfitUnlockDate = tx.now + l.ProfitMaxUnlockTime
	l.LastProfitUpdate = tx.now
	return nil
}

// rebaseUnlocking keeps the current unlock date while spreading whatever is
// left locked over the remaining window.
func (tx *vaultTx) rebaseUnlocking() error {
	l := tx.l
	remaining := l.BalanceOf(tx.vault())
	if remaining.IsZero() || l.FullProfitUnlockDate <= tx.now {
		if err := tx.burn(tx.vault(), remaining); err != nil {
			return err
		}
		l.ProfitUnlockingRate = new(uint256.Int)
		l.FullProfitUnlockDate = 0
		return nil
	}
	rate, err := mulDiv(remaining, maxBpsExtended, uint256.NewInt(l.FullProfitUnlockDate-tx.now), RoundDown)
	if err != nil {
		return err
	}
	l.ProfitUnlockingRate = rate
	l.LastProfitUpdate = tx.now
	return nil
}

func (tx *vaultTx) profitUnlockState() ProfitUnlockState {
	locked := tx.l.BalanceOf(tx.vault())
	unlocked := tx.unlockedShares()
	return ProfitUnlockState{
		MaxUnlockTime:    tx.l.ProfitMaxUnlockTime,
		FullUnlockDate:   tx.l.FullProfitUnlockDate,
		UnlockingRate:    cloneOrZero(tx.l.ProfitUnlockingRate),
		LastProfitUpdate: tx.l.LastProfitUpdate,
		LockedShares:     sub(locked, unlocked),
		UnlockedShares:   unlocked,
	}
}

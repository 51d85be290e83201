package vault

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"yieldvault/core/events"
)

// AssessProfitAndLoss compares a strategy's current value against the debt
// the vault recorded for it.
func AssessProfitAndLoss(currentTotalAssets, currentDebt *uint256.Int) (gain, loss *uint256.Int) {
	return sub(currentTotalAssets, currentDebt), sub(currentDebt, currentTotalAssets)
}

// CalculateShareManagement converts the loss and fees of a report into share
// movements priced at the supplied totals. SharesToLock is left at zero.
func CalculateShareManagement(loss, totalFees, protocolFees, totalSupply, totalAssets *uint256.Int) (ShareManagement, error) {
	shares := ShareManagement{
		SharesToBurn:         new(uint256.Int),
		AccountantFeesShares: new(uint256.Int),
		ProtocolFeesShares:   new(uint256.Int),
		SharesToLock:         new(uint256.Int),
	}
	burnAssets, err := add(loss, totalFees)
	if err != nil {
		return shares, err
	}
	if !burnAssets.IsZero() {
		if shares.SharesToBurn, err = ConvertToShares(burnAssets, totalSupply, totalAssets, RoundUp); err != nil {
			return shares, err
		}
	}
	if orZero(totalFees).IsZero() {
		return shares, nil
	}
	if shares.AccountantFeesShares, err = ConvertToShares(sub(totalFees, protocolFees), totalSupply, totalAssets, RoundDown); err != nil {
		return shares, err
	}
	if !orZero(protocolFees).IsZero() {
		if shares.ProtocolFeesShares, err = ConvertToShares(protocolFees, totalSupply, totalAssets, RoundDown); err != nil {
			return shares, err
		}
	}
	return shares, nil
}

// ProcessReport realises a strategy's gain or loss against its recorded
// debt, charges fees and locks the profit for gradual release.
func (e *Engine) ProcessReport(actor, strategy common.Address) (ReportInfo, error) {
	var info ReportInfo
	if err := e.requireRole(actor, RoleReportingManager); err != nil {
		return info, err
	}
	err := e.execute("process_report", func(tx *vaultTx) error {
		var err error
		info, err = tx.processReport(strategy)
		return err
	})
	if err != nil {
		return ReportInfo{}, err
	}
	e.metrics.ObserveReport(e.label(), strings.ToLower(strategy.Hex()), toFloat(info.Gain), toFloat(info.Loss))
	slog.Info("vault: strategy reported",
		"vault", e.label(),
		"strategy", strategy.Hex(),
		"gain", info.Gain.Dec(),
		"loss", info.Loss.Dec(),
		"total_fees", info.TotalFees.Dec())
	return info, nil
}

func (tx *vaultTx) processReport(addr common.Address) (ReportInfo, error) {
	impl, params, err := tx.strategy(addr)
	if err != nil {
		return ReportInfo{}, err
	}
	if err := tx.burnUnlockedShares(); err != nil {
		return ReportInfo{}, err
	}
	l := tx.l
	vault := tx.vault()

	previousDebt := params.CurrentDebt.Clone()
	currentTotalAssets := orZero(impl.ConvertToAssets(impl.BalanceOf(vault))).Clone()
	gain, loss := AssessProfitAndLoss(currentTotalAssets, previousDebt)

	fees, err := tx.assessFees(addr, gain, loss)
	if err != nil {
		return ReportInfo{}, err
	}
	ceiling, err := add(gain, previousDebt)
	if err != nil {
		return ReportInfo{}, err
	}
	if fees.TotalFees.Gt(ceiling) {
		return ReportInfo{}, fmt.Errorf("%w: fees %s above %s", ErrFeeExceedsAssets, fees.TotalFees.Dec(), ceiling.Dec())
	}

	shares, err := CalculateShareManagement(loss, fees.TotalFees, fees.ProtocolFees, tx.totalSupply(), l.TotalAssets())
	if err != nil {
		return ReportInfo{}, err
	}
	if l.ProfitMaxUnlockTime != 0 {
		lockAssets, err := add(gain, fees.TotalRefunds)
		if err != nil {
			return ReportInfo{}, err
		}
		if !lockAssets.IsZero() {
			if shares.SharesToLock, err = tx.convertToShares(lockAssets, RoundDown); err != nil {
				return ReportInfo{}, err
			}
		}
	}

	if err := tx.mint(vault, shares.SharesToLock); err != nil {
		return ReportInfo{}, err
	}
	if err := tx.burn(vault, minOf(shares.SharesToBurn, l.BalanceOf(vault))); err != nil {
		return ReportInfo{}, err
	}

	if !fees.TotalRefunds.IsZero() {
		if err := tx.e.asset.TransferFrom(vault, l.Accountant, vault, fees.TotalRefunds); err != nil {
			return ReportInfo{}, fmt.Errorf("vault: pull refunds: %w", err)
		}
		if l.TotalIdle, err = add(l.TotalIdle, fees.TotalRefunds); err != nil {
			return ReportInfo{}, err
		}
	}

	params.CurrentDebt = currentTotalAssets
	if l.TotalDebt, err = add(l.TotalDebt, gain); err != nil {
		return ReportInfo{}, err
	}
	l.TotalDebt = sub(l.TotalDebt, loss)

	if err := tx.mint(l.Accountant, shares.AccountantFeesShares); err != nil {
		return ReportInfo{}, err
	}
	if err := tx.mint(fees.ProtocolFeeRecipient, shares.ProtocolFeesShares); err != nil {
		return ReportInfo{}, err
	}

	if err := tx.manageUnlockingOfShares(); err != nil {
		return ReportInfo{}, err
	}
	params.LastReport = tx.now

	tx.emit(events.VaultStrategyReported{
		Vault:        vault,
		Strategy:     addr,
		Gain:         gain,
		Loss:         loss,
		CurrentDebt:  previousDebt,
		ProtocolFees: fees.ProtocolFees,
		TotalFees:    fees.TotalFees,
		TotalRefunds: fees.TotalRefunds,
	})
	return ReportInfo{
		Gain:         gain,
		Loss:         loss,
		ProtocolFees: fees.ProtocolFees.Clone(),
		TotalFees:    fees.TotalFees.Clone(),
		CurrentDebt:  currentTotalAssets.Clone(),
		Fees:         fees,
		Shares:       shares,
	}, nil
}

func (tx *vaultTx) assessFees(strategy common.Address, gain, loss *uint256.Int) (FeeAssessment, error) {
	fees := FeeAssessment{
		TotalFees:    new(uint256.Int),
		TotalRefunds: new(uint256.Int),
		ProtocolFees: new(uint256.Int),
	}
	accountant, err := tx.accountant()
	if err != nil || accountant == nil {
		return fees, err
	}
	totalFees, totalRefunds, err := accountant.Report(strategy, gain, loss)
	if err != nil {
		return fees, fmt.Errorf("vault: accountant report: %w", err)
	}
	fees.TotalFees = cloneOrZero(totalFees)
	fees.TotalRefunds = cloneOrZero(totalRefunds)
	if !fees.TotalRefunds.IsZero() {
		source := accountant.Address()
		available := minOf(tx.e.asset.BalanceOf(source), tx.e.asset.Allowance(source, tx.vault()))
		fees.TotalRefunds = minOf(fees.TotalRefunds, available)
	}
	if fees.TotalFees.IsZero() || tx.e.factory == nil {
		return fees, nil
	}
	feeBps, recipient := tx.e.factory.ProtocolFeeConfig(tx.vault())
	if uint64(feeBps) > MaxBps {
		return fees, fmt.Errorf("%w: protocol fee %d bps", ErrFeeExceedsMax, feeBps)
	}
	if feeBps == 0 {
		return fees, nil
	}
	if recipient == (common.Address{}) {
		return fees, fmt.Errorf("%w: %d bps", ErrMissingFeeRecipient, feeBps)
	}
	fees.ProtocolFees = bpsOf(fees.TotalFees, uint64(feeBps))
	fees.ProtocolFeeRecipient = recipient
	return fees, nil
}

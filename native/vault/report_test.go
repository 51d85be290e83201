package vault

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"yieldvault/core/events"
	"yieldvault/native/accountant"
	"yieldvault/native/factory"
)

type fixedAccountant struct {
	address common.Address
	fees    *uint256.Int
	refunds *uint256.Int
}

func (a *fixedAccountant) Address() common.Address { return a.address }

func (a *fixedAccountant) Report(common.Address, *uint256.Int, *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	return a.fees, a.refunds, nil
}

func pricePerThousand(t *testing.T, env *testEnv) *uint256.Int {
	t.Helper()
	assets, err := env.engine.ConvertToAssets(u(1000))
	require.NoError(t, err)
	return assets
}

func TestReportLocksProfitAndUnlocksLinearly(t *testing.T) {
	env := newTestEnv(t, 1000)
	env.fundedStrategy(stratA, strategyConfig(), 1000)
	require.NoError(t, env.token.Mint(stratA, u(100)))
	env.emitter.reset()

	info, err := env.engine.ProcessReport(admin, stratA)
	require.NoError(t, err)
	requireAmount(t, 100, info.Gain)
	requireAmount(t, 0, info.Loss)
	requireAmount(t, 1100, info.CurrentDebt)
	requireAmount(t, 100, info.Shares.SharesToLock)

	require.Equal(t, []string{events.TypeVaultStrategyReported}, env.emitter.types())
	reported := env.emitter.events[0].(events.VaultStrategyReported)
	requireAmount(t, 1000, reported.CurrentDebt)

	l := env.ledger()
	requireAmount(t, 1100, l.TotalDebt)
	requireAmount(t, 100, l.BalanceOf(vaultAddr))
	require.Equal(t, uint64(startTime+1000), l.FullProfitUnlockDate)
	env.requireDebtConsistent()

	// No immediate jump in the share price.
	requireAmount(t, 1000, pricePerThousand(t, env))

	env.clock.advance(500)
	unlocked, err := env.engine.UnlockedShares()
	require.NoError(t, err)
	requireAmount(t, 50, unlocked)
	requireAmount(t, 1047, pricePerThousand(t, env))

	env.clock.advance(499)
	unlocked, err = env.engine.UnlockedShares()
	require.NoError(t, err)
	requireAmount(t, 99, unlocked)

	env.clock.advance(1)
	unlocked, err = env.engine.UnlockedShares()
	require.NoError(t, err)
	requireAmount(t, 100, unlocked)
	requireAmount(t, 1100, pricePerThousand(t, env))

	supply, err := env.engine.TotalSupply()
	require.NoError(t, err)
	requireAmount(t, 1000, supply)
}

func TestReportIsIdempotentWithinSameInstant(t *testing.T) {
	env := newTestEnv(t, 1000)
	env.fundedStrategy(stratA, strategyConfig(), 1000)
	require.NoError(t, env.token.Mint(stratA, u(100)))

	_, err := env.engine.ProcessReport(admin, stratA)
	require.NoError(t, err)
	first := env.ledger()

	info, err := env.engine.ProcessReport(admin, stratA)
	require.NoError(t, err)
	requireAmount(t, 0, info.Gain)
	requireAmount(t, 0, info.Loss)

	second := env.ledger()
	require.Equal(t, first.TotalDebt, second.TotalDebt)
	require.Equal(t, first.TotalSupply, second.TotalSupply)
	require.Equal(t, first.ProfitUnlockingRate, second.ProfitUnlockingRate)
	require.Equal(t, first.FullProfitUnlockDate, second.FullProfitUnlockDate)
}

func TestLossIsAbsorbedByLockedProfit(t *testing.T) {
	env := newTestEnv(t, 1000)
	env.fundedStrategy(stratA, strategyConfig(), 1000)
	require.NoError(t, env.token.Mint(stratA, u(100)))
	_, err := env.engine.ProcessReport(admin, stratA)
	require.NoError(t, err)

	require.NoError(t, env.token.Burn(stratA, u(50)))
	info, err := env.engine.ProcessReport(admin, stratA)
	require.NoError(t, err)
	requireAmount(t, 50, info.Loss)
	requireAmount(t, 50, info.Shares.SharesToBurn)

	l := env.ledger()
	requireAmount(t, 50, l.BalanceOf(vaultAddr))
	requireAmount(t, 1050, l.TotalDebt)
	requireAmount(t, 1000, pricePerThousand(t, env))
	env.requireDebtConsistent()
}

func TestUnabsorbedLossLowersSharePrice(t *testing.T) {
	env := newTestEnv(t, 1000)
	env.fundedStrategy(stratA, strategyConfig(), 1000)
	require.NoError(t, env.token.Burn(stratA, u(200)))

	_, err := env.engine.ProcessReport(admin, stratA)
	require.NoError(t, err)
	requireAmount(t, 800, pricePerThousand(t, env))
	pps, err := env.engine.PricePerShare()
	require.NoError(t, err)
	requireAmount(t, 800_000, pps)
}

func TestReportChargesAccountantAndProtocolFees(t *testing.T) {
	env := newTestEnv(t, 1000)
	fees, err := factory.New(factory.Config{DefaultFeeBps: 1000, Recipient: feeRecipient})
	require.NoError(t, err)
	env.engine.factory = fees
	flat, err := accountant.NewFlat(acctAddr, accountant.Config{PerformanceFeeBps: 1000})
	require.NoError(t, err)
	require.NoError(t, env.engine.SetAccountant(admin, flat))

	env.fundedStrategy(stratA, strategyConfig(), 1000)
	require.NoError(t, env.token.Mint(stratA, u(100)))

	info, err := env.engine.ProcessReport(admin, stratA)
	require.NoError(t, err)
	requireAmount(t, 10, info.TotalFees)
	requireAmount(t, 1, info.ProtocolFees)
	requireAmount(t, 10, info.Shares.SharesToBurn)
	requireAmount(t, 9, info.Shares.AccountantFeesShares)
	requireAmount(t, 1, info.Shares.ProtocolFeesShares)

	l := env.ledger()
	requireAmount(t, 9, l.BalanceOf(acctAddr))
	requireAmount(t, 1, l.BalanceOf(feeRecipient))
	requireAmount(t, 90, l.BalanceOf(vaultAddr))
	requireAmount(t, 1100, l.TotalSupply)
	requireAmount(t, 1100, l.TotalAssets())
	require.Equal(t, uint64(1), flat.Record(stratA).Reports)
}

func TestReportRejectsBadFeeSources(t *testing.T) {
	env := newTestEnv(t, 1000)
	env.fundedStrategy(stratA, strategyConfig(), 1000)
	require.NoError(t, env.token.Mint(stratA, u(100)))

	greedy := &fixedAccountant{address: acctAddr, fees: u(5000), refunds: u(0)}
	require.NoError(t, env.engine.SetAccountant(admin, greedy))
	_, err := env.engine.ProcessReport(admin, stratA)
	require.ErrorIs(t, err, ErrFeeExceedsAssets)
	require.Equal(t, CategoryIntegrity, CategoryOf(err))

	greedy.fees = u(10)
	env.engine.factory = ProtocolFeeFunc(func(common.Address) (uint16, common.Address) {
		return uint16(MaxBps + 1), feeRecipient
	})
	_, err = env.engine.ProcessReport(admin, stratA)
	require.ErrorIs(t, err, ErrFeeExceedsMax)

	env.engine.factory = ProtocolFeeFunc(func(common.Address) (uint16, common.Address) {
		return 500, common.Address{}
	})
	_, err = env.engine.ProcessReport(admin, stratA)
	require.ErrorIs(t, err, ErrMissingFeeRecipient)
	require.Equal(t, CategoryIntegrity, CategoryOf(err))

	requireAmount(t, 1000, env.ledger().TotalDebt)
}

func TestReportPullsRefunds(t *testing.T) {
	env := newTestEnv(t, 1000)
	flat, err := accountant.NewFlat(acctAddr, accountant.Config{RefundBps: 5000})
	require.NoError(t, err)
	require.NoError(t, env.engine.SetAccountant(admin, flat))
	env.fundedStrategy(stratA, strategyConfig(), 1000)
	require.NoError(t, env.token.Burn(stratA, u(100)))

	// Only 30 funded: the refund is capped at what the vault can pull.
	require.NoError(t, env.token.Mint(acctAddr, u(30)))
	require.NoError(t, env.token.Approve(acctAddr, vaultAddr, MaxUint256()))

	info, err := env.engine.ProcessReport(admin, stratA)
	require.NoError(t, err)
	requireAmount(t, 30, info.Fees.TotalRefunds)

	l := env.ledger()
	requireAmount(t, 30, l.TotalIdle)
	requireAmount(t, 900, l.TotalDebt)
	requireAmount(t, 0, env.token.BalanceOf(acctAddr))
	requireAmount(t, 930, pricePerThousand(t, env))
}

func TestReportWithoutUnlockWindowReleasesGainImmediately(t *testing.T) {
	env := newTestEnv(t, 0)
	env.fundedStrategy(stratA, strategyConfig(), 1000)
	require.NoError(t, env.token.Mint(stratA, u(100)))

	info, err := env.engine.ProcessReport(admin, stratA)
	require.NoError(t, err)
	requireAmount(t, 0, info.Shares.SharesToLock)
	requireAmount(t, 1100, pricePerThousand(t, env))
	require.Equal(t, uint64(0), env.ledger().FullProfitUnlockDate)
}

func TestClockNeverRunsBackwards(t *testing.T) {
	env := newTestEnv(t, 1000)
	env.fundedStrategy(stratA, strategyConfig(), 1000)
	require.NoError(t, env.token.Mint(stratA, u(100)))
	_, err := env.engine.ProcessReport(admin, stratA)
	require.NoError(t, err)

	env.clock.advance(-500)
	unlocked, err := env.engine.UnlockedShares()
	require.NoError(t, err)
	requireAmount(t, 0, unlocked)
	state, err := env.engine.ProfitUnlock()
	require.NoError(t, err)
	requireAmount(t, 100, state.LockedShares)
}

func TestCalculateShareManagement(t *testing.T) {
	shares, err := CalculateShareManagement(u(0), u(0), u(0), u(1000), u(1000))
	require.NoError(t, err)
	requireAmount(t, 0, shares.SharesToBurn)

	shares, err = CalculateShareManagement(u(3), u(7), u(2), u(1000), u(3000))
	require.NoError(t, err)
	requireAmount(t, 4, shares.SharesToBurn)
	requireAmount(t, 1, shares.AccountantFeesShares)
	requireAmount(t, 0, shares.ProtocolFeesShares)

	gain, loss := AssessProfitAndLoss(u(90), u(100))
	requireAmount(t, 0, gain)
	requireAmount(t, 10, loss)
}

package accountant

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestFlatReport(t *testing.T) {
	strategy := common.HexToAddress("0x5a")
	f, err := NewFlat(common.HexToAddress("0xac"), Config{PerformanceFeeBps: 1000, RefundBps: 5000})
	require.NoError(t, err)

	fees, refunds, err := f.Report(strategy, uint256.NewInt(100), new(uint256.Int))
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(10), fees)
	require.True(t, refunds.IsZero())

	fees, refunds, err = f.Report(strategy, new(uint256.Int), uint256.NewInt(60))
	require.NoError(t, err)
	require.True(t, fees.IsZero())
	require.Equal(t, uint256.NewInt(30), refunds)

	rec := f.Record(strategy)
	require.Equal(t, uint64(2), rec.Reports)
	require.Equal(t, uint256.NewInt(10), rec.Fees)
	require.Equal(t, uint256.NewInt(30), rec.Refunds)

	empty := f.Record(common.HexToAddress("0x01"))
	require.Zero(t, empty.Reports)
	require.True(t, empty.Fees.IsZero())
}

func TestFlatConfigValidation(t *testing.T) {
	_, err := NewFlat(common.Address{}, Config{PerformanceFeeBps: maxBps + 1})
	require.Error(t, err)

	f, err := NewFlat(common.Address{}, Config{})
	require.NoError(t, err)
	require.Error(t, f.SetConfig(Config{RefundBps: maxBps + 1}))
	require.NoError(t, f.SetConfig(Config{PerformanceFeeBps: maxBps}))

	fees, _, err := f.Report(common.Address{}, uint256.NewInt(7), nil)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(7), fees)
}

package vault

import "github.com/holiman/uint256"

const (
	// MaxBps is the basis point denominator used for fees and loss tolerances.
	MaxBps uint64 = 10_000
	// MaxBpsExtended scales the profit unlocking rate for sub-share precision.
	MaxBpsExtended uint64 = 1_000_000_000_000
	// MaxQueue bounds the length of the default withdrawal queue.
	MaxQueue = 10
	// MaxProfitUnlockTime caps the profit unlocking window at one year.
	MaxProfitUnlockTime uint64 = 31_556_952
)

// Rounding selects the direction applied to the remainder of a conversion.
type Rounding uint8

const (
	RoundDown Rounding = iota
	RoundUp
)

func (r Rounding) String() string {
	if r == RoundUp {
		return "up"
	}
	return "down"
}

var (
	maxUint256     = new(uint256.Int).SetAllOne()
	maxBps         = uint256.NewInt(MaxBps)
	maxBpsExtended = uint256.NewInt(MaxBpsExtended)
)

// MaxUint256 returns the sentinel used for unlimited amounts.
func MaxUint256() *uint256.Int { return new(uint256.Int).Set(maxUint256) }

// IsMax reports whether v carries the unlimited sentinel.
func IsMax(v *uint256.Int) bool { return v != nil && v.Eq(maxUint256) }

// ConvertToShares converts assets to shares at the supplied supply and asset
// totals. Zero and the max sentinel pass through untouched. An empty vault
// prices shares 1:1; shares backed by zero assets are worth nothing, so any
// deposit converts to zero shares.
func ConvertToShares(assets, totalSupply, totalAssets *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	assets = orZero(assets)
	if assets.IsZero() || assets.Eq(maxUint256) {
		return assets.Clone(), nil
	}
	totalSupply = orZero(totalSupply)
	totalAssets = orZero(totalAssets)
	if totalAssets.IsZero() {
		if totalSupply.IsZero() {
			return assets.Clone(), nil
		}
		return new(uint256.Int), nil
	}
	return mulDiv(assets, totalSupply, totalAssets, rounding)
}

// ConvertToAssets is the inverse of ConvertToShares. An empty supply prices a
// share at one asset.
func ConvertToAssets(shares, totalSupply, totalAssets *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	shares = orZero(shares)
	if shares.IsZero() || shares.Eq(maxUint256) {
		return shares.Clone(), nil
	}
	totalSupply = orZero(totalSupply)
	if totalSupply.IsZero() {
		return shares.Clone(), nil
	}
	return mulDiv(shares, orZero(totalAssets), totalSupply, rounding)
}

// mulDiv computes x*y/d with a 512-bit intermediate product.
func mulDiv(x, y, d *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrOverflow
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	if rounding == RoundUp && !new(uint256.Int).MulMod(x, y, d).IsZero() {
		if z.Eq(maxUint256) {
			return nil, ErrOverflow
		}
		z.AddUint64(z, 1)
	}
	return z, nil
}

// bpsOf returns amount*bps/MaxBps rounded down.
func bpsOf(amount *uint256.Int, bps uint64) *uint256.Int {
	z, err := mulDiv(orZero(amount), uint256.NewInt(bps), maxBps, RoundDown)
	if err != nil {
		// bps <= MaxBps never overflows; larger values saturate.
		return MaxUint256()
	}
	return z
}

func add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(orZero(x), orZero(y))
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// sub returns x-y, flooring at zero.
func sub(x, y *uint256.Int) *uint256.Int {
	x, y = orZero(x), orZero(y)
	if x.Lt(y) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(x, y)
}

func minOf(x, y *uint256.Int) *uint256.Int {
	x, y = orZero(x), orZero(y)
	if x.Lt(y) {
		return x.Clone()
	}
	return y.Clone()
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

func cloneOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}

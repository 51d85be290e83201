package common

import (
	"errors"
	"math"
	"sync"

	"github.com/holiman/uint256"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaAssetsExceeded   = errors.New("quota asset cap exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for an address.
type QuotaNow struct {
	ReqCount   uint32
	AssetsUsed *uint256.Int
	EpochID    uint64
}

// Quota defines the limits enforced for a module interaction per address.
// Zero values disable the corresponding limit.
type Quota struct {
	MaxRequestsPerEpoch uint32
	MaxAssetsPerEpoch   *uint256.Int
	EpochSeconds        uint32
}

// Epoch maps a unix timestamp onto the quota's epoch counter.
func (q Quota) Epoch(unix int64) uint64 {
	if unix < 0 {
		return 0
	}
	if q.EpochSeconds == 0 {
		return uint64(unix) / 60
	}
	return uint64(unix) / uint64(q.EpochSeconds)
}

// CheckQuota verifies whether the additional request and asset usage fit
// within the configured quota. The returned QuotaNow reflects the updated
// counters when the quota is not exceeded.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32, addAssets *uint256.Int) (QuotaNow, error) {
	next := QuotaNow{ReqCount: prev.ReqCount, AssetsUsed: prev.AssetsUsed, EpochID: prev.EpochID}
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}
	if next.AssetsUsed == nil {
		next.AssetsUsed = new(uint256.Int)
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerEpoch > 0 && next.ReqCount > q.MaxRequestsPerEpoch {
		return prev, ErrQuotaRequestsExceeded
	}

	if addAssets != nil && !addAssets.IsZero() {
		used, overflow := new(uint256.Int).AddOverflow(next.AssetsUsed, addAssets)
		if overflow {
			return prev, ErrQuotaCounterOverflow
		}
		next.AssetsUsed = used
	}
	if q.MaxAssetsPerEpoch != nil && !q.MaxAssetsPerEpoch.IsZero() && next.AssetsUsed.Gt(q.MaxAssetsPerEpoch) {
		return prev, ErrQuotaAssetsExceeded
	}

	return next, nil
}

// QuotaTracker applies one Quota to many addresses.
type QuotaTracker struct {
	mu    sync.Mutex
	quota Quota
	usage map[string]QuotaNow
}

func NewQuotaTracker(q Quota) *QuotaTracker {
	return &QuotaTracker{quota: q, usage: make(map[string]QuotaNow)}
}

// Consume charges one request and assets to key at unix time now.
func (t *QuotaTracker) Consume(key string, now int64, assets *uint256.Int) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	next, err := CheckQuota(t.quota, t.quota.Epoch(now), t.usage[key], 1, assets)
	if err != nil {
		return err
	}
	t.usage[key] = next
	return nil
}

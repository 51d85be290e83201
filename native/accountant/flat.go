package accountant

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const maxBps = 10_000

// Config sets the flat fee policy in basis points.
type Config struct {
	// PerformanceFeeBps is charged on every reported gain.
	PerformanceFeeBps uint64
	// RefundBps of every reported loss is paid back from the accountant's
	// own funds, when it has approved the vault for them.
	RefundBps uint64
}

func (c Config) validate() error {
	if c.PerformanceFeeBps > maxBps {
		return fmt.Errorf("accountant: performance fee %d bps above %d", c.PerformanceFeeBps, maxBps)
	}
	if c.RefundBps > maxBps {
		return fmt.Errorf("accountant: refund %d bps above %d", c.RefundBps, maxBps)
	}
	return nil
}

// Record tallies what the accountant assessed for one strategy.
type Record struct {
	Reports uint64
	Fees    *uint256.Int
	Refunds *uint256.Int
}

// Flat charges a fixed share of gains and refunds a fixed share of losses.
type Flat struct {
	mu      sync.Mutex
	address common.Address
	cfg     Config
	records map[common.Address]*Record
}

func NewFlat(address common.Address, cfg Config) (*Flat, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Flat{address: address, cfg: cfg, records: make(map[common.Address]*Record)}, nil
}

func (f *Flat) Address() common.Address { return f.address }

// SetConfig swaps the fee policy for future reports.
func (f *Flat) SetConfig(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	return nil
}

// Report returns the fees and refunds for a strategy report.
func (f *Flat) Report(strategy common.Address, gain, loss *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fees := bps(gain, f.cfg.PerformanceFeeBps)
	refunds := bps(loss, f.cfg.RefundBps)

	rec := f.records[strategy]
	if rec == nil {
		rec = &Record{Fees: new(uint256.Int), Refunds: new(uint256.Int)}
		f.records[strategy] = rec
	}
	rec.Reports++
	rec.Fees = new(uint256.Int).Add(rec.Fees, fees)
	rec.Refunds = new(uint256.Int).Add(rec.Refunds, refunds)
	return fees, refunds, nil
}

// Record returns a copy of the tally for strategy.
func (f *Flat) Record(strategy common.Address) Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.records[strategy]
	if rec == nil {
		return Record{Fees: new(uint256.Int), Refunds: new(uint256.Int)}
	}
	return Record{Reports: rec.Reports, Fees: rec.Fees.Clone(), Refunds: rec.Refunds.Clone()}
}

func bps(amount *uint256.Int, rate uint64) *uint256.Int {
	if amount == nil || rate == 0 {
		return new(uint256.Int)
	}
	z, overflow := new(uint256.Int).MulDivOverflow(amount, uint256.NewInt(rate), uint256.NewInt(maxBps))
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return z
}

package strategy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrExceedsDeposit     = errors.New("strategy: deposit above limit")
	ErrExceedsRedeem      = errors.New("strategy: redeem above limit")
	ErrInsufficientShares = errors.New("strategy: insufficient shares")
	ErrNotOwner           = errors.New("strategy: caller is not the share owner")
	ErrZeroShares         = errors.New("strategy: zero shares")
	ErrOverflow           = errors.New("strategy: overflow")
)

const maxBps = 10_000

var maxUint256 = new(uint256.Int).SetAllOne()

// Token is the slice of the asset ledger a strategy needs.
type Token interface {
	Address() common.Address
	BalanceOf(owner common.Address) *uint256.Int
	Transfer(from, to common.Address, amount *uint256.Int) error
	TransferFrom(spender, from, to common.Address, amount *uint256.Int) error
}

// Config tunes a Passthrough strategy.
type Config struct {
	// DepositCap bounds the assets the strategy will hold. Nil is unlimited.
	DepositCap *uint256.Int
	// Liquidity bounds the assets redeemable in one call. Nil is unlimited.
	Liquidity *uint256.Int
	// HaircutBps is kept back from every redemption and sent to Sink.
	HaircutBps uint64
	Sink       common.Address
}

// Passthrough is an ERC-4626 style strategy whose assets are simply its
// token balance. Yield and losses are simulated by moving tokens in and
// out of the strategy address.
type Passthrough struct {
	mu sync.Mutex

	address common.Address
	token   Token
	cfg     Config

	totalShares *uint256.Int
	shares      map[common.Address]*uint256.Int

	snapshots []shareSnapshot
}

type shareSnapshot struct {
	totalShares *uint256.Int
	shares      map[common.Address]*uint256.Int
}

// NewPassthrough returns a strategy at address holding token.
func NewPassthrough(address common.Address, token Token, cfg Config) (*Passthrough, error) {
	if cfg.HaircutBps > maxBps {
		return nil, fmt.Errorf("strategy: haircut %d bps above %d", cfg.HaircutBps, maxBps)
	}
	if cfg.HaircutBps > 0 && cfg.Sink == (common.Address{}) {
		return nil, errors.New("strategy: haircut requires a sink address")
	}
	return &Passthrough{
		address:     address,
		token:       token,
		cfg:         cfg,
		totalShares: new(uint256.Int),
		shares:      make(map[common.Address]*uint256.Int),
	}, nil
}

func (s *Passthrough) Address() common.Address { return s.address }
func (s *Passthrough) Asset() common.Address   { return s.token.Address() }

// TotalAssets is the strategy's token balance.
func (s *Passthrough) TotalAssets() *uint256.Int { return s.token.BalanceOf(s.address) }

func (s *Passthrough) TotalSupply() *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalShares.Clone()
}

func (s *Passthrough) BalanceOf(owner common.Address) *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceOf(owner)
}

func (s *Passthrough) ConvertToShares(assets *uint256.Int) *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toShares(assets, false)
}

func (s *Passthrough) ConvertToAssets(shares *uint256.Int) *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toAssets(shares)
}

// MaxDeposit returns the room left under the deposit cap.
func (s *Passthrough) MaxDeposit(common.Address) *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxDeposit()
}

// SetDepositCap replaces the deposit cap. Nil removes it.
func (s *Passthrough) SetDepositCap(limit *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.DepositCap = limit
}

// SetLiquidity replaces the per-call redeem limit. Nil removes it.
func (s *Passthrough) SetLiquidity(limit *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Liquidity = limit
}

func (s *Passthrough) maxDeposit() *uint256.Int {
	if s.cfg.DepositCap == nil {
		return maxUint256.Clone()
	}
	held := s.TotalAssets()
	if !held.Lt(s.cfg.DepositCap) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(s.cfg.DepositCap, held)
}

// MaxRedeem returns owner's shares, limited by the strategy's liquidity.
func (s *Passthrough) MaxRedeem(owner common.Address) *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxRedeem(owner)
}

// PreviewWithdraw returns the shares needed to withdraw assets, rounded up.
func (s *Passthrough) PreviewWithdraw(assets *uint256.Int) *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toShares(assets, true)
}

// Deposit pulls assets from caller and mints shares to receiver.
func (s *Passthrough) Deposit(caller common.Address, assets *uint256.Int, receiver common.Address) (*uint256.Int, error) {
	if assets == nil || assets.IsZero() {
		return nil, ErrZeroShares
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if room := s.maxDeposit(); assets.Gt(room) {
		return nil, fmt.Errorf("%w: %s above %s", ErrExceedsDeposit, assets.Dec(), room.Dec())
	}
	minted := s.toShares(assets, false)
	if minted.IsZero() {
		return nil, ErrZeroShares
	}
	if err := s.token.TransferFrom(s.address, caller, s.address, assets); err != nil {
		return nil, err
	}
	supply, overflow := new(uint256.Int).AddOverflow(s.totalShares, minted)
	if overflow {
		return nil, ErrOverflow
	}
	s.totalShares = supply
	s.shares[receiver] = new(uint256.Int).Add(s.balanceOf(receiver), minted)
	return minted, nil
}

// Redeem burns owner's shares and sends their value, less the haircut, to
// receiver.
func (s *Passthrough) Redeem(caller common.Address, shares *uint256.Int, receiver, owner common.Address) (*uint256.Int, error) {
	if caller != owner {
		return nil, ErrNotOwner
	}
	if shares == nil || shares.IsZero() {
		return nil, ErrZeroShares
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit := s.maxRedeem(owner); shares.Gt(limit) {
		return nil, fmt.Errorf("%w: %s above %s", ErrExceedsRedeem, shares.Dec(), limit.Dec())
	}
	assets := s.toAssets(shares)
	if err := s.debit(owner, shares); err != nil {
		return nil, err
	}
	s.totalShares = new(uint256.Int).Sub(s.totalShares, shares)

	paid := assets
	if s.cfg.HaircutBps > 0 && !assets.IsZero() {
		haircut := mulDiv(assets, uint256.NewInt(s.cfg.HaircutBps), uint256.NewInt(maxBps), false)
		paid = new(uint256.Int).Sub(assets, haircut)
		if err := s.token.Transfer(s.address, s.cfg.Sink, haircut); err != nil {
			return nil, err
		}
	}
	if err := s.token.Transfer(s.address, receiver, paid); err != nil {
		return nil, err
	}
	return paid, nil
}

// Transfer moves shares between holders.
func (s *Passthrough) Transfer(from, to common.Address, shares *uint256.Int) error {
	if to == (common.Address{}) {
		return errors.New("strategy: zero receiver")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.debit(from, shares); err != nil {
		return err
	}
	s.shares[to] = new(uint256.Int).Add(s.balanceOf(to), shares)
	return nil
}

func (s *Passthrough) Snapshot() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := shareSnapshot{
		totalShares: s.totalShares.Clone(),
		shares:      make(map[common.Address]*uint256.Int, len(s.shares)),
	}
	for owner, balance := range s.shares {
		snap.shares[owner] = balance.Clone()
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1
}

func (s *Passthrough) RevertToSnapshot(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || id >= len(s.snapshots) {
		return
	}
	s.totalShares = s.snapshots[id].totalShares
	s.shares = s.snapshots[id].shares
	s.snapshots = s.snapshots[:id]
}

func (s *Passthrough) DiscardSnapshot(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || id >= len(s.snapshots) {
		return
	}
	s.snapshots = s.snapshots[:id]
}

func (s *Passthrough) balanceOf(owner common.Address) *uint256.Int {
	if balance, ok := s.shares[owner]; ok {
		return balance.Clone()
	}
	return new(uint256.Int)
}

func (s *Passthrough) debit(owner common.Address, shares *uint256.Int) error {
	balance := s.balanceOf(owner)
	if balance.Lt(shares) {
		return fmt.Errorf("%w: %s holds %s", ErrInsufficientShares, owner.Hex(), balance.Dec())
	}
	remaining := new(uint256.Int).Sub(balance, shares)
	if remaining.IsZero() {
		delete(s.shares, owner)
		return nil
	}
	s.shares[owner] = remaining
	return nil
}

func (s *Passthrough) maxRedeem(owner common.Address) *uint256.Int {
	balance := s.balanceOf(owner)
	if s.cfg.Liquidity == nil {
		return balance
	}
	liquid := s.toShares(s.cfg.Liquidity, false)
	if liquid.Lt(balance) {
		return liquid
	}
	return balance
}

func (s *Passthrough) toShares(assets *uint256.Int, roundUp bool) *uint256.Int {
	if assets == nil || assets.IsZero() {
		return new(uint256.Int)
	}
	total := s.token.BalanceOf(s.address)
	if s.totalShares.IsZero() {
		return assets.Clone()
	}
	if total.IsZero() {
		return new(uint256.Int)
	}
	return mulDiv(assets, s.totalShares, total, roundUp)
}

func (s *Passthrough) toAssets(shares *uint256.Int) *uint256.Int {
	if shares == nil || shares.IsZero() {
		return new(uint256.Int)
	}
	if s.totalShares.IsZero() {
		return shares.Clone()
	}
	return mulDiv(shares, s.token.BalanceOf(s.address), s.totalShares, false)
}

func mulDiv(x, y, d *uint256.Int, roundUp bool) *uint256.Int {
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return maxUint256.Clone()
	}
	if roundUp && !new(uint256.Int).MulMod(x, y, d).IsZero() {
		z.AddUint64(z, 1)
	}
	return z
}

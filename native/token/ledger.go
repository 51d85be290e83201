package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrZeroAddress           = errors.New("token: zero address")
	ErrSupplyOverflow        = errors.New("token: supply overflow")
)

var maxUint256 = new(uint256.Int).SetAllOne()

// Ledger is an in-memory fungible token with ERC-20 style allowances. An
// allowance of 2^256-1 is never decremented.
type Ledger struct {
	mu sync.Mutex

	address  common.Address
	symbol   string
	decimals uint8

	supply     *uint256.Int
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int

	snapshots []ledgerSnapshot
}

type ledgerSnapshot struct {
	supply     *uint256.Int
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
}

// NewLedger returns an empty token ledger.
func NewLedger(address common.Address, symbol string, decimals uint8) *Ledger {
	return &Ledger{
		address:    address,
		symbol:     symbol,
		decimals:   decimals,
		supply:     new(uint256.Int),
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

func (l *Ledger) Address() common.Address { return l.address }
func (l *Ledger) Symbol() string          { return l.symbol }
func (l *Ledger) Decimals() uint8         { return l.decimals }

func (l *Ledger) TotalSupply() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.supply.Clone()
}

func (l *Ledger) BalanceOf(owner common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceOf(owner)
}

func (l *Ledger) Allowance(owner, spender common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount, ok := l.allowances[owner][spender]; ok {
		return amount.Clone()
	}
	return new(uint256.Int)
}

// Mint creates amount new tokens for to.
func (l *Ledger) Mint(to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	supply, overflow := new(uint256.Int).AddOverflow(l.supply, amount)
	if overflow {
		return ErrSupplyOverflow
	}
	l.supply = supply
	l.balances[to] = new(uint256.Int).Add(l.balanceOf(to), amount)
	return nil
}

// Burn destroys amount of from's tokens.
func (l *Ledger) Burn(from common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.debit(from, amount); err != nil {
		return err
	}
	l.supply = new(uint256.Int).Sub(l.supply, amount)
	return nil
}

func (l *Ledger) Transfer(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(from, to, amount)
}

func (l *Ledger) Approve(owner, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	spenders := l.allowances[owner]
	if spenders == nil {
		spenders = make(map[common.Address]*uint256.Int)
		l.allowances[owner] = spenders
	}
	if amount == nil || amount.IsZero() {
		delete(spenders, spender)
		return nil
	}
	spenders[spender] = amount.Clone()
	return nil
}

// TransferFrom moves from's tokens to to, spending the allowance from
// granted spender. Moving one's own tokens needs no allowance.
func (l *Ledger) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if spender != from {
		allowed := new(uint256.Int)
		if current, ok := l.allowances[from][spender]; ok {
			allowed = current
		}
		if !allowed.Eq(maxUint256) {
			if allowed.Lt(amount) {
				return fmt.Errorf("%w: %s may spend %s", ErrInsufficientAllowance, spender.Hex(), allowed.Dec())
			}
			l.allowances[from][spender] = new(uint256.Int).Sub(allowed, amount)
		}
	}
	return l.move(from, to, amount)
}

// Snapshot records the current balances so a failed caller can undo its
// transfers. Ids are only valid until reverted past.
func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap := ledgerSnapshot{
		supply:     l.supply.Clone(),
		balances:   make(map[common.Address]*uint256.Int, len(l.balances)),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int, len(l.allowances)),
	}
	for addr, balance := range l.balances {
		snap.balances[addr] = balance.Clone()
	}
	for owner, spenders := range l.allowances {
		inner := make(map[common.Address]*uint256.Int, len(spenders))
		for spender, amount := range spenders {
			inner[spender] = amount.Clone()
		}
		snap.allowances[owner] = inner
	}
	l.snapshots = append(l.snapshots, snap)
	return len(l.snapshots) - 1
}

// RevertToSnapshot restores the state captured by Snapshot(id) and drops
// every later snapshot.
func (l *Ledger) RevertToSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id < 0 || id >= len(l.snapshots) {
		return
	}
	snap := l.snapshots[id]
	l.supply = snap.supply
	l.balances = snap.balances
	l.allowances = snap.allowances
	l.snapshots = l.snapshots[:id]
}

// DiscardSnapshot drops Snapshot(id) and every later snapshot while keeping
// the current state.
func (l *Ledger) DiscardSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id < 0 || id >= len(l.snapshots) {
		return
	}
	l.snapshots = l.snapshots[:id]
}

func (l *Ledger) balanceOf(owner common.Address) *uint256.Int {
	if balance, ok := l.balances[owner]; ok {
		return balance.Clone()
	}
	return new(uint256.Int)
}

func (l *Ledger) debit(from common.Address, amount *uint256.Int) error {
	balance := l.balanceOf(from)
	if balance.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s", ErrInsufficientBalance, from.Hex(), balance.Dec())
	}
	remaining := new(uint256.Int).Sub(balance, amount)
	if remaining.IsZero() {
		delete(l.balances, from)
		return nil
	}
	l.balances[from] = remaining
	return nil
}

func (l *Ledger) move(from, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	if err := l.debit(from, amount); err != nil {
		return err
	}
	l.balances[to] = new(uint256.Int).Add(l.balanceOf(to), amount)
	return nil
}

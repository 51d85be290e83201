package vault

import (
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"yieldvault/core/events"
	nativecommon "yieldvault/native/common"
	"yieldvault/observability/metrics"
)

const moduleName = "vault"

type engineState interface {
	GetLedger() (*Ledger, error)
	PutLedger(ledger *Ledger) error
}

// Reverter is implemented by collaborators that can roll their own state
// back when a vault call fails after calling them.
type Reverter interface {
	Snapshot() int
	RevertToSnapshot(id int)
	DiscardSnapshot(id int)
}

// Engine is the vault accounting state machine. Every entry point runs
// under a single mutex against a private copy of the ledger that is only
// persisted when the call succeeds.
type Engine struct {
	mu sync.Mutex

	address common.Address
	asset   Asset
	factory ProtocolFeeSource
	state   engineState

	strategies          map[common.Address]Strategy
	accountant          Accountant
	depositLimitModule  DepositLimitModule
	withdrawLimitModule WithdrawLimitModule

	roles   RoleView
	pauses  nativecommon.PauseView
	emitter events.Emitter
	metrics *metrics.VaultMetrics
	nowFn   func() int64
}

// NewEngine constructs a vault engine for asset. The factory supplies the
// protocol fee configuration and may be nil when no protocol fee applies.
func NewEngine(address common.Address, asset Asset, factory ProtocolFeeSource) *Engine {
	return &Engine{
		address:    address,
		asset:      asset,
		factory:    factory,
		strategies: make(map[common.Address]Strategy),
		emitter:    events.NoopEmitter{},
		nowFn:      func() int64 { return time.Now().Unix() },
	}
}

// Address returns the vault's own address, which also holds locked profit
// shares.
func (e *Engine) Address() common.Address { return e.address }

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRoles configures the capability check applied to managed operations.
func (e *Engine) SetRoles(roles RoleView) {
	if e == nil {
		return
	}
	e.roles = roles
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetMetrics(m *metrics.VaultMetrics) {
	if e == nil {
		return
	}
	e.metrics = m
}

// SetNowFunc overrides the unix-seconds clock. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Initialize persists an empty ledger unless one already exists.
func (e *Engine) Initialize(decimals uint8, profitMaxUnlockTime uint64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if profitMaxUnlockTime > MaxProfitUnlockTime {
		return ErrProfitUnlockTooLong
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	existing, err := e.state.GetLedger()
	if err != nil {
		return fmt.Errorf("vault: load ledger: %w", err)
	}
	if existing != nil {
		if existing.Asset != e.asset.Address() {
			return fmt.Errorf("vault: stored ledger tracks asset %s", existing.Asset.Hex())
		}
		return nil
	}
	return e.state.PutLedger(NewLedger(e.asset.Address(), decimals, profitMaxUnlockTime))
}

// BindStrategy attaches the implementation of an already active strategy,
// typically after a restart.
func (e *Engine) BindStrategy(strategy Strategy) error {
	if strategy == nil {
		return ErrInvalidStrategy
	}
	return e.view(func(tx *vaultTx) error {
		if _, err := tx.strategyParams(strategy.Address()); err != nil {
			return err
		}
		if strategy.Asset() != tx.l.Asset {
			return ErrInvalidStrategy
		}
		e.strategies[strategy.Address()] = strategy
		return nil
	})
}

// BindAccountant attaches the implementation of the recorded accountant.
func (e *Engine) BindAccountant(accountant Accountant) error {
	if accountant == nil {
		return nil
	}
	return e.view(func(tx *vaultTx) error {
		if tx.l.Accountant != accountant.Address() {
			return fmt.Errorf("vault: recorded accountant is %s", tx.l.Accountant.Hex())
		}
		e.accountant = accountant
		return nil
	})
}

// vaultTx carries the working copy of the ledger for one entry point.
type vaultTx struct {
	e        *Engine
	l        *Ledger
	now      uint64
	events   []events.Event
	onCommit []func()
}

func (e *Engine) begin() (*vaultTx, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	stored, err := e.state.GetLedger()
	if err != nil {
		return nil, fmt.Errorf("vault: load ledger: %w", err)
	}
	if stored == nil {
		return nil, ErrNotInitialised
	}
	ledger := stored.Clone()
	ledger.EnsureDefaults()
	now := e.now()
	if now < ledger.LastProfitUpdate {
		now = ledger.LastProfitUpdate
	}
	return &vaultTx{e: e, l: ledger, now: now}, nil
}

// execute runs fn as one all-or-nothing call.
func (e *Engine) execute(operation string, fn func(tx *vaultTx) error) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.begin()
	if err != nil {
		e.metrics.ObserveOperation(e.label(), operation, err)
		return err
	}
	reverters := e.reverters()
	snapshots := make([]int, len(reverters))
	for i, r := range reverters {
		snapshots[i] = r.Snapshot()
	}
	err = fn(tx)
	if err == nil {
		err = e.state.PutLedger(tx.l)
		if err != nil {
			err = fmt.Errorf("vault: persist ledger: %w", err)
		}
	}
	e.metrics.ObserveOperation(e.label(), operation, err)
	if err != nil {
		for i := len(reverters) - 1; i >= 0; i-- {
			reverters[i].RevertToSnapshot(snapshots[i])
		}
		slog.Debug("vault: operation reverted", "operation", operation, "error", err)
		return err
	}
	for i := len(reverters) - 1; i >= 0; i-- {
		reverters[i].DiscardSnapshot(snapshots[i])
	}
	for _, hook := range tx.onCommit {
		hook()
	}
	for _, evt := range tx.events {
		e.emitter.Emit(evt)
	}
	e.publishTotals(tx)
	return nil
}

// view runs fn against a private ledger copy without persisting anything.
func (e *Engine) view(fn func(tx *vaultTx) error) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	tx, err := e.begin()
	if err != nil {
		return err
	}
	return fn(tx)
}

func (e *Engine) reverters() []Reverter {
	var out []Reverter
	seen := make(map[any]bool)
	collect := func(v any) {
		r, ok := v.(Reverter)
		if !ok || seen[v] {
			return
		}
		seen[v] = true
		out = append(out, r)
	}
	collect(e.asset)
	for _, s := range e.strategies {
		collect(s)
	}
	if e.accountant != nil {
		collect(e.accountant)
	}
	return out
}

func (e *Engine) now() uint64 {
	if e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	ts := e.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (e *Engine) label() string {
	return strings.ToLower(e.address.Hex())
}

func (e *Engine) requireRole(actor common.Address, role Role) error {
	if e.roles == nil || !e.roles.HasRole(actor, role) {
		return fmt.Errorf("%w: %s lacks %s", ErrUnauthorized, actor.Hex(), role)
	}
	return nil
}

func (e *Engine) publishTotals(tx *vaultTx) {
	if e.metrics == nil {
		return
	}
	supply := tx.totalSupply()
	pps, err := tx.pricePerShare()
	if err != nil {
		pps = new(uint256.Int)
	}
	unit := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(tx.l.Decimals)), nil))
	ppsFloat, _ := new(big.Float).Quo(new(big.Float).SetInt(pps.ToBig()), unit).Float64()
	e.metrics.SetTotals(e.label(), metrics.VaultTotals{
		Idle:          toFloat(tx.l.TotalIdle),
		Debt:          toFloat(tx.l.TotalDebt),
		Supply:        toFloat(supply),
		PricePerShare: ppsFloat,
		LockedShares:  toFloat(tx.l.BalanceOf(e.address)),
	})
}

func toFloat(v *uint256.Int) float64 {
	f, _ := new(big.Float).SetInt(orZero(v).ToBig()).Float64()
	return f
}

func (tx *vaultTx) emit(evt events.Event) {
	tx.events = append(tx.events, evt)
}

func (tx *vaultTx) afterCommit(hook func()) {
	tx.onCommit = append(tx.onCommit, hook)
}

func (tx *vaultTx) vault() common.Address { return tx.e.address }

func (tx *vaultTx) strategyParams(addr common.Address) (*StrategyParams, error) {
	params, ok := tx.l.Strategies[addr]
	if !ok || !params.Active() {
		return nil, fmt.Errorf("%w: %s", ErrInactiveStrategy, addr.Hex())
	}
	return params, nil
}

func (tx *vaultTx) strategy(addr common.Address) (Strategy, *StrategyParams, error) {
	params, err := tx.strategyParams(addr)
	if err != nil {
		return nil, nil, err
	}
	impl, ok := tx.e.strategies[addr]
	if !ok || impl == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnboundStrategy, addr.Hex())
	}
	return impl, params, nil
}

// accountant returns the implementation of the recorded accountant, nil when
// none is recorded.
func (tx *vaultTx) accountant() (Accountant, error) {
	recorded := tx.l.Accountant
	if recorded == (common.Address{}) {
		return nil, nil
	}
	if impl := tx.e.accountant; impl != nil && impl.Address() == recorded {
		return impl, nil
	}
	return nil, fmt.Errorf("%w: accountant %s", ErrUnboundCollaborator, recorded.Hex())
}

func (tx *vaultTx) depositLimitModule() (DepositLimitModule, error) {
	recorded := tx.l.DepositLimitModule
	if recorded == (common.Address{}) {
		return nil, nil
	}
	if impl := tx.e.depositLimitModule; impl != nil && impl.Address() == recorded {
		return impl, nil
	}
	return nil, fmt.Errorf("%w: deposit limit module %s", ErrUnboundCollaborator, recorded.Hex())
}

func (tx *vaultTx) withdrawLimitModule() (WithdrawLimitModule, error) {
	recorded := tx.l.WithdrawLimitModule
	if recorded == (common.Address{}) {
		return nil, nil
	}
	if impl := tx.e.withdrawLimitModule; impl != nil && impl.Address() == recorded {
		return impl, nil
	}
	return nil, fmt.Errorf("%w: withdraw limit module %s", ErrUnboundCollaborator, recorded.Hex())
}

// totalSupply is the minted supply less shares that already finished
// unlocking but have not been burned yet.
func (tx *vaultTx) totalSupply() *uint256.Int {
	return sub(tx.l.TotalSupply, tx.unlockedShares())
}

func (tx *vaultTx) convertToShares(assets *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	return ConvertToShares(assets, tx.totalSupply(), tx.l.TotalAssets(), rounding)
}

func (tx *vaultTx) convertToAssets(shares *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	return ConvertToAssets(shares, tx.totalSupply(), tx.l.TotalAssets(), rounding)
}

func (tx *vaultTx) pricePerShare() (*uint256.Int, error) {
	unit := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(tx.l.Decimals)))
	return tx.convertToAssets(unit, RoundDown)
}

func (tx *vaultTx) mint(to common.Address, shares *uint256.Int) error {
	if shares == nil || shares.IsZero() {
		return nil
	}
	supply, err := add(tx.l.TotalSupply, shares)
	if err != nil {
		return err
	}
	balance, err := add(tx.l.Balances[to], shares)
	if err != nil {
		return err
	}
	tx.l.TotalSupply = supply
	tx.l.Balances[to] = balance
	return nil
}

func (tx *vaultTx) burn(from common.Address, shares *uint256.Int) error {
	if shares == nil || shares.IsZero() {
		return nil
	}
	balance := tx.l.BalanceOf(from)
	if balance.Lt(shares) {
		return fmt.Errorf("%w: %s holds %s, burning %s", ErrInsufficientShares, from.Hex(), balance.Dec(), shares.Dec())
	}
	remaining := new(uint256.Int).Sub(balance, shares)
	if remaining.IsZero() {
		delete(tx.l.Balances, from)
	} else {
		tx.l.Balances[from] = remaining
	}
	tx.l.TotalSupply = sub(tx.l.TotalSupply, shares)
	return nil
}

func (tx *vaultTx) spendAllowance(owner, spender common.Address, shares *uint256.Int) error {
	current := tx.l.Allowance(owner, spender)
	if IsMax(current) {
		return nil
	}
	if current.Lt(shares) {
		return fmt.Errorf("%w: %s may spend %s of %s", ErrInsufficientAllowance, spender.Hex(), current.Dec(), owner.Hex())
	}
	tx.setAllowance(owner, spender, new(uint256.Int).Sub(current, shares))
	return nil
}

func (tx *vaultTx) setAllowance(owner, spender common.Address, amount *uint256.Int) {
	spenders := tx.l.Allowances[owner]
	if amount.IsZero() {
		if spenders != nil {
			delete(spenders, spender)
			if len(spenders) == 0 {
				delete(tx.l.Allowances, owner)
			}
		}
		return
	}
	if spenders == nil {
		spenders = make(map[common.Address]*uint256.Int)
		tx.l.Allowances[owner] = spenders
	}
	spenders[spender] = amount.Clone()
}

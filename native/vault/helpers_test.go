package vault

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"yieldvault/core/events"
	"yieldvault/native/strategy"
	"yieldvault/native/token"
)

var (
	vaultAddr    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	assetAddr    = common.HexToAddress("0x00000000000000000000000000000000000000ab")
	admin        = common.HexToAddress("0x0000000000000000000000000000000000000001")
	alice        = common.HexToAddress("0x0000000000000000000000000000000000000002")
	bob          = common.HexToAddress("0x0000000000000000000000000000000000000003")
	feeRecipient = common.HexToAddress("0x0000000000000000000000000000000000000004")
	acctAddr     = common.HexToAddress("0x0000000000000000000000000000000000000005")
	sinkAddr     = common.HexToAddress("0x0000000000000000000000000000000000000006")
	stratA       = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	stratB       = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

const startTime int64 = 1_700_000_000

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

type memState struct {
	ledger  *Ledger
	failPut error
	puts    int
}

func (m *memState) GetLedger() (*Ledger, error) {
	return m.ledger.Clone(), nil
}

func (m *memState) PutLedger(l *Ledger) error {
	if m.failPut != nil {
		return m.failPut
	}
	m.puts++
	m.ledger = l.Clone()
	return nil
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) types() []string {
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.EventType())
	}
	return out
}

func (r *recordingEmitter) reset() { r.events = nil }

type testClock struct {
	now int64
}

func (c *testClock) Now() int64 { return c.now }

func (c *testClock) advance(seconds int64) { c.now += seconds }

type testEnv struct {
	t       *testing.T
	engine  *Engine
	token   *token.Ledger
	state   *memState
	roles   *RoleSet
	emitter *recordingEmitter
	clock   *testClock
}

func newTestEnv(t *testing.T, profitMaxUnlockTime uint64) *testEnv {
	t.Helper()
	tok := token.NewLedger(assetAddr, "USDC", 6)
	engine := NewEngine(vaultAddr, tok, nil)
	st := &memState{}
	engine.SetState(st)
	roles := NewRoleSet()
	roles.Grant(admin, RoleAll)
	engine.SetRoles(roles)
	emitter := &recordingEmitter{}
	engine.SetEmitter(emitter)
	clock := &testClock{now: startTime}
	engine.SetNowFunc(clock.Now)
	require.NoError(t, engine.Initialize(6, profitMaxUnlockTime))
	return &testEnv{t: t, engine: engine, token: tok, state: st, roles: roles, emitter: emitter, clock: clock}
}

// fund mints tokens to who and approves the vault for all of them.
func (env *testEnv) fund(who common.Address, amount uint64) {
	env.t.Helper()
	require.NoError(env.t, env.token.Mint(who, u(amount)))
	require.NoError(env.t, env.token.Approve(who, vaultAddr, MaxUint256()))
}

func (env *testEnv) deposit(who common.Address, amount uint64) *uint256.Int {
	env.t.Helper()
	env.fund(who, amount)
	shares, err := env.engine.Deposit(who, u(amount), who)
	require.NoError(env.t, err)
	return shares
}

func strategyConfig() strategy.Config { return strategy.Config{} }

func (env *testEnv) addStrategy(addr common.Address, cfg strategy.Config, maxDebt uint64) *strategy.Passthrough {
	env.t.Helper()
	s, err := strategy.NewPassthrough(addr, env.token, cfg)
	require.NoError(env.t, err)
	require.NoError(env.t, env.engine.AddStrategy(admin, s))
	require.NoError(env.t, env.engine.UpdateMaxDebt(admin, addr, u(maxDebt)))
	return s
}

// fundedStrategy deposits amount for alice and moves all of it into a new
// strategy.
func (env *testEnv) fundedStrategy(addr common.Address, cfg strategy.Config, amount uint64) *strategy.Passthrough {
	env.t.Helper()
	env.deposit(alice, amount)
	s := env.addStrategy(addr, cfg, amount)
	_, err := env.engine.UpdateDebt(admin, addr, u(amount))
	require.NoError(env.t, err)
	return s
}

func (env *testEnv) ledger() *Ledger {
	env.t.Helper()
	l, err := env.engine.Ledger()
	require.NoError(env.t, err)
	return l
}

// requireDebtConsistent checks that strategy debts sum to the total debt.
func (env *testEnv) requireDebtConsistent() {
	env.t.Helper()
	l := env.ledger()
	sum := new(uint256.Int)
	for _, params := range l.Strategies {
		sum.Add(sum, params.CurrentDebt)
	}
	require.Equal(env.t, l.TotalDebt.Dec(), sum.Dec(), "sum of strategy debts")
}

func requireAmount(t *testing.T, want uint64, got *uint256.Int, msgAndArgs ...interface{}) {
	t.Helper()
	require.NotNil(t, got, msgAndArgs...)
	require.Equal(t, u(want).Dec(), got.Dec(), msgAndArgs...)
}

package state

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"yieldvault/native/strategy"
	"yieldvault/native/token"
	"yieldvault/native/vault"
	"yieldvault/storage"
)

var (
	testVault     = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testAsset     = common.HexToAddress("0x00000000000000000000000000000000000000ab")
	testAdmin     = common.HexToAddress("0x0000000000000000000000000000000000000001")
	testDepositor = common.HexToAddress("0x0000000000000000000000000000000000000002")
	testStrategy  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func sampleLedger() *vault.Ledger {
	l := vault.NewLedger(testAsset, 6, 3600)
	l.TotalIdle = uint256.NewInt(400)
	l.TotalDebt = uint256.NewInt(600)
	l.TotalSupply = uint256.NewInt(1000)
	l.MinimumTotalIdle = uint256.NewInt(50)
	l.Accountant = common.HexToAddress("0xac")
	l.DefaultQueue = []common.Address{testStrategy}
	l.UseDefaultQueue = true
	l.FullProfitUnlockDate = 1_700_003_600
	l.ProfitUnlockingRate = new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	l.LastProfitUpdate = 1_700_000_000
	l.Strategies[testStrategy] = &vault.StrategyParams{
		Activation:  1_699_999_000,
		LastReport:  1_700_000_000,
		CurrentDebt: uint256.NewInt(600),
		MaxDebt:     vault.MaxUint256(),
	}
	l.Balances[testDepositor] = uint256.NewInt(990)
	l.Balances[testVault] = uint256.NewInt(10)
	l.Allowances[testDepositor] = map[common.Address]*uint256.Int{testAdmin: uint256.NewInt(7)}
	return l
}

func TestVaultStoreRoundTrip(t *testing.T) {
	store := NewVaultStore(storage.NewMemDB(), testVault)
	got, err := store.GetLedger()
	if err != nil {
		t.Fatalf("get empty: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no ledger, got %+v", got)
	}

	want := sampleLedger()
	if err := store.PutLedger(want); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err = store.GetLedger()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", want, got)
	}

	other := NewVaultStore(storage.NewMemDB(), common.HexToAddress("0xbb"))
	if l, err := other.GetLedger(); err != nil || l != nil {
		t.Fatalf("ledgers must be keyed per vault: %v %v", l, err)
	}
}

func TestVaultStoreDropsZeroEntries(t *testing.T) {
	store := NewVaultStore(storage.NewMemDB(), testVault)
	l := sampleLedger()
	l.Balances[testAdmin] = new(uint256.Int)
	l.Allowances[testAdmin] = map[common.Address]*uint256.Int{testDepositor: new(uint256.Int)}
	if err := store.PutLedger(l); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := store.GetLedger()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, ok := got.Balances[testAdmin]; ok {
		t.Fatalf("zero balance persisted")
	}
	if _, ok := got.Allowances[testAdmin]; ok {
		t.Fatalf("zero allowance persisted")
	}
}

func TestVaultStoreRejectsNilLedger(t *testing.T) {
	store := NewVaultStore(storage.NewMemDB(), testVault)
	if err := store.PutLedger(nil); err == nil {
		t.Fatalf("expected error for nil ledger")
	}
	var missing *VaultStore
	if _, err := missing.GetLedger(); err == nil {
		t.Fatalf("expected error for nil store")
	}
}

// The engine keeps running against a reopened LevelDB once the strategy
// implementation is bound again.
func TestVaultEngineRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault")
	tok := token.NewLedger(testAsset, "USDC", 6)
	strat, err := strategy.NewPassthrough(testStrategy, tok, strategy.Config{})
	if err != nil {
		t.Fatalf("strategy: %v", err)
	}
	roles := vault.NewRoleSet()
	roles.Grant(testAdmin, vault.RoleAll)

	open := func() (*vault.Engine, *storage.LevelDB) {
		db, err := storage.NewLevelDB(path)
		if err != nil {
			t.Fatalf("open leveldb: %v", err)
		}
		engine := vault.NewEngine(testVault, tok, nil)
		engine.SetState(NewVaultStore(db, testVault))
		engine.SetRoles(roles)
		if err := engine.Initialize(6, 0); err != nil {
			t.Fatalf("initialize: %v", err)
		}
		return engine, db
	}

	engine, db := open()
	if err := tok.Mint(testDepositor, uint256.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := tok.Approve(testDepositor, testVault, uint256.NewInt(1000)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := engine.Deposit(testDepositor, uint256.NewInt(1000), testDepositor); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.AddStrategy(testAdmin, strat); err != nil {
		t.Fatalf("add strategy: %v", err)
	}
	if err := engine.UpdateMaxDebt(testAdmin, testStrategy, uint256.NewInt(1000)); err != nil {
		t.Fatalf("max debt: %v", err)
	}
	if _, err := engine.UpdateDebt(testAdmin, testStrategy, uint256.NewInt(600)); err != nil {
		t.Fatalf("update debt: %v", err)
	}
	db.Close()

	engine, db = open()
	defer db.Close()
	debt, err := engine.TotalDebt()
	if err != nil {
		t.Fatalf("total debt: %v", err)
	}
	if debt.Uint64() != 600 {
		t.Fatalf("expected debt 600 after restart, got %s", debt.Dec())
	}
	if _, err := engine.UpdateDebt(testAdmin, testStrategy, uint256.NewInt(0)); err == nil {
		t.Fatalf("expected unbound strategy error before BindStrategy")
	}
	if err := engine.BindStrategy(strat); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if _, err := engine.UpdateDebt(testAdmin, testStrategy, uint256.NewInt(0)); err != nil {
		t.Fatalf("update debt after bind: %v", err)
	}
	idle, err := engine.TotalIdle()
	if err != nil {
		t.Fatalf("total idle: %v", err)
	}
	if idle.Uint64() != 1000 {
		t.Fatalf("expected all funds idle, got %s", idle.Dec())
	}
}

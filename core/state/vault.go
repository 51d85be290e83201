package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"yieldvault/native/vault"
	"yieldvault/storage"
)

// vaultLedgerVersion tags the stored encoding so later layouts can migrate.
const vaultLedgerVersion uint64 = 1

var vaultLedgerPrefix = []byte("vault/ledger/")

// VaultStore persists one vault's ledger in a key-value database.
type VaultStore struct {
	mu    sync.Mutex
	db    storage.Database
	vault common.Address
}

type storedVaultLedger struct {
	Version              uint64
	Asset                common.Address
	Decimals             uint8
	TotalIdle            *big.Int
	TotalDebt            *big.Int
	TotalSupply          *big.Int
	MinimumTotalIdle     *big.Int
	DepositLimit         *big.Int
	DepositLimitModule   common.Address
	WithdrawLimitModule  common.Address
	Accountant           common.Address
	DefaultQueue         []common.Address
	UseDefaultQueue      bool
	Shutdown             bool
	ProfitMaxUnlockTime  uint64
	FullProfitUnlockDate uint64
	ProfitUnlockingRate  *big.Int
	LastProfitUpdate     uint64
	Strategies           []storedStrategy
	Balances             []storedBalance
	Allowances           []storedAllowance
}

type storedStrategy struct {
	Address     common.Address
	Activation  uint64
	LastReport  uint64
	CurrentDebt *big.Int
	MaxDebt     *big.Int
}

type storedBalance struct {
	Owner  common.Address
	Amount *big.Int
}

type storedAllowance struct {
	Owner   common.Address
	Spender common.Address
	Amount  *big.Int
}

// NewVaultStore binds a store to the ledger of vault inside db.
func NewVaultStore(db storage.Database, vault common.Address) *VaultStore {
	return &VaultStore{db: db, vault: vault}
}

func vaultLedgerKey(addr common.Address) []byte {
	buf := make([]byte, len(vaultLedgerPrefix)+common.AddressLength)
	copy(buf, vaultLedgerPrefix)
	copy(buf[len(vaultLedgerPrefix):], addr.Bytes())
	return ethcrypto.Keccak256(buf)
}

// GetLedger returns the stored ledger, or nil when none was written yet.
func (s *VaultStore) GetLedger() (*vault.Ledger, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("vault store: database unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.db.Get(vaultLedgerKey(s.vault))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	stored := new(storedVaultLedger)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, fmt.Errorf("vault store: decode ledger: %w", err)
	}
	if stored.Version != vaultLedgerVersion {
		return nil, fmt.Errorf("vault store: unsupported ledger version %d", stored.Version)
	}
	return ledgerFromStored(stored)
}

// PutLedger replaces the stored ledger.
func (s *VaultStore) PutLedger(ledger *vault.Ledger) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("vault store: database unavailable")
	}
	if ledger == nil {
		return fmt.Errorf("vault store: nil ledger")
	}
	encoded, err := rlp.EncodeToBytes(ledgerToStored(ledger))
	if err != nil {
		return fmt.Errorf("vault store: encode ledger: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Put(vaultLedgerKey(s.vault), encoded)
}

func ledgerToStored(l *vault.Ledger) *storedVaultLedger {
	stored := &storedVaultLedger{
		Version:              vaultLedgerVersion,
		Asset:                l.Asset,
		Decimals:             l.Decimals,
		TotalIdle:            toBig(l.TotalIdle),
		TotalDebt:            toBig(l.TotalDebt),
		TotalSupply:          toBig(l.TotalSupply),
		MinimumTotalIdle:     toBig(l.MinimumTotalIdle),
		DepositLimit:         toBig(l.DepositLimit),
		DepositLimitModule:   l.DepositLimitModule,
		WithdrawLimitModule:  l.WithdrawLimitModule,
		Accountant:           l.Accountant,
		DefaultQueue:         append([]common.Address{}, l.DefaultQueue...),
		UseDefaultQueue:      l.UseDefaultQueue,
		Shutdown:             l.Shutdown,
		ProfitMaxUnlockTime:  l.ProfitMaxUnlockTime,
		FullProfitUnlockDate: l.FullProfitUnlockDate,
		ProfitUnlockingRate:  toBig(l.ProfitUnlockingRate),
		LastProfitUpdate:     l.LastProfitUpdate,
		Strategies:           make([]storedStrategy, 0, len(l.Strategies)),
		Balances:             make([]storedBalance, 0, len(l.Balances)),
		Allowances:           make([]storedAllowance, 0),
	}
	for _, addr := range sortedKeys(l.Strategies) {
		params := l.Strategies[addr]
		stored.Strategies = append(stored.Strategies, storedStrategy{
			Address:     addr,
			Activation:  params.Activation,
			LastReport:  params.LastReport,
			CurrentDebt: toBig(params.CurrentDebt),
			MaxDebt:     toBig(params.MaxDebt),
		})
	}
	for _, owner := range sortedKeys(l.Balances) {
		if l.Balances[owner] == nil || l.Balances[owner].IsZero() {
			continue
		}
		stored.Balances = append(stored.Balances, storedBalance{Owner: owner, Amount: toBig(l.Balances[owner])})
	}
	for _, owner := range sortedKeys(l.Allowances) {
		spenders := l.Allowances[owner]
		for _, spender := range sortedKeys(spenders) {
			if spenders[spender] == nil || spenders[spender].IsZero() {
				continue
			}
			stored.Allowances = append(stored.Allowances, storedAllowance{
				Owner:   owner,
				Spender: spender,
				Amount:  toBig(spenders[spender]),
			})
		}
	}
	return stored
}

func ledgerFromStored(stored *storedVaultLedger) (*vault.Ledger, error) {
	var err error
	amount := func(v *big.Int) *uint256.Int {
		if err != nil {
			return new(uint256.Int)
		}
		var out *uint256.Int
		out, err = fromBig(v)
		return out
	}
	l := &vault.Ledger{
		Asset:                stored.Asset,
		Decimals:             stored.Decimals,
		TotalIdle:            amount(stored.TotalIdle),
		TotalDebt:            amount(stored.TotalDebt),
		TotalSupply:          amount(stored.TotalSupply),
		MinimumTotalIdle:     amount(stored.MinimumTotalIdle),
		DepositLimit:         amount(stored.DepositLimit),
		DepositLimitModule:   stored.DepositLimitModule,
		WithdrawLimitModule:  stored.WithdrawLimitModule,
		Accountant:           stored.Accountant,
		DefaultQueue:         append([]common.Address(nil), stored.DefaultQueue...),
		UseDefaultQueue:      stored.UseDefaultQueue,
		Shutdown:             stored.Shutdown,
		ProfitMaxUnlockTime:  stored.ProfitMaxUnlockTime,
		FullProfitUnlockDate: stored.FullProfitUnlockDate,
		ProfitUnlockingRate:  amount(stored.ProfitUnlockingRate),
		LastProfitUpdate:     stored.LastProfitUpdate,
	}
	l.EnsureDefaults()
	for _, s := range stored.Strategies {
		l.Strategies[s.Address] = &vault.StrategyParams{
			Activation:  s.Activation,
			LastReport:  s.LastReport,
			CurrentDebt: amount(s.CurrentDebt),
			MaxDebt:     amount(s.MaxDebt),
		}
	}
	for _, b := range stored.Balances {
		l.Balances[b.Owner] = amount(b.Amount)
	}
	for _, a := range stored.Allowances {
		spenders := l.Allowances[a.Owner]
		if spenders == nil {
			spenders = make(map[common.Address]*uint256.Int)
			l.Allowances[a.Owner] = spenders
		}
		spenders[a.Spender] = amount(a.Amount)
	}
	if err != nil {
		return nil, fmt.Errorf("vault store: decode amount: %w", err)
	}
	return l, nil
}

func sortedKeys[V any](m map[common.Address]V) []common.Address {
	keys := make([]common.Address, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i][:], keys[j][:]) < 0 })
	return keys
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

func fromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("value %s exceeds 256 bits", v)
	}
	return out, nil
}

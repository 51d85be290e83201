package factory

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MaxProtocolFeeBps caps any protocol fee the factory will hand out.
const MaxProtocolFeeBps uint16 = 5_000

// Config is the protocol-wide fee default.
type Config struct {
	DefaultFeeBps uint16
	Recipient     common.Address
}

// Factory answers protocol fee lookups for the vaults it deployed.
type Factory struct {
	mu         sync.RWMutex
	defaultBps uint16
	recipient  common.Address
	custom     map[common.Address]uint16
}

func New(cfg Config) (*Factory, error) {
	if err := checkBps(cfg.DefaultFeeBps); err != nil {
		return nil, err
	}
	return &Factory{
		defaultBps: cfg.DefaultFeeBps,
		recipient:  cfg.Recipient,
		custom:     make(map[common.Address]uint16),
	}, nil
}

// ProtocolFeeConfig returns the fee for vault: its custom fee when one is
// set, the default otherwise.
func (f *Factory) ProtocolFeeConfig(vault common.Address) (uint16, common.Address) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if bps, ok := f.custom[vault]; ok {
		return bps, f.recipient
	}
	return f.defaultBps, f.recipient
}

func (f *Factory) SetDefaultFee(bps uint16) error {
	if err := checkBps(bps); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaultBps = bps
	return nil
}

func (f *Factory) SetRecipient(recipient common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recipient = recipient
}

// SetCustomFee overrides the default for one vault.
func (f *Factory) SetCustomFee(vault common.Address, bps uint16) error {
	if err := checkBps(bps); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.custom[vault] = bps
	return nil
}

func (f *Factory) RemoveCustomFee(vault common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.custom, vault)
}

func checkBps(bps uint16) error {
	if bps > MaxProtocolFeeBps {
		return fmt.Errorf("factory: fee %d bps above %d", bps, MaxProtocolFeeBps)
	}
	return nil
}

package events

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	testVault    = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	testStrategy = common.HexToAddress("0x00000000000000000000000000000000000000A1")
)

func TestVaultStrategyReportedEvent(t *testing.T) {
	evt := VaultStrategyReported{
		Vault:       testVault,
		Strategy:    testStrategy,
		Gain:        uint256.NewInt(100),
		CurrentDebt: uint256.NewInt(1000),
		TotalFees:   uint256.NewInt(10),
	}.Event()
	if evt.Type != TypeVaultStrategyReported {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attributes["vault"] != "0x00000000000000000000000000000000000000aa" {
		t.Fatalf("vault should be lower-case hex: %s", evt.Attributes["vault"])
	}
	if evt.Attributes["gain"] != "100" || evt.Attributes["currentDebt"] != "1000" || evt.Attributes["totalFees"] != "10" {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}
	if evt.Attributes["loss"] != "0" || evt.Attributes["totalRefunds"] != "0" {
		t.Fatalf("nil amounts should render as zero: %+v", evt.Attributes)
	}
}

func TestVaultStrategyChangedEvent(t *testing.T) {
	evt := VaultStrategyChanged{Vault: testVault, Strategy: testStrategy, ChangeType: " Revoked "}.Event()
	if evt.Attributes["changeType"] != "revoked" {
		t.Fatalf("unexpected change type: %q", evt.Attributes["changeType"])
	}
	if evt.Attributes["strategy"] != "0x00000000000000000000000000000000000000a1" {
		t.Fatalf("unexpected strategy: %s", evt.Attributes["strategy"])
	}
}

func TestVaultDefaultQueueEvent(t *testing.T) {
	evt := VaultUpdatedDefaultQueue{Vault: testVault, Queue: []common.Address{testStrategy, testVault}}.Event()
	want := "0x00000000000000000000000000000000000000a1,0x00000000000000000000000000000000000000aa"
	if evt.Attributes["queue"] != want {
		t.Fatalf("unexpected queue: %s", evt.Attributes["queue"])
	}
	if got := (VaultUpdatedDefaultQueue{Vault: testVault}).Event().Attributes["queue"]; got != "" {
		t.Fatalf("empty queue should render empty, got %q", got)
	}
}

func TestVaultShutdownEvent(t *testing.T) {
	evt := VaultShutdown{Vault: testVault}.Event()
	if evt.Type != TypeVaultShutdown || len(evt.Attributes) != 1 {
		t.Fatalf("unexpected shutdown event: %+v", evt)
	}
	if (VaultUpdatedUseDefaultQueue{Vault: testVault, UseDefaultQueue: true}).Event().Attributes["useDefaultQueue"] != "true" {
		t.Fatalf("expected boolean attribute")
	}
}

type countingEmitter struct{ seen []string }

func (c *countingEmitter) Emit(evt Event) { c.seen = append(c.seen, evt.EventType()) }

func TestMultiEmitter(t *testing.T) {
	first, second := &countingEmitter{}, &countingEmitter{}
	MultiEmitter{first, nil, NoopEmitter{}, second}.Emit(VaultShutdown{Vault: testVault})
	if len(first.seen) != 1 || len(second.seen) != 1 || first.seen[0] != TypeVaultShutdown {
		t.Fatalf("fan-out failed: %v %v", first.seen, second.seen)
	}
}

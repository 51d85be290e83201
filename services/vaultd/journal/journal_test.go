package journal

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"yieldvault/core/events"
)

type bareEvent struct{}

func (bareEvent) EventType() string { return "test.bare" }

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalRecordsAndListsNewestFirst(t *testing.T) {
	j := openTestJournal(t)
	fixed := time.Unix(1_700_000_000, 0).UTC()
	j.now = func() time.Time { return fixed }
	vaultAddr := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	j.Emit(events.VaultDeposit{
		Vault:  vaultAddr,
		Sender: common.HexToAddress("0x01"),
		Owner:  common.HexToAddress("0x01"),
		Assets: uint256.NewInt(1000),
		Shares: uint256.NewInt(1000),
	})
	j.Emit(events.VaultShutdown{Vault: vaultAddr})
	j.Emit(bareEvent{})

	entries, err := j.Recent(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Type != "test.bare" || entries[2].Type != events.TypeVaultDeposit {
		t.Fatalf("unexpected order: %s .. %s", entries[0].Type, entries[2].Type)
	}
	if len(entries[0].Attributes) != 0 || entries[0].Vault != "" {
		t.Fatalf("bare event should carry no attributes: %+v", entries[0])
	}
	deposit := entries[2]
	if deposit.Attributes["assets"] != "1000" {
		t.Fatalf("unexpected attributes: %+v", deposit.Attributes)
	}
	if deposit.Vault != strings.ToLower(vaultAddr.Hex()) {
		t.Fatalf("unexpected vault column: %s", deposit.Vault)
	}
	if _, err := uuid.Parse(deposit.ID); err != nil {
		t.Fatalf("entry id is not a uuid: %v", err)
	}
	if !deposit.RecordedAt.Equal(fixed) {
		t.Fatalf("unexpected timestamp: %s", deposit.RecordedAt)
	}
}

func TestJournalFiltersByType(t *testing.T) {
	j := openTestJournal(t)
	for i := 0; i < 3; i++ {
		j.Emit(events.VaultShutdown{})
	}
	j.Emit(bareEvent{})

	entries, err := j.Recent(context.Background(), events.TypeVaultShutdown, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(entries))
	}
	for _, entry := range entries {
		if entry.Type != events.TypeVaultShutdown {
			t.Fatalf("unexpected type %s", entry.Type)
		}
	}
}

func TestJournalPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := j.Record(context.Background(), bareEvent{}); err != nil {
		t.Fatalf("record: %v", err)
	}
	j.Close()

	j, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j.Close()
	entries, err := j.Recent(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected persisted entry, got %d", len(entries))
	}
}

func TestFileDSN(t *testing.T) {
	if _, err := FileDSN("  "); err != ErrPathRequired {
		t.Fatalf("expected ErrPathRequired, got %v", err)
	}
	dsn, err := FileDSN("journal.db")
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	if !strings.HasPrefix(dsn, "file:/") || !strings.Contains(dsn, "_journal_mode=WAL") {
		t.Fatalf("unexpected dsn %s", dsn)
	}
	var nilJournal *Journal
	if _, err := nilJournal.Recent(context.Background(), "", 1); err == nil {
		t.Fatalf("expected error from nil journal")
	}
}

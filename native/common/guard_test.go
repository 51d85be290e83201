package common

import (
	"errors"
	"testing"
)

func TestGuardHonoursPauses(t *testing.T) {
	if err := Guard(nil, "vault"); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
	pauses := NewPauses(" Vault ")
	if err := Guard(pauses, "vault"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(pauses, ""); err != nil {
		t.Fatalf("empty module must not block: %v", err)
	}

	pauses.Set("keeper", true)
	if got := pauses.Paused(); len(got) != 2 || got[0] != "keeper" || got[1] != "vault" {
		t.Fatalf("unexpected paused list %v", got)
	}
	pauses.Set("VAULT", false)
	if err := Guard(pauses, "vault"); err != nil {
		t.Fatalf("resumed module still blocked: %v", err)
	}

	var missing *Pauses
	if missing.IsPaused("vault") {
		t.Fatalf("nil pauses report nothing paused")
	}
}

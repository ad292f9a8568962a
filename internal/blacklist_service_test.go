package internal

import (
	"context"
	"testing"
)

func TestBlacklistAddAndLookupNormalizesSymbol(t *testing.T) {
	svc := NewBlacklistService(newMemBlacklistRepo(), nil)
	ctx := context.Background()

	added, err := svc.Add(ctx, "f1", "gme", BlacklistReasonManual)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !added {
		t.Fatalf("expected first add to succeed")
	}
	if !svc.IsBlacklisted("f1", "GME") {
		t.Fatalf("expected uppercase lookup to match")
	}
	if !svc.IsBlacklisted("f1", "gme") {
		t.Fatalf("expected lowercase lookup to match")
	}
	if svc.IsBlacklisted("f2", "GME") {
		t.Fatalf("blacklist must be per follower")
	}
}

func TestBlacklistDuplicateKeepsOriginalReason(t *testing.T) {
	repo := newMemBlacklistRepo()
	svc := NewBlacklistService(repo, nil)
	ctx := context.Background()

	if _, err := svc.Add(ctx, "f1", "GME", BlacklistReasonLocateRejected); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	added, err := svc.Add(ctx, "f1", "GME", BlacklistReasonManual)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if added {
		t.Fatalf("duplicate add must return false")
	}

	entries := svc.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Reason != BlacklistReasonLocateRejected {
		t.Fatalf("original reason replaced: %s", entries[0].Reason)
	}
}

func TestBlacklistRemove(t *testing.T) {
	svc := NewBlacklistService(newMemBlacklistRepo(), nil)
	ctx := context.Background()

	if _, err := svc.Add(ctx, "f1", "GME", BlacklistReasonManual); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	removed, err := svc.Remove(ctx, "f1", "GME")
	if err != nil || !removed {
		t.Fatalf("expected removal, removed=%v err=%v", removed, err)
	}
	if svc.IsBlacklisted("f1", "GME") {
		t.Fatalf("entry still present after removal")
	}

	removed, err = svc.Remove(ctx, "f1", "GME")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed {
		t.Fatalf("removing a missing entry must return false")
	}
}

func TestBlacklistSymbolsForSorted(t *testing.T) {
	svc := NewBlacklistService(newMemBlacklistRepo(), nil)
	ctx := context.Background()

	for _, symbol := range []string{"TSLA", "AAPL", "GME"} {
		if _, err := svc.Add(ctx, "f1", symbol, BlacklistReasonManual); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if _, err := svc.Add(ctx, "f2", "NVDA", BlacklistReasonManual); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	symbols := svc.SymbolsFor("f1")
	if len(symbols) != 3 {
		t.Fatalf("expected 3 symbols, got %d", len(symbols))
	}
	if symbols[0] != "AAPL" || symbols[1] != "GME" || symbols[2] != "TSLA" {
		t.Fatalf("expected sorted symbols, got %v", symbols)
	}
}

func TestBlacklistLoadHydratesFromStore(t *testing.T) {
	repo := newMemBlacklistRepo()
	seed := NewBlacklistService(repo, nil)
	if _, err := seed.Add(context.Background(), "f1", "GME", BlacklistReasonReconcile); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	svc := NewBlacklistService(repo, nil)
	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if !svc.IsBlacklisted("f1", "GME") {
		t.Fatalf("expected hydrated entry")
	}
}

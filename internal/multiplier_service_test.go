package internal

import (
	"context"
	"testing"

	"github.com/xKoRx/mirror/domain"
)

func TestMultiplierEffectivePrecedence(t *testing.T) {
	repo := newMemMultiplierRepo()
	repo.base["f1"] = 0.5
	repo.overrides["f1::GME"] = domain.SymbolOverride{
		FollowerID: "f1", Symbol: "GME", Multiplier: 2.0,
		Source: domain.MultiplierSourceUserOverride,
	}

	svc := NewMultiplierService(repo, nil)
	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}

	if mult, source := svc.Effective("f1", "GME"); mult != 2.0 || source != domain.MultiplierSourceUserOverride {
		t.Fatalf("expected override 2.0/user_override, got %.2f/%s", mult, source)
	}
	if mult, source := svc.Effective("f1", "AAPL"); mult != 0.5 || source != domain.MultiplierSourceBase {
		t.Fatalf("expected base 0.5, got %.2f/%s", mult, source)
	}
	if mult, _ := svc.Effective("unknown", "AAPL"); mult != 1.0 {
		t.Fatalf("expected default 1.0 for unknown follower, got %.2f", mult)
	}
}

func TestMultiplierSymbolNormalization(t *testing.T) {
	svc := NewMultiplierService(newMemMultiplierRepo(), nil)

	if err := svc.SetSymbolOverride(context.Background(), "f1", "gme", 1.5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mult, _ := svc.Effective("f1", "GME"); mult != 1.5 {
		t.Fatalf("expected normalized lookup to hit, got %.2f", mult)
	}
}

func TestAutoInferredNeverOverwritesUserOverride(t *testing.T) {
	svc := NewMultiplierService(newMemMultiplierRepo(), nil)
	ctx := context.Background()

	if err := svc.SetSymbolOverride(ctx, "f1", "GME", 2.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	changed, err := svc.SetAutoInferred(ctx, "f1", "GME", 0.4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed {
		t.Fatalf("auto inferred must not overwrite user override")
	}
	if mult, source := svc.Effective("f1", "GME"); mult != 2.0 || source != domain.MultiplierSourceUserOverride {
		t.Fatalf("user override lost: %.2f/%s", mult, source)
	}
}

func TestAutoInferredToleranceSkipsNoise(t *testing.T) {
	svc := NewMultiplierService(newMemMultiplierRepo(), nil)
	ctx := context.Background()

	changed, err := svc.SetAutoInferred(ctx, "f1", "GME", 0.5)
	if err != nil || !changed {
		t.Fatalf("expected first inference to register, changed=%v err=%v", changed, err)
	}

	// Dentro de la tolerancia: no debe re-escribir.
	changed, err = svc.SetAutoInferred(ctx, "f1", "GME", 0.505)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed {
		t.Fatalf("inference within tolerance must be a no-op")
	}

	changed, err = svc.SetAutoInferred(ctx, "f1", "GME", 0.6)
	if err != nil || !changed {
		t.Fatalf("expected inference outside tolerance to register, changed=%v err=%v", changed, err)
	}
}

func TestUserOverrideAlwaysWins(t *testing.T) {
	svc := NewMultiplierService(newMemMultiplierRepo(), nil)
	ctx := context.Background()

	if _, err := svc.SetAutoInferred(ctx, "f1", "GME", 0.5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.SetSymbolOverride(ctx, "f1", "GME", 3.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mult, source := svc.Effective("f1", "GME"); mult != 3.0 || source != domain.MultiplierSourceUserOverride {
		t.Fatalf("user override must replace inferred: %.2f/%s", mult, source)
	}
}

func TestRemoveSymbolOverrideRevertsToBase(t *testing.T) {
	svc := NewMultiplierService(newMemMultiplierRepo(), nil)
	ctx := context.Background()
	svc.SetBase("f1", 0.25)

	if err := svc.SetSymbolOverride(ctx, "f1", "GME", 2.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.RemoveSymbolOverride(ctx, "f1", "GME"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mult, source := svc.Effective("f1", "GME"); mult != 0.25 || source != domain.MultiplierSourceBase {
		t.Fatalf("expected base after removal, got %.2f/%s", mult, source)
	}
}

func TestRemoveFollowerDropsState(t *testing.T) {
	svc := NewMultiplierService(newMemMultiplierRepo(), nil)
	ctx := context.Background()
	svc.SetBase("f1", 0.5)

	if err := svc.SetSymbolOverride(ctx, "f1", "GME", 2.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	svc.RemoveFollower("f1")

	if mult, _ := svc.Effective("f1", "GME"); mult != 1.0 {
		t.Fatalf("expected clean state after removal, got %.2f", mult)
	}
	if overrides := svc.AllForFollower("f1"); len(overrides) != 0 {
		t.Fatalf("expected no overrides, got %d", len(overrides))
	}
}

func TestAllForFollower(t *testing.T) {
	svc := NewMultiplierService(newMemMultiplierRepo(), nil)
	ctx := context.Background()

	if err := svc.SetSymbolOverride(ctx, "f1", "GME", 2.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.SetAutoInferred(ctx, "f1", "AAPL", 0.5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.SetSymbolOverride(ctx, "f2", "GME", 9.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	overrides := svc.AllForFollower("f1")
	if len(overrides) != 2 {
		t.Fatalf("expected 2 overrides for f1, got %d", len(overrides))
	}
	if overrides["GME"].Multiplier != 2.0 || overrides["AAPL"].Multiplier != 0.5 {
		t.Fatalf("unexpected overrides: %+v", overrides)
	}
}

func TestMutationsPersistBeforeReportingSuccess(t *testing.T) {
	repo := newMemMultiplierRepo()
	repo.upsertErr = domain.NewError(domain.ErrStoreIO, "disk full")
	svc := NewMultiplierService(repo, nil)

	if err := svc.SetSymbolOverride(context.Background(), "f1", "GME", 2.0); err == nil {
		t.Fatalf("expected store error to propagate")
	}
	// El cache no debe reflejar una escritura que falló.
	if mult, _ := svc.Effective("f1", "GME"); mult != 1.0 {
		t.Fatalf("failed write leaked into cache: %.2f", mult)
	}
}

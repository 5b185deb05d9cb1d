package stats

import (
	"path/filepath"
	"testing"
	"time"
)

func TestRecordUpdatesAllAggregates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	b, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	at := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	if err := b.Record(10, 120, at); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := b.Record(20, 80, at); err != nil {
		t.Fatalf("record: %v", err)
	}

	if g := b.Global(); g.Interactions != 2 || g.Tokens != 200 {
		t.Fatalf("global: %+v", g)
	}
	if a := b.Actor(10); a.Interactions != 1 || a.Tokens != 120 {
		t.Fatalf("actor: %+v", a)
	}
	if m := b.Month("2024-03"); m.Interactions != 2 || m.Tokens != 200 {
		t.Fatalf("month: %+v", m)
	}
	if ma := b.MonthActor("2024-03", 20); ma.Interactions != 1 || ma.Tokens != 80 {
		t.Fatalf("month actor: %+v", ma)
	}

	// Global totals equal the sum of per-actor totals
	sum := b.Actor(10).Tokens + b.Actor(20).Tokens
	if sum != b.Global().Tokens {
		t.Fatalf("invariant broken: actors sum %d, global %d", sum, b.Global().Tokens)
	}
}

func TestRecordChargesPlaceholderWhenUsageMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	b, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	at := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	if err := b.Record(10, 0, at); err != nil {
		t.Fatalf("record: %v", err)
	}

	if a := b.Actor(10); a.Interactions != 1 || a.Tokens != PlaceholderTokens {
		t.Fatalf("actor: %+v", a)
	}
	if m := b.Month("2024-03"); m.Tokens != PlaceholderTokens {
		t.Fatalf("month: %+v", m)
	}
}

func TestPersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	b, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	at := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	if err := b.Record(10, PlaceholderTokens, at); err != nil {
		t.Fatalf("record: %v", err)
	}

	b2, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if g := b2.Global(); g.Interactions != 1 || g.Tokens != PlaceholderTokens {
		t.Fatalf("reload lost data: %+v", g)
	}
	if m := b2.Month("2024-03"); m.Interactions != 1 {
		t.Fatalf("reload lost month: %+v", m)
	}
}

func TestReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")
	b, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := b.Record(10, 50, time.Now().UTC()); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := b.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if g := b.Global(); g.Interactions != 0 || g.Tokens != 0 {
		t.Fatalf("reset not effective: %+v", g)
	}
}

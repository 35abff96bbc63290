package core

import (
	"context"
	"strings"
	"sync"
	"testing"
)

func TestWorkspaceRegistry_GetOrCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	registry := NewWorkspaceRegistry(NewMemoryWorkspaceStore())

	first, err := registry.GetOrCreate(ctx, "Acme")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	second, err := registry.GetOrCreate(ctx, "  Acme  ")
	if err != nil {
		t.Fatalf("get or create again: %v", err)
	}
	if first.ID == "" || first.ID != second.ID {
		t.Fatalf("expected stable id, got %q and %q", first.ID, second.ID)
	}
	if second.DisplayName != "Acme" {
		t.Fatalf("expected trimmed display name, got %q", second.DisplayName)
	}

	other, err := registry.GetOrCreate(ctx, "acme")
	if err != nil {
		t.Fatalf("get or create other: %v", err)
	}
	if other.ID == first.ID {
		t.Fatalf("expected display names to be case-sensitive")
	}
}

func TestWorkspaceRegistry_ConcurrentGetOrCreate(t *testing.T) {
	ctx := context.Background()
	registry := NewWorkspaceRegistry(NewMemoryWorkspaceStore())

	const callers = 16
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			workspace, err := registry.GetOrCreate(ctx, "Acme")
			if err != nil {
				t.Errorf("get or create: %v", err)
				return
			}
			ids[idx] = workspace.ID
		}(i)
	}
	wg.Wait()
	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("expected a single workspace id, got %v", ids)
		}
	}
}

func TestWorkspaceRegistry_RejectsInvalidNames(t *testing.T) {
	ctx := context.Background()
	registry := NewWorkspaceRegistry(NewMemoryWorkspaceStore())

	if _, err := registry.GetOrCreate(ctx, "   "); !HasCredentialErrorCode(err, CredentialErrorBadInput) {
		t.Fatalf("expected bad input for blank name, got %v", err)
	}
	if _, err := registry.GetOrCreate(ctx, strings.Repeat("a", maxWorkspaceDisplayNameLength+1)); !HasCredentialErrorCode(err, CredentialErrorBadInput) {
		t.Fatalf("expected bad input for long name, got %v", err)
	}
}

func TestWorkspaceRegistry_LookupsReportNotFound(t *testing.T) {
	ctx := context.Background()
	registry := NewWorkspaceRegistry(NewMemoryWorkspaceStore())

	if _, err := registry.GetByDisplayName(ctx, "Nobody"); !IsWorkspaceNotFound(err) {
		t.Fatalf("expected workspace not found by name, got %v", err)
	}
	if _, err := registry.Get(ctx, "ws_missing"); !IsWorkspaceNotFound(err) {
		t.Fatalf("expected workspace not found by id, got %v", err)
	}

	created, err := registry.GetOrCreate(ctx, "Acme")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	byName, err := registry.GetByDisplayName(ctx, "Acme")
	if err != nil || byName.ID != created.ID {
		t.Fatalf("expected lookup by name, got %#v err=%v", byName, err)
	}
	byID, err := registry.Get(ctx, created.ID)
	if err != nil || byID.DisplayName != "Acme" {
		t.Fatalf("expected lookup by id, got %#v err=%v", byID, err)
	}
}

func TestWorkspaceRegistry_ListSortedByDisplayName(t *testing.T) {
	ctx := context.Background()
	registry := NewWorkspaceRegistry(NewMemoryWorkspaceStore())
	for _, name := range []string{"Zeta", "Alpha", "Beta"} {
		if _, err := registry.GetOrCreate(ctx, name); err != nil {
			t.Fatalf("get or create %s: %v", name, err)
		}
	}
	listed, err := registry.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := []string{listed[0].DisplayName, listed[1].DisplayName, listed[2].DisplayName}
	want := []string{"Alpha", "Beta", "Zeta"}
	for idx := range want {
		if got[idx] != want[idx] {
			t.Fatalf("unexpected ordering: got %v want %v", got, want)
		}
	}
}

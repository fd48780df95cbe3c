package version

import (
	"reflect"
	"testing"
)

func TestResolveChainWalksNewestFirstThenReverses(t *testing.T) {
	patches := []RemotePatch{
		{Name: "base", VersionID: "1", Active: true},
		{Name: "p2", VersionID: "2", Active: true, PrerequisiteVersions: []string{"1"}},
		{Name: "p3", VersionID: "3", Active: true, PrerequisiteVersions: []string{"2"}},
	}

	chain, err := ResolveChain(patches, "3")
	if err != nil {
		t.Fatalf("ResolveChain: %v", err)
	}
	got := names(chain)
	want := []string{"base", "p2", "p3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestResolveChainSkipsInactivePrerequisite(t *testing.T) {
	// head's prerequisite list offers both the inactive "dead" patch and
	// the active "base" patch; the inactive one must be skipped in favor
	// of the active one rather than aborting the walk.
	patches := []RemotePatch{
		{Name: "base", VersionID: "1", Active: true},
		{Name: "dead", VersionID: "2", Active: false, PrerequisiteVersions: []string{"1"}},
		{Name: "head", VersionID: "3", Active: true, PrerequisiteVersions: []string{"2", "1"}},
	}
	chain, err := ResolveChain(patches, "3")
	if err != nil {
		t.Fatalf("ResolveChain: %v", err)
	}
	got := names(chain)
	want := []string{"base", "head"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestResolveChainErrorsOnShortResultAfterSkips(t *testing.T) {
	// Walking stops immediately because the only prerequisite is inactive,
	// leaving a length-1 chain -- must be refused.
	patches := []RemotePatch{
		{Name: "dead", VersionID: "2", Active: false},
		{Name: "head", VersionID: "3", Active: true, PrerequisiteVersions: []string{"2"}},
	}
	if _, err := ResolveChain(patches, "3"); err != ErrChainTooShort {
		t.Fatalf("expected ErrChainTooShort, got %v", err)
	}
}

func TestResolveChainMultiActiveTiebreakDescending(t *testing.T) {
	patches := []RemotePatch{
		{Name: "a", VersionID: "aaa", Active: true},
		{Name: "b", VersionID: "bbb", Active: true},
		{Name: "head", VersionID: "head", Active: true, PrerequisiteVersions: []string{"aaa", "bbb"}},
	}
	chain, err := ResolveChain(patches, "head")
	if err != nil {
		t.Fatalf("ResolveChain: %v", err)
	}
	got := names(chain)
	want := []string{"b", "head"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v (descending lexicographic tiebreak expected)", got, want)
	}
}

func TestResolveChainRefusesShortChains(t *testing.T) {
	patches := []RemotePatch{{Name: "only", VersionID: "1", Active: true}}
	if _, err := ResolveChain(patches, "1"); err != ErrChainTooShort {
		t.Fatalf("expected ErrChainTooShort, got %v", err)
	}
}

func TestResolveChainSkipsCycles(t *testing.T) {
	patches := []RemotePatch{
		{Name: "a", VersionID: "1", Active: true, PrerequisiteVersions: []string{"2"}},
		{Name: "b", VersionID: "2", Active: true, PrerequisiteVersions: []string{"1"}},
	}
	chain, err := ResolveChain(patches, "1")
	if err != nil {
		t.Fatalf("ResolveChain: %v", err)
	}
	// 1 -> 2 -> 1 (already visited) stops; chain has length 2 so it's valid.
	got := names(chain)
	want := []string{"b", "a"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func names(chain []RemotePatch) []string {
	out := make([]string, len(chain))
	for i, p := range chain {
		out[i] = p.Name
	}
	return out
}

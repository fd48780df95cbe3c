package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	chains map[string][]RemotePatch
	latest map[string]string
}

func (f *fakeProvider) PatchList(repo string) ([]RemotePatch, error) {
	return f.chains[repo], nil
}

type fakePatcher struct{}

func (fakePatcher) Localize(repo string, patch RemotePatch) (Patch, error) {
	return Patch{Name: patch.Name, LocalPath: "/patches/" + repo + "/" + patch.Name, Size: 1}, nil
}

func TestStoreTickInsertsReadyVersionAndPublishes(t *testing.T) {
	provider := &fakeProvider{chains: map[string][]RemotePatch{
		"ffxiv": {
			{Name: "base", VersionID: "1", Active: true},
			{Name: "latest", VersionID: "2", Active: true, PrerequisiteVersions: []string{"1"}},
		},
	}}
	store := NewStore(Config{MetadataDir: t.TempDir(), Repositories: []string{"ffxiv"}}, provider, fakePatcher{})

	store.Tick()

	keys := store.Keys()
	require.Len(t, keys, 1)

	v, state, err := store.VersionOf(keys[0])
	require.NoError(t, err)
	require.Equal(t, StateReady, state)
	require.True(t, v.Ready())

	select {
	case ready := <-store.Subscribe():
		require.Equal(t, keys, ready)
	default:
		t.Fatal("expected a ready-set publish after Tick")
	}
}

func TestStoreResolveLatestAndNames(t *testing.T) {
	provider := &fakeProvider{chains: map[string][]RemotePatch{
		"ffxiv": {
			{Name: "base", VersionID: "1", Active: true},
			{Name: "latest", VersionID: "2", Active: true, PrerequisiteVersions: []string{"1"}},
		},
	}}
	store := NewStore(Config{MetadataDir: t.TempDir(), Repositories: []string{"ffxiv"}}, provider, fakePatcher{})
	store.Tick()

	key, err := store.Resolve("latest")
	require.NoError(t, err)

	require.NoError(t, store.SetNames(key, []string{"live", "global"}))
	resolved, err := store.Resolve("global")
	require.NoError(t, err)
	require.Equal(t, key, resolved)
}

func TestStoreHydrateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	provider := &fakeProvider{chains: map[string][]RemotePatch{
		"ffxiv": {
			{Name: "base", VersionID: "1", Active: true},
			{Name: "latest", VersionID: "2", Active: true, PrerequisiteVersions: []string{"1"}},
		},
	}}
	store := NewStore(Config{MetadataDir: dir, Repositories: []string{"ffxiv"}}, provider, fakePatcher{})
	store.Tick()
	key, err := store.Resolve("latest")
	require.NoError(t, err)
	require.NoError(t, store.SetNames(key, []string{"live"}))

	reloaded := NewStore(Config{MetadataDir: dir, Repositories: []string{"ffxiv"}}, provider, fakePatcher{})
	require.NoError(t, reloaded.Hydrate())

	resolved, err := reloaded.Resolve("live")
	require.NoError(t, err)
	require.Equal(t, key, resolved)

	v, state, err := reloaded.VersionOf(resolved)
	require.NoError(t, err)
	require.Equal(t, StateReady, state)
	require.True(t, v.Ready())
}

func TestStoreResolveUnknownKey(t *testing.T) {
	store := NewStore(Config{MetadataDir: t.TempDir()}, &fakeProvider{}, fakePatcher{})
	_, err := store.Resolve("0000000000000000")
	require.ErrorIs(t, err, ErrUnknown)
}

package version

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPProviderPatchListDecodesWire(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ffxiv", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]remotePatchWire{
			{Name: "base", VersionID: "1", Active: true},
			{Name: "latest", VersionID: "2", Active: true, PrerequisiteVersions: []string{"1"}},
		})
	}))
	defer srv.Close()

	provider := NewHTTPProvider(HTTPConfig{Endpoint: srv.URL})
	patches, err := provider.PatchList("ffxiv")
	require.NoError(t, err)
	require.Len(t, patches, 2)
	require.Equal(t, "latest", patches[1].Name)
	require.Equal(t, []string{"1"}, patches[1].PrerequisiteVersions)
}

func TestHTTPProviderPatchListPropagatesStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	provider := NewHTTPProvider(HTTPConfig{Endpoint: srv.URL})
	_, err := provider.PatchList("ffxiv")
	require.Error(t, err)
}

func TestHTTPPatcherDownloadsAndSkipsWhenAlreadyLocal(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte("patch-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	patcher := NewHTTPPatcher(HTTPConfig{Directory: dir})
	remote := RemotePatch{Name: "base", URL: srv.URL, Size: int64(len("patch-bytes"))}

	patch, err := patcher.Localize("ffxiv", remote)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "ffxiv", "base"), patch.LocalPath)
	require.Equal(t, 1, calls)

	// Second call: file already exists with matching size, no re-download.
	_, err = patcher.Localize("ffxiv", remote)
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	data, err := os.ReadFile(patch.LocalPath)
	require.NoError(t, err)
	require.Equal(t, "patch-bytes", string(data))
}

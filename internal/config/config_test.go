package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileAbsent(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "missing.toml"))
	require.Error(t, err) // Default() has no repositories/schema dirs configured
}

func TestLoadDecodesTOMLAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mache.toml")
	doc := `
[http]
addr = ":9090"

[version]
repositories = ["ffxiv"]

[schema]
saintcoinach_dir = "/data/saint-coinach"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTP.Addr)
	require.Equal(t, []string{"ffxiv"}, cfg.Version.Repositories)
	require.Equal(t, "/data/saint-coinach", cfg.Schema.SaintCoinachDir)
	require.Equal(t, 100, cfg.Sheet.DefaultLimit) // inherited from Default()
}

func TestLoadEnvOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mache.toml")
	doc := `
[version]
repositories = ["ffxiv"]

[schema]
saintcoinach_dir = "/data/saint-coinach"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	t.Setenv("MACHE_HTTP_ADDR", ":1234")
	t.Setenv("MACHE_SHEET_MAX_LIMIT", "50")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":1234", cfg.HTTP.Addr)
	require.Equal(t, 50, cfg.Sheet.MaxLimit)
}

func TestLoadRejectsMissingRepositories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mache.toml")
	doc := `
[schema]
saintcoinach_dir = "/data/saint-coinach"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

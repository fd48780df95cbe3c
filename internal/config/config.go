// Package config loads mache.toml at the working directory and overlays it
// with MACHE_-prefixed environment variables, producing the typed sections
// every other package is wired from.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// HTTPConfig configures the listening address for cmd/serve.go.
type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// VersionConfig configures internal/version.Store and its patch transport.
type VersionConfig struct {
	MetadataDir    string        `toml:"metadata_dir"`
	PatchDir       string        `toml:"patch_dir"`
	Endpoint       string        `toml:"endpoint"`
	UpdateInterval time.Duration `toml:"update_interval"`
	Repositories   []string      `toml:"repositories"`
}

// SchemaConfig configures internal/schema.Provider: the default specifier
// applied when a request omits "schema", and each registered source's local
// checkout directory.
type SchemaConfig struct {
	Default            string `toml:"default"`
	ExdSchemaDir       string `toml:"exdschema_dir"`
	SaintCoinachDir    string `toml:"saintcoinach_dir"`
	DefaultLanguage    string `toml:"default_language"`
}

// ReadConfig configures internal/read.Read's resource bounds.
type ReadConfig struct {
	DepthBudget int `toml:"depth_budget"`
	RowCeiling  int `toml:"row_ceiling"`
}

// SheetLimits configures the default/max row count for one route family.
type SheetLimits struct {
	DefaultLimit int `toml:"default_limit"`
	MaxLimit     int `toml:"max_limit"`
}

// SearchConfig configures internal/search.Engine's defaults.
type SearchConfig struct {
	SheetLimits
}

// AssetConfig configures GET /api/1/asset and /api/1/asset/map.
type AssetConfig struct {
	CacheMaxAgeSeconds int `toml:"cache_max_age_seconds"`
}

// AdminConfig configures the static Basic-Auth credential pair protecting
// /admin/ routes.
type AdminConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// Config is the fully decoded, overlaid configuration tree.
type Config struct {
	HTTP    HTTPConfig    `toml:"http"`
	Version VersionConfig `toml:"version"`
	Schema  SchemaConfig  `toml:"schema"`
	Sheet   SheetLimits   `toml:"sheet"`
	Search  SearchConfig  `toml:"search"`
	Read    ReadConfig    `toml:"read"`
	Asset   AssetConfig   `toml:"asset"`
	Admin   AdminConfig   `toml:"admin"`
}

// Default returns the baseline configuration applied before mache.toml and
// the environment overlay are read, so a minimal or absent mache.toml still
// produces a runnable config.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{Addr: ":8080"},
		Version: VersionConfig{
			MetadataDir:    "data/versions",
			PatchDir:       "data/patches",
			UpdateInterval: 5 * time.Minute,
		},
		Schema: SchemaConfig{Default: "saint-coinach", DefaultLanguage: "en"},
		Sheet:  SheetLimits{DefaultLimit: 100, MaxLimit: 1000},
		Search: SearchConfig{SheetLimits: SheetLimits{DefaultLimit: 100, MaxLimit: 1000}},
		Read:   ReadConfig{DepthBudget: 64, RowCeiling: 10000},
		Asset:  AssetConfig{CacheMaxAgeSeconds: 86400},
	}
}

// Load decodes path (defaulting to "mache.toml" at the working directory,
// tolerating its absence) over Default, then applies the MACHE_ environment
// overlay.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = "mache.toml"
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
	}

	if err := overlayEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: environment overlay: %w", err)
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// overlayEnv applies MACHE_<SECTION>_<FIELD> environment variables over the
// already-decoded config, restricted to the small set of fields an operator
// actually needs to override at deploy time -- the surface a generic
// reflect-driven env-config library would cover is much larger than this
// service needs, so the overlay is hand-written instead of pulled in.
func overlayEnv(cfg *Config) error {
	str := func(section, field string, dst *string) {
		if v, ok := os.LookupEnv(envKey(section, field)); ok {
			*dst = v
		}
	}
	strs := func(section, field string, dst *[]string) {
		if v, ok := os.LookupEnv(envKey(section, field)); ok {
			*dst = splitNonEmpty(v, ",")
		}
	}
	intVal := func(section, field string, dst *int) error {
		v, ok := os.LookupEnv(envKey(section, field))
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envKey(section, field), err)
		}
		*dst = n
		return nil
	}
	durVal := func(section, field string, dst *time.Duration) error {
		v, ok := os.LookupEnv(envKey(section, field))
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envKey(section, field), err)
		}
		*dst = d
		return nil
	}

	str("http", "addr", &cfg.HTTP.Addr)

	str("version", "metadata_dir", &cfg.Version.MetadataDir)
	str("version", "patch_dir", &cfg.Version.PatchDir)
	str("version", "endpoint", &cfg.Version.Endpoint)
	strs("version", "repositories", &cfg.Version.Repositories)
	if err := durVal("version", "update_interval", &cfg.Version.UpdateInterval); err != nil {
		return err
	}

	str("schema", "default", &cfg.Schema.Default)
	str("schema", "exdschema_dir", &cfg.Schema.ExdSchemaDir)
	str("schema", "saintcoinach_dir", &cfg.Schema.SaintCoinachDir)
	str("schema", "default_language", &cfg.Schema.DefaultLanguage)

	if err := intVal("sheet", "default_limit", &cfg.Sheet.DefaultLimit); err != nil {
		return err
	}
	if err := intVal("sheet", "max_limit", &cfg.Sheet.MaxLimit); err != nil {
		return err
	}
	if err := intVal("search", "default_limit", &cfg.Search.DefaultLimit); err != nil {
		return err
	}
	if err := intVal("search", "max_limit", &cfg.Search.MaxLimit); err != nil {
		return err
	}

	if err := intVal("read", "depth_budget", &cfg.Read.DepthBudget); err != nil {
		return err
	}
	if err := intVal("read", "row_ceiling", &cfg.Read.RowCeiling); err != nil {
		return err
	}

	if err := intVal("asset", "cache_max_age_seconds", &cfg.Asset.CacheMaxAgeSeconds); err != nil {
		return err
	}

	str("admin", "username", &cfg.Admin.Username)
	str("admin", "password", &cfg.Admin.Password)

	return nil
}

func envKey(section, field string) string {
	return "MACHE_" + strings.ToUpper(section) + "_" + strings.ToUpper(field)
}

func splitNonEmpty(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validate(cfg Config) error {
	if len(cfg.Version.Repositories) == 0 {
		return fmt.Errorf("config: version.repositories must name at least one repository")
	}
	if cfg.Schema.ExdSchemaDir == "" && cfg.Schema.SaintCoinachDir == "" {
		return fmt.Errorf("config: at least one of schema.exdschema_dir or schema.saintcoinach_dir is required")
	}
	return nil
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-research/mache/internal/api1"
	"github.com/agentic-research/mache/internal/archive"
	"github.com/agentic-research/mache/internal/config"
	"github.com/agentic-research/mache/internal/filter"
	"github.com/agentic-research/mache/internal/schema"
	"github.com/agentic-research/mache/internal/search"
	"github.com/agentic-research/mache/internal/version"
)

func init() {
	serveCmd.Flags().IntVar(&searchCacheSize, "search-cursor-cache-size", 4096, "Max live search cursors")
	serveCmd.Flags().DurationVar(&searchCursorTTL, "search-cursor-ttl", 2*time.Minute, "Search cursor time-to-live")
}

var (
	searchCacheSize int
	searchCursorTTL time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := version.NewStore(version.Config{
		MetadataDir:    cfg.Version.MetadataDir,
		UpdateInterval: cfg.Version.UpdateInterval,
		Repositories:   cfg.Version.Repositories,
	}, version.NewHTTPProvider(version.HTTPConfig{Endpoint: cfg.Version.Endpoint}),
		version.NewHTTPPatcher(version.HTTPConfig{Directory: cfg.Version.PatchDir}))
	if err := store.Hydrate(); err != nil {
		return fmt.Errorf("hydrate version store: %w", err)
	}

	archives := archive.NewManager()
	cursors := search.NewCache(search.CursorConfig{TTL: searchCursorTTL}, searchCacheSize)
	engine, err := search.NewEngine(cursors)
	if err != nil {
		return fmt.Errorf("build search engine: %w", err)
	}

	schemas, err := schema.NewProvider(schema.Config{
		Default:      mustSpecifier(cfg.Schema.Default),
		ExdSchema:    schema.ExdSchemaConfig{Directory: cfg.Schema.ExdSchemaDir},
		SaintCoinach: schema.SaintCoinachConfig{Directory: cfg.Schema.SaintCoinachDir},
	})
	if err != nil {
		return fmt.Errorf("build schema provider: %w", err)
	}

	defaultLanguage := archive.Language(cfg.Schema.DefaultLanguage)
	go installReadyVersions(ctx, store, archives, engine, defaultLanguage)
	go tickVersions(ctx, store, cfg.Version.UpdateInterval)

	handler := api1.NewHandler(api1.Deps{
		Versions: store,
		Archives: archives,
		Schemas:  schemas,
		Search:   engine,
		Config: api1.Config{
			DefaultLanguage: defaultLanguage,
			Read: api1.ReadConfig{
				DepthBudget: cfg.Read.DepthBudget,
				RowCeiling:  cfg.Read.RowCeiling,
			},
			Sheet: api1.SheetConfig{
				DefaultLimit: cfg.Sheet.DefaultLimit,
				MaxLimit:     cfg.Sheet.MaxLimit,
				Fields:       perSourceDefaultFilter(),
				Transient:    perSourceDefaultFilter(),
			},
			Search: api1.SearchConfig{
				DefaultLimit: cfg.Search.DefaultLimit,
				MaxLimit:     cfg.Search.MaxLimit,
				Fields:       perSourceDefaultFilter(),
				Transient:    perSourceDefaultFilter(),
			},
			Asset: api1.AssetConfig{
				CacheMaxAgeSeconds: cfg.Asset.CacheMaxAgeSeconds,
			},
			Admin: api1.AdminConfig{
				Username: cfg.Admin.Username,
				Password: cfg.Admin.Password,
			},
		},
	})

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("mache: listening on %s", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Printf("mache: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// perSourceDefaultFilter returns the "read everything" default applied when
// a request omits its fields/transient query parameter, for every
// registered schema source.
func perSourceDefaultFilter() map[string]filter.Filter {
	return map[string]filter.Filter{
		"saint-coinach": filter.All,
		"exdschema":     filter.All,
	}
}

func mustSpecifier(raw string) schema.Specifier {
	spec, err := schema.ParseSpecifier(raw)
	if err != nil {
		log.Fatalf("mache: invalid schema.default %q: %v", raw, err)
	}
	return spec
}

// installReadyVersions subscribes to the store's Ready-key broadcasts and
// installs each newly-ready version's archive view and search index,
// mirroring the reference implementation's version->archive->search
// pipeline wiring.
func installReadyVersions(ctx context.Context, store *version.Store, archives *archive.Manager, engine *search.Engine, defaultLanguage archive.Language) {
	keys := store.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ready := <-keys:
			for _, key := range ready {
				v, _, err := store.VersionOf(key)
				if err != nil {
					log.Printf("mache: install %s: %v", key, err)
					continue
				}
				if err := archives.Install(key, v.Repositories, defaultLanguage); err != nil {
					log.Printf("mache: install archive %s: %v", key, err)
					continue
				}
				_, excel, err := archives.VersionData(key)
				if err != nil {
					log.Printf("mache: fetch installed archive %s: %v", key, err)
					continue
				}
				if err := engine.Index(key, excel, excel.List()); err != nil {
					log.Printf("mache: index search %s: %v", key, err)
				}
			}
		}
	}
}

// tickVersions drives the version store's periodic patch-catalog refresh.
func tickVersions(ctx context.Context, store *version.Store, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.Tick()
		}
	}
}

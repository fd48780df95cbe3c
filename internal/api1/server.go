// Package api1 implements the HTTP facade: one net/http.ServeMux wiring the
// version, archive, schema, read, and search packages to the wire routes
// documented for the service's "api/1" surface, plus a Basic-Auth admin
// surface over the same version store.
package api1

import (
	"net/http"

	"github.com/agentic-research/mache/internal/archive"
	"github.com/agentic-research/mache/internal/filter"
	"github.com/agentic-research/mache/internal/schema"
	"github.com/agentic-research/mache/internal/search"
	"github.com/agentic-research/mache/internal/version"
)

// ReadConfig bounds a single read.Read call, shared by the sheet and search
// routes since both hydrate rows through the same reader.
type ReadConfig struct {
	DepthBudget int
	RowCeiling  int
}

// SheetConfig configures GET /api/1/sheet and its row routes.
type SheetConfig struct {
	DefaultLimit int
	MaxLimit     int
	// Fields/Transient hold the default field filter per schema source,
	// used when a request omits its own fields/transient query parameter.
	Fields    map[string]filter.Filter
	Transient map[string]filter.Filter
}

// SearchConfig configures GET /api/1/search.
type SearchConfig struct {
	DefaultLimit int
	MaxLimit     int
	Fields       map[string]filter.Filter
	Transient    map[string]filter.Filter
}

// AssetConfig configures GET /api/1/asset and its composite map route.
type AssetConfig struct {
	CacheMaxAgeSeconds int
	// Transcoder converts a raw archive file into response bytes. Nil
	// falls back to DefaultTranscoder, a documented passthrough.
	Transcoder Transcoder
	// Decoder decodes a raw texture into pixel data for the composite map
	// route's channel multiplication. Nil disables composition: the
	// foreground file is served unmodified.
	Decoder ImageDecoder
}

// AdminConfig holds the single Basic-Auth credential pair protecting the
// admin routes.
type AdminConfig struct {
	Username string
	Password string
}

// Config groups every route family's request defaults and limits.
type Config struct {
	DefaultLanguage archive.Language

	Read   ReadConfig
	Sheet  SheetConfig
	Search SearchConfig
	Asset  AssetConfig
	Admin  AdminConfig
}

// Deps wires the facade to the service's domain packages.
type Deps struct {
	Versions *version.Store
	Archives *archive.Manager
	Schemas  *schema.Provider
	Search   *search.Engine
	Config   Config
}

type handlers struct {
	deps Deps
}

// NewHandler builds the ServeMux serving every mounted route: the
// unauthenticated api/1 surface, the Basic-Auth admin surface, and the two
// liveness/readiness probes.
func NewHandler(deps Deps) http.Handler {
	h := &handlers{deps: deps}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", h.healthLive)
	mux.HandleFunc("GET /health/ready", h.healthReady)

	mux.HandleFunc("GET /api/1/version", h.listVersions)
	mux.HandleFunc("GET /api/1/sheet", h.listSheets)
	mux.HandleFunc("GET /api/1/sheet/{sheet}", h.sheetRows)
	mux.HandleFunc("GET /api/1/sheet/{sheet}/{row}", h.sheetRow)
	mux.HandleFunc("GET /api/1/search", h.search)
	mux.HandleFunc("GET /api/1/asset", h.asset)
	mux.HandleFunc("GET /api/1/asset/map/{territory}/{index}", h.assetMap)

	mux.HandleFunc("GET /admin/", h.adminAuth(h.adminIndex))
	mux.HandleFunc("GET /admin/{versionKey}", h.adminAuth(h.adminShow))
	mux.HandleFunc("POST /admin/{versionKey}/delete", h.adminAuth(h.adminDelete))

	return mux
}

func (h *handlers) healthLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// healthReady reports ready once at least one version has resolved to
// "latest" -- there's no point serving traffic before then, since every
// api/1 route defaults its version query parameter to "latest".
func (h *handlers) healthReady(w http.ResponseWriter, r *http.Request) {
	if _, err := h.deps.Versions.Resolve("latest"); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// resolveVersion reads the "version" query parameter, defaulting to
// "latest", and resolves it through the version store.
func (h *handlers) resolveVersion(r *http.Request) (version.Key, error) {
	name := r.URL.Query().Get("version")
	if name == "" {
		name = "latest"
	}
	return h.deps.Versions.Resolve(name)
}

// resolveSchema parses an optional "schema" query parameter and
// canonicalizes it against key, falling back to the provider's configured
// default when absent.
func (h *handlers) resolveSchema(r *http.Request, key version.Key) (schema.CanonicalSpecifier, schema.Schema, error) {
	var specPtr *schema.Specifier
	if raw := r.URL.Query().Get("schema"); raw != "" {
		spec, err := schema.ParseSpecifier(raw)
		if err != nil {
			return schema.CanonicalSpecifier{}, nil, invalidf("invalid schema specifier %q: %v", raw, err)
		}
		specPtr = &spec
	}
	canon, err := h.deps.Schemas.Canonicalize(specPtr, key)
	if err != nil {
		return schema.CanonicalSpecifier{}, nil, err
	}
	sch, err := h.deps.Schemas.Schema(canon)
	if err != nil {
		return schema.CanonicalSpecifier{}, nil, err
	}
	return canon, sch, nil
}

// resolveLanguage reads the "language" query parameter, falling back to the
// facade's configured default language.
func (h *handlers) resolveLanguage(r *http.Request) archive.Language {
	if raw := r.URL.Query().Get("language"); raw != "" {
		return archive.Language(raw)
	}
	return h.deps.Config.DefaultLanguage
}

// resolveFilter parses raw as a filter string when non-empty, otherwise
// looks up source's configured default for label ("fields" or "transient").
func resolveFilter(raw string, defaults map[string]filter.Filter, source, label string) (filter.Filter, error) {
	if raw != "" {
		f, err := filter.Parse(raw)
		if err != nil {
			return filter.Filter{}, invalidf("invalid %s filter: %v", label, err)
		}
		return f, nil
	}
	f, ok := defaults[source]
	if !ok {
		return filter.Filter{}, invalidf("no default %s filter configured for schema source %q", label, source)
	}
	return f, nil
}

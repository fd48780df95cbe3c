package schema

import (
	"errors"
	"fmt"

	"github.com/agentic-research/mache/internal/version"
)

// ErrUnknownSource is returned when a specifier names a source the
// Provider has no registration for.
var ErrUnknownSource = errors.New("schema: unknown source")

// Source is one pluggable origin of typed schemas, keyed by a short
// identifier such as "exdschema" or "saint-coinach".
type Source interface {
	Ready() bool
	Update() error
	// Canonicalize returns a deterministic, fully-qualified version string
	// for this source given an optional caller-requested schema version
	// and the game VersionKey being read against.
	Canonicalize(schemaVersion *string, versionKey version.Key) (string, error)
	Version(canonical string) (Schema, error)
}

// Config configures the Provider's default specifier and per-source
// settings.
type Config struct {
	Default      Specifier
	ExdSchema    ExdSchemaConfig
	SaintCoinach SaintCoinachConfig
}

// Provider canonicalizes caller specifiers and resolves them to a concrete
// Schema by dispatching on the specifier's source prefix: the source
// registered under exactly that name handles it.
type Provider struct {
	def     Specifier
	sources map[string]Source
}

// NewProvider constructs a Provider with the "saint-coinach" and
// "exdschema" sources registered, matching the reference implementation's
// fixed two-source registration.
func NewProvider(cfg Config) (*Provider, error) {
	sc, err := NewSaintCoinach(cfg.SaintCoinach)
	if err != nil {
		return nil, fmt.Errorf("schema: init saint-coinach source: %w", err)
	}
	ed, err := NewExdSchema(cfg.ExdSchema)
	if err != nil {
		return nil, fmt.Errorf("schema: init exdschema source: %w", err)
	}
	return &Provider{
		def: cfg.Default,
		sources: map[string]Source{
			"saint-coinach": sc,
			"exdschema":     ed,
		},
	}, nil
}

// Canonicalize resolves an optional caller specifier (falling back to the
// configured default) into a fully-qualified CanonicalSpecifier.
func (p *Provider) Canonicalize(spec *Specifier, key version.Key) (CanonicalSpecifier, error) {
	s := p.def
	if spec != nil {
		s = *spec
	}
	source, ok := p.sources[s.Source]
	if !ok {
		return CanonicalSpecifier{}, fmt.Errorf("%w: %s", ErrUnknownSource, s.Source)
	}
	canon, err := source.Canonicalize(s.Version, key)
	if err != nil {
		return CanonicalSpecifier{}, err
	}
	return CanonicalSpecifier{Source: s.Source, Version: canon}, nil
}

// Schema resolves a CanonicalSpecifier to its Schema.
func (p *Provider) Schema(spec CanonicalSpecifier) (Schema, error) {
	source, ok := p.sources[spec.Source]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, spec.Source)
	}
	return source.Version(spec.Version)
}

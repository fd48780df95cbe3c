package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/agentic-research/mache/internal/version"
)

// ExdSchemaConfig points at a local checkout of exdschema-style
// per-revision schema files, keyed purely by revision (no game-version
// component, unlike saint-coinach).
type ExdSchemaConfig struct {
	Directory string
}

// ExdSchema canonicalizes to the v2 format "2:rev:{rev}". The leading "2:"
// and ":" separator are chosen because neither can occur inside a valid v1
// revision string, letting both formats coexist in the same specifier
// namespace without ambiguity.
type ExdSchema struct {
	cfg ExdSchemaConfig

	mu       sync.RWMutex
	revision string
}

func NewExdSchema(cfg ExdSchemaConfig) (*ExdSchema, error) {
	e := &ExdSchema{cfg: cfg}
	_ = e.Update()
	return e, nil
}

func (e *ExdSchema) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.revision != ""
}

func (e *ExdSchema) Update() error {
	if e.cfg.Directory == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(e.cfg.Directory, "HEAD"))
	if err != nil {
		return fmt.Errorf("schema: exdschema: read HEAD: %w", err)
	}
	e.mu.Lock()
	e.revision = trimNewline(string(data))
	e.mu.Unlock()
	return nil
}

// Canonicalize ignores versionKey: exdschema revisions are not
// game-version-qualified, only schema-revision-qualified.
func (e *ExdSchema) Canonicalize(schemaVersion *string, _ version.Key) (string, error) {
	rev := schemaVersion
	if rev == nil {
		e.mu.RLock()
		r := e.revision
		e.mu.RUnlock()
		if r == "" {
			return "", fmt.Errorf("schema: exdschema: no revision known and none requested")
		}
		rev = &r
	}
	return fmt.Sprintf("2:rev:%s", *rev), nil
}

func (e *ExdSchema) Version(canonical string) (Schema, error) {
	const prefix = "2:rev:"
	if len(canonical) <= len(prefix) || canonical[:len(prefix)] != prefix {
		return nil, fmt.Errorf("schema: exdschema: malformed canonical version %q", canonical)
	}
	rev := canonical[len(prefix):]

	path := filepath.Join(e.cfg.Directory, rev+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: exdschema: read %s: %w", path, err)
	}
	var doc staticSchemaDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("schema: exdschema: decode %s: %w", path, err)
	}
	return doc.toSchema(OrderIndex), nil
}

package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/agentic-research/mache/internal/version"
)

// SaintCoinachConfig points at a local checkout of saint-coinach-style
// per-revision schema files. The actual git-sync machinery the reference
// implementation performs is out of scope (an external repository-mirror
// concern); Update here reads the latest revision already on disk.
type SaintCoinachConfig struct {
	Directory string
}

// SaintCoinach canonicalizes to the v1 format "{rev}-{game_version}".
type SaintCoinach struct {
	cfg SaintCoinachConfig

	mu       sync.RWMutex
	revision string
}

func NewSaintCoinach(cfg SaintCoinachConfig) (*SaintCoinach, error) {
	s := &SaintCoinach{cfg: cfg}
	_ = s.Update()
	return s, nil
}

func (s *SaintCoinach) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision != ""
}

// Update refreshes the known revision from the directory's "HEAD" marker
// file, matching the on-disk layout a saint-coinach checkout would have.
func (s *SaintCoinach) Update() error {
	if s.cfg.Directory == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(s.cfg.Directory, "HEAD"))
	if err != nil {
		return fmt.Errorf("schema: saint-coinach: read HEAD: %w", err)
	}
	s.mu.Lock()
	s.revision = trimNewline(string(data))
	s.mu.Unlock()
	return nil
}

// Canonicalize renders "{rev}-{game_version}" where game_version is the
// requested game VersionKey's hex string -- the v1 canonical form.
func (s *SaintCoinach) Canonicalize(schemaVersion *string, versionKey version.Key) (string, error) {
	rev := schemaVersion
	if rev == nil {
		s.mu.RLock()
		r := s.revision
		s.mu.RUnlock()
		if r == "" {
			return "", fmt.Errorf("schema: saint-coinach: no revision known and none requested")
		}
		rev = &r
	}
	return fmt.Sprintf("%s-%s", *rev, versionKey), nil
}

// Version loads the schema for a canonical "{rev}-{game_version}" string by
// reading its revision's bundled JSON schema tree.
func (s *SaintCoinach) Version(canonical string) (Schema, error) {
	rev, _, err := splitSaintCoinachVersion(canonical)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(s.cfg.Directory, rev+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: saint-coinach: read %s: %w", path, err)
	}
	var doc staticSchemaDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("schema: saint-coinach: decode %s: %w", path, err)
	}
	return doc.toSchema(OrderOffset), nil
}

func splitSaintCoinachVersion(canonical string) (rev string, gameVersion string, err error) {
	for i := len(canonical) - 1; i >= 0; i-- {
		if canonical[i] == '-' {
			return canonical[:i], canonical[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("schema: malformed saint-coinach canonical version %q", canonical)
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// Package version maintains the set of known game versions: their repository
// patch chains, persisted metadata, and the names an operator has assigned to
// them.
package version

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Key is a stable 16-hex-digit identifier for a Version, derived by hashing
// the ordered latest-patch names across its repositories.
type Key [8]byte

// String renders the key as lowercase hex, its canonical textual form.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// MarshalText implements encoding.TextMarshaler so a Key serializes as its
// hex string rather than a base64 byte array.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key) UnmarshalText(text []byte) error {
	parsed, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKey parses a 16-hex-digit version key.
func ParseKey(s string) (Key, error) {
	var k Key
	if len(s) != 16 {
		return k, fmt.Errorf("version: key %q must be 16 hex digits", s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("version: parse key %q: %w", s, err)
	}
	copy(k[:], b)
	return k, nil
}

// Patch is one localized patch file belonging to a Repository.
type Patch struct {
	Name      string
	LocalPath string
	Size      int64
	URL       string
}

// Repository is a non-empty ordered sequence of patches, oldest first.
type Repository struct {
	Name    string
	Patches []Patch
}

// Latest returns the newest patch in the chain.
func (r Repository) Latest() (Patch, bool) {
	if len(r.Patches) == 0 {
		return Patch{}, false
	}
	return r.Patches[len(r.Patches)-1], true
}

// Version is an immutable set of repository patch chains resolved under a
// single VersionKey.
type Version struct {
	Repositories []Repository
	BanTime      *time.Time
	Names        map[string]struct{}
}

// Ready reports whether every patch in every repository has a local path.
func (v Version) Ready() bool {
	for _, repo := range v.Repositories {
		for _, p := range repo.Patches {
			if p.LocalPath == "" {
				return false
			}
		}
	}
	return true
}

// State distinguishes a pending version from a ready one.
type State int

const (
	StateUnknown State = iota
	StatePending
	StateReady
)

var (
	// ErrUnknown is returned when a version key has never been announced.
	ErrUnknown = errors.New("version: unknown key")
	// ErrPending is returned when a version has been announced but its
	// patch chain is not yet fully localized.
	ErrPending = errors.New("version: pending")
	// ErrChainTooShort guards against upstream patch-server outages that
	// report a single-patch chain.
	ErrChainTooShort = errors.New("version: resolved chain has length <= 1")
	// ErrNameNotFound is returned by Resolve when no version carries the
	// requested name.
	ErrNameNotFound = errors.New("version: name not found")
)

// RepositoryPatches is PatchList's per-repository result.
type RepositoryPatches struct {
	Repository string
	Patches    []Patch
}

// PatchProvider yields a repository's patch catalog from a remote source.
// HTTPProvider (httppatch.go) implements it over a JSON endpoint.
type PatchProvider interface {
	PatchList(repo string) ([]RemotePatch, error)
}

// RemotePatch is one entry in a provider's raw prerequisite graph, prior to
// chain resolution.
type RemotePatch struct {
	Name                 string
	VersionID            string
	Active               bool
	PrerequisiteVersions []string
	URL                  string
	Size                 int64
}

// Patcher localizes a remote patch to local disk.
type Patcher interface {
	Localize(repo string, patch RemotePatch) (Patch, error)
}

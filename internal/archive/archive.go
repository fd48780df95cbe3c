// Package archive builds the layered virtual filesystem ("archive view")
// over a resolved version's patch chain and exposes a typed sheet/row
// reader over it.
package archive

import (
	"errors"
	"fmt"
	"io"
	"sync"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/agentic-research/mache/internal/version"
)

// ErrNotFound is returned when no layer of the archive contains the
// requested path.
var ErrNotFound = errors.New("archive: file not found")

// View is an ordered stack of patch-file roots; ReadFile scans from newest
// to oldest and returns the first hit, exactly mirroring the reference
// implementation's layered-patch semantics.
type View struct {
	key    version.Key
	layers []layer // newest last in Repositories order, reversed for lookup
}

type layer struct {
	repo string
	fs   billy.Filesystem
}

// Build stacks one billy.Filesystem root per patch (oldest to newest, within
// each repository, repository order preserved) and returns the resulting
// layered View. This generalizes nfsmount.GraphFS's single graph-backed
// billy.Filesystem to a stack of on-disk patch roots.
func Build(key version.Key, repos []version.Repository) (*View, error) {
	v := &View{key: key}
	for _, repo := range repos {
		for _, p := range repo.Patches {
			if p.LocalPath == "" {
				return nil, fmt.Errorf("archive: repository %s patch %s has no local path", repo.Name, p.Name)
			}
			v.layers = append(v.layers, layer{repo: repo.Name, fs: osfs.New(p.LocalPath)})
		}
	}
	if len(v.layers) == 0 {
		return nil, fmt.Errorf("archive: no patch layers for version %s", key)
	}
	return v, nil
}

// ReadFile scans the layer stack from newest (last-inserted) to oldest and
// returns the first hit.
func (v *View) ReadFile(path string) ([]byte, error) {
	for i := len(v.layers) - 1; i >= 0; i-- {
		f, err := v.layers[i].fs.Open(path)
		if err != nil {
			continue
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("archive: read %s: %w", path, err)
		}
		return data, nil
	}
	return nil, ErrNotFound
}

// Key returns the version this archive view was built for.
func (v *View) Key() version.Key { return v.key }

// Manager tracks the built archive view per version key, swapped in
// atomically as the version store announces newly-Ready keys so that
// readers never observe a partially-built view.
type Manager struct {
	mu     sync.RWMutex
	views  map[version.Key]*View
	excels map[version.Key]*Excel
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{
		views:  make(map[version.Key]*View),
		excels: make(map[version.Key]*Excel),
	}
}

var (
	// ErrUnknown is returned for a key the manager has never been told about.
	ErrUnknown = errors.New("archive: unknown version")
	// ErrPending is returned while a version's archive view is still being
	// built.
	ErrPending = errors.New("archive: pending")
)

// VersionData returns the ready archive view and excel reader for a key.
func (m *Manager) VersionData(key version.Key) (*View, *Excel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.views[key]
	if !ok {
		return nil, nil, ErrUnknown
	}
	return v, m.excels[key], nil
}

// Install builds and installs the archive view for a newly-Ready version.
// Called from the version store's Subscribe loop.
func (m *Manager) Install(key version.Key, repos []version.Repository, defaultLanguage Language) error {
	v, err := Build(key, repos)
	if err != nil {
		return err
	}
	excel, err := NewExcel(v, defaultLanguage)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.views[key] = v
	m.excels[key] = excel
	m.mu.Unlock()
	return nil
}

// Evict removes a version's archive view and excel reader, e.g. after an
// admin delete. Not named explicitly by the reference contract but implied
// by the admin interface's ability to remove orphaned versions.
func (m *Manager) Evict(key version.Key) {
	m.mu.Lock()
	delete(m.views, key)
	delete(m.excels, key)
	m.mu.Unlock()
}

package version

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/RoaringBitmap/roaring"
)

// Config configures the periodic update tick and the on-disk metadata
// directory.
type Config struct {
	MetadataDir    string
	UpdateInterval time.Duration
	Repositories   []string // configured repository order
}

// Store holds every known version and its state, persists metadata to disk,
// and broadcasts the set of Ready keys whenever it changes.
type Store struct {
	cfg Config

	mu       sync.RWMutex
	versions map[Key]*Version
	states   map[Key]State
	names    map[string]Key
	latest   Key
	hasLatest bool

	// localized tracks, per resolved repository chain (keyed by the key of
	// that single repository's chain), which patch ordinals have been
	// localized to disk, generalizing the teacher's file->node
	// roaring membership index to patch-ordinal->localized membership.
	localized map[Key]*roaring.Bitmap

	subCh chan []Key

	provider PatchProvider
	patcher  Patcher
}

// NewStore constructs an empty Store. Call Hydrate to load persisted state.
func NewStore(cfg Config, provider PatchProvider, patcher Patcher) *Store {
	return &Store{
		cfg:       cfg,
		versions:  make(map[Key]*Version),
		states:    make(map[Key]State),
		names:     make(map[string]Key),
		localized: make(map[Key]*roaring.Bitmap),
		subCh:     make(chan []Key, 1),
		provider:  provider,
		patcher:   patcher,
	}
}

// Subscribe returns a channel that receives the sorted list of Ready keys
// whenever the Ready set changes. The channel is buffered to depth 1 and
// always holds only the latest snapshot -- intermediate transitions are not
// guaranteed delivery, matching the "replace, don't queue" semantics of the
// reference implementation's watch channel.
func (s *Store) Subscribe() <-chan []Key {
	return s.subCh
}

func (s *Store) publish(keys []Key) {
	for {
		select {
		case s.subCh <- keys:
			return
		default:
			select {
			case <-s.subCh:
			default:
			}
		}
	}
}

// Resolve looks up a version by name (including the distinguished "latest")
// before falling back to parsing the string as a hex key.
func (s *Store) Resolve(nameOrKey string) (Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if nameOrKey == "latest" {
		if !s.hasLatest {
			return Key{}, ErrNameNotFound
		}
		return s.latest, nil
	}
	if key, ok := s.names[nameOrKey]; ok {
		return key, nil
	}
	key, err := ParseKey(nameOrKey)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %s", ErrNameNotFound, nameOrKey)
	}
	if _, ok := s.versions[key]; !ok {
		return Key{}, ErrUnknown
	}
	return key, nil
}

// Keys returns every known version key.
func (s *Store) Keys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Key, 0, len(s.versions))
	for k := range s.versions {
		out = append(out, k)
	}
	return out
}

// Names returns the operator-assigned names for a key.
func (s *Store) Names(key Key) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[key]
	if !ok {
		return nil
	}
	return sortedNames(v.Names)
}

// VersionOf returns the Version and its state.
func (s *Store) VersionOf(key Key) (*Version, State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[key]
	if !ok {
		return nil, StateUnknown, ErrUnknown
	}
	return v, s.states[key], nil
}

// PatchList returns the patch chain in configured repository order.
func (s *Store) PatchList(key Key) ([]RepositoryPatches, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[key]
	if !ok {
		return nil, ErrUnknown
	}
	out := make([]RepositoryPatches, 0, len(v.Repositories))
	for _, r := range v.Repositories {
		out = append(out, RepositoryPatches{Repository: r.Name, Patches: r.Patches})
	}
	return out, nil
}

// SetNames replaces the name set assigned to a version and persists the
// change.
func (s *Store) SetNames(key Key, names []string) error {
	s.mu.Lock()
	v, ok := s.versions[key]
	if !ok {
		s.mu.Unlock()
		return ErrUnknown
	}
	for old := range v.Names {
		delete(s.names, old)
	}
	v.Names = make(map[string]struct{}, len(names))
	for _, n := range names {
		v.Names[n] = struct{}{}
		s.names[n] = key
	}
	s.mu.Unlock()
	return s.persist()
}

// SetBanned marks a version's ban_time as now (banned) or clears it.
func (s *Store) SetBanned(key Key, banned bool) error {
	s.mu.Lock()
	v, ok := s.versions[key]
	if !ok {
		s.mu.Unlock()
		return ErrUnknown
	}
	if banned {
		now := time.Now()
		v.BanTime = &now
	} else {
		v.BanTime = nil
	}
	s.mu.Unlock()
	return s.persist()
}

// insert atomically registers a newly-resolved version, promoting its state
// to Ready if every patch has a local path, and republishes the Ready set.
func (s *Store) insert(v *Version) Key {
	key := DeriveKey(v.Repositories)

	s.mu.Lock()
	s.versions[key] = v
	if v.Ready() {
		s.states[key] = StateReady
	} else {
		s.states[key] = StatePending
	}
	for n := range v.Names {
		s.names[n] = key
	}
	s.mu.Unlock()

	if v.Ready() {
		s.updateLatest(key)
		_ = s.persist()
	}
	s.publish(s.readyKeys())
	return key
}

func (s *Store) updateLatest(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = key
	s.hasLatest = true
}

func (s *Store) readyKeys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Key
	for k, st := range s.states {
		if st == StateReady {
			out = append(out, k)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].String() < out[j-1].String(); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// persistedMetadata mirrors metadata.json's on-disk shape.
type persistedMetadata struct {
	Versions []Key            `json:"versions"`
	Names    map[string]string `json:"names"`
}

func (s *Store) metadataPath() string {
	return filepath.Join(s.cfg.MetadataDir, "metadata.json")
}

func (s *Store) versionPath(key Key) string {
	return filepath.Join(s.cfg.MetadataDir, fmt.Sprintf("version-%s.json", key))
}

// persist journals metadata.json and every version's file, each under an
// exclusive flock, matching the reference implementation's shared-read /
// exclusive-write discipline for concurrent hydration and updates.
func (s *Store) persist() error {
	s.mu.RLock()
	meta := persistedMetadata{Names: make(map[string]string)}
	for k := range s.versions {
		meta.Versions = append(meta.Versions, k)
	}
	for n, k := range s.names {
		meta.Names[n] = k.String()
	}
	versionsCopy := make(map[Key]*Version, len(s.versions))
	for k, v := range s.versions {
		versionsCopy[k] = v
	}
	s.mu.RUnlock()

	if err := writeLocked(s.metadataPath(), meta); err != nil {
		return fmt.Errorf("version: persist metadata: %w", err)
	}
	for k, v := range versionsCopy {
		if err := writeLocked(s.versionPath(k), v); err != nil {
			return fmt.Errorf("version: persist version %s: %w", k, err)
		}
	}
	return nil
}

func writeLocked(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("flock %s: %w", path, err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Hydrate loads persisted metadata and every version file on startup,
// skipping (and logging) any version that fails validation rather than
// aborting the whole load.
func (s *Store) Hydrate() error {
	data, err := readLocked(s.metadataPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("version: hydrate metadata: %w", err)
	}

	var meta persistedMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("version: hydrate metadata: %w", err)
	}

	for _, key := range meta.Versions {
		raw, err := readLocked(s.versionPath(key))
		if err != nil {
			log.Printf("version: hydrate: skip %s: %v", key, err)
			continue
		}
		var v Version
		if err := json.Unmarshal(raw, &v); err != nil {
			log.Printf("version: hydrate: skip %s: invalid version file: %v", key, err)
			continue
		}
		if v.Names == nil {
			v.Names = make(map[string]struct{})
		}

		s.mu.Lock()
		s.versions[key] = &v
		if v.Ready() {
			s.states[key] = StateReady
		} else {
			s.states[key] = StatePending
		}
		for n := range v.Names {
			s.names[n] = key
		}
		s.mu.Unlock()
	}

	for name, keyStr := range meta.Names {
		key, err := ParseKey(keyStr)
		if err != nil {
			log.Printf("version: hydrate: skip name %q: %v", name, err)
			continue
		}
		s.mu.Lock()
		s.names[name] = key
		if name == "latest" {
			s.latest = key
			s.hasLatest = true
		}
		s.mu.Unlock()
	}

	s.publish(s.readyKeys())
	return nil
}

func readLocked(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_SH); err != nil {
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	return os.ReadFile(path)
}

// Tick performs one update cycle: fetches each configured repository's
// patch chain, localizes it, composes a Version, and inserts it if every
// patch localized successfully. A failed fetch is logged and leaves any
// prior Ready state intact, per the reference implementation's failure
// semantics.
func (s *Store) Tick() {
	repos := make([]Repository, 0, len(s.cfg.Repositories))
	for _, repoName := range s.cfg.Repositories {
		repo, err := s.resolveRepository(repoName)
		if err != nil {
			log.Printf("version: tick: repository %s: %v", repoName, err)
			return
		}
		repos = append(repos, repo)
	}
	v := &Version{Repositories: repos, Names: make(map[string]struct{})}
	s.insert(v)
}

func (s *Store) resolveRepository(repoName string) (Repository, error) {
	remote, err := s.provider.PatchList(repoName)
	if err != nil {
		return Repository{}, fmt.Errorf("fetch patch list: %w", err)
	}
	latest := latestVersionID(remote)
	chain, err := ResolveChain(remote, latest)
	if err != nil {
		return Repository{}, fmt.Errorf("resolve chain: %w", err)
	}

	bitmap := roaring.New()
	patches := make([]Patch, 0, len(chain))
	for i, rp := range chain {
		p, err := s.patcher.Localize(repoName, rp)
		if err != nil {
			// A patch that fails to localize leaves the repository
			// unresolved for this tick: Tick inserts no version (neither
			// Pending nor Ready), and the next tick retries.
			return Repository{}, fmt.Errorf("localize %s: %w", rp.Name, err)
		}
		patches = append(patches, p)
		bitmap.Add(uint32(i))
	}

	s.mu.Lock()
	s.localized[DeriveKey([]Repository{{Name: repoName, Patches: patches}})] = bitmap
	s.mu.Unlock()

	return Repository{Name: repoName, Patches: patches}, nil
}

func latestVersionID(remote []RemotePatch) string {
	if len(remote) == 0 {
		return ""
	}
	return remote[len(remote)-1].VersionID
}

package search

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/agentic-research/mache/internal/version"
)

// Cursor is a paused search: the version it ran against, the already-planned
// statement and its bound parameters, and how many rows of that statement's
// result set have already been handed out.
type Cursor struct {
	Version version.Key
	SQL     string
	Args    []any
	Offset  int
}

// CursorConfig controls the cache's expiry policy. A zero value for either
// field disables that half of the policy, matching the original's
// Option<u64> ttl/tti fields.
type CursorConfig struct {
	TTL time.Duration
	TTI time.Duration
}

// Cache hands out opaque UUID tokens for paused searches, expiring them on
// whichever of TTL/TTI comes first.
type Cache struct {
	cache *expirable.LRU[uuid.UUID, Cursor]
}

// NewCache builds a cursor cache. size bounds the number of live cursors
// independent of time-based expiry; the original had no such bound (moka's
// cache is unbounded aside from ttl/tti), but expirable.LRU requires one, so
// a generous default keeps behavior equivalent for any realistic workload.
//
// expirable.LRU only supports a single fixed entry lifetime, not moka's
// separate idle-reset (tti) semantics, so both knobs collapse to one ttl:
// whichever of TTL/TTI is smaller (a cursor that would've had its idle
// timer kept alive by repeated Gets instead just expires at that bound).
func NewCache(cfg CursorConfig, size int) *Cache {
	if size <= 0 {
		size = 4096
	}
	ttl := cfg.TTI
	if cfg.TTL != 0 && (ttl == 0 || cfg.TTL < ttl) {
		ttl = cfg.TTL
	}
	return &Cache{cache: expirable.NewLRU[uuid.UUID, Cursor](size, nil, ttl)}
}

// Get returns the cursor stored under id, if it hasn't expired.
func (c *Cache) Get(id uuid.UUID) (Cursor, bool) {
	return c.cache.Get(id)
}

// Put stores cursor under a freshly minted id and returns it.
func (c *Cache) Put(cursor Cursor) uuid.UUID {
	id := uuid.New()
	c.cache.Add(id, cursor)
	return id
}

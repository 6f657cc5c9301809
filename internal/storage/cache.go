package storage

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"todobot/internal/cryptox"
	"todobot/pkg/logx"
)

// errNoChange is returned by an Update fn when the requested mutation is
// already in effect. The entry stays clean and no flush is scheduled.
var errNoChange = errors.New("storage: no change")

// CacheConfig controls the write-back layer.
type CacheConfig struct {
	// Debounce is the quiet period between the first dirty mark and the
	// coalesced disk write. Default 30s.
	Debounce time.Duration
	// MaxEntries caps the number of cached users. Clean entries beyond the
	// cap are evicted oldest-access-first; dirty entries are never evicted.
	MaxEntries int
}

func (c CacheConfig) withDefaults() CacheConfig {
	if c.Debounce <= 0 {
		c.Debounce = 30 * time.Second
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 128
	}
	return c
}

// entry is the in-memory mirror of one user's decrypted data. mu serializes
// all read-modify-write sequences for that user. Lock order is entry lock
// first, then the cache-wide lock; the one path holding the cache lock that
// touches entry locks (eviction) uses TryLock.
type entry struct {
	mu sync.Mutex

	data         *userData
	dirty        bool
	version      uint64
	lastModified time.Time
	lastAccess   time.Time
}

// Cache mirrors hot user entries in memory and writes dirty state back to the
// document on a debounce timer or on forced flush. Writes are logically
// committed to the cache immediately and durably committed after at most one
// debounce interval.
type Cache struct {
	codec *cryptox.Codec
	doc   *Document
	log   logx.Logger

	mu      sync.Mutex
	cfg     CacheConfig
	entries map[string]*entry
	timer   *time.Timer
	closed  bool

	// flushMu serializes whole-flush passes so two timers or a timer and a
	// forced flush never interleave their document saves.
	flushMu sync.Mutex
}

func NewCache(cfg CacheConfig, doc *Document, codec *cryptox.Codec, log logx.Logger) *Cache {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cache{
		codec:   codec,
		doc:     doc,
		log:     log,
		cfg:     cfg.withDefaults(),
		entries: map[string]*entry{},
	}
}

// SetDebounce adjusts the debounce interval (config hot reload). A pending
// timer keeps its original deadline; the new interval applies from the next
// dirty mark.
func (c *Cache) SetDebounce(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.cfg.Debounce = d
	c.mu.Unlock()
}

// lookup returns the cached entry for digest, lazily loading it from the
// document. A decrypt or deserialize failure yields a fresh empty entry with
// a loud warning: that user starts over rather than the whole bot failing.
func (c *Cache) lookup(digest string) *entry {
	c.mu.Lock()
	if e, ok := c.entries[digest]; ok {
		e.lastAccess = time.Now()
		c.mu.Unlock()
		return e
	}
	c.mu.Unlock()

	// Load outside the cache lock; decryption can be slow.
	data := c.load(digest)

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[digest]; ok {
		// Lost the race to a concurrent load; keep the existing entry.
		e.lastAccess = time.Now()
		return e
	}
	e := &entry{data: data, lastAccess: time.Now()}
	c.entries[digest] = e
	c.evictLocked()
	return e
}

func (c *Cache) load(digest string) *userData {
	blob, ok := c.doc.Get(digest)
	if !ok {
		return &userData{}
	}
	plain, err := c.codec.Open(blob)
	if err != nil {
		c.log.Warn("user entry undecryptable, treating as empty",
			logx.String("digest", shortDigest(digest)), logx.Err(err))
		return &userData{}
	}
	var data userData
	if err := json.Unmarshal(plain, &data); err != nil {
		c.log.Warn("user entry unparseable, treating as empty",
			logx.String("digest", shortDigest(digest)), logx.Err(err))
		return &userData{}
	}
	return &data
}

// Update runs fn with the user's entry locked. If fn succeeds the entry is
// marked dirty and a debounced flush is scheduled; if fn fails the entry is
// left as fn left it but not marked (fn must not mutate on error). fn may
// return errNoChange to report that the mutation turned out to be a no-op,
// leaving the entry clean.
func (c *Cache) Update(digest string, fn func(d *userData) error) error {
	for {
		e := c.lookup(digest)
		ok, err := c.updateEntry(digest, e, fn)
		if !ok {
			continue
		}
		if errors.Is(err, errNoChange) {
			return nil
		}
		if err != nil {
			return err
		}
		c.scheduleFlush()
		return nil
	}
}

// updateEntry applies fn to e, provided e is still the live entry for digest.
// Between lookup and the entry lock, eviction may have dropped e and a
// concurrent writer may have installed a fresh entry; mutating the stale one
// would clobber the newer entry's writes on re-pin. In that case it reports
// false and the caller retries from lookup. A dropped-but-unreplaced entry is
// safely re-pinned: evicted entries are always clean.
func (c *Cache) updateEntry(digest string, e *entry, fn func(d *userData) error) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c.mu.Lock()
	if cur, ok := c.entries[digest]; ok && cur != e {
		c.mu.Unlock()
		return false, nil
	}
	c.entries[digest] = e
	c.mu.Unlock()

	if err := fn(e.data); err != nil {
		return true, err
	}
	e.dirty = true
	e.version++
	e.lastModified = time.Now()
	return true, nil
}

// View runs fn with the user's entry locked, without marking it dirty. Used
// for snapshots and the due-reminder scan; loading a previously uncached user
// through View leaves the entry clean.
func (c *Cache) View(digest string, fn func(d *userData)) {
	e := c.lookup(digest)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.data)
}

// Digests returns the union of cached and on-disk user digests.
func (c *Cache) Digests() []string {
	seen := map[string]struct{}{}
	for _, d := range c.doc.Digests() {
		seen[d] = struct{}{}
	}
	c.mu.Lock()
	for d := range c.entries {
		seen[d] = struct{}{}
	}
	c.mu.Unlock()

	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (c *Cache) scheduleFlush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.timer != nil {
		return
	}
	c.timer = time.AfterFunc(c.cfg.Debounce, func() {
		c.mu.Lock()
		c.timer = nil
		c.mu.Unlock()
		if err := c.FlushAll(); err != nil {
			c.log.Warn("debounced flush failed, will retry", logx.Err(err))
		}
	})
}

// Flush writes one user's dirty state to the document. No-op when clean.
func (c *Cache) Flush(digest string) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	e, ok := c.entries[digest]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return c.flushEntries(map[string]*entry{digest: e})
}

// FlushAll writes every dirty entry to the document in a single save. On
// save failure dirty flags stay set so the next debounce tick or a forced
// flush retries; writes are never silently dropped.
func (c *Cache) FlushAll() error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	snapshot := make(map[string]*entry, len(c.entries))
	for d, e := range c.entries {
		snapshot[d] = e
	}
	c.mu.Unlock()

	return c.flushEntries(snapshot)
}

func (c *Cache) flushEntries(entries map[string]*entry) error {
	updates := map[string][]byte{}
	versions := map[string]uint64{}

	for digest, e := range entries {
		e.mu.Lock()
		if !e.dirty {
			e.mu.Unlock()
			continue
		}
		plain, err := json.Marshal(e.data)
		version := e.version
		empty := e.data.empty()
		e.mu.Unlock()
		if err != nil {
			c.log.Error("user entry serialize failed",
				logx.String("digest", shortDigest(digest)), logx.Err(err))
			continue
		}
		if empty {
			updates[digest] = nil
		} else {
			blob, err := c.codec.Seal(plain)
			if err != nil {
				c.log.Error("user entry seal failed",
					logx.String("digest", shortDigest(digest)), logx.Err(err))
				continue
			}
			updates[digest] = blob
		}
		versions[digest] = version
	}
	if len(updates) == 0 {
		return nil
	}

	if err := c.doc.Save(updates); err != nil {
		c.log.Warn("store save failed, dirty entries retained",
			logx.Int("entries", len(updates)), logx.Err(err))
		c.scheduleFlush()
		return err
	}

	// Clear dirty only for entries that were not mutated mid-flush.
	for digest := range updates {
		e := entries[digest]
		e.mu.Lock()
		if e.version == versions[digest] {
			e.dirty = false
		}
		e.mu.Unlock()
	}
	c.log.Debug("store flushed", logx.Int("entries", len(updates)))
	return nil
}

// Close stops the debounce timer and forces a final synchronous flush. After
// Close, new dirty marks no longer schedule timers.
func (c *Cache) Close() error {
	c.mu.Lock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	return c.FlushAll()
}

// evictLocked trims clean entries beyond the cap, oldest access first.
// Caller holds c.mu.
func (c *Cache) evictLocked() {
	if len(c.entries) <= c.cfg.MaxEntries {
		return
	}
	type cand struct {
		digest string
		access time.Time
	}
	var cands []cand
	for d, e := range c.entries {
		// TryLock: an entry busy in a repository call is not a candidate.
		if !e.mu.TryLock() {
			continue
		}
		if !e.dirty {
			cands = append(cands, cand{d, e.lastAccess})
		}
		e.mu.Unlock()
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].access.Before(cands[j].access) })
	for _, cd := range cands {
		if len(c.entries) <= c.cfg.MaxEntries {
			break
		}
		delete(c.entries, cd.digest)
	}
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

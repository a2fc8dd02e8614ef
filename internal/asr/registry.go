package asr

import (
	"log/slog"
	"sync"
)

// Registry is the process-wide cache of loaded adapters. Construction and
// Load are serialized per key, GPU-bound loads are additionally serialized
// per device, and leases refcount in-flight use so eviction never unloads
// an adapter mid-transcribe.
type Registry struct {
	factory Factory
	log     *slog.Logger

	// mu guards the entry map plus every entry's refs and evicted flag.
	mu      sync.Mutex
	entries map[string]*cacheEntry
	devices map[string]*sync.Mutex
}

// cacheEntry tracks one key's adapter. The entry mutex is the key's load
// lock; adapter and loaded may only be touched while holding it.
type cacheEntry struct {
	key Key

	mu      sync.Mutex
	adapter Adapter
	loaded  bool

	refs    int
	evicted bool
}

func NewRegistry(factory Factory, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		factory: factory,
		log:     log,
		entries: make(map[string]*cacheEntry),
		devices: make(map[string]*sync.Mutex),
	}
}

// Acquire returns a lease on a loaded adapter for the key, constructing
// and loading it on first use. Concurrent callers for the same key share
// one instance and one Load. A failed construction or load is reported to
// the caller and leaves no poisoned entry behind.
func (r *Registry) Acquire(key Key) (*Lease, error) {
	ks := key.String()
	for {
		r.mu.Lock()
		e, ok := r.entries[ks]
		if !ok {
			e = &cacheEntry{key: key}
			r.entries[ks] = e
		}
		e.refs++
		r.mu.Unlock()

		e.mu.Lock()

		r.mu.Lock()
		evicted := e.evicted
		r.mu.Unlock()
		if evicted {
			// Lost a race with Evict between lookup and load lock.
			e.mu.Unlock()
			r.releaseEntry(e)
			continue
		}

		if !e.loaded {
			adapter, err := r.factory(key)
			if err == nil {
				unlock := r.lockDevice(key.Device)
				err = adapter.Load()
				unlock()
			}
			if err != nil {
				e.mu.Unlock()
				r.mu.Lock()
				e.evicted = true
				if r.entries[ks] == e {
					delete(r.entries, ks)
				}
				e.refs--
				r.mu.Unlock()
				return nil, err
			}
			e.adapter = adapter
			e.loaded = true
			r.log.Info("recognizer loaded", "key", ks)
		}

		adapter := e.adapter
		e.mu.Unlock()
		return &Lease{registry: r, entry: e, adapter: adapter}, nil
	}
}

// Evict removes cached adapters of the given kind, or all of them when
// kind is empty. Idle adapters are unloaded here; adapters still leased
// are unloaded when their last lease is released. Returns the number of
// entries removed from the cache.
func (r *Registry) Evict(kind Kind) int {
	r.mu.Lock()
	var removed int
	var idle []*cacheEntry
	for ks, e := range r.entries {
		if kind != "" && e.key.Kind != kind {
			continue
		}
		e.evicted = true
		delete(r.entries, ks)
		removed++
		if e.refs == 0 {
			idle = append(idle, e)
		}
	}
	r.mu.Unlock()

	for _, e := range idle {
		r.unloadEntry(e)
	}
	if removed > 0 {
		r.log.Info("recognizers evicted", "kind", string(kind), "count", removed)
	}
	return removed
}

// Stats reports cached adapter counts per kind.
func (r *Registry) Stats() map[Kind]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := make(map[Kind]int)
	for _, e := range r.entries {
		stats[e.key.Kind]++
	}
	return stats
}

// Close evicts every cached adapter. Called at shutdown.
func (r *Registry) Close() {
	r.Evict("")
}

func (r *Registry) releaseEntry(e *cacheEntry) {
	r.mu.Lock()
	e.refs--
	dead := e.evicted && e.refs == 0
	r.mu.Unlock()
	if dead {
		r.unloadEntry(e)
	}
}

func (r *Registry) unloadEntry(e *cacheEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return
	}
	if err := e.adapter.Unload(); err != nil {
		r.log.Warn("recognizer unload failed", "key", e.key.String(), "error", err)
	}
	e.loaded = false
}

// lockDevice serializes model loads per device; GPU memory cannot take
// concurrent multi-GB loads.
func (r *Registry) lockDevice(device string) func() {
	r.mu.Lock()
	m, ok := r.devices[device]
	if !ok {
		m = &sync.Mutex{}
		r.devices[device] = m
	}
	r.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Lease is a caller's hold on a cached adapter. Release is idempotent and
// must be called on every exit path; the last release of an evicted entry
// unloads the adapter.
type Lease struct {
	registry *Registry
	entry    *cacheEntry
	adapter  Adapter
	once     sync.Once
}

// Adapter returns the loaded adapter backing this lease.
func (l *Lease) Adapter() Adapter { return l.adapter }

// Key returns the cache key the lease was acquired for.
func (l *Lease) Key() Key { return l.entry.key }

func (l *Lease) Release() {
	l.once.Do(func() {
		l.registry.releaseEntry(l.entry)
	})
}

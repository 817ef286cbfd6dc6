// Package registry tracks the watcher and provider registrations that drive
// Apteryx's server dispatch: which processes want to hear about changes to
// which paths, and which process, if any, owns on-demand resolution of a
// given exact path.
package registry

import (
	"sort"
	"sync"
)

// Entry is a single watcher or provider registration. Callback and Priv are
// opaque 64-bit tokens the server never interprets; it only ever echoes
// them back to Endpoint.
type Entry struct {
	Pattern  string
	Owner    uint64
	Callback uint64
	Priv     uint64
	Endpoint string
}

type watcherKey struct {
	pattern string
	owner   uint64
	cb      uint64
}

// Watchers is the pattern -> callback registry consulted on every set/prune.
type Watchers struct {
	mu      sync.RWMutex
	entries map[watcherKey]Entry
}

// NewWatchers returns an empty watcher registry.
func NewWatchers() *Watchers {
	return &Watchers{entries: make(map[watcherKey]Entry)}
}

// Register adds or replaces a watcher. A zero Callback unregisters every
// entry owned by owner whose pattern equals pattern, regardless of which
// callback it was originally registered under: unwatching targets the
// pattern/owner pair, not a specific callback token.
func (w *Watchers) Register(pattern string, owner, callback, priv uint64, endpoint string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if callback == 0 {
		for k := range w.entries {
			if k.pattern == pattern && k.owner == owner {
				delete(w.entries, k)
			}
		}
		return
	}
	key := watcherKey{pattern: pattern, owner: owner, cb: callback}
	w.entries[key] = Entry{Pattern: pattern, Owner: owner, Callback: callback, Priv: priv, Endpoint: endpoint}
}

// RemoveByEndpoint drops every watcher registered from endpoint, used when a
// process's callback endpoint is found unreachable.
func (w *Watchers) RemoveByEndpoint(endpoint string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for k, e := range w.entries {
		if e.Endpoint == endpoint {
			delete(w.entries, k)
		}
	}
}

// Matcher is implemented by pathutil to keep this package free of a direct
// pathutil import cycle concern; server wiring passes pathutil.Matches.
type Matcher func(pattern, path string) bool

// Lookup returns every watcher entry whose pattern matches path, ordered
// deterministically (by pattern, then owner, then callback) so that
// dispatch order is stable across equal registrations.
func (w *Watchers) Lookup(path string, matches Matcher) []Entry {
	w.mu.RLock()
	snapshot := make([]Entry, 0, len(w.entries))
	for _, e := range w.entries {
		snapshot = append(snapshot, e)
	}
	w.mu.RUnlock()

	out := snapshot[:0]
	for _, e := range snapshot {
		if matches(e.Pattern, path) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pattern != out[j].Pattern {
			return out[i].Pattern < out[j].Pattern
		}
		if out[i].Owner != out[j].Owner {
			return out[i].Owner < out[j].Owner
		}
		return out[i].Callback < out[j].Callback
	})
	return out
}

// Providers is the exact-path -> callback registry consulted when get()
// finds no stored value. At most one provider is active per path; the most
// recently registered owner wins.
type Providers struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewProviders returns an empty provider registry.
func NewProviders() *Providers {
	return &Providers{entries: make(map[string]Entry)}
}

// Register installs path's provider, replacing whatever was there. A zero
// Callback unregisters, but only if owner currently owns path; a stale
// unregister from a since-superseded owner is a no-op.
func (p *Providers) Register(path string, owner, callback, priv uint64, endpoint string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if callback == 0 {
		if cur, ok := p.entries[path]; ok && cur.Owner == owner {
			delete(p.entries, path)
		}
		return
	}
	p.entries[path] = Entry{Pattern: path, Owner: owner, Callback: callback, Priv: priv, Endpoint: endpoint}
}

// RemoveByEndpoint drops the provider for any path currently owned by
// endpoint.
func (p *Providers) RemoveByEndpoint(endpoint string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for path, e := range p.entries {
		if e.Endpoint == endpoint {
			delete(p.entries, path)
		}
	}
}

// Lookup returns the active provider for path, if any.
func (p *Providers) Lookup(path string) (Entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[path]
	return e, ok
}

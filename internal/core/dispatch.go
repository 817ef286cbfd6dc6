// Package core implements the server-side dispatch engine: it wires the
// path tree and the watcher/provider registries together into the six
// operations a daemon exposes, and owns the ordering and delivery-queue
// machinery that keeps watch notifications off the critical path of set.
package core

import (
	"context"
	"sync"

	"github.com/isaac129/apteryx/internal/pathutil"
	"github.com/isaac129/apteryx/internal/registry"
	"github.com/isaac129/apteryx/internal/store"
	"github.com/isaac129/apteryx/internal/svcfields"
	"pkt.systems/pslog"
)

// Dispatcher is the daemon's single point of entry for every RPC method.
// It holds no transport knowledge; internal/transport's server adapts HTTP
// or gob requests into calls on this type.
type Dispatcher struct {
	tree      *store.Tree
	watchers  *registry.Watchers
	providers *registry.Providers
	notifier  Notifier
	metrics   *Metrics
	log       pslog.Logger

	queues pathQueues
}

// Config carries the dependencies a Dispatcher needs beyond its own state.
// Notifier is required; Metrics and Logger may be left nil (a nil Metrics
// disables instrumentation, a nil Logger becomes a no-op logger).
type Config struct {
	Notifier Notifier
	Metrics  *Metrics
	Logger   pslog.Logger
}

// New builds a Dispatcher over a fresh tree and empty registries.
func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		tree:      store.New(),
		watchers:  registry.NewWatchers(),
		providers: registry.NewProviders(),
		notifier:  cfg.Notifier,
		metrics:   cfg.Metrics,
		log:       svcfields.Tag(cfg.Logger, svcfields.Path("dispatch")),
		queues:    newPathQueues(),
	}
}

// Set stores value at path, or deletes it when value is empty, then fans
// out a change notification to every matching watcher. The fan-out is
// ordered with respect to other sets of the same path but never blocks the
// caller on delivery.
func (d *Dispatcher) Set(ctx context.Context, path string, value []byte) error {
	if !pathutil.ValidExact(path) {
		return ErrInvalidPath(path)
	}

	_, changed := d.tree.Set(path, value)
	d.metrics.observeSet(changed)
	if !changed {
		return nil
	}

	matches := d.watchers.Lookup(path, pathutil.Matches)
	if len(matches) == 0 {
		return nil
	}
	d.queues.enqueue(path, func() {
		d.deliverWatch(path, value, matches)
	})
	return nil
}

// Get resolves path: a stored value wins outright; an absent path with a
// registered provider falls back to a synchronous resolution call; a path
// that is both unstored and unprovided returns ok=false.
func (d *Dispatcher) Get(ctx context.Context, path string) (value []byte, ok bool, err error) {
	if !pathutil.ValidExact(path) {
		return nil, false, ErrInvalidPath(path)
	}

	if v, ok := d.tree.Get(path); ok {
		d.metrics.observeGet("stored")
		return v, true, nil
	}

	entry, ok := d.providers.Lookup(path)
	if !ok {
		d.metrics.observeGet("absent")
		return nil, false, nil
	}

	v, err := d.notifier.ResolveProvide(ctx, entry.Endpoint, ProvideResolution{
		Path:     path,
		Owner:    entry.Owner,
		Callback: entry.Callback,
		Priv:     entry.Priv,
	})
	if err != nil {
		d.metrics.observeGet("provider_error")
		d.log.Warn("provider resolution failed", "path", path, "endpoint", entry.Endpoint, "error", err)
		return nil, false, nil
	}
	if len(v) == 0 {
		d.metrics.observeGet("provider_empty")
		return nil, false, nil
	}
	d.metrics.observeGet("provider_ok")
	return v, true, nil
}

// Search returns the direct children of directory.
func (d *Dispatcher) Search(ctx context.Context, directory string) ([]string, error) {
	if !pathutil.ValidSearch(directory) {
		return nil, ErrInvalidPath(directory)
	}
	clean := pathutil.Classify(directory).Clean
	d.metrics.observeSearch()
	return d.tree.Search(clean), nil
}

// Prune removes path and every descendant, notifying watchers of each
// removed node as a delete (empty-value set).
func (d *Dispatcher) Prune(ctx context.Context, path string) error {
	if !pathutil.ValidExact(path) && pathutil.Classify(path).Kind != pathutil.KindRoot {
		return ErrInvalidPath(path)
	}
	clean := pathutil.Classify(path).Clean
	removed := d.tree.Prune(clean)
	d.metrics.observePrune(len(removed))

	for _, r := range removed {
		matches := d.watchers.Lookup(r.Path, pathutil.Matches)
		if len(matches) == 0 {
			continue
		}
		rp, rv := r.Path, r.Value
		d.queues.enqueue(rp, func() {
			d.deliverWatch(rp, nil, matches)
			_ = rv
		})
	}
	return nil
}

// Watch registers or unregisters a watcher pattern. A zero callback
// unregisters.
func (d *Dispatcher) Watch(ctx context.Context, pattern string, owner, callback, priv uint64, endpoint string) error {
	if !pathutil.ValidPattern(pattern) {
		return ErrInvalidPath(pattern)
	}
	d.watchers.Register(pattern, owner, callback, priv, endpoint)
	return nil
}

// Provide registers or unregisters an exact-path provider. A zero callback
// unregisters; providers never accept pattern forms.
func (d *Dispatcher) Provide(ctx context.Context, path string, owner, callback, priv uint64, endpoint string) error {
	if !pathutil.ValidExact(path) {
		return ErrInvalidPath(path)
	}
	d.providers.Register(path, owner, callback, priv, endpoint)
	return nil
}

// ForgetEndpoint drops every watcher and provider registration belonging to
// endpoint. The dispatcher never calls it itself: a failed delivery is
// logged and the registration stays in place until this is called or the
// owner unregisters.
func (d *Dispatcher) ForgetEndpoint(endpoint string) {
	d.watchers.RemoveByEndpoint(endpoint)
	d.providers.RemoveByEndpoint(endpoint)
}

// Size reports how many nodes currently hold a value.
func (d *Dispatcher) Size() int {
	return d.tree.Size()
}

// deliverWatch sends one notification per matching watcher, serially within
// a single path's queue worker but independently of other paths. Delivery
// failures are logged and otherwise ignored.
func (d *Dispatcher) deliverWatch(path string, value []byte, matches []registry.Entry) {
	for _, m := range matches {
		err := d.notifier.NotifyWatch(context.Background(), m.Endpoint, WatchDelivery{
			Path:     path,
			Value:    value,
			Owner:    m.Owner,
			Callback: m.Callback,
			Priv:     m.Priv,
		})
		if err != nil {
			d.metrics.observeWatchDelivery(false)
			d.log.Warn("watch delivery failed", "path", path, "endpoint", m.Endpoint, "error", err)
			continue
		}
		d.metrics.observeWatchDelivery(true)
	}
}

// pathQueues lazily spawns one FIFO worker per path that currently has
// pending notification work, and lets it exit once drained. This keeps
// Set's critical path free of any network round-trip while guaranteeing
// that two notifications for the same path are delivered in submission
// order.
type pathQueues struct {
	mu    sync.Mutex
	byKey map[string]*pathQueue
}

type pathQueue struct {
	mu      sync.Mutex
	pending []func()
	running bool
}

func newPathQueues() pathQueues {
	return pathQueues{byKey: make(map[string]*pathQueue)}
}

func (qs *pathQueues) enqueue(path string, job func()) {
	qs.mu.Lock()
	q, ok := qs.byKey[path]
	if !ok {
		q = &pathQueue{}
		qs.byKey[path] = q
	}

	q.mu.Lock()
	q.pending = append(q.pending, job)
	start := !q.running
	q.running = true
	q.mu.Unlock()
	qs.mu.Unlock()

	if start {
		go qs.drain(path, q)
	}
}

func (qs *pathQueues) drain(path string, q *pathQueue) {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			qs.mu.Lock()
			if q.idle() {
				delete(qs.byKey, path)
			}
			qs.mu.Unlock()
			return
		}
		job := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		job()
	}
}

// idle reports whether q has no work queued and no worker running. Must be
// called with q.mu unlocked and qs.mu held by the caller; it takes q.mu
// itself to read a consistent snapshot.
func (q *pathQueue) idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.running && len(q.pending) == 0
}

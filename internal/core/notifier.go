package core

import "context"

// WatchDelivery is what the dispatcher hands a Notifier to push to a single
// watcher endpoint.
type WatchDelivery struct {
	Path     string
	Value    []byte
	Owner    uint64
	Callback uint64
	Priv     uint64
}

// ProvideResolution is what the dispatcher hands a Notifier to ask a
// provider endpoint to resolve.
type ProvideResolution struct {
	Path     string
	Owner    uint64
	Callback uint64
	Priv     uint64
}

// Notifier issues the outbound half of the RPC dance, calling back into a
// registered watcher or provider's inbound endpoint. The dispatcher depends
// only on this interface so that internal/transport can implement it
// without core importing transport.
type Notifier interface {
	// NotifyWatch delivers a single change notification to endpoint. A
	// non-nil error means delivery failed (connection refused, timeout,
	// non-OK response); the dispatcher logs and drops it. A failed watch
	// delivery never fails the originating set.
	NotifyWatch(ctx context.Context, endpoint string, delivery WatchDelivery) error

	// ResolveProvide asks endpoint's provider to resolve path, returning the
	// value it supplies (possibly empty). A non-nil error means the
	// originating get must return absent.
	ResolveProvide(ctx context.Context, endpoint string, req ProvideResolution) ([]byte, error)
}

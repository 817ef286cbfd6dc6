package transport

import (
	"context"
	"sync"
	"time"

	"github.com/isaac129/apteryx/internal/core"
)

// Dialer caches one Client per endpoint and implements core.Notifier, so a
// daemon's dispatcher can call back into watchers and providers without
// knowing anything about HTTP or Unix sockets.
type Dialer struct {
	codec   Codec
	timeout time.Duration

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewDialer returns a Dialer that dials endpoints with codec and bounds
// each call with timeout (0 disables the bound).
func NewDialer(codec Codec, timeout time.Duration) *Dialer {
	return &Dialer{codec: codec, timeout: timeout, clients: make(map[string]*Client)}
}

func (d *Dialer) clientFor(endpoint string) (*Client, error) {
	d.mu.RLock()
	c, ok := d.clients[endpoint]
	d.mu.RUnlock()
	if ok {
		return c, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok = d.clients[endpoint]; ok {
		return c, nil
	}
	c, err := NewClient(ClientConfig{SocketPath: endpoint, Codec: d.codec, Timeout: d.timeout})
	if err != nil {
		return nil, err
	}
	d.clients[endpoint] = c
	return c, nil
}

// Forget drops and closes the cached client for endpoint, if any; the next
// call to endpoint builds a fresh client.
func (d *Dialer) Forget(endpoint string) {
	d.mu.Lock()
	c, ok := d.clients[endpoint]
	delete(d.clients, endpoint)
	d.mu.Unlock()
	if ok {
		c.Close()
	}
}

func (d *Dialer) NotifyWatch(ctx context.Context, endpoint string, delivery core.WatchDelivery) error {
	c, err := d.clientFor(endpoint)
	if err != nil {
		return err
	}
	req := watchDeliverWire{
		Path: delivery.Path, Value: delivery.Value,
		Owner: delivery.Owner, Callback: delivery.Callback, Priv: delivery.Priv,
	}
	return c.Call(ctx, "watch/deliver", req, nil)
}

func (d *Dialer) ResolveProvide(ctx context.Context, endpoint string, req core.ProvideResolution) ([]byte, error) {
	c, err := d.clientFor(endpoint)
	if err != nil {
		return nil, err
	}
	wireReq := provideResolveWire{Path: req.Path, Owner: req.Owner, Callback: req.Callback, Priv: req.Priv}
	var resp provideResolveResultWire
	if err := c.Call(ctx, "provide/resolve", wireReq, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

type watchDeliverWire struct {
	Path     string `json:"path"`
	Value    []byte `json:"value,omitempty"`
	Owner    uint64 `json:"owner"`
	Callback uint64 `json:"cb"`
	Priv     uint64 `json:"priv"`
}

type provideResolveWire struct {
	Path     string `json:"path"`
	Owner    uint64 `json:"owner"`
	Callback uint64 `json:"cb"`
	Priv     uint64 `json:"priv"`
}

type provideResolveResultWire struct {
	Value []byte `json:"value,omitempty"`
}

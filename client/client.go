// Package client is the participant-facing Apteryx library: the handle a
// process uses to talk to a daemon, register watches and providers, and
// receive callbacks for both.
package client

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/isaac129/apteryx/api"
	"github.com/isaac129/apteryx/internal/pathutil"
	"github.com/isaac129/apteryx/internal/svcfields"
	"github.com/isaac129/apteryx/internal/transport"
	"pkt.systems/pslog"
)

// WatchFunc is invoked when a path this handle watches changes. value is
// nil on deletion. priv is the opaque token the caller passed to Watch.
type WatchFunc func(path string, value []byte, priv uint64)

// ProvideFunc resolves an on-demand value for path. Returning nil means
// absent.
type ProvideFunc func(path string, priv uint64) []byte

// Config configures a Client handle.
type Config struct {
	// DaemonSocket is the daemon's well-known listen socket.
	DaemonSocket string
	// CallbackSocketDir holds this handle's own inbound callback socket,
	// created lazily on the first Watch/Provide registration. Defaults to
	// os.TempDir() when empty.
	CallbackSocketDir string
	Codec             string
	RPCTimeout        time.Duration
	Workers           int
	Debug             bool
	Logger            pslog.Logger
}

// Client is a handle on an Apteryx daemon. Init/Shutdown nest: acquiring
// the handle more than once only tears it down once every acquisition has
// been released.
type Client struct {
	cfg   Config
	log   pslog.Logger
	codec transport.Codec
	conn  *transport.Client

	mu       sync.Mutex
	refCount int
	debug    bool

	callbackOnce   sync.Once
	callbackServer *transport.Server
	callbackPath   string

	nextHandle uint64

	watchMu   sync.Mutex
	watches   map[uint64]WatchFunc
	provideMu sync.Mutex
	provides  map[uint64]ProvideFunc
}

// Open creates a Client handle and calls Init once on it; callers get back
// an already-initialised handle and release it with Close (equivalent to
// Shutdown).
func Open(cfg Config) (*Client, error) {
	c := New(cfg)
	if err := c.Init(cfg.Debug); err != nil {
		return nil, err
	}
	return c, nil
}

// New constructs a Client handle without initialising it; call Init before
// any other method.
func New(cfg Config) *Client {
	return &Client{
		cfg:      cfg,
		watches:  make(map[uint64]WatchFunc),
		provides: make(map[uint64]ProvideFunc),
	}
}

// Init acquires the handle, bumping its reference count. The first caller
// on a fresh handle prepares the daemon connection (connections are made
// lazily per call); subsequent nested calls just bump the count.
func (c *Client) Init(debugEnabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.debug = c.debug || debugEnabled
	c.refCount++
	if c.refCount > 1 {
		return nil
	}

	codec, err := transport.Select(c.cfg.Codec)
	if err != nil {
		c.refCount--
		return err
	}
	c.codec = codec
	c.log = svcfields.Tag(c.cfg.Logger, svcfields.Path("apteryx", "client"))

	timeout := c.cfg.RPCTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	conn, err := transport.NewClient(transport.ClientConfig{
		SocketPath: c.cfg.DaemonSocket,
		Codec:      codec,
		Timeout:    timeout,
	})
	if err != nil {
		c.refCount--
		return fmt.Errorf("apteryx: init: %w", err)
	}
	c.conn = conn
	return nil
}

// Shutdown releases the handle. Once the reference count reaches zero the
// callback server (if started) is stopped with a bounded grace period and
// the daemon connection is closed.
func (c *Client) Shutdown() error {
	c.mu.Lock()
	if c.refCount <= 0 {
		c.mu.Unlock()
		return fmt.Errorf("apteryx: shutdown: already shut down")
	}
	c.refCount--
	if c.refCount > 0 {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	srv := c.callbackServer
	c.conn = nil
	c.callbackServer = nil
	c.mu.Unlock()

	var err error
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = srv.Shutdown(ctx)
		if c.callbackPath != "" {
			_ = os.Remove(c.callbackPath)
		}
	}
	if conn != nil {
		conn.Close()
	}
	return err
}

// Close is Shutdown, for io.Closer-style call sites.
func (c *Client) Close() error { return c.Shutdown() }

func (c *Client) requireInit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refCount <= 0 {
		return fmt.Errorf("apteryx: not initialised")
	}
	return nil
}

// Set stores value at path, or deletes it when value is empty.
func (c *Client) Set(ctx context.Context, path string, value []byte) error {
	if err := c.requireInit(); err != nil {
		return err
	}
	if !pathutil.ValidExact(path) {
		return fmt.Errorf("apteryx: invalid path %q", path)
	}
	return c.conn.Call(ctx, "set", api.SetRequest{Path: path, Value: value}, nil)
}

// Get resolves path: stored value, provider fallback, or absent.
func (c *Client) Get(ctx context.Context, path string) ([]byte, bool, error) {
	if err := c.requireInit(); err != nil {
		return nil, false, err
	}
	if !pathutil.ValidExact(path) {
		return nil, false, fmt.Errorf("apteryx: invalid path %q", path)
	}
	var resp api.GetResponse
	if err := c.conn.Call(ctx, "get", api.GetRequest{Path: path}, &resp); err != nil {
		return nil, false, err
	}
	return resp.Value, len(resp.Value) > 0, nil
}

// Search returns the direct children of directory.
func (c *Client) Search(ctx context.Context, directory string) ([]string, error) {
	if err := c.requireInit(); err != nil {
		return nil, err
	}
	if !pathutil.ValidSearch(directory) {
		return nil, fmt.Errorf("apteryx: invalid path %q", directory)
	}
	var resp api.SearchResponse
	if err := c.conn.Call(ctx, "search", api.SearchRequest{Path: directory}, &resp); err != nil {
		return nil, err
	}
	return resp.Paths, nil
}

// Prune removes path and every descendant.
func (c *Client) Prune(ctx context.Context, path string) error {
	if err := c.requireInit(); err != nil {
		return err
	}
	return c.conn.Call(ctx, "prune", api.PruneRequest{Path: path}, nil)
}

// Watch registers fn to be called whenever a path matching pattern
// changes. priv is echoed back to fn verbatim. It starts this handle's
// inbound callback server on first use.
func (c *Client) Watch(ctx context.Context, pattern string, fn WatchFunc, priv uint64) error {
	if err := c.requireInit(); err != nil {
		return err
	}
	if !pathutil.ValidPattern(pattern) {
		return fmt.Errorf("apteryx: invalid pattern %q", pattern)
	}
	endpoint, err := c.ensureCallbackServer()
	if err != nil {
		return err
	}
	handle := atomic.AddUint64(&c.nextHandle, 1)

	owner := uint64(os.Getpid())
	req := api.WatchRegisterRequest{Path: pattern, Owner: owner, Callback: handle, Priv: priv, Endpoint: endpoint}
	if err := c.conn.Call(ctx, "watch", req, nil); err != nil {
		return err
	}

	c.watchMu.Lock()
	c.watches[handle] = fn
	c.watchMu.Unlock()
	return nil
}

// Unwatch removes every watcher this process registered on pattern,
// including those registered through other handles in the same process.
func (c *Client) Unwatch(ctx context.Context, pattern string) error {
	if err := c.requireInit(); err != nil {
		return err
	}
	owner := uint64(os.Getpid())
	return c.conn.Call(ctx, "watch", api.WatchRegisterRequest{Path: pattern, Owner: owner}, nil)
}

// Provide registers fn to resolve on-demand reads of the exact path path.
func (c *Client) Provide(ctx context.Context, path string, fn ProvideFunc, priv uint64) error {
	if err := c.requireInit(); err != nil {
		return err
	}
	if !pathutil.ValidExact(path) {
		return fmt.Errorf("apteryx: invalid path %q", path)
	}
	endpoint, err := c.ensureCallbackServer()
	if err != nil {
		return err
	}
	handle := atomic.AddUint64(&c.nextHandle, 1)

	owner := uint64(os.Getpid())
	req := api.ProvideRegisterRequest{Path: path, Owner: owner, Callback: handle, Priv: priv, Endpoint: endpoint}
	if err := c.conn.Call(ctx, "provide", req, nil); err != nil {
		return err
	}

	c.provideMu.Lock()
	c.provides[handle] = fn
	c.provideMu.Unlock()
	return nil
}

// Unprovide removes this process's provider registration for path,
// whichever handle in the process registered it.
func (c *Client) Unprovide(ctx context.Context, path string) error {
	if err := c.requireInit(); err != nil {
		return err
	}
	owner := uint64(os.Getpid())
	return c.conn.Call(ctx, "provide", api.ProvideRegisterRequest{Path: path, Owner: owner}, nil)
}

// DumpSink receives one line per populated path during Dump.
type DumpSink func(path string, value []byte)

// Dump recursively prints every populated path under path (inclusive) to
// sink, depth-first, mirroring what a debug CLI would print to a terminal.
func (c *Client) Dump(ctx context.Context, path string, sink DumpSink) error {
	target := pathutil.Classify(path)
	if target.Kind != pathutil.KindRoot {
		if v, ok, err := c.Get(ctx, target.Clean); err != nil {
			return err
		} else if ok {
			sink(target.Clean, v)
		}
	}
	children, err := c.Search(ctx, target.Clean+"/")
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := c.Dump(ctx, child, sink); err != nil {
			return err
		}
	}
	return nil
}

// ensureCallbackServer lazily starts this handle's inbound callback server
// on the first watch/provide registration, named after this process's pid
// so a daemon can derive multiple clients' endpoints deterministically.
func (c *Client) ensureCallbackServer() (endpoint string, err error) {
	c.callbackOnce.Do(func() {
		dir := c.cfg.CallbackSocketDir
		if dir == "" {
			dir = os.TempDir()
		}
		sockPath := filepath.Join(dir, fmt.Sprintf("apteryx.%d.sock", os.Getpid()))
		srv, srvErr := transport.NewServer(transport.ServerConfig{
			SocketPath: sockPath,
			Codec:      c.codec,
			Workers:    c.cfg.Workers,
			Logger:     c.log,
		})
		if srvErr != nil {
			err = srvErr
			return
		}
		srv.Handle("watch/deliver", c.handleWatchDeliver)
		srv.Handle("provide/resolve", c.handleProvideResolve)

		c.mu.Lock()
		c.callbackServer = srv
		c.callbackPath = sockPath
		c.mu.Unlock()

		go srv.Serve()
	})
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.callbackServer == nil {
		return "", fmt.Errorf("apteryx: callback server failed to start")
	}
	return c.callbackPath, nil
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

func (c *Client) handleWatchDeliver(ctx context.Context, body []byte) (any, error) {
	var req watchDeliverWire
	if err := c.codec.Decode(body, &req); err != nil {
		return nil, err
	}
	c.watchMu.Lock()
	fn, ok := c.watches[req.Callback]
	c.watchMu.Unlock()
	if !ok {
		return api.OKResponse{OK: true}, nil
	}
	fn(req.Path, req.Value, req.Priv)
	return api.OKResponse{OK: true}, nil
}

func (c *Client) handleProvideResolve(ctx context.Context, body []byte) (any, error) {
	var req provideResolveWire
	if err := c.codec.Decode(body, &req); err != nil {
		return nil, err
	}
	c.provideMu.Lock()
	fn, ok := c.provides[req.Callback]
	c.provideMu.Unlock()
	if !ok {
		return provideResolveResultWire{}, nil
	}
	return provideResolveResultWire{Value: fn(req.Path, req.Priv)}, nil
}

package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultMaxIdleConns and DefaultMaxIdleConnsPerHost tune the Unix-socket
// HTTP transport the same way a daemon tunes its own outbound pool: a
// handful of idle connections are cheap to keep warm and save a reconnect
// on every call.
const (
	DefaultMaxIdleConns        = 32
	DefaultMaxIdleConnsPerHost = 32
	DefaultDialTimeout         = 2 * time.Second
)

// ClientConfig configures a Client.
type ClientConfig struct {
	SocketPath string
	Codec      Codec
	// Timeout bounds a single Call, including connect. Zero disables the
	// bound entirely, which callers should only do for local testing.
	Timeout time.Duration
}

// Client calls methods exposed by a Server over a Unix domain socket.
type Client struct {
	http    *http.Client
	codec   Codec
	base    string
	timeout time.Duration
}

// NewClient dials nothing yet; it only prepares a transport against
// cfg.SocketPath. Connections are established lazily per Call.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("transport: socket path required")
	}
	codec := cfg.Codec
	if codec == nil {
		codec = jsonCodec{}
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	dialer := &net.Dialer{Timeout: DefaultDialTimeout}
	socketPath := cfg.SocketPath
	transport.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
		return dialer.DialContext(ctx, "unix", socketPath)
	}
	transport.DialTLSContext = nil
	transport.TLSClientConfig = nil
	if transport.MaxIdleConns < DefaultMaxIdleConns {
		transport.MaxIdleConns = DefaultMaxIdleConns
	}
	if transport.MaxIdleConnsPerHost < DefaultMaxIdleConnsPerHost {
		transport.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
	}
	traced := otelhttp.NewTransport(transport)
	return &Client{
		http:    &http.Client{Transport: traced},
		codec:   codec,
		base:    "http://unix",
		timeout: cfg.Timeout,
	}, nil
}

// Call invokes method with req and decodes the response into resp. resp
// may be nil when the method has no meaningful response beyond success.
func (c *Client) Call(ctx context.Context, method string, req, resp any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := c.codec.Encode(req)
	if err != nil {
		return fmt.Errorf("transport: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("transport: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", c.codec.ContentType())

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("transport: %s: %w", method, err)
	}
	defer httpResp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(httpResp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("transport: read response: %w", err)
	}
	if httpResp.StatusCode >= 300 {
		return fmt.Errorf("transport: %s: %s: %s", method, httpResp.Status, string(out))
	}
	if resp == nil || len(out) == 0 {
		return nil
	}
	if err := c.codec.Decode(out, resp); err != nil {
		return fmt.Errorf("transport: decode response: %w", err)
	}
	return nil
}

// Close releases idle connections held by the underlying transport.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

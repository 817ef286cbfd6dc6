package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/xid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/isaac129/apteryx/internal/core"
	"github.com/isaac129/apteryx/internal/svcfields"
	"pkt.systems/pslog"
)

// Handler answers one decoded RPC request and returns the value to encode
// into the response, or an error.
type Handler func(ctx context.Context, body []byte) (any, error)

// ServerConfig configures a Server.
type ServerConfig struct {
	// SocketPath is the Unix domain socket to listen on. Parent directories
	// are created as needed; a stale socket file left behind by a crashed
	// previous instance is removed before binding.
	SocketPath string
	Codec      Codec
	Workers    int
	Logger     pslog.Logger
}

// Server is a minimal HTTP-over-Unix-socket RPC endpoint shared by the
// daemon's well-known listener and each client process's per-pid callback
// listener. Handlers are registered per method name and executed on a
// fixed-size worker pool.
type Server struct {
	codec    Codec
	pool     *workerPool
	mux      map[string]Handler
	log      pslog.Logger
	http     *http.Server
	listener net.Listener
}

// NewServer builds a Server bound to cfg.SocketPath. Call Handle for each
// method before Serve.
func NewServer(cfg ServerConfig) (*Server, error) {
	codec := cfg.Codec
	if codec == nil {
		codec = jsonCodec{}
	}
	if err := os.MkdirAll(filepath.Dir(cfg.SocketPath), 0o755); err != nil {
		return nil, fmt.Errorf("transport: create socket dir: %w", err)
	}
	if err := removeStaleSocket(cfg.SocketPath); err != nil {
		return nil, err
	}
	ln, err := net.Listen("unix", cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("transport: listen on %s: %w", cfg.SocketPath, err)
	}
	s := &Server{
		codec:    codec,
		pool:     newWorkerPool(cfg.Workers),
		mux:      make(map[string]Handler),
		log:      svcfields.Tag(cfg.Logger, svcfields.Path("transport", "server")),
		listener: ln,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.serveHTTP)
	s.http = &http.Server{Handler: otelhttp.NewHandler(mux, "apteryx.transport")}
	return s, nil
}

// removeStaleSocket unlinks path if it exists and nothing is actively
// listening on it. A daemon restarting after a crash leaves its socket
// file behind; net.Listen would otherwise fail with "address already in
// use".
func removeStaleSocket(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	conn, err := net.DialTimeout("unix", path, 200*time.Millisecond)
	if err == nil {
		conn.Close()
		return fmt.Errorf("transport: socket %s already in use", path)
	}
	return os.Remove(path)
}

// Handle registers fn for method. Calling Handle for a method more than
// once replaces the previous handler.
func (s *Server) Handle(method string, fn Handler) {
	s.mux[method] = fn
}

// Serve blocks until the underlying listener is closed.
func (s *Server) Serve() error {
	err := s.http.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections, drains the worker pool, and
// removes the socket file.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.pool.close()
	_ = os.Remove(s.listener.Addr().String())
	return err
}

// Addr returns the socket path this server is bound to.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// DecodeRequest decodes body using this server's codec. Handlers use it to
// parse their own method-specific request type.
func (s *Server) DecodeRequest(body []byte, v any) error {
	return s.codec.Decode(body, v)
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := xid.New().String()
	w.Header().Set("X-Request-Id", requestID)

	method := r.URL.Path
	if len(method) > 0 && method[0] == '/' {
		method = method[1:]
	}
	h, ok := s.mux[method]
	if !ok {
		http.Error(w, "unknown method", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	var (
		result any
		hErr   error
	)
	s.pool.submit(func() {
		result, hErr = h(r.Context(), body)
	})

	if hErr != nil {
		s.writeError(w, requestID, method, hErr)
		return
	}
	out, err := s.codec.Encode(result)
	if err != nil {
		s.log.Error("encode response failed", "request_id", requestID, "method", method, "error", err)
		http.Error(w, "encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", s.codec.ContentType())
	w.Write(out)
}

func (s *Server) writeError(w http.ResponseWriter, requestID, method string, err error) {
	var failure core.Failure
	if errors.As(err, &failure) {
		status := failure.HTTPStatus
		if status == 0 {
			status = http.StatusBadRequest
		}
		s.log.Warn("handler returned failure", "request_id", requestID, "method", method, "code", failure.Code, "detail", failure.Detail)
		http.Error(w, failure.Error(), status)
		return
	}
	s.log.Error("handler returned unexpected error", "request_id", requestID, "method", method, "error", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

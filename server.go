// Package apteryx implements a process-shared, path-addressed configuration
// and state database. A single daemon holds the tree; participant
// processes talk to it over Unix domain sockets and may themselves receive
// callbacks for watches and on-demand value resolution.
package apteryx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/isaac129/apteryx/api"
	"github.com/isaac129/apteryx/internal/core"
	"github.com/isaac129/apteryx/internal/svcfields"
	"github.com/isaac129/apteryx/internal/telemetry"
	"github.com/isaac129/apteryx/internal/transport"
	"pkt.systems/pslog"
)

// Server is a running Apteryx daemon: the dispatch engine, its transport
// listener, and whichever telemetry surfaces were configured.
type Server struct {
	cfg       Config
	log       pslog.Logger
	dispatch  *core.Dispatcher
	dialer    *transport.Dialer
	rpc       *transport.Server
	telemetry *telemetry.Bundle

	mu       sync.Mutex
	shutdown bool
	readyCh  chan struct{}
	readyOne sync.Once
}

// NewServer builds a Server from cfg without starting it. Call Start (or
// use StartServer) to begin serving.
func NewServer(cfg Config, logger pslog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codec, err := transport.Select(cfg.Codec)
	if err != nil {
		return nil, err
	}
	log := svcfields.Tag(logger, svcfields.Path("apteryxd"))

	dialer := transport.NewDialer(codec, cfg.RPCTimeout)
	dispatch := core.New(core.Config{Notifier: dialer, Logger: log})

	rpc, err := transport.NewServer(transport.ServerConfig{
		SocketPath: cfg.Socket,
		Codec:      codec,
		Workers:    cfg.Workers,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}
	registerHandlers(rpc, dispatch)

	return &Server{
		cfg:      cfg,
		log:      log,
		dispatch: dispatch,
		dialer:   dialer,
		rpc:      rpc,
		readyCh:  make(chan struct{}),
	}, nil
}

// registerHandlers wires the six RPC methods onto rpc's method table.
func registerHandlers(rpc *transport.Server, d *core.Dispatcher) {
	rpc.Handle("set", func(ctx context.Context, body []byte) (any, error) {
		var req api.SetRequest
		if err := decode(rpc, body, &req); err != nil {
			return nil, err
		}
		if err := d.Set(ctx, req.Path, req.Value); err != nil {
			return nil, err
		}
		return api.OKResponse{OK: true}, nil
	})
	rpc.Handle("get", func(ctx context.Context, body []byte) (any, error) {
		var req api.GetRequest
		if err := decode(rpc, body, &req); err != nil {
			return nil, err
		}
		v, _, err := d.Get(ctx, req.Path)
		if err != nil {
			return nil, err
		}
		return api.GetResponse{Value: v}, nil
	})
	rpc.Handle("search", func(ctx context.Context, body []byte) (any, error) {
		var req api.SearchRequest
		if err := decode(rpc, body, &req); err != nil {
			return nil, err
		}
		paths, err := d.Search(ctx, req.Path)
		if err != nil {
			return nil, err
		}
		return api.SearchResponse{Paths: paths}, nil
	})
	rpc.Handle("prune", func(ctx context.Context, body []byte) (any, error) {
		var req api.PruneRequest
		if err := decode(rpc, body, &req); err != nil {
			return nil, err
		}
		if err := d.Prune(ctx, req.Path); err != nil {
			return nil, err
		}
		return api.OKResponse{OK: true}, nil
	})
	rpc.Handle("watch", func(ctx context.Context, body []byte) (any, error) {
		var req api.WatchRegisterRequest
		if err := decode(rpc, body, &req); err != nil {
			return nil, err
		}
		if err := d.Watch(ctx, req.Path, req.Owner, req.Callback, req.Priv, req.Endpoint); err != nil {
			return nil, err
		}
		return api.OKResponse{OK: true}, nil
	})
	rpc.Handle("provide", func(ctx context.Context, body []byte) (any, error) {
		var req api.ProvideRegisterRequest
		if err := decode(rpc, body, &req); err != nil {
			return nil, err
		}
		if err := d.Provide(ctx, req.Path, req.Owner, req.Callback, req.Priv, req.Endpoint); err != nil {
			return nil, err
		}
		return api.OKResponse{OK: true}, nil
	})
}

func decode(rpc *transport.Server, body []byte, v any) error {
	return rpc.DecodeRequest(body, v)
}

// Start begins serving requests and blocks until the listener is closed.
func (s *Server) Start() error {
	s.readyOne.Do(func() { close(s.readyCh) })
	return s.rpc.Serve()
}

// WaitUntilReady blocks until the daemon's listener is bound or ctx ends.
func (s *Server) WaitUntilReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatcher exposes the dispatch engine directly, for embedders that want
// to drive it without going over the socket.
func (s *Server) Dispatcher() *core.Dispatcher {
	return s.dispatch
}

// Addr returns the socket path this daemon is listening on.
func (s *Server) Addr() string {
	return s.rpc.Addr()
}

// Shutdown stops the listener, drains in-flight work, and tears down
// telemetry. Calling it more than once is a no-op.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	err := s.rpc.Shutdown(ctx)
	if s.telemetry != nil {
		telemetryCtx := ctx
		if telemetryCtx.Err() != nil {
			var cancel context.CancelFunc
			telemetryCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		if tErr := s.telemetry.Shutdown(telemetryCtx); tErr != nil && err == nil {
			err = tErr
		}
	}
	return err
}

// StartServer builds a Server from cfg, starts it in the background, waits
// for it to become ready, and returns a stop function bound to ctx's
// cancellation as well as explicit invocation.
func StartServer(ctx context.Context, cfg Config, logger pslog.Logger) (*Server, func(context.Context) error, error) {
	srv, err := NewServer(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	bundle, err := telemetry.Setup(ctx, telemetry.Options{
		OTLPEndpoint:   cfg.OTLPEndpoint,
		MetricsListen:  cfg.MetricsListen,
		PprofListen:    cfg.PprofListen,
		RuntimeMetrics: cfg.RuntimeMetrics,
		Logger:         logger,
	})
	if err != nil {
		return nil, nil, err
	}
	srv.telemetry = bundle

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	waitCtx := ctx
	if waitCtx == nil {
		waitCtx = context.Background()
	}
	if err := srv.WaitUntilReady(waitCtx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil, nil, err
	}

	var (
		stopOnce sync.Once
		stopErr  error
	)
	stop := func(shutdownCtx context.Context) error {
		stopOnce.Do(func() {
			if shutdownCtx == nil {
				shutdownCtx = context.Background()
			}
			if err := srv.Shutdown(shutdownCtx); err != nil {
				stopErr = err
				return
			}
			if err := <-errCh; err != nil {
				stopErr = fmt.Errorf("serve: %w", err)
			}
		})
		return stopErr
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			_ = stop(context.Background())
		}()
	}
	return srv, stop, nil
}


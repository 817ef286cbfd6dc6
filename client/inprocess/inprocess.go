// Package inprocess embeds a daemon and a client in a single process,
// communicating over a throwaway Unix socket. It exists for tests and
// examples that want a real daemon without managing a separate binary.
package inprocess

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	apteryx "github.com/isaac129/apteryx"
	apteryxclient "github.com/isaac129/apteryx/client"
	"pkt.systems/pslog"
)

// Handle is an embedded daemon plus a connected client handle.
type Handle struct {
	*apteryxclient.Client

	stop      func(context.Context) error
	cleanup   func()
	closeOnce sync.Once
	closeErr  error
}

// New starts an in-process daemon bound to a temporary socket directory and
// returns a Client already Init'd against it. Close releases both.
func New(ctx context.Context, cfg apteryx.Config, logger pslog.Logger) (*Handle, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	socketDir, err := os.MkdirTemp("", "apteryx-inproc-")
	if err != nil {
		return nil, err
	}
	cleanup := func() { _ = os.RemoveAll(socketDir) }

	if cfg.Socket == "" {
		cfg.Socket = filepath.Join(socketDir, "apteryxd.sock")
	}
	if cfg.ClientSocketDir == "" {
		cfg.ClientSocketDir = socketDir
	}

	_, stop, err := apteryx.StartServer(ctx, cfg, logger)
	if err != nil {
		cleanup()
		return nil, err
	}

	cli, err := apteryxclient.Open(apteryxclient.Config{
		DaemonSocket:      cfg.Socket,
		CallbackSocketDir: socketDir,
		Codec:             cfg.Codec,
		RPCTimeout:        cfg.RPCTimeout,
		Workers:           cfg.Workers,
		Debug:             cfg.Debug,
		Logger:            logger,
	})
	if err != nil {
		_ = stop(context.Background())
		cleanup()
		return nil, err
	}

	return &Handle{Client: cli, stop: stop, cleanup: cleanup}, nil
}

// Close shuts down the embedded client, the embedded daemon, and removes the
// temporary socket directory. Safe to call more than once.
func (h *Handle) Close(ctx context.Context) error {
	h.closeOnce.Do(func() {
		if err := h.Client.Shutdown(); err != nil {
			h.closeErr = err
		}
		if ctx == nil {
			ctx = context.Background()
		}
		if h.stop != nil {
			if err := h.stop(ctx); err != nil && h.closeErr == nil {
				h.closeErr = err
			}
		}
		if h.cleanup != nil {
			h.cleanup()
		}
	})
	return h.closeErr
}

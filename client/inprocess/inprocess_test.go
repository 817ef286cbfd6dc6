package inprocess_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	apteryx "github.com/isaac129/apteryx"
	"github.com/isaac129/apteryx/client/inprocess"
)

func TestNewRunsDaemonAndCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, err := inprocess.New(ctx, apteryx.Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		if err := h.Close(ctx); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}()

	if err := h.Set(ctx, "/unit/test", []byte("hello")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := h.Get(ctx, "/unit/test")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || !bytes.Equal(v, []byte("hello")) {
		t.Fatalf("Get = %q, %v, want hello, true", v, ok)
	}

	if err := h.Close(ctx); err != nil {
		t.Fatalf("Close first call: %v", err)
	}
	if err := h.Close(ctx); err != nil {
		t.Fatalf("Close second call: %v", err)
	}
}

func TestNewRoundTripsWatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, err := inprocess.New(ctx, apteryx.Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close(ctx)

	delivered := make(chan []byte, 1)
	if err := h.Watch(ctx, "/watched/path", func(path string, value []byte, priv uint64) {
		delivered <- value
	}, 0); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := h.Set(ctx, "/watched/path", []byte("changed")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	select {
	case v := <-delivered:
		if !bytes.Equal(v, []byte("changed")) {
			t.Fatalf("delivered value = %q, want %q", v, "changed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watch delivery")
	}
}

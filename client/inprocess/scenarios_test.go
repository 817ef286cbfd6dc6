package inprocess_test

import (
	"bytes"
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	apteryx "github.com/isaac129/apteryx"
	apteryxclient "github.com/isaac129/apteryx/client"
	"github.com/isaac129/apteryx/client/inprocess"
)

// TestExactWatchFiresOnChangeThenStopsAfterUnwatch covers the "exact watch
// fires on change" end-to-end scenario: a watch delivers exactly once per
// change while registered, and not at all once unregistered.
func TestExactWatchFiresOnChangeThenStopsAfterUnwatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h, err := inprocess.New(ctx, apteryx.Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close(ctx)

	if err := h.Set(ctx, "/z/s", []byte("up")); err != nil {
		t.Fatalf("Set initial: %v", err)
	}

	type delivery struct {
		path  string
		value []byte
	}
	deliveries := make(chan delivery, 4)
	if err := h.Watch(ctx, "/z/s", func(path string, value []byte, priv uint64) {
		deliveries <- delivery{path, value}
	}, 0); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := h.Set(ctx, "/z/s", []byte("down")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	select {
	case d := <-deliveries:
		if d.path != "/z/s" || !bytes.Equal(d.value, []byte("down")) {
			t.Fatalf("delivery = %+v, want path=/z/s value=down", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watch delivery")
	}

	if err := h.Unwatch(ctx, "/z/s"); err != nil {
		t.Fatalf("Unwatch: %v", err)
	}
	if err := h.Set(ctx, "/z/s", []byte("up")); err != nil {
		t.Fatalf("Set after unwatch: %v", err)
	}
	select {
	case d := <-deliveries:
		t.Fatalf("unexpected delivery after unwatch: %+v", d)
	case <-time.After(200 * time.Millisecond):
	}
}

// TestWildcardSuffixWatchMatchesOnlyItsSubtree covers the wildcard-suffix
// watch scenario, including delivery of an empty value on deletion and
// silence for paths outside the watched subtree.
func TestWildcardSuffixWatchMatchesOnlyItsSubtree(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h, err := inprocess.New(ctx, apteryx.Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close(ctx)

	type delivery struct {
		path  string
		value []byte
	}
	deliveries := make(chan delivery, 4)
	if err := h.Watch(ctx, "/e/z/*", func(path string, value []byte, priv uint64) {
		deliveries <- delivery{path, value}
	}, 0); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := h.Set(ctx, "/e/z/p/s", []byte("x")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	select {
	case d := <-deliveries:
		if d.path != "/e/z/p/s" || !bytes.Equal(d.value, []byte("x")) {
			t.Fatalf("delivery = %+v, want /e/z/p/s=x", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first delivery")
	}

	if err := h.Set(ctx, "/e/z/p/s", nil); err != nil {
		t.Fatalf("Set empty: %v", err)
	}
	select {
	case d := <-deliveries:
		if d.path != "/e/z/p/s" || len(d.value) != 0 {
			t.Fatalf("delivery = %+v, want /e/z/p/s=<empty>", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for deletion delivery")
	}

	if err := h.Set(ctx, "/e/o/s", []byte("y")); err != nil {
		t.Fatalf("Set unrelated path: %v", err)
	}
	select {
	case d := <-deliveries:
		t.Fatalf("unexpected delivery for unrelated path: %+v", d)
	case <-time.After(200 * time.Millisecond):
	}
}

// TestMidPathWildcardIsNotAPattern covers the scenario where a "*" that is
// not the final segment is a literal path component, not a pattern.
func TestMidPathWildcardIsNotAPattern(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h, err := inprocess.New(ctx, apteryx.Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close(ctx)

	deliveries := make(chan []byte, 1)
	if err := h.Watch(ctx, "/e/z/*/state", func(path string, value []byte, priv uint64) {
		deliveries <- value
	}, 0); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := h.Set(ctx, "/e/z/pub/state", []byte("up")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	select {
	case v := <-deliveries:
		t.Fatalf("unexpected delivery: %q", v)
	case <-time.After(200 * time.Millisecond):
	}
}

// TestProviderResolvesGetUntilUnregistered covers the on-demand provider
// resolution scenario, including replacing the provider and unregistering
// it entirely.
func TestProviderResolvesGetUntilUnregistered(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h, err := inprocess.New(ctx, apteryx.Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close(ctx)

	if err := h.Provide(ctx, "/if/eth0/state", func(path string, priv uint64) []byte {
		return []byte("up")
	}, 0); err != nil {
		t.Fatalf("Provide up: %v", err)
	}
	v, ok, err := h.Get(ctx, "/if/eth0/state")
	if err != nil || !ok || !bytes.Equal(v, []byte("up")) {
		t.Fatalf("Get = %q, %v, %v, want up, true, nil", v, ok, err)
	}

	if err := h.Provide(ctx, "/if/eth0/state", func(path string, priv uint64) []byte {
		return []byte("down")
	}, 0); err != nil {
		t.Fatalf("Provide down: %v", err)
	}
	v, ok, err = h.Get(ctx, "/if/eth0/state")
	if err != nil || !ok || !bytes.Equal(v, []byte("down")) {
		t.Fatalf("Get = %q, %v, %v, want down, true, nil", v, ok, err)
	}

	if err := h.Unprovide(ctx, "/if/eth0/state"); err != nil {
		t.Fatalf("Unprovide: %v", err)
	}
	_, ok, err = h.Get(ctx, "/if/eth0/state")
	if err != nil {
		t.Fatalf("Get after unprovide: %v", err)
	}
	if ok {
		t.Fatalf("Get after unprovide reported present")
	}
}

// TestReentrantWatcherObservesCurrentValue covers a watcher whose callback
// issues a Get on the same path it was triggered for, verifying it never
// sees a value older than the one that triggered it and that the round
// trip doesn't deadlock.
func TestReentrantWatcherObservesCurrentValue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h, err := inprocess.New(ctx, apteryx.Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close(ctx)

	seen := make(chan []byte, 1)
	if err := h.Watch(ctx, "/e/z/priv/state", func(path string, value []byte, priv uint64) {
		got, _, err := h.Get(ctx, path)
		if err != nil {
			seen <- nil
			return
		}
		seen <- got
	}, 0); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := h.Set(ctx, "/e/z/priv/state", []byte("up")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	select {
	case got := <-seen:
		if !bytes.Equal(got, []byte("up")) {
			t.Fatalf("reentrant Get returned %q, want up", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reentrant watcher deadlocked or was never invoked")
	}
}

// TestCrossProcessVisibility simulates two participant processes as two
// independent client connections into the same daemon: writes from one are
// visible to reads and watches from the other.
func TestCrossProcessVisibility(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sock := filepath.Join(t.TempDir(), "apteryxd.sock")
	h, err := inprocess.New(ctx, apteryx.Config{Socket: sock}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close(ctx)

	b, err := apteryxclient.Open(apteryxclient.Config{DaemonSocket: sock, CallbackSocketDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open process B: %v", err)
	}
	defer b.Close()

	if err := h.Set(ctx, "/c/t0", []byte("5")); err != nil {
		t.Fatalf("Set from process A: %v", err)
	}
	v, ok, err := b.Get(ctx, "/c/t0")
	if err != nil || !ok || !bytes.Equal(v, []byte("5")) {
		t.Fatalf("Get from process B = %q, %v, %v, want 5, true, nil", v, ok, err)
	}

	delivered := make(chan []byte, 1)
	if err := h.Watch(ctx, "/c/*", func(path string, value []byte, priv uint64) {
		delivered <- value
	}, 0); err != nil {
		t.Fatalf("Watch from process A: %v", err)
	}
	if err := b.Set(ctx, "/c/t1", []byte("x")); err != nil {
		t.Fatalf("Set from process B: %v", err)
	}
	select {
	case v := <-delivered:
		if !bytes.Equal(v, []byte("x")) {
			t.Fatalf("delivered = %q, want x", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cross-process watch delivery")
	}
}

// TestSearchIsOneLevel covers the "search is one-level" scenario: search on
// a directory returns exactly its immediate children, deduplicated.
func TestSearchIsOneLevel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h, err := inprocess.New(ctx, apteryx.Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close(ctx)

	for _, p := range []string{"/e/z/priv", "/e/z/priv/desc", "/e/z/pub"} {
		if err := h.Set(ctx, p, []byte("v")); err != nil {
			t.Fatalf("Set %s: %v", p, err)
		}
	}

	got, err := h.Search(ctx, "/e/z/")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	sort.Strings(got)
	want := []string{"/e/z/priv", "/e/z/pub"}
	if len(got) != len(want) {
		t.Fatalf("Search = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Search = %v, want %v", got, want)
		}
	}
}

package pathutil

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		path string
		kind Kind
		clean string
	}{
		{"", KindRoot, ""},
		{"/", KindRoot, ""},
		{"*", KindRoot, ""},
		{"/*", KindRoot, ""},
		{"/a/b/c", KindExact, "/a/b/c"},
		{"/a/b/", KindDirectory, "/a/b"},
		{"/a/b/*", KindWildcard, "/a/b"},
		{"/a//b", KindInvalid, ""},
		{"nope", KindInvalid, ""},
	}
	for _, c := range cases {
		got := Classify(c.path)
		if got.Kind != c.kind || got.Clean != c.clean {
			t.Errorf("Classify(%q) = %+v, want kind=%v clean=%q", c.path, got, c.kind, c.clean)
		}
	}
}

func TestValidExact(t *testing.T) {
	if !ValidExact("/a/b") {
		t.Error("expected /a/b to be a valid exact path")
	}
	for _, p := range []string{"/a/b/", "/a/b/*", "", "/", "a/b"} {
		if ValidExact(p) {
			t.Errorf("expected %q to be rejected as exact", p)
		}
	}
}

func TestValidSearch(t *testing.T) {
	for _, p := range []string{"", "/", "*", "/*", "/a/b/"} {
		if !ValidSearch(p) {
			t.Errorf("expected %q to be a valid search path", p)
		}
	}
	for _, p := range []string{"/a/b", "/a//b"} {
		if ValidSearch(p) {
			t.Errorf("expected %q to be rejected for search (missing trailing slash)", p)
		}
	}
}

func TestMatchesExact(t *testing.T) {
	if !Matches("/z/s", "/z/s") {
		t.Error("exact pattern should match identical path")
	}
	if Matches("/z/s", "/z/s/t") {
		t.Error("exact pattern should not match a descendant")
	}
}

func TestMatchesDirectory(t *testing.T) {
	if !Matches("/e/z/", "/e/z/priv") {
		t.Error("directory pattern should match a direct child")
	}
	if Matches("/e/z/", "/e/z/priv/desc") {
		t.Error("directory pattern should not match a grandchild")
	}
	if Matches("/e/z/", "/e/z") {
		t.Error("directory pattern should not match itself")
	}
}

func TestMatchesWildcardSuffix(t *testing.T) {
	if !Matches("/e/z/*", "/e/z/p/s") {
		t.Error("wildcard-suffix pattern should match any descendant depth")
	}
	if !Matches("/e/z/*", "/e/z") {
		t.Error("wildcard-suffix pattern should match the path itself")
	}
	if Matches("/e/z/*", "/e/o/s") {
		t.Error("wildcard-suffix pattern should not match an unrelated subtree")
	}
}

// TestMatchesMidPathWildcardNeverMatches locks in the spec's intentional
// quirk: a '*' that isn't the trailing segment never matches anything.
func TestMatchesMidPathWildcardNeverMatches(t *testing.T) {
	if Matches("/e/z/*/state", "/e/z/pub/state") {
		t.Error("mid-path wildcard must never match, by design")
	}
}

func TestMatchesRoot(t *testing.T) {
	for _, pattern := range []string{"", "/", "*", "/*"} {
		if !Matches(pattern, "/anything/at/all") {
			t.Errorf("root pattern %q should match any path", pattern)
		}
	}
}

func TestParent(t *testing.T) {
	if got := Parent("/a/b/c"); got != "/a/b" {
		t.Errorf("Parent(/a/b/c) = %q, want /a/b", got)
	}
	if got := Parent("/a"); got != "" {
		t.Errorf("Parent(/a) = %q, want empty", got)
	}
}

func TestSegments(t *testing.T) {
	got := Segments("/a/b/c")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("Segments = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Segments[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

package main

import (
	"bytes"
	"context"
	"io"
	"testing"

	"pkt.systems/pslog"

	"github.com/isaac129/apteryx/internal/version"
)

func executeRootCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand(pslog.NewStructured(context.Background(), io.Discard))
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersionCommandPrintsCurrentVersion(t *testing.T) {
	stdout, stderr, err := executeRootCommand(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if stderr != "" {
		t.Fatalf("expected empty stderr, got %q", stderr)
	}
	want := version.Module() + " " + version.Current() + "\n"
	if stdout != want {
		t.Fatalf("unexpected stdout: got %q want %q", stdout, want)
	}
}

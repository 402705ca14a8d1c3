package interp_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bilusteknoloji/pyflow/internal/interp"
)

func writeExecutable(t *testing.T, path string) {
	t.Helper()

	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}
}

func TestDiscoverFindsInterpretersOnPath(t *testing.T) {
	dir := t.TempDir()
	writeExecutable(t, filepath.Join(dir, "python3.12"))
	writeExecutable(t, filepath.Join(dir, "python3"))

	runCmd := func(_ context.Context, name string, _ ...string) ([]byte, error) {
		switch filepath.Base(name) {
		case "python3.12":
			return []byte("Python 3.12.1\n"), nil
		case "python3":
			return []byte("Python 3.12.1\n"), nil
		}

		return nil, os.ErrNotExist
	}

	candidates, err := interp.Discover(context.Background(), runCmd, dir)
	if err != nil {
		t.Fatalf("Discover() error: %v", err)
	}

	if len(candidates) == 0 {
		t.Fatal("expected at least one candidate")
	}

	for _, c := range candidates {
		if c.Version != "3.12.1" {
			t.Errorf("candidate %s: version = %q, want %q", c.Path, c.Version, "3.12.1")
		}
	}
}

func TestDiscoverSkipsUnreadableEntries(t *testing.T) {
	candidates, err := interp.Discover(context.Background(), nil, "/nonexistent-path-xyz")
	if err != nil {
		t.Fatalf("Discover() error: %v", err)
	}

	if len(candidates) != 0 {
		t.Errorf("expected no candidates, got %d", len(candidates))
	}
}

func TestBestSelectsHighestMatchingConstraint(t *testing.T) {
	candidates := []interp.Candidate{
		{Path: "/usr/bin/python3.9", Version: "3.9.18"},
		{Path: "/usr/bin/python3.12", Version: "3.12.1"},
		{Path: "/usr/bin/python3.11", Version: "3.11.6"},
	}

	best, err := interp.Best(candidates, "")
	if err != nil {
		t.Fatalf("Best() error: %v", err)
	}

	if best.Version != "3.12.1" {
		t.Errorf("expected 3.12.1, got %s", best.Version)
	}

	best, err = interp.Best(candidates, "3.11")
	if err != nil {
		t.Fatalf("Best() error: %v", err)
	}

	if best.Version != "3.11.6" {
		t.Errorf("expected 3.11.6, got %s", best.Version)
	}
}

func TestBestNoMatchReturnsError(t *testing.T) {
	candidates := []interp.Candidate{{Path: "/usr/bin/python3.9", Version: "3.9.18"}}

	if _, err := interp.Best(candidates, "3.13"); err == nil {
		t.Fatal("expected error for unsatisfiable constraint")
	}
}

func TestPreparePEP582CreatesLayout(t *testing.T) {
	projectDir := t.TempDir()

	env, err := interp.PreparePEP582(projectDir, "3.12", "/usr/bin/python3.12")
	if err != nil {
		t.Fatalf("PreparePEP582() error: %v", err)
	}

	wantRoot := filepath.Join(projectDir, "__pypackages__", "3.12")
	if env.Root != wantRoot {
		t.Errorf("Root = %q, want %q", env.Root, wantRoot)
	}

	if _, err := os.Stat(env.SitePackages); err != nil {
		t.Errorf("lib dir not created: %v", err)
	}

	if _, err := os.Stat(env.BinDir); err != nil {
		t.Errorf("bin dir not created: %v", err)
	}

	asEnv := env.Environment()
	if !asEnv.IsVirtualEnv {
		t.Error("expected Environment().IsVirtualEnv to be true")
	}

	if asEnv.SitePackages != env.SitePackages {
		t.Error("Environment() SitePackages mismatch")
	}
}

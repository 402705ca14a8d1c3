package interp_test

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/bilusteknoloji/pyflow/internal/interp"
)

func TestMirrorIndexLoadMissingFileReturnsEmpty(t *testing.T) {
	idx, err := interp.LoadMirrorIndex(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("LoadMirrorIndex() error: %v", err)
	}

	if len(idx.Releases) != 0 {
		t.Errorf("expected empty index, got %d releases", len(idx.Releases))
	}
}

func TestMirrorIndexSaveAndLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "python-installs.yaml")

	idx := &interp.MirrorIndex{}
	idx.Merge(interp.MirrorEntry{
		Version: "3.12.3+20240415",
		OS:      runtime.GOOS,
		Arch:    runtime.GOARCH,
		URL:     "https://example.invalid/cpython.tar.gz",
		SHA256:  "deadbeef",
	})

	if err := idx.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	loaded, err := interp.LoadMirrorIndex(path)
	if err != nil {
		t.Fatalf("LoadMirrorIndex() error: %v", err)
	}

	if len(loaded.Releases) != 1 {
		t.Fatalf("expected 1 release, got %d", len(loaded.Releases))
	}

	if loaded.Releases[0].URL != "https://example.invalid/cpython.tar.gz" {
		t.Errorf("URL = %q, want the saved URL", loaded.Releases[0].URL)
	}
}

func TestMirrorIndexMergeSkipsDuplicates(t *testing.T) {
	idx := &interp.MirrorIndex{}
	entry := interp.MirrorEntry{Version: "3.12.3+20240415", OS: "linux", Arch: "amd64", URL: "a"}

	idx.Merge(entry)
	idx.Merge(entry)

	if len(idx.Releases) != 1 {
		t.Errorf("expected Merge to dedupe, got %d releases", len(idx.Releases))
	}
}

func TestMirrorIndexSelectPicksHighestMatching(t *testing.T) {
	idx := &interp.MirrorIndex{}
	idx.Merge(
		interp.MirrorEntry{Version: "3.11.8+20240107", OS: runtime.GOOS, Arch: runtime.GOARCH, URL: "old"},
		interp.MirrorEntry{Version: "3.12.3+20240415", OS: runtime.GOOS, Arch: runtime.GOARCH, URL: "new"},
		interp.MirrorEntry{Version: "3.12.1+20240101", OS: runtime.GOOS, Arch: runtime.GOARCH, URL: "mid"},
	)

	entry, ok := idx.Select(">= 3.12, < 3.13")
	if !ok {
		t.Fatal("expected a match")
	}

	if entry.URL != "new" {
		t.Errorf("Select() = %q, want %q", entry.URL, "new")
	}
}

func TestMirrorIndexSelectFiltersByPlatform(t *testing.T) {
	idx := &interp.MirrorIndex{}
	idx.Merge(interp.MirrorEntry{Version: "3.12.3+20240415", OS: "plan9", Arch: "amd64", URL: "wrong-platform"})

	if _, ok := idx.Select(""); ok {
		t.Error("expected no match for a platform that isn't the running one")
	}
}

func TestMirrorEntryToManagedBuild(t *testing.T) {
	e := interp.MirrorEntry{Version: "3.12.3+20240415", OS: "linux", Arch: "amd64", URL: "u", SHA256: "h"}

	b := e.ToManagedBuild()
	if b.Version != e.Version || b.URL != e.URL || b.SHA256 != e.SHA256 {
		t.Errorf("ToManagedBuild() = %+v, want fields copied from %+v", b, e)
	}
}

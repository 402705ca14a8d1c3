package interp

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/Masterminds/semver"
	"gopkg.in/yaml.v3"
)

// MirrorEntry is one python-build-standalone style release recorded in the
// mirror manifest: a prebuilt CPython archive pyflow can fetch when no
// interpreter on PATH satisfies a project's constraint (§4.7).
type MirrorEntry struct {
	Version string `yaml:"version"` // semver-shaped release tag, e.g. "3.12.3+20240415"
	OS      string `yaml:"os"`
	Arch    string `yaml:"arch"`
	URL     string `yaml:"url"`
	SHA256  string `yaml:"sha256"`
}

// MirrorIndex is the on-disk manifest of known managed Python releases,
// `<data_dir>/python-installs.yaml`. It is distinct from the PEP 440
// distribution-version domain (component A): mirror tags carry a
// python-build-standalone build date suffix, so they're compared as semver
// rather than PEP 440.
type MirrorIndex struct {
	Releases []MirrorEntry `yaml:"releases"`
}

// LoadMirrorIndex reads the mirror manifest at path. A missing file yields
// an empty index rather than an error, since the first run on a machine has
// not bootstrapped one yet.
func LoadMirrorIndex(path string) (*MirrorIndex, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &MirrorIndex{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var idx MirrorIndex
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return &idx, nil
}

// Save writes the mirror manifest to path, creating its parent directory if
// needed.
func (idx *MirrorIndex) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}

	data, err := yaml.Marshal(idx)
	if err != nil {
		return fmt.Errorf("encoding mirror index: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}

	return nil
}

// Merge adds entries not already present (matched by Version+OS+Arch),
// used to seed a freshly-loaded index with pyflow's built-in pinned set
// before consulting it.
func (idx *MirrorIndex) Merge(entries ...MirrorEntry) {
	existing := make(map[string]bool, len(idx.Releases))
	for _, e := range idx.Releases {
		existing[e.Version+"|"+e.OS+"|"+e.Arch] = true
	}

	for _, e := range entries {
		key := e.Version + "|" + e.OS + "|" + e.Arch
		if existing[key] {
			continue
		}

		idx.Releases = append(idx.Releases, e)
		existing[key] = true
	}
}

// Select returns the highest-versioned release matching constraint (a
// Masterminds/semver constraint string, e.g. ">= 3.12, < 3.13") for the
// running OS/arch. An empty constraint matches any version.
func (idx *MirrorIndex) Select(constraint string) (MirrorEntry, bool) {
	var cs *semver.Constraints

	if constraint != "" {
		parsed, err := semver.NewConstraint(constraint)
		if err != nil {
			return MirrorEntry{}, false
		}

		cs = parsed
	}

	var best MirrorEntry

	var bestVer *semver.Version

	for _, e := range idx.Releases {
		if e.OS != runtime.GOOS || e.Arch != runtime.GOARCH {
			continue
		}

		v, err := semver.NewVersion(e.Version)
		if err != nil {
			continue
		}

		if cs != nil && !cs.Check(v) {
			continue
		}

		if bestVer == nil || v.GreaterThan(bestVer) {
			best = e
			bestVer = v
		}
	}

	return best, bestVer != nil
}

// ToManagedBuild adapts a mirror entry to the shape Manager.Ensure expects.
func (e MirrorEntry) ToManagedBuild() ManagedBuild {
	return ManagedBuild{
		Version: e.Version,
		OS:      e.OS,
		Arch:    e.Arch,
		URL:     e.URL,
		SHA256:  e.SHA256,
	}
}

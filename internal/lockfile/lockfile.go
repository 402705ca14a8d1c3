// Package lockfile reads, writes, and reconciles pyflow.lock, the
// TOML record of exactly which package versions a project resolved to
// (component E, §4.4).
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/bilusteknoloji/pyflow/internal/requirement"
	"github.com/bilusteknoloji/pyflow/internal/resolver"
	"github.com/bilusteknoloji/pyflow/internal/version"
)

// Package is one locked entry.
type Package struct {
	Name         string   `toml:"name"`
	Version      string   `toml:"version"`
	Source       string   `toml:"source"` // "pypi" | "path" | "git"
	Hash         string   `toml:"hash,omitempty"`
	Dependencies []string `toml:"dependencies,omitempty"`
}

// Lockfile is the parsed pyflow.lock document.
type Lockfile struct {
	Package []Package `toml:"package"`
}

// Load reads and parses pyflow.lock at path. A missing file is not an
// error: it returns an empty Lockfile, since the first install run has
// nothing to reconcile against.
func Load(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Lockfile{}, nil
		}

		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var lf Lockfile
	if err := toml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return &lf, nil
}

// Save writes lf to path atomically (write to a sibling temp file, then
// rename), per §4.4 ("overwritten atomically").
func Save(path string, lf *Lockfile) error {
	data, err := toml.Marshal(lf)
	if err != nil {
		return fmt.Errorf("marshaling lockfile: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".pyflow.lock.*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp lockfile: %w", err)
	}

	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)

		return fmt.Errorf("writing temp lockfile: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("closing temp lockfile: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("renaming temp lockfile into place: %w", err)
	}

	return nil
}

// ByName indexes the lockfile's packages by canonical name.
func (lf *Lockfile) ByName() map[string]Package {
	m := make(map[string]Package, len(lf.Package))
	for _, p := range lf.Package {
		m[p.Name] = p
	}

	return m
}

// Satisfies reports whether this lock entry's pinned version still matches
// specifier (used during reconciliation to decide whether a lock entry can
// be kept as-is, per §4.4).
func (p Package) Satisfies(specifier string) bool {
	ok, err := version.MatchesAll(p.Version, []string{specifier})

	return err == nil && ok
}

// FromResolved converts the resolver's output into lockfile entries. hashes
// maps each resolved package's InstalledName to its wheel's advertised
// sha256 digest (empty for path/git sources).
func FromResolved(resolved []resolver.ResolvedPackage, hashes map[string]string, sources map[string]string) *Lockfile {
	lf := &Lockfile{Package: make([]Package, 0, len(resolved))}

	for _, r := range resolved {
		source := sources[r.InstalledName]
		if source == "" {
			source = "pypi"
		}

		hash := ""
		if h, ok := hashes[r.InstalledName]; ok && h != "" {
			hash = "sha256:" + h
		}

		lf.Package = append(lf.Package, Package{
			Name:         r.InstalledName,
			Version:      r.Version,
			Source:       source,
			Hash:         hash,
			Dependencies: r.Dependencies,
		})
	}

	return lf
}

// Reconcile decides, for each top-level requirement, whether the existing
// lock already pins a satisfying version (keep) or needs the resolver to
// compute a new one (stale). Per §4.4: "If the lock contains a version
// satisfying current constraints, pin to it. Else, compute the new best
// candidate and rewrite its entry."
func Reconcile(existing *Lockfile, requirements []string) (pinned map[string]string, stale []string) {
	pinned = make(map[string]string)

	byName := existing.ByName()

	for _, reqStr := range requirements {
		req := requirement.ParseRequirement(reqStr)

		pkg, ok := byName[req.Name]
		if ok && pkg.Satisfies(req.Specifier) {
			pinned[req.Name] = pkg.Version

			continue
		}

		stale = append(stale, reqStr)
	}

	return pinned, stale
}

// Prune removes packages that kept reflects no longer needs: entries whose
// name isn't in keepNames and isn't reachable from an entry that is
// (§4.4: "Removed packages and their no-longer-referenced transitive
// closures are deleted from the lock").
func Prune(lf *Lockfile, keepNames map[string]bool) *Lockfile {
	byName := lf.ByName()

	reachable := make(map[string]bool, len(keepNames))

	var visit func(name string)

	visit = func(name string) {
		if reachable[name] {
			return
		}

		reachable[name] = true

		pkg, ok := byName[name]
		if !ok {
			return
		}

		for _, dep := range pkg.Dependencies {
			visit(dependencyName(dep))
		}
	}

	for name := range keepNames {
		visit(name)
	}

	pruned := &Lockfile{Package: make([]Package, 0, len(reachable))}

	for _, p := range lf.Package {
		if reachable[p.Name] {
			pruned.Package = append(pruned.Package, p)
		}
	}

	return pruned
}

// dependencyName extracts the normalized package name from a lockfile
// dependency entry. FromResolved stores entries as bare installed names; an
// entry that carries a constraint ("werkzeug>=3.0.0") is reduced to its name.
func dependencyName(dep string) string {
	return requirement.ParseRequirement(dep).Name
}

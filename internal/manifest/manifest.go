// Package manifest reads pyproject.toml's [tool.pyflow] table (falling back
// to [tool.poetry] where the two overlap) into the project metadata and
// dependency declarations the rest of pyflow operates on (§6).
package manifest

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Dependency is one entry of [tool.pyflow.dependencies] or
// [tool.pyflow.dev-dependencies]: either a bare constraint string or an
// inline table with version/extras/path/git/rev.
type Dependency struct {
	Version string
	Extras  []string
	Path    string
	Git     string
	Rev     string
}

// Manifest is the parsed project manifest.
type Manifest struct {
	Name            string
	Version         string
	Description     string
	Authors         []string
	Homepage        string
	Repository      string
	License         string
	Keywords        []string
	Classifiers     []string
	PythonRequires  string
	Readme          string
	Build           string
	PackageURL      string
	PyVersion       string
	Dependencies    map[string]Dependency
	DevDependencies map[string]Dependency
	Extras          map[string][]string
	Scripts         map[string]string
}

const defaultPackageURL = "https://test.pypi.org"

type rawSection struct {
	Name            string         `toml:"name"`
	Version         string         `toml:"version"`
	Description     string         `toml:"description"`
	Authors         []string       `toml:"authors"`
	Homepage        string         `toml:"homepage"`
	Repository      string         `toml:"repository"`
	License         any            `toml:"license"`
	Keywords        []string       `toml:"keywords"`
	Classifiers     []string       `toml:"classifiers"`
	PythonRequires  string         `toml:"python_requires"`
	Readme          string         `toml:"readme"`
	Build           string         `toml:"build"`
	PackageURL      string         `toml:"package_url"`
	PyVersion       string         `toml:"py_version"`
	Dependencies    map[string]any `toml:"dependencies"`
	DevDependencies map[string]any `toml:"dev-dependencies"`
	Extras          map[string][]string `toml:"extras"`
	Scripts         map[string]string   `toml:"scripts"`
}

type rawDoc struct {
	Tool struct {
		Pyflow rawSection `toml:"pyflow"`
		Poetry rawSection `toml:"poetry"`
	} `toml:"tool"`
}

// Load reads and parses pyproject.toml at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return Parse(data)
}

// Parse parses pyproject.toml content already read into memory.
func Parse(data []byte) (*Manifest, error) {
	var doc rawDoc

	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing pyproject.toml: %w", err)
	}

	m := merge(doc.Tool.Pyflow, doc.Tool.Poetry)

	if m.PackageURL == "" {
		m.PackageURL = defaultPackageURL
	}

	return m, nil
}

// merge combines the [tool.pyflow] table with [tool.poetry] as a fallback
// for fields pyflow left unset, per §6 ("parsed with the same semantics
// where fields overlap").
func merge(pyflow, poetry rawSection) *Manifest {
	m := &Manifest{
		Name:           firstNonEmpty(pyflow.Name, poetry.Name),
		Version:        firstNonEmpty(pyflow.Version, poetry.Version),
		Description:    firstNonEmpty(pyflow.Description, poetry.Description),
		Authors:        firstNonEmptySlice(pyflow.Authors, poetry.Authors),
		Homepage:       firstNonEmpty(pyflow.Homepage, poetry.Homepage),
		Repository:     firstNonEmpty(pyflow.Repository, poetry.Repository),
		License:        firstNonEmpty(licenseString(pyflow.License), licenseString(poetry.License)),
		Keywords:       firstNonEmptySlice(pyflow.Keywords, poetry.Keywords),
		Classifiers:    firstNonEmptySlice(pyflow.Classifiers, poetry.Classifiers),
		PythonRequires: firstNonEmpty(pyflow.PythonRequires, poetry.PythonRequires),
		Readme:         firstNonEmpty(pyflow.Readme, poetry.Readme),
		Build:          firstNonEmpty(pyflow.Build, poetry.Build),
		PackageURL:     firstNonEmpty(pyflow.PackageURL, poetry.PackageURL),
		PyVersion:      firstNonEmpty(pyflow.PyVersion, poetry.PyVersion),
		Extras:         firstNonEmptyExtras(pyflow.Extras, poetry.Extras),
		Scripts:        firstNonEmptyScripts(pyflow.Scripts, poetry.Scripts),
	}

	m.Dependencies = convertDeps(pyflow.Dependencies)
	if len(m.Dependencies) == 0 {
		m.Dependencies, m.PyVersion = convertPoetryDeps(poetry.Dependencies, m.PyVersion)
	}

	m.DevDependencies = convertDeps(pyflow.DevDependencies)
	if len(m.DevDependencies) == 0 {
		m.DevDependencies, _ = convertPoetryDeps(poetry.DevDependencies, "")
	}

	return m
}

// convertPoetryDeps converts a [tool.poetry.dependencies]-shaped map,
// pulling out the conventional "python" key as the py_version constraint
// instead of a dependency (Poetry overloads that table with the
// interpreter constraint; pyflow keeps interpreter and package
// constraints separate).
func convertPoetryDeps(raw map[string]any, pyVersionFallback string) (map[string]Dependency, string) {
	deps := make(map[string]Dependency, len(raw))
	pyVersion := pyVersionFallback

	for name, v := range raw {
		if name == "python" {
			if s, ok := v.(string); ok && pyVersion == "" {
				pyVersion = s
			}

			continue
		}

		deps[name] = toDependency(v)
	}

	if len(deps) == 0 {
		return nil, pyVersion
	}

	return deps, pyVersion
}

func convertDeps(raw map[string]any) map[string]Dependency {
	if len(raw) == 0 {
		return nil
	}

	deps := make(map[string]Dependency, len(raw))
	for name, v := range raw {
		deps[name] = toDependency(v)
	}

	return deps
}

// toDependency normalizes a dependency value that TOML may have decoded as
// either a bare string ("^2.1") or an inline table
// ({version = "^2.1", extras = ["socks"]}).
func toDependency(v any) Dependency {
	switch val := v.(type) {
	case string:
		return Dependency{Version: val}
	case map[string]any:
		d := Dependency{}

		if s, ok := val["version"].(string); ok {
			d.Version = s
		}

		if s, ok := val["path"].(string); ok {
			d.Path = s
		}

		if s, ok := val["git"].(string); ok {
			d.Git = s
		}

		if s, ok := val["rev"].(string); ok {
			d.Rev = s
		}

		if extras, ok := val["extras"].([]any); ok {
			for _, e := range extras {
				if s, ok := e.(string); ok {
					d.Extras = append(d.Extras, s)
				}
			}
		}

		return d
	default:
		return Dependency{}
	}
}

func licenseString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		if s, ok := val["text"].(string); ok {
			return s
		}

		return ""
	default:
		return ""
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}

	return b
}

func firstNonEmptySlice(a, b []string) []string {
	if len(a) > 0 {
		return a
	}

	return b
}

func firstNonEmptyExtras(a, b map[string][]string) map[string][]string {
	if len(a) > 0 {
		return a
	}

	return b
}

func firstNonEmptyScripts(a, b map[string]string) map[string]string {
	if len(a) > 0 {
		return a
	}

	return b
}

// DependencyStrings renders a dependency map into PEP 508-shaped
// requirement strings suitable for the resolver, e.g. "requests^2.31" or
// "requests[socks]>=2.0".
func DependencyStrings(deps map[string]Dependency) []string {
	out := make([]string, 0, len(deps))

	for name, d := range deps {
		s := name

		if len(d.Extras) > 0 {
			s += "[" + strings.Join(d.Extras, ",") + "]"
		}

		if d.Version != "" {
			s += d.Version
		}

		out = append(out, s)
	}

	return out
}

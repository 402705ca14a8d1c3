// Package requirement parses PEP 508 dependency specifiers and PEP 503
// package names. It has no knowledge of any particular source (PyPI, path,
// git) — that is layered on by internal/manifest and internal/resolver.
package requirement

import "strings"

// Source identifies where a requirement's distribution comes from.
type Source struct {
	Kind string // "pypi" (default), "path", or "git"
	Path string // directory, when Kind == "path"
	URL  string // repository URL, when Kind == "git"
	Rev  string // optional ref/commit, when Kind == "git"
}

// Requirement represents a parsed PEP 508 dependency specifier.
type Requirement struct {
	Name       string   // normalized (PEP 503) package name
	Specifier  string   // version specifier, e.g., ">=3.0,<4.0"
	Extras     []string // requested extras, e.g., ["socks"] for "requests[socks]"
	Marker     string   // environment marker, e.g., `python_version < "3.10"`
	Source     Source
}

// MarkerEnv holds the environment variables PEP 508 markers evaluate against.
// See internal/markers for the evaluator itself.
type MarkerEnv struct {
	PythonVersion      string // "python_version", e.g. "3.12"
	PythonFullVersion  string // "python_full_version", e.g. "3.12.3"
	OsName             string // "os_name", e.g. "posix", "nt"
	SysPlatform        string // "sys_platform", e.g. "linux", "darwin", "win32"
	PlatformSystem     string // "platform_system", e.g. "Linux", "Darwin", "Windows"
	PlatformMachine    string // "platform_machine", e.g. "x86_64", "arm64"
	PlatformRelease    string // "platform_release"
	ImplementationName string // "implementation_name", e.g. "cpython"
	ImplementationVer  string // "implementation_version"
	Extra              string // "extra", set while evaluating an extras group
}

// ParseRequirement parses a PEP 508 requirement string.
//
// Supported formats:
//
//	"flask"
//	"flask>=3.0"
//	"flask>=3.0,<4.0"
//	"flask (>=3.0)"
//	"requests[socks]>=2.0"
//	"importlib-metadata>=3.6.0; python_version < \"3.10\""
func ParseRequirement(s string) Requirement {
	marker := ""

	parts := strings.SplitN(s, ";", 2)
	nameSpec := strings.TrimSpace(parts[0])

	if len(parts) > 1 {
		marker = strings.TrimSpace(parts[1])
	}

	var extras []string

	if idx := strings.Index(nameSpec, "["); idx >= 0 {
		if endIdx := strings.Index(nameSpec, "]"); endIdx > idx {
			for _, e := range strings.Split(nameSpec[idx+1:endIdx], ",") {
				if e = strings.TrimSpace(e); e != "" {
					extras = append(extras, e)
				}
			}

			nameSpec = nameSpec[:idx] + nameSpec[endIdx+1:]
		}
	}

	// Strip parenthesized specifier: package (>=1.0)
	nameSpec = strings.NewReplacer("(", "", ")", "").Replace(nameSpec)
	nameSpec = strings.TrimSpace(nameSpec)

	// Split name from specifier at first operator char. "^" is pyflow's
	// caret-constraint spelling (see internal/version), not a PEP 440
	// operator, but it always starts a specifier the same way.
	specStart := strings.IndexAny(nameSpec, "><=!~^")
	name := nameSpec
	specifier := ""

	if specStart >= 0 {
		name = strings.TrimSpace(nameSpec[:specStart])
		specifier = strings.TrimSpace(nameSpec[specStart:])
	}

	return Requirement{
		Name:      NormalizeName(name),
		Specifier: specifier,
		Extras:    extras,
		Marker:    marker,
		Source:    Source{Kind: "pypi"},
	}
}

// NormalizeName normalizes a Python package name per PEP 503.
// Converts to lowercase and replaces runs of [-_.] with a single hyphen.
func NormalizeName(name string) string {
	name = strings.ToLower(name)

	var b strings.Builder

	prevHyphen := false

	for i := range len(name) {
		switch name[i] {
		case '-', '_', '.':
			if !prevHyphen {
				b.WriteByte('-')
				prevHyphen = true
			}
		default:
			b.WriteByte(name[i])
			prevHyphen = false
		}
	}

	return b.String()
}

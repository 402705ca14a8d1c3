package interp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	goversion "github.com/aquasecurity/go-version"

	"github.com/bilusteknoloji/pyflow/internal/version"
)

// Candidate is one Python interpreter found on the system.
type Candidate struct {
	Path    string
	Version string // "3.12.1" as reported by `--version`
}

// candidateNames are the executable basenames considered interpreters,
// most specific first, so that within one PATH directory a versioned
// "python3.12" is probed before a plain "python3".
var candidateNames = []string{
	"python3.13", "python3.12", "python3.11", "python3.10", "python3.9", "python3.8",
	"python3", "python",
}

// Discover walks PATH looking for Python interpreters, querying each one's
// version via `--version`. Duplicate resolved paths (symlinks to the same
// binary listed under two names) are returned once. Results are in PATH
// order, and within one directory in candidateNames order.
func Discover(ctx context.Context, runCmd CommandRunner, pathEnv string) ([]Candidate, error) {
	if runCmd == nil {
		runCmd = defaultRunCmd
	}

	seen := make(map[string]bool)

	var found []Candidate

	for _, dir := range filepath.SplitList(pathEnv) {
		if dir == "" {
			continue
		}

		for _, name := range candidateNames {
			path := filepath.Join(dir, name)

			info, err := os.Stat(path)
			if err != nil || info.IsDir() || info.Mode()&0o111 == 0 {
				continue
			}

			real, err := filepath.EvalSymlinks(path)
			if err != nil {
				real = path
			}

			if seen[real] {
				continue
			}

			seen[real] = true

			out, err := runCmd(ctx, path, "--version")
			if err != nil {
				continue
			}

			version := parseVersionOutput(string(out))
			if version == "" {
				continue
			}

			found = append(found, Candidate{Path: path, Version: version})
		}
	}

	return found, nil
}

// parseVersionOutput extracts "3.12.1" from "Python 3.12.1\n" (CPython
// prints its version banner to stdout on recent releases, stderr on older
// ones; callers are expected to have merged both streams).
func parseVersionOutput(out string) string {
	out = strings.TrimSpace(out)
	out = strings.TrimPrefix(out, "Python ")

	fields := strings.Fields(out)
	if len(fields) == 0 {
		return ""
	}

	v := fields[0]
	for _, r := range v {
		if !(r == '.' || (r >= '0' && r <= '9')) {
			return ""
		}
	}

	return v
}

// Best selects the newest candidate satisfying constraint: either a plain
// release prefix (e.g. "3.11") or a comma-separated specifier set as
// written in py_version (e.g. ">=3.11,<3.13" or "^3.11"). An empty
// constraint matches the newest candidate of any version.
func Best(candidates []Candidate, constraint string) (Candidate, error) {
	var best Candidate

	for _, c := range candidates {
		if constraint != "" {
			var ok bool
			if strings.ContainsAny(constraint, "<>=!~^") {
				ok, _ = version.MatchesAll(c.Version, strings.Split(constraint, ","))
			} else {
				ok = c.Version == constraint || strings.HasPrefix(c.Version, constraint+".")
			}

			if !ok {
				continue
			}
		}

		if best.Path == "" || compareVersions(c.Version, best.Version) > 0 {
			best = c
		}
	}

	if best.Path == "" {
		if constraint == "" {
			return Candidate{}, fmt.Errorf("no python interpreter found on PATH")
		}

		return Candidate{}, fmt.Errorf("no python %s interpreter found on PATH", constraint)
	}

	return best, nil
}

// compareVersions orders two CPython release numbers ("3.12.1" vs "3.9.0")
// using go-version rather than PEP 440's constraint algebra (component A):
// interpreter release numbers are plain semantic-ish triples, a simpler
// domain than distribution versions, and the teacher's own python package
// never needed PEP 440's prerelease/epoch handling for this comparison.
func compareVersions(a, b string) int {
	av, err := goversion.Parse(a)
	if err != nil {
		return strings.Compare(a, b)
	}

	bv, err := goversion.Parse(b)
	if err != nil {
		return strings.Compare(a, b)
	}

	return av.Compare(bv)
}

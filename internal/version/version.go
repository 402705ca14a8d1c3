// Package version implements PEP 440 version parsing and comparison plus the
// requirement-specifier algebra (component A): exact, bounded inequality,
// compatible-release (~=), caret (^, semver-style floor/ceiling rather than
// PEP 440's own narrower ~=), wildcard (*), and arbitrary-equal (===)
// constraints, combined conjunctively.
package version

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"
)

// Version is a parsed PEP 440 version identifier.
type Version struct {
	raw string
	v   pep440.Version
}

// Parse parses a PEP 440 version string.
func Parse(s string) (Version, error) {
	v, err := pep440.Parse(s)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
	}

	return Version{raw: s, v: v}, nil
}

// String renders the version as originally parsed.
func (v Version) String() string { return v.raw }

// IsPreRelease reports whether v carries a pre-release segment.
func (v Version) IsPreRelease() bool { return v.v.IsPreRelease() }

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater than o.
func (v Version) Compare(o Version) int { return v.v.Compare(o.v) }

// LessThan reports whether v orders strictly before o.
func (v Version) LessThan(o Version) bool { return v.v.LessThan(o.v) }

// Slug renders the version for use in an installed_name suffix:
// dots replaced by underscores, per §4.3 ("version rendered with dots
// replaced by underscores").
func (v Version) Slug() string {
	return strings.ReplaceAll(normalizeForSlug(v.raw), ".", "_")
}

// MustSlug parses raw and renders its slug, falling back to a best-effort
// textual slug if raw doesn't parse as a valid PEP 440 version (callers that
// already validated the version via FindBest never hit the fallback).
func MustSlug(raw string) string {
	v, err := Parse(raw)
	if err != nil {
		return strings.ReplaceAll(normalizeForSlug(raw), ".", "_")
	}

	return v.Slug()
}

// normalizeForSlug strips characters that aren't safe in a Python identifier
// segment (e.g. "+local" build metadata, "-" in pre-release spellings).
func normalizeForSlug(raw string) string {
	s := strings.ReplaceAll(raw, "+", "_")
	s = strings.ReplaceAll(s, "-", "_")

	return s
}

// Specifiers is a conjunctive set of requirement constraints
// (e.g. ">=1.0,<2.0" or "~=1.4.2" or "^2.1").
type Specifiers struct {
	raw string
	s   pep440.Specifiers
}

// ParseSpecifiers parses a comma-separated constraint set. Caret (^)
// constraints are rewritten to an equivalent bounded ">=floor,<ceiling"
// pair before parsing (§4.1, §8): unlike ~=, which fixes the ceiling at
// the next bump of the second-to-last given segment, ^ floors at the
// version given and ceils at the next bump of its leftmost nonzero
// segment, so ^2.21.0 accepts 2.22.0 the same way a semver caret would.
func ParseSpecifiers(spec string) (Specifiers, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		// An empty specifier matches everything.
		s, err := pep440.NewSpecifiers("")
		if err != nil {
			return Specifiers{}, fmt.Errorf("invalid specifier %q: %w", spec, err)
		}

		return Specifiers{raw: spec, s: s}, nil
	}

	rewritten := rewriteCaret(spec)

	s, err := pep440.NewSpecifiers(rewritten)
	if err != nil {
		return Specifiers{}, fmt.Errorf("invalid specifier %q: %w", spec, err)
	}

	return Specifiers{raw: spec, s: s}, nil
}

// rewriteCaret replaces each "^X.Y.Z" clause in a comma-separated specifier
// list with the equivalent ">=X.Y.Z,<ceiling" pair. A clause that isn't a
// caret, or whose release segment can't be parsed, passes through unchanged.
func rewriteCaret(spec string) string {
	clauses := strings.Split(spec, ",")
	out := make([]string, 0, len(clauses))

	for _, c := range clauses {
		c = strings.TrimSpace(c)

		if strings.HasPrefix(c, "^") {
			floor := strings.TrimSpace(strings.TrimPrefix(c, "^"))

			if ceiling, ok := caretCeiling(floor); ok {
				out = append(out, ">="+floor, "<"+ceiling)
				continue
			}
		}

		out = append(out, c)
	}

	return strings.Join(out, ",")
}

// caretCeiling computes the exclusive upper bound for a caret floor version,
// following semver-style caret semantics (npm, cargo): the version bumps at
// its leftmost nonzero release segment, so ^2.21.0 ceils at 3.0.0 but
// ^0.2.3 ceils at 0.3.0 and ^0.0.3 ceils at 0.0.4. Pre-release and local
// segments on floor don't affect the ceiling, only its release segment does.
func caretCeiling(floor string) (string, bool) {
	release := leadingRelease(floor)
	if release == "" {
		return "", false
	}

	parts := strings.Split(release, ".")
	nums := make([]int, len(parts))

	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", false
		}

		nums[i] = n
	}

	bump := len(nums) - 1
	for i, n := range nums {
		if n != 0 {
			bump = i
			break
		}
	}

	nums[bump]++
	for i := bump + 1; i < len(nums); i++ {
		nums[i] = 0
	}

	strs := make([]string, len(nums))
	for i, n := range nums {
		strs[i] = strconv.Itoa(n)
	}

	return strings.Join(strs, "."), true
}

// leadingRelease returns the leading run of digits and dots in s, i.e. its
// PEP 440 release segment without any epoch, pre-release, or local suffix.
func leadingRelease(s string) string {
	i := 0
	for i < len(s) && (s[i] == '.' || (s[i] >= '0' && s[i] <= '9')) {
		i++
	}

	return s[:i]
}

// Check reports whether v satisfies every clause in s.
//
// Per spec §4.1, pre-releases do not satisfy an otherwise matching
// constraint unless the constraint itself names a pre-release or the
// version being tested is itself not a pre-release check (handled by the
// caller via FindBest, which filters pre-releases unless none match).
func (s Specifiers) Check(v Version) bool {
	return s.s.Check(v.v)
}

// String renders the specifier set as originally given (pre-rewrite).
func (s Specifiers) String() string { return s.raw }

// MatchesAll checks if a version string satisfies all the given specifier
// strings (conjunctive across the slice, and within each comma-joined entry).
func MatchesAll(versionStr string, specifiers []string) (bool, error) {
	v, err := Parse(versionStr)
	if err != nil {
		return false, err
	}

	for _, spec := range specifiers {
		ss, err := ParseSpecifiers(spec)
		if err != nil {
			return false, fmt.Errorf("parsing specifier %q: %w", spec, err)
		}

		if !ss.Check(v) {
			return false, nil
		}
	}

	return true, nil
}

// FindBest finds the highest version from candidates that satisfies all
// specifiers. Pre-release versions are excluded unless no stable version
// matches, or unless some specifier itself pins a pre-release
// (e.g. "==2.0.0rc1"). Returns empty string if no version matches.
func FindBest(candidates []string, specifiers []string) (string, error) {
	sorted, err := SortDesc(candidates)
	if err != nil {
		return "", err
	}

	anySpecifierIsPreRelease := false

	for _, spec := range specifiers {
		if specifierNamesPreRelease(spec) {
			anySpecifierIsPreRelease = true

			break
		}
	}

	if best, err := firstMatching(sorted, specifiers, anySpecifierIsPreRelease); err != nil || best != "" {
		return best, err
	}

	if anySpecifierIsPreRelease {
		return "", nil
	}

	// No stable version matched; per PEP 440 §"handling of pre-releases",
	// fall back to allowing pre-releases when that's all there is.
	return firstMatching(sorted, specifiers, true)
}

func firstMatching(sorted, specifiers []string, allowPreRelease bool) (string, error) {
	for _, raw := range sorted {
		v, err := Parse(raw)
		if err != nil {
			continue
		}

		if v.IsPreRelease() && !allowPreRelease {
			continue
		}

		matches, err := MatchesAll(raw, specifiers)
		if err != nil {
			return "", err
		}

		if matches {
			return raw, nil
		}
	}

	return "", nil
}

// specifierNamesPreRelease reports whether spec itself pins or ranges
// against a pre-release version (e.g. "==2.0.0rc1", ">=2.0.0a1").
func specifierNamesPreRelease(spec string) bool {
	for _, clause := range strings.Split(spec, ",") {
		clause = strings.TrimSpace(clause)

		i := strings.IndexAny(clause, "0123456789")
		if i < 0 {
			continue
		}

		if v, err := Parse(clause[i:]); err == nil && v.IsPreRelease() {
			return true
		}
	}

	return false
}

// SortDesc sorts version strings in descending order (highest first).
// Invalid version strings are filtered out. Per §9 the resolver requires
// highest-first oracle enumeration order to make tie-breaks deterministic.
func SortDesc(versions []string) ([]string, error) {
	type parsed struct {
		raw string
		ver Version
	}

	valid := make([]parsed, 0, len(versions))

	for _, raw := range versions {
		v, err := Parse(raw)
		if err != nil {
			continue
		}

		valid = append(valid, parsed{raw: raw, ver: v})
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return valid[j].ver.LessThan(valid[i].ver)
	})

	result := make([]string, len(valid))
	for i, v := range valid {
		result[i] = v.raw
	}

	return result, nil
}

// ExpandWildcard returns the bounds of a wildcard clause like "1.4.*": the
// floor "1.4" and the exclusive ceiling "1.5". Wildcard clauses inside
// specifiers ("==1.4.*", "!=1.4.*") are handled natively by the underlying
// PEP 440 specifier parser and do not go through this helper, and the caret
// rewrite computes its own ceiling in caretCeiling.
func ExpandWildcard(base string) (floor, ceilingExclusive string, ok bool) {
	base = strings.TrimSuffix(strings.TrimSpace(base), ".*")

	parts := strings.Split(base, ".")
	if len(parts) == 0 || parts[0] == "" {
		return "", "", false
	}

	ceilParts := make([]string, len(parts))
	copy(ceilParts, parts)

	last := len(ceilParts) - 1

	n := 0
	if _, err := fmt.Sscanf(ceilParts[last], "%d", &n); err != nil {
		return "", "", false
	}

	ceilParts[last] = fmt.Sprintf("%d", n+1)

	return base, strings.Join(ceilParts, "."), true
}

// Package markers evaluates PEP 508 environment marker expressions against
// a target interpreter (component B of the resolver pipeline).
package markers

import (
	"regexp"
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"

	"github.com/bilusteknoloji/pyflow/internal/requirement"
)

// Eval evaluates a PEP 508 environment marker against env.
// Returns true if the marker matches (dependency should be included).
// Returns true for empty markers. Unknown variables evaluate as empty string.
func Eval(marker string, env requirement.MarkerEnv) bool {
	marker = strings.TrimSpace(marker)
	if marker == "" {
		return true
	}

	for _, orGroup := range splitOutside(marker, " or ") {
		allTrue := true

		for _, term := range splitOutside(strings.TrimSpace(orGroup), " and ") {
			if !evalTerm(strings.TrimSpace(term), env) {
				allTrue = false

				break
			}
		}

		if allTrue {
			return true
		}
	}

	return false
}

var markerTermRe = regexp.MustCompile(
	`^\s*([\w.]+|"[^"]*"|'[^']*')\s*(>=|<=|!=|==|~=|>|<|not\s+in|in)\s*([\w.]+|"[^"]*"|'[^']*')\s*$`,
)

// evalTerm evaluates a single marker term like `python_version >= "3.8"`.
func evalTerm(term string, env requirement.MarkerEnv) bool {
	term = stripParens(term)

	m := markerTermRe.FindStringSubmatch(term)
	if m == nil {
		return true // unknown format, assume satisfied
	}

	leftVar := unquote(m[1])
	rightVar := unquote(m[3])

	left := resolveValue(m[1], env)
	op := m[2]
	right := resolveValue(m[3], env)

	if isVersionVariable(leftVar) || isVersionVariable(rightVar) {
		return compareVersion(left, op, right)
	}

	// sys_platform == "win32" must be true on both 32- and 64-bit Windows;
	// the quirk is already satisfied because MarkerEnv.SysPlatform is set to
	// the literal "win32" for all Windows builds (see requirement.MarkerEnv
	// construction in internal/interp). "bsd" is never a sys_platform value
	// pyflow emits, so it never matches, matching the spec's literal quirk.
	return compareString(left, op, right)
}

// stripParens removes one layer of balanced enclosing parentheses, if present.
func stripParens(term string) string {
	term = strings.TrimSpace(term)
	if len(term) >= 2 && term[0] == '(' && term[len(term)-1] == ')' {
		return strings.TrimSpace(term[1 : len(term)-1])
	}

	return term
}

// resolveValue resolves a marker token to its actual value.
func resolveValue(token string, env requirement.MarkerEnv) string {
	if unquoted := unquote(token); unquoted != token {
		return unquoted
	}

	switch token {
	case "python_version":
		return env.PythonVersion
	case "python_full_version":
		if env.PythonFullVersion != "" {
			return env.PythonFullVersion
		}

		return env.PythonVersion
	case "os_name":
		return env.OsName
	case "sys_platform":
		return env.SysPlatform
	case "platform_system":
		return env.PlatformSystem
	case "platform_machine":
		return env.PlatformMachine
	case "platform_release":
		return env.PlatformRelease
	case "implementation_name":
		return env.ImplementationName
	case "implementation_version":
		return env.ImplementationVer
	case "extra":
		return env.Extra
	default:
		// An unrecognized variable name evaluates as the empty string; a
		// bare number keeps its own text.
		if token[0] >= '0' && token[0] <= '9' {
			return token
		}

		return ""
	}
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}

	return s
}

func isVersionVariable(name string) bool {
	return name == "python_version" || name == "python_full_version"
}

func compareVersion(left, op, right string) bool {
	lv, err1 := pep440.Parse(left)
	rv, err2 := pep440.Parse(right)

	if err1 != nil || err2 != nil {
		return compareString(left, op, right)
	}

	cmp := lv.Compare(rv)

	switch op {
	case ">=":
		return cmp >= 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case "<":
		return cmp < 0
	case "==":
		return cmp == 0
	case "!=":
		return cmp != 0
	case "~=":
		return cmp >= 0
	default:
		return false
	}
}

func compareString(left, op, right string) bool {
	switch op {
	case "==":
		return left == right
	case "!=":
		return left != right
	case "in":
		return strings.Contains(right, left)
	case "not in":
		return !strings.Contains(right, left)
	default:
		return left == right
	}
}

// splitOutside splits a string on a separator, but only when the separator
// is not inside parentheses or quotes. Handles "and" / "or" splitting.
func splitOutside(s, sep string) []string {
	var parts []string

	depth := 0
	inQuote := byte(0)
	start := 0

	for i := 0; i < len(s); i++ {
		switch {
		case inQuote != 0:
			if s[i] == inQuote {
				inQuote = 0
			}
		case s[i] == '"' || s[i] == '\'':
			inQuote = s[i]
		case s[i] == '(':
			depth++
		case s[i] == ')':
			depth--
		case depth == 0 && i+len(sep) <= len(s) && s[i:i+len(sep)] == sep:
			parts = append(parts, s[start:i])
			start = i + len(sep)
			i += len(sep) - 1
		}
	}

	parts = append(parts, s[start:])

	return parts
}

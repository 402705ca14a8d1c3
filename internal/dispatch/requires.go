package dispatch

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// requiresLine matches a top-level `__requires__ = [...]` assignment.
// Per §6, it's a string literal list; names only, no constraints.
var requiresLine = regexp.MustCompile(`^__requires__\s*=\s*\[(.*)\]\s*$`)

var requireToken = regexp.MustCompile(`['"]([^'"]+)['"]`)

// ParseRequiresDirective scans path for a top-level __requires__ assignment
// and returns the listed package names. Returns nil (not an error) if the
// script has no such directive.
func ParseRequiresDirective(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		m := requiresLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		matches := requireToken.FindAllStringSubmatch(m[1], -1)

		names := make([]string, 0, len(matches))
		for _, tok := range matches {
			names = append(names, tok[1])
		}

		return names, nil
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}

	return nil, nil
}

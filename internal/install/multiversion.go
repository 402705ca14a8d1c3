package install

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// CanonicalImportName derives a distribution's default top-level import
// module from its PEP 503 canonical name: hyphens become underscores, the
// convention followed by single-top-level-package distributions.
func CanonicalImportName(canonicalName string) string {
	return strings.ReplaceAll(canonicalName, "-", "_")
}

// HasCompiledExtension reports whether any record entry is a compiled
// extension module. A renamed .so/.pyd still exports its original internal
// module name, so distributions like this have no textual rewrite path and
// must be refused for multi-version placement (§4.6, §9).
func HasCompiledExtension(entries []RecordEntry) bool {
	for _, e := range entries {
		if strings.HasSuffix(e.Path, ".so") || strings.HasSuffix(e.Path, ".pyd") {
			return true
		}
	}

	return false
}

// CompiledExtensionError reports that a non-primary distribution could not
// be placed under a multi-version alias because it ships compiled
// extensions.
type CompiledExtensionError struct {
	Name string
}

func (e *CompiledExtensionError) Error() string {
	return fmt.Sprintf("%s ships a compiled extension and cannot be installed under a multi-version alias", e.Name)
}

// RenameTopLevelPackage moves every record entry rooted at importName (a
// top-level package directory or a single-file module) under siteDir to
// alias, returning the updated entries for the caller to persist into
// RECORD. This is the on-disk half of multi-version coexistence (§4.3,
// §4.6): two distributions that both own a top-level "foo" end up on disk
// as "foo" and "foo_1_2_3" side by side in one site-packages directory.
//
// RenameTopLevelPackage refuses distributions shipping a compiled
// extension, returning a *CompiledExtensionError: a renamed .so/.pyd still
// exports its original internal module name, so there is no textual
// rewrite path for callers of it.
func RenameTopLevelPackage(siteDir, importName, alias string, entries []RecordEntry) ([]RecordEntry, error) {
	if importName == alias {
		return entries, nil
	}

	if HasCompiledExtension(entries) {
		return nil, &CompiledExtensionError{Name: importName}
	}

	dirPrefix := importName + "/"
	soleFile := importName + ".py"

	renamed := make([]RecordEntry, len(entries))

	for i, e := range entries {
		newPath := e.Path

		switch {
		case strings.HasPrefix(e.Path, dirPrefix):
			newPath = alias + "/" + strings.TrimPrefix(e.Path, dirPrefix)
		case e.Path == soleFile:
			newPath = alias + ".py"
		}

		if newPath != e.Path {
			src := filepath.Join(siteDir, e.Path)
			dst := filepath.Join(siteDir, newPath)

			if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
				return nil, fmt.Errorf("creating %s: %w", filepath.Dir(dst), err)
			}

			if err := os.Rename(src, dst); err != nil {
				return nil, fmt.Errorf("renaming %s to %s: %w", src, dst, err)
			}
		}

		renamed[i] = RecordEntry{Path: newPath, Hash: e.Hash, Size: e.Size}
	}

	if leftover := dirEntries(filepath.Join(siteDir, importName)); len(leftover) == 0 {
		_ = os.Remove(filepath.Join(siteDir, importName))
	}

	return renamed, nil
}

func dirEntries(dir string) []os.DirEntry {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	return entries
}

// RewriteImports walks every .py file under dir and rewrites top-level
// `import name` / `from name ...` occurrences to reference alias instead,
// per §4.6's textual rewrite rules for multi-version coexistence:
//
//	^(\s*)import (name)(\b)   -> \1import alias as name\3
//	^(\s*)from (name)(\.|\s)  -> \1from alias\3
//
// This is a textual pass applied to every .py file under dir, including
// comments and string literals (a deliberate limitation named in §9).
// Dynamic imports (importlib.import_module, __import__, string-built
// imports inside exec) are not touched.
func RewriteImports(dir, name, alias string) error {
	importPattern := regexp.MustCompile(`(?m)^(\s*)import (` + regexp.QuoteMeta(name) + `)(\b)`)
	fromPattern := regexp.MustCompile(`(?m)^(\s*)from (` + regexp.QuoteMeta(name) + `)([.\s])`)

	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || !strings.HasSuffix(path, ".py") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		rewritten := importPattern.ReplaceAll(data, []byte("${1}import "+alias+" as "+name+"${3}"))
		rewritten = fromPattern.ReplaceAll(rewritten, []byte("${1}from "+alias+"${3}"))

		if string(rewritten) == string(data) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		return os.WriteFile(path, rewritten, info.Mode())
	})
}

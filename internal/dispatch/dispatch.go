// Package dispatch resolves `pyflow <arg> [args...]` to one of the run
// modes described in §4.8 (component I): REPL, script file, per-script
// isolated environment, project-defined script, installed console script,
// or an unknown-command error.
package dispatch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Kind identifies which dispatch rule matched.
type Kind int

const (
	// KindREPL launches an interactive interpreter.
	KindREPL Kind = iota
	// KindScriptFile runs arg as a .py file directly.
	KindScriptFile
	// KindIsolatedScript runs `pyflow script <file>` in a per-script cached env.
	KindIsolatedScript
	// KindProjectScript runs a [tool.pyflow.scripts] entry.
	KindProjectScript
	// KindConsoleScript execs an installed console_scripts shim.
	KindConsoleScript
	// KindUnknown means none of the above matched.
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindREPL:
		return "repl"
	case KindScriptFile:
		return "script-file"
	case KindIsolatedScript:
		return "isolated-script"
	case KindProjectScript:
		return "project-script"
	case KindConsoleScript:
		return "console-script"
	default:
		return "unknown"
	}
}

// Decision is the result of resolving a command line.
type Decision struct {
	Kind Kind

	ScriptPath    string   // KindScriptFile, KindIsolatedScript
	ScriptHash    string   // KindIsolatedScript: hash of __requires__ for env caching
	ScriptRequires []string // KindIsolatedScript: parsed __requires__ names

	ProjectScript string // KindProjectScript: "module:function"

	ConsoleScriptPath string // KindConsoleScript: resolved executable path

	Args []string // remaining arguments to forward
}

// UnknownCommandError is returned when no dispatch rule matches, per §7.
type UnknownCommandError struct {
	Command string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command: %s", e.Command)
}

// Environment is the information dispatch needs about the active project to
// resolve a command, collected from internal/manifest and internal/interp.
type Environment struct {
	ProjectScripts map[string]string // [tool.pyflow.scripts]: name -> "module:function"
	BinDirs        []string          // directories holding installed console scripts (bin/ or Scripts/)
	FileExists     func(path string) bool
}

// Resolve implements the §4.8 decision table.
func Resolve(arg string, rest []string, env Environment) (Decision, error) {
	exists := env.FileExists
	if exists == nil {
		exists = defaultFileExists
	}

	if arg == "" {
		return Decision{Kind: KindREPL, Args: rest}, nil
	}

	if strings.HasSuffix(arg, ".py") && exists(arg) {
		return Decision{Kind: KindScriptFile, ScriptPath: arg, Args: rest}, nil
	}

	if arg == "script" && len(rest) > 0 {
		scriptPath := rest[0]

		requires, err := ParseRequiresDirective(scriptPath)
		if err != nil {
			return Decision{}, fmt.Errorf("reading __requires__ from %s: %w", scriptPath, err)
		}

		return Decision{
			Kind:           KindIsolatedScript,
			ScriptPath:     scriptPath,
			ScriptHash:     HashRequires(requires),
			ScriptRequires: requires,
			Args:           rest[1:],
		}, nil
	}

	if target, ok := env.ProjectScripts[arg]; ok {
		return Decision{Kind: KindProjectScript, ProjectScript: target, Args: rest}, nil
	}

	if path, ok := findConsoleScript(arg, env.BinDirs, exists); ok {
		return Decision{Kind: KindConsoleScript, ConsoleScriptPath: path, Args: rest}, nil
	}

	return Decision{}, &UnknownCommandError{Command: arg}
}

func findConsoleScript(name string, binDirs []string, exists func(string) bool) (string, bool) {
	candidates := []string{name, name + ".exe"}

	for _, dir := range binDirs {
		for _, c := range candidates {
			path := filepath.Join(dir, c)
			if exists(path) {
				return path, true
			}
		}
	}

	return "", false
}

func defaultFileExists(path string) bool {
	info, err := os.Stat(path)

	return err == nil && !info.IsDir()
}

// HashRequires computes a stable cache key for an isolated script
// environment from its sorted, deduplicated requirement names
// (§4.8: "keyed by a hash of the script's declared __requires__").
func HashRequires(requires []string) string {
	sorted := append([]string(nil), requires...)
	sortStrings(sorted)

	h := sha256.New()

	for i, r := range sorted {
		if i > 0 && r == sorted[i-1] {
			continue
		}

		h.Write([]byte(r))
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil))
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

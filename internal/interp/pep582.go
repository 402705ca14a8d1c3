package interp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// PackagesDirName is the PEP 582 local package directory pyflow installs
// into instead of a project-wide virtualenv.
const PackagesDirName = "__pypackages__"

// LocalEnvironment describes a PEP 582 install target rooted at a project
// directory: <project>/__pypackages__/<major.minor>/{lib,bin}.
type LocalEnvironment struct {
	Root         string // <project>/__pypackages__/<major.minor>
	SitePackages string // Root/lib
	BinDir       string // Root/bin (console scripts; Scripts on Windows)
	PythonPath   string
}

// PreparePEP582 creates the __pypackages__/<major.minor> layout under
// projectDir for the given interpreter, returning the resulting
// LocalEnvironment. pythonVersion is "major.minor" (e.g. "3.12").
func PreparePEP582(projectDir, pythonVersion, pythonPath string) (*LocalEnvironment, error) {
	root := filepath.Join(projectDir, PackagesDirName, pythonVersion)

	lib := filepath.Join(root, "lib")
	bin := filepath.Join(root, "bin")

	if runtime.GOOS == "windows" {
		bin = filepath.Join(root, "Scripts")
	}

	for _, dir := range []string{lib, bin} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	return &LocalEnvironment{
		Root:         root,
		SitePackages: lib,
		BinDir:       bin,
		PythonPath:   pythonPath,
	}, nil
}

// Environment adapts the local PEP 582 layout to the Environment shape the
// rest of the install pipeline (internal/install) expects.
func (e *LocalEnvironment) Environment() *Environment {
	return &Environment{
		PythonPath:   e.PythonPath,
		Prefix:       e.Root,
		SitePackages: e.SitePackages,
		IsVirtualEnv: true,
	}
}

// VenvCreator creates a conventional venv (used for the managed-interpreter
// path, where pyflow drives `python -m venv` rather than PEP 582 in-tree
// installs, e.g. when a project opts into an isolated venv).
type VenvCreator interface {
	Create(ctx context.Context, pythonPath, venvDir string) error
}

// StdlibVenvCreator shells out to `python -m venv`, the same mechanism
// CPython itself documents for creating virtual environments.
type StdlibVenvCreator struct {
	RunCmd CommandRunner
}

var _ VenvCreator = (*StdlibVenvCreator)(nil)

// Create runs `<pythonPath> -m venv <venvDir>`.
func (c *StdlibVenvCreator) Create(ctx context.Context, pythonPath, venvDir string) error {
	runCmd := c.RunCmd
	if runCmd == nil {
		runCmd = defaultRunCmd
	}

	if _, err := runCmd(ctx, pythonPath, "-m", "venv", venvDir); err != nil {
		return fmt.Errorf("creating venv at %s: %w", venvDir, err)
	}

	return nil
}

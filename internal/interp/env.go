package interp

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// pythonScript is the single Python command run against a project's chosen
// interpreter to learn the facts its PEP 582 tree needs: the compatibility
// tag for wheel selection (§4.4), the version segment the __pypackages__
// layout is keyed by (§4.7's "<major.minor>"), and the interpreter's own
// resolved executable path (a version constraint like "python3" on PATH
// may itself be a shim; sys.executable is the real binary pyflow records
// into console-script shebangs and RECORD).
const pythonScript = `import sys, site, sysconfig
print(sys.prefix)
print(site.getsitepackages()[0])
print(sysconfig.get_platform())
print(f'{sys.version_info.major}{sys.version_info.minor}')
print(sys.executable)`

// expectedOutputLines is the number of lines expected from pythonScript.
const expectedOutputLines = 5

// Detector defines the interface for probing a candidate interpreter.
type Detector interface {
	Detect(ctx context.Context) (*Environment, error)
}

// Environment describes where a project's dependencies live and which
// interpreter runs them. A freshly probed Environment reports the
// interpreter's own ambient Prefix/SitePackages; loadProjectContext
// overwrites those two fields with the PEP 582 tree's paths once
// PreparePEP582 has created it, so the installer (internal/install) only
// ever sees the project-local target, never the interpreter's own
// site-packages (§4.1's "never installs into the global or user site").
type Environment struct {
	PythonPath    string // resolved path to the interpreter binary
	Prefix        string // install prefix: __pypackages__/<major.minor> once set by PreparePEP582
	SitePackages  string // site-packages dir: __pypackages__/<major.minor>/lib once set by PreparePEP582
	PlatformTag   string // e.g., "macosx-14.0-arm64", used to match wheel compatibility tags
	PythonVersion string // e.g., "312", used to match wheel compatibility tags
	IsVirtualEnv  bool   // true once installs target a PEP 582 tree or a created venv, never the ambient interpreter
}

// CommandRunner executes a command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Option configures a Service.
type Option func(*Service)

// WithPythonBin sets the interpreter path to probe.
// Defaults to "python3"; callers resolving a project's interpreter
// (loadProjectContext) pass the specific candidate.Path chosen by
// interp.Best or a managed download instead of leaving this at the default.
func WithPythonBin(bin string) Option {
	return func(s *Service) {
		if bin != "" {
			s.pythonBin = bin
		}
	}
}

// WithCommandRunner sets the command runner for executing external processes.
// Defaults to exec.CommandContext.
func WithCommandRunner(fn CommandRunner) Option {
	return func(s *Service) {
		if fn != nil {
			s.runCmd = fn
		}
	}
}

// Service probes a single interpreter binary by shelling out to it.
type Service struct {
	pythonBin string
	runCmd    CommandRunner
}

// compile-time proof that Service implements Detector.
var _ Detector = (*Service)(nil)

// New creates a new interpreter probe.
func New(opts ...Option) *Service {
	s := &Service{
		pythonBin: "python3",
		runCmd:    defaultRunCmd,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Detect runs pythonBin to determine its prefix, site-packages path,
// platform tag, version, and resolved executable path. The caller owns
// deciding IsVirtualEnv: a bare probe doesn't yet know whether its result
// will back a PEP 582 tree, a created venv, or (in "switch --dry-run"-style
// inspection) just be reported as-is.
func (s *Service) Detect(ctx context.Context) (*Environment, error) {
	output, err := s.runCmd(ctx, s.pythonBin, "-c", pythonScript)
	if err != nil {
		return nil, fmt.Errorf("running %s: %w", s.pythonBin, err)
	}

	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) != expectedOutputLines {
		return nil, fmt.Errorf("unexpected output from %s: expected %d lines, got %d",
			s.pythonBin, expectedOutputLines, len(lines))
	}

	env := &Environment{
		Prefix:        strings.TrimSpace(lines[0]),
		SitePackages:  strings.TrimSpace(lines[1]),
		PlatformTag:   strings.TrimSpace(lines[2]),
		PythonVersion: strings.TrimSpace(lines[3]),
		PythonPath:    strings.TrimSpace(lines[4]),
	}

	return env, nil
}

// defaultRunCmd executes a command using exec.CommandContext.
func defaultRunCmd(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

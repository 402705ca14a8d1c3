package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// CommandRunner executes a command in dir and returns its combined
// stdout+stderr output.
type CommandRunner func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

// Builder turns an sdist into a wheel when the oracle offers no compatible
// pre-built wheel for the target interpreter tags. It shells out to a PEP
// 517 build frontend the way a developer would from the command line,
// rather than implementing the build backend protocol itself.
type Builder struct {
	runCmd CommandRunner
	logger *slog.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithBuilderCommandRunner overrides how build commands are executed.
func WithBuilderCommandRunner(fn CommandRunner) BuilderOption {
	return func(b *Builder) {
		if fn != nil {
			b.runCmd = fn
		}
	}
}

// WithBuilderLogger sets the builder's logger.
func WithBuilderLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBuilder constructs a Builder; the interpreter it shells out to is
// passed to each BuildWheel call.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		runCmd: defaultRunCmd,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// BuildWheel extracts an sdist tarball and invokes `python -m build --wheel
// --no-isolation` in the extracted source root (falling back to `setup.py
// bdist_wheel` if that command fails), returning the path to the produced
// wheel.
func (b *Builder) BuildWheel(ctx context.Context, pythonPath, sdistPath, workDir string) (string, error) {
	name := strings.TrimSuffix(filepath.Base(sdistPath), ".tar.gz")
	name = strings.TrimSuffix(name, ".tgz")

	extractDir := filepath.Join(workDir, name+"-src")
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return "", fmt.Errorf("creating build directory: %w", err)
	}

	if err := untarGzInto(sdistPath, extractDir); err != nil {
		return "", &MalformedArchiveError{Filename: sdistPath, Err: err}
	}

	srcRoot, err := singleChildDir(extractDir)
	if err != nil {
		return "", fmt.Errorf("locating sdist root in %s: %w", extractDir, err)
	}

	outDir := filepath.Join(workDir, name+"-dist")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("creating wheel output directory: %w", err)
	}

	out, buildErr := b.runCmd(ctx, srcRoot, pythonPath, "-m", "build", "--wheel", "--outdir", outDir, "--no-isolation")
	if buildErr != nil {
		out, buildErr = b.runCmd(ctx, srcRoot, pythonPath, "setup.py", "bdist_wheel", "--dist-dir", outDir)
	}

	if buildErr != nil {
		return "", &BuildFailedError{Package: name, Stderr: string(out), Err: buildErr}
	}

	wheel, err := findWheel(outDir)
	if err != nil {
		return "", &BuildFailedError{Package: name, Stderr: string(out), Err: err}
	}

	b.logger.Debug("built wheel from sdist", slog.String("sdist", sdistPath), slog.String("wheel", wheel))

	return wheel, nil
}

func findWheel(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("reading build output directory: %w", err)
	}

	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".whl") {
			return filepath.Join(dir, e.Name()), nil
		}
	}

	return "", fmt.Errorf("no .whl produced in %s", dir)
}

// singleChildDir returns the sole directory entry of dir. Sdist tarballs
// conventionally unpack to a single "{name}-{version}/" directory.
func singleChildDir(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	for _, e := range entries {
		if e.IsDir() {
			return filepath.Join(dir, e.Name()), nil
		}
	}

	return "", fmt.Errorf("no directory found in %s", dir)
}

func defaultRunCmd(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	return cmd.CombinedOutput()
}

// untarGzInto extracts a gzip-compressed tarball into destDir, guarding
// against zip-slip style path escapes.
func untarGzInto(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}

		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		target := filepath.Join(destDir, hdr.Name)

		if !pathInside(target, destDir) {
			return fmt.Errorf("tar entry %q escapes destination directory", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}

			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}

			if _, err := io.Copy(out, tr); err != nil {
				_ = out.Close()

				return err
			}

			if err := out.Close(); err != nil {
				return err
			}
		case tar.TypeSymlink:
			_ = os.Symlink(hdr.Linkname, target)
		}
	}
}

func pathInside(path, dir string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}

	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

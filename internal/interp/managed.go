package interp

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
)

// ManagedBuild describes one python-build-standalone style release that
// pyflow can fetch when no system interpreter satisfies a project's
// requirement (§4.7: "managed Python download+verify+unpack").
type ManagedBuild struct {
	Version string // "3.12.1"
	OS      string // runtime.GOOS value this build targets
	Arch    string // runtime.GOARCH value this build targets
	URL     string
	SHA256  string
}

// Matches reports whether b targets the running OS and architecture.
func (b ManagedBuild) Matches() bool {
	return b.OS == runtime.GOOS && b.Arch == runtime.GOARCH
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithHTTPClient sets the HTTP client used to fetch managed interpreter
// archives.
func WithHTTPClient(c *http.Client) ManagerOption {
	return func(m *Manager) {
		if c != nil {
			m.httpClient.HTTPClient = c
		}
	}
}

// WithManagerLogger sets the structured logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Manager downloads and unpacks managed Python interpreter builds into a
// base directory, one subdirectory per version (§4.7).
type Manager struct {
	baseDir    string
	httpClient *retryablehttp.Client
	logger     *slog.Logger
}

// NewManager creates a managed-interpreter installer rooted at baseDir
// (normally platformdirs.InterpretersDir()).
func NewManager(baseDir string, opts ...ManagerOption) *Manager {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.Logger = nil
	rc.HTTPClient = &http.Client{Transport: &http.Transport{Proxy: http.ProxyFromEnvironment}}

	m := &Manager{
		baseDir:    baseDir,
		httpClient: rc,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// InstallDir returns where build.Version would be (or is) unpacked.
func (m *Manager) InstallDir(build ManagedBuild) string {
	return filepath.Join(m.baseDir, build.Version)
}

// PythonPath returns the path to the python3 executable within an
// already-installed managed build's directory.
func (m *Manager) PythonPath(build ManagedBuild) string {
	dir := m.InstallDir(build)
	if runtime.GOOS == "windows" {
		return filepath.Join(dir, "python", "python.exe")
	}

	return filepath.Join(dir, "python", "bin", "python3")
}

// Ensure installs build if it isn't already present, verifying the
// downloaded archive's SHA-256 digest before unpacking. Returns the path to
// the installed interpreter's python executable.
func (m *Manager) Ensure(ctx context.Context, build ManagedBuild) (string, error) {
	pythonPath := m.PythonPath(build)

	if _, err := os.Stat(pythonPath); err == nil {
		return pythonPath, nil
	}

	if !build.Matches() {
		return "", fmt.Errorf("managed build %s targets %s/%s, not %s/%s",
			build.Version, build.OS, build.Arch, runtime.GOOS, runtime.GOARCH)
	}

	installDir := m.InstallDir(build)

	if err := os.MkdirAll(installDir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", installDir, err)
	}

	archivePath := filepath.Join(installDir, "download.tar.gz")

	if err := m.download(ctx, build, archivePath); err != nil {
		return "", err
	}

	defer func() { _ = os.Remove(archivePath) }()

	if err := untarGz(archivePath, installDir); err != nil {
		return "", fmt.Errorf("unpacking %s: %w", archivePath, err)
	}

	if _, err := os.Stat(pythonPath); err != nil {
		return "", fmt.Errorf("managed build %s did not produce expected python binary at %s", build.Version, pythonPath)
	}

	m.logger.Debug("installed managed python", slog.String("version", build.Version), slog.String("path", pythonPath))

	return pythonPath, nil
}

func (m *Manager) download(ctx context.Context, build ManagedBuild, destPath string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, build.URL, nil)
	if err != nil {
		return fmt.Errorf("creating request for %s: %w", build.URL, err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", build.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d downloading %s", resp.StatusCode, build.URL)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", destPath, err)
	}

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, h), resp.Body); err != nil {
		_ = f.Close()

		return fmt.Errorf("writing %s: %w", destPath, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", destPath, err)
	}

	if build.SHA256 != "" {
		got := hex.EncodeToString(h.Sum(nil))
		if got != build.SHA256 {
			_ = os.Remove(destPath)

			return fmt.Errorf("sha256 mismatch for managed python %s: expected %s, got %s", build.Version, build.SHA256, got)
		}
	}

	return nil
}

// untarGz extracts a gzip-compressed tarball into destDir, guarding against
// zip-slip style path escapes.
func untarGz(archivePath, destDir string) error {
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

		if !isInside(target, destDir) {
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

func isInside(path, dir string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}

	return absPath == absDir || len(absPath) > len(absDir) && absPath[:len(absDir)+1] == absDir+string(filepath.Separator)
}

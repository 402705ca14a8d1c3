package install

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bilusteknoloji/pyflow/internal/archive"
	"github.com/bilusteknoloji/pyflow/internal/interp"
)

// Installer defines the interface for installing downloaded wheel files.
type Installer interface {
	Install(ctx context.Context, downloads []archive.Result) error
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service handles extracting wheel files into site-packages.
type Service struct {
	env    *interp.Environment
	logger *slog.Logger
}

// compile-time proof that Service implements Installer.
var _ Installer = (*Service)(nil)

// New creates a new wheel installer targeting the given Python environment.
func New(env *interp.Environment, opts ...Option) *Service {
	s := &Service{
		env:    env,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Install extracts all downloaded wheel files into site-packages.
// It handles .data directories, writes RECORD and INSTALLER files,
// and sets executable permissions on scripts.
func (s *Service) Install(ctx context.Context, downloads []archive.Result) error {
	for _, dl := range downloads {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("installation canceled: %w", err)
		}

		if err := s.installWheel(dl); err != nil {
			return fmt.Errorf("installing %s: %w", dl.Name, err)
		}

		s.logger.Debug("installed", slog.String("package", dl.Name))
	}

	return nil
}

// installWheel extracts a single wheel file into site-packages.
//
// Every entry is first unpacked into a sibling staging directory and only
// moved into the live tree once the whole distribution has extracted and
// hashed cleanly (§4.6, §7 "Atomicity"): a failure partway through (a
// corrupt entry, a full disk) leaves lib/ untouched, since nothing has been
// renamed into place yet. The dist-info directory -- the thing a future run
// checks to decide whether a package is already installed -- is committed
// last, after every other file and the console scripts are already in
// place, so a crash mid-commit never leaves a dist-info directory for a
// package whose files aren't fully there.
func (s *Service) installWheel(dl archive.Result) error {
	r, err := zip.OpenReader(dl.FilePath)
	if err != nil {
		return fmt.Errorf("opening wheel %s: %w", dl.FilePath, err)
	}
	defer func() { _ = r.Close() }()

	siteDir := s.env.SitePackages
	dataSuffix := ".data/"

	stagingRoot, err := os.MkdirTemp(filepath.Dir(siteDir), ".pyflow-install-*")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(stagingRoot) }()

	stagedSite := filepath.Join(stagingRoot, "site")
	stagedBin := filepath.Join(stagingRoot, "scripts")
	stagedPrefix := filepath.Join(stagingRoot, "data")

	var records []RecordEntry
	var distInfoRelDir string

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}

		destPath, category := s.resolveDestination(f.Name, siteDir, dataSuffix)
		if destPath == "" {
			continue
		}

		// ZipSlip protection: ensure destination is within expected base.
		base := s.baseForCategory(category, siteDir)
		if !isInsideDir(destPath, base) {
			return fmt.Errorf("zip slip detected: %s resolves outside %s", f.Name, base)
		}

		stagedPath, err := stagedPathFor(category, destPath, siteDir, s.env.Prefix, stagedSite, stagedBin, stagedPrefix)
		if err != nil {
			return fmt.Errorf("staging path for %s: %w", f.Name, err)
		}

		if err := os.MkdirAll(filepath.Dir(stagedPath), 0o755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", f.Name, err)
		}

		if err := extractFile(f, stagedPath); err != nil {
			return fmt.Errorf("extracting %s: %w", f.Name, err)
		}

		// Make scripts executable.
		if category == categoryScripts {
			if err := os.Chmod(stagedPath, 0o755); err != nil {
				return fmt.Errorf("setting executable permission on %s: %w", f.Name, err)
			}
		}

		// Track dist-info directory.
		if strings.Contains(f.Name, ".dist-info/") {
			distInfoRelDir = strings.SplitN(f.Name, "/", 2)[0]
		}

		// Compute relative path from site-packages for RECORD.
		relPath, err := filepath.Rel(siteDir, destPath)
		if err != nil {
			relPath = f.Name
		}

		hash, size, err := HashFile(stagedPath)
		if err != nil {
			return fmt.Errorf("hashing %s: %w", f.Name, err)
		}

		records = append(records, RecordEntry{Path: relPath, Hash: hash, Size: size})
	}

	if distInfoRelDir == "" {
		return fmt.Errorf("no .dist-info directory found in %s", dl.FilePath)
	}

	stagedDistInfoDir := filepath.Join(stagedSite, distInfoRelDir)

	if err := WriteInstaller(stagedDistInfoDir); err != nil {
		return fmt.Errorf("writing INSTALLER: %w", err)
	}

	// Add INSTALLER to records.
	installerPath := filepath.Join(stagedDistInfoDir, "INSTALLER")

	hash, size, err := HashFile(installerPath)
	if err != nil {
		return fmt.Errorf("hashing INSTALLER: %w", err)
	}

	relInstaller := filepath.Join(distInfoRelDir, "INSTALLER")
	records = append(records, RecordEntry{Path: relInstaller, Hash: hash, Size: size})

	// Generate console_scripts from entry_points.txt, staged alongside
	// everything else.
	scriptRecords, err := InstallConsoleScripts(stagedDistInfoDir, stagedBin, s.env.PythonPath)
	if err != nil {
		return fmt.Errorf("installing console scripts: %w", err)
	}

	records = append(records, scriptRecords...)

	if err := WriteRecord(stagedDistInfoDir, records); err != nil {
		return fmt.Errorf("writing RECORD: %w", err)
	}

	// Move the dist-info directory aside so commitTree(stagedSite, siteDir)
	// below doesn't commit it along with everything else; it's committed
	// last, on its own, once every other file already landed.
	pendingDistInfo := filepath.Join(stagingRoot, "distinfo-commit")
	if err := os.Rename(stagedDistInfoDir, pendingDistInfo); err != nil {
		return fmt.Errorf("staging dist-info for commit: %w", err)
	}

	if err := commitTree(stagedSite, siteDir); err != nil {
		return fmt.Errorf("committing site-packages files: %w", err)
	}

	if err := commitTree(stagedBin, filepath.Join(s.env.Prefix, "bin")); err != nil {
		return fmt.Errorf("committing scripts: %w", err)
	}

	if err := commitTree(stagedPrefix, s.env.Prefix); err != nil {
		return fmt.Errorf("committing data files: %w", err)
	}

	finalDistInfoDir := filepath.Join(siteDir, distInfoRelDir)

	// Clear out any stale partial dist-info left by a previous failed
	// install attempt before committing the fresh one.
	if err := os.RemoveAll(finalDistInfoDir); err != nil {
		return fmt.Errorf("clearing %s: %w", finalDistInfoDir, err)
	}

	if err := os.Rename(pendingDistInfo, finalDistInfoDir); err != nil {
		return fmt.Errorf("committing dist-info: %w", err)
	}

	return nil
}

// stagedPathFor maps a wheel entry's final destination path to where it
// should be extracted within the staging tree, preserving the same
// relative layout it will have once committed.
func stagedPathFor(cat fileCategory, destPath, siteDir, prefix, stagedSite, stagedBin, stagedPrefix string) (string, error) {
	switch cat {
	case categoryScripts:
		rel, err := filepath.Rel(filepath.Join(prefix, "bin"), destPath)
		if err != nil {
			return "", err
		}

		return filepath.Join(stagedBin, rel), nil
	case categoryData:
		rel, err := filepath.Rel(prefix, destPath)
		if err != nil {
			return "", err
		}

		return filepath.Join(stagedPrefix, rel), nil
	default:
		rel, err := filepath.Rel(siteDir, destPath)
		if err != nil {
			return "", err
		}

		return filepath.Join(stagedSite, rel), nil
	}
}

// commitTree moves every regular file under src to the same relative path
// under dst, creating parent directories as needed. A missing src is a
// no-op: not every wheel populates every staging subtree.
func commitTree(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		target := filepath.Join(dst, rel)

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}

		return os.Rename(path, target)
	})
}

// Uninstall removes a previously installed distribution by its dist-info
// directory name (e.g. "flask-3.0.0.dist-info"), deleting every file listed
// in its RECORD and then the dist-info directory itself.
func (s *Service) Uninstall(distInfoName string) error {
	distInfoDir := filepath.Join(s.env.SitePackages, distInfoName)

	entries, err := ReadRecord(distInfoDir)
	if err != nil {
		return fmt.Errorf("reading RECORD for %s: %w", distInfoName, err)
	}

	for _, e := range entries {
		path := filepath.Join(s.env.SitePackages, e.Path)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Debug("failed removing file during uninstall",
				slog.String("path", path), slog.String("error", err.Error()))
		}
	}

	if err := os.RemoveAll(distInfoDir); err != nil {
		return fmt.Errorf("removing %s: %w", distInfoDir, err)
	}

	s.logger.Debug("uninstalled", slog.String("dist-info", distInfoName))

	return nil
}

// fileCategory describes where a wheel entry should be extracted.
type fileCategory int

const (
	categorySitePackages fileCategory = iota
	categoryScripts
	categoryData
	categorySkip
)

// resolveDestination determines the target path for a wheel entry.
// Wheel entries can be:
//   - Regular files → site-packages/
//   - .data/purelib/* → site-packages/
//   - .data/platlib/* → site-packages/
//   - .data/scripts/* → prefix/bin/
//   - .data/data/* → prefix/
//   - .data/headers/* → prefix/include/
func (s *Service) resolveDestination(name, siteDir, dataSuffix string) (string, fileCategory) {
	// Check if this is a .data directory entry.
	dataIdx := strings.Index(name, dataSuffix)
	if dataIdx == -1 {
		// Regular file → extract to site-packages.
		return filepath.Join(siteDir, name), categorySitePackages
	}

	// Extract the part after ".data/": e.g., "scripts/flask" or "purelib/flask/__init__.py"
	remainder := name[dataIdx+len(dataSuffix):]

	slashIdx := strings.Index(remainder, "/")
	if slashIdx == -1 {
		return "", categorySkip
	}

	subdir := remainder[:slashIdx]
	rest := remainder[slashIdx+1:]

	if rest == "" {
		return "", categorySkip
	}

	switch subdir {
	case "purelib", "platlib":
		return filepath.Join(siteDir, rest), categorySitePackages
	case "scripts":
		return filepath.Join(s.env.Prefix, "bin", rest), categoryScripts
	case "data":
		return filepath.Join(s.env.Prefix, rest), categoryData
	case "headers":
		return filepath.Join(s.env.Prefix, "include", rest), categoryData
	default:
		return "", categorySkip
	}
}

// baseForCategory returns the expected base directory for ZipSlip validation.
func (s *Service) baseForCategory(cat fileCategory, siteDir string) string {
	switch cat {
	case categorySitePackages:
		return siteDir
	case categoryScripts, categoryData:
		return s.env.Prefix
	default:
		return siteDir
	}
}

// extractFile extracts a single file from the zip archive.
func extractFile(f *zip.File, destPath string) error {
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening zip entry: %w", err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", destPath, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()

		return fmt.Errorf("writing %s: %w", destPath, err)
	}

	return dst.Close()
}

// isInsideDir checks that path is inside dir after making both absolute.
// Symlinks are not resolved.
func isInsideDir(path, dir string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}

	return strings.HasPrefix(absPath, absDir+string(filepath.Separator)) || absPath == absDir
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver"
	"github.com/spf13/cobra"

	"github.com/bilusteknoloji/pyflow/internal/archive"
	"github.com/bilusteknoloji/pyflow/internal/cache"
	"github.com/bilusteknoloji/pyflow/internal/dispatch"
	"github.com/bilusteknoloji/pyflow/internal/install"
	"github.com/bilusteknoloji/pyflow/internal/interp"
	"github.com/bilusteknoloji/pyflow/internal/lockfile"
	"github.com/bilusteknoloji/pyflow/internal/manifest"
	"github.com/bilusteknoloji/pyflow/internal/oracle"
	"github.com/bilusteknoloji/pyflow/internal/platformdirs"
	"github.com/bilusteknoloji/pyflow/internal/requirement"
	"github.com/bilusteknoloji/pyflow/internal/resolver"
	"github.com/bilusteknoloji/pyflow/internal/version"
)

var appVersion = "0.0.0"

const manifestName = "pyproject.toml"
const lockfileName = "pyflow.lock"

func main() {
	os.Exit(runMain())
}

// runMain executes the CLI and maps the returned error to the exit codes
// named in §7: 0 success, 1 user-fixable, 2 environment error, 3 integrity
// error.
func runMain() int {
	err := run()
	if err == nil {
		return 0
	}

	fmt.Fprintf(os.Stderr, "error: %v\n", err)

	if remedy := remedyFor(err); remedy != "" {
		fmt.Fprintf(os.Stderr, "  %s\n", remedy)
	}

	return exitCodeFor(err)
}

// remedyFor returns a one-line suggested next step for error kinds §7 names
// a recovery for, or "" when none applies.
func remedyFor(err error) string {
	var rpErr *resolver.RequiresPythonError
	if errors.As(err, &rpErr) {
		return fmt.Sprintf("run `pyflow switch` to select an interpreter satisfying %s", rpErr.Required)
	}

	return ""
}

func exitCodeFor(err error) int {
	var hashErr *archive.HashMismatchError
	var malformedErr *archive.MalformedArchiveError
	var buildErr *archive.BuildFailedError

	if errors.As(err, &hashErr) || errors.As(err, &malformedErr) || errors.As(err, &buildErr) {
		return 3
	}

	var netErr *archive.NetworkError
	var interpMissingErr *InterpreterMissingError
	var oracleErr *oracle.UnavailableError

	if errors.As(err, &netErr) || errors.As(err, &interpMissingErr) || errors.As(err, &oracleErr) {
		return 2
	}

	return 1
}

// InterpreterMissingError indicates no interpreter on PATH satisfied a
// project's py_version constraint and no managed build was available either.
type InterpreterMissingError struct {
	Constraint string
}

func (e *InterpreterMissingError) Error() string {
	return fmt.Sprintf("no Python interpreter satisfies %q and no managed build is configured for it", e.Constraint)
}

func run() error {
	rootCmd := &cobra.Command{
		Use:           "pyflow [script.py | command] [args...]",
		Short:         "A project-local Python package and interpreter manager",
		Long:          "pyflow manages a project's Python interpreter and dependencies in a PEP 582 __pypackages__ tree, without a system-wide install or an activated virtualenv.",
		Version:       appVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE:          runDispatch,
	}

	rootCmd.Flags().BoolP("verbose", "v", false, "Verbose output")

	installCmd := &cobra.Command{
		Use:   "install [packages...]",
		Short: "Resolve and install dependencies into __pypackages__",
		RunE:  runInstall,
	}
	installCmd.Flags().Bool("dev", false, "Install dev-dependencies too")
	installCmd.Flags().Bool("no-deps", false, "Skip transitive dependency resolution")
	installCmd.Flags().Bool("dry-run", false, "Show the install plan without downloading or installing")
	installCmd.Flags().BoolP("verbose", "v", false, "Verbose output")

	uninstallCmd := &cobra.Command{
		Use:   "uninstall [packages...]",
		Short: "Remove installed packages and update the lockfile",
		RunE:  runUninstall,
	}
	uninstallCmd.Flags().BoolP("verbose", "v", false, "Verbose output")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List locked package versions",
		RunE:  runList,
	}

	switchCmd := &cobra.Command{
		Use:   "switch [constraint]",
		Short: "Select the interpreter backing this project's __pypackages__",
		RunE:  runSwitch,
	}
	switchCmd.Flags().BoolP("verbose", "v", false, "Verbose output")

	scriptCmd := &cobra.Command{
		Use:   "script <file> [args...]",
		Short: "Run a script in its own isolated __requires__ environment",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runScript,
	}

	rootCmd.AddCommand(installCmd, uninstallCmd, listCmd, switchCmd, scriptCmd)

	for _, stub := range []string{"package", "publish", "new", "init", "reset", "clear"} {
		rootCmd.AddCommand(stubCommand(stub))
	}

	return rootCmd.Execute()
}

// stubCommand builds a minimal cobra.Command for a name listed in the CLI
// surface that this core does not implement (project scaffolding, registry
// publish, and similar collaborators live outside the resolver/installer
// core). It is still a recognized command, not an UnknownCommandError: the
// distinction matters for scripts that probe `pyflow <cmd> --help`.
func stubCommand(name string) *cobra.Command {
	return &cobra.Command{
		Use:                name,
		Short:              fmt.Sprintf("(not implemented by this core) %s", name),
		DisableFlagParsing: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return fmt.Errorf("%q is not implemented by the resolver/installer core; it belongs to an external collaborator", name)
		},
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// projectContext bundles everything the install/uninstall/script/switch
// commands need about the current project: its manifest, its selected
// interpreter, and the PEP 582 tree that interpreter installs into.
type projectContext struct {
	dir       string
	man       *manifest.Manifest
	localEnv  *interp.LocalEnvironment
	env       *interp.Environment
	markerEnv requirement.MarkerEnv
}

func loadProjectContext(ctx context.Context, logger *slog.Logger) (*projectContext, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}

	man, err := manifest.Load(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", manifestName, err)
	}

	candidate, err := selectInterpreter(ctx, man.PyVersion, logger)
	if err != nil {
		return nil, err
	}

	pyVersion := majorMinor(candidate.Version)

	localEnv, err := interp.PreparePEP582(dir, pyVersion, candidate.Path)
	if err != nil {
		return nil, fmt.Errorf("preparing __pypackages__: %w", err)
	}

	detector := interp.New(interp.WithPythonBin(candidate.Path))

	env, err := detector.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("inspecting interpreter %s: %w", candidate.Path, err)
	}

	env.SitePackages = localEnv.SitePackages
	env.Prefix = localEnv.Root
	env.IsVirtualEnv = true

	return &projectContext{
		dir:       dir,
		man:       man,
		localEnv:  localEnv,
		env:       env,
		markerEnv: buildMarkerEnv(env),
	}, nil
}

// selectInterpreter discovers interpreters on PATH, picks the best match for
// constraint, and falls back to downloading a managed build when nothing on
// PATH qualifies (§4.7, §7 "InterpreterMissing: auto-download if managed
// version is known").
func selectInterpreter(ctx context.Context, constraint string, logger *slog.Logger) (interp.Candidate, error) {
	candidates, err := interp.Discover(ctx, nil, os.Getenv("PATH"))
	if err != nil {
		return interp.Candidate{}, fmt.Errorf("discovering interpreters: %w", err)
	}

	best, err := interp.Best(candidates, constraint)
	if err == nil {
		return best, nil
	}

	logger.Debug("no interpreter on PATH satisfies constraint, trying a managed build", slog.String("constraint", constraint))

	build, ok := managedBuildFor(constraint)
	if !ok {
		return interp.Candidate{}, &InterpreterMissingError{Constraint: constraint}
	}

	mgr := interp.NewManager(platformdirs.InterpretersDir(), interp.WithManagerLogger(logger))

	pythonPath, err := mgr.Ensure(ctx, build)
	if err != nil {
		return interp.Candidate{}, fmt.Errorf("fetching managed Python %s: %w", build.Version, err)
	}

	return interp.Candidate{Path: pythonPath, Version: build.Version}, nil
}

// builtinMirror seeds the mirror index on a machine that has never
// downloaded a managed interpreter before. Its release tags use the
// python-build-standalone build-date suffix, a semver "build metadata"
// segment the index sorts on once multiple candidates match a constraint.
var builtinMirror = []interp.MirrorEntry{
	{
		Version: "3.12.3+20240415",
		OS:      "linux",
		Arch:    "amd64",
		URL:     "https://github.com/indygreg/python-build-standalone/releases/download/20240415/cpython-3.12.3%2B20240415-x86_64-unknown-linux-gnu-install_only.tar.gz",
	},
}

// mirrorIndexPath is where the managed-interpreter mirror manifest lives
// (§4.7, component H).
func mirrorIndexPath() string {
	return filepath.Join(platformdirs.DataDir(), "python-installs.yaml")
}

// managedBuildFor consults the mirror index for a prebuilt CPython archive
// satisfying constraint, seeding the index with pyflow's built-in pinned
// set on first use. Candidates are filtered by the PEP 440 constraint
// algebra against their release's base version, then the remaining
// candidates are ordered by semver (their build-date suffix breaks ties
// between releases of the same CPython version).
func managedBuildFor(constraint string) (interp.ManagedBuild, bool) {
	path := mirrorIndexPath()

	idx, err := interp.LoadMirrorIndex(path)
	if err != nil {
		idx = &interp.MirrorIndex{}
	}

	idx.Merge(builtinMirror...)
	_ = idx.Save(path)

	trimmed := strings.TrimSpace(constraint)

	var specifiers []string
	if trimmed != "" {
		specifiers = strings.Split(trimmed, ",")
		for i := range specifiers {
			specifiers[i] = strings.TrimSpace(specifiers[i])
		}
	}

	var best interp.MirrorEntry

	var bestSemver *semver.Version

	for _, e := range idx.Releases {
		build := e.ToManagedBuild()
		if !build.Matches() {
			continue
		}

		baseVersion, _, _ := strings.Cut(e.Version, "+")

		if len(specifiers) > 0 {
			ok, err := version.MatchesAll(baseVersion, specifiers)
			if err != nil || !ok {
				continue
			}
		}

		sv, err := semver.NewVersion(e.Version)
		if err != nil {
			continue
		}

		if bestSemver == nil || sv.GreaterThan(bestSemver) {
			best = e
			bestSemver = sv
		}
	}

	if bestSemver == nil {
		return interp.ManagedBuild{}, false
	}

	return best.ToManagedBuild(), true
}

func majorMinor(ver string) string {
	parts := strings.Split(ver, ".")
	if len(parts) < 2 {
		return ver
	}

	return parts[0] + "." + parts[1]
}

func buildMarkerEnv(env *interp.Environment) requirement.MarkerEnv {
	pyVer := majorMinor(formatPythonVersion(env.PythonVersion))

	var sysPlatform, osName string

	switch {
	case strings.HasPrefix(env.PlatformTag, "macosx"):
		sysPlatform, osName = "darwin", "posix"
	case strings.HasPrefix(env.PlatformTag, "win"):
		sysPlatform, osName = "win32", "nt"
	default:
		sysPlatform, osName = "linux", "posix"
	}

	return requirement.MarkerEnv{
		PythonVersion:      pyVer,
		PythonFullVersion:  formatPythonVersion(env.PythonVersion),
		OsName:             osName,
		SysPlatform:        sysPlatform,
		ImplementationName: "cpython",
		ImplementationVer:  formatPythonVersion(env.PythonVersion),
	}
}

// formatPythonVersion turns sysconfig's "312" into "3.12".
func formatPythonVersion(compact string) string {
	if len(compact) < 2 {
		return compact
	}

	return compact[:1] + "." + compact[1:]
}

func newOracleClient(logger *slog.Logger) oracle.Client {
	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
	}

	return oracle.New(oracle.WithHTTPClient(httpClient), oracle.WithLogger(logger))
}

// installFlags holds parsed CLI flags for the install command.
type installFlags struct {
	dev     bool
	noDeps  bool
	dryRun  bool
	verbose bool
}

func parseInstallFlags(cmd *cobra.Command) installFlags {
	dev, _ := cmd.Flags().GetBool("dev")
	noDeps, _ := cmd.Flags().GetBool("no-deps")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	verbose, _ := cmd.Flags().GetBool("verbose")

	return installFlags{dev, noDeps, dryRun, verbose}
}

func runInstall(cmd *cobra.Command, args []string) error {
	start := time.Now()
	flags := parseInstallFlags(cmd)
	logger := newLogger(flags.verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	proj, err := loadProjectContext(ctx, logger)
	if err != nil {
		return err
	}

	requirements := args
	if len(requirements) == 0 {
		requirements = manifest.DependencyStrings(proj.man.Dependencies)

		if flags.dev {
			requirements = append(requirements, manifest.DependencyStrings(proj.man.DevDependencies)...)
		}
	}

	if len(requirements) == 0 {
		return fmt.Errorf("no dependencies to install; add entries under [tool.pyflow.dependencies] or pass package names")
	}

	client := newOracleClient(logger)

	resolverSvc := resolver.New(client,
		resolver.WithNoDeps(flags.noDeps),
		resolver.WithMarkerEnv(proj.markerEnv),
		resolver.WithLogger(logger),
	)

	fmt.Println("Resolving dependencies...")

	resolved, err := resolverSvc.Resolve(ctx, requirements)
	if err != nil {
		return fmt.Errorf("resolving dependencies: %w", err)
	}

	lockPath := filepath.Join(proj.dir, lockfileName)

	existingLock, err := lockfile.Load(lockPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", lockfileName, err)
	}

	pinned, stale := lockfile.Reconcile(existingLock, requirements)
	logger.Debug("lockfile reconciled", slog.Int("pinned", len(pinned)), slog.Any("stale", stale))

	installedVersions := make(map[string]string, len(existingLock.Package))
	for _, pkg := range existingLock.Package {
		installedVersions[pkg.Name] = pkg.Version
	}

	desiredPins := make([]install.Pin, len(resolved))
	for i, pkg := range resolved {
		desiredPins[i] = install.Pin{Name: pkg.Name, Version: pkg.Version, DependsOn: pkg.Dependencies}
	}

	plan := install.Diff(installedVersions, desiredPins, nil)

	toInstall, err := install.TopoSort(append(append([]install.Pin{}, plan.ToInstall...), plan.ToReinstall...))
	if err != nil {
		return fmt.Errorf("ordering install plan: %w", err)
	}

	inst := install.New(proj.env, install.WithLogger(logger))

	for _, name := range plan.ToRemove {
		old, ok := existingLock.ByName()[name]
		if !ok {
			continue
		}

		if err := inst.Uninstall(old.Name + "-" + old.Version + ".dist-info"); err != nil {
			logger.Debug("removing superseded package failed", slog.String("package", name), slog.String("error", err.Error()))
		}
	}

	wanted := make(map[string]bool, len(toInstall))
	for _, p := range toInstall {
		wanted[p.Name] = true
	}

	toResolve := make([]resolver.ResolvedPackage, 0, len(toInstall))
	for _, pkg := range resolved {
		if wanted[pkg.Name] {
			toResolve = append(toResolve, pkg)
		}
	}

	compatTags := buildCompatTags(proj.env)

	plans, err := planDownloads(ctx, toResolve, client, compatTags)
	if err != nil {
		return err
	}

	if flags.dryRun {
		printDryRun(plans)

		return nil
	}

	var results []archive.Result

	if len(plans) == 0 {
		fmt.Println("Everything already installed, nothing to do.")
	} else {
		var tmpDir string

		results, tmpDir, err = downloadPlans(ctx, plans, proj.env.PythonPath, logger)
		if err != nil {
			return err
		}
		defer func() { _ = os.RemoveAll(tmpDir) }()

		printDownloadResults(results)

		fmt.Println("\nInstalling...")

		if err := inst.Install(ctx, results); err != nil {
			return fmt.Errorf("installing packages: %w", err)
		}
	}

	applyMultiVersionRewrites(proj.env, resolved, logger)

	hashes := make(map[string]string, len(resolved))
	sources := make(map[string]string, len(resolved))

	oldByName := existingLock.ByName()
	for _, pkg := range resolved {
		if old, ok := oldByName[pkg.Name]; ok && old.Version == pkg.Version {
			hashes[pkg.Name] = strings.TrimPrefix(old.Hash, "sha256:")
			sources[pkg.Name] = old.Source
		}
	}

	for _, p := range plans {
		hashes[p.pkg.Name] = p.url.Digests.SHA256
		sources[p.pkg.Name] = "pypi"
	}

	newLock := lockfile.FromResolved(resolved, hashes, sources)

	if err := lockfile.Save(lockPath, newLock); err != nil {
		return fmt.Errorf("writing %s: %w", lockfileName, err)
	}

	fmt.Printf("  %d packages installed\n", len(results))
	fmt.Printf("\nDone in %.1fs\n", time.Since(start).Seconds())

	return nil
}

type downloadPlan struct {
	pkg resolver.ResolvedPackage
	url oracle.URL
}

func planDownloads(ctx context.Context, resolved []resolver.ResolvedPackage, client oracle.Client, compatTags []archive.WheelTag) ([]downloadPlan, error) {
	var plans []downloadPlan

	for _, pkg := range resolved {
		urls, err := client.Wheels(ctx, pkg.Name, pkg.Version)
		if err != nil {
			return nil, fmt.Errorf("fetching URLs for %s %s: %w", pkg.Name, pkg.Version, err)
		}

		if sdist, err := client.Sdist(ctx, pkg.Name, pkg.Version); err == nil && sdist != nil {
			urls = append(urls, *sdist)
		}

		src, _, err := archive.SelectSource(urls, compatTags)
		if err != nil {
			return nil, fmt.Errorf("no installable source for %s %s: %w", pkg.Name, pkg.Version, err)
		}

		plans = append(plans, downloadPlan{pkg: pkg, url: src})
	}

	return plans, nil
}

func printDryRun(plans []downloadPlan) {
	fmt.Printf("\nWould download %d packages:\n", len(plans))

	for _, p := range plans {
		fmt.Printf("  %s\n", p.url.Filename)
	}

	fmt.Println("\nDry run, no changes made.")
}

func printDownloadResults(results []archive.Result) {
	for _, r := range results {
		suffix := ""
		if r.Cached {
			suffix = " (cached)"
		}

		fmt.Printf("  %s%s\n", filepath.Base(r.FilePath), suffix)
	}
}

// applyMultiVersionRewrites places every non-primary resolved package under
// its multi-version alias directory and rewrites the imports of anything
// that depends on it (§4.3, §4.6). It is idempotent: re-running against an
// already-aliased install is a no-op, since the rename only matches entries
// still under the canonical import name and the rewrite patterns only
// match un-rewritten import statements.
func applyMultiVersionRewrites(env *interp.Environment, resolved []resolver.ResolvedPackage, logger *slog.Logger) {
	siteDir := env.SitePackages

	aliasOf := make(map[string]string, len(resolved))

	for _, pkg := range resolved {
		if pkg.Primary {
			continue
		}

		importName := install.CanonicalImportName(pkg.Name)
		distInfoDir := filepath.Join(siteDir, pkg.Name+"-"+pkg.Version+".dist-info")

		entries, err := install.ReadRecord(distInfoDir)
		if err != nil {
			logger.Debug("reading RECORD for multi-version placement failed", slog.String("package", pkg.Name), slog.String("error", err.Error()))

			continue
		}

		renamed, err := install.RenameTopLevelPackage(siteDir, importName, pkg.InstalledName, entries)
		if err != nil {
			var compiledErr *install.CompiledExtensionError
			if errors.As(err, &compiledErr) {
				logger.Warn("skipping multi-version alias for distribution with compiled extensions",
					slog.String("package", pkg.Name), slog.String("version", pkg.Version))
			} else {
				logger.Warn("renaming multi-version package failed", slog.String("package", pkg.Name), slog.String("error", err.Error()))
			}

			continue
		}

		if err := install.WriteRecord(distInfoDir, renamed); err != nil {
			logger.Warn("rewriting RECORD after multi-version rename failed", slog.String("package", pkg.Name), slog.String("error", err.Error()))
		}

		aliasOf[importName] = pkg.InstalledName
	}

	if len(aliasOf) == 0 {
		return
	}

	for _, pkg := range resolved {
		depDir := filepath.Join(siteDir, install.CanonicalImportName(pkg.Name))
		if !pkg.Primary {
			depDir = filepath.Join(siteDir, pkg.InstalledName)
		}

		depSet := make(map[string]bool, len(pkg.Dependencies))
		for _, d := range pkg.Dependencies {
			depSet[d] = true
		}

		for canonicalImport, alias := range aliasOf {
			if !depSet[alias] {
				continue
			}

			if err := install.RewriteImports(depDir, canonicalImport, alias); err != nil {
				logger.Debug("rewriting imports to multi-version alias failed",
					slog.String("package", pkg.Name), slog.String("alias", alias), slog.String("error", err.Error()))
			}
		}
	}
}

func downloadPlans(ctx context.Context, plans []downloadPlan, pythonPath string, logger *slog.Logger) ([]archive.Result, string, error) {
	tmpDir, err := os.MkdirTemp("", "pyflow-downloads-*")
	if err != nil {
		return nil, "", fmt.Errorf("creating temp directory: %w", err)
	}

	requests := make([]archive.Request, len(plans))
	for i, p := range plans {
		requests[i] = archive.Request{
			Name:     p.pkg.Name,
			Version:  p.pkg.Version,
			URL:      p.url.URL,
			SHA256:   p.url.Digests.SHA256,
			Filename: p.url.Filename,
		}
	}

	fmt.Printf("\nDownloading %d packages...\n", len(requests))

	mgr := newArchiveManager(tmpDir, pythonPath, logger)

	results, err := mgr.Download(ctx, requests)
	if err != nil {
		_ = os.RemoveAll(tmpDir)

		return nil, "", fmt.Errorf("downloading packages: %w", err)
	}

	return results, tmpDir, nil
}

func newArchiveManager(tmpDir, pythonPath string, logger *slog.Logger) *archive.Manager {
	wheelCache, err := cache.New(cache.WithLogger(logger))
	if err != nil {
		logger.Debug("cache unavailable, continuing without cache", slog.String("error", err.Error()))
	}

	builder := archive.NewBuilder(archive.WithBuilderLogger(logger))

	opts := []archive.Option{
		archive.WithLogger(logger),
		archive.WithBuilder(builder, pythonPath),
	}

	if wheelCache != nil {
		opts = append(opts, archive.WithCache(wheelCache))
	}

	return archive.New(tmpDir, opts...)
}

// buildCompatTags generates PEP 425 compatible wheel tags ordered by
// priority, using the interpreter's own sysconfig platform/version report.
func buildCompatTags(env *interp.Environment) []archive.WheelTag {
	pyVer := env.PythonVersion
	platform := wheelPlatform(env.PlatformTag)
	cp := "cp" + pyVer
	pyMajor := "py" + pyVer[:1]

	return []archive.WheelTag{
		{Python: cp, ABI: cp, Platform: platform},
		{Python: cp, ABI: "abi3", Platform: platform},
		{Python: cp, ABI: "none", Platform: platform},
		{Python: pyMajor, ABI: "none", Platform: platform},
		{Python: cp, ABI: "none", Platform: "any"},
		{Python: pyMajor, ABI: "none", Platform: "any"},
	}
}

func wheelPlatform(sysTag string) string {
	s := strings.ReplaceAll(sysTag, "-", "_")

	return strings.ReplaceAll(s, ".", "_")
}

func runUninstall(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("uninstall requires at least one package name")
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := newLogger(verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	proj, err := loadProjectContext(ctx, logger)
	if err != nil {
		return err
	}

	lockPath := filepath.Join(proj.dir, lockfileName)

	lf, err := lockfile.Load(lockPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", lockfileName, err)
	}

	byName := lf.ByName()

	wanted := make(map[string]bool, len(args))
	for _, name := range args {
		wanted[requirement.NormalizeName(name)] = true
	}

	inst := install.New(proj.env, install.WithLogger(logger))

	removed := 0

	for name := range wanted {
		pkg, ok := byName[name]
		if !ok {
			fmt.Fprintf(os.Stderr, "warning: %s is not in %s, skipping\n", name, lockfileName)

			continue
		}

		distInfoName := pkg.Name + "-" + pkg.Version + ".dist-info"

		if err := inst.Uninstall(distInfoName); err != nil {
			return fmt.Errorf("uninstalling %s: %w", pkg.Name, err)
		}

		removed++
	}

	keep := make(map[string]bool)

	for _, pkg := range lf.Package {
		if !wanted[pkg.Name] {
			keep[pkg.Name] = true
		}
	}

	pruned := lockfile.Prune(lf, keep)
	if err := lockfile.Save(lockPath, pruned); err != nil {
		return fmt.Errorf("writing %s: %w", lockfileName, err)
	}

	fmt.Printf("  %d packages uninstalled\n", removed)

	return nil
}

func runList(_ *cobra.Command, _ []string) error {
	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	lf, err := lockfile.Load(filepath.Join(dir, lockfileName))
	if err != nil {
		return fmt.Errorf("reading %s: %w", lockfileName, err)
	}

	if len(lf.Package) == 0 {
		fmt.Println("No packages locked.")

		return nil
	}

	for _, pkg := range lf.Package {
		fmt.Printf("%-30s %s\n", pkg.Name, pkg.Version)
	}

	return nil
}

func runSwitch(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := newLogger(verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	constraint := ""
	if len(args) > 0 {
		constraint = args[0]
	}

	candidate, err := selectInterpreter(ctx, constraint, logger)
	if err != nil {
		return err
	}

	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting working directory: %w", err)
	}

	if _, err := interp.PreparePEP582(dir, majorMinor(candidate.Version), candidate.Path); err != nil {
		return fmt.Errorf("switching interpreter: %w", err)
	}

	fmt.Printf("Switched to Python %s (%s)\n", candidate.Version, candidate.Path)

	return nil
}

func runScript(_ *cobra.Command, args []string) error {
	scriptPath := args[0]
	rest := args[1:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := newLogger(false)

	decision, err := dispatch.Resolve("script", append([]string{scriptPath}, rest...), dispatch.Environment{})
	if err != nil {
		return err
	}

	proj, err := loadProjectContext(ctx, logger)
	if err != nil {
		return err
	}

	envDir := filepath.Join(platformdirs.DataDir(), "script-envs", decision.ScriptHash)

	localEnv, err := interp.PreparePEP582(envDir, majorMinor(formatPythonVersion(proj.env.PythonVersion)), proj.env.PythonPath)
	if err != nil {
		return fmt.Errorf("preparing isolated script environment: %w", err)
	}

	if len(decision.ScriptRequires) > 0 {
		client := newOracleClient(logger)

		resolverSvc := resolver.New(client, resolver.WithMarkerEnv(proj.markerEnv), resolver.WithLogger(logger))

		resolved, err := resolverSvc.Resolve(ctx, decision.ScriptRequires)
		if err != nil {
			return fmt.Errorf("resolving script requirements: %w", err)
		}

		compatTags := buildCompatTags(proj.env)

		plans, err := planDownloads(ctx, resolved, client, compatTags)
		if err != nil {
			return err
		}

		results, tmpDir, err := downloadPlans(ctx, plans, proj.env.PythonPath, logger)
		if err != nil {
			return err
		}
		defer func() { _ = os.RemoveAll(tmpDir) }()

		scriptEnv := localEnv.Environment()

		inst := install.New(scriptEnv, install.WithLogger(logger))
		if err := inst.Install(ctx, results); err != nil {
			return fmt.Errorf("installing script requirements: %w", err)
		}
	}

	return execPython(ctx, proj.env.PythonPath, append([]string{scriptPath}, rest...), localEnv.SitePackages)
}

func execPython(ctx context.Context, pythonPath string, args []string, sitePackages string) error {
	cmd := exec.CommandContext(ctx, pythonPath, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if sitePackages != "" {
		cmd.Env = append(os.Environ(), "PYTHONPATH="+sitePackages)
	}

	return cmd.Run()
}

// runDispatch implements §4.8's decision table for invocations that did not
// match a registered subcommand: `pyflow` alone launches a REPL, `pyflow
// file.py` runs a script, `pyflow <name>` falls through to a project script
// or an installed console script.
func runDispatch(_ *cobra.Command, args []string) error {
	var arg string

	var rest []string

	if len(args) > 0 {
		arg, rest = args[0], args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := newLogger(false)

	proj, projErr := loadProjectContext(ctx, logger)

	env := dispatch.Environment{}

	if projErr == nil {
		env.ProjectScripts = proj.man.Scripts
		env.BinDirs = []string{proj.localEnv.BinDir}
	}

	decision, err := dispatch.Resolve(arg, rest, env)
	if err != nil {
		return err
	}

	switch decision.Kind {
	case dispatch.KindREPL:
		if projErr != nil {
			return projErr
		}

		return execPython(ctx, proj.env.PythonPath, nil, proj.env.SitePackages)
	case dispatch.KindScriptFile:
		if projErr != nil {
			return projErr
		}

		return execPython(ctx, proj.env.PythonPath, append([]string{decision.ScriptPath}, decision.Args...), proj.env.SitePackages)
	case dispatch.KindIsolatedScript:
		return runScript(nil, append([]string{decision.ScriptPath}, decision.Args...))
	case dispatch.KindProjectScript:
		if projErr != nil {
			return projErr
		}

		parts := strings.SplitN(decision.ProjectScript, ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("malformed project script entry %q", decision.ProjectScript)
		}

		code := fmt.Sprintf("import sys; from %s import %s; sys.exit(%s())", parts[0], parts[1], parts[1])

		return execPython(ctx, proj.env.PythonPath, append([]string{"-c", code}, decision.Args...), proj.env.SitePackages)
	case dispatch.KindConsoleScript:
		cmd := exec.CommandContext(ctx, decision.ConsoleScriptPath, decision.Args...)
		cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr

		return cmd.Run()
	default:
		return &dispatch.UnknownCommandError{Command: arg}
	}
}

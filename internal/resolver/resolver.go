// Package resolver implements the dependency resolution algorithm
// (component D): a layered greedy walk of the requirement graph that fans
// out into coexisting installed versions when two requirement chains for
// the same package can't be satisfied by a single version.
package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bilusteknoloji/pyflow/internal/markers"
	"github.com/bilusteknoloji/pyflow/internal/oracle"
	"github.com/bilusteknoloji/pyflow/internal/requirement"
	"github.com/bilusteknoloji/pyflow/internal/version"
)

// Resolver defines the interface for resolving package dependencies.
type Resolver interface {
	Resolve(ctx context.Context, requirements []string) ([]ResolvedPackage, error)
}

// ResolvedPackage is one version of one package that the plan needs on disk.
// Name is the PEP 503 canonical name; InstalledName is what it's placed
// under in site-packages and how its imports are rewritten when more than
// one version of the same package must coexist (§4.3, §4.6).
type ResolvedPackage struct {
	Name          string
	InstalledName string
	Version       string
	Dependencies  []string // InstalledNames of direct dependencies
	Primary       bool     // true for the first variant resolved for Name
}

// Option configures a Service.
type Option func(*Service)

// WithNoDeps disables dependency resolution; only root packages are resolved.
func WithNoDeps(noDeps bool) Option {
	return func(s *Service) {
		s.noDeps = noDeps
	}
}

// WithMarkerEnv sets the environment for evaluating PEP 508 markers.
func WithMarkerEnv(env requirement.MarkerEnv) Option {
	return func(s *Service) {
		s.markerEnv = env
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service resolves package dependencies against an oracle.Client.
type Service struct {
	client    oracle.Client
	noDeps    bool
	markerEnv requirement.MarkerEnv
	logger    *slog.Logger
}

// compile-time proof that Service implements Resolver.
var _ Resolver = (*Service)(nil)

// New creates a new dependency resolver with the given oracle client.
func New(client oracle.Client, opts ...Option) *Service {
	s := &Service{
		client: client,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// variant is one resolved version of a package, accumulating every
// dependent's specifier so a later conflicting requirement can be detected.
type variant struct {
	version       string
	installedName string
	specifiers    []string
	deps          []string
}

// Resolve walks the requirement graph for the given root requirements.
// Each requirement is greedily resolved to the highest version that
// satisfies it at the moment it's seen; if a later requirement for the same
// package can't be satisfied by any already-chosen variant, a second
// variant is created under an aliased InstalledName so both can coexist on
// disk instead of failing the whole resolution (§4.3's fan-out rule).
func (s *Service) Resolve(ctx context.Context, requirements []string) ([]ResolvedPackage, error) {
	variants := make(map[string][]*variant)

	var resolve func(req requirement.Requirement, parent *variant) error

	resolve = func(req requirement.Requirement, parent *variant) error {
		if req.Marker != "" && !markers.Eval(req.Marker, s.markerEnv) {
			return nil
		}

		name := requirement.NormalizeName(req.Name)
		existing := variants[name]

		for _, v := range existing {
			ok, err := matchesSpecifier(v.version, req.Specifier)
			if err != nil {
				return fmt.Errorf("checking %s %s against %s: %w", name, req.Specifier, v.version, err)
			}

			if ok {
				v.specifiers = append(v.specifiers, req.Specifier)

				if parent != nil {
					parent.deps = appendUnique(parent.deps, v.installedName)
				}

				return nil
			}
		}

		s.logger.Debug("resolving package", slog.String("name", name), slog.String("specifier", req.Specifier))

		available, err := s.client.AvailableVersions(ctx, name)
		if err != nil {
			return fmt.Errorf("fetching available versions for %s: %w", name, err)
		}

		// Before forking a coexisting install, try to recompute the best
		// candidate for the intersection of an existing variant's
		// accumulated specifiers and this new one, and retarget that
		// variant to it. A single newer version satisfying every requirer
		// is preferred over installing two versions side by side (§4.3).
		for _, v := range existing {
			combined := make([]string, 0, len(v.specifiers)+1)
			combined = append(combined, v.specifiers...)
			combined = append(combined, req.Specifier)

			retarget, _, err := s.findBestSatisfyingPython(ctx, name, available, combined)
			if err != nil || retarget == "" {
				continue
			}

			s.logger.Debug("retargeting variant",
				slog.String("name", name),
				slog.String("from", v.version),
				slog.String("to", retarget),
			)

			v.version = retarget
			v.specifiers = combined

			if parent != nil {
				parent.deps = appendUnique(parent.deps, v.installedName)
			}

			if s.noDeps {
				return nil
			}

			deps, err := s.client.Dependencies(ctx, name, retarget)
			if err != nil {
				return fmt.Errorf("fetching dependencies for %s %s: %w", name, retarget, err)
			}

			for _, dep := range deps {
				if err := resolve(dep, v); err != nil {
					return err
				}
			}

			return nil
		}

		best, rejected, err := s.findBestSatisfyingPython(ctx, name, available, []string{req.Specifier})
		if err != nil {
			return fmt.Errorf("finding best version for %s: %w", name, err)
		}

		if best == "" {
			if rejected != nil {
				return newRequiresPythonError(name, rejected.version, rejected.required, s.activePythonVersion())
			}

			return newUnresolvableError(name, []string{req.Specifier})
		}

		installedName := name
		if len(variants[name]) > 0 {
			installedName = name + "__" + version.MustSlug(best)
		}

		s.logger.Debug("resolved version",
			slog.String("name", name),
			slog.String("installed_as", installedName),
			slog.String("version", best),
		)

		v := &variant{version: best, installedName: installedName, specifiers: []string{req.Specifier}}
		variants[name] = append(variants[name], v)

		if parent != nil {
			parent.deps = appendUnique(parent.deps, installedName)
		}

		if s.noDeps {
			return nil
		}

		deps, err := s.client.Dependencies(ctx, name, best)
		if err != nil {
			return fmt.Errorf("fetching dependencies for %s %s: %w", name, best, err)
		}

		for _, dep := range deps {
			if err := resolve(dep, v); err != nil {
				return err
			}
		}

		return nil
	}

	for _, r := range requirements {
		if err := resolve(requirement.ParseRequirement(r), nil); err != nil {
			return nil, err
		}
	}

	result := make([]ResolvedPackage, 0, len(variants))

	for name, vs := range variants {
		for i, v := range vs {
			result = append(result, ResolvedPackage{
				Name:          name,
				InstalledName: v.installedName,
				Version:       v.version,
				Dependencies:  v.deps,
				Primary:       i == 0,
			})
		}
	}

	return result, nil
}

func matchesSpecifier(versionStr, specifier string) (bool, error) {
	if specifier == "" {
		return true, nil
	}

	return version.MatchesAll(versionStr, []string{specifier})
}

// rejectedCandidate records the highest-ranked version a findBestSatisfyingPython
// call turned down solely for its requires_python constraint, so the caller
// can distinguish "nothing satisfies the specifier" from "something would,
// but not on this interpreter" (§4.3 step 2, §7's RequiresPython error kind).
type rejectedCandidate struct {
	version  string
	required string
}

// findBestSatisfyingPython picks the best version in available matching
// specifiers whose requires_python (if any) is satisfied by the active
// interpreter, walking down the ranked candidate list until one qualifies.
func (s *Service) findBestSatisfyingPython(ctx context.Context, name string, available, specifiers []string) (string, *rejectedCandidate, error) {
	pythonVersion := s.activePythonVersion()

	candidates := append([]string(nil), available...)

	var rejected *rejectedCandidate

	for {
		best, err := version.FindBest(candidates, specifiers)
		if err != nil {
			return "", nil, err
		}

		if best == "" {
			return "", rejected, nil
		}

		if pythonVersion == "" {
			return best, nil, nil
		}

		required, err := s.client.RequiresPython(ctx, name, best)
		if err != nil {
			return "", nil, fmt.Errorf("fetching requires_python for %s %s: %w", name, best, err)
		}

		if required == "" {
			return best, nil, nil
		}

		ok, err := version.MatchesAll(pythonVersion, []string{required})
		if err != nil {
			return "", nil, fmt.Errorf("checking requires_python %q for %s %s: %w", required, name, best, err)
		}

		if ok {
			return best, nil, nil
		}

		if rejected == nil {
			rejected = &rejectedCandidate{version: best, required: required}
		}

		candidates = removeVersion(candidates, best)
	}
}

// activePythonVersion returns the interpreter version to check
// requires_python against, preferring the full version when known.
func (s *Service) activePythonVersion() string {
	if s.markerEnv.PythonFullVersion != "" {
		return s.markerEnv.PythonFullVersion
	}

	return s.markerEnv.PythonVersion
}

func removeVersion(versions []string, target string) []string {
	out := make([]string, 0, len(versions))

	for _, v := range versions {
		if v != target {
			out = append(out, v)
		}
	}

	return out
}

func appendUnique(names []string, name string) []string {
	for _, n := range names {
		if n == name {
			return names
		}
	}

	return append(names, name)
}

package resolver_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bilusteknoloji/pyflow/internal/oracle"
	"github.com/bilusteknoloji/pyflow/internal/requirement"
	"github.com/bilusteknoloji/pyflow/internal/resolver"
)

// mockPackage is one package's version catalog and per-version requires_dist.
type mockPackage struct {
	versions       []string
	deps           map[string][]string
	requiresPython map[string]string
}

// mockClient implements oracle.Client for testing. Only AvailableVersions,
// Dependencies and RequiresPython are exercised by the resolver; the rest
// are unused here.
type mockClient struct {
	packages map[string]mockPackage
}

func (m *mockClient) GetPackage(_ context.Context, name string) (*oracle.PackageInfo, error) {
	return nil, fmt.Errorf("GetPackage not supported by mock: %s", name)
}

func (m *mockClient) GetPackageVersion(_ context.Context, name, version string) (*oracle.PackageInfo, error) {
	return nil, fmt.Errorf("GetPackageVersion not supported by mock: %s %s", name, version)
}

func (m *mockClient) AvailableVersions(_ context.Context, name string) ([]string, error) {
	p, ok := m.packages[name]
	if !ok {
		return nil, fmt.Errorf("package not found: %s", name)
	}

	return p.versions, nil
}

func (m *mockClient) Dependencies(_ context.Context, name, version string) ([]requirement.Requirement, error) {
	p, ok := m.packages[name]
	if !ok {
		return nil, fmt.Errorf("package not found: %s", name)
	}

	var reqs []requirement.Requirement

	for _, raw := range p.deps[version] {
		reqs = append(reqs, requirement.ParseRequirement(raw))
	}

	return reqs, nil
}

func (m *mockClient) RequiresPython(_ context.Context, name, version string) (string, error) {
	p, ok := m.packages[name]
	if !ok {
		return "", fmt.Errorf("package not found: %s", name)
	}

	return p.requiresPython[version], nil
}

func (m *mockClient) Wheels(_ context.Context, _, _ string) ([]oracle.URL, error) { return nil, nil }

func (m *mockClient) Sdist(_ context.Context, _, _ string) (*oracle.URL, error) { return nil, nil }

var _ oracle.Client = (*mockClient)(nil)

func pkg(versions ...string) mockPackage {
	return mockPackage{versions: versions, deps: map[string][]string{}}
}

func TestResolveSimplePackage(t *testing.T) {
	client := &mockClient{packages: map[string]mockPackage{
		"six": pkg("1.16.0", "1.17.0"),
	}}

	svc := resolver.New(client)

	result, err := svc.Resolve(context.Background(), []string{"six"})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if len(result) != 1 {
		t.Fatalf("expected 1 package, got %d", len(result))
	}

	if result[0].Name != "six" {
		t.Errorf("expected name %q, got %q", "six", result[0].Name)
	}

	if result[0].Version != "1.17.0" {
		t.Errorf("expected version %q, got %q", "1.17.0", result[0].Version)
	}

	if result[0].InstalledName != "six" {
		t.Errorf("expected installed name %q, got %q", "six", result[0].InstalledName)
	}
}

func TestResolveWithVersionConstraint(t *testing.T) {
	client := &mockClient{packages: map[string]mockPackage{
		"six": pkg("1.15.0", "1.16.0", "1.17.0"),
	}}

	svc := resolver.New(client)

	result, err := svc.Resolve(context.Background(), []string{"six<1.17"})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if len(result) != 1 {
		t.Fatalf("expected 1 package, got %d", len(result))
	}

	if result[0].Version != "1.16.0" {
		t.Errorf("expected version %q, got %q", "1.16.0", result[0].Version)
	}
}

func TestResolveWithDependencies(t *testing.T) {
	flask := pkg("3.0.0")
	flask.deps["3.0.0"] = []string{"werkzeug>=3.0.0", "jinja2>=3.1.2"}

	client := &mockClient{packages: map[string]mockPackage{
		"flask":    flask,
		"werkzeug": pkg("3.0.0", "3.0.1"),
		"jinja2":   pkg("3.1.2", "3.1.3"),
	}}

	svc := resolver.New(client)

	result, err := svc.Resolve(context.Background(), []string{"flask"})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if len(result) != 3 {
		t.Fatalf("expected 3 packages, got %d", len(result))
	}

	resolved := make(map[string]string)
	for _, p := range result {
		resolved[p.Name] = p.Version
	}

	if resolved["flask"] != "3.0.0" {
		t.Errorf("flask: expected %q, got %q", "3.0.0", resolved["flask"])
	}

	if resolved["werkzeug"] != "3.0.1" {
		t.Errorf("werkzeug: expected %q, got %q", "3.0.1", resolved["werkzeug"])
	}

	if resolved["jinja2"] != "3.1.3" {
		t.Errorf("jinja2: expected %q, got %q", "3.1.3", resolved["jinja2"])
	}
}

func TestResolveNoDeps(t *testing.T) {
	flask := pkg("3.0.0")
	flask.deps["3.0.0"] = []string{"werkzeug>=3.0.0"}

	client := &mockClient{packages: map[string]mockPackage{"flask": flask}}

	svc := resolver.New(client, resolver.WithNoDeps(true))

	result, err := svc.Resolve(context.Background(), []string{"flask"})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if len(result) != 1 {
		t.Fatalf("expected 1 package (no-deps), got %d", len(result))
	}

	if result[0].Name != "flask" {
		t.Errorf("expected %q, got %q", "flask", result[0].Name)
	}
}

func TestResolveSkipsMarkerMismatch(t *testing.T) {
	flask := pkg("3.0.0")
	flask.deps["3.0.0"] = []string{
		"werkzeug>=3.0.0",
		`importlib-metadata>=3.6.0; python_version < "3.10"`,
	}

	client := &mockClient{packages: map[string]mockPackage{
		"flask":    flask,
		"werkzeug": pkg("3.0.1"),
	}}

	env := requirement.MarkerEnv{PythonVersion: "3.12", SysPlatform: "linux", OsName: "posix"}
	svc := resolver.New(client, resolver.WithMarkerEnv(env))

	result, err := svc.Resolve(context.Background(), []string{"flask"})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	resolved := make(map[string]string)
	for _, p := range result {
		resolved[p.Name] = p.Version
	}

	if _, ok := resolved["importlib-metadata"]; ok {
		t.Error("importlib-metadata should be skipped for python 3.12")
	}

	if len(result) != 2 {
		t.Fatalf("expected 2 packages (flask + werkzeug), got %d", len(result))
	}
}

func TestResolveFansOutOnVersionConflict(t *testing.T) {
	a := pkg("1.0.0")
	a.deps["1.0.0"] = []string{"shared>=2.0"}

	b := pkg("1.0.0")
	b.deps["1.0.0"] = []string{"shared<2.0"}

	client := &mockClient{packages: map[string]mockPackage{
		"a":      a,
		"b":      b,
		"shared": pkg("1.0.0", "1.9.0", "2.0.0", "2.1.0"),
	}}

	svc := resolver.New(client)

	result, err := svc.Resolve(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	var sharedVariants []resolver.ResolvedPackage
	for _, p := range result {
		if p.Name == "shared" {
			sharedVariants = append(sharedVariants, p)
		}
	}

	if len(sharedVariants) != 2 {
		t.Fatalf("expected 2 coexisting variants of shared, got %d: %+v", len(sharedVariants), sharedVariants)
	}

	sawPrimary := false

	for _, v := range sharedVariants {
		if v.Primary {
			sawPrimary = true

			if v.InstalledName != "shared" {
				t.Errorf("primary variant InstalledName = %q, want %q", v.InstalledName, "shared")
			}
		} else if v.InstalledName == "shared" {
			t.Errorf("non-primary variant should have an aliased InstalledName, got %q", v.InstalledName)
		}
	}

	if !sawPrimary {
		t.Error("expected exactly one primary variant of shared")
	}
}

func TestResolveRetargetsInsteadOfFanningOutWhenOneVersionSatisfiesBoth(t *testing.T) {
	a := pkg("1.0.0")
	a.deps["1.0.0"] = []string{"shared>=2.0"}

	b := pkg("1.0.0")
	b.deps["1.0.0"] = []string{"shared<2.2"}

	client := &mockClient{packages: map[string]mockPackage{
		"a":      a,
		"b":      b,
		"shared": pkg("2.0.0", "2.1.0", "2.2.0"),
	}}

	svc := resolver.New(client)

	// "a" resolves shared to its own best match (2.2.0) first; "b"'s
	// conflicting upper bound should retarget that same variant down to
	// 2.1.0 rather than forking a second installed copy of shared.
	result, err := svc.Resolve(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	var sharedVariants []resolver.ResolvedPackage
	for _, p := range result {
		if p.Name == "shared" {
			sharedVariants = append(sharedVariants, p)
		}
	}

	if len(sharedVariants) != 1 {
		t.Fatalf("expected a single retargeted variant of shared, got %d: %+v", len(sharedVariants), sharedVariants)
	}

	if sharedVariants[0].Version != "2.1.0" {
		t.Errorf("expected retargeted version %q, got %q", "2.1.0", sharedVariants[0].Version)
	}

	if sharedVariants[0].InstalledName != "shared" {
		t.Errorf("expected retargeted variant to keep the canonical InstalledName, got %q", sharedVariants[0].InstalledName)
	}

	if !sharedVariants[0].Primary {
		t.Error("expected the retargeted variant to remain primary")
	}
}

func TestResolveSkipsVersionRequiringNewerPython(t *testing.T) {
	pkg1 := pkg("1.0.0", "2.0.0")
	pkg1.requiresPython = map[string]string{"2.0.0": ">=3.13"}

	client := &mockClient{packages: map[string]mockPackage{"pkg": pkg1}}

	env := requirement.MarkerEnv{PythonVersion: "3.12", PythonFullVersion: "3.12.3"}
	svc := resolver.New(client, resolver.WithMarkerEnv(env))

	result, err := svc.Resolve(context.Background(), []string{"pkg"})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if len(result) != 1 || result[0].Version != "1.0.0" {
		t.Fatalf("expected fallback to 1.0.0 (2.0.0 requires newer python), got %+v", result)
	}
}

func TestResolveReturnsRequiresPythonErrorWhenNoVersionQualifies(t *testing.T) {
	pkg1 := pkg("2.0.0")
	pkg1.requiresPython = map[string]string{"2.0.0": ">=3.13"}

	client := &mockClient{packages: map[string]mockPackage{"pkg": pkg1}}

	env := requirement.MarkerEnv{PythonVersion: "3.12", PythonFullVersion: "3.12.3"}
	svc := resolver.New(client, resolver.WithMarkerEnv(env))

	_, err := svc.Resolve(context.Background(), []string{"pkg"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var rpErr *resolver.RequiresPythonError
	if !errors.As(err, &rpErr) {
		t.Fatalf("expected *resolver.RequiresPythonError, got %T: %v", err, err)
	}

	if rpErr.Required != ">=3.13" {
		t.Errorf("Required = %q, want %q", rpErr.Required, ">=3.13")
	}

	if rpErr.Interpreter != "3.12.3" {
		t.Errorf("Interpreter = %q, want %q", rpErr.Interpreter, "3.12.3")
	}
}

func TestResolvePackageNotFound(t *testing.T) {
	client := &mockClient{packages: map[string]mockPackage{}}

	svc := resolver.New(client)

	_, err := svc.Resolve(context.Background(), []string{"nonexistent"})
	if err == nil {
		t.Fatal("expected error for non-existent package, got nil")
	}
}

func TestResolveNoCompatibleVersion(t *testing.T) {
	client := &mockClient{packages: map[string]mockPackage{
		"pkg": pkg("1.0.0"),
	}}

	svc := resolver.New(client)

	_, err := svc.Resolve(context.Background(), []string{"pkg>=5.0"})
	if err == nil {
		t.Fatal("expected error for no compatible version, got nil")
	}

	var unresolvable *resolver.UnresolvableError
	if !asUnresolvable(err, &unresolvable) {
		t.Errorf("expected *resolver.UnresolvableError, got %T: %v", err, err)
	}
}

func asUnresolvable(err error, target **resolver.UnresolvableError) bool {
	u, ok := err.(*resolver.UnresolvableError)
	if ok {
		*target = u
	}

	return ok
}

func TestResolveCircularDeps(t *testing.T) {
	a := pkg("1.0.0")
	a.deps["1.0.0"] = []string{"b>=1.0"}

	b := pkg("1.0.0")
	b.deps["1.0.0"] = []string{"a>=1.0"}

	client := &mockClient{packages: map[string]mockPackage{"a": a, "b": b}}

	svc := resolver.New(client)

	result, err := svc.Resolve(context.Background(), []string{"a"})
	if err != nil {
		t.Fatalf("Resolve() error on circular deps: %v", err)
	}

	if len(result) != 2 {
		t.Fatalf("expected 2 packages, got %d", len(result))
	}
}

func TestResolveMultipleRoots(t *testing.T) {
	client := &mockClient{packages: map[string]mockPackage{
		"requests": pkg("2.31.0"),
		"six":      pkg("1.17.0"),
	}}

	svc := resolver.New(client)

	result, err := svc.Resolve(context.Background(), []string{"requests", "six"})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	if len(result) != 2 {
		t.Fatalf("expected 2 packages, got %d", len(result))
	}
}

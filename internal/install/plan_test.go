package install_test

import (
	"testing"

	"github.com/bilusteknoloji/pyflow/internal/install"
)

func TestDiffInstallsMissingPackage(t *testing.T) {
	installed := map[string]string{}
	desired := []install.Pin{{Name: "requests", Version: "2.31.0"}}

	plan := install.Diff(installed, desired, nil)

	if len(plan.ToInstall) != 1 || plan.ToInstall[0].Name != "requests" {
		t.Errorf("ToInstall = %+v, want [requests]", plan.ToInstall)
	}

	if len(plan.ToReinstall) != 0 || len(plan.ToRemove) != 0 {
		t.Errorf("expected no reinstalls or removals, got %+v", plan)
	}
}

func TestDiffReinstallsChangedVersion(t *testing.T) {
	installed := map[string]string{"requests": "2.30.0"}
	desired := []install.Pin{{Name: "requests", Version: "2.31.0"}}

	plan := install.Diff(installed, desired, nil)

	if len(plan.ToReinstall) != 1 || plan.ToReinstall[0].Version != "2.31.0" {
		t.Errorf("ToReinstall = %+v, want [requests 2.31.0]", plan.ToReinstall)
	}
}

func TestDiffSkipsUnchangedPackage(t *testing.T) {
	installed := map[string]string{"requests": "2.31.0"}
	desired := []install.Pin{{Name: "requests", Version: "2.31.0"}}

	plan := install.Diff(installed, desired, nil)

	if len(plan.ToInstall) != 0 || len(plan.ToReinstall) != 0 {
		t.Errorf("expected untouched package, got %+v", plan)
	}
}

func TestDiffReinstallsDirtyPackage(t *testing.T) {
	installed := map[string]string{"requests": "2.31.0"}
	desired := []install.Pin{{Name: "requests", Version: "2.31.0"}}
	dirty := map[string]bool{"requests": true}

	plan := install.Diff(installed, desired, dirty)

	if len(plan.ToReinstall) != 1 || plan.ToReinstall[0].Name != "requests" {
		t.Errorf("ToReinstall = %+v, want [requests]", plan.ToReinstall)
	}
}

func TestDiffRemovesPackageNotInDesired(t *testing.T) {
	installed := map[string]string{"requests": "2.31.0", "stale": "1.0.0"}
	desired := []install.Pin{{Name: "requests", Version: "2.31.0"}}

	plan := install.Diff(installed, desired, nil)

	if len(plan.ToRemove) != 1 || plan.ToRemove[0] != "stale" {
		t.Errorf("ToRemove = %+v, want [stale]", plan.ToRemove)
	}
}

func TestTopoSortOrdersDependenciesFirst(t *testing.T) {
	pins := []install.Pin{
		{Name: "app", DependsOn: []string{"lib"}},
		{Name: "lib", DependsOn: []string{"core"}},
		{Name: "core"},
	}

	ordered, err := install.TopoSort(pins)
	if err != nil {
		t.Fatalf("TopoSort() error: %v", err)
	}

	pos := make(map[string]int, len(ordered))
	for i, p := range ordered {
		pos[p.Name] = i
	}

	if pos["core"] > pos["lib"] || pos["lib"] > pos["app"] {
		t.Errorf("expected core before lib before app, got order %+v", ordered)
	}
}

func TestTopoSortIgnoresDependencyOutsidePinSet(t *testing.T) {
	pins := []install.Pin{
		{Name: "app", DependsOn: []string{"already-installed"}},
	}

	ordered, err := install.TopoSort(pins)
	if err != nil {
		t.Fatalf("TopoSort() error: %v", err)
	}

	if len(ordered) != 1 || ordered[0].Name != "app" {
		t.Errorf("ordered = %+v, want [app]", ordered)
	}
}

func TestTopoSortDetectsCycle(t *testing.T) {
	pins := []install.Pin{
		{Name: "a", DependsOn: []string{"b"}},
		{Name: "b", DependsOn: []string{"a"}},
	}

	if _, err := install.TopoSort(pins); err == nil {
		t.Error("expected error for dependency cycle")
	}
}

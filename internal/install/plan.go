package install

import "fmt"

// Pin identifies a single resolved package at a specific version, the unit
// the planner diffs and orders (component G).
type Pin struct {
	Name    string
	Version string
	// DependsOn lists the names (already normalized) of packages that must
	// be installed before this one, used for topological ordering.
	DependsOn []string
}

// Plan is the result of diffing a desired set of pins against what is
// currently installed.
type Plan struct {
	ToInstall   []Pin // not installed
	ToReinstall []Pin // installed at a different version, or at the right version but flagged dirty
	ToRemove    []string
}

// Diff computes the install plan for moving from `installed` to `desired`.
// A package present in both but at a different version is staged as a
// reinstall (ToReinstall), the same set as a package at the right version
// that dirty flags; ToInstall holds only packages not installed at all.
func Diff(installed map[string]string, desired []Pin, dirty map[string]bool) Plan {
	var plan Plan

	desiredNames := make(map[string]bool, len(desired))

	for _, p := range desired {
		desiredNames[p.Name] = true

		current, ok := installed[p.Name]
		switch {
		case !ok:
			plan.ToInstall = append(plan.ToInstall, p)
		case current != p.Version:
			plan.ToReinstall = append(plan.ToReinstall, p)
		case dirty[p.Name]:
			plan.ToReinstall = append(plan.ToReinstall, p)
		}
	}

	for name := range installed {
		if !desiredNames[name] {
			plan.ToRemove = append(plan.ToRemove, name)
		}
	}

	return plan
}

// TopoSort orders pins so that every dependency precedes its dependents.
// Returns an error naming the cycle if one exists (a resolver bug, since a
// valid resolution is acyclic by construction).
func TopoSort(pins []Pin) ([]Pin, error) {
	byName := make(map[string]Pin, len(pins))
	for _, p := range pins {
		byName[p.Name] = p
	}

	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)

	state := make(map[string]int, len(pins))
	order := make([]Pin, 0, len(pins))

	var visit func(name string, stack []string) error

	visit = func(name string, stack []string) error {
		switch state[name] {
		case visited:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle detected: %v -> %s", stack, name)
		}

		state[name] = visiting

		p, ok := byName[name]
		if !ok {
			// Dependency outside the pin set (already installed, or an
			// extra not part of this plan); nothing to order.
			state[name] = visited

			return nil
		}

		for _, dep := range p.DependsOn {
			if err := visit(dep, append(stack, name)); err != nil {
				return err
			}
		}

		state[name] = visited
		order = append(order, p)

		return nil
	}

	for _, p := range pins {
		if err := visit(p.Name, nil); err != nil {
			return nil, err
		}
	}

	return order, nil
}

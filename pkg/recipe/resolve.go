package recipe

import (
	"github.com/OpenAssetIO/conan-center-index/pkg/graph"
)

// Resolved contains the lockfile entries for every requirement of the recipe
type Resolved struct {
	Tested       *graph.Package
	Requirements []Requirement
	// Requires is in declaration order and includes the tested package
	Requires     []*graph.Package
	ToolRequires []*graph.Package
}

// Resolve looks up the tested package first (its options decide the remaining requirements)
// and then every declared requirement. Any missing package is fatal.
func (r *Recipe) Resolve(lock *graph.Lockfile) (*Resolved, error) {
	tested, err := lock.Resolve(r.Tested)
	if err != nil {
		return nil, err
	}

	result := &Resolved{
		Tested:       tested,
		Requirements: r.Requirements(tested.Options),
	}

	refs := make([]graph.Reference, len(result.Requirements))
	for idx, req := range result.Requirements {
		refs[idx] = req.Ref
	}

	pkgs, err := lock.ResolveAll(refs)
	if err != nil {
		return nil, err
	}

	for idx, req := range result.Requirements {
		if req.Kind == ToolRequires {
			result.ToolRequires = append(result.ToolRequires, pkgs[idx])
		} else {
			result.Requires = append(result.Requires, pkgs[idx])
		}
	}

	return result, nil
}

// Dependency returns the resolved host dependency with the given name or nil
func (r *Resolved) Dependency(name string) *graph.Package {
	for _, pkg := range r.Requires {
		if pkg.Name() == name {
			return pkg
		}
	}
	return nil
}

// All returns every resolved package, tool requirements first
func (r *Resolved) All() []*graph.Package {
	result := make([]*graph.Package, 0, len(r.Requires)+len(r.ToolRequires))
	result = append(result, r.ToolRequires...)
	return append(result, r.Requires...)
}

// ToolDirs returns the binary directories of the tool requirements in declaration order
func (r *Resolved) ToolDirs() []string {
	var result []string
	for _, pkg := range r.ToolRequires {
		comp := pkg.CppInfo.Component.WithDefaults()
		result = append(result, graph.Dirs(pkg.PackageFolder, comp.BinDirs)...)
	}
	return result
}

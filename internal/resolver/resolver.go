// Package resolver computes the full set of foreign and native packages
// needed to build a requested set of foreign packages, and the deps-first
// order to build them in.
package resolver

import (
	"context"

	"github.com/kiviktnm/aurforge/internal/aerr"
	"github.com/kiviktnm/aurforge/internal/depgraph"
	"github.com/kiviktnm/aurforge/internal/logger"
	"github.com/kiviktnm/aurforge/internal/pkginfo"
	"github.com/kiviktnm/aurforge/internal/search"
)

// Searcher is the subset of *search.Client the resolver depends on.
type Searcher interface {
	TryCaching(ctx context.Context, names []string) error
	Get(ctx context.Context, name string) (*pkginfo.PackageInfo, error)
	FindProvider(ctx context.Context, strippedDep string) (*pkginfo.PackageInfo, error)
}

var _ Searcher = (*search.Client)(nil)

// Result is the full output of a resolve: what to install from native
// repositories as dependencies, the classified sets of foreign packages,
// the deps-first build order, and the bidirectional pkgbase/pkgname map.
type Result struct {
	PacmanDeps        map[string]struct{}
	ForeignPkgs       map[string]struct{}
	ForeignDepPkgs    map[string]struct{}
	ForeignBuildDepPkgs map[string]struct{}
	BuildOrder        []*depgraph.ForeignPackage
	PkgbaseToPkgnames map[string][]string
	PkgnameToPkgbase  map[string]string
}

func newResult() *Result {
	return &Result{
		PacmanDeps:          make(map[string]struct{}),
		ForeignPkgs:         make(map[string]struct{}),
		ForeignDepPkgs:      make(map[string]struct{}),
		ForeignBuildDepPkgs: make(map[string]struct{}),
		PkgbaseToPkgnames:   make(map[string][]string),
		PkgnameToPkgbase:    make(map[string]string),
	}
}

func addAll(dst map[string]struct{}, items []string) {
	for _, item := range items {
		dst[item] = struct{}{}
	}
}

// Resolve resolves explicit (packages the caller wants installed directly)
// and alreadyDep (packages already known to be dependencies of something
// else) into a full Result. It matches the reference resolver's worklist +
// repeated-drain shape (the worklist is taken from its end, depth-first):
// search.TryCaching is called up front for the whole worklist, every
// foreign dependency is looked up via FindProvider
// and wired into a depgraph.DepGraph, and the build order falls out of
// repeatedly draining the graph's childless nodes.
func Resolve(
	ctx context.Context,
	explicit, alreadyDep []string,
	searcher Searcher,
	native pkginfo.NativeCapability,
) (*Result, error) {
	result := newResult()
	addAll(result.ForeignPkgs, explicit)
	addAll(result.ForeignDepPkgs, alreadyDep)

	graph := depgraph.New()

	all := append(append([]string{}, explicit...), alreadyDep...)
	for _, name := range all {
		if err := graph.AddRequirement(name, nil); err != nil {
			return nil, err
		}
	}

	seen := make(map[string]struct{}, len(all))
	worklist := make([]string, 0, len(all))

	for _, name := range all {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			worklist = append(worklist, name)
		}
	}

	if err := searcher.TryCaching(ctx, worklist); err != nil {
		return nil, err
	}

	processed := 0

	for len(worklist) > 0 {
		name := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		info, err := searcher.Get(ctx, name)
		if err != nil {
			return nil, aerr.Wrapf(err, aerr.KindNotFound,
				"failed to find %q from AUR or user provided packages", name)
		}

		addAll(result.PacmanDeps, info.NativeRuntimeDeps(native))
		result.PkgbaseToPkgnames[info.PkgBase] = append(result.PkgbaseToPkgnames[info.PkgBase], info.PkgName)
		result.PkgnameToPkgbase[info.PkgName] = info.PkgBase

		runtimeForeign := info.ForeignRuntimeDeps(native)
		buildForeign := info.AllForeignBuildDependenciesStripped(native)

		if err := searcher.TryCaching(ctx, append(append([]string{}, runtimeForeign...), buildForeign...)); err != nil {
			return nil, err
		}

		for _, dep := range runtimeForeign {
			depInfo, err := searcher.FindProvider(ctx, dep)
			if err != nil {
				return nil, aerr.Wrapf(err, aerr.KindNotFound,
					"failed to find %q from AUR or user provided packages", dep)
			}

			logger.Debug("adding foreign dependency", "child", depInfo.PkgName, "parent", name)

			if err := graph.AddRequirement(depInfo.PkgName, &name); err != nil {
				return nil, err
			}

			result.ForeignDepPkgs[depInfo.PkgName] = struct{}{}

			if _, ok := seen[depInfo.PkgName]; !ok {
				seen[depInfo.PkgName] = struct{}{}
				worklist = append(worklist, depInfo.PkgName)
			}
		}

		for _, dep := range buildForeign {
			depInfo, err := searcher.FindProvider(ctx, dep)
			if err != nil {
				return nil, aerr.Wrapf(err, aerr.KindNotFound,
					"failed to find %q from AUR or user provided packages", dep)
			}

			if err := graph.AddRequirement(depInfo.PkgName, &name); err != nil {
				return nil, err
			}

			result.ForeignBuildDepPkgs[depInfo.PkgName] = struct{}{}

			if _, ok := seen[depInfo.PkgName]; !ok {
				seen[depInfo.PkgName] = struct{}{}
				worklist = append(worklist, depInfo.PkgName)
			}
		}

		processed++
		logger.Debug("resolved package", "progress", processed, "total", len(seen))
	}

	for {
		batch := graph.DrainOuter()
		if len(batch) == 0 {
			break
		}

		result.BuildOrder = append(result.BuildOrder, batch...)
	}

	return result, nil
}

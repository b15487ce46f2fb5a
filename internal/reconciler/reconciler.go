// Package reconciler implements the top-level apply: bringing the host's
// installed foreign (AUR/custom) packages in line with a desired set,
// including removal/demotion of what's no longer wanted, version-driven
// upgrades, and installation of what's missing.
package reconciler

import (
	"context"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kiviktnm/aurforge/internal/aerr"
	"github.com/kiviktnm/aurforge/internal/builder"
	"github.com/kiviktnm/aurforge/internal/cache"
	"github.com/kiviktnm/aurforge/internal/config"
	"github.com/kiviktnm/aurforge/internal/depgraph"
	"github.com/kiviktnm/aurforge/internal/logger"
	"github.com/kiviktnm/aurforge/internal/native"
	"github.com/kiviktnm/aurforge/internal/pkginfo"
	"github.com/kiviktnm/aurforge/internal/resolver"
	"github.com/kiviktnm/aurforge/internal/search"
	"github.com/kiviktnm/aurforge/internal/store"
)

var _ NativeCapability = (*native.Manager)(nil)

// NativeCapability is everything the Reconciler needs from the native
// package manager: the dependency-classification oracle plus the
// transactional operations (installed-set queries, install/remove/mark,
// dependants lookup for demotion).
type NativeCapability interface {
	pkginfo.NativeCapability

	InstalledNativeExplicit(ctx context.Context) (map[string]struct{}, error)
	InstalledForeignExplicit(ctx context.Context) (map[string]struct{}, error)
	InstalledForeignVersions(ctx context.Context) (map[string]string, error)
	ForeignOrphans(ctx context.Context) (map[string]struct{}, error)
	GetDependants(ctx context.Context, pkg string) (map[string]struct{}, error)

	InstallDependencies(ctx context.Context, pkgs []string) error
	InstallFiles(ctx context.Context, files []string) error
	Remove(ctx context.Context, pkgs []string) error
	SetAsDependencies(ctx context.Context, pkgs []string) error
	MarkExplicit(ctx context.Context, pkgs []string) error
}

// Desired is the reconciliation target: every foreign package that should
// end up installed, every hand-maintained custom package (carrying its
// own git/local PKGBUILD source), and the set of names exempt from
// removal/upgrade bookkeeping entirely.
type Desired struct {
	ForeignPkgs    []string
	CustomPackages []*pkginfo.PackageInfo
	Ignored        map[string]struct{}
}

// Flags are the per-run behavioral switches.
type Flags struct {
	UpgradeDevel bool
	Force        bool
	DryRun       bool
}

// Reconciler ties the store, searcher, and native capability together to
// perform one full Apply.
type Reconciler struct {
	Store  *store.Store
	Search *search.Client
	Native NativeCapability
	Cfg    *config.Config
	Prompt builder.Prompter
}

func setOf(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, item := range items {
		out[item] = struct{}{}
	}

	return out
}

func union(sets ...map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for _, s := range sets {
		for k := range s {
			out[k] = struct{}{}
		}
	}

	return out
}

func difference(base map[string]struct{}, subtract ...map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(base))

	for k := range base {
		out[k] = struct{}{}
	}

	for _, s := range subtract {
		for k := range s {
			delete(out, k)
		}
	}

	return out
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for k := range a {
		if _, ok := b[k]; ok {
			out[k] = struct{}{}
		}
	}

	return out
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}

func anyIn(items, set map[string]struct{}) bool {
	for item := range items {
		if _, ok := set[item]; ok {
			return true
		}
	}

	return false
}

// Apply implements the top-level reconciliation: remove what's unwanted
// (demoting rather than removing anything still depended on), upgrade
// what's stale, and install what's missing.
func (r *Reconciler) Apply(ctx context.Context, desired Desired, flags Flags) error {
	if err := os.MkdirAll(r.Cfg.PkgCacheDir, 0o755); err != nil {
		return aerr.Wrapf(err, aerr.KindFileSystem, "failed to create package cache directory %q", r.Cfg.PkgCacheDir)
	}

	customNames := make([]string, 0, len(desired.CustomPackages))

	for _, custom := range desired.CustomPackages {
		r.Search.AddCustom(custom)
		customNames = append(customNames, custom.PkgName)
	}

	installedNativeExplicit, err := r.Native.InstalledNativeExplicit(ctx)
	if err != nil {
		return err
	}

	installedForeignExplicit, err := r.Native.InstalledForeignExplicit(ctx)
	if err != nil {
		return err
	}

	foreignOrphans, err := r.Native.ForeignOrphans(ctx)
	if err != nil {
		return err
	}

	desiredForeign := setOf(desired.ForeignPkgs)
	customSet := setOf(customNames)

	ignored := desired.Ignored
	if ignored == nil {
		ignored = map[string]struct{}{}
	}

	toRemove := difference(union(installedForeignExplicit, foreignOrphans), desiredForeign, customSet, ignored)

	protected := union(desiredForeign, customSet, installedNativeExplicit, intersect(ignored, installedForeignExplicit))

	actuallyToRemove := map[string]struct{}{}
	toDemote := map[string]struct{}{}

	for candidate := range toRemove {
		dependants, err := r.Native.GetDependants(ctx, candidate)
		if err != nil {
			return err
		}

		if anyIn(dependants, protected) {
			toDemote[candidate] = struct{}{}
		} else {
			actuallyToRemove[candidate] = struct{}{}
		}
	}

	if len(actuallyToRemove) > 0 {
		logger.Summary("Removing pacman packages")
		logger.List("", keys(actuallyToRemove))
	}

	if len(toDemote) > 0 {
		logger.Summary("Setting previously explicitly installed packages as dependencies")
		logger.List("", keys(toDemote))
	}

	if !flags.DryRun {
		if err := r.Native.Remove(ctx, keys(actuallyToRemove)); err != nil {
			return err
		}

		if err := r.Native.SetAsDependencies(ctx, keys(toDemote)); err != nil {
			return err
		}
	}

	toUpgrade, err := r.pendingUpgrades(ctx, ignored, flags)
	if err != nil {
		return err
	}

	toInstall := keys(difference(union(desiredForeign, customSet), installedForeignExplicit, ignored))

	if flags.DryRun {
		if len(toUpgrade) > 0 {
			logger.Summary("Would upgrade foreign packages")
			logger.List("", toUpgrade)
		}

		if len(toInstall) > 0 {
			logger.Summary("Would install foreign packages")
			logger.List("", toInstall)
		}

		return nil
	}

	if len(toUpgrade) > 0 {
		logger.Summary("Upgrading foreign packages")

		if err := r.Install(ctx, nil, toUpgrade, true); err != nil {
			return err
		}
	}

	if len(toInstall) > 0 {
		if err := r.Install(ctx, toInstall, nil, flags.Force); err != nil {
			return err
		}
	}

	return nil
}

// pendingUpgrades compares every currently foreign-installed package's
// version against freshly fetched metadata and returns the names that
// ShouldUpgrade reports stale.
func (r *Reconciler) pendingUpgrades(ctx context.Context, ignored map[string]struct{}, flags Flags) ([]string, error) {
	installedVersions, err := r.Native.InstalledForeignVersions(ctx)
	if err != nil {
		return nil, err
	}

	var toUpgrade []string

	for pkgname, installedVersion := range installedVersions {
		if _, skip := ignored[pkgname]; skip {
			continue
		}

		info, err := r.Search.Get(ctx, pkgname)
		if err != nil {
			continue // not every installed foreign package is still findable (e.g. removed from AUR)
		}

		should, err := r.ShouldUpgrade(ctx, pkgname, installedVersion, info.Version, flags.UpgradeDevel)
		if err != nil {
			return nil, err
		}

		if should {
			toUpgrade = append(toUpgrade, pkgname)
		}
	}

	return toUpgrade, nil
}

// ShouldUpgrade compares an installed version against a freshly fetched
// one via the configured external vercmp-style command. Devel packages
// always upgrade when upgradeDevel is set, bypassing the version check.
func (r *Reconciler) ShouldUpgrade(ctx context.Context, pkgname, installedVersion, fetchedVersion string, upgradeDevel bool) (bool, error) {
	if upgradeDevel && isDevel(pkgname, r.Cfg.DevelSuffixes) {
		return true, nil
	}

	argv := r.Cfg.Commands.CompareVersions(installedVersion, fetchedVersion)
	if len(argv) == 0 {
		return false, aerr.New(aerr.KindInternal, "empty compare-versions command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec

	out, err := cmd.Output()
	if err != nil {
		return false, aerr.Wrapf(err, aerr.KindCommand, "failed to compare versions for %q", pkgname)
	}

	result, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return false, aerr.Wrapf(err, aerr.KindCommand, "failed to parse version comparison output for %q", pkgname)
	}

	return result < 0, nil
}

func isDevel(pkgname string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(pkgname, suffix) {
			return true
		}
	}

	return false
}

// Install resolves explicit+alreadyDep into a full dependency graph,
// installs native dependencies, builds every foreign package in deps-first
// order (grouped by pkgbase, skipping groups already satisfied by a fresh
// cache hit unless force), installs the results, and marks the originally
// explicit names explicit.
func (r *Reconciler) Install(ctx context.Context, explicit, alreadyDep []string, force bool) error {
	if len(explicit) == 0 && len(alreadyDep) == 0 {
		return nil
	}

	result, err := resolver.Resolve(ctx, explicit, alreadyDep, r.Search, r.Native)
	if err != nil {
		return err
	}

	logger.Summary("Installing AUR/user package dependencies from pacman")

	if err := r.Native.InstallDependencies(ctx, keys(result.PacmanDeps)); err != nil {
		return err
	}

	var cacheSeed map[string][]cache.Entry

	if _, err := r.Store.Get(store.KeyPackageFileCache, &cacheSeed); err != nil {
		return err
	}

	artifactCache := cache.New(r.Cfg.CacheLimitPerPackage, r.Cfg.DevelSuffixes, func() int64 { return time.Now().Unix() }, cacheSeed)

	if _, err := r.buildAll(ctx, result, artifactCache, force); err != nil {
		return err
	}

	if err := r.Store.Put(store.KeyPackageFileCache, artifactCache.Entries()); err != nil {
		return err
	}

	// Build (via artifactCache.Add) and prior cache hits both land in
	// artifactCache, so every package to install - freshly built or
	// already cached - is found the same way here.
	allForeign := union(result.ForeignPkgs, result.ForeignDepPkgs, result.ForeignBuildDepPkgs)

	var toInstallFiles []string

	for pkgname := range allForeign {
		if entry, ok := artifactCache.FindLatest(pkgname); ok {
			toInstallFiles = append(toInstallFiles, entry.Path)
		}
	}

	if len(toInstallFiles) > 0 {
		logger.Summary("Installing AUR/user packages")

		if err := r.Native.InstallFiles(ctx, toInstallFiles); err != nil {
			return err
		}
	}

	if len(explicit) > 0 {
		if err := r.Native.MarkExplicit(ctx, explicit); err != nil {
			return err
		}
	}

	return nil
}

// buildAll walks result.BuildOrder, grouping each entry with every later
// entry sharing its pkgbase, building each group together inside one
// builder.Scope for the whole call.
func (r *Reconciler) buildAll(ctx context.Context, result *resolver.Result, artifactCache *cache.Cache, force bool) ([]string, error) {
	if len(result.BuildOrder) == 0 {
		return nil, nil
	}

	scope, err := builder.Enter(ctx, r.Cfg, keys(result.PacmanDeps))
	if err != nil {
		return nil, err
	}

	defer func() {
		if closeErr := scope.Close(); closeErr != nil {
			logger.Warn("failed to close build scope", "error", closeErr)
		}
	}()

	remaining := append([]*depgraph.ForeignPackage(nil), result.BuildOrder...)

	var builtFiles []string

	for len(remaining) > 0 {
		head := remaining[0]
		remaining = remaining[1:]

		pkgbase := result.PkgnameToPkgbase[head.Name]

		group := []*depgraph.ForeignPackage{head}

		var rest []*depgraph.ForeignPackage

		for _, other := range remaining {
			if result.PkgnameToPkgbase[other.Name] == pkgbase {
				group = append(group, other)
			} else {
				rest = append(rest, other)
			}
		}

		remaining = rest

		groupInfos := make([]*pkginfo.PackageInfo, 0, len(group))

		for _, g := range group {
			info, err := r.Search.Get(ctx, g.Name)
			if err != nil {
				return nil, err
			}

			groupInfos = append(groupInfos, info)
		}

		if !force && allCached(groupInfos, artifactCache) {
			logger.Summary("Skipped building " + pkgbase + ". Already up to date")
			continue
		}

		firstInfo := groupInfos[0]

		if err := scope.FetchAndReview(pkgbase, firstInfo, r.Store, r.Prompt); err != nil {
			return nil, err
		}

		chrootPacmanDeps, chrootForeignFiles := r.chrootPackages(ctx, group, result, artifactCache)

		files, err := scope.Build(ctx, pkgbase, groupInfos, chrootPacmanDeps, chrootForeignFiles, artifactCache)
		if err != nil {
			return nil, err
		}

		builtFiles = append(builtFiles, files...)
	}

	return builtFiles, nil
}

func allCached(infos []*pkginfo.PackageInfo, artifactCache *cache.Cache) bool {
	for _, info := range infos {
		if artifactCache.IsDevel(info.PkgName) {
			return false
		}

		entry, ok := artifactCache.FindLatest(info.PkgName)
		if !ok || entry.Version != info.Version {
			return false
		}
	}

	return true
}

// chrootPackages computes the native packages and cached foreign artifact
// files needed in the chroot before building group: every group member's
// native make+check deps, plus the native make+check deps of every
// package in the group's accumulated transitive foreign dependency set
// (resolved to cached artifact files), excluding group members themselves
// since same-pkgbase packages never need each other pre-installed.
func (r *Reconciler) chrootPackages(
	ctx context.Context,
	group []*depgraph.ForeignPackage,
	result *resolver.Result,
	artifactCache *cache.Cache,
) ([]string, []string) {
	groupNames := map[string]struct{}{}
	for _, g := range group {
		groupNames[g.Name] = struct{}{}
	}

	transitiveForeign := map[string]struct{}{}
	for _, g := range group {
		for dep := range g.AllRecursiveForeignDepPkgs() {
			transitiveForeign[dep] = struct{}{}
		}
	}

	for name := range groupNames {
		delete(transitiveForeign, name)
	}

	pacmanPkgs := map[string]struct{}{}

	for name := range groupNames {
		info, err := r.Search.Get(ctx, name)
		if err != nil {
			continue
		}

		for _, dep := range info.AllNativeBuildDependenciesStripped(r.Native) {
			pacmanPkgs[dep] = struct{}{}
		}
	}

	for dep := range transitiveForeign {
		depInfo, err := r.Search.Get(ctx, dep)
		if err != nil {
			continue
		}

		for _, d := range depInfo.AllNativeBuildDependenciesStripped(r.Native) {
			pacmanPkgs[d] = struct{}{}
		}
	}

	for dep := range result.PacmanDeps {
		delete(pacmanPkgs, dep)
	}

	var foreignFiles []string

	for dep := range transitiveForeign {
		if entry, ok := artifactCache.FindLatest(dep); ok {
			foreignFiles = append(foreignFiles, entry.Path)
		}
	}

	return keys(pacmanPkgs), foreignFiles
}

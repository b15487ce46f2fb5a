// Package pkginfo defines the immutable description of a buildable package
// (from AUR, a custom git repository, or a local PKGBUILD directory) along
// with the memoized native/foreign dependency views the resolver needs.
package pkginfo

import (
	"regexp"
	"sync"

	"github.com/kiviktnm/aurforge/internal/aerr"
)

// NativeCapability reports whether a (possibly version-constrained)
// dependency expression can be satisfied from the native package
// repositories, without needing to resolve it against AUR.
type NativeCapability interface {
	IsInstallable(dependencyExpr string) bool
}

var stripRx = regexp.MustCompile(`^(.*?)(=.*|>.*|<.*)$`)

// StripDependency removes a version specification from a dependency
// expression, e.g. "foo>=1.2" -> "foo".
func StripDependency(dep string) string {
	if m := stripRx.FindStringSubmatch(dep); m != nil {
		return m[1]
	}

	return dep
}

// PackageInfo is an immutable, fully-resolved description of a package:
// exactly one of GitURL/PKGBUILDDir identifies its source.
type PackageInfo struct {
	PkgName string
	PkgBase string
	Version string

	// GitURL is the clone URL for a git-sourced package (AUR packages and
	// git-backed CustomPackages). Mutually exclusive with PKGBUILDDir.
	GitURL string
	// PKGBUILDDir is the local directory containing a hand-maintained
	// PKGBUILD. Mutually exclusive with GitURL.
	PKGBUILDDir string

	Provides         []string
	Dependencies     []string
	MakeDependencies []string
	CheckDependencies []string

	once struct {
		nativeRuntime, foreignRuntime sync.Once
		nativeMake, foreignMake       sync.Once
		nativeCheck, foreignCheck     sync.Once
	}
	nativeRuntime, foreignRuntime []string
	nativeMake, foreignMake       []string
	nativeCheck, foreignCheck     []string
}

// New constructs a PackageInfo, validating the git-url/pkgbuild-dir
// exclusivity invariant.
func New(pkgName, pkgBase, version, gitURL, pkgbuildDir string,
	provides, dependencies, makeDeps, checkDeps []string,
) (*PackageInfo, error) {
	if (gitURL == "") == (pkgbuildDir == "") {
		return nil, aerr.Newf(aerr.KindValidation,
			"package %q must set exactly one of git_url or pkgbuild_directory", pkgName)
	}

	return &PackageInfo{
		PkgName:           pkgName,
		PkgBase:           pkgBase,
		Version:           version,
		GitURL:            gitURL,
		PKGBUILDDir:       pkgbuildDir,
		Provides:          provides,
		Dependencies:      dependencies,
		MakeDependencies:  makeDeps,
		CheckDependencies: checkDeps,
	}, nil
}

// PkgFilePrefix is the filename prefix a built package archive begins
// with: "{pkgname}-{version}".
func (p *PackageInfo) PkgFilePrefix() string {
	return p.PkgName + "-" + p.Version
}

func splitByNative(deps []string, native NativeCapability) (nativeOut, foreignOut []string) {
	for _, dep := range deps {
		stripped := StripDependency(dep)
		if native.IsInstallable(dep) {
			nativeOut = append(nativeOut, stripped)
		} else {
			foreignOut = append(foreignOut, stripped)
		}
	}

	return nativeOut, foreignOut
}

// NativeRuntimeDeps returns the stripped runtime dependencies installable
// from native repositories. Memoized.
func (p *PackageInfo) NativeRuntimeDeps(native NativeCapability) []string {
	p.once.nativeRuntime.Do(func() {
		p.nativeRuntime, p.foreignRuntime = splitByNative(p.Dependencies, native)
	})

	return p.nativeRuntime
}

// ForeignRuntimeDeps returns the stripped runtime dependencies that are
// not installable from native repositories. Memoized.
func (p *PackageInfo) ForeignRuntimeDeps(native NativeCapability) []string {
	p.once.foreignRuntime.Do(func() {
		p.nativeRuntime, p.foreignRuntime = splitByNative(p.Dependencies, native)
	})

	return p.foreignRuntime
}

// NativeMakeDeps returns the stripped make-only dependencies installable
// from native repositories. Memoized.
func (p *PackageInfo) NativeMakeDeps(native NativeCapability) []string {
	p.once.nativeMake.Do(func() {
		p.nativeMake, p.foreignMake = splitByNative(p.MakeDependencies, native)
	})

	return p.nativeMake
}

// ForeignMakeDeps returns the stripped make-only dependencies that are
// not installable from native repositories. Memoized.
func (p *PackageInfo) ForeignMakeDeps(native NativeCapability) []string {
	p.once.foreignMake.Do(func() {
		p.nativeMake, p.foreignMake = splitByNative(p.MakeDependencies, native)
	})

	return p.foreignMake
}

// NativeCheckDeps returns the stripped check-only dependencies installable
// from native repositories. Memoized. Kept distinct from NativeMakeDeps for
// callers that must tell build-only apart from check-only dependencies.
func (p *PackageInfo) NativeCheckDeps(native NativeCapability) []string {
	p.once.nativeCheck.Do(func() {
		p.nativeCheck, p.foreignCheck = splitByNative(p.CheckDependencies, native)
	})

	return p.nativeCheck
}

// ForeignCheckDeps returns the stripped check-only dependencies that are
// not installable from native repositories. Memoized.
func (p *PackageInfo) ForeignCheckDeps(native NativeCapability) []string {
	p.once.foreignCheck.Do(func() {
		p.nativeCheck, p.foreignCheck = splitByNative(p.CheckDependencies, native)
	})

	return p.foreignCheck
}

// AllForeignBuildDependenciesStripped returns every foreign make+check
// dependency name (build-only, not required at runtime) with version
// constraints stripped.
func (p *PackageInfo) AllForeignBuildDependenciesStripped(native NativeCapability) []string {
	result := make([]string, 0, len(p.MakeDependencies)+len(p.CheckDependencies))
	result = append(result, p.ForeignMakeDeps(native)...)
	result = append(result, p.ForeignCheckDeps(native)...)

	return result
}

// AllForeignDependenciesStripped returns every foreign dependency name
// (runtime and build) with version constraints stripped, matching the
// combined view the resolver needs before it fans out provider lookups.
func (p *PackageInfo) AllForeignDependenciesStripped(native NativeCapability) []string {
	result := make([]string, 0, len(p.Dependencies)+len(p.MakeDependencies)+len(p.CheckDependencies))
	result = append(result, p.ForeignRuntimeDeps(native)...)
	result = append(result, p.AllForeignBuildDependenciesStripped(native)...)

	return result
}

// AllNativeBuildDependenciesStripped returns every native-installable
// make+check dependency name with version constraints stripped.
func (p *PackageInfo) AllNativeBuildDependenciesStripped(native NativeCapability) []string {
	result := make([]string, 0, len(p.MakeDependencies)+len(p.CheckDependencies))
	result = append(result, p.NativeMakeDeps(native)...)
	result = append(result, p.NativeCheckDeps(native)...)

	return result
}

// AllNativeDependenciesStripped returns every native-installable
// dependency name (runtime and build) with version constraints stripped.
func (p *PackageInfo) AllNativeDependenciesStripped(native NativeCapability) []string {
	result := make([]string, 0, len(p.Dependencies)+len(p.MakeDependencies)+len(p.CheckDependencies))
	result = append(result, p.NativeRuntimeDeps(native)...)
	result = append(result, p.AllNativeBuildDependenciesStripped(native)...)

	return result
}

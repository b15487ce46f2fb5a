package resolver_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiviktnm/aurforge/internal/pkginfo"
	"github.com/kiviktnm/aurforge/internal/resolver"
)

// fakeNative treats anything in the set as native-installable; everything
// else is foreign.
type fakeNative map[string]bool

func (f fakeNative) IsInstallable(dep string) bool {
	return f[pkginfo.StripDependency(dep)]
}

// fakeSearcher is an in-memory Searcher backed by a fixed catalog, keyed
// by pkgname, with an additional provides index for FindProvider.
type fakeSearcher struct {
	byName map[string]*pkginfo.PackageInfo
}

func newFakeSearcher() *fakeSearcher {
	return &fakeSearcher{byName: make(map[string]*pkginfo.PackageInfo)}
}

func (f *fakeSearcher) add(p *pkginfo.PackageInfo) {
	f.byName[p.PkgName] = p
}

func (f *fakeSearcher) TryCaching(context.Context, []string) error { return nil }

func (f *fakeSearcher) Get(_ context.Context, name string) (*pkginfo.PackageInfo, error) {
	if p, ok := f.byName[name]; ok {
		return p, nil
	}

	return nil, assertNotFound(name)
}

func (f *fakeSearcher) FindProvider(_ context.Context, dep string) (*pkginfo.PackageInfo, error) {
	if p, ok := f.byName[dep]; ok {
		return p, nil
	}

	for _, p := range f.byName {
		for _, provide := range p.Provides {
			if pkginfo.StripDependency(provide) == dep {
				return p, nil
			}
		}
	}

	return nil, assertNotFound(dep)
}

func assertNotFound(name string) error {
	return errNotFound{name}
}

type errNotFound struct{ name string }

func (e errNotFound) Error() string { return "not found: " + e.name }

func mustPkg(t *testing.T, name, base, version, giturl string, provides, deps, make, check []string) *pkginfo.PackageInfo {
	t.Helper()

	p, err := pkginfo.New(name, base, version, giturl, "", provides, deps, make, check)
	require.NoError(t, err)

	return p
}

func TestResolveSimpleChain(t *testing.T) {
	t.Parallel()

	searcher := newFakeSearcher()
	searcher.add(mustPkg(t, "top", "top", "1.0-1", "https://example.com/top.git",
		nil, []string{"mid"}, nil, nil))
	searcher.add(mustPkg(t, "mid", "mid", "1.0-1", "https://example.com/mid.git",
		nil, []string{"bottom"}, nil, nil))
	searcher.add(mustPkg(t, "bottom", "bottom", "1.0-1", "https://example.com/bottom.git",
		nil, nil, nil, nil))

	native := fakeNative{}

	result, err := resolver.Resolve(context.Background(), []string{"top"}, nil, searcher, native)
	require.NoError(t, err)

	order := make([]string, len(result.BuildOrder))
	for i, pkg := range result.BuildOrder {
		order[i] = pkg.Name
	}

	assert.Equal(t, []string{"bottom", "mid", "top"}, order)
	assert.Contains(t, result.ForeignDepPkgs, "mid")
	assert.Contains(t, result.ForeignDepPkgs, "bottom")
}

func TestResolveSplitsNativeAndForeignDeps(t *testing.T) {
	t.Parallel()

	searcher := newFakeSearcher()
	searcher.add(mustPkg(t, "app", "app", "1.0-1", "https://example.com/app.git",
		nil, []string{"glibc", "helper-lib"}, nil, nil))
	searcher.add(mustPkg(t, "helper-lib", "helper-lib", "1.0-1", "https://example.com/helper.git",
		nil, nil, nil, nil))

	native := fakeNative{"glibc": true}

	result, err := resolver.Resolve(context.Background(), []string{"app"}, nil, searcher, native)
	require.NoError(t, err)

	assert.Contains(t, result.PacmanDeps, "glibc")
	assert.Contains(t, result.ForeignDepPkgs, "helper-lib")
	assert.Equal(t, "app", result.PkgnameToPkgbase["app"])
}

func TestResolveFindsProviderForVirtualDependency(t *testing.T) {
	t.Parallel()

	searcher := newFakeSearcher()
	searcher.add(mustPkg(t, "app", "app", "1.0-1", "https://example.com/app.git",
		nil, []string{"some-virtual"}, nil, nil))
	searcher.add(mustPkg(t, "concrete-provider", "concrete-provider", "1.0-1", "https://example.com/cp.git",
		[]string{"some-virtual"}, nil, nil, nil))

	native := fakeNative{}

	result, err := resolver.Resolve(context.Background(), []string{"app"}, nil, searcher, native)
	require.NoError(t, err)

	assert.Contains(t, result.ForeignDepPkgs, "concrete-provider")
}

// Package config holds the explicit, validated configuration aurforge is
// constructed with. There are no package-level globals: every component
// that needs configuration receives a *Config at construction time.
package config

import (
	"github.com/go-playground/validator/v10"

	"github.com/kiviktnm/aurforge/internal/aerr"
)

// Commands holds the argv templates for every external command aurforge
// shells out to. Each field is a function so callers can substitute the
// concrete arguments without the config package knowing about them.
type Commands struct {
	// MakeChroot returns the argv for creating (or refreshing) a chroot at
	// dir, seeded with the given pacman package names.
	MakeChroot func(dir string, seedPkgs []string) []string
	// MakeChrootPkg returns the argv for building inside an existing
	// chroot as the given unprivileged user, making the given cached
	// foreign package files available to the build.
	MakeChrootPkg func(chrootDir, buildUser string, foreignPkgFiles []string) []string
	// ChrootInstall returns the argv for installing packages into an
	// existing chroot before a build.
	ChrootInstall func(chrootDir string, pkgs []string) []string
	// ChrootRemove returns the argv for removing packages (and now-unneeded
	// dependencies) from an existing chroot after a build, shrinking it
	// back down to its seeded state.
	ChrootRemove func(chrootDir string, pkgs []string) []string
	// ChrootPacmanName returns the argv for resolving a possibly-virtual
	// package name to its real providing package inside the chroot.
	ChrootPacmanName func(chrootDir, pkg string) []string
	// GitClone returns the argv for cloning url into dir.
	GitClone func(url, dir string) []string
	// GitDiff returns the argv for diffing a previously reviewed commit
	// against HEAD.
	GitDiff func(sinceCommit string) []string
	// GitCommitID returns the argv for printing the current HEAD commit.
	GitCommitID func() []string
	// ReviewFile returns the argv for paging a single file for review.
	ReviewFile func(path string) []string
	// CompareVersions returns the argv for an external vercmp-compatible
	// comparator; stdout is expected to be "-1", "0", or "1".
	CompareVersions func(installed, fetched string) []string
}

// Config is the full, validated configuration for a reconciliation run.
type Config struct {
	// AURBaseURL is the AUR RPC base, e.g. "https://aur.archlinux.org".
	AURBaseURL string `validate:"required,url"`
	// Arch is the configured architecture used to select arch-suffixed
	// SRCINFO keys (e.g. "x86_64").
	Arch string `validate:"required"`
	// HTTPTimeoutSeconds bounds every AUR RPC request.
	HTTPTimeoutSeconds int `validate:"required,min=1"`
	// BuildDir is the scratch directory a Builder scope owns exclusively
	// while it is open (one scope per Install call that builds anything).
	BuildDir string `validate:"required"`
	// PkgCacheDir is where built package archives are kept.
	PkgCacheDir string `validate:"required"`
	// StorePath is the path to the persistent Store JSON file.
	StorePath string `validate:"required"`
	// BuildUser is the unprivileged user PKGBUILDs are reviewed and built
	// as, inside the chroot.
	BuildUser string `validate:"required"`
	// CacheLimitPerPackage bounds how many build artifacts are retained
	// per pkgname (spec default: 3).
	CacheLimitPerPackage int `validate:"required,min=1"`
	// DevelSuffixes lists pkgname suffixes that mark a package as "devel"
	// (never considered up to date for skip-detection).
	DevelSuffixes []string `validate:"required,min=1"`
	// ValidPkgExtensions lists recognized built-package file extensions,
	// matched as filename suffixes; the bare ".pkg.tar" comes last.
	ValidPkgExtensions []string `validate:"required,min=1"`
	// HighlightKeywords are substrings that, when present in package
	// manager transaction output, get echoed at summary level (e.g.
	// "pacsave", "pacnew").
	HighlightKeywords []string
	// Commands holds the external command argv templates.
	Commands Commands `validate:"-"`
}

var validate = validator.New()

// Validate checks the configuration's required fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return aerr.Wrap(err, aerr.KindConfiguration, "invalid configuration")
	}

	return nil
}

// Default returns a Config populated with aurforge's stock external
// command templates (the ones a real Arch Linux host provides:
// devtools' mkarchroot/makechrootpkg, git, makepkg's vercmp, and a pager).
func Default() *Config {
	return &Config{
		AURBaseURL:           "https://aur.archlinux.org",
		Arch:                 "x86_64",
		HTTPTimeoutSeconds:   30,
		BuildDir:             "/var/cache/aurforge/build",
		PkgCacheDir:          "/var/cache/aurforge/packages",
		StorePath:            "/var/lib/aurforge/store.json",
		BuildUser:            "aurforge-build",
		CacheLimitPerPackage: 3,
		DevelSuffixes:        []string{"-git", "-hg", "-bzr", "-svn", "-cvs", "-darcs"},
		ValidPkgExtensions: []string{
			".pkg.tar.zst", ".pkg.tar.xz", ".pkg.tar.gz", ".pkg.tar.bz2",
			".pkg.tar.lzo", ".pkg.tar.lrz", ".pkg.tar.lz4", ".pkg.tar.lz",
			".pkg.tar.Z", ".pkg.tar",
		},
		HighlightKeywords: []string{"pacsave", "pacnew"},
		Commands: Commands{
			MakeChroot: func(dir string, seedPkgs []string) []string {
				return append([]string{"mkarchroot", dir}, seedPkgs...)
			},
			MakeChrootPkg: func(chrootDir, buildUser string, foreignPkgFiles []string) []string {
				args := []string{"makechrootpkg", "-c", "-r", chrootDir, "-U", buildUser}
				for _, f := range foreignPkgFiles {
					args = append(args, "-I", f)
				}

				return args
			},
			ChrootInstall: func(chrootDir string, pkgs []string) []string {
				return append([]string{
					"arch-nspawn", chrootDir, "pacman", "-S", "--needed", "--noconfirm",
				}, pkgs...)
			},
			ChrootRemove: func(chrootDir string, pkgs []string) []string {
				return append([]string{
					"arch-nspawn", chrootDir, "pacman", "-Rns", "--noconfirm",
				}, pkgs...)
			},
			ChrootPacmanName: func(chrootDir, pkg string) []string {
				return []string{"arch-nspawn", chrootDir, "pacman", "-Sp", "--print-format", "%n", pkg}
			},
			GitClone: func(url, dir string) []string {
				return []string{"git", "clone", url, dir}
			},
			GitDiff: func(sinceCommit string) []string {
				return []string{"git", "diff", sinceCommit, "HEAD"}
			},
			GitCommitID: func() []string {
				return []string{"git", "rev-parse", "HEAD"}
			},
			ReviewFile: func(path string) []string {
				return []string{"less", path}
			},
			CompareVersions: func(installed, fetched string) []string {
				return []string{"vercmp", installed, fetched}
			},
		},
	}
}

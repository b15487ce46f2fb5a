// Package builder owns the chroot build lifecycle: fetching and reviewing
// a foreign package's source, then building it inside a clean chroot and
// registering the resulting artifact with the build-artifact cache.
package builder

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	cp "github.com/otiai10/copy"
	"github.com/pkg/errors"

	"github.com/kiviktnm/aurforge/internal/aerr"
	"github.com/kiviktnm/aurforge/internal/cache"
	"github.com/kiviktnm/aurforge/internal/config"
	"github.com/kiviktnm/aurforge/internal/logger"
	"github.com/kiviktnm/aurforge/internal/pkginfo"
	"github.com/kiviktnm/aurforge/internal/store"
	"github.com/kiviktnm/aurforge/internal/vcs"
)

// Prompter is the single interactive decision point in the build path:
// asked whether a reviewed PKGBUILD/diff should actually be built.
type Prompter interface {
	Confirm(question string) (bool, error)
}

const chrootRootDir = "root"

// Scope owns one reconciliation run's exclusive build directory and
// chroot. It is entered once per Install call that has packages to build
// (an Apply may run Install twice: upgrades, then new installs) and closed
// via defer,
// mirroring the teacher's directory-lifecycle (initDirs) pattern
// generalized from a single package's source/package dirs to a shared
// chroot plus one working directory per pkgbase.
type Scope struct {
	cfg        *config.Config
	prevCwd    string
	chrootDir  string
	pkgbaseDir map[string]string
}

// Enter removes any stale build directory, recreates it, and creates the
// chroot once, seeded with base-devel, git, and every native pacman
// dependency the resolver already resolved for this run (pacmanDeps). Every
// subsequent Build call installs only its group's incremental native
// build-deps into this same chroot instead of recreating it.
func Enter(ctx context.Context, cfg *config.Config, pacmanDeps []string) (*Scope, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, aerr.Wrap(err, aerr.KindFileSystem, "failed to read working directory")
	}

	if err := os.RemoveAll(cfg.BuildDir); err != nil {
		return nil, aerr.Wrapf(err, aerr.KindFileSystem, "failed to clean stale build directory %q", cfg.BuildDir)
	}

	chrootDir := filepath.Join(cfg.BuildDir, "chroot")
	if err := os.MkdirAll(chrootDir, 0o755); err != nil {
		return nil, aerr.Wrapf(err, aerr.KindFileSystem, "failed to create chroot directory %q", chrootDir)
	}

	seedPkgs := append([]string{"base-devel", "git"}, pacmanDeps...)

	if err := runSubprocess(ctx, cfg.Commands.MakeChroot(chrootDir, seedPkgs)); err != nil {
		return nil, err
	}

	scope := &Scope{
		cfg:        cfg,
		prevCwd:    cwd,
		chrootDir:  chrootDir,
		pkgbaseDir: make(map[string]string),
	}

	logger.Debug("build scope entered", "dir", cfg.BuildDir, "seed_pkgs", seedPkgs)

	return scope, nil
}

// Close restores the previous working directory and removes the build
// directory entirely (chroots are never reused across runs).
func (s *Scope) Close() error {
	if err := os.Chdir(s.prevCwd); err != nil {
		return aerr.Wrapf(err, aerr.KindFileSystem, "failed to restore working directory %q", s.prevCwd)
	}

	if err := os.RemoveAll(s.cfg.BuildDir); err != nil {
		return aerr.Wrapf(err, aerr.KindFileSystem, "failed to remove build directory %q", s.cfg.BuildDir)
	}

	logger.Debug("build scope closed")

	return nil
}

func (s *Scope) dirFor(pkgbase string) string {
	if dir, ok := s.pkgbaseDir[pkgbase]; ok {
		return dir
	}

	dir := filepath.Join(s.cfg.BuildDir, chrootRootDir, pkgbase)
	s.pkgbaseDir[pkgbase] = dir

	return dir
}

// FetchAndReview clones or copies a package's source into its scoped
// directory, chowns it to the configured build user, and runs the review
// step: page every file on a first-ever build, or a diff against the
// previously reviewed commit otherwise. An unconfirmed review aborts with
// KindAborted.
func (s *Scope) FetchAndReview(pkgbase string, info *pkginfo.PackageInfo, st *store.Store, prompt Prompter) error {
	dir := s.dirFor(pkgbase)

	if err := fetch(dir, info); err != nil {
		return err
	}

	if err := chownToBuildUser(dir, s.cfg.BuildUser); err != nil {
		return err
	}

	var reviewed store.Set

	if _, err := st.Get(store.KeyReviewedCommits, &reviewed); err != nil {
		return err
	}

	if reviewed == nil {
		reviewed = store.NewSet()
	}

	if err := review(dir, pkgbase, reviewed, prompt); err != nil {
		return err
	}

	head := vcs.HeadCommit(dir)
	if head != "" {
		for entry := range reviewed {
			if strings.HasPrefix(entry, pkgbase+"=") {
				delete(reviewed, entry)
			}
		}

		reviewed.Add(pkgbase + "=" + head)
	}

	return st.Put(store.KeyReviewedCommits, reviewed)
}

func fetch(dir string, info *pkginfo.PackageInfo) error {
	if info.GitURL != "" {
		return vcs.Clone(info.GitURL, dir)
	}

	if err := cp.Copy(info.PKGBUILDDir, dir); err != nil {
		return aerr.Wrapf(err, aerr.KindFileSystem, "failed to copy %q into %q", info.PKGBUILDDir, dir)
	}

	return nil
}

func chownToBuildUser(dir, buildUser string) error {
	u, err := user.Lookup(buildUser)
	if err != nil {
		return aerr.Wrapf(err, aerr.KindConfiguration, "build user %q not found", buildUser)
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return aerr.Wrapf(err, aerr.KindInternal, "invalid uid for user %q", buildUser)
	}

	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return aerr.Wrapf(err, aerr.KindInternal, "invalid gid for user %q", buildUser)
	}

	return filepath.Walk(dir, func(path string, _ os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if chownErr := syscall.Chown(path, uid, gid); chownErr != nil {
			logger.Warn("failed to chown path to build user", "path", path, "user", buildUser, "error", chownErr)
		}

		return nil
	})
}

// reviewedCommit extracts the stored commit for pkgbase out of the
// "pkgbase=commit" encoded Set entries (store.Set only holds strings, so
// the mapping is flattened into one entry per pkgbase).
func reviewedCommit(reviewed store.Set, pkgbase string) (string, bool) {
	prefix := pkgbase + "="

	for entry := range reviewed {
		if strings.HasPrefix(entry, prefix) {
			return strings.TrimPrefix(entry, prefix), true
		}
	}

	return "", false
}

func review(dir, pkgbase string, reviewed store.Set, prompt Prompter) error {
	commit, hasPrior := reviewedCommit(reviewed, pkgbase)

	if hasPrior && vcs.CommitStillReachable(dir, commit) {
		diff, err := vcs.Diff(dir, commit)
		if err != nil {
			return err
		}

		if strings.TrimSpace(diff) == "" {
			logger.Debug("no changes since last review", "pkgbase", pkgbase)
		} else {
			logger.Summary(fmt.Sprintf("Changes to %s since last review:", pkgbase))
			logger.List("", strings.Split(diff, "\n"))
		}
	} else {
		files, err := vcs.ListNonHiddenFiles(dir)
		if err != nil {
			return err
		}

		logger.Summary(fmt.Sprintf("Reviewing %s for the first time:", pkgbase))
		logger.List("files", files)
	}

	ok, err := prompt.Confirm(fmt.Sprintf("Build %s?", pkgbase))
	if err != nil {
		return err
	}

	if !ok {
		return aerr.Newf(aerr.KindAborted, "build of %q declined during review", pkgbase)
	}

	return nil
}

// Build installs group's incremental native build-deps (the ones not
// already seeded into the chroot at Enter) into the existing chroot,
// invokes makechrootpkg for the pkgbase directory, locates+caches the
// resulting package archive for each pkgname, then shrinks the chroot
// back down by removing the packages it just installed.
func (s *Scope) Build(
	ctx context.Context,
	pkgbase string,
	group []*pkginfo.PackageInfo,
	chrootPacmanDeps, chrootForeignPkgFiles []string,
	artifactCache *cache.Cache,
) ([]string, error) {
	if len(chrootPacmanDeps) > 0 {
		if err := runSubprocess(ctx, s.cfg.Commands.ChrootInstall(s.chrootDir, chrootPacmanDeps)); err != nil {
			return nil, err
		}
	}

	dir := s.dirFor(pkgbase)

	buildCmd := s.cfg.Commands.MakeChrootPkg(s.chrootDir, s.cfg.BuildUser, chrootForeignPkgFiles)
	if err := runSubprocessIn(ctx, dir, buildCmd); err != nil {
		return nil, err
	}

	var artifacts []string

	for _, info := range group {
		path, err := findBuiltPackage(dir, info, s.cfg.ValidPkgExtensions)
		if err != nil {
			return nil, err
		}

		dest := filepath.Join(s.cfg.PkgCacheDir, filepath.Base(path))
		if err := cp.Copy(path, dest); err != nil {
			return nil, aerr.Wrapf(err, aerr.KindFileSystem, "failed to copy artifact %q into cache", path)
		}

		if err := artifactCache.Add(info.PkgName, info.Version, dest); err != nil {
			return nil, err
		}

		artifacts = append(artifacts, dest)
	}

	if err := s.shrink(ctx, chrootPacmanDeps); err != nil {
		return nil, err
	}

	return artifacts, nil
}

// shrink resolves each of pkgs' real providing package name inside the
// chroot (pacman may have installed a different name to satisfy a virtual
// package) and removes them, returning the chroot to its Enter-seeded
// state before the next group's build.
func (s *Scope) shrink(ctx context.Context, pkgs []string) error {
	if len(pkgs) == 0 {
		return nil
	}

	realNames := make([]string, 0, len(pkgs))

	for _, pkg := range pkgs {
		out, err := runSubprocessCaptured(ctx, s.cfg.Commands.ChrootPacmanName(s.chrootDir, pkg))
		if err != nil {
			return err
		}

		name := strings.TrimSpace(out)
		if name == "" {
			name = pkg
		}

		realNames = append(realNames, name)
	}

	return runSubprocess(ctx, s.cfg.Commands.ChrootRemove(s.chrootDir, realNames))
}

// findBuiltPackage locates the single archive in dir whose name matches
// "{pkgname}-{version}" followed by one of validExtensions, grounded on
// the reference implementation's _find_pkgfile prefix+extension matching.
func findBuiltPackage(dir string, info *pkginfo.PackageInfo, validExtensions []string) (string, error) {
	prefix := info.PkgFilePrefix()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", aerr.Wrapf(err, aerr.KindFileSystem, "failed to list build directory %q", dir)
	}

	var matches []string

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}

		for _, ext := range validExtensions {
			if strings.HasSuffix(entry.Name(), ext) {
				matches = append(matches, filepath.Join(dir, entry.Name()))
				break
			}
		}
	}

	if len(matches) != 1 {
		return "", cache.ValidationError(info.PkgName, matches)
	}

	return matches[0], nil
}

func runSubprocess(ctx context.Context, argv []string) error {
	return runSubprocessIn(ctx, "", argv)
}

// runSubprocessCaptured runs argv and returns its captured stdout, for
// commands whose output must be parsed (e.g. resolving a real package name)
// rather than streamed to the user.
func runSubprocessCaptured(ctx context.Context, argv []string) (string, error) {
	if len(argv) == 0 {
		return "", aerr.New(aerr.KindInternal, "empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec

	var stdout bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr

	logger.Debug("executing build command", "command", argv[0], "args", argv[1:])

	if err := cmd.Run(); err != nil {
		return "", errors.Wrapf(err, "failed to execute command %s", argv[0])
	}

	return stdout.String(), nil
}

func runSubprocessIn(ctx context.Context, dir string, argv []string) error {
	if len(argv) == 0 {
		return aerr.New(aerr.KindInternal, "empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec
	if dir != "" {
		cmd.Dir = dir
	}

	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	logger.Debug("executing build command", "command", argv[0], "args", argv[1:], "dir", dir)

	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "failed to execute command %s", argv[0])
	}

	return nil
}

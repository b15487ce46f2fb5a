// Package srcinfo parses the flat "key = value" SRCINFO text produced by
// makepkg --printsrcinfo into a pkginfo.PackageInfo for one target
// pkgname. It does not interpret PKGBUILD as shell: SRCINFO is a trusted,
// already-flattened representation, so a line-oriented scanner is enough.
package srcinfo

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/kiviktnm/aurforge/internal/aerr"
	"github.com/kiviktnm/aurforge/internal/pkginfo"
	"github.com/kiviktnm/aurforge/internal/vcs"
)

type section struct {
	pkgname string
	fields  map[string][]string
}

func newSection(pkgname string) *section {
	return &section{pkgname: pkgname, fields: make(map[string][]string)}
}

func (s *section) add(key, value string) {
	s.fields[key] = append(s.fields[key], value)
}

func (s *section) first(key string) (string, bool) {
	values := s.fields[key]
	if len(values) == 0 {
		return "", false
	}

	return values[0], true
}

// archSuffixed reports whether key is an arch-suffixed variant of base
// (e.g. "depends_x86_64" for base "depends") matching the given arch.
func archSuffixed(key, base, arch string) bool {
	return key == base+"_"+arch
}

func accumulate(target *section, base *section, key, arch string) []string {
	var values []string

	values = append(values, base.fields[key]...)
	for k, v := range base.fields {
		if archSuffixed(k, key, arch) {
			values = append(values, v...)
		}
	}

	values = append(values, target.fields[key]...)
	for k, v := range target.fields {
		if archSuffixed(k, key, arch) {
			values = append(values, v...)
		}
	}

	return values
}

// Parse parses SRCINFO text text and builds a PackageInfo for
// targetPkgname, using gitURL or pkgbuildDir as the package's source
// (exactly one must be non-empty, mirroring pkginfo.New). arch selects
// which arch-suffixed keys are folded in.
func Parse(text, targetPkgname, arch, gitURL, pkgbuildDir string) (*pkginfo.PackageInfo, error) {
	base := newSection("")

	var sections []*section

	current := base

	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := splitKV(line)
		if !ok {
			continue
		}

		switch key {
		case "pkgbase":
			base.add(key, value)
		case "pkgname":
			current = newSection(value)
			sections = append(sections, current)
		default:
			current.add(key, value)
		}
	}

	pkgbase, ok := base.first("pkgbase")
	if !ok {
		return nil, aerr.New(aerr.KindParse, "missing pkgbase/pkgver")
	}

	if _, ok := base.first("pkgver"); !ok {
		if _, ok := firstOfAny(sections, "pkgver"); !ok {
			return nil, aerr.New(aerr.KindParse, "missing pkgbase/pkgver")
		}
	}

	var target *section

	found := make([]string, 0, len(sections))

	for _, s := range sections {
		found = append(found, s.pkgname)

		if s.pkgname == targetPkgname {
			target = s
		}
	}

	if target == nil {
		return nil, aerr.Newf(aerr.KindParse,
			"pkgname %q not found in SRCINFO; found: %s", targetPkgname, strings.Join(found, ", "))
	}

	pkgver := preferTarget(target, base, "pkgver")
	pkgrel := preferTarget(target, base, "pkgrel")
	epoch := preferTarget(target, base, "epoch")

	version := composeVersion(epoch, pkgver, pkgrel)

	provides := target.fields["provides"]
	for k, v := range target.fields {
		if archSuffixed(k, "provides", arch) {
			provides = append(provides, v...)
		}
	}

	depends := accumulate(target, base, "depends", arch)
	makeDepends := accumulate(target, base, "makedepends", arch)
	checkDepends := accumulate(target, base, "checkdepends", arch)

	return pkginfo.New(targetPkgname, pkgbase, version, gitURL, pkgbuildDir,
		provides, depends, makeDepends, checkDepends)
}

func firstOfAny(sections []*section, key string) (string, bool) {
	for _, s := range sections {
		if v, ok := s.first(key); ok {
			return v, ok
		}
	}

	return "", false
}

func preferTarget(target, base *section, key string) string {
	if v, ok := target.first(key); ok {
		return v
	}

	v, _ := base.first(key)

	return v
}

func composeVersion(epoch, pkgver, pkgrel string) string {
	var b strings.Builder
	if epoch != "" {
		b.WriteString(epoch)
		b.WriteString(":")
	}

	b.WriteString(pkgver)

	if pkgrel != "" {
		b.WriteString("-")
		b.WriteString(pkgrel)
	}

	return b.String()
}

func splitKV(line string) (key, value string, ok bool) {
	idx := strings.Index(line, "=")
	if idx < 0 {
		return "", "", false
	}

	key = strings.TrimSpace(line[:idx])
	value = strings.TrimSpace(line[idx+1:])

	return key, value, true
}

// Invoke runs `makepkg --printsrcinfo` for a package and returns the raw
// SRCINFO text. For a git-sourced CustomPackage, gitURL is cloned into a
// fresh temp directory first; for a local PKGBUILD directory, the command
// runs directly in dir.
func Invoke(dir, gitURL string) (string, error) {
	workDir := dir

	if gitURL != "" {
		tmp, err := os.MkdirTemp("", "aurforge-srcinfo-*")
		if err != nil {
			return "", aerr.Wrap(err, aerr.KindFileSystem, "failed to create temp clone directory")
		}
		defer os.RemoveAll(tmp) //nolint:errcheck

		if err := vcs.Clone(gitURL, tmp); err != nil {
			return "", err
		}

		workDir = tmp
	}

	cmd := exec.Command("makepkg", "--printsrcinfo") //nolint:gosec
	cmd.Dir = filepath.Clean(workDir)

	out, err := cmd.Output()
	if err != nil {
		return "", errors.Wrapf(err, "makepkg --printsrcinfo failed in %q", workDir)
	}

	return string(out), nil
}

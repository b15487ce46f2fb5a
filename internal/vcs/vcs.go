// Package vcs wraps the git operations the Builder needs to fetch and
// review a foreign package's source: cloning, reading the current commit,
// and diffing against a previously reviewed commit.
package vcs

import (
	"os"
	"os/exec"
	"strings"

	ggit "github.com/go-git/go-git/v5"
	"github.com/pkg/errors"

	"github.com/kiviktnm/aurforge/internal/aerr"
)

// Clone clones url into dir (which must not already exist).
func Clone(url, dir string) error {
	_, err := ggit.PlainClone(dir, false, &ggit.CloneOptions{
		URL:          url,
		SingleBranch: true,
	})
	if err != nil {
		return aerr.Wrapf(err, aerr.KindCommand, "failed to clone %q into %q", url, dir)
	}

	return nil
}

// HeadCommit returns the current HEAD commit hash of the repository at
// dir, or "" if dir is not a git repository.
func HeadCommit(dir string) string {
	repo, err := ggit.PlainOpenWithOptions(dir, &ggit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return ""
	}

	head, err := repo.Head()
	if err != nil {
		return ""
	}

	return head.Hash().String()
}

// CommitStillReachable reports whether commit is present in the
// repository's history at dir (used to decide whether a stored reviewed
// commit is still meaningful to diff against, rather than stale).
func CommitStillReachable(dir, commit string) bool {
	cmd := exec.Command("git", "-C", dir, "cat-file", "-e", commit+"^{commit}") //nolint:gosec
	return cmd.Run() == nil
}

// Diff returns the textual diff between a previously reviewed commit and
// the HEAD commit of the repository at dir.
func Diff(dir, sinceCommit string) (string, error) {
	cmd := exec.Command("git", "-C", dir, "diff", sinceCommit, "HEAD") //nolint:gosec

	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", errors.Wrapf(err, "git diff failed: %s", strings.TrimSpace(string(out)))
	}

	return string(out), nil
}

// ListNonHiddenFiles returns the top-level regular entries of dir (not
// subdirectories) whose name does not start with a dot, for the
// first-ever review (no prior commit to diff against).
func ListNonHiddenFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, aerr.Wrapf(err, aerr.KindFileSystem, "failed to list %q", dir)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		files = append(files, entry.Name())
	}

	return files, nil
}

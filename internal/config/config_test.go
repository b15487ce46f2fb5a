package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiviktnm/aurforge/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	t.Parallel()

	require.NoError(t, config.Default().Validate())
}

func TestValidateRejectsMissingRequiredFields(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.AURBaseURL = ""

	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.AURBaseURL = "not-a-url"

	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroCacheLimit(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.CacheLimitPerPackage = 0

	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsEmptyDevelSuffixes(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.DevelSuffixes = nil

	assert.Error(t, cfg.Validate())
}

func TestDefaultCommandShapes(t *testing.T) {
	t.Parallel()

	cmds := config.Default().Commands

	assert.Equal(t, []string{"mkarchroot", "/chroot", "base-devel"}, cmds.MakeChroot("/chroot", []string{"base-devel"}))
	assert.Equal(t,
		[]string{"makechrootpkg", "-c", "-r", "/chroot", "-U", "build", "-I", "foo.pkg.tar.zst"},
		cmds.MakeChrootPkg("/chroot", "build", []string{"foo.pkg.tar.zst"}),
	)
	assert.Equal(t,
		[]string{"arch-nspawn", "/chroot", "pacman", "-S", "--needed", "--noconfirm", "foo"},
		cmds.ChrootInstall("/chroot", []string{"foo"}),
	)
	assert.Equal(t,
		[]string{"arch-nspawn", "/chroot", "pacman", "-Rns", "--noconfirm", "foo"},
		cmds.ChrootRemove("/chroot", []string{"foo"}),
	)
	assert.Equal(t,
		[]string{"arch-nspawn", "/chroot", "pacman", "-Sp", "--print-format", "%n", "foo"},
		cmds.ChrootPacmanName("/chroot", "foo"),
	)
	assert.Equal(t, []string{"git", "clone", "https://example.com/foo.git", "/src"},
		cmds.GitClone("https://example.com/foo.git", "/src"))
	assert.Equal(t, []string{"git", "rev-parse", "HEAD"}, cmds.GitCommitID())
	assert.Equal(t, []string{"vercmp", "1.0", "2.0"}, cmds.CompareVersions("1.0", "2.0"))
}

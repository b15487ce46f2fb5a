// Package native is the pacman-backed implementation of the native
// package manager oracle the resolver, builder, and reconciler depend on:
// whether a dependency is installable from the system repositories, what's
// currently installed, and the install/remove/mark/upgrade transactions.
package native

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/kiviktnm/aurforge/internal/aerr"
	"github.com/kiviktnm/aurforge/internal/logger"
	"github.com/kiviktnm/aurforge/internal/pkginfo"
)

// Commands holds the argv templates for every pacman invocation native
// shells out to, mirroring PacmanCommands.
type Commands struct {
	ListExplicitNative  func() []string
	ListExplicitForeign func() []string
	ListVersionedForeign func() []string
	ListOrphansNative   func() []string
	ListDependants      func(pkg string) []string
	IsInstallable       func(pkg string) []string
	Install             func(pkgs []string) []string
	InstallAsDeps       func(pkgs []string) []string
	InstallFilesAsDeps  func(files []string) []string
	Upgrade             func() []string
	SetAsDependencies   func(pkgs []string) []string
	SetAsExplicit       func(pkgs []string) []string
	Remove              func(pkgs []string) []string
}

// DefaultCommands returns the stock pacman argv templates.
func DefaultCommands() Commands {
	return Commands{
		ListExplicitNative:  func() []string { return []string{"pacman", "-Qeqn", "--color=never"} },
		ListExplicitForeign: func() []string { return []string{"pacman", "-Qeqm", "--color=never"} },
		ListVersionedForeign: func() []string { return []string{"pacman", "-Qm", "--color=never"} },
		ListOrphansNative:   func() []string { return []string{"pacman", "-Qdtq", "--color=never"} },
		ListDependants: func(pkg string) []string {
			return []string{"pacman", "-Rc", "--print", "--print-format", "%n", pkg}
		},
		IsInstallable: func(pkg string) []string { return []string{"pacman", "-Sddp", pkg} },
		Install: func(pkgs []string) []string {
			return append([]string{"pacman", "-S", "--needed"}, pkgs...)
		},
		InstallAsDeps: func(pkgs []string) []string {
			return append([]string{"pacman", "-S", "--needed", "--asdeps"}, pkgs...)
		},
		InstallFilesAsDeps: func(files []string) []string {
			return append([]string{"pacman", "-U", "--needed", "--asdeps"}, files...)
		},
		Upgrade: func() []string { return []string{"pacman", "-Syu"} },
		SetAsDependencies: func(pkgs []string) []string {
			return append([]string{"pacman", "-D", "--asdeps"}, pkgs...)
		},
		SetAsExplicit: func(pkgs []string) []string {
			return append([]string{"pacman", "-D", "--asexplicit"}, pkgs...)
		},
		Remove: func(pkgs []string) []string {
			return append([]string{"pacman", "-Rs"}, pkgs...)
		},
	}
}

// allowedSudoCommands restricts ExecWithSudo-style escalation to the single
// command native ever has a legitimate reason to run as root.
var allowedSudoCommands = map[string]bool{"pacman": true}

// run executes argv[0] with argv[1:], escalating with sudo when the process
// isn't already privileged, and returns combined stdout+stderr. Matches the
// teacher's ExecWithSudoContext allowlist-and-auto-sudo behavior.
func run(ctx context.Context, argv []string) (string, int, error) {
	if len(argv) == 0 {
		return "", -1, aerr.New(aerr.KindInternal, "empty command")
	}

	name, args := argv[0], argv[1:]

	needsSudo := allowedSudoCommands[name] && os.Geteuid() != 0 && os.Getenv("SUDO_USER") == ""

	var cmd *exec.Cmd
	if needsSudo {
		cmd = exec.CommandContext(ctx, "sudo", append([]string{name}, args...)...) //nolint:gosec
	} else {
		cmd = exec.CommandContext(ctx, name, args...) //nolint:gosec
	}

	var out bytes.Buffer

	cmd.Stdout = &out
	cmd.Stderr = &out

	logger.Debug("executing command", "command", name, "args", args)

	err := cmd.Run()

	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		return out.String(), -1, errors.Wrapf(err, "failed to execute command %s", name)
	}

	return out.String(), exitCode, nil
}

func lines(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	return strings.Split(text, "\n")
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}

	return set
}

// Manager is the pacman-backed NativeCapability implementation.
type Manager struct {
	commands         Commands
	highlightKeywords []string

	mu            sync.Mutex
	installableCache map[string]bool
}

var _ pkginfo.NativeCapability = (*Manager)(nil)

// New constructs a Manager. highlightKeywords are substrings (e.g.
// "pacsave", "pacnew") that, when present in a pacman transaction's output,
// get echoed at summary level.
func New(commands Commands, highlightKeywords []string) *Manager {
	return &Manager{
		commands:          commands,
		highlightKeywords: highlightKeywords,
		installableCache:  make(map[string]bool),
	}
}

// IsInstallable reports whether dependencyExpr can be satisfied from the
// native package repositories. Results are memoized per process lifetime,
// matching the reference interface's per-run cache.
func (m *Manager) IsInstallable(dependencyExpr string) bool {
	m.mu.Lock()

	if cached, ok := m.installableCache[dependencyExpr]; ok {
		m.mu.Unlock()
		return cached
	}

	m.mu.Unlock()

	_, exitCode, err := run(context.Background(), m.commands.IsInstallable(dependencyExpr))
	result := err == nil && exitCode == 0

	m.mu.Lock()
	m.installableCache[dependencyExpr] = result
	m.mu.Unlock()

	return result
}

// InstalledNativeExplicit returns the set of explicitly installed native
// packages.
func (m *Manager) InstalledNativeExplicit(ctx context.Context) (map[string]struct{}, error) {
	out, _, err := run(ctx, m.commands.ListExplicitNative())
	if err != nil {
		return nil, err
	}

	return toSet(lines(out)), nil
}

// InstalledForeignExplicit returns the set of explicitly installed foreign
// (AUR) packages. Pacman exits 1 when nothing matches, which is not a
// failure here.
func (m *Manager) InstalledForeignExplicit(ctx context.Context) (map[string]struct{}, error) {
	out, exitCode, err := run(ctx, m.commands.ListExplicitForeign())
	if err != nil {
		return nil, err
	}

	if exitCode == 1 {
		return map[string]struct{}{}, nil
	}

	if exitCode != 0 {
		return nil, aerr.Newf(aerr.KindCommand, "pacman -Qeqm failed: %s", out)
	}

	return toSet(lines(out)), nil
}

// InstalledForeignVersions returns every foreign-installed package's
// currently installed version, keyed by pkgname, by parsing pacman -Qm's
// "name version" lines.
func (m *Manager) InstalledForeignVersions(ctx context.Context) (map[string]string, error) {
	out, exitCode, err := run(ctx, m.commands.ListVersionedForeign())
	if err != nil {
		return nil, err
	}

	if exitCode == 1 {
		return map[string]string{}, nil
	}

	if exitCode != 0 {
		return nil, aerr.Newf(aerr.KindCommand, "pacman -Qm failed: %s", out)
	}

	versions := make(map[string]string)

	for _, line := range lines(out) {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}

		versions[fields[0]] = fields[1]
	}

	return versions, nil
}

// ForeignOrphans returns the set of orphaned native packages (installed as
// a dependency, now depended on by nothing). Despite the name, pacman's
// orphan query (-Qdtq) only ever reports native packages; it is named to
// match the reference interface's "foreign_orphans" collaborator method.
func (m *Manager) ForeignOrphans(ctx context.Context) (map[string]struct{}, error) {
	out, exitCode, err := run(ctx, m.commands.ListOrphansNative())
	if err != nil {
		return nil, err
	}

	if exitCode == 1 {
		return map[string]struct{}{}, nil
	}

	if exitCode != 0 {
		return nil, aerr.Newf(aerr.KindCommand, "pacman -Qdtq failed: %s", out)
	}

	return toSet(lines(out)), nil
}

// GetDependants returns the set of packages that depend on pkg.
func (m *Manager) GetDependants(ctx context.Context, pkg string) (map[string]struct{}, error) {
	out, exitCode, err := run(ctx, m.commands.ListDependants(pkg))
	if err != nil {
		return nil, err
	}

	if exitCode == 1 {
		return map[string]struct{}{}, nil
	}

	if exitCode != 0 {
		return nil, aerr.Newf(aerr.KindCommand, "pacman -Rc --print failed for %q: %s", pkg, out)
	}

	return toSet(lines(out)), nil
}

// Install installs pkgs from native repositories, then marks them
// explicitly installed.
func (m *Manager) Install(ctx context.Context, pkgs []string) error {
	if len(pkgs) == 0 {
		return nil
	}

	out, exitCode, err := run(ctx, m.commands.Install(pkgs))
	if err != nil {
		return err
	}

	m.printHighlights(out)

	if exitCode != 0 {
		return aerr.Newf(aerr.KindCommand, "pacman -S failed: %s", out)
	}

	out, exitCode, err = run(ctx, m.commands.SetAsExplicit(pkgs))
	if err != nil {
		return err
	}

	if exitCode != 0 {
		return aerr.Newf(aerr.KindCommand, "pacman -D --asexplicit failed: %s", out)
	}

	return nil
}

// InstallDependencies installs pkgs from native repositories as
// dependencies (not explicitly installed).
func (m *Manager) InstallDependencies(ctx context.Context, pkgs []string) error {
	if len(pkgs) == 0 {
		return nil
	}

	out, exitCode, err := run(ctx, m.commands.InstallAsDeps(pkgs))
	if err != nil {
		return err
	}

	m.printHighlights(out)

	if exitCode != 0 {
		return aerr.Newf(aerr.KindCommand, "pacman -S --asdeps failed: %s", out)
	}

	return nil
}

// InstallFiles installs pre-built package archive files as dependencies,
// used for foreign artifacts produced (or already cached) by the builder.
func (m *Manager) InstallFiles(ctx context.Context, files []string) error {
	if len(files) == 0 {
		return nil
	}

	out, exitCode, err := run(ctx, m.commands.InstallFilesAsDeps(files))
	if err != nil {
		return err
	}

	m.printHighlights(out)

	if exitCode != 0 {
		return aerr.Newf(aerr.KindCommand, "pacman -U --asdeps failed: %s", out)
	}

	return nil
}

// Upgrade upgrades every installed native package.
func (m *Manager) Upgrade(ctx context.Context) error {
	out, exitCode, err := run(ctx, m.commands.Upgrade())
	if err != nil {
		return err
	}

	m.printHighlights(out)

	if exitCode != 0 {
		return aerr.Newf(aerr.KindCommand, "pacman -Syu failed: %s", out)
	}

	return nil
}

// Remove removes pkgs and any dependencies no longer required.
func (m *Manager) Remove(ctx context.Context, pkgs []string) error {
	if len(pkgs) == 0 {
		return nil
	}

	out, exitCode, err := run(ctx, m.commands.Remove(pkgs))
	if err != nil {
		return err
	}

	m.printHighlights(out)

	if exitCode != 0 {
		return aerr.Newf(aerr.KindCommand, "pacman -Rs failed: %s", out)
	}

	return nil
}

// SetAsDependencies marks pkgs as installed-as-dependency.
func (m *Manager) SetAsDependencies(ctx context.Context, pkgs []string) error {
	if len(pkgs) == 0 {
		return nil
	}

	out, exitCode, err := run(ctx, m.commands.SetAsDependencies(pkgs))
	if err != nil {
		return err
	}

	if exitCode != 0 {
		return aerr.Newf(aerr.KindCommand, "pacman -D --asdeps failed: %s", out)
	}

	return nil
}

// MarkExplicit marks pkgs as explicitly installed.
func (m *Manager) MarkExplicit(ctx context.Context, pkgs []string) error {
	if len(pkgs) == 0 {
		return nil
	}

	out, exitCode, err := run(ctx, m.commands.SetAsExplicit(pkgs))
	if err != nil {
		return err
	}

	if exitCode != 0 {
		return aerr.Newf(aerr.KindCommand, "pacman -D --asexplicit failed: %s", out)
	}

	return nil
}

// printHighlights echoes any transaction output lines (plus one line of
// context on either side) that contain a configured keyword, e.g. to flag
// .pacsave/.pacnew files pacman left behind.
func (m *Manager) printHighlights(pacmanOutput string) {
	if len(m.highlightKeywords) == 0 {
		return
	}

	allLines := strings.Split(pacmanOutput, "\n")

	var highlightLines []string

	for index, line := range allLines {
		lower := strings.ToLower(line)

		matched := false

		for _, keyword := range m.highlightKeywords {
			if strings.Contains(lower, strings.ToLower(keyword)) {
				matched = true
				break
			}
		}

		if !matched {
			continue
		}

		if index >= 1 {
			highlightLines = append(highlightLines, allLines[index-1])
		}

		highlightLines = append(highlightLines, line)

		if index+1 < len(allLines) {
			highlightLines = append(highlightLines, allLines[index+1])
		}
	}

	if len(highlightLines) > 0 {
		logger.Summary("Pacman output highlights")
		logger.List("", highlightLines)
	}
}

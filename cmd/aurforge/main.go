// Command aurforge is the thin CLI entry point: it parses flags, wires up
// the concrete native/search/store collaborators, and hands off to
// internal/reconciler. Evaluating a user's full declarative system
// description (modules, files, systemd units) is explicitly out of scope
// here, as it is for the reconciliation core itself — this binary only
// ever reconciles the foreign-package set named on the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kiviktnm/aurforge/internal/config"
	"github.com/kiviktnm/aurforge/internal/logger"
	"github.com/kiviktnm/aurforge/internal/native"
	"github.com/kiviktnm/aurforge/internal/reconciler"
	"github.com/kiviktnm/aurforge/internal/search"
	"github.com/kiviktnm/aurforge/internal/store"
)

var (
	upgradeDevel bool
	force        bool
	dryRun       bool
	verbose      bool
	configPath   string
	ignoreNames  []string
)

// rootCmd reconciles the native system against the foreign packages named
// as positional arguments, mirroring yap's single-binary, flags-only CLI.
var rootCmd = &cobra.Command{
	Use:   "aurforge [package...]",
	Short: "Reconcile installed foreign (AUR) packages against a requested set",
	Long: "aurforge resolves, builds, and installs the requested foreign packages " +
		"(and their foreign dependencies), removing or demoting whatever foreign " +
		"packages are no longer wanted.",
	RunE: runApply,
}

func init() {
	rootCmd.Flags().BoolVarP(&upgradeDevel, "upgrade-devel", "u", false,
		"also upgrade -git/-hg/-bzr/-svn/-cvs/-darcs packages regardless of version comparison")
	rootCmd.Flags().BoolVarP(&force, "force", "f", false,
		"rebuild every resolved package even if a cached artifact is already up to date")
	rootCmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false,
		"report what would change without installing, removing, or building anything")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "",
		"path to an aurforge operational config file (JSON); defaults to the built-in defaults")
	rootCmd.Flags().StringArrayVarP(&ignoreNames, "ignore", "i", nil,
		"foreign package name to exempt from removal/upgrade bookkeeping (repeatable)")
}

// configOverrides holds the subset of config.Config that's safe to decode
// from JSON: config.Commands is made of func values and is never
// user-configurable through this file.
type configOverrides struct {
	AURBaseURL           string   `json:"aur_base_url"`
	Arch                 string   `json:"arch"`
	HTTPTimeoutSeconds   int      `json:"http_timeout_seconds"`
	BuildDir             string   `json:"build_dir"`
	PkgCacheDir          string   `json:"pkg_cache_dir"`
	StorePath            string   `json:"store_path"`
	BuildUser            string   `json:"build_user"`
	CacheLimitPerPackage int      `json:"cache_limit_per_package"`
	DevelSuffixes        []string `json:"devel_suffixes"`
	ValidPkgExtensions   []string `json:"valid_pkg_extensions"`
	HighlightKeywords    []string `json:"highlight_keywords"`
}

func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()

	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}

	var overrides configOverrides
	if err := json.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	applyOverrides(cfg, overrides)

	return cfg, cfg.Validate()
}

func applyOverrides(cfg *config.Config, o configOverrides) {
	if o.AURBaseURL != "" {
		cfg.AURBaseURL = o.AURBaseURL
	}

	if o.Arch != "" {
		cfg.Arch = o.Arch
	}

	if o.HTTPTimeoutSeconds != 0 {
		cfg.HTTPTimeoutSeconds = o.HTTPTimeoutSeconds
	}

	if o.BuildDir != "" {
		cfg.BuildDir = o.BuildDir
	}

	if o.PkgCacheDir != "" {
		cfg.PkgCacheDir = o.PkgCacheDir
	}

	if o.StorePath != "" {
		cfg.StorePath = o.StorePath
	}

	if o.BuildUser != "" {
		cfg.BuildUser = o.BuildUser
	}

	if o.CacheLimitPerPackage != 0 {
		cfg.CacheLimitPerPackage = o.CacheLimitPerPackage
	}

	if len(o.DevelSuffixes) > 0 {
		cfg.DevelSuffixes = o.DevelSuffixes
	}

	if len(o.ValidPkgExtensions) > 0 {
		cfg.ValidPkgExtensions = o.ValidPkgExtensions
	}

	if len(o.HighlightKeywords) > 0 {
		cfg.HighlightKeywords = o.HighlightKeywords
	}
}

func runApply(cmd *cobra.Command, args []string) error {
	logger.SetVerbose(verbose)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	st, err := store.Load(cfg.StorePath, dryRun)
	if err != nil {
		return err
	}

	selector := newStdinSelector()
	searchClient := search.New(cfg.AURBaseURL, time.Duration(cfg.HTTPTimeoutSeconds)*time.Second, selector)

	nativeManager := native.New(native.DefaultCommands(), cfg.HighlightKeywords)

	ignored := make(map[string]struct{}, len(ignoreNames))
	for _, name := range ignoreNames {
		ignored[name] = struct{}{}
	}

	r := &reconciler.Reconciler{
		Store:  st,
		Search: searchClient,
		Native: nativeManager,
		Cfg:    cfg,
		Prompt: newStdinPrompter(),
	}

	desired := reconciler.Desired{
		ForeignPkgs: args,
		Ignored:     ignored,
	}

	flags := reconciler.Flags{
		UpgradeDevel: upgradeDevel,
		Force:        force,
		DryRun:       dryRun,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := r.Apply(ctx, desired, flags); err != nil {
		return err
	}

	return st.Save()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

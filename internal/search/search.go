// Package search implements aurforge's combined AUR RPC / user-declared
// package lookup: package info caching, provider resolution (including
// the one interactive decision point in the core), and batched RPC calls.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kiviktnm/aurforge/internal/aerr"
	"github.com/kiviktnm/aurforge/internal/logger"
	"github.com/kiviktnm/aurforge/internal/pkginfo"
)

const maxBatchSize = 200

const responseCacheSize = 4096

// ProviderSelector is the single interactive decision point in the core:
// asked to choose among several candidate providers for a dependency.
// Implementations should default to index 0 when running non-interactively.
type ProviderSelector interface {
	Select(dependency string, candidates []string) (int, error)
}

// Client resolves package names and dependency providers against AUR RPC
// and a set of user-declared custom packages, caching results as it goes.
type Client struct {
	httpClient *http.Client
	baseURL    string
	selector   ProviderSelector

	packageCache   *lru.Cache[string, *pkginfo.PackageInfo]
	providerCache  *lru.Cache[string, *pkginfo.PackageInfo]
	allProviders   *lru.Cache[string, []string]
	customPackages []*pkginfo.PackageInfo
}

// New constructs a Client. baseURL is typically "https://aur.archlinux.org".
func New(baseURL string, timeout time.Duration, selector ProviderSelector) *Client {
	packageCache, _ := lru.New[string, *pkginfo.PackageInfo](responseCacheSize)
	providerCache, _ := lru.New[string, *pkginfo.PackageInfo](responseCacheSize)
	allProviders, _ := lru.New[string, []string](responseCacheSize)

	return &Client{
		httpClient:     &http.Client{Timeout: timeout},
		baseURL:        strings.TrimRight(baseURL, "/"),
		selector:       selector,
		packageCache:   packageCache,
		providerCache:  providerCache,
		allProviders:   allProviders,
		customPackages: nil,
	}
}

// AddCustom registers a user-declared package, preferred over AUR results
// of the same name. It is cached immediately, filling packageCache and
// indexing its Provides into allProviders, matching add_custom's
// "fills package_cache and all_providers_cache" contract.
func (c *Client) AddCustom(p *pkginfo.PackageInfo) {
	c.customPackages = append(c.customPackages, p)
	c.packageCache.Add(p.PkgName, p)
	c.indexProvides(p)
}

// indexProvides records pkg in allProviders under every dependency name it
// declares in Provides, stripped of version constraints, so a later
// find_provider for that name can be answered from already-cached packages
// instead of a live AUR search-by-provides call.
func (c *Client) indexProvides(pkg *pkginfo.PackageInfo) {
	for _, provide := range pkg.Provides {
		stripped := pkginfo.StripDependency(provide)

		names, _ := c.allProviders.Get(stripped)

		alreadyIndexed := false

		for _, name := range names {
			if name == pkg.PkgName {
				alreadyIndexed = true
				break
			}
		}

		if !alreadyIndexed {
			names = append(names, pkg.PkgName)
		}

		c.allProviders.Add(stripped, names)
	}
}

type rpcResult struct {
	Name         string   `json:"Name"`
	PackageBase  string   `json:"PackageBase"`
	Version      string   `json:"Version"`
	Depends      []string `json:"Depends"`
	MakeDepends  []string `json:"MakeDepends"`
	CheckDepends []string `json:"CheckDepends"`
	Provides     []string `json:"Provides"`
}

type rpcResponse struct {
	Type        string      `json:"type"`
	ResultCount int         `json:"resultcount"`
	Results     []rpcResult `json:"results"`
	Error       string      `json:"error"`
}

func (c *Client) get(ctx context.Context, path string) (*rpcResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, aerr.Wrap(err, aerr.KindInternal, "failed to build AUR RPC request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, aerr.Wrap(err, aerr.KindRPC, "failed to reach AUR RPC")
	}
	defer resp.Body.Close() //nolint:errcheck

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, aerr.Wrap(err, aerr.KindRPC, "failed to decode AUR RPC response")
	}

	if decoded.Type == "error" {
		return nil, aerr.Newf(aerr.KindRPC, "AUR RPC returned error: %s", decoded.Error)
	}

	return &decoded, nil
}

func (c *Client) findCustomByName(name string) *pkginfo.PackageInfo {
	for _, p := range c.customPackages {
		if p.PkgName == name {
			return p
		}
	}

	return nil
}

func infoFromResult(r rpcResult) (*pkginfo.PackageInfo, error) {
	return pkginfo.New(
		r.Name, r.PackageBase, r.Version,
		fmt.Sprintf("https://aur.archlinux.org/%s.git", r.PackageBase), "",
		r.Provides, r.Depends, r.MakeDepends, r.CheckDepends,
	)
}

// TryCaching attempts to populate the package-info cache for every name in
// names, in batches of at most 200 (the AUR RPC argument limit). Names
// that don't resolve to any AUR package are silently skipped, matching
// the reference client's "virtual packages may not be cached" behavior.
func (c *Client) TryCaching(ctx context.Context, names []string) error {
	logger.Debug("caching packages", "count", len(names))

	for len(names) > 0 {
		batch := names
		if len(batch) > maxBatchSize {
			batch = names[:maxBatchSize]
		}

		names = names[len(batch):]

		query := make(url.Values)
		for _, name := range batch {
			query.Add("arg[]", name)
		}

		resp, err := c.get(ctx, "/rpc/v5/info?"+query.Encode())
		if err != nil {
			return err
		}

		for _, result := range resp.Results {
			if _, ok := c.packageCache.Get(result.Name); ok {
				continue
			}

			if custom := c.findCustomByName(result.Name); custom != nil {
				c.packageCache.Add(result.Name, custom)
				c.indexProvides(custom)

				continue
			}

			info, err := infoFromResult(result)
			if err != nil {
				return err
			}

			c.packageCache.Add(result.Name, info)
			c.indexProvides(info)
		}
	}

	return nil
}

// Get returns info for a single package name: cache hit, then a custom
// package match, then a single-name AUR RPC lookup. Returns a KindNotFound
// error if nothing matches.
func (c *Client) Get(ctx context.Context, name string) (*pkginfo.PackageInfo, error) {
	if info, ok := c.packageCache.Get(name); ok {
		return info, nil
	}

	if custom := c.findCustomByName(name); custom != nil {
		c.packageCache.Add(name, custom)
		c.indexProvides(custom)

		return custom, nil
	}

	resp, err := c.get(ctx, "/rpc/v5/info/"+url.PathEscape(name))
	if err != nil {
		return nil, err
	}

	if resp.ResultCount == 0 {
		return nil, aerr.Newf(aerr.KindNotFound, "package %q not found", name)
	}

	info, err := infoFromResult(resp.Results[0])
	if err != nil {
		return nil, err
	}

	c.packageCache.Add(name, info)
	c.indexProvides(info)

	return info, nil
}

// FindProvider resolves a stripped dependency name to a providing package,
// following: selected-provider cache -> exact name match -> already-cached
// providers (allProviders, seeded as packages are cached, plus custom
// package Provides matches), prompting if ambiguous -> AUR
// search-by-provides as a last resort, prompting if ambiguous. Returns a
// KindNotFound error if nothing provides the dependency.
func (c *Client) FindProvider(ctx context.Context, strippedDep string) (*pkginfo.PackageInfo, error) {
	if info, ok := c.providerCache.Get(strippedDep); ok {
		return info, nil
	}

	if info, err := c.Get(ctx, strippedDep); err == nil {
		c.providerCache.Add(strippedDep, info)
		return info, nil
	} else if !aerr.Is(err, aerr.KindNotFound) {
		return nil, err
	}

	names := c.knownProviders(strippedDep)

	switch len(names) {
	case 0:
		// fall through to a live AUR search below
	case 1:
		info, err := c.Get(ctx, names[0])
		if err != nil {
			return nil, err
		}

		c.providerCache.Add(strippedDep, info)

		return info, nil
	default:
		return c.choose(ctx, strippedDep, names)
	}

	resp, err := c.get(ctx, "/rpc/v5/search/"+url.PathEscape(strippedDep)+"?by=provides")
	if err != nil {
		return nil, err
	}

	names = make([]string, len(resp.Results))
	for i, r := range resp.Results {
		names[i] = r.Name
	}

	c.allProviders.Add(strippedDep, names)

	if len(names) == 0 {
		return nil, aerr.Newf(aerr.KindNotFound, "no provider found for %q", strippedDep)
	}

	if len(names) == 1 {
		info, err := c.Get(ctx, names[0])
		if err != nil {
			return nil, err
		}

		c.providerCache.Add(strippedDep, info)

		return info, nil
	}

	return c.choose(ctx, strippedDep, names)
}

// knownProviders gathers already-discovered candidates for strippedDep:
// allProviders' seeded-as-cached entries plus any custom package whose
// Provides contains it, deduplicated and preserving discovery order.
func (c *Client) knownProviders(strippedDep string) []string {
	seen := map[string]struct{}{}

	var names []string

	if cached, ok := c.allProviders.Get(strippedDep); ok {
		for _, name := range cached {
			if _, ok := seen[name]; ok {
				continue
			}

			seen[name] = struct{}{}
			names = append(names, name)
		}
	}

	for _, p := range c.customPackages {
		for _, provide := range p.Provides {
			if pkginfo.StripDependency(provide) != strippedDep {
				continue
			}

			if _, ok := seen[p.PkgName]; ok {
				break
			}

			seen[p.PkgName] = struct{}{}
			names = append(names, p.PkgName)

			break
		}
	}

	return names
}

func (c *Client) choose(ctx context.Context, dep string, candidates []string) (*pkginfo.PackageInfo, error) {
	idx, err := c.selector.Select(dep, candidates)
	if err != nil {
		return nil, err
	}

	if idx < 0 || idx >= len(candidates) {
		return nil, aerr.Newf(aerr.KindInternal, "provider selection index %d out of range", idx)
	}

	info, err := c.Get(ctx, candidates[idx])
	if err != nil {
		return nil, err
	}

	c.providerCache.Add(dep, info)

	return info, nil
}

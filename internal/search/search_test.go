package search_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiviktnm/aurforge/internal/aerr"
	"github.com/kiviktnm/aurforge/internal/pkginfo"
	"github.com/kiviktnm/aurforge/internal/search"
)

type fixedSelector struct{ index int }

func (f fixedSelector) Select(string, []string) (int, error) { return f.index, nil }

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)

	return srv, srv.Close
}

func TestGetSinglePackageFromRPC(t *testing.T) {
	t.Parallel()

	srv, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rpc/v5/info/foo", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type":        "success",
			"resultcount": 1,
			"results": []map[string]any{
				{
					"Name":        "foo",
					"PackageBase": "foo",
					"Version":     "1.0-1",
					"Depends":     []string{"glibc"},
				},
			},
		})
	})
	defer closeFn()

	client := search.New(srv.URL, time.Second, fixedSelector{})

	info, err := client.Get(context.Background(), "foo")
	require.NoError(t, err)
	assert.Equal(t, "foo", info.PkgName)
	assert.Equal(t, "1.0-1", info.Version)
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()

	srv, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type": "success", "resultcount": 0, "results": []map[string]any{},
		})
	})
	defer closeFn()

	client := search.New(srv.URL, time.Second, fixedSelector{})

	_, err := client.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, aerr.Is(err, aerr.KindNotFound))
}

func TestRPCErrorResponse(t *testing.T) {
	t.Parallel()

	srv, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type": "error", "error": "too many args",
		})
	})
	defer closeFn()

	client := search.New(srv.URL, time.Second, fixedSelector{})

	_, err := client.Get(context.Background(), "foo")
	require.Error(t, err)
	assert.True(t, aerr.Is(err, aerr.KindRPC))
}

func TestFindProviderExactNameMatch(t *testing.T) {
	t.Parallel()

	srv, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type": "success", "resultcount": 1,
			"results": []map[string]any{{"Name": "qt6-base", "PackageBase": "qt6-base", "Version": "6.8-1"}},
		})
	})
	defer closeFn()

	client := search.New(srv.URL, time.Second, fixedSelector{})

	info, err := client.FindProvider(context.Background(), "qt6-base")
	require.NoError(t, err)
	assert.Equal(t, "qt6-base", info.PkgName)
}

func TestFindProviderPromptsOnAmbiguousSearchResult(t *testing.T) {
	t.Parallel()

	requestCount := 0
	srv, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		requestCount++

		switch {
		case requestCount == 1:
			_ = json.NewEncoder(w).Encode(map[string]any{"type": "success", "resultcount": 0, "results": []map[string]any{}})
		case requestCount == 2:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"type": "success", "resultcount": 2,
				"results": []map[string]any{
					{"Name": "qt6-base-hifps", "PackageBase": "qt6-base-hifps", "Version": "6.8-1"},
					{"Name": "qt6-base-other", "PackageBase": "qt6-base-other", "Version": "6.8-1"},
				},
			})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"type": "success", "resultcount": 1,
				"results": []map[string]any{{"Name": "qt6-base-hifps", "PackageBase": "qt6-base-hifps", "Version": "6.8-1"}},
			})
		}
	})
	defer closeFn()

	client := search.New(srv.URL, time.Second, fixedSelector{index: 0})

	info, err := client.FindProvider(context.Background(), "qt6-base")
	require.NoError(t, err)
	assert.Equal(t, "qt6-base-hifps", info.PkgName)
}

func TestFindProviderUsesAllProvidersSeededByTryCaching(t *testing.T) {
	t.Parallel()

	requestCount := 0
	srv, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		requestCount++

		switch r.URL.Path {
		case "/rpc/v5/info":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"type": "success", "resultcount": 1,
				"results": []map[string]any{
					{"Name": "qt6-base", "PackageBase": "qt6-base", "Version": "6.8-1", "Provides": []string{"qt6-core"}},
				},
			})
		case "/rpc/v5/info/qt6-core":
			_ = json.NewEncoder(w).Encode(map[string]any{"type": "success", "resultcount": 0, "results": []map[string]any{}})
		default:
			t.Fatalf("unexpected request to %s; all_providers_cache should have avoided a live search-by-provides call", r.URL.Path)
		}
	})
	defer closeFn()

	client := search.New(srv.URL, time.Second, fixedSelector{})

	require.NoError(t, client.TryCaching(context.Background(), []string{"qt6-base"}))

	info, err := client.FindProvider(context.Background(), "qt6-core")
	require.NoError(t, err)
	assert.Equal(t, "qt6-base", info.PkgName)
	assert.Equal(t, 2, requestCount, "expected only the batch info request plus the exact-name-match miss, no provides search")
}

func TestAddCustomSeedsPackageCacheAndAllProviders(t *testing.T) {
	t.Parallel()

	srv, closeFn := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rpc/v5/info/my-tool-lib" {
			_ = json.NewEncoder(w).Encode(map[string]any{"type": "success", "resultcount": 0, "results": []map[string]any{}})
			return
		}

		t.Fatalf("unexpected request to %s; a custom package should be resolved without any other AUR call", r.URL.Path)
	})
	defer closeFn()

	custom, err := pkginfo.New("my-tool", "my-tool", "1.0-1", "https://example.com/my-tool.git", "",
		[]string{"my-tool-lib"}, nil, nil, nil)
	require.NoError(t, err)

	client := search.New(srv.URL, time.Second, fixedSelector{})
	client.AddCustom(custom)

	info, err := client.FindProvider(context.Background(), "my-tool-lib")
	require.NoError(t, err)
	assert.Equal(t, "my-tool", info.PkgName)
}

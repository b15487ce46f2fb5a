package store_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiviktnm/aurforge/internal/store"
)

func TestPutGetRoundTrip(t *testing.T) {
	t.Parallel()

	s, err := store.Load(filepath.Join(t.TempDir(), "store.json"), false)
	require.NoError(t, err)

	require.NoError(t, s.Put("commits", map[string]string{"foo": "abc123"}))

	var out map[string]string

	ok, err := s.Get("commits", &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc123", out["foo"])
}

func TestGetMissingKey(t *testing.T) {
	t.Parallel()

	s, err := store.Load(filepath.Join(t.TempDir(), "store.json"), false)
	require.NoError(t, err)

	var out string

	ok, err := s.Get("missing", &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnsureDoesNotOverwrite(t *testing.T) {
	t.Parallel()

	s, err := store.Load(filepath.Join(t.TempDir(), "store.json"), false)
	require.NoError(t, err)

	require.NoError(t, s.Put("k", "original"))
	require.NoError(t, s.Ensure("k", "default"))

	var out string

	_, err = s.Get("k", &out)
	require.NoError(t, err)
	assert.Equal(t, "original", out)
}

func TestSaveAndReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "store.json")

	s, err := store.Load(path, false)
	require.NoError(t, err)
	require.NoError(t, s.Put("key", "value"))
	require.NoError(t, s.Save())

	reloaded, err := store.Load(path, false)
	require.NoError(t, err)

	var out string

	ok, err := reloaded.Get("key", &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "value", out)
}

func TestSaveDryRunDoesNotWrite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "store.json")

	s, err := store.Load(path, true)
	require.NoError(t, err)
	require.NoError(t, s.Put("key", "value"))
	require.NoError(t, s.Save())

	reloaded, err := store.Load(path, false)
	require.NoError(t, err)

	var out string

	ok, err := reloaded.Get("key", &out)
	require.NoError(t, err)
	assert.False(t, ok, "a dry-run Save must not have written the store file")
}

func TestSetJSONEnvelope(t *testing.T) {
	t.Parallel()

	set := store.NewSet("a", "b")

	encoded, err := json.Marshal(set)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"__type__":"set"`)

	var decoded store.Set

	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.True(t, decoded.Contains("a"))
	assert.True(t, decoded.Contains("b"))
	assert.False(t, decoded.Contains("c"))
}

func TestSetUnmarshalsBareArray(t *testing.T) {
	t.Parallel()

	var decoded store.Set

	require.NoError(t, json.Unmarshal([]byte(`["x","y"]`), &decoded))
	assert.True(t, decoded.Contains("x"))
	assert.True(t, decoded.Contains("y"))
}

func TestStoreRoundTripsSetValue(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "store.json")

	s, err := store.Load(path, false)
	require.NoError(t, err)

	set := store.NewSet("pkg-a", "pkg-b")
	require.NoError(t, s.Put("ignored", set))
	require.NoError(t, s.Save())

	reloaded, err := store.Load(path, false)
	require.NoError(t, err)

	var out store.Set

	ok, err := reloaded.Get("ignored", &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, out.Contains("pkg-a"))
}

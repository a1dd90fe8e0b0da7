package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var entryCmp = []cmp.Option{
	cmpopts.IgnoreUnexported(Entry{}),
	cmpopts.EquateApproxTime(time.Millisecond),
}

func TestJSONFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "responses.json")
	store := NewJSONFileStore(path)

	c, clk := newTestCache(enabled(time.Hour, 10), store)
	c.Put("m", "a", "alpha", 10)
	clk.Advance(time.Second)
	c.Put("m", "b", "beta", 20)
	c.Get("m", "a")
	require.NoError(t, c.Flush())

	reloaded, _ := newTestCache(enabled(time.Hour, 10), NewJSONFileStore(path))
	reloaded.nowFunc = clk.Now

	want := c.snapshotLocked()
	got := reloaded.snapshotLocked()
	if diff := cmp.Diff(want, got, entryCmp...); diff != "" {
		t.Errorf("reloaded entries mismatch (-want +got):\n%s", diff)
	}

	payload, tokens, ok := reloaded.Get("m", "b")
	require.True(t, ok)
	assert.Equal(t, "beta", payload)
	assert.Equal(t, 20, tokens)
}

func TestJSONFileStore_FileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "responses.json")
	c, clk := newTestCache(enabled(time.Hour, 10), NewJSONFileStore(path))
	c.Put("model-x", "in", "out", 42)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	rec, ok := raw[Key("model-x", "in")]
	require.True(t, ok)

	assert.Equal(t, "out", rec["payload"])
	assert.Equal(t, float64(42), rec["token_count"])
	assert.Equal(t, "model-x", rec["model_id"])
	assert.Equal(t, float64(0), rec["hit_count"])
	assert.InDelta(t, float64(clk.Now().Unix()), rec["timestamp"], 0.001)
}

func TestJSONFileStore_LoadDropsExpired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "responses.json")
	c, clk := newTestCache(enabled(time.Minute, 10), NewJSONFileStore(path))
	c.Put("m", "old", "1", 1)
	clk.Advance(2 * time.Minute)
	c.Put("m", "new", "2", 1)

	entries, err := NewJSONFileStore(path).Load(time.Minute, clk.Now())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Contains(t, entries, Key("m", "new"))
}

func TestJSONFileStore_MissingFile(t *testing.T) {
	store := NewJSONFileStore(filepath.Join(t.TempDir(), "none.json"))
	entries, err := store.Load(0, time.Now())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, store.Remove())
}

func TestJSONFileStore_CorruptFileFailsOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "responses.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := NewJSONFileStore(path).Load(0, time.Now())
	require.Error(t, err)

	c, _ := newTestCache(enabled(time.Hour, 10), NewJSONFileStore(path))
	assert.Equal(t, 0, c.Len())

	// The cache keeps working and overwrites the corrupt file.
	c.Put("m", "in", "out", 1)
	_, _, ok := c.Get("m", "in")
	assert.True(t, ok)
	entries, err := NewJSONFileStore(path).Load(0, time.Now())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestJSONFileStore_ClearRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "responses.json")
	c, _ := newTestCache(enabled(time.Hour, 10), NewJSONFileStore(path))
	c.Put("m", "in", "out", 1)
	require.FileExists(t, path)

	c.Clear()
	assert.NoFileExists(t, path)
}

func TestBoltStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "responses.db")
	store, err := OpenBoltStore(path)
	require.NoError(t, err)

	c, clk := newTestCache(enabled(time.Hour, 10), store)
	c.Put("m", "a", "alpha", 10)
	clk.Advance(time.Second)
	c.Put("m", "b", "beta", 20)
	want := c.snapshotLocked()
	require.NoError(t, c.Close())

	reopened, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Load(time.Hour, clk.Now())
	require.NoError(t, err)

	gotValues := make(map[string]Entry, len(got))
	for k, e := range got {
		gotValues[k] = *e
	}
	if diff := cmp.Diff(want, gotValues, entryCmp...); diff != "" {
		t.Errorf("bolt entries mismatch (-want +got):\n%s", diff)
	}
}

func TestBoltStore_EvictionDeletesRecord(t *testing.T) {
	store, err := OpenBoltStore(filepath.Join(t.TempDir(), "responses.db"))
	require.NoError(t, err)
	defer store.Close()

	c, clk := newTestCache(enabled(0, 2), store)
	for _, in := range []string{"a", "b", "c"} {
		c.Put("m", in, in, 1)
		clk.Advance(time.Second)
	}

	stored, err := store.Load(0, clk.Now())
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	assert.NotContains(t, stored, Key("m", "a"))
}

func TestBoltStore_LoadDeletesExpired(t *testing.T) {
	store, err := OpenBoltStore(filepath.Join(t.TempDir(), "responses.db"))
	require.NoError(t, err)
	defer store.Close()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Put(Entry{Key: "old", Payload: "x", CreatedAt: now.Add(-time.Hour)}))
	require.NoError(t, store.Put(Entry{Key: "new", Payload: "y", CreatedAt: now}))

	got, err := store.Load(time.Minute, now)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Contains(t, got, "new")

	// Expired record is gone even without a ttl on the next load.
	all, err := store.Load(0, now)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestBoltStore_Remove(t *testing.T) {
	store, err := OpenBoltStore(filepath.Join(t.TempDir(), "responses.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put(Entry{Key: "k", CreatedAt: time.Now()}))
	require.NoError(t, store.Remove())

	got, err := store.Load(0, time.Now())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenStore(BackendJSON, filepath.Join(dir, "j"))
	require.NoError(t, err)
	assert.IsType(t, &JSONFileStore{}, s)

	b, err := OpenStore(BackendBolt, filepath.Join(dir, "b"))
	require.NoError(t, err)
	assert.IsType(t, &BoltStore{}, b)
	require.NoError(t, b.Close())

	_, err = OpenStore("redis", dir)
	assert.Error(t, err)
}

func TestNew_LoadEnforcesLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "responses.json")
	c, clk := newTestCache(enabled(0, 10), NewJSONFileStore(path))
	for _, in := range []string{"a", "b", "c"} {
		c.Put("m", in, in, 1)
		clk.Advance(time.Second)
	}

	smaller, _ := newTestCache(enabled(0, 2), NewJSONFileStore(path))
	assert.Equal(t, 2, smaller.Len())
	_, ok := smaller.entries[Key("m", "a")]
	assert.False(t, ok)
}

package cache

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wrdspanel/internal/frame"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testEntry(dir string, params map[string]any) Entry {
	return Entry{
		Dir:  dir,
		Name: "compustat_quarterly_raw",
		Key:  Key{Stage: "compustat_quarterly", SchemaVersion: "1", Params: params},
	}
}

func testFrame() *frame.Frame {
	return frame.MustNew(
		frame.NewString("gvkey", []string{"001", "002"}),
		frame.NewFloat("atq", []float64{1, 2}),
	)
}

func TestDigestIsStable(t *testing.T) {
	a := Key{Stage: "s", SchemaVersion: "1", Params: map[string]any{"b": 2, "a": []string{"x"}}}
	b := Key{Stage: "s", SchemaVersion: "1", Params: map[string]any{"a": []string{"x"}, "b": 2}}

	da, err := a.Digest()
	require.NoError(t, err)
	db, err := b.Digest()
	require.NoError(t, err)
	assert.Equal(t, da, db)
	assert.Len(t, da, 64)

	b.SchemaVersion = "2"
	dc, err := b.Digest()
	require.NoError(t, err)
	assert.NotEqual(t, da, dc)
}

func TestStoreLoadSave(t *testing.T) {
	params := map[string]any{"start": "1970-01-01", "end": "2024-12-31"}

	tests := []struct {
		name    string
		refresh bool
		mutate  func(t *testing.T, e *Entry)
		wantHit bool
	}{
		{
			name:    "hit with matching key",
			wantHit: true,
		},
		{
			name:    "refresh forces miss",
			refresh: true,
		},
		{
			name: "changed parameters miss",
			mutate: func(t *testing.T, e *Entry) {
				e.Key.Params = map[string]any{"start": "1990-01-01", "end": "2024-12-31"}
			},
		},
		{
			name: "missing binary miss",
			mutate: func(t *testing.T, e *Entry) {
				require.NoError(t, os.Remove(e.Path(".gob")))
			},
		},
		{
			name: "missing manifest miss",
			mutate: func(t *testing.T, e *Entry) {
				require.NoError(t, os.Remove(e.ManifestPath()))
			},
		},
		{
			name: "corrupt binary miss",
			mutate: func(t *testing.T, e *Entry) {
				require.NoError(t, os.WriteFile(e.Path(".gob"), []byte("junk"), 0644))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			entry := testEntry(dir, params)

			writer := NewStore(false, quietLogger())
			m, err := writer.Save(entry, testFrame())
			require.NoError(t, err)
			assert.Equal(t, 2, m.Rows)
			assert.Len(t, m.Files, 3)

			if tt.mutate != nil {
				tt.mutate(t, &entry)
			}

			reader := NewStore(tt.refresh, quietLogger())
			f, hit := reader.Load(entry)
			assert.Equal(t, tt.wantHit, hit)
			if tt.wantHit {
				assert.Equal(t, []string{"001", "002"}, f.Strings("gvkey"))
			} else {
				assert.Nil(t, f)
			}
		})
	}
}

func TestLoadReadsOnlyBinary(t *testing.T) {
	dir := t.TempDir()
	entry := testEntry(dir, nil)
	store := NewStore(false, quietLogger())
	_, err := store.Save(entry, testFrame())
	require.NoError(t, err)

	// Removing the text copies does not affect a hit.
	require.NoError(t, os.Remove(entry.Path(".csv")))
	require.NoError(t, os.Remove(entry.Path(".dta")))

	f, hit := store.Load(entry)
	require.True(t, hit)
	assert.Equal(t, 2, f.Len())

	require.NoError(t, store.Invalidate(entry))
	_, hit = store.Load(entry)
	assert.False(t, hit)
	assert.NoError(t, store.Invalidate(entry))
}

func TestFailedSaveDropsOldManifest(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(false, quietLogger())

	first := testEntry(dir, map[string]any{"gvkeys": []string{"001", "002"}})
	_, err := store.Save(first, testFrame())
	require.NoError(t, err)

	// A directory where the CSV copy goes makes the next save fail after
	// the binary has been replaced.
	require.NoError(t, os.Remove(first.Path(".csv")))
	require.NoError(t, os.Mkdir(first.Path(".csv"), 0o755))

	second := testEntry(dir, map[string]any{"gvkeys": []string{"999"}})
	_, err = store.Save(second, frame.MustNew(
		frame.NewString("gvkey", []string{"999"}),
		frame.NewFloat("atq", []float64{9}),
	))
	require.Error(t, err)

	f, hit := store.Load(first)
	assert.False(t, hit, "earlier key must not serve data written for another key")
	assert.Nil(t, f)
	_, hit = store.Load(second)
	assert.False(t, hit)
}

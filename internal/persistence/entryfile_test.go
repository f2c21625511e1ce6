package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadRecord(t *testing.T) {
	dir := t.TempDir()
	rec := Record{Value: json.RawMessage(`{"a":1}`), Version: 4, Timestamp: 1700000000000}

	require.NoError(t, WriteRecord(dir, rec))

	got, err := ReadRecord(dir)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(got.Value))
	assert.Equal(t, uint64(4), got.Version)
	assert.Equal(t, int64(1700000000000), got.Timestamp)

	// Pretty-printed with two-space indentation.
	data, err := os.ReadFile(filepath.Join(dir, DataFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"version\": 4")

	// No temp files are left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, DataFile, entries[0].Name())
}

func TestWriteRecord_Overwrites(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteRecord(dir, Record{Value: json.RawMessage(`"old"`), Version: 1}))
	require.NoError(t, WriteRecord(dir, Record{Value: json.RawMessage(`"new"`), Version: 2}))

	got, err := ReadRecord(dir)
	require.NoError(t, err)
	assert.Equal(t, `"new"`, string(got.Value))
	assert.Equal(t, uint64(2), got.Version)
}

func TestWriteRecord_MissingDir(t *testing.T) {
	err := WriteRecord(filepath.Join(t.TempDir(), "absent"), Record{Value: json.RawMessage(`1`)})
	assert.Error(t, err)
}

func TestReadRecord(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		malformed bool
		value     string
		version   uint64
		timestamp int64
	}{
		{name: "complete", content: `{"value":[1,2],"version":2,"timestamp":5}`, value: `[1,2]`, version: 2, timestamp: 5},
		{name: "null value is a value", content: `{"value":null,"version":1,"timestamp":5}`, value: `null`, version: 1, timestamp: 5},
		{name: "missing timestamp", content: `{"value":"x","version":1}`, value: `"x"`, version: 1},
		{name: "missing value", content: `{"version":1}`, malformed: true},
		{name: "missing version", content: `{"value":1}`, malformed: true},
		{name: "negative version", content: `{"value":1,"version":-3}`, malformed: true},
		{name: "fractional version", content: `{"value":1,"version":1.5}`, malformed: true},
		{name: "not json", content: `{{{`, malformed: true},
		{name: "top-level null", content: `null`, malformed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, DataFile), []byte(tt.content), 0644))

			got, err := ReadRecord(dir)
			if tt.malformed {
				assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.value, string(got.Value))
			assert.Equal(t, tt.version, got.Version)
			assert.Equal(t, tt.timestamp, got.Timestamp)
		})
	}
}

func TestReadRecord_NotExist(t *testing.T) {
	_, err := ReadRecord(t.TempDir())
	require.Error(t, err)
	assert.True(t, os.IsNotExist(errors.Cause(err)))
}

func TestScanAndRemove(t *testing.T) {
	root := t.TempDir()
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, os.MkdirAll(KeyDir(root, k), 0755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray.txt"), []byte("x"), 0644))

	var keys []string
	require.NoError(t, Scan(root, func(key string) error {
		keys = append(keys, key)
		return nil
	}))
	sort.Strings(keys)
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	require.NoError(t, RemoveKey(root, "b"))
	require.NoError(t, RemoveKey(root, "never-existed"))
	_, err := os.Stat(KeyDir(root, "b"))
	assert.True(t, os.IsNotExist(err))

	stop := errors.New("stop")
	err = Scan(root, func(string) error { return stop })
	assert.Equal(t, stop, err)

	assert.Error(t, Scan(filepath.Join(root, "missing"), func(string) error { return nil }))
}

package conflict

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v int64) *int64 { return &v }

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("version-control")
	require.NoError(t, err)
	assert.Equal(t, VersionControl, p)

	p, err = ParsePolicy("last-write-wins")
	require.NoError(t, err)
	assert.Equal(t, LastWriteWins, p)

	_, err = ParsePolicy("merge")
	assert.Error(t, err)
}

func TestResolve_VersionControl(t *testing.T) {
	r := NewResolver(VersionControl, zerolog.Nop())
	stored := Stamp{Version: 3, Timestamp: 1000}

	assert.NoError(t, r.Resolve("k", stored, Hint{}), "no hint is always accepted")
	assert.NoError(t, r.Resolve("k", stored, Hint{Version: ptr(3)}))
	assert.NoError(t, r.Resolve("k", stored, Hint{Version: ptr(10)}))

	err := r.Resolve("k", stored, Hint{Version: ptr(2)})
	var ce *ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "k", ce.Key)
	assert.Equal(t, int64(2), ce.ClientVersion)
	assert.Equal(t, uint64(3), ce.StoredVersion)
	assert.Contains(t, err.Error(), "(2)")
	assert.Contains(t, err.Error(), "(3)")

	// Negative versions can never be current.
	assert.Error(t, r.Resolve("k", Stamp{}, Hint{Version: ptr(-1)}))

	// Timestamps are ignored by this policy.
	assert.NoError(t, r.Resolve("k", stored, Hint{Version: ptr(3), Timestamp: ptr(1)}))
}

func TestResolve_LastWriteWins(t *testing.T) {
	var buf bytes.Buffer
	r := NewResolver(LastWriteWins, zerolog.New(&buf))
	stored := Stamp{Version: 5, Timestamp: 2000}

	assert.NoError(t, r.Resolve("k", stored, Hint{Version: ptr(0)}))
	assert.Empty(t, buf.String())

	assert.NoError(t, r.Resolve("k", stored, Hint{Version: ptr(0), Timestamp: ptr(1000)}))
	assert.Contains(t, buf.String(), "last-write-wins conflict")
	assert.Contains(t, buf.String(), `"key":"k"`)
}

func TestNext(t *testing.T) {
	got := Next(Stamp{Version: 7, Timestamp: 1}, 99)
	assert.Equal(t, Stamp{Version: 8, Timestamp: 99}, got)
}

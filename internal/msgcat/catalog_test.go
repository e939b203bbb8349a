package msgcat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type vars struct {
	Reason string
	Type   string
	Max    int
}

func TestEmbeddedErrors(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)

	s, err := c.Render("errors.ROOM_FULL", vars{})
	require.NoError(t, err)
	assert.Equal(t, "room is full", s)

	s, err = c.Render("errors.INVALID_MOVE", vars{Reason: "horse leg blocked"})
	require.NoError(t, err)
	assert.Equal(t, "invalid move: horse leg blocked", s)

	s, err = c.Render("errors.INVALID_PLAYER_NAME", vars{Max: 20})
	require.NoError(t, err)
	assert.Equal(t, "player name must be 1-20 characters", s)
}

func TestMissingKeyFallsBack(t *testing.T) {
	c := MustDefault()
	_, err := c.Render("errors.NOPE", nil)
	assert.Error(t, err)
	assert.Equal(t, "fallback", c.Text("errors.NOPE", nil, "fallback"))
	assert.False(t, c.Has("errors.NOPE"))
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("errors:\n  ROOM_FULL: \"방이 가득 찼습니다\"\n"), 0o644))
	c, err := New(dir)
	require.NoError(t, err)
	assert.Equal(t, "방이 가득 찼습니다", c.Text("errors.ROOM_FULL", vars{}, ""))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte("errors:\n  ROOM_FULL: \"dup\"\n"), 0o644))
	_, err = New(dir)
	assert.ErrorContains(t, err, "duplicate override key")
}

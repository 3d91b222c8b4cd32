package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelOrder(t *testing.T) {
	for i := 1; i < len(Levels); i++ {
		assert.True(t, Levels[i-1].Before(Levels[i]), "%s before %s", Levels[i-1], Levels[i])
	}
	assert.False(t, LevelCollections.Before(LevelNone))
}

func TestLevelNext(t *testing.T) {
	next, ok := LevelNone.Next()
	require.True(t, ok)
	assert.Equal(t, LevelFriendly, next)

	next, ok = LevelMahnung3.Next()
	require.True(t, ok)
	assert.Equal(t, LevelCollections, next)

	_, ok = LevelCollections.Next()
	assert.False(t, ok)

	_, ok = Level("BOGUS").Next()
	assert.False(t, ok)
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel(" mahnung_2 ")
	require.NoError(t, err)
	assert.Equal(t, LevelMahnung2, level)

	level, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, LevelNone, level)

	_, err = ParseLevel("MAHNUNG_4")
	assert.ErrorIs(t, err, ErrInvalidLevel)
}

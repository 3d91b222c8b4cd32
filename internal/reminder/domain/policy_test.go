package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func scenarioPolicy() Policy {
	p := DefaultPolicy()
	p.Thresholds = Thresholds{Friendly: 7, Mahnung1: 14, Mahnung2: 21, Mahnung3: 30, Collections: 45}
	return p
}

func TestNextLevelIsSingleStep(t *testing.T) {
	next, ok := NextLevel(LevelNone, 20, scenarioPolicy())
	assert.True(t, ok)
	assert.Equal(t, LevelFriendly, next)
}

func TestNextLevelBelowThreshold(t *testing.T) {
	_, ok := NextLevel(LevelFriendly, 13, scenarioPolicy())
	assert.False(t, ok)

	next, ok := NextLevel(LevelFriendly, 14, scenarioPolicy())
	assert.True(t, ok)
	assert.Equal(t, LevelMahnung1, next)
}

func TestNextLevelCollectionsIsTerminal(t *testing.T) {
	for _, days := range []int{0, 1, 45, 10_000} {
		_, ok := NextLevel(LevelCollections, days, scenarioPolicy())
		assert.False(t, ok, "days=%d", days)
	}
	_, ok := NextLevel(LevelCollections, 100, Policy{})
	assert.False(t, ok)
}

func TestNextLevelUnknownLevel(t *testing.T) {
	_, ok := NextLevel(Level("PAID"), 100, scenarioPolicy())
	assert.False(t, ok)
}

func TestNextLevelNegativeDays(t *testing.T) {
	_, ok := NextLevel(LevelNone, -1, Policy{})
	assert.False(t, ok)
}

func TestNextLevelToleratesUnorderedThresholds(t *testing.T) {
	p := scenarioPolicy()
	p.Thresholds.Mahnung1 = 5 // lower than friendly
	next, ok := NextLevel(LevelNone, 6, p)
	assert.False(t, ok, "friendly still needs 7 days")
	assert.Empty(t, next)

	next, ok = NextLevel(LevelFriendly, 6, p)
	assert.True(t, ok)
	assert.Equal(t, LevelMahnung1, next)
}

func TestNextLevelProperties(t *testing.T) {
	policies := []Policy{
		scenarioPolicy(),
		{},
		{Thresholds: Thresholds{Friendly: 100, Mahnung1: 1, Mahnung2: 50, Mahnung3: 0, Collections: 3}},
	}
	for _, p := range policies {
		for _, current := range Levels {
			for days := 0; days <= 400; days += 7 {
				next, ok := NextLevel(current, days, p)
				if !ok {
					continue
				}
				assert.True(t, current.Before(next), "%s -> %s", current, next)
				assert.Equal(t, current.Rank()+1, next.Rank(), "%s -> %s skipped a level", current, next)
			}
		}
	}
}

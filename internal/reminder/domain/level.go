// Package domain holds the dunning state machine, fee rules and the
// reminder ledger model.
package domain

import (
	"fmt"
	"strings"
)

// Level is the escalation stage of an invoice.
type Level string

const (
	LevelNone        Level = "NONE"
	LevelFriendly    Level = "FRIENDLY"
	LevelMahnung1    Level = "MAHNUNG_1"
	LevelMahnung2    Level = "MAHNUNG_2"
	LevelMahnung3    Level = "MAHNUNG_3"
	LevelCollections Level = "COLLECTIONS"
)

// Levels lists every level in escalation order.
var Levels = []Level{
	LevelNone,
	LevelFriendly,
	LevelMahnung1,
	LevelMahnung2,
	LevelMahnung3,
	LevelCollections,
}

// Rank returns the position of the level in the escalation order, or -1 for
// unknown values.
func (l Level) Rank() int {
	switch l {
	case LevelNone:
		return 0
	case LevelFriendly:
		return 1
	case LevelMahnung1:
		return 2
	case LevelMahnung2:
		return 3
	case LevelMahnung3:
		return 4
	case LevelCollections:
		return 5
	default:
		return -1
	}
}

func (l Level) Valid() bool {
	return l.Rank() >= 0
}

func (l Level) Terminal() bool {
	return l == LevelCollections
}

// Next returns the immediate successor of l. Terminal and unknown levels have
// none.
func (l Level) Next() (Level, bool) {
	rank := l.Rank()
	if rank < 0 || rank >= len(Levels)-1 {
		return "", false
	}
	return Levels[rank+1], true
}

// Before reports whether l comes strictly before other.
func (l Level) Before(other Level) bool {
	return l.Rank() < other.Rank()
}

func (l Level) String() string {
	return string(l)
}

// ParseLevel accepts the canonical names case-insensitively. An empty string
// is NONE.
func ParseLevel(raw string) (Level, error) {
	value := strings.ToUpper(strings.TrimSpace(raw))
	if value == "" {
		return LevelNone, nil
	}
	level := Level(value)
	if !level.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidLevel, raw)
	}
	return level, nil
}

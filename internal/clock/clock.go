package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts wall time so jobs can be driven from tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// System returns a Clock backed by time.Now in UTC.
func System() Clock {
	return systemClock{}
}

var Module = fx.Module("clock",
	fx.Provide(System),
)

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole UTC calendar days from start to end.
func DaysBetween(start, end time.Time) int {
	return int(StartOfDay(end).Sub(StartOfDay(start)).Hours() / 24)
}

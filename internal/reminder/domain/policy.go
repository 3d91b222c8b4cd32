package domain

import "github.com/shopspring/decimal"

// Thresholds are the days overdue required to enter each level. They are
// expected to be non-decreasing but nothing relies on it.
type Thresholds struct {
	Friendly    int
	Mahnung1    int
	Mahnung2    int
	Mahnung3    int
	Collections int
}

// Policy is a tenant's effective escalation configuration.
type Policy struct {
	Thresholds         Thresholds
	Mahnung1Fee        decimal.Decimal
	Mahnung2Fee        decimal.Decimal
	Mahnung3Fee        decimal.Decimal
	CollectionsFee     decimal.Decimal
	AnnualInterestRate decimal.Decimal
}

func DefaultPolicy() Policy {
	return Policy{
		Thresholds: Thresholds{
			Friendly:    7,
			Mahnung1:    14,
			Mahnung2:    21,
			Mahnung3:    30,
			Collections: 45,
		},
		Mahnung1Fee:        decimal.RequireFromString("5.00"),
		Mahnung2Fee:        decimal.RequireFromString("10.00"),
		Mahnung3Fee:        decimal.RequireFromString("15.00"),
		CollectionsFee:     decimal.RequireFromString("50.00"),
		AnnualInterestRate: decimal.RequireFromString("0.09"),
	}
}

// Threshold returns the days overdue needed to enter level.
func (p Policy) Threshold(level Level) (int, bool) {
	switch level {
	case LevelFriendly:
		return p.Thresholds.Friendly, true
	case LevelMahnung1:
		return p.Thresholds.Mahnung1, true
	case LevelMahnung2:
		return p.Thresholds.Mahnung2, true
	case LevelMahnung3:
		return p.Thresholds.Mahnung3, true
	case LevelCollections:
		return p.Thresholds.Collections, true
	default:
		return 0, false
	}
}

// NextLevel evaluates only the transition from current to its immediate
// successor. It never skips a level, whatever daysOverdue is.
func NextLevel(current Level, daysOverdue int, policy Policy) (Level, bool) {
	if current.Terminal() || daysOverdue < 0 {
		return "", false
	}
	next, ok := current.Next()
	if !ok {
		return "", false
	}
	threshold, ok := policy.Threshold(next)
	if !ok {
		return "", false
	}
	if daysOverdue < threshold {
		return "", false
	}
	return next, true
}

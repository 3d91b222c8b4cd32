package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

var daysPerYear = decimal.NewFromInt(365)

// Charge is the monetary consequence of entering a level. Values are kept at
// full precision until Rounded is called.
type Charge struct {
	Fee      decimal.Decimal
	Interest decimal.Decimal
}

// FeeFor computes the fee and delay interest for entering level.
//
// FRIENDLY carries no charge. MAHNUNG_1..3 charge the configured flat fee.
// COLLECTIONS charges the handling fee plus simple interest of
// amount * rate * days / 365.
func FeeFor(level Level, amount decimal.Decimal, daysOverdue int, policy Policy) Charge {
	switch level {
	case LevelMahnung1:
		return Charge{Fee: policy.Mahnung1Fee, Interest: decimal.Zero}
	case LevelMahnung2:
		return Charge{Fee: policy.Mahnung2Fee, Interest: decimal.Zero}
	case LevelMahnung3:
		return Charge{Fee: policy.Mahnung3Fee, Interest: decimal.Zero}
	case LevelCollections:
		return Charge{
			Fee:      policy.CollectionsFee,
			Interest: DelayInterest(amount, policy.AnnualInterestRate, daysOverdue),
		}
	default:
		return Charge{Fee: decimal.Zero, Interest: decimal.Zero}
	}
}

// DelayInterest is simple, non-compounding interest prorated per day.
func DelayInterest(amount, annualRate decimal.Decimal, daysOverdue int) decimal.Decimal {
	if daysOverdue <= 0 || amount.IsNegative() {
		return decimal.Zero
	}
	return amount.
		Mul(annualRate).
		Mul(decimal.NewFromInt(int64(daysOverdue))).
		Div(daysPerYear)
}

// Rounded rounds both amounts half-up to places decimals.
func (c Charge) Rounded(places int32) Charge {
	return Charge{
		Fee:      c.Fee.Round(places),
		Interest: c.Interest.Round(places),
	}
}

// Total is fee plus interest.
func (c Charge) Total() decimal.Decimal {
	return c.Fee.Add(c.Interest)
}

// MinorUnits returns the number of decimals for a currency code.
func MinorUnits(currency string) int32 {
	switch strings.ToUpper(strings.TrimSpace(currency)) {
	case "JPY", "KRW", "VND", "CLP", "ISK":
		return 0
	case "BHD", "KWD", "OMR", "JOD", "TND":
		return 3
	default:
		return 2
	}
}

// ToMinor rounds value half-up and returns it in minor currency units.
func ToMinor(value decimal.Decimal, currency string) int64 {
	places := MinorUnits(currency)
	return value.Round(places).Shift(places).IntPart()
}

// FromMinor converts an amount in minor units to a decimal.
func FromMinor(amount int64, currency string) decimal.Decimal {
	return decimal.New(amount, -MinorUnits(currency))
}

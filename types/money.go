// Package types provides common value types shared across the engine.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Money is a price in minor units (cents, pence) tagged with a
// lowercase ISO 4217 currency code. Tier prices are set in whole minor
// units and never touch floating point.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// USD returns a price in US cents.
func USD(cents int64) Money { return Money{Amount: cents, Currency: "usd"} }

// EUR returns a price in euro cents.
func EUR(cents int64) Money { return Money{Amount: cents, Currency: "eur"} }

// GBP returns a price in pence.
func GBP(pence int64) Money { return Money{Amount: pence, Currency: "gbp"} }

// Zero returns a zero price in the given currency.
func Zero(currency string) Money {
	return Money{Currency: strings.ToLower(currency)}
}

// IsZero reports whether the amount is zero. The free tier's prices
// are zero regardless of currency.
func (m Money) IsZero() bool { return m.Amount == 0 }

// Equal reports whether both amount and currency match.
func (m Money) Equal(other Money) bool { return m == other }

// Add returns the sum of two prices. Mixing currencies is an error,
// not a panic; price math runs in request paths.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("money: cannot add %s to %s", other.Currency, m.Currency)
	}
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}, nil
}

// PerMonth returns the effective monthly price of an annual total,
// rounded down to whole minor units.
func (m Money) PerMonth() Money {
	return Money{Amount: m.Amount / 12, Currency: m.Currency}
}

// String renders the price with its currency symbol, e.g. "$29.00".
// All supported currencies carry two minor digits.
func (m Money) String() string {
	amt := m.Amount
	sign := ""
	if amt < 0 {
		sign = "-"
		amt = -amt
	}
	return fmt.Sprintf("%s%s%d.%02d", sign, symbol(m.Currency), amt/100, amt%100)
}

// MarshalJSON adds a pre-rendered display string alongside the raw
// amount so API consumers don't re-implement currency formatting.
func (m Money) MarshalJSON() ([]byte, error) {
	type raw Money
	return json.Marshal(struct {
		raw
		Display string `json:"display"`
	}{raw(m), m.String()})
}

func symbol(currency string) string {
	switch strings.ToLower(currency) {
	case "usd":
		return "$"
	case "eur":
		return "€"
	case "gbp":
		return "£"
	default:
		return strings.ToUpper(currency) + " "
	}
}

package utils

import "github.com/shopspring/decimal"

// FormatMinor renders an amount in minor currency units as a major-unit
// string with two decimals, e.g. 19101 -> "191.01".
func FormatMinor(amount int64) string {
	return decimal.New(amount, -2).StringFixed(2)
}

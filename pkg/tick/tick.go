// Package tick rounds prices onto the venue's minimum price increment.
package tick

import "github.com/shopspring/decimal"

// Down rounds v down to a multiple of increment.
func Down(v, increment float64) float64 {
	return round(v, increment, decimal.Decimal.Floor)
}

// Up rounds v up to a multiple of increment.
func Up(v, increment float64) float64 {
	return round(v, increment, decimal.Decimal.Ceil)
}

// Nearest rounds v to the closest multiple of increment, halves away from zero.
func Nearest(v, increment float64) float64 {
	return round(v, increment, func(d decimal.Decimal) decimal.Decimal { return d.Round(0) })
}

// Equal reports whether a and b fall on the same increment step.
func Equal(a, b, increment float64) bool {
	if increment <= 0 {
		increment = 1e-9
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < increment/2
}

func round(v, increment float64, fn func(decimal.Decimal) decimal.Decimal) float64 {
	if increment <= 0 {
		return v
	}
	inc := decimal.NewFromFloat(increment)
	steps := fn(decimal.NewFromFloat(v).Div(inc))
	out, _ := steps.Mul(inc).Float64()
	return out
}

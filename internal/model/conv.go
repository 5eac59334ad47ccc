package model

import "math"

// Rupees converts paise to rupees for display surfaces.
func Rupees(paise int64) float64 {
	return float64(paise) / 100.0
}

// Paise converts a rupee amount to paise, rounding to the nearest paisa.
func Paise(rupees float64) int64 {
	return int64(math.Round(rupees * 100.0))
}

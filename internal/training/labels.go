// Package training fits the supervised severity classifier from the
// processed incident dataset.
package training

import (
	"math"
	"slices"

	"github.com/opensource-finance/threatlens/internal/domain"
)

// Quantile cut points of the affected-users distribution.
const (
	LowQuantile    = 0.33
	MediumQuantile = 0.66
)

// Quantile returns the q-th quantile with linear interpolation between the
// closest ranks. Empty input yields NaN.
func Quantile(values []float64, q float64) float64 {
	n := len(values)
	if n == 0 {
		return math.NaN()
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	h := float64(n-1) * q
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	if lo < 0 {
		return sorted[0]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

// Label bins one affected-users count; intervals are right-inclusive.
func Label(users float64, th domain.Thresholds) domain.SeverityLabel {
	switch {
	case users <= th.Q33:
		return domain.LabelLow
	case users <= th.Q66:
		return domain.LabelMedium
	default:
		return domain.LabelHigh
	}
}

// LabelByQuantiles computes the 33% and 66% thresholds of users and labels
// every value: Low up to Q33, Medium up to Q66, High above.
func LabelByQuantiles(users []float64) (domain.Thresholds, []domain.SeverityLabel) {
	th := domain.Thresholds{
		Q33: Quantile(users, LowQuantile),
		Q66: Quantile(users, MediumQuantile),
	}
	labels := make([]domain.SeverityLabel, len(users))
	for i, u := range users {
		labels[i] = Label(u, th)
	}
	return th, labels
}

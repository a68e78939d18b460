package aggregate

import "sort"

// Median returns the middle value, the mean of the two middle values for an
// even count, and 0 for no values. The input is not modified.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Summarize computes Stats, nil when there are no values
func Summarize(values []float64) *Stats {
	if len(values) == 0 {
		return nil
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return &Stats{
		Min:           lo,
		Median:        Median(values),
		Max:           hi,
		ProviderCount: len(values),
	}
}

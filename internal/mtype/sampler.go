package mtype

import "math"

// Sampler is an empty type; the distribution helpers below are package-level
// functions used by this package's generators (GenInt, GenArrayLength,
// GenStringLength) for biased sampling of bounded ranges.
type Sampler struct{}

// Triangular samples from a triangular distribution on [lo,hi] with the
// given mode, using inverse-CDF sampling against u.
func Triangular(u, lo, hi, mode float64) float64 {
	if hi <= lo {
		return lo
	}
	fc := (mode - lo) / (hi - lo)
	if u < fc {
		return lo + math.Sqrt(u*(hi-lo)*(mode-lo))
	}
	return hi - math.Sqrt((1-u)*(hi-lo)*(hi-mode))
}

// LogUniform samples uniformly in log-space on [lo,hi] given u in [0,1).
func LogUniform(u, lo, hi float64) int {
	if lo <= 0 {
		lo = 1
	}
	return int(math.Exp(u*(math.Log(hi)-math.Log(lo)) + math.Log(lo)))
}

// WeightedChoice picks one element from choices according to integer
// weights, given r drawn uniformly from [0,total weight).
func WeightedChoice(r int, choices []int, weights []int) int {
	for i, w := range weights {
		r -= w
		if r < 0 {
			return choices[i]
		}
	}
	return choices[len(choices)-1]
}

package stats

import "math"

// Running accumulates count, mean, variance, min and max one value at a time
// using Welford's algorithm. The zero value is ready to use.
// Running is not safe for concurrent use.
type Running struct {
	count int
	mean  float64
	m2    float64 // Sum of squared distances from the mean
	min   float64
	max   float64
}

// Update folds a value into the accumulator
func (r *Running) Update(value float64) {
	r.count++
	if r.count == 1 {
		r.min = value
		r.max = value
	} else {
		r.min = math.Min(r.min, value)
		r.max = math.Max(r.max, value)
	}

	delta := value - r.mean
	r.mean += delta / float64(r.count)
	r.m2 += delta * (value - r.mean)
}

// Count returns the number of values folded in
func (r *Running) Count() int {
	return r.count
}

// Snapshot returns the current statistics
func (r *Running) Snapshot() Statistics {
	if r.count == 0 {
		return Statistics{}
	}

	variance := r.m2 / float64(r.count)
	if variance < 0 {
		variance = 0
	}

	// Rounding in the incremental mean can leave it a hair outside [min, max]
	avg := math.Min(math.Max(r.mean, r.min), r.max)

	return Statistics{
		Count: r.count,
		Avg:   avg,
		Min:   r.min,
		Max:   r.max,
		Std:   math.Sqrt(variance),
	}
}

// Reset clears the accumulator
func (r *Running) Reset() {
	*r = Running{}
}

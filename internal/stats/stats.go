// Package stats provides incremental and batch summary statistics over
// metric samples.
package stats

// Statistics summarizes a set of values
// Avg, Min, Max and Std are only meaningful when Count > 0.
type Statistics struct {
	Count int     `json:"count"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Std   float64 `json:"std"` // Population standard deviation
}

// Empty reports whether the statistics were computed over no values
func (s Statistics) Empty() bool {
	return s.Count == 0
}

// Consistency returns (1 - std/avg) * 100, the share of the mean not
// explained by spread. It returns 0 when there are no values or avg is not positive.
func (s Statistics) Consistency() float64 {
	if s.Count == 0 || s.Avg <= 0 {
		return 0
	}
	return (1 - s.Std/s.Avg) * 100
}

// Ptr returns a pointer to a copy of s, or nil when s is empty
func (s Statistics) Ptr() *Statistics {
	if s.Empty() {
		return nil
	}
	return &s
}

// Compute returns the statistics of values in a single pass
func Compute(values []float64) Statistics {
	var r Running
	for _, v := range values {
		r.Update(v)
	}
	return r.Snapshot()
}

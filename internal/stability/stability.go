// Package stability groups continuous-test iterations into minute buckets,
// rates each bucket and scores the run as a whole.
package stability

import (
	"sort"
	"time"

	"github.com/wellsgz/speedpulse/internal/stats"
)

// DefaultIterationsPerMinute matches a producer sampling every 5 seconds
const DefaultIterationsPerMinute = 12

// Bucket rating thresholds (Mbps / ms)
const (
	StableMinDownload = 50.0
	StableMinUpload   = 25.0
	StableMaxPing     = 50.0
)

// Rating is the qualitative verdict for a minute bucket
type Rating string

const (
	Stable   Rating = "Stable"
	Unstable Rating = "Unstable"
)

// IterationResult is one completed ping/download/upload triple of a continuous run
type IterationResult struct {
	Index     int       `json:"index"`
	Ping      float64   `json:"ping"`
	Download  float64   `json:"download"`
	Upload    float64   `json:"upload"`
	Timestamp time.Time `json:"timestamp"`
}

// MinuteBucket holds the statistics of the iterations that fell into one minute
type MinuteBucket struct {
	Minute   int              `json:"minute"` // 1-based
	Tests    int              `json:"tests"`
	Download stats.Statistics `json:"download"`
	Upload   stats.Statistics `json:"upload"`
	Ping     stats.Statistics `json:"ping"`
	Rating   Rating           `json:"rating"`
}

// MinuteAggregator derives minute buckets from an iteration sequence
type MinuteAggregator struct {
	IterationsPerMinute int
}

// NewMinuteAggregator creates an aggregator, falling back to the default rate when n <= 0
func NewMinuteAggregator(n int) MinuteAggregator {
	if n <= 0 {
		n = DefaultIterationsPerMinute
	}
	return MinuteAggregator{IterationsPerMinute: n}
}

// MinuteOf returns the 1-based minute bucket an iteration index falls into
func (a MinuteAggregator) MinuteOf(index int) int {
	n := a.IterationsPerMinute
	if n <= 0 {
		n = DefaultIterationsPerMinute
	}
	if index < 0 {
		index = 0
	}
	return index/n + 1
}

// Aggregate recomputes the buckets for results from scratch. Buckets are
// returned in increasing minute order and every result lands in exactly one.
// The input is not modified.
func (a MinuteAggregator) Aggregate(results []IterationResult) []MinuteBucket {
	if len(results) == 0 {
		return []MinuteBucket{}
	}

	type accumulators struct {
		tests                  int
		download, upload, ping stats.Running
	}
	byMinute := make(map[int]*accumulators)

	for _, r := range results {
		minute := a.MinuteOf(r.Index)
		acc, exists := byMinute[minute]
		if !exists {
			acc = &accumulators{}
			byMinute[minute] = acc
		}
		acc.tests++
		acc.download.Update(r.Download)
		acc.upload.Update(r.Upload)
		acc.ping.Update(r.Ping)
	}

	minutes := make([]int, 0, len(byMinute))
	for m := range byMinute {
		minutes = append(minutes, m)
	}
	sort.Ints(minutes)

	buckets := make([]MinuteBucket, 0, len(minutes))
	for _, m := range minutes {
		acc := byMinute[m]
		b := MinuteBucket{
			Minute:   m,
			Tests:    acc.tests,
			Download: acc.download.Snapshot(),
			Upload:   acc.upload.Snapshot(),
			Ping:     acc.ping.Snapshot(),
		}
		b.Rating = RateBucket(b)
		buckets = append(buckets, b)
	}
	return buckets
}

// RateBucket applies the fixed stability policy to a bucket's averages
func RateBucket(b MinuteBucket) Rating {
	if b.Download.Avg >= StableMinDownload &&
		b.Upload.Avg >= StableMinUpload &&
		b.Ping.Avg <= StableMaxPing {
		return Stable
	}
	return Unstable
}

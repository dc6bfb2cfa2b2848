package stability

import (
	"github.com/wellsgz/speedpulse/internal/stats"
)

// Scorer turns a run's minute buckets into a stability percentage
type Scorer func(buckets []MinuteBucket) float64

// BucketScore is the default Scorer: the share of minute buckets rated Stable, as a percentage.
// A run with no buckets scores 0.
func BucketScore(buckets []MinuteBucket) float64 {
	if len(buckets) == 0 {
		return 0
	}
	stable := 0
	for _, b := range buckets {
		if b.Rating == Stable {
			stable++
		}
	}
	return 100 * float64(stable) / float64(len(buckets))
}

// Summary is the aggregate of a finished continuous run
type Summary struct {
	Download        stats.Statistics `json:"download"`
	Upload          stats.Statistics `json:"upload"`
	Ping            stats.Statistics `json:"ping"`
	StabilityScore  float64          `json:"stability_score"`
	TestCount       int              `json:"test_count"`
	DurationMinutes int              `json:"duration"`
	Buckets         []MinuteBucket   `json:"buckets"`
}

// Summarize computes the whole-run statistics, buckets and score for results.
// A nil scorer uses BucketScore.
func Summarize(results []IterationResult, agg MinuteAggregator, scorer Scorer, durationMinutes int) Summary {
	if scorer == nil {
		scorer = BucketScore
	}

	var download, upload, ping stats.Running
	for _, r := range results {
		download.Update(r.Download)
		upload.Update(r.Upload)
		ping.Update(r.Ping)
	}

	buckets := agg.Aggregate(results)
	return Summary{
		Download:        download.Snapshot(),
		Upload:          upload.Snapshot(),
		Ping:            ping.Snapshot(),
		StabilityScore:  scorer(buckets),
		TestCount:       len(results),
		DurationMinutes: durationMinutes,
		Buckets:         buckets,
	}
}

// Package quality classifies a connection from its ping, download and upload figures.
package quality

import (
	"github.com/wellsgz/speedpulse/internal/storage"
)

// Rating is the overall verdict for a single test
type Rating string

const (
	Excellent Rating = "Excellent"
	Good      Rating = "Good"
	Poor      Rating = "Poor"
)

// Assessment is the result of Classify
type Assessment struct {
	Rating          Rating   `json:"rating"`
	Recommendations []string `json:"recommendations"`
}

// Classify rates a connection and lists what it is suited for.
// Recommendations are ordered download, upload, ping.
func Classify(ping, download, upload float64) Assessment {
	return Assessment{
		Rating:          Rate(ping, download, upload),
		Recommendations: Recommendations(ping, download, upload),
	}
}

// Rate returns the overall rating from ping and the mean of download and upload
func Rate(ping, download, upload float64) Rating {
	avgSpeed := (download + upload) / 2
	switch {
	case ping <= 20 && avgSpeed >= 100:
		return Excellent
	case ping <= 50 && avgSpeed >= 50:
		return Good
	default:
		return Poor
	}
}

// Recommendations returns one usage note per metric
func Recommendations(ping, download, upload float64) []string {
	recs := make([]string, 0, 3)

	switch {
	case download >= 100:
		recs = append(recs, "Excellent for 4K streaming and large downloads")
	case download >= 25:
		recs = append(recs, "Good for HD streaming and video calls")
	default:
		recs = append(recs, "Suitable for basic browsing and SD streaming")
	}

	switch {
	case upload >= 50:
		recs = append(recs, "Great for video conferencing and content creation")
	case upload >= 10:
		recs = append(recs, "Adequate for video calls and file uploads")
	default:
		recs = append(recs, "Limited upload capabilities")
	}

	switch {
	case ping <= 20:
		recs = append(recs, "Excellent for online gaming")
	case ping <= 50:
		recs = append(recs, "Good for most online activities")
	default:
		recs = append(recs, "May experience lag in real-time applications")
	}

	return recs
}

// Level is a per-metric performance indicator
type Level string

const (
	LevelExcellent Level = "EXCELLENT"
	LevelGood      Level = "GOOD"
	LevelPoor      Level = "POOR"
)

// Indicator grades a single metric value. Ping is lower-is-better (20/50 ms),
// throughput is higher-is-better (100/50 Mbps).
func Indicator(kind storage.Kind, value float64) Level {
	if kind == storage.KindPing {
		switch {
		case value <= 20:
			return LevelExcellent
		case value <= 50:
			return LevelGood
		default:
			return LevelPoor
		}
	}

	switch {
	case value >= 100:
		return LevelExcellent
	case value >= 50:
		return LevelGood
	default:
		return LevelPoor
	}
}

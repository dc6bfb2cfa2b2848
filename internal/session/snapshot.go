package session

import (
	"time"

	"github.com/wellsgz/speedpulse/internal/protocol"
	"github.com/wellsgz/speedpulse/internal/quality"
	"github.com/wellsgz/speedpulse/internal/stability"
	"github.com/wellsgz/speedpulse/internal/stats"
	"github.com/wellsgz/speedpulse/internal/storage"
)

// CurrentSpeed holds the most recent value of each metric, nil until one arrives
type CurrentSpeed struct {
	Ping     *float64 `json:"ping"`
	Download *float64 `json:"download"`
	Upload   *float64 `json:"upload"`
}

// LiveSeries holds the buffered samples of each metric, oldest first
type LiveSeries struct {
	Ping     []float64 `json:"ping"`
	Download []float64 `json:"download"`
	Upload   []float64 `json:"upload"`
}

// Get returns the series for a kind
func (l LiveSeries) Get(kind storage.Kind) []float64 {
	switch kind {
	case storage.KindPing:
		return l.Ping
	case storage.KindDownload:
		return l.Download
	case storage.KindUpload:
		return l.Upload
	}
	return nil
}

// Tail returns a copy keeping at most n of the newest samples per metric
func (l LiveSeries) Tail(n int) LiveSeries {
	return LiveSeries{
		Ping:     tail(l.Ping, n),
		Download: tail(l.Download, n),
		Upload:   tail(l.Upload, n),
	}
}

func tail(values []float64, n int) []float64 {
	if n <= 0 || n >= len(values) {
		return values
	}
	return values[len(values)-n:]
}

// MetricStats holds statistics per metric, nil where no values exist
type MetricStats struct {
	Ping     *stats.Statistics `json:"ping"`
	Download *stats.Statistics `json:"download"`
	Upload   *stats.Statistics `json:"upload"`
}

// Consistency returns (1 - std/avg) * 100 per metric, or nil without
// statistics for every metric
func (s MetricStats) Consistency() *Consistency {
	if s.Ping == nil || s.Download == nil || s.Upload == nil {
		return nil
	}
	return &Consistency{
		Ping:     s.Ping.Consistency(),
		Download: s.Download.Consistency(),
		Upload:   s.Upload.Consistency(),
	}
}

// Consistency is the percentage of each metric's mean not explained by its spread
type Consistency struct {
	Ping     float64 `json:"ping"`
	Download float64 `json:"download"`
	Upload   float64 `json:"upload"`
}

// FinalResult is the frozen outcome of a single test
type FinalResult struct {
	Ping        float64          `json:"ping"`
	Download    float64          `json:"download"`
	Upload      float64          `json:"upload"`
	Jitter      float64          `json:"jitter"`
	Server      *protocol.Server `json:"server,omitempty"`
	CompletedAt time.Time        `json:"completed_at"`
}

// Snapshot is a read-only copy of the derived session state
type Snapshot struct {
	SessionID       string     `json:"session_id,omitempty"`
	Mode            Mode       `json:"mode,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	ServerID        string     `json:"server_id,omitempty"`
	Phase           Phase      `json:"phase"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	Message         string     `json:"message,omitempty"`
	Error           string     `json:"error,omitempty"`

	CurrentSpeed CurrentSpeed         `json:"current_speed"`
	LiveSeries   LiveSeries           `json:"live_series"`
	SampleStats  MetricStats          `json:"sample_stats"`
	Client       *protocol.ClientInfo `json:"client,omitempty"`
	Server       *protocol.Server     `json:"server,omitempty"`

	FinalResult *FinalResult `json:"final_result,omitempty"`

	Iterations    []stability.IterationResult `json:"iterations,omitempty"`
	SessionStats  MetricStats                 `json:"session_stats"`
	RunningStats  *protocol.RunningStats      `json:"running_stats,omitempty"`
	MinuteBuckets []stability.MinuteBucket    `json:"minute_buckets,omitempty"`
	Consistency   *Consistency                `json:"consistency,omitempty"` // Over iteration results
	Summary       *protocol.StabilityAnalysis `json:"summary,omitempty"`

	Quality    *quality.Assessment `json:"quality,omitempty"`
	OutOfOrder int                 `json:"out_of_order_events"`
}

// Compact returns a copy whose live series keep at most n samples per metric
func (s Snapshot) Compact(n int) Snapshot {
	s.LiveSeries = s.LiveSeries.Tail(n)
	return s
}

// Elapsed returns how long the session has run, or ran until it ended
func (s Snapshot) Elapsed(now time.Time) time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	if s.EndedAt != nil {
		return s.EndedAt.Sub(*s.StartedAt)
	}
	return now.Sub(*s.StartedAt)
}

package producer

import (
	"context"
	"sort"

	"github.com/wellsgz/speedpulse/internal/protocol"
	"github.com/wellsgz/speedpulse/internal/stats"
)

// Measurer performs the individual measurements of a test iteration
type Measurer interface {
	// Client returns the public address and ISP of the measuring host
	Client(ctx context.Context) (protocol.ClientInfo, error)

	// Servers returns the available servers, nearest first
	Servers(ctx context.Context) ([]protocol.Server, error)

	// Latency pings a server, calling onSample with each round trip in ms
	Latency(ctx context.Context, server protocol.Server, onSample func(ms float64)) (LatencyResult, error)

	// Download measures download throughput, calling onProgress with the running rate in Mbps
	Download(ctx context.Context, server protocol.Server, onProgress func(mbps float64)) (float64, error)

	// Upload measures upload throughput, calling onProgress with the running rate in Mbps
	Upload(ctx context.Context, server protocol.Server, onProgress func(mbps float64)) (float64, error)
}

// Sampler measures latency to a host outside the speedtest protocol
type Sampler interface {
	Sample(ctx context.Context, host string, onSample func(ms float64)) (LatencyResult, error)
}

// LatencyResult summarizes a burst of pings
type LatencyResult struct {
	PingMs   float64 `json:"ping_ms"`   // Median round trip
	JitterMs float64 `json:"jitter_ms"` // Population standard deviation
	MinMs    float64 `json:"min_ms"`
	MaxMs    float64 `json:"max_ms"`
	Sent     int     `json:"sent"`
	Received int     `json:"received"`
}

// LossPct returns the percentage of pings that got no reply
func (r LatencyResult) LossPct() float64 {
	if r.Sent == 0 {
		return 100
	}
	return float64(r.Sent-r.Received) / float64(r.Sent) * 100
}

// newLatencyResult builds a result from individual round trips in ms
func newLatencyResult(rtts []float64, sent int) LatencyResult {
	s := stats.Compute(rtts)
	return LatencyResult{
		PingMs:   calculateMedian(rtts),
		JitterMs: s.Std,
		MinMs:    s.Min,
		MaxMs:    s.Max,
		Sent:     sent,
		Received: len(rtts),
	}
}

// calculateMedian returns the median of values without modifying them
func calculateMedian(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

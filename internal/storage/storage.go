package storage

import (
	"fmt"
	"time"
)

// Kind identifies the metric a sample belongs to
type Kind string

const (
	KindPing     Kind = "ping"     // Latency in milliseconds
	KindDownload Kind = "download" // Throughput in Mbps
	KindUpload   Kind = "upload"   // Throughput in Mbps
)

// Kinds lists every metric kind in display order
var Kinds = []Kind{KindPing, KindDownload, KindUpload}

// ParseKind converts a string to a Kind
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindPing, KindDownload, KindUpload:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown metric kind %q", s)
	}
}

// Sample is a single recorded metric observation
type Sample struct {
	Kind      Kind      `json:"kind"`
	Value     float64   `json:"value"`
	Index     uint64    `json:"index"` // Arrival order, monotonic per kind
	Timestamp time.Time `json:"timestamp"`
}

// Buffer defines the interface for bounded live sample storage
type Buffer interface {
	// Append records a sample for the given kind, evicting the oldest one when full
	Append(kind Kind, value float64, timestamp time.Time) Sample

	// Window returns the retained values for a kind, oldest first
	Window(kind Kind) []float64

	// Samples returns the retained samples for a kind, oldest first
	Samples(kind Kind) []Sample

	// Len returns the number of retained samples for a kind
	Len(kind Kind) int

	// Reset clears all kinds
	Reset()
}

// Package protocol defines the messages exchanged with a measurement producer.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message types
const (
	// Outbound requests to the producer
	MsgBeginSession  = "begin_session"
	MsgCancelSession = "cancel_session"
	MsgGetServers    = "get_servers"

	// Inbound from the producer
	MsgServerList        = "server_list"
	MsgClientInfo        = "client_info"
	MsgServerSelected    = "server_selected"
	MsgPingSample        = "ping_sample"
	MsgDownloadProgress  = "download_progress"
	MsgDownloadComplete  = "download_complete"
	MsgUploadProgress    = "upload_progress"
	MsgUploadComplete    = "upload_complete"
	MsgFinal             = "final"
	MsgRunningStats      = "running_stats"
	MsgStabilityAnalysis = "stability_analysis"
	MsgError             = "error"
)

// ProgressTypes lists the inbound progress event tags
var ProgressTypes = []string{
	MsgClientInfo,
	MsgServerSelected,
	MsgPingSample,
	MsgDownloadProgress,
	MsgDownloadComplete,
	MsgUploadProgress,
	MsgUploadComplete,
}

// IsProgress reports whether msgType is a progress event tag
func IsProgress(msgType string) bool {
	for _, t := range ProgressTypes {
		if t == msgType {
			return true
		}
	}
	return false
}

// Envelope is the unit carried on the wire
type Envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// NewEnvelope marshals data into an envelope of the given type
func NewEnvelope(msgType, sessionID string, data any) (Envelope, error) {
	env := Envelope{Type: msgType, SessionID: sessionID}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
		}
		env.Data = raw
	}
	return env, nil
}

// ErrorEnvelope builds an error message for a session
func ErrorEnvelope(sessionID, message string) Envelope {
	return Envelope{Type: MsgError, SessionID: sessionID, Error: message}
}

// Decode unmarshals the payload into v
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s message has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Sink receives messages from a producer, one at a time, in order
type Sink interface {
	Deliver(env Envelope)
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(env Envelope)

// Deliver calls f(env)
func (f SinkFunc) Deliver(env Envelope) {
	f(env)
}

// BeginSession asks the producer to start measuring
type BeginSession struct {
	SessionID       string `json:"session_id"`
	Mode            string `json:"mode"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	ServerID        string `json:"server_id,omitempty"`
}

// CancelSession asks the producer to stop measuring
type CancelSession struct {
	SessionID string `json:"session_id"`
}

// ClientInfo describes the measuring host as seen by the test service
type ClientInfo struct {
	IP  string `json:"ip"`
	ISP string `json:"isp"`
}

// Server is a measurement server
type Server struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Location   string  `json:"location"`
	Country    string  `json:"country"`
	DistanceKm float64 `json:"distance_km"`
	Host       string  `json:"host,omitempty"`
}

// ServerList is the reply to get_servers
type ServerList struct {
	Servers []Server `json:"servers"`
}

// Progress is the payload of every progress event.
// Only the field matching the event tag is set.
type Progress struct {
	Ping     *float64    `json:"ping,omitempty"`     // ms
	Download *float64    `json:"download,omitempty"` // Mbps
	Upload   *float64    `json:"upload,omitempty"`   // Mbps
	Message  string      `json:"message,omitempty"`
	Client   *ClientInfo `json:"client,omitempty"`
	Server   *Server     `json:"server,omitempty"`
}

// FinalResult ends a single test or one iteration of a continuous test
type FinalResult struct {
	Ping      float64   `json:"ping"`
	Download  float64   `json:"download"`
	Upload    float64   `json:"upload"`
	Jitter    *float64  `json:"jitter,omitempty"`
	Server    *Server   `json:"server,omitempty"`
	Iteration int       `json:"iteration,omitempty"` // 1-based in continuous mode
	Timestamp time.Time `json:"timestamp"`
}

// RunningStats is the per-iteration aggregate of a continuous test
type RunningStats struct {
	TestCount       int     `json:"test_count"`
	AvgPing         float64 `json:"avg_ping"`
	AvgDownload     float64 `json:"avg_download"`
	AvgUpload       float64 `json:"avg_upload"`
	ProgressPercent float64 `json:"progress_percent"`
}

// StabilityAnalysis is the final summary of a continuous test
type StabilityAnalysis struct {
	AvgDownload    float64  `json:"avg_download"`
	AvgUpload      float64  `json:"avg_upload"`
	AvgPing        float64  `json:"avg_ping"`
	MinDownload    float64  `json:"min_download"`
	MinUpload      float64  `json:"min_upload"`
	MinPing        float64  `json:"min_ping"`
	MaxDownload    float64  `json:"max_download"`
	MaxUpload      float64  `json:"max_upload"`
	MaxPing        float64  `json:"max_ping"`
	StabilityScore *float64 `json:"stability_score,omitempty"` // percent
	TestCount      int      `json:"test_count"`
	Duration       int      `json:"duration"` // minutes
}

// Float returns a pointer to v
func Float(v float64) *float64 {
	return &v
}

package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/wellsgz/speedpulse/internal/protocol"
)

// Message types for IPC protocol
const (
	MsgTypeSubscribe   = "subscribe"
	MsgTypeUnsubscribe = "unsubscribe"
	MsgTypeStart       = "start"
	MsgTypeStop        = "stop"
	MsgTypeGetSnapshot = "get_snapshot"
	MsgTypeGetServers  = "get_servers"
	MsgTypeSnapshot    = "snapshot" // Reply to get_snapshot and pushed to subscribers
	MsgTypeStarted     = "started"
	MsgTypeServers     = "servers"
	MsgTypeError       = "error"
	MsgTypeOK          = "ok"
)

// Request is the base request structure
type Request struct {
	ID   string          `json:"id,omitempty"` // Unique request ID for response correlation
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response is the base response structure
type Response struct {
	ID    string          `json:"id,omitempty"` // Echo of request ID for correlation
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// StartRequest asks the daemon to start a test
type StartRequest struct {
	Mode            string `json:"mode"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	ServerID        string `json:"server_id,omitempty"`
}

// StartedResponse carries the new session's ID
type StartedResponse struct {
	SessionID string `json:"session_id"`
}

// ServersResponse lists the measurement servers
type ServersResponse = protocol.ServerList

// newResponse marshals data into a response
func newResponse(id, msgType string, data any) (Response, error) {
	resp := Response{ID: id, Type: msgType}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Response{}, fmt.Errorf("failed to encode %s: %w", msgType, err)
		}
		resp.Data = raw
	}
	return resp, nil
}

// decode unmarshals the response payload into v
func (r Response) decode(v any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("%s response has no data", r.Type)
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", r.Type, err)
	}
	return nil
}

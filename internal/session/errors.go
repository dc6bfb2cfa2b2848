package session

import (
	"errors"
	"fmt"
)

// ErrNotRunning is returned by Stop and OnError when no session is in progress
var ErrNotRunning = errors.New("no session is running")

// InvalidConfigError reports bad start parameters. Start returns it before touching any state.
type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid session config: %s: %s", e.Field, e.Reason)
}

// ProtocolError reports an event that does not fit the session
type ProtocolError struct {
	Event  string
	Phase  Phase
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s in phase %s: %s", e.Event, e.Phase, e.Reason)
}

// ProducerError reports a failure of the measurement producer
type ProducerError struct {
	Message string
}

func (e *ProducerError) Error() string {
	return "producer error: " + e.Message
}

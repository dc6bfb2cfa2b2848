package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(MsgDownloadProgress, "s1", Progress{Download: Float(87.5), Message: "Testing download speed..."})
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}

	var p Progress
	if err := env.Decode(&p); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if p.Download == nil || *p.Download != 87.5 {
		t.Errorf("Decode().Download = %v, want 87.5", p.Download)
	}
	if p.Ping != nil || p.Upload != nil {
		t.Errorf("Decode() set unrelated fields: %+v", p)
	}
}

func TestEnvelopeDecodeWithoutPayload(t *testing.T) {
	env := Envelope{Type: MsgFinal}
	var r FinalResult
	if err := env.Decode(&r); err == nil {
		t.Error("Decode() without payload error = nil, want error")
	}
}

func TestIsProgress(t *testing.T) {
	tests := []struct {
		msgType string
		want    bool
	}{
		{MsgPingSample, true},
		{MsgUploadComplete, true},
		{MsgClientInfo, true},
		{MsgFinal, false},
		{MsgStabilityAnalysis, false},
		{"bogus", false},
	}

	for _, tt := range tests {
		if got := IsProgress(tt.msgType); got != tt.want {
			t.Errorf("IsProgress(%q) = %v, want %v", tt.msgType, got, tt.want)
		}
	}
}

func TestCodecReplay(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	msgs := []Envelope{
		mustEnvelope(t, MsgPingSample, Progress{Ping: Float(15)}),
		mustEnvelope(t, MsgDownloadComplete, Progress{Download: Float(120)}),
		ErrorEnvelope("s1", "connection lost"),
	}
	for _, m := range msgs {
		if err := enc.Encode(m); err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
	}
	buf.WriteString("\n   \n") // blank lines are skipped

	var got []Envelope
	n, err := Replay(&buf, SinkFunc(func(env Envelope) { got = append(got, env) }))
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if n != len(msgs) {
		t.Fatalf("Replay() = %d, want %d", n, len(msgs))
	}
	for i := range msgs {
		if got[i].Type != msgs[i].Type {
			t.Errorf("message %d type = %s, want %s", i, got[i].Type, msgs[i].Type)
		}
	}
	if got[2].Error != "connection lost" {
		t.Errorf("error message = %q, want %q", got[2].Error, "connection lost")
	}
}

func TestDecoderErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", "{nope\n"},
		{"missing type", `{"session_id":"x"}` + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecoder(strings.NewReader(tt.input)).Decode()
			if err == nil {
				t.Error("Decode() error = nil, want error")
			}
		})
	}
}

func mustEnvelope(t *testing.T, msgType string, data any) Envelope {
	t.Helper()
	env, err := NewEnvelope(msgType, "s1", data)
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}
	return env
}

// failingWriter fails every write
type failingWriter struct {
	writes int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.writes++
	return 0, errors.New("disk full")
}

func TestEncoderDeliverKeepsFirstError(t *testing.T) {
	w := &failingWriter{}
	enc := NewEncoder(w)

	if err := enc.Err(); err != nil {
		t.Fatalf("Err() before any write = %v, want nil", err)
	}

	env, _ := NewEnvelope(MsgPingSample, "s1", Progress{Ping: Float(12)})
	enc.Deliver(env)
	enc.Deliver(env)

	if err := enc.Err(); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Err() = %v, want the write error", err)
	}
	if w.writes != 2 {
		t.Errorf("writes attempted = %d, want 2", w.writes)
	}
}

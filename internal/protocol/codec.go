package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/wellsgz/speedpulse/internal/logging"
)

// maxLineSize bounds a single encoded envelope
const maxLineSize = 1024 * 1024

// Encoder writes envelopes as newline-delimited JSON
type Encoder struct {
	enc *json.Encoder
	err error // First write error seen by Deliver
	mu  sync.Mutex
}

// NewEncoder creates an encoder writing to w
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: json.NewEncoder(w)}
}

// Encode writes one envelope followed by a newline
func (e *Encoder) Encode(env Envelope) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(env)
}

// Deliver makes an Encoder usable as a Sink. The first write error is
// logged and kept for Err; later envelopes are still attempted.
func (e *Encoder) Deliver(env Envelope) {
	err := e.Encode(env)
	if err == nil {
		return
	}

	e.mu.Lock()
	first := e.err == nil
	if first {
		e.err = err
	}
	e.mu.Unlock()

	if first {
		logging.Error("Protocol", "Failed to write "+env.Type+" message", err)
	}
}

// Err returns the first write error seen by Deliver
func (e *Encoder) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Decoder reads newline-delimited JSON envelopes
type Decoder struct {
	scanner *bufio.Scanner
	line    int
}

// NewDecoder creates a decoder reading from r
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	return &Decoder{scanner: scanner}
}

// Decode returns the next envelope, skipping blank lines. It returns io.EOF at end of input.
func (d *Decoder) Decode() (Envelope, error) {
	for d.scanner.Scan() {
		d.line++
		line := d.scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return Envelope{}, fmt.Errorf("line %d: invalid message: %w", d.line, err)
		}
		if env.Type == "" {
			return Envelope{}, fmt.Errorf("line %d: message has no type", d.line)
		}
		return env, nil
	}
	if err := d.scanner.Err(); err != nil {
		return Envelope{}, err
	}
	return Envelope{}, io.EOF
}

// Replay decodes every envelope from r and delivers it to sink in order.
// It returns the number delivered.
func Replay(r io.Reader, sink Sink) (int, error) {
	dec := NewDecoder(r)
	n := 0
	for {
		env, err := dec.Decode()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		sink.Deliver(env)
		n++
	}
}

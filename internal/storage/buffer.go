package storage

import (
	"sync"
	"time"
)

const defaultBufferSize = 50

var _ Buffer = (*SampleBuffer)(nil)

// SampleBuffer keeps the most recent samples per metric kind in fixed-size rings
type SampleBuffer struct {
	capacity int
	kinds    map[Kind]*kindBuffer
	mu       sync.RWMutex
}

// kindBuffer holds the ring for a single metric kind
type kindBuffer struct {
	samples []Sample
	head    int    // Next write position
	count   int    // Number of valid samples
	next    uint64 // Arrival index assigned to the next sample
}

// NewSampleBuffer creates a buffer retaining at most capacity samples per kind
func NewSampleBuffer(capacity int) *SampleBuffer {
	if capacity <= 0 {
		capacity = defaultBufferSize
	}
	return &SampleBuffer{
		capacity: capacity,
		kinds:    make(map[Kind]*kindBuffer),
	}
}

// Capacity returns the per-kind retention limit
func (b *SampleBuffer) Capacity() int {
	return b.capacity
}

// Append stores a value for a kind. When the ring is full the oldest sample is overwritten.
func (b *SampleBuffer) Append(kind Kind, value float64, timestamp time.Time) Sample {
	b.mu.Lock()
	defer b.mu.Unlock()

	kb, exists := b.kinds[kind]
	if !exists {
		kb = &kindBuffer{samples: make([]Sample, b.capacity)}
		b.kinds[kind] = kb
	}

	s := Sample{
		Kind:      kind,
		Value:     value,
		Index:     kb.next,
		Timestamp: timestamp,
	}
	kb.next++

	kb.samples[kb.head] = s
	kb.head = (kb.head + 1) % b.capacity
	if kb.count < b.capacity {
		kb.count++
	}
	return s
}

// Window returns the retained values for a kind in arrival order
func (b *SampleBuffer) Window(kind Kind) []float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	kb, exists := b.kinds[kind]
	if !exists {
		return []float64{}
	}

	result := make([]float64, kb.count)
	start := kb.oldest(b.capacity)
	for i := 0; i < kb.count; i++ {
		result[i] = kb.samples[(start+i)%b.capacity].Value
	}
	return result
}

// Tail returns at most n of the newest values for a kind, oldest first
func (b *SampleBuffer) Tail(kind Kind, n int) []float64 {
	window := b.Window(kind)
	if n <= 0 || n >= len(window) {
		return window
	}
	return window[len(window)-n:]
}

// Samples returns copies of the retained samples for a kind in arrival order
func (b *SampleBuffer) Samples(kind Kind) []Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	kb, exists := b.kinds[kind]
	if !exists {
		return []Sample{}
	}

	result := make([]Sample, kb.count)
	start := kb.oldest(b.capacity)
	for i := 0; i < kb.count; i++ {
		result[i] = kb.samples[(start+i)%b.capacity]
	}
	return result
}

// Len returns the number of retained samples for a kind
func (b *SampleBuffer) Len(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if kb, exists := b.kinds[kind]; exists {
		return kb.count
	}
	return 0
}

// Reset drops every sample of every kind and restarts arrival indexes
func (b *SampleBuffer) Reset() {
	b.mu.Lock()
	b.kinds = make(map[Kind]*kindBuffer)
	b.mu.Unlock()
}

// oldest returns the ring position of the oldest retained sample
// Must be called with the buffer lock held
func (kb *kindBuffer) oldest(capacity int) int {
	start := kb.head - kb.count
	if start < 0 {
		start += capacity
	}
	return start
}

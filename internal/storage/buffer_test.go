package storage

import (
	"reflect"
	"testing"
	"time"
)

func TestSampleBufferWindow(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		values   []float64
		want     []float64
	}{
		{
			name:     "empty",
			capacity: 3,
			values:   nil,
			want:     []float64{},
		},
		{
			name:     "under capacity",
			capacity: 3,
			values:   []float64{1, 2},
			want:     []float64{1, 2},
		},
		{
			name:     "exactly full",
			capacity: 3,
			values:   []float64{1, 2, 3},
			want:     []float64{1, 2, 3},
		},
		{
			name:     "wrapped once",
			capacity: 3,
			values:   []float64{1, 2, 3, 4},
			want:     []float64{2, 3, 4},
		},
		{
			name:     "wrapped many times",
			capacity: 3,
			values:   []float64{1, 2, 3, 4, 5, 6, 7, 8},
			want:     []float64{6, 7, 8},
		},
		{
			name:     "capacity one",
			capacity: 1,
			values:   []float64{9, 8, 7},
			want:     []float64{7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewSampleBuffer(tt.capacity)
			now := time.Now()
			for _, v := range tt.values {
				b.Append(KindDownload, v, now)
			}

			got := b.Window(KindDownload)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Window() = %v, want %v", got, tt.want)
			}
			if b.Len(KindDownload) > tt.capacity {
				t.Errorf("Len() = %d, exceeds capacity %d", b.Len(KindDownload), tt.capacity)
			}
		})
	}
}

func TestSampleBufferRetainsMostRecent(t *testing.T) {
	const capacity = 50
	b := NewSampleBuffer(capacity)
	now := time.Now()

	for i := 0; i < 137; i++ {
		b.Append(KindPing, float64(i), now)
		window := b.Window(KindPing)
		if len(window) > capacity {
			t.Fatalf("len(Window()) = %d after %d appends, want <= %d", len(window), i+1, capacity)
		}
		// Retained values are exactly the newest ones, in arrival order
		first := i + 1 - len(window)
		for j, v := range window {
			if v != float64(first+j) {
				t.Fatalf("Window()[%d] = %v after %d appends, want %v", j, v, i+1, float64(first+j))
			}
		}
	}
}

func TestSampleBufferIndexes(t *testing.T) {
	b := NewSampleBuffer(2)
	now := time.Now()

	for i := 0; i < 5; i++ {
		b.Append(KindUpload, float64(i*10), now)
	}
	b.Append(KindPing, 12, now)

	samples := b.Samples(KindUpload)
	if len(samples) != 2 {
		t.Fatalf("len(Samples()) = %d, want 2", len(samples))
	}
	if samples[0].Index != 3 || samples[1].Index != 4 {
		t.Errorf("Samples() indexes = [%d %d], want [3 4]", samples[0].Index, samples[1].Index)
	}

	// Indexes are tracked per kind
	ping := b.Samples(KindPing)
	if len(ping) != 1 || ping[0].Index != 0 {
		t.Errorf("Samples(ping) = %+v, want single sample with index 0", ping)
	}
}

func TestSampleBufferKindsAreIndependent(t *testing.T) {
	b := NewSampleBuffer(2)
	now := time.Now()

	b.Append(KindDownload, 100, now)
	b.Append(KindDownload, 110, now)
	b.Append(KindDownload, 120, now)
	b.Append(KindUpload, 40, now)

	if got := b.Window(KindUpload); !reflect.DeepEqual(got, []float64{40}) {
		t.Errorf("Window(upload) = %v, want [40]", got)
	}
	if got := b.Window(KindPing); len(got) != 0 {
		t.Errorf("Window(ping) = %v, want empty", got)
	}
}

func TestSampleBufferReset(t *testing.T) {
	b := NewSampleBuffer(4)
	now := time.Now()
	for _, k := range Kinds {
		b.Append(k, 1, now)
		b.Append(k, 2, now)
	}

	b.Reset()

	for _, k := range Kinds {
		if b.Len(k) != 0 {
			t.Errorf("Len(%s) after Reset() = %d, want 0", k, b.Len(k))
		}
	}

	s := b.Append(KindPing, 5, now)
	if s.Index != 0 {
		t.Errorf("Append() after Reset() index = %d, want 0", s.Index)
	}
}

func TestSampleBufferTail(t *testing.T) {
	b := NewSampleBuffer(50)
	now := time.Now()
	for i := 1; i <= 40; i++ {
		b.Append(KindDownload, float64(i), now)
	}

	tail := b.Tail(KindDownload, 30)
	if len(tail) != 30 {
		t.Fatalf("len(Tail(30)) = %d, want 30", len(tail))
	}
	if tail[0] != 11 || tail[29] != 40 {
		t.Errorf("Tail(30) bounds = [%v .. %v], want [11 .. 40]", tail[0], tail[29])
	}

	if got := b.Tail(KindDownload, 0); len(got) != 40 {
		t.Errorf("len(Tail(0)) = %d, want 40", len(got))
	}
}

func TestNewSampleBufferDefaultCapacity(t *testing.T) {
	b := NewSampleBuffer(0)
	if b.Capacity() != defaultBufferSize {
		t.Errorf("Capacity() = %d, want %d", b.Capacity(), defaultBufferSize)
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		input   string
		want    Kind
		wantErr bool
	}{
		{"ping", KindPing, false},
		{"download", KindDownload, false},
		{"upload", KindUpload, false},
		{"jitter", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseKind(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseKind(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ParseKind(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

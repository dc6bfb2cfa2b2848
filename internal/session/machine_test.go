package session

import (
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/wellsgz/speedpulse/internal/protocol"
	"github.com/wellsgz/speedpulse/internal/quality"
	"github.com/wellsgz/speedpulse/internal/stability"
	"github.com/wellsgz/speedpulse/internal/storage"
)

// fakeProducer records requests instead of measuring
type fakeProducer struct {
	mu       sync.Mutex
	begun    []protocol.BeginSession
	canceled []string
	beginErr error
}

func (p *fakeProducer) Begin(req protocol.BeginSession, _ protocol.Sink) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.begun = append(p.begun, req)
	return p.beginErr
}

func (p *fakeProducer) Cancel(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.canceled = append(p.canceled, sessionID)
}

func (p *fakeProducer) Canceled() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.canceled...)
}

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMachine(opts Options) (*Machine, *fakeProducer, *fakeClock) {
	p := &fakeProducer{}
	clock := newFakeClock()
	opts.Clock = clock.Now
	return NewMachine(p, opts), p, clock
}

func progress(msgType string, p protocol.Progress) ProgressEvent {
	return ProgressEvent{Type: msgType, Progress: p}
}

// runIteration feeds one ping/download/upload cycle followed by its final result
func runIteration(t *testing.T, m *Machine, ping, download, upload float64) {
	t.Helper()
	events := []ProgressEvent{
		progress(protocol.MsgPingSample, protocol.Progress{Ping: protocol.Float(ping)}),
		progress(protocol.MsgDownloadComplete, protocol.Progress{Download: protocol.Float(download)}),
		progress(protocol.MsgUploadComplete, protocol.Progress{Upload: protocol.Float(upload)}),
	}
	for _, evt := range events {
		if err := m.OnProgressEvent(evt); err != nil {
			t.Fatalf("OnProgressEvent(%s) error = %v", evt.Type, err)
		}
	}
	if err := m.OnFinalResult(protocol.FinalResult{Ping: ping, Download: download, Upload: upload}); err != nil {
		t.Fatalf("OnFinalResult() error = %v", err)
	}
}

func TestSingleTestEndToEnd(t *testing.T) {
	m, p, _ := newTestMachine(Options{})

	id, err := m.Start(Config{Mode: ModeSingle})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if id == "" {
		t.Fatal("Start() returned empty session ID")
	}
	if len(p.begun) != 1 || p.begun[0].SessionID != id || p.begun[0].Mode != "single" {
		t.Errorf("producer begin requests = %+v, want one single-mode request for %s", p.begun, id)
	}

	steps := []struct {
		evt       ProgressEvent
		wantPhase Phase
	}{
		{progress(protocol.MsgPingSample, protocol.Progress{Ping: protocol.Float(15)}), PhasePinging},
		{progress(protocol.MsgDownloadComplete, protocol.Progress{Download: protocol.Float(120)}), PhaseDownloading},
		{progress(protocol.MsgUploadComplete, protocol.Progress{Upload: protocol.Float(40)}), PhaseUploading},
	}
	for _, step := range steps {
		if err := m.OnProgressEvent(step.evt); err != nil {
			t.Fatalf("OnProgressEvent(%s) error = %v", step.evt.Type, err)
		}
		if got := m.Phase(); got != step.wantPhase {
			t.Errorf("Phase() after %s = %v, want %v", step.evt.Type, got, step.wantPhase)
		}
	}

	if err := m.OnFinalResult(protocol.FinalResult{Ping: 15, Download: 120, Upload: 40}); err != nil {
		t.Fatalf("OnFinalResult() error = %v", err)
	}

	snap := m.Snapshot()
	if snap.Phase != PhaseComplete {
		t.Errorf("Phase = %v, want %v", snap.Phase, PhaseComplete)
	}
	if !reflect.DeepEqual(snap.LiveSeries.Download, []float64{120}) {
		t.Errorf("LiveSeries.Download = %v, want [120]", snap.LiveSeries.Download)
	}
	if snap.FinalResult == nil {
		t.Fatal("FinalResult = nil, want frozen result")
	}
	if snap.FinalResult.Ping != 15 || snap.FinalResult.Download != 120 || snap.FinalResult.Upload != 40 {
		t.Errorf("FinalResult = %+v, want 15/120/40", snap.FinalResult)
	}
	// Mean throughput (120+40)/2 = 80 is below the 100 Mbps excellent bar
	if snap.Quality == nil || snap.Quality.Rating != quality.Rate(15, 120, 40) {
		t.Errorf("Quality = %+v, want rating %v", snap.Quality, quality.Rate(15, 120, 40))
	}
	if snap.EndedAt == nil {
		t.Error("EndedAt = nil, want set for terminal phase")
	}
}

func TestSingleTestExcellentQuality(t *testing.T) {
	m, _, _ := newTestMachine(Options{})
	if _, err := m.Start(Config{Mode: ModeSingle}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	runIteration(t, m, 10, 150, 150)

	snap := m.Snapshot()
	if snap.Quality == nil || snap.Quality.Rating != quality.Excellent {
		t.Errorf("Quality = %+v, want %v", snap.Quality, quality.Excellent)
	}
	if len(snap.Quality.Recommendations) != 3 {
		t.Errorf("len(Recommendations) = %d, want 3", len(snap.Quality.Recommendations))
	}
}

func TestStartInvalidConfigLeavesStateUnchanged(t *testing.T) {
	m, p, _ := newTestMachine(Options{})
	if _, err := m.Start(Config{Mode: ModeSingle, SessionID: "first"}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	runIteration(t, m, 12, 90, 45)
	before := m.Snapshot()

	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"continuous without duration", Config{Mode: ModeContinuous}, "duration_minutes"},
		{"continuous with negative duration", Config{Mode: ModeContinuous, DurationMinutes: -5}, "duration_minutes"},
		{"unknown mode", Config{Mode: "burst"}, "mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Start(tt.cfg)
			var cfgErr *InvalidConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Start() error = %v, want InvalidConfigError", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("InvalidConfigError.Field = %q, want %q", cfgErr.Field, tt.field)
			}
			if after := m.Snapshot(); !reflect.DeepEqual(before, after) {
				t.Errorf("Snapshot changed after rejected Start():\nbefore %+v\nafter  %+v", before, after)
			}
		})
	}

	if len(p.begun) != 1 {
		t.Errorf("producer begin calls = %d, want 1", len(p.begun))
	}
}

func TestStopAfterTwoIterationsKeepsResults(t *testing.T) {
	m, p, _ := newTestMachine(Options{})
	id, err := m.Start(Config{Mode: ModeContinuous, DurationMinutes: 5})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	runIteration(t, m, 20, 100, 50)
	runIteration(t, m, 25, 90, 45)
	if got := m.Phase(); got != PhaseRecording {
		t.Fatalf("Phase() = %v, want %v", got, PhaseRecording)
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	snap := m.Snapshot()
	if snap.Phase != PhaseStopped {
		t.Errorf("Phase = %v, want %v", snap.Phase, PhaseStopped)
	}
	if len(snap.Iterations) != 2 {
		t.Fatalf("len(Iterations) = %d, want 2", len(snap.Iterations))
	}
	if snap.Iterations[0].Index != 0 || snap.Iterations[1].Index != 1 {
		t.Errorf("iteration indexes = %d,%d, want 0,1", snap.Iterations[0].Index, snap.Iterations[1].Index)
	}
	if snap.Iterations[1].Download != 90 {
		t.Errorf("Iterations[1].Download = %v, want 90", snap.Iterations[1].Download)
	}
	if len(snap.MinuteBuckets) != 1 || snap.MinuteBuckets[0].Tests != 2 {
		t.Errorf("MinuteBuckets = %+v, want one bucket of 2 tests", snap.MinuteBuckets)
	}
	if snap.SessionStats.Download == nil || snap.SessionStats.Download.Avg != 95 {
		t.Errorf("SessionStats.Download = %+v, want avg 95", snap.SessionStats.Download)
	}
	if canceled := p.Canceled(); len(canceled) != 1 || canceled[0] != id {
		t.Errorf("producer cancel calls = %v, want [%s]", canceled, id)
	}

	// Further events are ignored
	err = m.OnProgressEvent(progress(protocol.MsgPingSample, protocol.Progress{Ping: protocol.Float(1)}))
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Errorf("OnProgressEvent() after Stop() error = %v, want ProtocolError", err)
	}
	if got := m.Snapshot(); len(got.LiveSeries.Ping) != 2 {
		t.Errorf("LiveSeries.Ping after Stop() = %v, want 2 samples", got.LiveSeries.Ping)
	}
}

func TestContinuousRunToComplete(t *testing.T) {
	m, _, clock := newTestMachine(Options{IterationsPerMinute: 2})
	if _, err := m.Start(Config{Mode: ModeContinuous, DurationMinutes: 2}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Minute 1 is stable, minute 2 is not
	results := [][3]float64{{10, 100, 50}, {12, 110, 60}, {80, 20, 5}, {90, 30, 10}}
	for i, r := range results {
		runIteration(t, m, r[0], r[1], r[2])
		if err := m.OnRunningStats(protocol.RunningStats{TestCount: i + 1}); err != nil {
			t.Fatalf("OnRunningStats() error = %v", err)
		}
		clock.Advance(30 * time.Second)
	}

	// The last final arrived at 1m30s, before the 2 minute deadline
	if got := m.Phase(); got != PhaseRecording {
		t.Fatalf("Phase() = %v, want %v", got, PhaseRecording)
	}

	runIteration(t, m, 15, 100, 50)
	if got := m.Phase(); got != PhaseAnalyzing {
		t.Fatalf("Phase() after deadline = %v, want %v", got, PhaseAnalyzing)
	}

	err := m.OnStabilityAnalysis(protocol.StabilityAnalysis{
		AvgDownload: 72, AvgUpload: 35, AvgPing: 41.4,
		TestCount: 5,
	})
	if err != nil {
		t.Fatalf("OnStabilityAnalysis() error = %v", err)
	}

	snap := m.Snapshot()
	if snap.Phase != PhaseComplete {
		t.Errorf("Phase = %v, want %v", snap.Phase, PhaseComplete)
	}
	if len(snap.MinuteBuckets) != 3 {
		t.Fatalf("len(MinuteBuckets) = %d, want 3", len(snap.MinuteBuckets))
	}
	wantRatings := []stability.Rating{stability.Stable, stability.Unstable, stability.Stable}
	for i, b := range snap.MinuteBuckets {
		if b.Rating != wantRatings[i] {
			t.Errorf("MinuteBuckets[%d].Rating = %v, want %v", i, b.Rating, wantRatings[i])
		}
	}
	if snap.Summary == nil || snap.Summary.StabilityScore == nil {
		t.Fatalf("Summary = %+v, want score filled in", snap.Summary)
	}
	if want := 200.0 / 3; math.Abs(*snap.Summary.StabilityScore-want) > 1e-9 {
		t.Errorf("StabilityScore = %v, want %v", *snap.Summary.StabilityScore, want)
	}
	if snap.Summary.Duration != 2 {
		t.Errorf("Summary.Duration = %d, want 2", snap.Summary.Duration)
	}
	if snap.Quality == nil || snap.Quality.Rating != quality.Good {
		t.Errorf("Quality = %+v, want %v", snap.Quality, quality.Good)
	}
	if snap.RunningStats == nil || snap.RunningStats.TestCount != 4 {
		t.Errorf("RunningStats = %+v, want test_count 4", snap.RunningStats)
	}
}

func TestConsistencyOverIterations(t *testing.T) {
	m, _, _ := newTestMachine(Options{})
	if _, err := m.Start(Config{Mode: ModeContinuous, DurationMinutes: 5}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if c := m.Snapshot().Consistency; c != nil {
		t.Errorf("Consistency before any iteration = %+v, want nil", c)
	}

	runIteration(t, m, 10, 90, 40)
	runIteration(t, m, 10, 110, 40)

	// Download avg 100, std 10
	want := &Consistency{Ping: 100, Download: 90, Upload: 100}
	got := m.Snapshot().Consistency
	if got == nil {
		t.Fatal("Consistency = nil, want per-metric values")
	}
	if math.Abs(got.Download-want.Download) > 1e-9 || math.Abs(got.Upload-want.Upload) > 1e-9 || math.Abs(got.Ping-want.Ping) > 1e-9 {
		t.Errorf("Consistency = %+v, want %+v", *got, *want)
	}
}

func TestStabilityAnalysisKeepsProducerScore(t *testing.T) {
	m, _, _ := newTestMachine(Options{
		Scorer: func([]stability.MinuteBucket) float64 { return 1 },
	})
	if _, err := m.Start(Config{Mode: ModeContinuous, DurationMinutes: 1}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	runIteration(t, m, 10, 100, 50)

	score := 87.5
	if err := m.OnStabilityAnalysis(protocol.StabilityAnalysis{StabilityScore: &score, TestCount: 1}); err != nil {
		t.Fatalf("OnStabilityAnalysis() error = %v", err)
	}
	if got := *m.Snapshot().Summary.StabilityScore; got != 87.5 {
		t.Errorf("StabilityScore = %v, want 87.5", got)
	}
}

func TestPluggableScorer(t *testing.T) {
	m, _, _ := newTestMachine(Options{
		Scorer: func(b []stability.MinuteBucket) float64 { return float64(len(b)) * 10 },
	})
	if _, err := m.Start(Config{Mode: ModeContinuous, DurationMinutes: 1}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	runIteration(t, m, 10, 100, 50)
	if err := m.OnStabilityAnalysis(protocol.StabilityAnalysis{TestCount: 1}); err != nil {
		t.Fatalf("OnStabilityAnalysis() error = %v", err)
	}
	if got := *m.Snapshot().Summary.StabilityScore; got != 10 {
		t.Errorf("StabilityScore = %v, want 10", got)
	}
}

func TestOutOfOrderEvents(t *testing.T) {
	tests := []struct {
		name      string
		strict    bool
		wantErr   bool
		wantPhase Phase
	}{
		{"tolerant accepts", false, false, PhaseDownloading},
		{"strict rejects", true, true, PhaseError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, p, _ := newTestMachine(Options{Strict: tt.strict})
			id, _ := m.Start(Config{Mode: ModeSingle})

			// Download before any ping sample
			err := m.OnProgressEvent(progress(protocol.MsgDownloadProgress, protocol.Progress{Download: protocol.Float(42)}))

			var perr *ProtocolError
			if got := errors.As(err, &perr); got != tt.wantErr {
				t.Fatalf("OnProgressEvent() error = %v, wantErr %v", err, tt.wantErr)
			}

			snap := m.Snapshot()
			if snap.Phase != tt.wantPhase {
				t.Errorf("Phase = %v, want %v", snap.Phase, tt.wantPhase)
			}
			if snap.OutOfOrder != 1 {
				t.Errorf("OutOfOrder = %d, want 1", snap.OutOfOrder)
			}

			if tt.strict {
				if len(snap.LiveSeries.Download) != 0 {
					t.Errorf("LiveSeries.Download = %v, want empty", snap.LiveSeries.Download)
				}
				if snap.Error == "" {
					t.Error("Error message empty, want protocol error text")
				}
				if canceled := p.Canceled(); len(canceled) != 1 || canceled[0] != id {
					t.Errorf("producer cancel calls = %v, want [%s]", canceled, id)
				}
			} else if !reflect.DeepEqual(snap.LiveSeries.Download, []float64{42}) {
				t.Errorf("LiveSeries.Download = %v, want [42]", snap.LiveSeries.Download)
			}
		})
	}
}

func TestStrictContinuousSkippedIteration(t *testing.T) {
	tests := []struct {
		name    string
		partial []ProgressEvent // Events of the iteration that fails
	}{
		{"failed during download", []ProgressEvent{
			progress(protocol.MsgPingSample, protocol.Progress{Ping: protocol.Float(20)}),
			progress(protocol.MsgDownloadProgress, protocol.Progress{Download: protocol.Float(30)}),
		}},
		{"failed during upload", []ProgressEvent{
			progress(protocol.MsgPingSample, protocol.Progress{Ping: protocol.Float(20)}),
			progress(protocol.MsgDownloadComplete, protocol.Progress{Download: protocol.Float(80)}),
			progress(protocol.MsgUploadProgress, protocol.Progress{Upload: protocol.Float(10)}),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newTestMachine(Options{Strict: true})
			if _, err := m.Start(Config{Mode: ModeContinuous, DurationMinutes: 5}); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			runIteration(t, m, 12, 90, 40)

			for _, evt := range tt.partial {
				if err := m.OnProgressEvent(evt); err != nil {
					t.Fatalf("OnProgressEvent(%s) error = %v", evt.Type, err)
				}
			}

			// The next iteration starts over with a ping sample
			runIteration(t, m, 14, 95, 42)

			snap := m.Snapshot()
			if snap.Phase != PhaseRecording {
				t.Errorf("Phase = %v, want %v", snap.Phase, PhaseRecording)
			}
			if len(snap.Iterations) != 2 {
				t.Errorf("len(Iterations) = %d, want 2", len(snap.Iterations))
			}
			if snap.OutOfOrder != 0 {
				t.Errorf("OutOfOrder = %d, want 0", snap.OutOfOrder)
			}
		})
	}
}

func TestStrictSingleRejectsPingAfterDownload(t *testing.T) {
	m, _, _ := newTestMachine(Options{Strict: true})
	if _, err := m.Start(Config{Mode: ModeSingle}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	_ = m.OnProgressEvent(progress(protocol.MsgPingSample, protocol.Progress{Ping: protocol.Float(20)}))
	_ = m.OnProgressEvent(progress(protocol.MsgDownloadProgress, protocol.Progress{Download: protocol.Float(30)}))

	err := m.OnProgressEvent(progress(protocol.MsgPingSample, protocol.Progress{Ping: protocol.Float(21)}))
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("OnProgressEvent() error = %v, want *ProtocolError", err)
	}
	if got := m.Phase(); got != PhaseError {
		t.Errorf("Phase() = %v, want %v", got, PhaseError)
	}
}

func TestInvalidSamplesAreDropped(t *testing.T) {
	tests := []struct {
		name string
		evt  ProgressEvent
	}{
		{"missing value", progress(protocol.MsgPingSample, protocol.Progress{})},
		{"negative", progress(protocol.MsgPingSample, protocol.Progress{Ping: protocol.Float(-1)})},
		{"nan", progress(protocol.MsgPingSample, protocol.Progress{Ping: protocol.Float(math.NaN())})},
		{"infinite", progress(protocol.MsgPingSample, protocol.Progress{Ping: protocol.Float(math.Inf(1))})},
		{"wrong field", progress(protocol.MsgPingSample, protocol.Progress{Download: protocol.Float(10)})},
		{"missing server", progress(protocol.MsgServerSelected, protocol.Progress{})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, _ := newTestMachine(Options{Strict: true})
			if _, err := m.Start(Config{Mode: ModeSingle}); err != nil {
				t.Fatalf("Start() error = %v", err)
			}

			err := m.OnProgressEvent(tt.evt)
			var perr *ProtocolError
			if !errors.As(err, &perr) {
				t.Fatalf("OnProgressEvent() error = %v, want ProtocolError", err)
			}

			snap := m.Snapshot()
			if snap.Phase != PhaseInitializing {
				t.Errorf("Phase = %v, want %v", snap.Phase, PhaseInitializing)
			}
			if len(snap.LiveSeries.Ping) != 0 || snap.CurrentSpeed.Ping != nil {
				t.Errorf("sample recorded: series %v current %v", snap.LiveSeries.Ping, snap.CurrentSpeed.Ping)
			}
		})
	}
}

func TestEventsWithoutRunningSession(t *testing.T) {
	m, _, _ := newTestMachine(Options{})

	err := m.OnProgressEvent(progress(protocol.MsgPingSample, protocol.Progress{Ping: protocol.Float(10)}))
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Errorf("OnProgressEvent() while idle error = %v, want ProtocolError", err)
	}
	if err := m.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop() while idle error = %v, want ErrNotRunning", err)
	}
	if err := m.OnError("boom"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("OnError() while idle error = %v, want ErrNotRunning", err)
	}
	if got := m.Phase(); got != PhaseIdle {
		t.Errorf("Phase() = %v, want %v", got, PhaseIdle)
	}
}

func TestModeSpecificEvents(t *testing.T) {
	m, _, _ := newTestMachine(Options{})
	if _, err := m.Start(Config{Mode: ModeSingle}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var perr *ProtocolError
	if err := m.OnRunningStats(protocol.RunningStats{TestCount: 1}); !errors.As(err, &perr) {
		t.Errorf("OnRunningStats() in single mode error = %v, want ProtocolError", err)
	}
	if err := m.OnStabilityAnalysis(protocol.StabilityAnalysis{}); !errors.As(err, &perr) {
		t.Errorf("OnStabilityAnalysis() in single mode error = %v, want ProtocolError", err)
	}
	if got := m.Phase(); got != PhaseInitializing {
		t.Errorf("Phase() = %v, want %v", got, PhaseInitializing)
	}
}

func TestOnErrorPreservesPartialData(t *testing.T) {
	m, _, _ := newTestMachine(Options{})
	if _, err := m.Start(Config{Mode: ModeContinuous, DurationMinutes: 15}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	runIteration(t, m, 20, 100, 50)
	_ = m.OnProgressEvent(progress(protocol.MsgPingSample, protocol.Progress{Ping: protocol.Float(22)}))

	if err := m.OnError("Disconnected"); err != nil {
		t.Fatalf("OnError() error = %v", err)
	}

	snap := m.Snapshot()
	if snap.Phase != PhaseError {
		t.Errorf("Phase = %v, want %v", snap.Phase, PhaseError)
	}
	if snap.Error != "producer error: Disconnected" {
		t.Errorf("Error = %q, want %q", snap.Error, "producer error: Disconnected")
	}
	if len(snap.Iterations) != 1 {
		t.Errorf("len(Iterations) = %d, want 1", len(snap.Iterations))
	}
	if !reflect.DeepEqual(snap.LiveSeries.Ping, []float64{20, 22}) {
		t.Errorf("LiveSeries.Ping = %v, want [20 22]", snap.LiveSeries.Ping)
	}
}

func TestStartSupersedesRunningSession(t *testing.T) {
	m, p, _ := newTestMachine(Options{})
	first, _ := m.Start(Config{Mode: ModeSingle})
	_ = m.OnProgressEvent(progress(protocol.MsgPingSample, protocol.Progress{Ping: protocol.Float(30)}))

	second, err := m.Start(Config{Mode: ModeSingle, SessionID: "explicit"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if second != "explicit" {
		t.Errorf("Start() session ID = %q, want %q", second, "explicit")
	}
	if canceled := p.Canceled(); len(canceled) != 1 || canceled[0] != first {
		t.Errorf("producer cancel calls = %v, want [%s]", canceled, first)
	}

	snap := m.Snapshot()
	if snap.Phase != PhaseInitializing || len(snap.LiveSeries.Ping) != 0 {
		t.Errorf("Snapshot() = phase %v ping %v, want fresh session", snap.Phase, snap.LiveSeries.Ping)
	}

	// Late events from the superseded session are ignored
	env, _ := protocol.NewEnvelope(protocol.MsgPingSample, first, protocol.Progress{Ping: protocol.Float(99)})
	m.Deliver(env)
	if got := m.Snapshot().LiveSeries.Ping; len(got) != 0 {
		t.Errorf("stale event applied: LiveSeries.Ping = %v", got)
	}
}

// gatedProducer blocks in Begin until released and registers the run only
// when Begin returns, so a cancel arriving earlier finds nothing
type gatedProducer struct {
	entered chan string
	release chan struct{}

	mu    sync.Mutex
	calls []string
}

func newGatedProducer() *gatedProducer {
	return &gatedProducer{entered: make(chan string, 4), release: make(chan struct{})}
}

func (p *gatedProducer) Begin(req protocol.BeginSession, _ protocol.Sink) error {
	p.entered <- req.SessionID
	<-p.release
	p.record("begin " + req.SessionID)
	return nil
}

func (p *gatedProducer) Cancel(sessionID string) {
	p.record("cancel " + sessionID)
}

func (p *gatedProducer) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *gatedProducer) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func TestConcurrentStartsCancelRegisteredRun(t *testing.T) {
	p := newGatedProducer()
	m := NewMachine(p, Options{Clock: newFakeClock().Now})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = m.Start(Config{Mode: ModeSingle, SessionID: "a"})
	}()
	<-p.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = m.Start(Config{Mode: ModeSingle, SessionID: "b"})
	}()

	// The second Start must wait for the first Begin to return
	time.Sleep(20 * time.Millisecond)
	if calls := p.Calls(); len(calls) != 0 {
		t.Errorf("producer calls while first Begin is pending = %v, want none", calls)
	}

	close(p.release)
	wg.Wait()

	want := []string{"begin a", "cancel a", "begin b"}
	if got := p.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("producer calls = %v, want %v", got, want)
	}
	if got := m.SessionID(); got != "b" {
		t.Errorf("SessionID() = %q, want %q", got, "b")
	}
}

func TestStopDuringBeginCancelsRun(t *testing.T) {
	p := newGatedProducer()
	m := NewMachine(p, Options{Clock: newFakeClock().Now})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Start(Config{Mode: ModeSingle, SessionID: "a"})
	}()
	<-p.entered

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	close(p.release)
	<-done

	want := []string{"cancel a", "begin a", "cancel a"}
	if got := p.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("producer calls = %v, want %v", got, want)
	}
	if got := m.Phase(); got != PhaseStopped {
		t.Errorf("Phase() = %v, want %v", got, PhaseStopped)
	}
}

func TestStartAfterTerminalResets(t *testing.T) {
	m, _, _ := newTestMachine(Options{})
	_, _ = m.Start(Config{Mode: ModeSingle})
	runIteration(t, m, 10, 100, 100)

	if _, err := m.Start(Config{Mode: ModeSingle}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	snap := m.Snapshot()
	if snap.FinalResult != nil || snap.Quality != nil || len(snap.LiveSeries.Download) != 0 {
		t.Errorf("Snapshot() after restart kept prior data: %+v", snap)
	}
}

func TestProducerBeginFailure(t *testing.T) {
	m, p, _ := newTestMachine(Options{})
	p.beginErr = errors.New("no servers available")

	_, err := m.Start(Config{Mode: ModeSingle})
	var prodErr *ProducerError
	if !errors.As(err, &prodErr) {
		t.Fatalf("Start() error = %v, want ProducerError", err)
	}
	if got := m.Phase(); got != PhaseError {
		t.Errorf("Phase() = %v, want %v", got, PhaseError)
	}
}

func TestJitterFromPingSamples(t *testing.T) {
	m, _, _ := newTestMachine(Options{})
	_, _ = m.Start(Config{Mode: ModeSingle})
	for _, v := range []float64{10, 20, 10, 20} {
		_ = m.OnProgressEvent(progress(protocol.MsgPingSample, protocol.Progress{Ping: protocol.Float(v)}))
	}
	_ = m.OnProgressEvent(progress(protocol.MsgDownloadComplete, protocol.Progress{Download: protocol.Float(50)}))
	_ = m.OnProgressEvent(progress(protocol.MsgUploadComplete, protocol.Progress{Upload: protocol.Float(20)}))
	if err := m.OnFinalResult(protocol.FinalResult{Ping: 15, Download: 50, Upload: 20}); err != nil {
		t.Fatalf("OnFinalResult() error = %v", err)
	}

	if got := m.Snapshot().FinalResult.Jitter; math.Abs(got-5) > 1e-9 {
		t.Errorf("FinalResult.Jitter = %v, want 5", got)
	}
}

func TestLiveSeriesBounded(t *testing.T) {
	m, _, _ := newTestMachine(Options{BufferSize: 50})
	_, _ = m.Start(Config{Mode: ModeSingle})
	for i := 0; i < 75; i++ {
		_ = m.OnProgressEvent(progress(protocol.MsgDownloadProgress, protocol.Progress{Download: protocol.Float(float64(i))}))
	}

	snap := m.Snapshot()
	if len(snap.LiveSeries.Download) != 50 {
		t.Fatalf("len(LiveSeries.Download) = %d, want 50", len(snap.LiveSeries.Download))
	}
	if snap.LiveSeries.Download[0] != 25 || snap.LiveSeries.Download[49] != 74 {
		t.Errorf("LiveSeries.Download bounds = %v..%v, want 25..74", snap.LiveSeries.Download[0], snap.LiveSeries.Download[49])
	}
	if snap.SampleStats.Download == nil || snap.SampleStats.Download.Count != 75 {
		t.Errorf("SampleStats.Download = %+v, want count 75", snap.SampleStats.Download)
	}
	if got := len(snap.Compact(30).LiveSeries.Download); got != 30 {
		t.Errorf("len(Compact(30).LiveSeries.Download) = %d, want 30", got)
	}
}

func TestDeliverEnvelopes(t *testing.T) {
	m, _, _ := newTestMachine(Options{})
	id, _ := m.Start(Config{Mode: ModeSingle})

	send := func(msgType string, data any) {
		env, err := protocol.NewEnvelope(msgType, id, data)
		if err != nil {
			t.Fatalf("NewEnvelope() error = %v", err)
		}
		m.Deliver(env)
	}

	send(protocol.MsgClientInfo, protocol.Progress{Client: &protocol.ClientInfo{IP: "203.0.113.7", ISP: "Example ISP"}})
	send(protocol.MsgServerSelected, protocol.Progress{Server: &protocol.Server{ID: "42", Name: "Frankfurt"}, Message: "Selected server"})
	send(protocol.MsgPingSample, protocol.Progress{Ping: protocol.Float(9)})
	send(protocol.MsgDownloadComplete, protocol.Progress{Download: protocol.Float(300)})
	send(protocol.MsgUploadComplete, protocol.Progress{Upload: protocol.Float(150)})
	send(protocol.MsgFinal, protocol.FinalResult{Ping: 9, Download: 300, Upload: 150})

	snap := m.Snapshot()
	if snap.Phase != PhaseComplete {
		t.Fatalf("Phase = %v, want %v", snap.Phase, PhaseComplete)
	}
	if snap.Client == nil || snap.Client.ISP != "Example ISP" {
		t.Errorf("Client = %+v, want Example ISP", snap.Client)
	}
	if snap.FinalResult.Server == nil || snap.FinalResult.Server.ID != "42" {
		t.Errorf("FinalResult.Server = %+v, want selected server 42", snap.FinalResult.Server)
	}
	if snap.Message != "Selected server" {
		t.Errorf("Message = %q, want %q", snap.Message, "Selected server")
	}
}

func TestDeliverErrorEnvelope(t *testing.T) {
	m, _, _ := newTestMachine(Options{})
	id, _ := m.Start(Config{Mode: ModeSingle})

	m.Deliver(protocol.ErrorEnvelope(id, "speedtest failed"))

	snap := m.Snapshot()
	if snap.Phase != PhaseError {
		t.Errorf("Phase = %v, want %v", snap.Phase, PhaseError)
	}
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	m, _, _ := newTestMachine(Options{})
	ch := m.Subscribe()
	defer m.Unsubscribe(ch)

	_, _ = m.Start(Config{Mode: ModeSingle})
	_ = m.OnProgressEvent(progress(protocol.MsgPingSample, protocol.Progress{Ping: protocol.Float(11)}))

	want := []Phase{PhaseInitializing, PhasePinging}
	for _, phase := range want {
		select {
		case snap := <-ch:
			if snap.Phase != phase {
				t.Errorf("received phase %v, want %v", snap.Phase, phase)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %v snapshot", phase)
		}
	}
}

// countingRecorder counts recorder callbacks
type countingRecorder struct {
	mu          sync.Mutex
	transitions int
	samples     map[storage.Kind]int
	outOfOrder  int
	rejected    int
	iterations  int
	ended       []Phase
}

func (r *countingRecorder) PhaseChanged(Phase, Phase) {
	r.mu.Lock()
	r.transitions++
	r.mu.Unlock()
}

func (r *countingRecorder) SampleRecorded(k storage.Kind, _ float64) {
	r.mu.Lock()
	r.samples[k]++
	r.mu.Unlock()
}

func (r *countingRecorder) EventOutOfOrder(string) {
	r.mu.Lock()
	r.outOfOrder++
	r.mu.Unlock()
}

func (r *countingRecorder) EventRejected(string) {
	r.mu.Lock()
	r.rejected++
	r.mu.Unlock()
}

func (r *countingRecorder) IterationRecorded(stability.IterationResult) {
	r.mu.Lock()
	r.iterations++
	r.mu.Unlock()
}

func (r *countingRecorder) SessionEnded(_ Mode, p Phase) {
	r.mu.Lock()
	r.ended = append(r.ended, p)
	r.mu.Unlock()
}

func TestRecorderHooks(t *testing.T) {
	rec := &countingRecorder{samples: make(map[storage.Kind]int)}
	m, _, _ := newTestMachine(Options{Recorder: rec})

	_, _ = m.Start(Config{Mode: ModeContinuous, DurationMinutes: 5})
	runIteration(t, m, 10, 100, 50)
	_ = m.OnProgressEvent(progress(protocol.MsgPingSample, protocol.Progress{Ping: protocol.Float(-3)}))
	_ = m.Stop()

	if rec.samples[storage.KindPing] != 1 || rec.samples[storage.KindDownload] != 1 {
		t.Errorf("samples = %v, want one ping and one download", rec.samples)
	}
	if rec.iterations != 1 {
		t.Errorf("iterations = %d, want 1", rec.iterations)
	}
	if rec.rejected != 1 {
		t.Errorf("rejected = %d, want 1", rec.rejected)
	}
	if !reflect.DeepEqual(rec.ended, []Phase{PhaseStopped}) {
		t.Errorf("ended = %v, want [stopped]", rec.ended)
	}
	// idle->initializing->pinging->downloading->uploading->recording->stopped
	if rec.transitions != 6 {
		t.Errorf("transitions = %d, want 6", rec.transitions)
	}
}

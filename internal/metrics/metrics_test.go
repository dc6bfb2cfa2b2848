package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wellsgz/speedpulse/internal/session"
	"github.com/wellsgz/speedpulse/internal/stability"
	"github.com/wellsgz/speedpulse/internal/storage"
)

var _ session.Recorder = (*Exporter)(nil)

func TestPhaseGauge(t *testing.T) {
	e := NewExporter()

	if got := testutil.ToFloat64(e.phaseGauge.WithLabelValues("idle")); got != 1 {
		t.Errorf("phase{idle} = %v, want 1", got)
	}

	e.PhaseChanged(session.PhaseIdle, session.PhaseInitializing)
	e.PhaseChanged(session.PhaseInitializing, session.PhasePinging)

	tests := []struct {
		phase string
		want  float64
	}{
		{"idle", 0},
		{"initializing", 0},
		{"pinging", 1},
	}
	for _, tt := range tests {
		t.Run(tt.phase, func(t *testing.T) {
			if got := testutil.ToFloat64(e.phaseGauge.WithLabelValues(tt.phase)); got != tt.want {
				t.Errorf("phase{%s} = %v, want %v", tt.phase, got, tt.want)
			}
		})
	}

	if got := testutil.ToFloat64(e.transitions.WithLabelValues("idle", "initializing")); got != 1 {
		t.Errorf("transitions{idle,initializing} = %v, want 1", got)
	}
}

func TestSamplesAndIterations(t *testing.T) {
	e := NewExporter()

	e.SampleRecorded(storage.KindPing, 12)
	e.SampleRecorded(storage.KindPing, 18)
	e.SampleRecorded(storage.KindDownload, 95.5)
	e.IterationRecorded(stability.IterationResult{Ping: 15, Download: 90, Upload: 40})
	e.EventOutOfOrder("download_progress")
	e.EventRejected("ping_sample")
	e.SessionEnded(session.ModeContinuous, session.PhaseComplete)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"ping samples", testutil.ToFloat64(e.sampleCounter.WithLabelValues("ping")), 2},
		{"current ping", testutil.ToFloat64(e.speedGauge.WithLabelValues("ping")), 18},
		{"current download", testutil.ToFloat64(e.speedGauge.WithLabelValues("download")), 95.5},
		{"iterations", testutil.ToFloat64(e.iterations), 1},
		{"last upload", testutil.ToFloat64(e.iterationGauge.WithLabelValues("upload")), 40},
		{"out of order", testutil.ToFloat64(e.outOfOrder.WithLabelValues("download_progress")), 1},
		{"rejected", testutil.ToFloat64(e.rejected.WithLabelValues("ping_sample")), 1},
		{"sessions", testutil.ToFloat64(e.sessionsCounter.WithLabelValues("continuous", "complete")), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestHandler(t *testing.T) {
	e := NewExporter()
	e.SampleRecorded(storage.KindUpload, 42)

	srv := httptest.NewServer(e.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !strings.Contains(string(body), `speedpulse_current_value{kind="upload"} 42`) {
		t.Errorf("metrics output missing current upload value:\n%s", body)
	}
}

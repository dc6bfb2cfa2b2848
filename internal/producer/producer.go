// Package producer runs speed test measurements and streams their progress
// as protocol messages to a sink.
package producer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wellsgz/speedpulse/internal/logging"
	"github.com/wellsgz/speedpulse/internal/protocol"
	"github.com/wellsgz/speedpulse/internal/stability"
)

const component = "Producer"

// Options tune a Producer. Zero values select defaults.
type Options struct {
	ServerCount         int           // Nearest servers pinged for auto-selection
	PingConcurrency     int           // Parallel candidate pings
	IterationInterval   time.Duration // Pause between continuous iterations
	Timeout             time.Duration // Upper bound for one iteration
	IterationsPerMinute int           // Bucket size for the final stability analysis
	Clock               func() time.Time
}

// Producer drives a Measurer for each requested session
type Producer struct {
	measurer Measurer
	opts     Options

	runs   map[string]context.CancelFunc
	runsMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a producer over the given measurer
func New(m Measurer, opts Options) *Producer {
	if opts.ServerCount <= 0 {
		opts.ServerCount = 5
	}
	if opts.PingConcurrency <= 0 {
		opts.PingConcurrency = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Producer{
		measurer: m,
		opts:     opts,
		runs:     make(map[string]context.CancelFunc),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Begin starts measuring in the background. Progress for req.SessionID is delivered to sink.
func (p *Producer) Begin(req protocol.BeginSession, sink protocol.Sink) error {
	if req.SessionID == "" {
		return errors.New("session id is required")
	}
	switch req.Mode {
	case "single":
	case "continuous":
		if req.DurationMinutes <= 0 {
			return errors.New("continuous mode requires a positive duration")
		}
	default:
		return fmt.Errorf("unknown mode %q", req.Mode)
	}
	if err := p.ctx.Err(); err != nil {
		return errors.New("producer is stopped")
	}

	ctx, cancel := context.WithCancel(p.ctx)

	p.runsMu.Lock()
	if _, exists := p.runs[req.SessionID]; exists {
		p.runsMu.Unlock()
		cancel()
		return fmt.Errorf("session %s is already running", req.SessionID)
	}
	p.runs[req.SessionID] = cancel
	p.runsMu.Unlock()

	logging.Info(component, "Starting "+req.Mode+" test", map[string]any{
		"session_id":       req.SessionID,
		"duration_minutes": req.DurationMinutes,
		"server_id":        req.ServerID,
	})

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.finish(req.SessionID)
		p.run(ctx, req, sink)
	}()
	return nil
}

// Cancel stops a session's run without waiting for it to unwind
func (p *Producer) Cancel(sessionID string) {
	p.runsMu.Lock()
	cancel, exists := p.runs[sessionID]
	p.runsMu.Unlock()

	if exists {
		logging.Info(component, "Cancelling session "+sessionID, nil)
		cancel()
	}
}

// Running reports whether a run for the session is still active
func (p *Producer) Running(sessionID string) bool {
	p.runsMu.Lock()
	defer p.runsMu.Unlock()
	_, exists := p.runs[sessionID]
	return exists
}

// Servers returns the available servers, nearest first
func (p *Producer) Servers(ctx context.Context) ([]protocol.Server, error) {
	return p.measurer.Servers(ctx)
}

// Stop cancels every run and waits for them to finish
func (p *Producer) Stop() {
	p.cancel()
	p.wg.Wait()
	logging.Info(component, "Stopped", nil)
}

func (p *Producer) finish(sessionID string) {
	p.runsMu.Lock()
	if cancel, exists := p.runs[sessionID]; exists {
		cancel()
		delete(p.runs, sessionID)
	}
	p.runsMu.Unlock()
}

// run executes a full session and reports through sink
func (p *Producer) run(ctx context.Context, req protocol.BeginSession, sink protocol.Sink) {
	e := &emitter{sessionID: req.SessionID, sink: sink}

	client, err := p.measurer.Client(ctx)
	if err != nil {
		p.abort(ctx, e, "Failed to retrieve client info", err)
		return
	}
	e.emit(protocol.MsgClientInfo, protocol.Progress{
		Client:  &client,
		Message: "Connected via " + client.ISP,
	})

	server, err := p.selectServer(ctx, req.ServerID)
	if err != nil {
		p.abort(ctx, e, "Failed to select server", err)
		return
	}
	e.emit(protocol.MsgServerSelected, protocol.Progress{
		Server:  &server,
		Message: fmt.Sprintf("Selected %s (%s, %s)", server.Name, server.Location, server.Country),
	})

	if req.Mode == "continuous" {
		p.runContinuous(ctx, req, server, e)
		return
	}

	result, err := p.iteration(ctx, server, e)
	if err != nil {
		p.abort(ctx, e, "Test failed", err)
		return
	}
	e.emit(protocol.MsgFinal, result)
	logging.Info(component, "Test complete", map[string]any{
		"session_id": req.SessionID,
		"ping":       result.Ping,
		"download":   result.Download,
		"upload":     result.Upload,
	})
}

// runContinuous repeats iterations until the requested duration has elapsed
func (p *Producer) runContinuous(ctx context.Context, req protocol.BeginSession, server protocol.Server, e *emitter) {
	duration := time.Duration(req.DurationMinutes) * time.Minute
	start := p.opts.Clock()
	deadline := start.Add(duration)

	var results []stability.IterationResult
	var sumPing, sumDownload, sumUpload float64

	for p.opts.Clock().Before(deadline) {
		if ctx.Err() != nil {
			return
		}

		result, err := p.iteration(ctx, server, e)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// A failed iteration is skipped, the run continues
			logging.Warn(component, "Iteration failed: "+err.Error(), map[string]any{"session_id": req.SessionID})
		} else {
			result.Iteration = len(results) + 1
			results = append(results, stability.IterationResult{
				Index:     len(results),
				Ping:      result.Ping,
				Download:  result.Download,
				Upload:    result.Upload,
				Timestamp: result.Timestamp,
			})
			sumPing += result.Ping
			sumDownload += result.Download
			sumUpload += result.Upload
			e.emit(protocol.MsgFinal, result)

			n := float64(len(results))
			progress := float64(p.opts.Clock().Sub(start)) / float64(duration) * 100
			if progress > 100 {
				progress = 100
			}
			e.emit(protocol.MsgRunningStats, protocol.RunningStats{
				TestCount:       len(results),
				AvgPing:         sumPing / n,
				AvgDownload:     sumDownload / n,
				AvgUpload:       sumUpload / n,
				ProgressPercent: progress,
			})
		}

		if !p.opts.Clock().Before(deadline) {
			break
		}
		if !sleepContext(ctx, p.opts.IterationInterval) {
			return
		}
	}

	if len(results) == 0 {
		p.abort(ctx, e, "Stability test failed", errors.New("no iteration completed"))
		return
	}

	summary := stability.Summarize(results, stability.NewMinuteAggregator(p.opts.IterationsPerMinute), nil, req.DurationMinutes)
	e.emit(protocol.MsgStabilityAnalysis, analysisFromSummary(summary))
	logging.Info(component, "Stability test complete", map[string]any{
		"session_id":      req.SessionID,
		"test_count":      summary.TestCount,
		"stability_score": summary.StabilityScore,
	})
}

// iteration measures ping, download and upload once
func (p *Producer) iteration(ctx context.Context, server protocol.Server, e *emitter) (protocol.FinalResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	latency, err := p.measurer.Latency(ctx, server, func(ms float64) {
		e.emit(protocol.MsgPingSample, protocol.Progress{Ping: protocol.Float(ms), Message: "Testing latency..."})
	})
	if err != nil {
		return protocol.FinalResult{}, fmt.Errorf("latency: %w", err)
	}

	download, err := p.measurer.Download(ctx, server, func(mbps float64) {
		e.emit(protocol.MsgDownloadProgress, protocol.Progress{Download: protocol.Float(mbps), Message: "Testing download speed..."})
	})
	if err != nil {
		return protocol.FinalResult{}, fmt.Errorf("download: %w", err)
	}
	e.emit(protocol.MsgDownloadComplete, protocol.Progress{Download: protocol.Float(download), Message: "Download complete"})

	upload, err := p.measurer.Upload(ctx, server, func(mbps float64) {
		e.emit(protocol.MsgUploadProgress, protocol.Progress{Upload: protocol.Float(mbps), Message: "Testing upload speed..."})
	})
	if err != nil {
		return protocol.FinalResult{}, fmt.Errorf("upload: %w", err)
	}
	e.emit(protocol.MsgUploadComplete, protocol.Progress{Upload: protocol.Float(upload), Message: "Upload complete"})

	s := server
	return protocol.FinalResult{
		Ping:      latency.PingMs,
		Download:  download,
		Upload:    upload,
		Jitter:    protocol.Float(latency.JitterMs),
		Server:    &s,
		Timestamp: p.opts.Clock(),
	}, nil
}

// selectServer picks the requested server, or the lowest-latency nearby one
func (p *Producer) selectServer(ctx context.Context, serverID string) (protocol.Server, error) {
	servers, err := p.measurer.Servers(ctx)
	if err != nil {
		return protocol.Server{}, err
	}
	if len(servers) == 0 {
		return protocol.Server{}, errors.New("no servers available")
	}

	if serverID != "" {
		for _, s := range servers {
			if s.ID == serverID {
				return s, nil
			}
		}
		return protocol.Server{}, fmt.Errorf("server %s not found", serverID)
	}

	sort.SliceStable(servers, func(i, j int) bool { return servers[i].DistanceKm < servers[j].DistanceKm })
	n := p.opts.ServerCount
	if n > len(servers) {
		n = len(servers)
	}
	candidates := servers[:n]

	type pinged struct {
		server protocol.Server
		ping   float64
		err    error
	}

	sem := make(chan struct{}, p.opts.PingConcurrency)
	out := make(chan pinged, len(candidates))
	var wg sync.WaitGroup

	for _, s := range candidates {
		wg.Add(1)
		go func(s protocol.Server) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				out <- pinged{server: s, err: ctx.Err()}
				return
			case sem <- struct{}{}:
			}
			defer func() { <-sem }()

			r, err := p.measurer.Latency(ctx, s, nil)
			out <- pinged{server: s, ping: r.PingMs, err: err}
		}(s)
	}

	wg.Wait()
	close(out)

	var best *pinged
	for r := range out {
		if r.err != nil || r.ping <= 0 {
			continue
		}
		if best == nil || r.ping < best.ping || (r.ping == best.ping && r.server.DistanceKm < best.server.DistanceKm) {
			best = &r
		}
	}
	if best == nil {
		if err := ctx.Err(); err != nil {
			return protocol.Server{}, err
		}
		return protocol.Server{}, errors.New("all latency tests failed")
	}
	return best.server, nil
}

// abort reports a failure unless the run was cancelled
func (p *Producer) abort(ctx context.Context, e *emitter, message string, err error) {
	if ctx.Err() != nil {
		return
	}
	logging.Error(component, message, err)
	e.fail(message + ": " + err.Error())
}

func analysisFromSummary(s stability.Summary) protocol.StabilityAnalysis {
	return protocol.StabilityAnalysis{
		AvgDownload:    s.Download.Avg,
		AvgUpload:      s.Upload.Avg,
		AvgPing:        s.Ping.Avg,
		MinDownload:    s.Download.Min,
		MinUpload:      s.Upload.Min,
		MinPing:        s.Ping.Min,
		MaxDownload:    s.Download.Max,
		MaxUpload:      s.Upload.Max,
		MaxPing:        s.Ping.Max,
		StabilityScore: protocol.Float(s.StabilityScore),
		TestCount:      s.TestCount,
		Duration:       s.DurationMinutes,
	}
}

// sleepContext waits for d or until ctx is done. It reports whether the full wait elapsed.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// emitter wraps messages in envelopes for one session
type emitter struct {
	sessionID string
	sink      protocol.Sink
}

func (e *emitter) emit(msgType string, data any) {
	env, err := protocol.NewEnvelope(msgType, e.sessionID, data)
	if err != nil {
		logging.Error(component, "Failed to encode "+msgType, err)
		return
	}
	e.sink.Deliver(env)
}

func (e *emitter) fail(message string) {
	e.sink.Deliver(protocol.ErrorEnvelope(e.sessionID, message))
}

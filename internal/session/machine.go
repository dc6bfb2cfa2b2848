// Package session drives a speed test session: it tracks the current phase,
// applies producer events in arrival order, buffers samples and derives the
// statistics, minute buckets and quality rating observers render.
package session

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wellsgz/speedpulse/internal/logging"
	"github.com/wellsgz/speedpulse/internal/protocol"
	"github.com/wellsgz/speedpulse/internal/quality"
	"github.com/wellsgz/speedpulse/internal/stability"
	"github.com/wellsgz/speedpulse/internal/stats"
	"github.com/wellsgz/speedpulse/internal/storage"
)

const (
	component         = "Session"
	defaultBufferSize = 50
	subscriberBuffer  = 16
)

// Producer performs the measurements for a session and reports back through sink
type Producer interface {
	// Begin starts measuring asynchronously. Events for req.SessionID are delivered to sink.
	Begin(req protocol.BeginSession, sink protocol.Sink) error

	// Cancel asks the producer to stop. It does not wait for acknowledgement.
	Cancel(sessionID string)
}

// Recorder observes machine activity, typically for metrics
type Recorder interface {
	PhaseChanged(from, to Phase)
	SampleRecorded(kind storage.Kind, value float64)
	EventOutOfOrder(eventType string)
	EventRejected(eventType string)
	IterationRecorded(result stability.IterationResult)
	SessionEnded(mode Mode, phase Phase)
}

// Options tune a Machine. Zero values select defaults.
type Options struct {
	BufferSize          int              // Live samples kept per metric
	IterationsPerMinute int              // Bucket size for stability analysis
	Strict              bool             // Reject out-of-phase events and fail the session
	Scorer              stability.Scorer // Used when the summary carries no score
	Clock               func() time.Time
	Recorder            Recorder
}

// ProgressEvent is an inbound progress message
type ProgressEvent struct {
	Type string
	protocol.Progress
}

// eventRule lists the phases an event is expected in and the phase it leads to
type eventRule struct {
	expected []Phase
	next     Phase // Empty keeps the current phase
	mode     Mode  // Empty allows both modes

	// Additionally expected in continuous mode, where a failed iteration is
	// skipped and the next one starts from wherever the failure left off
	continuous []Phase
}

var eventRules = map[string]eventRule{
	protocol.MsgClientInfo:        {expected: []Phase{PhaseInitializing}},
	protocol.MsgServerSelected:    {expected: []Phase{PhaseInitializing}},
	protocol.MsgPingSample:        {expected: []Phase{PhaseInitializing, PhasePinging, PhaseRecording}, next: PhasePinging, continuous: []Phase{PhaseDownloading, PhaseUploading}},
	protocol.MsgDownloadProgress:  {expected: []Phase{PhasePinging, PhaseDownloading}, next: PhaseDownloading},
	protocol.MsgDownloadComplete:  {expected: []Phase{PhasePinging, PhaseDownloading}, next: PhaseDownloading},
	protocol.MsgUploadProgress:    {expected: []Phase{PhaseDownloading, PhaseUploading}, next: PhaseUploading},
	protocol.MsgUploadComplete:    {expected: []Phase{PhaseDownloading, PhaseUploading}, next: PhaseUploading},
	protocol.MsgFinal:             {expected: []Phase{PhaseUploading}},
	protocol.MsgRunningStats:      {expected: []Phase{PhaseRecording, PhaseAnalyzing}, mode: ModeContinuous},
	protocol.MsgStabilityAnalysis: {expected: []Phase{PhaseRecording, PhaseAnalyzing}, next: PhaseComplete, mode: ModeContinuous},
}

// Machine is the session state machine. It is safe for concurrent use;
// events are applied one at a time in the order the calls acquire it.
type Machine struct {
	producer   Producer
	opts       Options
	aggregator stability.MinuteAggregator
	recorder   Recorder

	// Held for the whole of Start so a superseding Start can only cancel
	// a run the producer has already registered
	startMu sync.Mutex

	mu         sync.Mutex
	cfg        Config
	phase      Phase
	startedAt  time.Time
	endedAt    time.Time
	message    string
	errMsg     string
	current    CurrentSpeed
	buffer     storage.Buffer
	sampleRun  map[storage.Kind]*stats.Running // Every sample since start
	sessionRun map[storage.Kind]*stats.Running // Every iteration result
	client     *protocol.ClientInfo
	server     *protocol.Server
	final      *FinalResult
	iterations []stability.IterationResult
	running    *protocol.RunningStats
	summary    *protocol.StabilityAnalysis
	assessment *quality.Assessment
	outOfOrder int

	subscribers map[chan Snapshot]struct{}
	subMu       sync.RWMutex
}

// NewMachine creates an idle machine. A nil producer is allowed when events
// are fed directly, for example when replaying a recording.
func NewMachine(producer Producer, opts Options) *Machine {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.Scorer == nil {
		opts.Scorer = stability.BucketScore
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if producer == nil {
		producer = nopProducer{}
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	m := &Machine{
		producer:    producer,
		opts:        opts,
		aggregator:  stability.NewMinuteAggregator(opts.IterationsPerMinute),
		recorder:    recorder,
		phase:       PhaseIdle,
		buffer:      storage.NewSampleBuffer(opts.BufferSize),
		subscribers: make(map[chan Snapshot]struct{}),
	}
	m.resetLocked()
	return m
}

// Start validates cfg and begins a new session, superseding any running one.
// It returns the session ID.
func (m *Machine) Start(cfg Config) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	cfg.Mode, _ = ParseMode(string(cfg.Mode))
	if cfg.Mode == ModeSingle {
		cfg.DurationMinutes = 0
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}

	m.startMu.Lock()
	defer m.startMu.Unlock()

	m.mu.Lock()
	superseded := ""
	if m.phase.Running() {
		superseded = m.cfg.SessionID
		m.transitionLocked(PhaseStopped)
	}
	m.resetLocked()
	m.cfg = cfg
	m.startedAt = m.opts.Clock()
	m.transitionLocked(PhaseInitializing)
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if superseded != "" {
		logging.Info(component, "Superseding running session "+superseded, nil)
		m.producer.Cancel(superseded)
	}
	logging.Info(component, "Session started", map[string]any{
		"session_id":       cfg.SessionID,
		"mode":             cfg.Mode,
		"duration_minutes": cfg.DurationMinutes,
		"server_id":        cfg.ServerID,
	})
	m.broadcast(snap)

	req := protocol.BeginSession{
		SessionID:       cfg.SessionID,
		Mode:            string(cfg.Mode),
		DurationMinutes: cfg.DurationMinutes,
		ServerID:        cfg.ServerID,
	}
	if err := m.producer.Begin(req, m); err != nil {
		perr := &ProducerError{Message: err.Error()}
		m.fail(cfg.SessionID, perr)
		return cfg.SessionID, perr
	}

	// Stop may have run while Begin was registering the run, in which case
	// its cancel found nothing to cancel
	m.mu.Lock()
	stopped := m.cfg.SessionID == cfg.SessionID && m.phase == PhaseStopped
	m.mu.Unlock()
	if stopped {
		m.producer.Cancel(cfg.SessionID)
	}
	return cfg.SessionID, nil
}

// OnProgressEvent applies a progress event to the running session
func (m *Machine) OnProgressEvent(evt ProgressEvent) error {
	return m.onProgress("", evt)
}

// OnFinalResult completes a single test or records one continuous iteration
func (m *Machine) OnFinalResult(result protocol.FinalResult) error {
	return m.onFinal("", result)
}

// OnRunningStats stores the producer's per-iteration aggregate
func (m *Machine) OnRunningStats(rs protocol.RunningStats) error {
	return m.onRunningStats("", rs)
}

// OnStabilityAnalysis completes a continuous test with its summary
func (m *Machine) OnStabilityAnalysis(summary protocol.StabilityAnalysis) error {
	return m.onStabilityAnalysis("", summary)
}

// Stop ends the running session. Collected data is kept.
func (m *Machine) Stop() error {
	m.mu.Lock()
	if !m.phase.Running() {
		m.mu.Unlock()
		return ErrNotRunning
	}
	id := m.cfg.SessionID
	m.message = "Test stopped"
	m.transitionLocked(PhaseStopped)
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.producer.Cancel(id)
	logging.Info(component, "Session stopped", map[string]any{"session_id": id, "iterations": len(snap.Iterations)})
	m.broadcast(snap)
	return nil
}

// OnError fails the running session with a producer error. Collected data is kept.
func (m *Machine) OnError(message string) error {
	return m.onError("", message)
}

// Deliver implements protocol.Sink. Messages for another session are ignored.
func (m *Machine) Deliver(env protocol.Envelope) {
	var err error
	switch env.Type {
	case protocol.MsgError:
		err = m.onError(env.SessionID, env.Error)
	case protocol.MsgFinal:
		var r protocol.FinalResult
		if err = env.Decode(&r); err == nil {
			err = m.onFinal(env.SessionID, r)
		}
	case protocol.MsgRunningStats:
		var rs protocol.RunningStats
		if err = env.Decode(&rs); err == nil {
			err = m.onRunningStats(env.SessionID, rs)
		}
	case protocol.MsgStabilityAnalysis:
		var sa protocol.StabilityAnalysis
		if err = env.Decode(&sa); err == nil {
			err = m.onStabilityAnalysis(env.SessionID, sa)
		}
	case protocol.MsgServerList:
		return
	default:
		if !protocol.IsProgress(env.Type) {
			err = &ProtocolError{Event: env.Type, Phase: m.Phase(), Reason: "unknown message type"}
			break
		}
		var p protocol.Progress
		if err = env.Decode(&p); err == nil {
			err = m.onProgress(env.SessionID, ProgressEvent{Type: env.Type, Progress: p})
		}
	}

	if err != nil {
		logging.Warn(component, "Dropped "+env.Type+" message: "+err.Error(), nil)
	}
}

// Phase returns the current phase
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// SessionID returns the ID of the current or last session
func (m *Machine) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.SessionID
}

// Snapshot returns a copy of the derived state
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Buckets recomputes the minute buckets of the current iteration results
func (m *Machine) Buckets() []stability.MinuteBucket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aggregator.Aggregate(m.iterations)
}

// Subscribe returns a channel receiving a snapshot after every change
func (m *Machine) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe removes and closes a subscriber channel
func (m *Machine) Unsubscribe(ch <-chan Snapshot) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			close(subCh)
			delete(m.subscribers, subCh)
			return
		}
	}
}

// Close closes every subscriber channel
func (m *Machine) Close() {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, ch)
	}
}

func (m *Machine) onProgress(sessionID string, evt ProgressEvent) error {
	return m.handle(evt.Type, sessionID, func() error {
		err := m.applyProgress(evt)
		if err == nil && evt.Message != "" {
			m.message = evt.Message
		}
		return err
	})
}

// applyProgress stores the payload of a progress event. Must be called with the lock held.
func (m *Machine) applyProgress(evt ProgressEvent) error {
	switch evt.Type {
	case protocol.MsgClientInfo:
		if evt.Client == nil {
			return m.reject(evt.Type, "missing client info")
		}
		client := *evt.Client
		m.client = &client
		return nil

	case protocol.MsgServerSelected:
		if evt.Server == nil {
			return m.reject(evt.Type, "missing server")
		}
		server := *evt.Server
		m.server = &server
		return nil

	case protocol.MsgPingSample:
		return m.recordSample(evt.Type, storage.KindPing, evt.Ping)
	case protocol.MsgDownloadProgress, protocol.MsgDownloadComplete:
		return m.recordSample(evt.Type, storage.KindDownload, evt.Download)
	case protocol.MsgUploadProgress, protocol.MsgUploadComplete:
		return m.recordSample(evt.Type, storage.KindUpload, evt.Upload)
	}
	return m.reject(evt.Type, "not a progress event")
}

func (m *Machine) onFinal(sessionID string, r protocol.FinalResult) error {
	return m.handle(protocol.MsgFinal, sessionID, func() error {
		for _, v := range []float64{r.Ping, r.Download, r.Upload} {
			if !validSample(v) {
				return m.reject(protocol.MsgFinal, "invalid result value")
			}
		}

		m.current = CurrentSpeed{Ping: protocol.Float(r.Ping), Download: protocol.Float(r.Download), Upload: protocol.Float(r.Upload)}
		server := m.server
		if r.Server != nil {
			s := *r.Server
			server = &s
		}

		ts := r.Timestamp
		if ts.IsZero() {
			ts = m.opts.Clock()
		}

		if m.cfg.Mode == ModeSingle {
			jitter := 0.0
			if r.Jitter != nil && validSample(*r.Jitter) {
				jitter = *r.Jitter
			} else if pings := m.sampleRun[storage.KindPing].Snapshot(); !pings.Empty() {
				jitter = pings.Std
			}

			m.final = &FinalResult{
				Ping:        r.Ping,
				Download:    r.Download,
				Upload:      r.Upload,
				Jitter:      jitter,
				Server:      server,
				CompletedAt: ts,
			}
			a := quality.Classify(r.Ping, r.Download, r.Upload)
			m.assessment = &a
			m.transitionLocked(PhaseComplete)
			logging.Info(component, "Test complete", map[string]any{
				"session_id": m.cfg.SessionID,
				"ping":       r.Ping,
				"download":   r.Download,
				"upload":     r.Upload,
				"rating":     a.Rating,
			})
			return nil
		}

		result := stability.IterationResult{
			Index:     len(m.iterations),
			Ping:      r.Ping,
			Download:  r.Download,
			Upload:    r.Upload,
			Timestamp: ts,
		}
		m.iterations = append(m.iterations, result)
		m.sessionRun[storage.KindPing].Update(r.Ping)
		m.sessionRun[storage.KindDownload].Update(r.Download)
		m.sessionRun[storage.KindUpload].Update(r.Upload)
		m.recorder.IterationRecorded(result)

		if m.durationElapsedLocked() {
			m.transitionLocked(PhaseAnalyzing)
		} else {
			m.transitionLocked(PhaseRecording)
		}
		return nil
	})
}

func (m *Machine) onRunningStats(sessionID string, rs protocol.RunningStats) error {
	return m.handle(protocol.MsgRunningStats, sessionID, func() error {
		m.running = &rs
		if rs.ProgressPercent >= 100 && m.phase == PhaseRecording {
			m.transitionLocked(PhaseAnalyzing)
		}
		return nil
	})
}

func (m *Machine) onStabilityAnalysis(sessionID string, sa protocol.StabilityAnalysis) error {
	return m.handle(protocol.MsgStabilityAnalysis, sessionID, func() error {
		if sa.StabilityScore == nil {
			score := m.opts.Scorer(m.aggregator.Aggregate(m.iterations))
			sa.StabilityScore = &score
		}
		if sa.Duration == 0 {
			sa.Duration = m.cfg.DurationMinutes
		}
		m.summary = &sa

		a := quality.Classify(sa.AvgPing, sa.AvgDownload, sa.AvgUpload)
		m.assessment = &a
		logging.Info(component, "Stability test complete", map[string]any{
			"session_id":      m.cfg.SessionID,
			"test_count":      sa.TestCount,
			"stability_score": *sa.StabilityScore,
		})
		return nil
	})
}

func (m *Machine) onError(sessionID, message string) error {
	m.mu.Lock()
	if !m.phase.Running() {
		m.mu.Unlock()
		return ErrNotRunning
	}
	if sessionID != "" && sessionID != m.cfg.SessionID {
		phase := m.phase
		m.mu.Unlock()
		return &ProtocolError{Event: protocol.MsgError, Phase: phase, Reason: "message for another session"}
	}
	id := m.cfg.SessionID
	m.mu.Unlock()

	m.fail(id, &ProducerError{Message: message})
	return nil
}

// handle runs apply for an event under the lock after checking the session,
// mode and phase, then moves to the event's next phase and notifies subscribers.
func (m *Machine) handle(eventType, sessionID string, apply func() error) error {
	rule, known := eventRules[eventType]

	m.mu.Lock()
	if !m.phase.Running() {
		phase := m.phase
		m.mu.Unlock()
		return &ProtocolError{Event: eventType, Phase: phase, Reason: "no session is running"}
	}
	if sessionID != "" && sessionID != m.cfg.SessionID {
		phase := m.phase
		m.mu.Unlock()
		return &ProtocolError{Event: eventType, Phase: phase, Reason: "message for another session"}
	}
	if !known {
		err := m.reject(eventType, "unknown event")
		m.mu.Unlock()
		return err
	}
	if rule.mode != "" && rule.mode != m.cfg.Mode {
		err := m.reject(eventType, "not valid in "+string(m.cfg.Mode)+" mode")
		m.mu.Unlock()
		return err
	}

	cancelID := ""
	err := m.checkOrderLocked(eventType, rule)
	if err != nil {
		cancelID = m.cfg.SessionID
	} else if err = apply(); err == nil && rule.next != "" {
		m.transitionLocked(rule.next)
	}
	notify := err == nil || cancelID != ""
	snap := m.snapshotLocked()
	m.mu.Unlock()

	if cancelID != "" {
		m.producer.Cancel(cancelID)
	}
	if notify {
		m.broadcast(snap)
	}
	return err
}

// checkOrderLocked enforces the strictness policy for an event outside its
// expected phases. In strict mode the session fails.
func (m *Machine) checkOrderLocked(eventType string, rule eventRule) error {
	for _, p := range rule.expected {
		if p == m.phase {
			return nil
		}
	}
	if m.cfg.Mode == ModeContinuous {
		for _, p := range rule.continuous {
			if p == m.phase {
				return nil
			}
		}
	}

	m.outOfOrder++
	m.recorder.EventOutOfOrder(eventType)

	if !m.opts.Strict {
		logging.Warn(component, "Out-of-order "+eventType+" event in phase "+string(m.phase), nil)
		return nil
	}

	err := &ProtocolError{Event: eventType, Phase: m.phase, Reason: "unexpected in this phase"}
	logging.Warn(component, "Rejected "+eventType+" event in phase "+string(m.phase), nil)
	m.errMsg = err.Error()
	m.transitionLocked(PhaseError)
	return err
}

// reject records a malformed event. Must be called with the lock held.
func (m *Machine) reject(eventType, reason string) error {
	m.recorder.EventRejected(eventType)
	return &ProtocolError{Event: eventType, Phase: m.phase, Reason: reason}
}

// recordSample appends a validated value. Must be called with the lock held.
func (m *Machine) recordSample(eventType string, kind storage.Kind, value *float64) error {
	if value == nil {
		return m.reject(eventType, "missing "+string(kind)+" value")
	}
	if !validSample(*value) {
		return m.reject(eventType, "invalid "+string(kind)+" value")
	}

	v := *value
	m.buffer.Append(kind, v, m.opts.Clock())
	m.sampleRun[kind].Update(v)
	switch kind {
	case storage.KindPing:
		m.current.Ping = protocol.Float(v)
	case storage.KindDownload:
		m.current.Download = protocol.Float(v)
	case storage.KindUpload:
		m.current.Upload = protocol.Float(v)
	}

	m.recorder.SampleRecorded(kind, v)
	logging.SampleResult(m.cfg.SessionID, string(kind), v)
	return nil
}

// fail moves the given session to Error if it is still the running one
func (m *Machine) fail(sessionID string, err error) {
	m.mu.Lock()
	if m.cfg.SessionID != sessionID || !m.phase.Running() {
		m.mu.Unlock()
		return
	}
	m.errMsg = err.Error()
	m.transitionLocked(PhaseError)
	snap := m.snapshotLocked()
	m.mu.Unlock()

	logging.Error(component, "Session "+sessionID+" failed", err)
	m.broadcast(snap)
}

// transitionLocked changes phase. Must be called with the lock held.
func (m *Machine) transitionLocked(to Phase) {
	from := m.phase
	if from == to {
		return
	}
	m.phase = to
	now := m.opts.Clock()
	if to.Terminal() {
		m.endedAt = now
		m.recorder.SessionEnded(m.cfg.Mode, to)
	}
	m.recorder.PhaseChanged(from, to)
	logging.Transition(m.cfg.SessionID, string(from), string(to), now)
}

func (m *Machine) durationElapsedLocked() bool {
	if m.cfg.DurationMinutes <= 0 {
		return false
	}
	deadline := m.startedAt.Add(time.Duration(m.cfg.DurationMinutes) * time.Minute)
	return !m.opts.Clock().Before(deadline)
}

// resetLocked discards all session data. Must be called with the lock held.
func (m *Machine) resetLocked() {
	m.cfg = Config{}
	m.startedAt = time.Time{}
	m.endedAt = time.Time{}
	m.message = ""
	m.errMsg = ""
	m.current = CurrentSpeed{}
	m.buffer.Reset()
	m.sampleRun = newRunningSet()
	m.sessionRun = newRunningSet()
	m.client = nil
	m.server = nil
	m.final = nil
	m.iterations = nil
	m.running = nil
	m.summary = nil
	m.assessment = nil
	m.outOfOrder = 0
}

// snapshotLocked copies the derived state. Must be called with the lock held.
func (m *Machine) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID:       m.cfg.SessionID,
		Mode:            m.cfg.Mode,
		DurationMinutes: m.cfg.DurationMinutes,
		ServerID:        m.cfg.ServerID,
		Phase:           m.phase,
		Message:         m.message,
		Error:           m.errMsg,
		CurrentSpeed: CurrentSpeed{
			Ping:     copyFloat(m.current.Ping),
			Download: copyFloat(m.current.Download),
			Upload:   copyFloat(m.current.Upload),
		},
		LiveSeries: LiveSeries{
			Ping:     m.buffer.Window(storage.KindPing),
			Download: m.buffer.Window(storage.KindDownload),
			Upload:   m.buffer.Window(storage.KindUpload),
		},
		SampleStats:  metricStats(m.sampleRun),
		SessionStats: metricStats(m.sessionRun),
		OutOfOrder:   m.outOfOrder,
	}

	if !m.startedAt.IsZero() {
		t := m.startedAt
		snap.StartedAt = &t
	}
	if !m.endedAt.IsZero() {
		t := m.endedAt
		snap.EndedAt = &t
	}
	if m.client != nil {
		c := *m.client
		snap.Client = &c
	}
	if m.server != nil {
		s := *m.server
		snap.Server = &s
	}
	if m.final != nil {
		f := *m.final
		snap.FinalResult = &f
	}
	if len(m.iterations) > 0 {
		snap.Iterations = append([]stability.IterationResult(nil), m.iterations...)
		snap.MinuteBuckets = m.aggregator.Aggregate(m.iterations)
		snap.Consistency = snap.SessionStats.Consistency()
	}
	if m.running != nil {
		rs := *m.running
		snap.RunningStats = &rs
	}
	if m.summary != nil {
		sa := *m.summary
		snap.Summary = &sa
	}
	if m.assessment != nil {
		a := quality.Assessment{
			Rating:          m.assessment.Rating,
			Recommendations: append([]string(nil), m.assessment.Recommendations...),
		}
		snap.Quality = &a
	}
	return snap
}

// broadcast sends a snapshot to all subscribers without blocking
func (m *Machine) broadcast(snap Snapshot) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- snap:
		default:
			// Subscriber is behind, it will catch up on the next change
		}
	}
}

func newRunningSet() map[storage.Kind]*stats.Running {
	set := make(map[storage.Kind]*stats.Running, len(storage.Kinds))
	for _, k := range storage.Kinds {
		set[k] = &stats.Running{}
	}
	return set
}

func metricStats(set map[storage.Kind]*stats.Running) MetricStats {
	return MetricStats{
		Ping:     set[storage.KindPing].Snapshot().Ptr(),
		Download: set[storage.KindDownload].Snapshot().Ptr(),
		Upload:   set[storage.KindUpload].Snapshot().Ptr(),
	}
}

func validSample(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

type nopProducer struct{}

func (nopProducer) Begin(protocol.BeginSession, protocol.Sink) error { return nil }
func (nopProducer) Cancel(string)                                    {}

type nopRecorder struct{}

func (nopRecorder) PhaseChanged(Phase, Phase)                   {}
func (nopRecorder) SampleRecorded(storage.Kind, float64)        {}
func (nopRecorder) EventOutOfOrder(string)                      {}
func (nopRecorder) EventRejected(string)                        {}
func (nopRecorder) IterationRecorded(stability.IterationResult) {}
func (nopRecorder) SessionEnded(Mode, Phase)                    {}

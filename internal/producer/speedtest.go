package producer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"

	"github.com/wellsgz/speedpulse/internal/protocol"
)

// SpeedtestOptions configures the speedtest.net measurer
type SpeedtestOptions struct {
	SavingMode     bool
	MaxConnections int
	Sampler        Sampler // When set, replaces the HTTP latency test
}

// SpeedtestMeasurer measures against speedtest.net servers
type SpeedtestMeasurer struct {
	opts   SpeedtestOptions
	client *st.Speedtest

	// Servers from the last list fetch, by ID
	servers   map[string]*st.Server
	serversMu sync.Mutex

	// Throughput callbacks are per client, so transfers run one at a time
	transferMu sync.Mutex
}

// NewSpeedtestMeasurer creates a measurer with its own speedtest client
func NewSpeedtestMeasurer(opts SpeedtestOptions) *SpeedtestMeasurer {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = 4
	}

	client := st.New(st.WithUserConfig(&st.UserConfig{
		SavingMode:     opts.SavingMode,
		MaxConnections: opts.MaxConnections,
	}))
	client.SetNThread(opts.MaxConnections)

	return &SpeedtestMeasurer{
		opts:    opts,
		client:  client,
		servers: make(map[string]*st.Server),
	}
}

// Client fetches the public IP and ISP
func (m *SpeedtestMeasurer) Client(ctx context.Context) (protocol.ClientInfo, error) {
	user, err := m.client.FetchUserInfoContext(ctx)
	if err != nil {
		return protocol.ClientInfo{}, fmt.Errorf("fetch user info: %w", err)
	}
	return protocol.ClientInfo{IP: user.IP, ISP: user.Isp}, nil
}

// Servers fetches the server list sorted by distance
func (m *SpeedtestMeasurer) Servers(ctx context.Context) ([]protocol.Server, error) {
	list, err := m.client.FetchServerListContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch server list: %w", err)
	}
	if a := list.Available(); a != nil {
		list = *a
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("no servers available")
	}

	sort.Slice(list, func(i, j int) bool { return list[i].Distance < list[j].Distance })

	m.serversMu.Lock()
	m.servers = make(map[string]*st.Server, len(list))
	for _, s := range list {
		m.servers[s.ID] = s
	}
	m.serversMu.Unlock()

	result := make([]protocol.Server, 0, len(list))
	for _, s := range list {
		result = append(result, toServer(s))
	}
	return result, nil
}

// Latency pings the server over HTTP, or with the configured sampler
func (m *SpeedtestMeasurer) Latency(ctx context.Context, server protocol.Server, onSample func(ms float64)) (LatencyResult, error) {
	if m.opts.Sampler != nil {
		return m.opts.Sampler.Sample(ctx, server.Host, onSample)
	}

	s, err := m.lookup(ctx, server.ID)
	if err != nil {
		return LatencyResult{}, err
	}

	var rtts []float64
	err = s.PingTestContext(ctx, func(latency time.Duration) {
		ms := durationMs(latency)
		rtts = append(rtts, ms)
		if onSample != nil {
			onSample(ms)
		}
	})
	if err != nil {
		return LatencyResult{}, fmt.Errorf("ping test: %w", err)
	}

	result := newLatencyResult(rtts, len(rtts))
	// Prefer the library's own figures when it reports them
	if s.Latency > 0 {
		result.PingMs = durationMs(s.Latency)
	}
	if s.Jitter > 0 {
		result.JitterMs = durationMs(s.Jitter)
	}
	return result, nil
}

// Download runs the download test
func (m *SpeedtestMeasurer) Download(ctx context.Context, server protocol.Server, onProgress func(mbps float64)) (float64, error) {
	s, err := m.lookup(ctx, server.ID)
	if err != nil {
		return 0, err
	}

	m.transferMu.Lock()
	defer m.transferMu.Unlock()
	defer m.cleanup()

	m.client.SetCallbackDownload(func(rate st.ByteRate) {
		if onProgress != nil {
			onProgress(rate.Mbps())
		}
	})
	if err := s.DownloadTestContext(ctx); err != nil {
		return 0, fmt.Errorf("download test: %w", err)
	}
	return s.DLSpeed.Mbps(), nil
}

// Upload runs the upload test
func (m *SpeedtestMeasurer) Upload(ctx context.Context, server protocol.Server, onProgress func(mbps float64)) (float64, error) {
	s, err := m.lookup(ctx, server.ID)
	if err != nil {
		return 0, err
	}

	m.transferMu.Lock()
	defer m.transferMu.Unlock()
	defer m.cleanup()

	m.client.SetCallbackUpload(func(rate st.ByteRate) {
		if onProgress != nil {
			onProgress(rate.Mbps())
		}
	})
	if err := s.UploadTestContext(ctx); err != nil {
		return 0, fmt.Errorf("upload test: %w", err)
	}
	return s.ULSpeed.Mbps(), nil
}

// lookup returns the library server for an ID, refreshing the list once if needed
func (m *SpeedtestMeasurer) lookup(ctx context.Context, id string) (*st.Server, error) {
	m.serversMu.Lock()
	s, ok := m.servers[id]
	m.serversMu.Unlock()
	if ok {
		return s, nil
	}

	if _, err := m.Servers(ctx); err != nil {
		return nil, err
	}

	m.serversMu.Lock()
	defer m.serversMu.Unlock()
	if s, ok := m.servers[id]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("server %s not found", id)
}

// cleanup drops per-test snapshots so memory does not grow across iterations
func (m *SpeedtestMeasurer) cleanup() {
	m.client.Snapshots().Clean()
	m.client.Reset()
}

func toServer(s *st.Server) protocol.Server {
	return protocol.Server{
		ID:         s.ID,
		Name:       s.Sponsor,
		Location:   s.Name,
		Country:    s.Country,
		DistanceKm: s.Distance,
		Host:       s.Host,
	}
}

func durationMs(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

package producer

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// ICMPSampler measures latency to a host with ICMP echo bursts
type ICMPSampler struct {
	Pings   int
	Timeout time.Duration

	mu         sync.Mutex
	privileged bool
}

// NewICMPSampler creates a sampler sending pings echoes per burst
func NewICMPSampler(pings int, timeout time.Duration) *ICMPSampler {
	if pings < 1 {
		pings = 1
	}
	return &ICMPSampler{
		Pings:      pings,
		Timeout:    timeout,
		privileged: true, // Try privileged mode first
	}
}

// Sample pings host and reports each round trip as it arrives
func (s *ICMPSampler) Sample(ctx context.Context, host string, onSample func(ms float64)) (LatencyResult, error) {
	host = stripPort(host)

	pinger, err := probing.NewPinger(host)
	if err != nil {
		return LatencyResult{}, fmt.Errorf("failed to create pinger: %w", err)
	}

	s.mu.Lock()
	privileged := s.privileged
	s.mu.Unlock()

	pinger.Count = s.Pings
	pinger.SetPrivileged(privileged)
	pinger.Interval = 50 * time.Millisecond

	// Allow 250ms per echo, never less than the configured timeout
	burstTimeout := time.Duration(s.Pings) * 250 * time.Millisecond
	if burstTimeout < s.Timeout {
		burstTimeout = s.Timeout
	}
	pinger.Timeout = burstTimeout

	var rtts []float64
	pinger.OnRecv = func(pkt *probing.Packet) {
		ms := float64(pkt.Rtt.Microseconds()) / 1000.0
		rtts = append(rtts, ms)
		if onSample != nil {
			onSample(ms)
		}
	}

	err = pinger.RunWithContext(ctx)
	if err != nil && privileged {
		// Raw sockets need privileges, fall back to UDP ping
		s.mu.Lock()
		s.privileged = false
		s.mu.Unlock()
		pinger.SetPrivileged(false)
		rtts = nil
		err = pinger.RunWithContext(ctx)
	}
	if err != nil {
		return LatencyResult{}, fmt.Errorf("ping failed: %w", err)
	}

	st := pinger.Statistics()
	if st.PacketsRecv == 0 {
		return LatencyResult{Sent: st.PacketsSent}, fmt.Errorf("packet loss: no response from %s", host)
	}
	return newLatencyResult(rtts, st.PacketsSent), nil
}

// stripPort removes a :port suffix from a speedtest host
func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

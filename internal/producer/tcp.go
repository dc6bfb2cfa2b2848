package producer

import (
	"context"
	"errors"
	"net"
	"time"
)

// defaultSpeedtestPort is dialed when a server host carries no port
const defaultSpeedtestPort = "8080"

// TCPSampler measures latency as the time to complete a TCP handshake.
// It needs no privileges and works where ICMP is filtered.
type TCPSampler struct {
	Pings   int
	Timeout time.Duration
	Gap     time.Duration // Pause between connects

	dial func(ctx context.Context, network, address string) (net.Conn, error)
}

// NewTCPSampler creates a sampler making pings connects per burst
func NewTCPSampler(pings int, timeout time.Duration) *TCPSampler {
	if pings < 1 {
		pings = 1
	}

	// Split the timeout among connects, at least 1s each
	perConnect := timeout / time.Duration(pings)
	if perConnect < time.Second {
		perConnect = time.Second
	}
	dialer := &net.Dialer{Timeout: perConnect}

	return &TCPSampler{
		Pings:   pings,
		Timeout: timeout,
		Gap:     10 * time.Millisecond,
		dial:    dialer.DialContext,
	}
}

// Sample connects to host and reports each handshake time as it completes.
// Failed connects count as lost.
func (s *TCPSampler) Sample(ctx context.Context, host string, onSample func(ms float64)) (LatencyResult, error) {
	address := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		address = net.JoinHostPort(host, defaultSpeedtestPort)
	}

	var rtts []float64
	sent := 0
	for i := 0; i < s.Pings; i++ {
		if ctx.Err() != nil {
			break
		}

		sent++
		start := time.Now()
		conn, err := s.dial(ctx, "tcp", address)
		if err != nil {
			continue
		}
		ms := durationMs(time.Since(start))
		conn.Close()

		rtts = append(rtts, ms)
		if onSample != nil {
			onSample(ms)
		}

		if i < s.Pings-1 && !sleepContext(ctx, s.Gap) {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return LatencyResult{}, err
	}
	if len(rtts) == 0 {
		return LatencyResult{Sent: sent}, errors.New("packet loss: no connection to " + address)
	}
	return newLatencyResult(rtts, sent), nil
}

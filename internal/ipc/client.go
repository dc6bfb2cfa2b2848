package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wellsgz/speedpulse/internal/protocol"
	"github.com/wellsgz/speedpulse/internal/session"
)

const requestTimeout = 5 * time.Second

// ErrClosed is returned for requests on a closed client
var ErrClosed = errors.New("ipc client closed")

// Client connects to the IPC server
type Client struct {
	conn    net.Conn
	encoder *json.Encoder
	scanner *bufio.Scanner

	snapshotCh chan session.Snapshot

	// Pending requests waiting for responses, keyed by request ID
	pending   map[string]chan Response
	pendingMu sync.Mutex

	ctx    chan struct{}
	wg     sync.WaitGroup
	closed bool
	mu     sync.Mutex
}

// Connect connects to the IPC server
func Connect(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}

	client := &Client{
		conn:       conn,
		encoder:    json.NewEncoder(conn),
		scanner:    bufio.NewScanner(conn),
		snapshotCh: make(chan session.Snapshot, 16),
		pending:    make(map[string]chan Response),
		ctx:        make(chan struct{}),
	}

	client.scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	client.wg.Add(1)
	go client.readLoop()

	return client, nil
}

// readLoop reads responses from the server
func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.snapshotCh)

	for c.scanner.Scan() {
		var resp Response
		if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
			continue
		}

		// Pushed snapshots carry no ID
		if resp.ID == "" {
			if resp.Type != MsgTypeSnapshot {
				continue
			}
			var snap session.Snapshot
			if err := resp.decode(&snap); err != nil {
				continue
			}
			select {
			case c.snapshotCh <- snap:
			default:
				// Channel full, skip
			}
			continue
		}

		// Route response to waiting request by ID
		c.pendingMu.Lock()
		if ch, ok := c.pending[resp.ID]; ok {
			select {
			case ch <- resp:
			default:
			}
		}
		c.pendingMu.Unlock()
	}
}

// request sends a request and waits for its response
func (c *Client) request(reqType string, data any, timeout time.Duration) (Response, error) {
	req := Request{ID: uuid.NewString(), Type: reqType}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Response{}, fmt.Errorf("failed to encode %s: %w", reqType, err)
		}
		req.Data = raw
	}

	respCh := make(chan Response, 1)
	c.pendingMu.Lock()
	c.pending[req.ID] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.ID)
		c.pendingMu.Unlock()
	}()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Response{}, ErrClosed
	}
	err := c.encoder.Encode(req)
	c.mu.Unlock()
	if err != nil {
		return Response{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		if resp.Type == MsgTypeError {
			return resp, fmt.Errorf("%s failed: %s", reqType, resp.Error)
		}
		return resp, nil
	case <-timer.C:
		return Response{}, fmt.Errorf("%s timeout", reqType)
	case <-c.ctx:
		return Response{}, ErrClosed
	}
}

// Subscribe asks the daemon to push snapshots after every change
func (c *Client) Subscribe() error {
	_, err := c.request(MsgTypeSubscribe, nil, requestTimeout)
	return err
}

// Snapshots returns the channel of pushed snapshots. It is closed when the connection ends.
func (c *Client) Snapshots() <-chan session.Snapshot {
	return c.snapshotCh
}

// Start starts a test on the daemon and returns its session ID
func (c *Client) Start(req StartRequest) (string, error) {
	resp, err := c.request(MsgTypeStart, req, requestTimeout)
	if err != nil {
		return "", err
	}
	var started StartedResponse
	if err := resp.decode(&started); err != nil {
		return "", err
	}
	return started.SessionID, nil
}

// Stop stops the daemon's running test
func (c *Client) Stop() error {
	_, err := c.request(MsgTypeStop, nil, requestTimeout)
	return err
}

// Snapshot fetches the daemon's current snapshot
func (c *Client) Snapshot() (session.Snapshot, error) {
	resp, err := c.request(MsgTypeGetSnapshot, nil, requestTimeout)
	if err != nil {
		return session.Snapshot{}, err
	}
	var snap session.Snapshot
	if err := resp.decode(&snap); err != nil {
		return session.Snapshot{}, err
	}
	return snap, nil
}

// Servers fetches the measurement servers known to the daemon
func (c *Client) Servers(ctx context.Context) ([]protocol.Server, error) {
	timeout := serversTimeout + requestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	resp, err := c.request(MsgTypeGetServers, nil, timeout)
	if err != nil {
		return nil, err
	}
	var list ServersResponse
	if err := resp.decode(&list); err != nil {
		return nil, err
	}
	return list.Servers, nil
}

// Close closes the connection
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.ctx)
	c.conn.Close()
	c.wg.Wait()

	return nil
}

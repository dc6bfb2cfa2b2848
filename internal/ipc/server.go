package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/wellsgz/speedpulse/internal/logging"
	"github.com/wellsgz/speedpulse/internal/protocol"
	"github.com/wellsgz/speedpulse/internal/session"
)

const serversTimeout = 30 * time.Second

// Session is the state machine surface served over the socket
type Session interface {
	Start(cfg session.Config) (string, error)
	Stop() error
	Snapshot() session.Snapshot
	Subscribe() <-chan session.Snapshot
	Unsubscribe(ch <-chan session.Snapshot)
}

// ServerLister lists measurement servers
type ServerLister interface {
	Servers(ctx context.Context) ([]protocol.Server, error)
}

// Server handles Unix socket connections from TUI clients
type Server struct {
	socketPath string
	listener   net.Listener
	session    Session
	servers    ServerLister
	window     int // Live samples per metric in pushed snapshots, 0 for all

	clients   map[*serverClient]struct{}
	clientsMu sync.RWMutex

	ctx    chan struct{} // closed when stopping
	wg     sync.WaitGroup
	closed bool
	mu     sync.Mutex
}

// serverClient represents a connected client
type serverClient struct {
	conn       net.Conn
	server     *Server
	encoder    *json.Encoder
	subscribed bool
	mu         sync.Mutex
}

// NewServer creates a new IPC server
func NewServer(socketPath string, sess Session, servers ServerLister, window int) *Server {
	return &Server{
		socketPath: socketPath,
		session:    sess,
		servers:    servers,
		window:     window,
		clients:    make(map[*serverClient]struct{}),
		ctx:        make(chan struct{}),
	}
}

// Start begins listening for connections
func (s *Server) Start() error {
	// Remove existing socket file
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	s.listener = listener

	if err := os.Chmod(s.socketPath, 0660); err != nil {
		logging.Warn("IPC", "Failed to set socket permissions: "+err.Error(), nil)
	}

	logging.Info("IPC", "Server listening on "+s.socketPath, nil)

	snapshots := s.session.Subscribe()
	s.wg.Add(1)
	go s.broadcastSnapshots(snapshots)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// acceptLoop accepts new connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx:
				return // Server is stopping
			default:
				logging.Warn("IPC", "Accept error: "+err.Error(), nil)
				continue
			}
		}

		client := &serverClient{
			conn:    conn,
			server:  s,
			encoder: json.NewEncoder(conn),
		}

		s.clientsMu.Lock()
		s.clients[client] = struct{}{}
		s.clientsMu.Unlock()

		s.wg.Add(1)
		go s.handleClient(client)
	}
}

// handleClient handles a client connection
func (s *Server) handleClient(client *serverClient) {
	defer s.wg.Done()
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, client)
		s.clientsMu.Unlock()
		client.conn.Close()
	}()

	scanner := bufio.NewScanner(client.conn)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB buffer

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			client.sendError("", fmt.Sprintf("invalid request: %v", err))
			continue
		}

		s.handleRequest(client, &req)
	}

	if err := scanner.Err(); err != nil {
		logging.Debug("IPC", "Client read error: "+err.Error(), nil)
	}
}

// handleRequest processes a client request
func (s *Server) handleRequest(client *serverClient, req *Request) {
	switch req.Type {
	case MsgTypeSubscribe:
		client.mu.Lock()
		client.subscribed = true
		client.mu.Unlock()
		client.sendOK(req.ID)

	case MsgTypeUnsubscribe:
		client.mu.Lock()
		client.subscribed = false
		client.mu.Unlock()
		client.sendOK(req.ID)

	case MsgTypeStart:
		var startReq StartRequest
		if len(req.Data) > 0 {
			if err := json.Unmarshal(req.Data, &startReq); err != nil {
				client.sendError(req.ID, fmt.Sprintf("invalid start request: %v", err))
				return
			}
		}
		mode, err := session.ParseMode(startReq.Mode)
		if err != nil {
			client.sendError(req.ID, err.Error())
			return
		}
		id, err := s.session.Start(session.Config{
			Mode:            mode,
			DurationMinutes: startReq.DurationMinutes,
			ServerID:        startReq.ServerID,
		})
		if err != nil {
			client.sendError(req.ID, err.Error())
			return
		}
		client.sendResponse(req.ID, MsgTypeStarted, StartedResponse{SessionID: id})

	case MsgTypeStop:
		if err := s.session.Stop(); err != nil {
			client.sendError(req.ID, err.Error())
			return
		}
		client.sendOK(req.ID)

	case MsgTypeGetSnapshot:
		client.sendResponse(req.ID, MsgTypeSnapshot, s.compact(s.session.Snapshot()))

	case MsgTypeGetServers:
		if s.servers == nil {
			client.sendError(req.ID, "no measurement producer available")
			return
		}
		// Server list fetches are slow, keep serving this client meanwhile
		s.wg.Add(1)
		go func(id string) {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), serversTimeout)
			defer cancel()

			servers, err := s.servers.Servers(ctx)
			if err != nil {
				client.sendError(id, fmt.Sprintf("failed to fetch servers: %v", err))
				return
			}
			client.sendResponse(id, MsgTypeServers, ServersResponse{Servers: servers})
		}(req.ID)

	default:
		client.sendError(req.ID, fmt.Sprintf("unknown request type: %s", req.Type))
	}
}

// broadcastSnapshots pushes session snapshots to subscribed clients
func (s *Server) broadcastSnapshots(ch <-chan session.Snapshot) {
	defer s.wg.Done()
	defer s.session.Unsubscribe(ch)

	for {
		select {
		case <-s.ctx:
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}

			resp, err := newResponse("", MsgTypeSnapshot, s.compact(snap))
			if err != nil {
				logging.Error("IPC", "Failed to encode snapshot", err)
				continue
			}

			s.clientsMu.RLock()
			for client := range s.clients {
				client.mu.Lock()
				if client.subscribed {
					if err := client.encoder.Encode(resp); err != nil {
						logging.Debug("IPC", "Failed to send snapshot to client: "+err.Error(), nil)
					}
				}
				client.mu.Unlock()
			}
			s.clientsMu.RUnlock()
		}
	}
}

func (s *Server) compact(snap session.Snapshot) session.Snapshot {
	if s.window > 0 {
		return snap.Compact(s.window)
	}
	return snap
}

// Stop stops the server
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.ctx)

	if s.listener != nil {
		s.listener.Close()
	}

	// Close all client connections
	s.clientsMu.Lock()
	for client := range s.clients {
		client.conn.Close()
	}
	s.clientsMu.Unlock()

	s.wg.Wait()

	os.Remove(s.socketPath)

	logging.Info("IPC", "Server stopped", nil)
	return nil
}

// sendOK sends an OK response
func (c *serverClient) sendOK(reqID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encoder.Encode(Response{ID: reqID, Type: MsgTypeOK})
}

// sendError sends an error response
func (c *serverClient) sendError(reqID string, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encoder.Encode(Response{ID: reqID, Type: MsgTypeError, Error: msg})
}

// sendResponse sends a response with data
func (c *serverClient) sendResponse(reqID string, msgType string, data any) {
	resp, err := newResponse(reqID, msgType, data)
	if err != nil {
		logging.Error("IPC", "Failed to build response", err)
		c.sendError(reqID, err.Error())
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.encoder.Encode(resp); err != nil {
		logging.Debug("IPC", fmt.Sprintf("Failed to encode response (type=%s): %v", msgType, err), nil)
	}
}

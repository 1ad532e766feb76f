package ws

import (
	"net/http"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/manpreetbhatti/lattice/relay/internal/metrics"
	"github.com/manpreetbhatti/lattice/relay/internal/ratelimit"
	"github.com/manpreetbhatti/lattice/relay/internal/relay"
	"github.com/manpreetbhatti/lattice/relay/internal/room"
)

type Options struct {
	SendBuffer        int
	MaxMessageBytes   int64
	MessagesPerSecond float64
	MessageBurst      int
	// Rate-limit refusals tolerated before the connection is dropped
	MaxRateLimitViolations int
	// "*" or empty allows any origin
	AllowedOrigins []string
}

func DefaultOptions() Options {
	return Options{
		SendBuffer:             256,
		MaxMessageBytes:        1024 * 1024,
		MessagesPerSecond:      100,
		MessageBurst:           200,
		MaxRateLimitViolations: 1000,
		AllowedOrigins:         []string{"*"},
	}
}

// Server accepts relay connections and tracks the open ones.
type Server struct {
	registry *room.Registry
	log      *zap.Logger
	opts     Options
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*Client]struct{}
	pumps   sync.WaitGroup
}

func NewServer(registry *room.Registry, log *zap.Logger, opts Options) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		registry: registry,
		log:      log,
		opts:     opts,
		clients:  make(map[*Client]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 || slices.Contains(s.opts.AllowedOrigins, "*") {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(s.opts.AllowedOrigins, origin)
}

// ServeWs upgrades the request and starts the connection's pumps.
// Room selection happens in-band through the join message.
func (s *Server) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws.upgrade", zap.Error(err))
		return
	}

	id := uuid.NewString()
	log := s.log.With(zap.String("conn", id), zap.String("remote", conn.RemoteAddr().String()))
	client := &Client{
		id:          id,
		conn:        conn,
		log:         log,
		send:        make(chan []byte, s.opts.SendBuffer),
		done:        make(chan struct{}),
		rateLimiter: ratelimit.NewLimiter(s.opts.MessagesPerSecond, s.opts.MessageBurst, s.opts.MaxRateLimitViolations),
	}
	client.dispatcher = relay.NewDispatcher(s.registry, client, log)

	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()
	metrics.ConnectionOpened()
	log.Debug("ws.connected")

	s.pumps.Add(1)
	go client.writePump()
	go client.readPump(s.opts.MaxMessageBytes, func() {
		s.forget(client)
		s.pumps.Done()
	})
}

func (s *Server) forget(c *Client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if ok {
		metrics.ConnectionClosed()
		c.log.Debug("ws.disconnected")
	}
}

// Returns the number of open connections
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close disconnects every open client and waits for each one to run its
// normal leave path.
func (s *Server) Close() {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.shutdown()
		c.conn.Close()
	}
	s.pumps.Wait()
}

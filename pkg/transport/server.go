// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport accepts operator websocket connections and feeds their
// payloads, in arrival order, to a single handler goroutine.
package transport

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/regolith/pkg/dispatch"
	"github.com/Thermoquad/regolith/pkg/packet"
)

const (
	maxPayloadSize  = 512
	writeTimeout    = time.Second
	shutdownTimeout = 5 * time.Second
	eventBuffer     = 64
)

// Handler consumes operator payloads. Its methods are only called from
// the server's dispatch goroutine, except Status.
type Handler interface {
	OnPayload(data []byte) dispatch.Action
	OnDisconnect()
	Status() packet.Status
}

// Config configures the server.
type Config struct {
	Listen string
	// Username enables HTTP Basic auth when non-empty.
	Username       string
	Password       string
	StatusInterval time.Duration
}

type event struct {
	from       *client
	payload    []byte
	disconnect bool
}

type client struct {
	conn    *websocket.Conn
	addr    string
	writeMu sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// Server is the operator link endpoint.
type Server struct {
	cfg      Config
	handler  Handler
	clock    clock.Clock
	logger   *zap.SugaredLogger
	upgrader websocket.Upgrader

	events   chan event
	done     chan struct{}
	stopOnce sync.Once
	handlers sync.WaitGroup

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewServer creates a server. A nil clock uses the wall clock.
func NewServer(cfg Config, handler Handler, c clock.Clock, logger *zap.SugaredLogger) *Server {
	if c == nil {
		c = clock.New()
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		clock:   c,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		events:  make(chan event, eventBuffer),
		done:    make(chan struct{}),
		clients: make(map[*client]struct{}),
	}
}

// Serve listens on cfg.Listen and runs until ctx is done or an operator
// sends the stop-listening sentinel. Both end with a nil error.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.cfg.Listen)
	}
	s.logger.Infow("listening for operators", "addr", ln.Addr().String(), "auth", s.cfg.Username != "")

	srv := &http.Server{Handler: s, ReadHeaderTimeout: 10 * time.Second}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server failed")
		}
		return nil
	})
	g.Go(func() error {
		err := s.Run(gctx)
		s.stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return multierr.Combine(err, errors.Wrap(srv.Shutdown(shutdownCtx), "http shutdown"))
	})
	return g.Wait()
}

// Run delivers payloads to the handler and broadcasts status frames until
// ctx is done or the handler asks to stop listening. It returns after every
// connection handler has exited.
func (s *Server) Run(ctx context.Context) error {
	defer func() {
		s.stop()
		s.handlers.Wait()
	}()
	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		defer cancel()
		return s.dispatch(runCtx)
	})
	if s.cfg.StatusInterval > 0 {
		g.Go(func() error {
			return s.broadcastStatus(runCtx)
		})
	}
	return g.Wait()
}

func (s *Server) dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case ev := <-s.events:
			if ev.disconnect {
				s.handler.OnDisconnect()
				continue
			}
			if s.handler.OnPayload(ev.payload) == dispatch.StopListening {
				s.logger.Infow("stop listening", "from", ev.from.addr)
				s.stop()
				return nil
			}
		}
	}
}

func (s *Server) broadcastStatus(ctx context.Context) error {
	ticker := s.clock.Ticker(s.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		frame, err := packet.EncodeStatus(s.handler.Status())
		if err != nil {
			s.logger.Errorw("status frame", "error", err)
			continue
		}
		for _, c := range s.snapshotClients() {
			if err := c.write(websocket.BinaryMessage, frame); err != nil {
				s.logger.Debugw("status write failed", "client", c.addr, "error", err)
			}
		}
	}
}

// ServeHTTP upgrades an operator connection and reads its payloads.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.stopped() {
		http.Error(w, "not listening", http.StatusServiceUnavailable)
		return
	}
	if !s.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="regolith"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debugw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(maxPayloadSize)
	c := &client{conn: conn, addr: r.RemoteAddr}
	if !s.addClient(c) {
		conn.Close()
		return
	}
	s.logger.Infow("operator connected", "remote", c.addr)

	defer func() {
		defer s.handlers.Done()
		s.removeClient(c)
		conn.Close()
		s.logger.Infow("operator disconnected", "remote", c.addr)
		s.send(event{from: c, disconnect: true})
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.BinaryMessage && messageType != websocket.TextMessage {
			continue
		}
		if !s.send(event{from: c, payload: data}) {
			return
		}
	}
}

// send queues an event; false once the server stopped.
func (s *Server) send(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Username == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.Password)) == 1
	return userOK && passOK
}

// addClient registers a connection handler; false once the server stopped.
func (s *Server) addClient(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped() {
		return false
	}
	s.handlers.Add(1)
	s.clients[c] = struct{}{}
	return true
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
}

func (s *Server) snapshotClients() []*client {
	s.mu.Lock()
	defer s.mu.Unlock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	return clients
}

// Clients returns the number of connected operators.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// stop refuses new connections and closes the open ones.
func (s *Server) stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		for _, c := range s.snapshotClients() {
			c.writeMu.Lock()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stop listening"),
				time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			c.conn.Close()
		}
	})
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/adred-codev/pubsub/internal/broker"
	"github.com/adred-codev/pubsub/internal/limits"
	"github.com/adred-codev/pubsub/internal/monitoring"
	"github.com/adred-codev/pubsub/internal/protocol"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 5 * time.Second

	// Outbound frame buffer per connection. Sized above the default
	// subscriber queue capacity so a full replay never stalls the caller.
	sendBufferSize = 256
)

// ErrSessionClosed is returned by SendFrame once the session is torn down.
var ErrSessionClosed = errors.New("session closed")

// subKey identifies one subscription held by a session. client_id is scoped
// per topic, so one connection can hold many.
type subKey struct {
	topic    string
	clientID string
}

type subscription struct {
	sub    *broker.Subscriber
	cancel context.CancelFunc
}

// Session is one WebSocket connection: a read loop routing inbound frames, a
// write pump serializing all outbound traffic through one channel, and the
// set of subscriptions the connection owns.
//
// Session implements broker.Transport, so the broker can push lifecycle
// frames (topic_deleted, server_shutdown, slow_consumer) directly.
type Session struct {
	id     int64
	conn   *websocket.Conn
	server *Server
	logger zerolog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	limiter *limits.FrameLimiter

	mu   sync.Mutex
	subs map[subKey]*subscription
}

func newSession(id int64, conn *websocket.Conn, srv *Server) *Session {
	return &Session{
		id:      id,
		conn:    conn,
		server:  srv,
		logger:  srv.logger.With().Int64("session_id", id).Logger(),
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
		limiter: limits.NewFrameLimiter(srv.cfg.FrameRate, srv.cfg.FrameBurst),
		subs:    make(map[subKey]*subscription),
	}
}

// SendFrame marshals frame and hands it to the write pump. It blocks while
// the outbound buffer is full and fails once the session is closed.
func (s *Session) SendFrame(frame protocol.ServerFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	select {
	case s.send <- data:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// Close tears the session down. Idempotent; unblocks SendFrame callers and
// both pumps.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// writePump serializes all writes to the connection: queued frames from
// SendFrame plus periodic WebSocket pings. Exits on write error or Close.
func (s *Session) writePump() {
	defer monitoring.RecoverPanic(s.logger, "writePump", map[string]any{"session_id": s.id})

	ticker := time.NewTicker(s.server.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug().Err(err).Msg("Failed to write frame")
				return
			}

			// Batch whatever else is already queued before the next select.
			n := len(s.send)
			for i := 0; i < n; i++ {
				if err := s.conn.WriteMessage(websocket.TextMessage, <-s.send); err != nil {
					s.logger.Debug().Err(err).Msg("Failed to write frame")
					return
				}
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debug().Err(err).Msg("Failed to send ping")
				return
			}

		case <-s.done:
			return
		}
	}
}

// readLoop reads inbound frames until the peer disconnects, then tears down
// every subscription the connection owns.
func (s *Session) readLoop() {
	defer monitoring.RecoverPanic(s.logger, "readLoop", map[string]any{"session_id": s.id})
	defer s.teardown()

	pongWait := s.server.cfg.PingInterval + s.server.cfg.PongTimeout
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("Read error")
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		if !s.limiter.Allow() {
			monitoring.RateLimitedFrames.Inc()
			s.logger.Warn().
				Float64("rate_limit", s.server.cfg.FrameRate).
				Msg("Client rate limited")
			s.sendError(protocol.CodeBadRequest, "rate limit exceeded, slow down", "")
			continue
		}

		s.handleFrame(data)
	}
}

// teardown unsubscribes every subscription this connection owns and closes
// the session. Runs exactly once, from the read loop's exit path.
func (s *Session) teardown() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[subKey]*subscription)
	s.mu.Unlock()

	for key, entry := range subs {
		entry.cancel()
		// The topic may already be gone (deleted, or broker shutdown);
		// either way the subscriber ends up deactivated.
		if err := s.server.broker.Unsubscribe(key.topic, key.clientID); err != nil {
			s.logger.Debug().
				Err(err).
				Str("topic", key.topic).
				Str("client_id", key.clientID).
				Msg("Unsubscribe on disconnect")
		}
	}

	s.Close()
	s.server.removeSession(s)
	s.logger.Info().Msg("Session closed")
}

// trackSubscription records a started subscription so teardown can find it.
func (s *Session) trackSubscription(key subKey, entry *subscription) {
	s.mu.Lock()
	s.subs[key] = entry
	s.mu.Unlock()
}

// forgetSubscription drops a subscription after an explicit unsubscribe.
func (s *Session) forgetSubscription(key subKey) {
	s.mu.Lock()
	entry, ok := s.subs[key]
	delete(s.subs, key)
	s.mu.Unlock()
	if ok {
		entry.cancel()
	}
}

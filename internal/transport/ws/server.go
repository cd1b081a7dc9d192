package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/altruist-gg/altruist/internal/codec"
	"github.com/altruist-gg/altruist/internal/errors"
	"github.com/altruist-gg/altruist/internal/logger"
	"github.com/altruist-gg/altruist/internal/middleware"
	"github.com/altruist-gg/altruist/internal/monitoring"
	"github.com/altruist-gg/altruist/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // must stay below pongWait
	maxMessageSize = 1 << 16
	sendBufferSize = 256
)

// ConnectionRegistrar is the subset of store.Store the server needs to
// register and remove a connection. Kept narrow so tests can fake it.
type ConnectionRegistrar interface {
	Add(ctx context.Context, connectionID string, conn *store.Connection, roomID string) bool
	Remove(ctx context.Context, connectionID string)
}

// Server upgrades HTTP requests to WebSocket connections and drives the
// per-connection read/write pumps, dispatching each decoded frame through a
// GateRegistry and pushing outbound frames through codec.Codec.
type Server struct {
	upgrader    websocket.Upgrader
	codec       codec.Codec
	registrar   ConnectionRegistrar
	gates       *GateRegistry
	rateLimiter *middleware.ConnRateLimiter
	log         *logger.Logger
	metrics     *monitoring.Metrics

	mu     sync.Mutex
	active int
}

// NewServer builds a Server. rateLimiter and metrics may be nil to disable
// handshake throttling and metric emission respectively.
func NewServer(c codec.Codec, registrar ConnectionRegistrar, gates *GateRegistry, rateLimiter *middleware.ConnRateLimiter, log *logger.Logger, metrics *monitoring.Metrics) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		codec:       c,
		registrar:   registrar,
		gates:       gates,
		rateLimiter: rateLimiter,
		log:         log,
		metrics:     metrics,
	}
}

// ServeHTTP upgrades the request to a WebSocket connection and launches its
// read/write pumps. The caller is responsible for the handshake packet
// exchange; this only establishes the transport-level connection.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.rateLimiter != nil {
		if ok, retryAfter := s.rateLimiter.Allow(r.RemoteAddr); !ok {
			w.Header().Set("Retry-After", retryAfter.Round(time.Second).String())
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.log != nil {
			s.log.LogHandlerEvent("upgrade", "", 0, err)
		}
		return
	}

	sender := &wsSender{conn: conn, send: make(chan []byte, sendBufferSize)}
	connectionID := uuid.NewString()
	storeConn := store.NewConnection(connectionID, sender, store.TransportWS)

	s.registrar.Add(context.Background(), connectionID, storeConn, "")
	s.trackConnected(1)

	go s.writePump(sender)
	go s.readPump(connectionID, storeConn, sender)
}

func (s *Server) trackConnected(delta int) {
	s.mu.Lock()
	s.active += delta
	n := s.active
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ConnectedClients.Set(float64(n))
	}
}

// readPump decodes inbound frames and dispatches them to the gate bound to
// each packet's discriminator. A decode failure drops the frame and keeps
// the connection open; a handler error is logged and likewise does not
// close the connection.
func (s *Server) readPump(connectionID string, storeConn *store.Connection, sender *wsSender) {
	defer func() {
		storeConn.MarkDisconnected()
		s.registrar.Remove(context.Background(), connectionID)
		s.trackConnected(-1)
		sender.Close()
	}()

	sender.conn.SetReadLimit(maxMessageSize)
	sender.conn.SetReadDeadline(time.Now().Add(pongWait))
	sender.conn.SetPongHandler(func(string) error {
		sender.conn.SetReadDeadline(time.Now().Add(pongWait))
		storeConn.Touch()
		return nil
	})

	for {
		_, frame, err := sender.conn.ReadMessage()
		if err != nil {
			return
		}
		storeConn.Touch()

		p, err := s.codec.Decode(frame)
		if err != nil {
			decErr := errors.NewDecodingError("ws frame decode failed", err)
			if s.log != nil {
				s.log.LogHandlerEvent("decode", connectionID, 0, decErr)
			}
			continue
		}
		p.GetHeader().Sender = connectionID

		start := time.Now()
		handled, err := s.gates.Dispatch(context.Background(), connectionID, p)
		if err != nil {
			err = errors.NewHandlerError(p.Type(), connectionID, err)
		}
		if s.log != nil && handled {
			s.log.LogHandlerEvent(p.Type(), connectionID, time.Since(start), err)
		}
	}
}

// writePump owns the single goroutine that writes to conn, sending each
// queued frame as its own message, and emits a keepalive ping at pingPeriod.
func (s *Server) writePump(sender *wsSender) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sender.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-sender.send:
			sender.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				sender.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := sender.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(frame)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			sender.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sender.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// wsSender implements store.Sender over a single gorilla/websocket
// connection. Send never blocks the caller on a slow client: a full buffer
// closes the connection rather than backing up the engine.
type wsSender struct {
	conn   *websocket.Conn
	send   chan []byte
	closed sync.Once
}

func (w *wsSender) Send(frame []byte) error {
	select {
	case w.send <- frame:
		return nil
	default:
		w.Close()
		return errors.NewDeliveryError("ws send buffer full, connection closed", nil)
	}
}

func (w *wsSender) Close() error {
	w.closed.Do(func() {
		close(w.send)
	})
	return nil
}

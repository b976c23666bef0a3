package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"evalgo.org/fastvm/internal/logging"
	"evalgo.org/fastvm/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Frames queued per subscriber before a push counts as failed
	sendBuffer = 4
)

// Subscriber is one live telemetry WebSocket client.
type Subscriber struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// failures counts consecutive pushes that could not be queued. Only the
	// hub loop touches it.
	failures int
}

// Hub fans metrics frames out to every subscriber. A subscriber that
// misses maxFailures pushes in a row is dropped; it is expected to fall
// back to reading history.
type Hub struct {
	subscribers map[*Subscriber]bool

	broadcast  chan []byte
	register   chan *Subscriber
	unregister chan *Subscriber

	maxFailures int
	log         *logrus.Entry

	// done is closed when Run returns
	done chan struct{}

	mu sync.RWMutex
}

// NewHub creates a Hub. Run must be started before subscribers are served.
func NewHub(maxFailures int) *Hub {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Hub{
		subscribers: make(map[*Subscriber]bool),
		broadcast:   make(chan []byte, 16),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		maxFailures: maxFailures,
		log:         logging.For("telemetry-hub"),
		done:        make(chan struct{}),
	}
}

// Run is the hub loop. It returns when ctx is done, disconnecting everyone.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for s := range h.subscribers {
				delete(h.subscribers, s)
				close(s.send)
			}
			h.mu.Unlock()
			return

		case s := <-h.register:
			h.mu.Lock()
			h.subscribers[s] = true
			n := len(h.subscribers)
			h.mu.Unlock()
			h.log.WithField("subscribers", n).Info("telemetry subscriber connected")

		case s := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[s]; ok {
				delete(h.subscribers, s)
				close(s.send)
			}
			n := len(h.subscribers)
			h.mu.Unlock()
			h.log.WithField("subscribers", n).Info("telemetry subscriber disconnected")

		case message := <-h.broadcast:
			h.mu.Lock()
			for s := range h.subscribers {
				select {
				case s.send <- message:
					s.failures = 0
				default:
					s.failures++
					if s.failures >= h.maxFailures {
						h.log.WithField("failures", s.failures).Warn("dropping slow telemetry subscriber")
						delete(h.subscribers, s)
						close(s.send)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues a frame for every subscriber. It never blocks the sampler;
// when the hub loop is behind, the frame is dropped for live delivery and
// remains readable from history.
func (h *Hub) Publish(frame models.MetricsFrame) error {
	message, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- message:
	default:
		h.log.Warn("telemetry hub busy, frame not pushed")
	}
	return nil
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Serve registers conn and pumps frames to it until the peer goes away or
// the subscriber is dropped. It blocks for the lifetime of the connection.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn) {
	s := &Subscriber{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- s:
	case <-h.done:
		_ = conn.Close()
		return
	case <-ctx.Done():
		_ = conn.Close()
		return
	}
	go s.writePump()
	s.readPump()
}

// readPump only watches the connection; subscribers send nothing we use.
func (s *Subscriber) readPump() {
	defer func() {
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
		_ = s.conn.Close()
	}()

	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.hub.log.WithError(err).Debug("telemetry subscriber read failed")
			}
			return
		}
	}
}

func (s *Subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// hub dropped us
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "use history polling"))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

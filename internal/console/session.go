package console

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"evalgo.org/fastvm/models"
)

const (
	// relayBuffer is the largest chunk read from the display socket at once.
	relayBuffer = 64 * 1024

	// closeWait bounds the courtesy close frame sent to the browser.
	closeWait = time.Second
)

type closeReason struct {
	code int
	text string
}

var (
	closeNormal    = closeReason{websocket.CloseNormalClosure, "session closed"}
	closeVMStopped = closeReason{websocket.CloseGoingAway, "vm stopped"}
)

// Info describes a live session.
type Info struct {
	ID       string             `json:"id"`
	VMID     string             `json:"vm_id"`
	Port     int                `json:"port"`
	Protocol models.DisplayType `json:"protocol"`
	OpenedAt time.Time          `json:"opened_at"`
	BytesIn  int64              `json:"bytes_in"`
	BytesOut int64              `json:"bytes_out"`
}

// Session is one browser connection relayed to one display socket.
type Session struct {
	ID       string
	VMID     string
	Port     int
	Protocol models.DisplayType
	OpenedAt time.Time

	proxy  *Proxy
	ctx    context.Context
	cancel context.CancelFunc
	log    *logrus.Entry

	// bytesIn counts browser to display, bytesOut display to browser
	bytesIn  atomic.Int64
	bytesOut atomic.Int64

	mu      sync.Mutex
	tcp     net.Conn
	ws      *websocket.Conn
	serving bool
	closed  bool

	releaseOnce sync.Once
	done        chan struct{}
}

func newSession(p *Proxy, vmID string, port int, protocol models.DisplayType) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Session{
		ID:       id,
		VMID:     vmID,
		Port:     port,
		Protocol: protocol,
		OpenedAt: time.Now().UTC(),
		proxy:    p,
		ctx:      ctx,
		cancel:   cancel,
		log:      p.log.WithFields(logrus.Fields{"vm": vmID, "session": id}),
		done:     make(chan struct{}),
	}
}

// attachTCP stores the display connection unless the session was closed
// while dialing.
func (s *Session) attachTCP(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		conn.Close()
		return false
	}
	s.tcp = conn
	return true
}

// Info returns a point-in-time description of the session.
func (s *Session) Info() Info {
	return Info{
		ID:       s.ID,
		VMID:     s.VMID,
		Port:     s.Port,
		Protocol: s.Protocol,
		OpenedAt: s.OpenedAt,
		BytesIn:  s.bytesIn.Load(),
		BytesOut: s.bytesOut.Load(),
	}
}

// Done is closed once the session is closed and its bookkeeping released.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Serve relays between ws and the display socket until either side closes
// or the session is closed. Connection drops end the session and are not
// reported as errors.
func (s *Session) Serve(ws *websocket.Conn) error {
	s.mu.Lock()
	if s.closed || s.serving {
		s.mu.Unlock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeVMStopped.code, closeVMStopped.text), time.Now().Add(closeWait))
		_ = ws.Close()
		return ErrSessionClosed
	}
	s.ws = ws
	s.serving = true
	tcp := s.tcp
	s.mu.Unlock()
	defer s.release()

	var g errgroup.Group
	g.Go(func() error {
		defer s.Close()
		return s.browserToDisplay(ws, tcp)
	})
	g.Go(func() error {
		defer s.Close()
		return s.displayToBrowser(ws, tcp)
	})
	g.Go(func() error {
		return s.keepalive(ws)
	})

	if err := g.Wait(); err != nil && !benign(err) {
		s.log.WithError(err).Debug("console relay ended")
	}
	return nil
}

func (s *Session) browserToDisplay(ws *websocket.Conn, tcp net.Conn) error {
	readWait := 2 * s.proxy.opts.PingPeriod
	_ = ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		_ = ws.SetReadDeadline(time.Now().Add(readWait))
		if kind != websocket.BinaryMessage && kind != websocket.TextMessage {
			continue
		}
		if err := tcp.SetWriteDeadline(time.Now().Add(s.proxy.opts.WriteTimeout)); err != nil {
			return err
		}
		if _, err := tcp.Write(data); err != nil {
			return err
		}
		s.bytesIn.Add(int64(len(data)))
	}
}

func (s *Session) displayToBrowser(ws *websocket.Conn, tcp net.Conn) error {
	buf := make([]byte, relayBuffer)
	for {
		n, err := tcp.Read(buf)
		if n > 0 {
			if werr := ws.SetWriteDeadline(time.Now().Add(s.proxy.opts.WriteTimeout)); werr != nil {
				return werr
			}
			if werr := ws.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				return werr
			}
			s.bytesOut.Add(int64(n))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (s *Session) keepalive(ws *websocket.Conn) error {
	t := time.NewTicker(s.proxy.opts.PingPeriod)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case <-t.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.proxy.opts.WriteTimeout)); err != nil {
				s.Close()
				return err
			}
		}
	}
}

// Close ends the session. It is safe to call any number of times.
func (s *Session) Close() {
	s.closeWith(closeNormal)
}

func (s *Session) closeWith(reason closeReason) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	tcp, ws, serving := s.tcp, s.ws, s.serving
	s.mu.Unlock()

	s.cancel()
	if tcp != nil {
		_ = tcp.Close()
	}
	if ws != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(reason.code, reason.text), time.Now().Add(closeWait))
		_ = ws.Close()
	}
	// a served session is released by Serve once both relays have returned
	if !serving {
		s.release()
	}
}

func (s *Session) release() {
	s.releaseOnce.Do(func() {
		s.proxy.remove(s)
		close(s.done)
		s.log.WithFields(logrus.Fields{
			"bytes_in":  s.bytesIn.Load(),
			"bytes_out": s.bytesOut.Load(),
		}).Info("console session closed")
	})
}

// benign reports whether err is an ordinary end of a relay.
func benign(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}

package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"evalgo.org/fastvm/internal/logging"
	"evalgo.org/fastvm/models"
)

// State is the connection state of a Client.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateBackoff
	StatePolling
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	case StatePolling:
		return "polling"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ClientOptions configure a Client.
type ClientOptions struct {
	// PushURL is the ws:// address of the live feed.
	PushURL string
	// HistoryURL is the http:// address of the one-shot history read.
	HistoryURL string
	Header     http.Header

	// MaxAttempts is the number of failed reconnects before polling.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	PollInterval time.Duration
}

// Client consumes the live feed and falls back to polling history.
//
// It moves connected -> backoff(attempt) -> connected | polling. Backoff
// delays grow with the attempt and are capped; a successful reconnect
// re-arms the counter. While polling, every poll also probes the live feed
// and a successful probe returns to connected.
type Client struct {
	opts   ClientOptions
	dialer *websocket.Dialer
	http   *http.Client
	log    *logrus.Entry

	OnFrame   func(models.MetricsFrame)
	OnHistory func(models.MetricsHistory)
	OnState   func(state State, attempt int)

	mu      sync.Mutex
	state   State
	attempt int
}

// NewClient creates a Client.
func NewClient(opts ClientOptions) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	return &Client{
		opts:   opts,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		http:   &http.Client{Timeout: 10 * time.Second},
		log:    logging.For("telemetry-client"),
	}
}

// State returns the current state and backoff attempt.
func (c *Client) State() (State, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.attempt
}

func (c *Client) transition(s State, attempt int) {
	c.mu.Lock()
	c.state, c.attempt = s, attempt
	c.mu.Unlock()
	c.log.WithFields(logrus.Fields{"state": s, "attempt": attempt}).Debug("telemetry client state")
	if c.OnState != nil {
		c.OnState(s, attempt)
	}
}

// delays returns the backoff policy: exponential, without jitter so that
// delays never shrink between attempts, capped at MaxDelay.
func (c *Client) delays() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialDelay
	b.MaxInterval = c.opts.MaxDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Run drives the state machine until ctx is done.
//
// A server drop (close code 1013) goes straight to polling, so the feed is
// probed again only after a poll interval. Any other disconnect backs off
// before the redial.
func (c *Client) Run(ctx context.Context) error {
	b := c.delays()
	attempt := 0
	c.transition(StateConnecting, 0)

	var conn *websocket.Conn
	for ctx.Err() == nil {
		if conn == nil {
			var err error
			if conn, err = c.dial(ctx); err != nil {
				attempt++
				if attempt <= c.opts.MaxAttempts {
					c.transition(StateBackoff, attempt)
					sleep(ctx, b.NextBackOff())
					continue
				}
				if conn = c.poll(ctx); conn == nil {
					break
				}
			}
		}

		attempt = 0
		b.Reset()
		c.transition(StateConnected, 0)
		dropped := c.consume(ctx, conn)
		conn = nil
		if ctx.Err() != nil {
			break
		}
		if dropped {
			if conn = c.poll(ctx); conn == nil {
				break
			}
			continue
		}

		attempt = 1
		c.transition(StateBackoff, attempt)
		sleep(ctx, b.NextBackOff())
	}
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.opts.PushURL, c.opts.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// consume reads frames until the connection ends. It reports whether the
// server dropped this client for missing pushes.
func (c *Client) consume(ctx context.Context, conn *websocket.Conn) bool {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return websocket.IsCloseError(err, websocket.CloseTryAgainLater)
		}
		var frame models.MetricsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.log.WithError(err).Warn("ignoring malformed metrics frame")
			continue
		}
		if c.OnFrame != nil {
			c.OnFrame(frame)
		}
	}
}

// poll reads history every PollInterval and probes the live feed after each
// read. It returns the new connection, or nil once ctx is done.
func (c *Client) poll(ctx context.Context) *websocket.Conn {
	c.transition(StatePolling, 0)
	for {
		if h, err := c.fetchHistory(ctx); err != nil {
			c.log.WithError(err).Warn("history poll failed")
		} else if c.OnHistory != nil {
			c.OnHistory(h)
		}
		if !sleep(ctx, c.opts.PollInterval) {
			return nil
		}
		if conn, err := c.dial(ctx); err == nil {
			return conn
		}
	}
}

func (c *Client) fetchHistory(ctx context.Context) (models.MetricsHistory, error) {
	var h models.MetricsHistory
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.HistoryURL, nil)
	if err != nil {
		return h, err
	}
	for k, v := range c.opts.Header {
		req.Header[k] = v
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return h, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return h, fmt.Errorf("history read: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return h, fmt.Errorf("decode history: %w", err)
	}
	return h, nil
}

// sleep waits d or until ctx is done. It reports whether the full delay
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

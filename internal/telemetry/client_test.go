package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/fastvm/models"
)

type transition struct {
	state   State
	attempt int
}

type feed struct {
	srv      *httptest.Server
	accept   atomic.Bool
	drop     atomic.Bool
	pushes   chan *websocket.Conn
	dials    atomic.Int32
	polls    atomic.Int32
	upgrader websocket.Upgrader
}

func startFeed(t *testing.T) *feed {
	t.Helper()
	f := &feed{pushes: make(chan *websocket.Conn, 4)}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/metrics", func(w http.ResponseWriter, r *http.Request) {
		if !f.accept.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.dials.Add(1)
		if f.drop.Load() {
			// what the hub does to a subscriber that keeps missing pushes
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "use history polling"))
			conn.Close()
			return
		}
		f.pushes <- conn
	})
	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		f.polls.Add(1)
		_ = json.NewEncoder(w).Encode(models.MetricsHistory{
			Host: []models.MetricSample{{Scope: models.HostScope, CPUPercent: 3}},
			VMs:  map[string][]models.MetricSample{},
		})
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *feed) client() *Client {
	return NewClient(ClientOptions{
		PushURL:      "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/metrics",
		HistoryURL:   f.srv.URL + "/history",
		MaxAttempts:  2,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
	})
}

type recorder struct {
	mu          sync.Mutex
	transitions []transition
	frames      []models.MetricsFrame
	histories   int
}

func (r *recorder) attach(c *Client) {
	c.OnState = func(s State, attempt int) {
		r.mu.Lock()
		r.transitions = append(r.transitions, transition{s, attempt})
		r.mu.Unlock()
	}
	c.OnFrame = func(f models.MetricsFrame) {
		r.mu.Lock()
		r.frames = append(r.frames, f)
		r.mu.Unlock()
	}
	c.OnHistory = func(models.MetricsHistory) {
		r.mu.Lock()
		r.histories++
		r.mu.Unlock()
	}
}

func (r *recorder) snapshot() ([]transition, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transition(nil), r.transitions...), len(r.frames), r.histories
}

func runClient(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestClientReceivesFrames(t *testing.T) {
	f := startFeed(t)
	f.accept.Store(true)
	c := f.client()
	rec := &recorder{}
	rec.attach(c)
	runClient(t, c)

	conn := <-f.pushes
	defer conn.Close()
	data, err := json.Marshal(frameAt(time.Now().UTC(), 7, "vm"))
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	assert.Eventually(t, func() bool {
		_, frames, _ := rec.snapshot()
		return frames == 1
	}, 2*time.Second, 5*time.Millisecond)
	state, attempt := c.State()
	assert.Equal(t, StateConnected, state)
	assert.Zero(t, attempt)
}

func TestClientBacksOffThenPollsThenRecovers(t *testing.T) {
	f := startFeed(t)
	c := f.client()
	rec := &recorder{}
	rec.attach(c)
	runClient(t, c)

	require.Eventually(t, func() bool {
		s, _ := c.State()
		return s == StatePolling && f.polls.Load() >= 2
	}, 3*time.Second, 5*time.Millisecond)

	f.accept.Store(true)
	conn := <-f.pushes
	defer conn.Close()
	require.Eventually(t, func() bool {
		s, _ := c.State()
		return s == StateConnected
	}, 3*time.Second, 5*time.Millisecond)

	transitions, _, histories := rec.snapshot()
	assert.GreaterOrEqual(t, histories, 2)
	assert.Equal(t, []transition{
		{StateConnecting, 0},
		{StateBackoff, 1},
		{StateBackoff, 2},
		{StatePolling, 0},
		{StateConnected, 0},
	}, transitions)

	// a drop re-arms the attempt counter at 1
	f.accept.Store(false)
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		ts, _, _ := rec.snapshot()
		return len(ts) >= 6
	}, 3*time.Second, 5*time.Millisecond)
	transitions, _, _ = rec.snapshot()
	assert.Equal(t, transition{StateBackoff, 1}, transitions[5])
}

func TestClientDroppedByServerPollsBeforeRedialing(t *testing.T) {
	f := startFeed(t)
	f.accept.Store(true)
	f.drop.Store(true)
	c := f.client()
	rec := &recorder{}
	rec.attach(c)
	runClient(t, c)

	require.Eventually(t, func() bool {
		return f.polls.Load() >= 4
	}, 3*time.Second, 5*time.Millisecond)

	// every redial follows a history read
	dials := f.dials.Load()
	polls := f.polls.Load()
	assert.LessOrEqual(t, dials, polls+1)

	transitions, _, histories := rec.snapshot()
	assert.GreaterOrEqual(t, histories, 4)
	assert.Equal(t, transition{StateConnecting, 0}, transitions[0])
	assert.Equal(t, transition{StateConnected, 0}, transitions[1])
	assert.Equal(t, transition{StatePolling, 0}, transitions[2])
	for _, tr := range transitions {
		assert.NotEqual(t, StateBackoff, tr.state, "no backoff after a server drop")
	}
}

func TestClientBacksOffAfterDisconnect(t *testing.T) {
	f := startFeed(t)
	f.accept.Store(true)
	c := f.client()
	rec := &recorder{}
	rec.attach(c)
	runClient(t, c)

	first := <-f.pushes
	require.NoError(t, first.Close())

	second := <-f.pushes
	defer second.Close()
	require.Eventually(t, func() bool {
		s, _ := c.State()
		return s == StateConnected
	}, 3*time.Second, 5*time.Millisecond)

	transitions, _, _ := rec.snapshot()
	require.GreaterOrEqual(t, len(transitions), 4)
	assert.Equal(t, []transition{
		{StateConnecting, 0},
		{StateConnected, 0},
		{StateBackoff, 1},
		{StateConnected, 0},
	}, transitions[:4])
}

func TestClientDelaysGrowAndCap(t *testing.T) {
	c := NewClient(ClientOptions{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond})
	b := c.delays()
	prev := time.Duration(0)
	for i := 0; i < 8; i++ {
		d := b.NextBackOff()
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, 50*time.Millisecond)
		prev = d
	}
	assert.Equal(t, 50*time.Millisecond, prev)

	b.Reset()
	assert.Equal(t, 10*time.Millisecond, b.NextBackOff())
}

// Package console relays browser WebSocket sessions to the local display
// port of a running VM. The relay is byte transparent: frames from the
// browser are written to the display socket unmodified and everything read
// from the socket is sent back as binary frames.
package console

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"evalgo.org/fastvm/internal/config"
	"evalgo.org/fastvm/internal/logging"
	"evalgo.org/fastvm/internal/registry"
	"evalgo.org/fastvm/internal/vmerr"
	"evalgo.org/fastvm/models"
)

// Subprotocol is the WebSocket subprotocol browser display clients ask for.
const Subprotocol = "binary"

// Options tune dialing and relay deadlines.
type Options struct {
	DialAttempts int
	DialTimeout  time.Duration

	// RetryDelay separates dial attempts.
	RetryDelay time.Duration

	// WriteTimeout bounds every single write on either side.
	WriteTimeout time.Duration

	// CleanupTimeout bounds how long CloseVM waits for sessions to release.
	CleanupTimeout time.Duration

	// PingPeriod is how often the browser side is pinged. A peer that does
	// not answer within two periods is dropped.
	PingPeriod time.Duration
}

// OptionsFrom reads console settings from the configuration.
func OptionsFrom(cfg config.ConsoleConfig) Options {
	return Options{
		DialAttempts:   cfg.DialAttempts,
		DialTimeout:    cfg.DialTimeout,
		RetryDelay:     time.Second,
		WriteTimeout:   cfg.WriteTimeout,
		CleanupTimeout: cfg.CleanupTimeout,
		PingPeriod:     30 * time.Second,
	}
}

// Proxy tracks console sessions by id and by VM.
type Proxy struct {
	reg  *registry.Registry
	opts Options
	log  *logrus.Entry

	// dials paces connection attempts across all sessions
	dials *rate.Limiter

	mu       sync.Mutex
	sessions map[string]*Session
	byVM     map[string]map[string]*Session
}

// New creates a Proxy.
func New(reg *registry.Registry, opts Options) *Proxy {
	if opts.DialAttempts <= 0 {
		opts.DialAttempts = 3
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = 2 * time.Second
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 30 * time.Second
	}
	return &Proxy{
		reg:      reg,
		opts:     opts,
		log:      logging.For("console"),
		dials:    rate.NewLimiter(rate.Every(20*time.Millisecond), 10),
		sessions: make(map[string]*Session),
		byVM:     make(map[string]map[string]*Session),
	}
}

// Open registers a session for a running VM and connects it to the VM's
// console port. The caller attaches the browser side with Serve, or calls
// Close if the upgrade fails.
func (p *Proxy) Open(ctx context.Context, vmID string) (*Session, error) {
	var s *Session
	// registration happens under the VM's lock so a concurrent stop either
	// sees this session in CloseVM or makes Open fail
	err := p.reg.View(ctx, vmID, func(vm *models.VM) error {
		if !vm.IsRunning() {
			return vmerr.Conflict("vm %s is not running", vmID)
		}
		s = newSession(p, vm.ID, vm.Runtime.ConsolePort, vm.Runtime.Protocol)
		p.add(s)
		return nil
	})
	if err != nil {
		return nil, err
	}

	log := p.log.WithFields(logrus.Fields{"vm": vmID, "session": s.ID, "port": s.Port})
	conn, err := p.dial(s.ctx, s.Port, log)
	if err != nil {
		s.Close()
		if s.ctx.Err() != nil && ctx.Err() == nil {
			return nil, vmerr.Conflict("vm %s stopped while the console was connecting", vmID)
		}
		return nil, vmerr.Wrap(vmerr.KindExternal, err, "cannot reach the display of vm %s on port %d", vmID, s.Port)
	}
	if !s.attachTCP(conn) {
		return nil, vmerr.Conflict("vm %s stopped while the console was connecting", vmID)
	}
	log.Info("console session opened")
	return s, nil
}

// dial connects to the local display port, retrying a few times since the
// display may still be coming up right after a start.
func (p *Proxy) dial(ctx context.Context, port int, log *logrus.Entry) (net.Conn, error) {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	d := net.Dialer{Timeout: p.opts.DialTimeout}

	var conn net.Conn
	attempt := 0
	op := func() error {
		attempt++
		if err := p.dials.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		c, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			log.WithError(err).WithField("attempt", attempt).Warn("console dial failed")
			return err
		}
		conn = c
		return nil
	}

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(p.opts.RetryDelay), uint64(p.opts.DialAttempts-1))
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return conn, nil
}

func (p *Proxy) add(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[s.ID] = s
	if p.byVM[s.VMID] == nil {
		p.byVM[s.VMID] = make(map[string]*Session)
	}
	p.byVM[s.VMID][s.ID] = s
}

func (p *Proxy) remove(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, s.ID)
	if m := p.byVM[s.VMID]; m != nil {
		delete(m, s.ID)
		if len(m) == 0 {
			delete(p.byVM, s.VMID)
		}
	}
}

// Get returns a live session.
func (p *Proxy) Get(sessionID string) (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[sessionID]
	return s, ok
}

// Disconnect closes one session. It reports whether the session was still
// live; disconnecting an unknown or finished session is a no-op.
func (p *Proxy) Disconnect(sessionID string) bool {
	s, ok := p.Get(sessionID)
	if !ok {
		return false
	}
	s.Close()
	return true
}

// CloseVM force-closes every session of a VM and waits until they are
// released, or until the cleanup timeout passes.
func (p *Proxy) CloseVM(vmID string) {
	p.mu.Lock()
	sessions := make([]*Session, 0, len(p.byVM[vmID]))
	for _, s := range p.byVM[vmID] {
		sessions = append(sessions, s)
	}
	p.mu.Unlock()
	if len(sessions) == 0 {
		return
	}

	for _, s := range sessions {
		go s.closeWith(closeVMStopped)
	}
	deadline := time.NewTimer(p.opts.CleanupTimeout)
	defer deadline.Stop()
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-deadline.C:
			p.log.WithField("vm", vmID).Warn("console sessions still releasing after cleanup timeout")
			return
		}
	}
	p.log.WithFields(logrus.Fields{"vm": vmID, "sessions": len(sessions)}).Info("console sessions closed")
}

// CloseAll closes every session, used at shutdown.
func (p *Proxy) CloseAll() {
	p.mu.Lock()
	vms := make([]string, 0, len(p.byVM))
	for id := range p.byVM {
		vms = append(vms, id)
	}
	p.mu.Unlock()
	for _, id := range vms {
		p.CloseVM(id)
	}
}

// Sessions lists the live sessions of a VM.
func (p *Proxy) Sessions(vmID string) []Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Info, 0, len(p.byVM[vmID]))
	for _, s := range p.byVM[vmID] {
		out = append(out, s.Info())
	}
	return out
}

// Count returns the number of live sessions.
func (p *Proxy) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// ErrSessionClosed is returned by Serve on a session that was closed before
// the browser side could be attached.
var ErrSessionClosed = errors.New("console session closed")

// Package supervisor runs one hypervisor process per running VM. Every
// transition happens inside the registry critical section of the VM, so a
// start and a stop racing on the same id resolve to one winner and the
// loser sees the committed result.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"evalgo.org/fastvm/internal/allocator"
	"evalgo.org/fastvm/internal/config"
	"evalgo.org/fastvm/internal/diskimg"
	"evalgo.org/fastvm/internal/hostnet"
	"evalgo.org/fastvm/internal/logging"
	"evalgo.org/fastvm/internal/registry"
	"evalgo.org/fastvm/internal/vmerr"
	"evalgo.org/fastvm/models"
)

// ConsoleCloser force-closes every console session of a VM and returns once
// they are gone.
type ConsoleCloser interface {
	CloseVM(vmID string)
}

// Options tune supervision timings.
type Options struct {
	GracePeriod  time.Duration
	KillTimeout  time.Duration
	ProbeTimeout time.Duration

	// ProbeInterval is the first delay of the liveness probe backoff.
	ProbeInterval time.Duration

	SwtpmBinary string
}

// OptionsFrom reads supervision timings from the configuration.
func OptionsFrom(cfg config.HypervisorConfig) Options {
	return Options{
		GracePeriod:   cfg.GracePeriod,
		KillTimeout:   cfg.KillTimeout,
		ProbeTimeout:  cfg.ProbeTimeout,
		ProbeInterval: 50 * time.Millisecond,
		SwtpmBinary:   cfg.SwtpmBinary,
	}
}

// Supervisor starts, stops and watches hypervisor processes.
type Supervisor struct {
	reg      *registry.Registry
	alloc    *allocator.Allocator
	launcher Launcher
	plumber  hostnet.Plumber
	runner   diskimg.Runner
	opts     Options
	log      *logrus.Entry

	consolesMu sync.RWMutex
	consoles   ConsoleCloser

	// procs maps VM id to its process. Entries change only inside the
	// VM's registry critical section.
	mu    sync.RWMutex
	procs map[string]Process
}

// New creates a Supervisor. plumber and runner may be nil when no VM uses
// macvtap networking or a TPM.
func New(reg *registry.Registry, alloc *allocator.Allocator, launcher Launcher, plumber hostnet.Plumber, runner diskimg.Runner, opts Options) *Supervisor {
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 50 * time.Millisecond
	}
	return &Supervisor{
		reg:      reg,
		alloc:    alloc,
		launcher: launcher,
		plumber:  plumber,
		runner:   runner,
		opts:     opts,
		log:      logging.For("supervisor"),
		procs:    make(map[string]Process),
	}
}

// SetConsoles registers the console proxy closed on every stop.
func (s *Supervisor) SetConsoles(c ConsoleCloser) {
	s.consolesMu.Lock()
	s.consoles = c
	s.consolesMu.Unlock()
}

// Process returns the tracked process of a running VM.
func (s *Supervisor) Process(vmID string) (Process, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.procs[vmID]
	return p, ok
}

func (s *Supervisor) track(vmID string, p Process) {
	s.mu.Lock()
	s.procs[vmID] = p
	s.mu.Unlock()
	go s.watch(vmID, p)
}

func (s *Supervisor) untrack(vmID string) {
	s.mu.Lock()
	delete(s.procs, vmID)
	s.mu.Unlock()
}

// Start launches a stopped VM and returns it once it runs.
func (s *Supervisor) Start(ctx context.Context, vmID string) (*models.VM, error) {
	return s.reg.Update(ctx, vmID, func(tx *registry.Txn) error {
		return s.start(ctx, tx)
	})
}

// Stop shuts a running VM down and returns it stopped.
func (s *Supervisor) Stop(ctx context.Context, vmID string) (*models.VM, error) {
	return s.reg.Update(ctx, vmID, func(tx *registry.Txn) error {
		return s.stop(tx)
	})
}

// Restart stops and starts a VM inside one critical section, so only the
// final state is ever committed. A stopped VM is simply started. If the
// start half fails the VM is committed as stopped and the error returned.
func (s *Supervisor) Restart(ctx context.Context, vmID string) (*models.VM, error) {
	var startErr error
	vm, err := s.reg.Update(ctx, vmID, func(tx *registry.Txn) error {
		if tx.VM().IsRunning() {
			if err := s.stop(tx); err != nil {
				return err
			}
		}
		if err := s.start(ctx, tx); err != nil {
			startErr = err
			tx.VM().Status = models.StatusStopped
			tx.VM().Runtime = nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vm, startErr
}

func (s *Supervisor) start(ctx context.Context, tx *registry.Txn) error {
	vm := tx.VM()
	log := s.log.WithFields(logrus.Fields{"vm": vm.ID, "name": vm.Name})

	if vm.IsRunning() {
		return vmerr.Conflict("vm %s is already running", vm.ID)
	}
	if err := s.alloc.CheckArtifacts(vm); err != nil {
		return err
	}
	if err := s.alloc.ResolveNetworks(vm); err != nil {
		return err
	}
	if err := s.alloc.PrepareFirmware(vm); err != nil {
		return err
	}

	volumes := make([]*models.Volume, 0, len(vm.Volumes))
	for _, id := range vm.Volumes {
		vol, err := tx.Volume(id)
		if err != nil {
			return err
		}
		volumes = append(volumes, vol)
	}

	port, err := s.alloc.ClaimConsolePort(tx)
	if err != nil {
		return err
	}
	vm.Status = models.StatusStarting

	taps, err := s.openTaps(vm)
	if err != nil {
		return err
	}
	// the child holds its own copies of the tap descriptors
	defer taps.closeFiles()

	cleanup := func() {
		s.removeTaps(taps.names)
		if vm.OSType == models.OSWindows {
			s.stopTPM(vm.ID)
		}
	}
	if vm.OSType == models.OSWindows {
		if err := s.startTPM(ctx, vm); err != nil {
			s.removeTaps(taps.names)
			return err
		}
	}

	args, err := s.alloc.Build(allocator.LaunchSpec{VM: vm, Volumes: volumes, Port: port, TapFDs: taps.fds})
	if err != nil {
		cleanup()
		return err
	}

	log.WithField("port", port).Info("launching hypervisor")
	proc, err := s.launcher.Launch(ctx, args, LaunchOptions{ExtraFiles: taps.files, LogPath: s.alloc.LogPath(vm.ID)})
	if err != nil {
		cleanup()
		if errors.Is(err, exec.ErrNotFound) {
			return vmerr.Wrap(vmerr.KindExternal, err, "hypervisor binary not available")
		}
		return vmerr.Wrap(vmerr.KindProcessFailure, err, "launch hypervisor")
	}

	if err := s.probe(ctx, proc, port); err != nil {
		if !vmerr.Is(err, vmerr.KindProcessFailure) {
			if kerr := s.terminate(proc, 0); kerr != nil {
				log.WithError(kerr).Error("failed to kill hypervisor after probe timeout")
			}
		}
		cleanup()
		log.WithError(err).Warn("hypervisor did not come up")
		return err
	}

	vm.Status = models.StatusRunning
	vm.Runtime = &models.Runtime{
		PID:         proc.Pid(),
		ConsolePort: port,
		Protocol:    vm.Display,
		StartedAt:   time.Now().UTC(),
		Macvtaps:    taps.names,
	}
	s.track(vm.ID, proc)
	log.WithFields(logrus.Fields{"pid": proc.Pid(), "port": port}).Info("vm running")
	return nil
}

// probe waits until proc is alive and its console accepts connections.
func (s *Supervisor) probe(ctx context.Context, proc Process, port int) error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.ProbeInterval
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = s.opts.ProbeTimeout

	op := func() error {
		select {
		case <-proc.Exited():
			e := vmerr.New(vmerr.KindProcessFailure, "hypervisor exited during startup")
			e.Output = proc.Output()
			return backoff.Permanent(e)
		default:
		}
		conn, err := net.DialTimeout("tcp", addr, 250*time.Millisecond)
		if err != nil {
			return err
		}
		conn.Close()
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	if err == nil {
		return nil
	}
	if vmerr.Is(err, vmerr.KindProcessFailure) {
		return err
	}
	e := vmerr.Wrap(vmerr.KindTimeout, err, "console on port %d not reachable after %s", port, s.opts.ProbeTimeout)
	e.Output = proc.Output()
	return e
}

func (s *Supervisor) stop(tx *registry.Txn) error {
	vm := tx.VM()
	if !vm.IsRunning() {
		return vmerr.Conflict("vm %s is not running", vm.ID)
	}
	log := s.log.WithFields(logrus.Fields{"vm": vm.ID, "pid": vm.Runtime.PID})
	vm.Status = models.StatusStopping

	s.consolesMu.RLock()
	consoles := s.consoles
	s.consolesMu.RUnlock()
	if consoles != nil {
		consoles.CloseVM(vm.ID)
	}

	proc, ok := s.Process(vm.ID)
	if !ok {
		proc = Adopt(vm.Runtime.PID)
	}
	if err := s.terminate(proc, s.opts.GracePeriod); err != nil {
		log.WithError(err).Error("hypervisor could not be killed")
		return err
	}

	s.removeTaps(vm.Runtime.Macvtaps)
	if vm.OSType == models.OSWindows {
		s.stopTPM(vm.ID)
	}
	s.untrack(vm.ID)
	vm.Status = models.StatusStopped
	vm.Runtime = nil
	log.Info("vm stopped")
	return nil
}

// terminate asks proc to exit, waits grace, then kills it. A zero grace
// kills immediately. It fails only when the process survives the kill.
func (s *Supervisor) terminate(proc Process, grace time.Duration) error {
	select {
	case <-proc.Exited():
		return nil
	default:
	}

	if grace > 0 {
		if err := proc.Signal(syscall.SIGTERM); err != nil && exited(err) {
			return nil
		}
		select {
		case <-proc.Exited():
			return nil
		case <-time.After(grace):
			s.log.WithField("pid", proc.Pid()).Warn("grace period expired, killing hypervisor")
		}
	}

	if err := proc.Signal(os.Kill); err != nil && !exited(err) {
		return vmerr.Wrap(vmerr.KindProcessFailure, err, "kill pid %d", proc.Pid())
	}
	select {
	case <-proc.Exited():
		return nil
	case <-time.After(s.opts.KillTimeout):
		return vmerr.New(vmerr.KindTimeout, "pid %d still alive %s after kill", proc.Pid(), s.opts.KillTimeout)
	}
}

// watch records a VM as stopped when its process exits on its own.
func (s *Supervisor) watch(vmID string, proc Process) {
	<-proc.Exited()

	if current, ok := s.Process(vmID); !ok || current != proc {
		return
	}
	_, err := s.reg.Update(context.Background(), vmID, func(tx *registry.Txn) error {
		vm := tx.VM()
		if current, ok := s.Process(vmID); !ok || current != proc {
			return errUnchanged
		}
		if !vm.IsRunning() || vm.Runtime.PID != proc.Pid() {
			return errUnchanged
		}
		s.log.WithFields(logrus.Fields{"vm": vmID, "pid": proc.Pid()}).Warn("hypervisor exited unexpectedly")

		s.consolesMu.RLock()
		consoles := s.consoles
		s.consolesMu.RUnlock()
		if consoles != nil {
			consoles.CloseVM(vmID)
		}
		s.removeTaps(vm.Runtime.Macvtaps)
		s.untrack(vmID)
		vm.Status = models.StatusStopped
		vm.Runtime = nil
		return nil
	})
	if err != nil && !errors.Is(err, errUnchanged) && !vmerr.Is(err, vmerr.KindNotFound) {
		s.log.WithError(err).WithField("vm", vmID).Error("failed to record hypervisor exit")
	}
}

var errUnchanged = errors.New("unchanged")

// Reconcile checks every VM recorded as running. Dead or foreign pids are
// forced to stopped; live ones are adopted and watched.
func (s *Supervisor) Reconcile(ctx context.Context) error {
	var errs []error
	for _, vm := range s.reg.Running() {
		_, err := s.reg.Update(ctx, vm.ID, func(tx *registry.Txn) error {
			vm := tx.VM()
			if !vm.IsRunning() {
				return errUnchanged
			}
			pid := vm.Runtime.PID
			log := s.log.WithFields(logrus.Fields{"vm": vm.ID, "pid": pid})
			if Alive(pid) && cmdlineMatches(pid, vm.ID) {
				if _, tracked := s.Process(vm.ID); !tracked {
					s.track(vm.ID, Adopt(pid))
				}
				log.Info("adopted running hypervisor")
				return errUnchanged
			}
			log.Warn("recorded hypervisor is gone, marking vm stopped")
			s.removeTaps(vm.Runtime.Macvtaps)
			vm.Status = models.StatusStopped
			vm.Runtime = nil
			return nil
		})
		if err != nil && !errors.Is(err, errUnchanged) {
			errs = append(errs, fmt.Errorf("reconcile %s: %w", vm.ID, err))
		}
	}
	return errors.Join(errs...)
}

// StopAll stops every running VM. The engine calls it at shutdown when
// hypervisor.stop_on_exit is set.
func (s *Supervisor) StopAll(ctx context.Context) error {
	var errs []error
	for _, vm := range s.reg.Running() {
		if _, err := s.Stop(ctx, vm.ID); err != nil && !vmerr.Is(err, vmerr.KindConflict) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

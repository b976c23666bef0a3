package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"evalgo.org/fastvm/internal/allocator"
	"evalgo.org/fastvm/internal/vmerr"
	"evalgo.org/fastvm/models"
)

// openedTaps are the macvtap links created for one launch.
type openedTaps struct {
	names []string
	files []*os.File
	fds   map[int]int // network index -> descriptor in the child
}

func (t *openedTaps) closeFiles() {
	for _, f := range t.files {
		f.Close()
	}
}

// openTaps creates a macvtap link for every macvtap network of vm.
func (s *Supervisor) openTaps(vm *models.VM) (*openedTaps, error) {
	taps := &openedTaps{fds: map[int]int{}}
	for i, n := range vm.Networks {
		b, ok := n.Backend.(models.MacvtapBackend)
		if !ok {
			continue
		}
		if s.plumber == nil {
			s.removeTaps(taps.names)
			taps.closeFiles()
			return nil, vmerr.New(vmerr.KindExternal, "macvtap networking is not available on this host")
		}
		name := allocator.MacvtapName(vm.ID, i)
		if holder, held := linkHolder(s.reg.List(), name, vm.ID); held {
			s.removeTaps(taps.names)
			taps.closeFiles()
			return nil, vmerr.Conflict("macvtap link %s is held by running vm %s", name, holder)
		}
		// a link left behind by a crashed run would make creation fail
		_ = s.plumber.DeleteLink(name)
		tap, err := s.plumber.CreateMacvtap(name, b.ParentInterface, n.MAC)
		if err != nil {
			s.removeTaps(taps.names)
			taps.closeFiles()
			return nil, vmerr.Wrap(vmerr.KindExternal, err, "macvtap on %s", b.ParentInterface)
		}
		taps.fds[i] = allocator.TapFD(len(taps.files))
		taps.names = append(taps.names, tap.Name)
		taps.files = append(taps.files, tap.File)
	}
	return taps, nil
}

// linkHolder returns the running VM other than self whose run created the
// host link name.
func linkHolder(vms []*models.VM, name, self string) (string, bool) {
	for _, vm := range vms {
		if vm.ID == self || !vm.IsRunning() {
			continue
		}
		for _, link := range vm.Runtime.Macvtaps {
			if link == name {
				return vm.ID, true
			}
		}
	}
	return "", false
}

func (s *Supervisor) removeTaps(names []string) {
	if s.plumber == nil {
		return
	}
	for _, name := range names {
		if err := s.plumber.DeleteLink(name); err != nil {
			s.log.WithError(err).WithField("link", name).Warn("failed to remove macvtap link")
		}
	}
}

// startTPM runs the software TPM the hypervisor connects to. swtpm daemonizes
// itself and exits when the hypervisor disconnects.
func (s *Supervisor) startTPM(ctx context.Context, vm *models.VM) error {
	if s.runner == nil {
		return vmerr.New(vmerr.KindExternal, "tpm emulator is not available")
	}
	dir := s.alloc.TPMDir(vm.ID)
	sock := s.alloc.TPMSocket(vm.ID)
	s.stopTPM(vm.ID)
	_ = os.Remove(sock)

	out, err := s.runner.Run(ctx, s.opts.SwtpmBinary, "socket",
		"--tpm2",
		"--tpmstate", "dir="+dir,
		"--ctrl", "type=unixio,path="+sock,
		"--pid", "file="+filepath.Join(dir, "swtpm.pid"),
		"--terminate",
		"--daemon",
	)
	if err != nil {
		e := vmerr.Wrap(vmerr.KindExternal, err, "start tpm emulator")
		e.Output = strings.TrimSpace(string(out))
		return e
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(sock); err == nil {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	s.stopTPM(vm.ID)
	return vmerr.New(vmerr.KindTimeout, "tpm emulator socket did not appear")
}

// stopTPM terminates a TPM emulator left from an earlier launch.
func (s *Supervisor) stopTPM(vmID string) {
	data, err := os.ReadFile(filepath.Join(s.alloc.TPMDir(vmID), "swtpm.pid"))
	if err != nil {
		return
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || !Alive(pid) {
		return
	}
	if p, err := os.FindProcess(pid); err == nil {
		if err := p.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.log.WithError(err).WithField("pid", pid).Warn("failed to stop tpm emulator")
		}
	}
}

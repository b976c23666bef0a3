package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// outputTail is how much child output is kept for diagnostics.
const outputTail = 16 * 1024

// Process is a running hypervisor, either launched by this engine or
// adopted from a previous run.
type Process interface {
	Pid() int
	Signal(sig os.Signal) error
	// Exited is closed once the process is gone.
	Exited() <-chan struct{}
	// Output returns the tail of what the process wrote, if it was captured.
	Output() string
}

// LaunchOptions carries what a child inherits besides its argv.
type LaunchOptions struct {
	// ExtraFiles become descriptors 3, 4, ... in the child.
	ExtraFiles []*os.File
	// LogPath receives stdout and stderr, appended.
	LogPath string
}

// Launcher starts hypervisor processes.
type Launcher interface {
	Launch(ctx context.Context, args []string, opts LaunchOptions) (Process, error)
}

// ExecLauncher starts detached children in their own session so that they
// survive an engine restart.
type ExecLauncher struct{}

func (ExecLauncher) Launch(_ context.Context, args []string, opts LaunchOptions) (Process, error) {
	if len(args) == 0 {
		return nil, errors.New("empty argument vector")
	}
	path, err := exec.LookPath(args[0])
	if err != nil {
		return nil, err
	}

	// the child must outlive the request that started it, so ctx is not bound
	cmd := exec.Command(path, args[1:]...)
	cmd.SysProcAttr = detachedAttr()
	cmd.ExtraFiles = opts.ExtraFiles

	c := &child{cmd: cmd, done: make(chan struct{})}
	var logFile *os.File
	if opts.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.LogPath), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		logFile, err = os.OpenFile(opts.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open vm log: %w", err)
		}
		fmt.Fprintf(logFile, "--- %s launching %s\n", time.Now().UTC().Format(time.RFC3339), strings.Join(args, " "))
		if c.logFrom, err = logFile.Seek(0, io.SeekCurrent); err != nil {
			logFile.Close()
			return nil, fmt.Errorf("open vm log: %w", err)
		}
		// the child writes the file itself and keeps logging after the
		// engine exits
		c.logPath = opts.LogPath
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	} else {
		c.tail = &tailBuffer{max: outputTail}
		cmd.Stdout = c.tail
		cmd.Stderr = c.tail
	}

	err = cmd.Start()
	if logFile != nil {
		logFile.Close()
	}
	if err != nil {
		return nil, err
	}

	go func() {
		c.err = cmd.Wait()
		close(c.done)
	}()
	return c, nil
}

// child is a process started by ExecLauncher.
type child struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error

	// output goes to logPath from offset logFrom, or to tail when the
	// launch had no log file
	logPath string
	logFrom int64
	tail    *tailBuffer
}

func (c *child) Pid() int { return c.cmd.Process.Pid }

func (c *child) Signal(sig os.Signal) error {
	select {
	case <-c.done:
		return os.ErrProcessDone
	default:
	}
	return c.cmd.Process.Signal(sig)
}

func (c *child) Exited() <-chan struct{} { return c.done }

func (c *child) Output() string {
	var out string
	if c.logPath != "" {
		out = readTail(c.logPath, c.logFrom, outputTail)
	} else {
		out = c.tail.String()
	}
	select {
	case <-c.done:
		if c.err != nil {
			out = strings.TrimSpace(out + "\n" + c.err.Error())
		}
	default:
	}
	return out
}

// adopted is a process found running at reconciliation. It is not our child,
// so its exit is observed by polling.
type adopted struct {
	pid      int
	interval time.Duration
	once     sync.Once
	done     chan struct{}
}

// Adopt tracks an already running process by pid.
func Adopt(pid int) Process {
	return &adopted{pid: pid, interval: 250 * time.Millisecond, done: make(chan struct{})}
}

func (a *adopted) Pid() int { return a.pid }

func (a *adopted) Signal(sig os.Signal) error {
	p, err := os.FindProcess(a.pid)
	if err != nil {
		return err
	}
	return p.Signal(sig)
}

func (a *adopted) Exited() <-chan struct{} {
	a.once.Do(func() {
		go func() {
			t := time.NewTicker(a.interval)
			defer t.Stop()
			for range t.C {
				if !Alive(a.pid) {
					close(a.done)
					return
				}
			}
		}()
	})
	return a.done
}

func (a *adopted) Output() string { return "" }

// Alive reports whether pid exists and is not a zombie.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	if err != nil || !exists {
		return false
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	status, err := p.Status()
	if err != nil {
		// exists but unreadable, e.g. another user's process
		return true
	}
	for _, s := range status {
		if s == process.Zombie {
			return false
		}
	}
	return true
}

// cmdlineMatches reports whether pid's command line mentions marker. A pid
// reused by an unrelated process must not be adopted.
func cmdlineMatches(pid int, marker string) bool {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	cmdline, err := p.Cmdline()
	if err != nil || cmdline == "" {
		return true
	}
	return strings.Contains(cmdline, marker)
}

// exited reports whether a signal failed because the process is gone.
func exited(err error) bool {
	return errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH)
}

// readTail returns at most max bytes from the end of path, none of them
// before offset from.
func readTail(path string, from int64, max int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return ""
	}
	size := info.Size()
	start := from
	if size-start > int64(max) {
		start = size - int64(max)
	}
	if start >= size {
		return ""
	}
	buf := make([]byte, size-start)
	n, _ := f.ReadAt(buf, start)
	return string(buf[:n])
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

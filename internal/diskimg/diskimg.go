// Package diskimg wraps the disk image tool (qemu-img). Images are opaque
// files to the rest of the engine; this package creates, layers, copies and
// inspects them.
package diskimg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"evalgo.org/fastvm/internal/logging"
	"evalgo.org/fastvm/internal/vmerr"
)

// Runner executes the image tool and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands as child processes.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Info is the subset of `qemu-img info` the engine reads.
type Info struct {
	Format          string `json:"format"`
	VirtualSize     int64  `json:"virtual-size"`
	ActualSize      int64  `json:"actual-size"`
	BackingFilename string `json:"backing-filename,omitempty"`
}

// Tool runs image operations through a Runner.
type Tool struct {
	binary string
	run    Runner
	log    *logrus.Entry
}

// New returns a Tool using binary. A nil runner uses ExecRunner.
func New(binary string, run Runner) *Tool {
	if run == nil {
		run = ExecRunner{}
	}
	return &Tool{binary: binary, run: run, log: logging.For("diskimg")}
}

// Create makes an empty image of sizeGB.
func (t *Tool) Create(ctx context.Context, path, format string, sizeGB int) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	_, err := t.exec(ctx, "create", "-f", format, path, fmt.Sprintf("%dG", sizeGB))
	return err
}

// CreateOverlay makes a qcow2 image whose unmodified blocks read through to
// backing. backing must be an absolute path since it is recorded in the image.
func (t *Tool) CreateOverlay(ctx context.Context, path, backing string) error {
	if !filepath.IsAbs(backing) {
		return fmt.Errorf("backing image %q must be an absolute path", backing)
	}
	if err := ensureDir(path); err != nil {
		return err
	}
	_, err := t.exec(ctx, "create", "-f", "qcow2", "-F", "qcow2", "-b", backing, path)
	return err
}

// Convert writes a standalone qcow2 copy of src to dst, flattening any
// backing chain. dst is replaced atomically.
func (t *Tool) Convert(ctx context.Context, src, dst string) error {
	if err := ensureDir(dst); err != nil {
		return err
	}
	tmp := dst + ".tmp"
	if _, err := t.exec(ctx, "convert", "-O", "qcow2", src, tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return vmerr.Wrap(vmerr.KindInternal, err, "replace %s", filepath.Base(dst))
	}
	return nil
}

// Info inspects an image.
func (t *Tool) Info(ctx context.Context, path string) (*Info, error) {
	out, err := t.exec(ctx, "info", "--output=json", path)
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, vmerr.Wrap(vmerr.KindInternal, err, "parse image info of %s", path)
	}
	return &info, nil
}

// Remove deletes an image file, ignoring files that are already gone.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func (t *Tool) exec(ctx context.Context, args ...string) ([]byte, error) {
	t.log.WithField("args", strings.Join(args, " ")).Debug("running image tool")
	out, err := t.run.Run(ctx, t.binary, args...)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return nil, vmerr.Wrap(vmerr.KindExternal, err, "image tool %s not available", t.binary)
	}
	e := vmerr.Wrap(vmerr.KindInternal, err, "%s %s failed", t.binary, args[0])
	e.Output = strings.TrimSpace(string(out))
	return nil, e
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return vmerr.Wrap(vmerr.KindInternal, err, "create image directory")
	}
	return nil
}

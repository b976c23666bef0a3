package diskimg

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/fastvm/internal/vmerr"
)

type fakeRunner struct {
	calls [][]string
	out   []byte
	err   error
	// touch creates the last argument as a file, as the real tool would
	touch bool
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.touch && f.err == nil {
		_ = os.WriteFile(args[len(args)-1], []byte("img"), 0o644)
	}
	return f.out, f.err
}

func TestCreate(t *testing.T) {
	run := &fakeRunner{}
	tool := New("qemu-img", run)
	path := filepath.Join(t.TempDir(), "vms", "a.qcow2")

	require.NoError(t, tool.Create(context.Background(), path, "qcow2", 20))
	assert.Equal(t, []string{"qemu-img", "create", "-f", "qcow2", path, "20G"}, run.calls[0])
	assert.DirExists(t, filepath.Dir(path))
}

func TestCreateOverlay(t *testing.T) {
	run := &fakeRunner{}
	tool := New("qemu-img", run)
	dir := t.TempDir()

	err := tool.CreateOverlay(context.Background(), filepath.Join(dir, "b.qcow2"), "relative.qcow2")
	assert.Error(t, err)

	base := filepath.Join(dir, "base.qcow2")
	require.NoError(t, tool.CreateOverlay(context.Background(), filepath.Join(dir, "b.qcow2"), base))
	assert.Equal(t, []string{"qemu-img", "create", "-f", "qcow2", "-F", "qcow2", "-b", base, filepath.Join(dir, "b.qcow2")}, run.calls[0])
}

func TestConvertReplacesAtomically(t *testing.T) {
	run := &fakeRunner{touch: true}
	tool := New("qemu-img", run)
	dir := t.TempDir()
	dst := filepath.Join(dir, "snap.qcow2")

	require.NoError(t, tool.Convert(context.Background(), "/src.qcow2", dst))
	assert.Equal(t, []string{"qemu-img", "convert", "-O", "qcow2", "/src.qcow2", dst + ".tmp"}, run.calls[0])
	assert.FileExists(t, dst)
	assert.NoFileExists(t, dst+".tmp")
}

func TestInfo(t *testing.T) {
	run := &fakeRunner{out: []byte(`{"format":"qcow2","virtual-size":21474836480,"actual-size":200704,"backing-filename":"/images/base.qcow2"}`)}
	info, err := New("qemu-img", run).Info(context.Background(), "/x.qcow2")
	require.NoError(t, err)
	assert.Equal(t, "qcow2", info.Format)
	assert.Equal(t, int64(21474836480), info.VirtualSize)
	assert.Equal(t, "/images/base.qcow2", info.BackingFilename)
}

func TestErrorsAreClassified(t *testing.T) {
	missing := &fakeRunner{err: &exec.Error{Name: "qemu-img", Err: exec.ErrNotFound}}
	err := New("qemu-img", missing).Create(context.Background(), filepath.Join(t.TempDir(), "a"), "raw", 1)
	assert.True(t, vmerr.Is(err, vmerr.KindExternal))

	failing := &fakeRunner{err: errors.New("exit status 1"), out: []byte("Could not open\n")}
	err = New("qemu-img", failing).Create(context.Background(), filepath.Join(t.TempDir(), "a"), "raw", 1)
	var verr *vmerr.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, vmerr.KindInternal, verr.Kind)
	assert.Equal(t, "Could not open", verr.Output)
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	assert.NoError(t, Remove(path))
	assert.NoError(t, Remove(path))
	assert.NoError(t, Remove(""))
}

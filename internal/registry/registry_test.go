package registry

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/fastvm/internal/vmerr"
	"evalgo.org/fastvm/models"
)

func newVM(name string) *models.VM {
	return &models.VM{
		ID:        models.NewID(),
		Name:      name,
		MemoryMB:  2048,
		VCPUs:     2,
		Status:    models.StatusStopped,
		Networks:  []models.Network{{Model: models.NICVirtio, MAC: "52:54:00:aa:bb:cc", Backend: models.NATBackend{}}},
		CreatedAt: time.Now(),
	}
}

func openTemp(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	r, err := Open(dir)
	require.NoError(t, err)
	return r, dir
}

// markRunning commits vm as running on a port from [lo, hi].
func markRunning(t *testing.T, r *Registry, id string, pid int) *models.VM {
	t.Helper()
	vm, err := r.Update(context.Background(), id, func(tx *Txn) error {
		port, err := tx.ClaimPort(5930, 5999, nil)
		if err != nil {
			return err
		}
		tx.VM().Status = models.StatusRunning
		tx.VM().Runtime = &models.Runtime{PID: pid, ConsolePort: port, Protocol: models.DisplaySpice}
		return nil
	})
	require.NoError(t, err)
	return vm
}

func markStopped(t *testing.T, r *Registry, id string) *models.VM {
	t.Helper()
	vm, err := r.Update(context.Background(), id, func(tx *Txn) error {
		tx.VM().Status = models.StatusStopped
		tx.VM().Runtime = nil
		return nil
	})
	require.NoError(t, err)
	return vm
}

func TestCreateGetList(t *testing.T) {
	r, _ := openTemp(t)

	a, err := r.Create(newVM("a"))
	require.NoError(t, err)
	_, err = r.Create(newVM("b"))
	require.NoError(t, err)

	got, err := r.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name)

	_, err = r.Create(newVM("A"))
	assert.True(t, vmerr.Is(err, vmerr.KindConflict))

	_, err = r.Get("missing")
	assert.True(t, vmerr.Is(err, vmerr.KindNotFound))

	assert.Len(t, r.List(), 2)
}

func TestReadsReturnCopies(t *testing.T) {
	r, _ := openTemp(t)
	vm, err := r.Create(newVM("a"))
	require.NoError(t, err)

	vm.Name = "changed"
	got, _ := r.Get(vm.ID)
	assert.Equal(t, "a", got.Name)
}

func TestPersistAndReopen(t *testing.T) {
	r, dir := openTemp(t)
	vm, err := r.Create(newVM("a"))
	require.NoError(t, err)
	running := markRunning(t, r, vm.ID, 4242)

	vol, err := r.CreateVolume(&models.Volume{ID: models.NewID(), Name: "data", SizeGB: 10, Format: models.FormatQcow2})
	require.NoError(t, err)

	r2, err := Open(dir)
	require.NoError(t, err)
	got, err := r2.Get(vm.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, got.Status)
	assert.Equal(t, 4242, got.Runtime.PID)
	require.Len(t, got.Networks, 1)
	assert.Equal(t, models.NetworkNAT, got.Networks[0].Type())

	owner, ok := r2.PortOwner(running.Runtime.ConsolePort)
	assert.True(t, ok)
	assert.Equal(t, vm.ID, owner)

	_, err = r2.GetVolume(vol.ID)
	assert.NoError(t, err)
}

func TestFlushRetriesFailedWrite(t *testing.T) {
	r, dir := openTemp(t)
	require.NoError(t, r.Flush())

	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, os.WriteFile(dir, nil, 0o644))
	vm, err := r.Create(newVM("a"))
	require.NoError(t, err)
	assert.True(t, r.Exists(vm.ID))

	assert.Error(t, r.Flush())
	assert.Error(t, r.Flush())

	require.NoError(t, os.Remove(dir))
	require.NoError(t, r.Flush())
	require.NoError(t, r.Flush())

	r2, err := Open(dir)
	require.NoError(t, err)
	assert.True(t, r2.Exists(vm.ID))
	assert.False(t, r2.Exists("unknown"))
}

func TestRunningImpliesRuntime(t *testing.T) {
	r, _ := openTemp(t)
	vm, _ := r.Create(newVM("a"))

	_, err := r.Update(context.Background(), vm.ID, func(tx *Txn) error {
		tx.VM().Status = models.StatusRunning
		return nil
	})
	assert.Error(t, err)

	_, err = r.Update(context.Background(), vm.ID, func(tx *Txn) error {
		tx.VM().Status = models.StatusStarting
		return nil
	})
	assert.Error(t, err)

	got, _ := r.Get(vm.ID)
	assert.Equal(t, models.StatusStopped, got.Status)
	assert.Nil(t, got.Runtime)
}

func TestPortAllocationLowestFree(t *testing.T) {
	r, _ := openTemp(t)
	a, _ := r.Create(newVM("a"))
	b, _ := r.Create(newVM("b"))
	c, _ := r.Create(newVM("c"))

	ra := markRunning(t, r, a.ID, 1)
	rb := markRunning(t, r, b.ID, 2)
	assert.Equal(t, 5930, ra.Runtime.ConsolePort)
	assert.Equal(t, 5931, rb.Runtime.ConsolePort)

	markStopped(t, r, a.ID)
	_, held := r.PortOwner(5930)
	assert.False(t, held)

	rc := markRunning(t, r, c.ID, 3)
	assert.Equal(t, 5930, rc.Runtime.ConsolePort)
}

func TestPortExhaustion(t *testing.T) {
	r, _ := openTemp(t)
	a, _ := r.Create(newVM("a"))
	b, _ := r.Create(newVM("b"))

	claim := func(id string) error {
		_, err := r.Update(context.Background(), id, func(tx *Txn) error {
			port, err := tx.ClaimPort(5900, 5900, nil)
			if err != nil {
				return err
			}
			tx.VM().Status = models.StatusRunning
			tx.VM().Runtime = &models.Runtime{PID: 7, ConsolePort: port}
			return nil
		})
		return err
	}
	require.NoError(t, claim(a.ID))
	err := claim(b.ID)
	assert.True(t, vmerr.Is(err, vmerr.KindResourceExhausted))
}

func TestClaimSkipsUnusablePorts(t *testing.T) {
	r, _ := openTemp(t)
	a, _ := r.Create(newVM("a"))

	_, err := r.Update(context.Background(), a.ID, func(tx *Txn) error {
		port, err := tx.ClaimPort(5930, 5935, func(p int) bool { return p > 5932 })
		require.NoError(t, err)
		assert.Equal(t, 5933, port)
		return errors.New("abort")
	})
	assert.EqualError(t, err, "abort")

	_, held := r.PortOwner(5933)
	assert.False(t, held, "failed transaction must return its claims")
}

func TestFailedUpdateCommitsNothing(t *testing.T) {
	r, _ := openTemp(t)
	vm, _ := r.Create(newVM("a"))

	_, err := r.Update(context.Background(), vm.ID, func(tx *Txn) error {
		tx.VM().Name = "renamed"
		tx.VM().MemoryMB = 4096
		return vmerr.Conflict("nope")
	})
	assert.True(t, vmerr.Is(err, vmerr.KindConflict))

	got, _ := r.Get(vm.ID)
	assert.Equal(t, "a", got.Name)
	assert.Equal(t, 2048, got.MemoryMB)
}

func TestSameIDSerializes(t *testing.T) {
	r, _ := openTemp(t)
	vm, _ := r.Create(newVM("a"))

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Update(context.Background(), vm.ID, func(tx *Txn) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				tx.VM().VCPUs++
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	got, _ := r.Get(vm.ID)
	assert.Equal(t, 22, got.VCPUs)
}

func TestDifferentIDsRunInParallel(t *testing.T) {
	r, _ := openTemp(t)
	a, _ := r.Create(newVM("a"))
	b, _ := r.Create(newVM("b"))

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = r.Update(context.Background(), a.ID, func(tx *Txn) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := r.Update(ctx, b.ID, func(tx *Txn) error { return nil })
	assert.NoError(t, err)

	// the same id waits and honours the context
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	_, err = r.Update(ctx2, a.ID, func(tx *Txn) error { return nil })
	assert.True(t, vmerr.Is(err, vmerr.KindTimeout))
	close(release)
}

func TestNoIntermediateStateVisible(t *testing.T) {
	r, _ := openTemp(t)
	vm, _ := r.Create(newVM("a"))

	inside := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Update(context.Background(), vm.ID, func(tx *Txn) error {
			tx.VM().Status = models.StatusStarting
			close(inside)
			time.Sleep(20 * time.Millisecond)
			port, err := tx.ClaimPort(5930, 5999, nil)
			if err != nil {
				return err
			}
			tx.VM().Status = models.StatusRunning
			tx.VM().Runtime = &models.Runtime{PID: 99, ConsolePort: port}
			return nil
		})
	}()

	<-inside
	for {
		select {
		case <-done:
			got, _ := r.Get(vm.ID)
			assert.Equal(t, models.StatusRunning, got.Status)
			return
		default:
			got, err := r.Get(vm.ID)
			require.NoError(t, err)
			assert.Contains(t, []models.VMStatus{models.StatusStopped, models.StatusRunning}, got.Status)
		}
	}
}

func TestVolumeAttachDetachDelete(t *testing.T) {
	r, _ := openTemp(t)
	x, _ := r.Create(newVM("x"))
	y, _ := r.Create(newVM("y"))
	vol, err := r.CreateVolume(&models.Volume{ID: models.NewID(), Name: "v", SizeGB: 10, Format: models.FormatQcow2})
	require.NoError(t, err)

	got, err := r.Update(context.Background(), x.ID, func(tx *Txn) error { return tx.AttachVolume(vol.ID) })
	require.NoError(t, err)
	assert.Equal(t, []string{vol.ID}, got.Volumes)

	v, _ := r.GetVolume(vol.ID)
	require.True(t, v.Attached())
	assert.Equal(t, x.ID, *v.AttachedTo)

	_, err = r.DeleteVolume(vol.ID)
	assert.True(t, vmerr.Is(err, vmerr.KindConflict))

	_, err = r.Update(context.Background(), y.ID, func(tx *Txn) error { return tx.AttachVolume(vol.ID) })
	assert.True(t, vmerr.Is(err, vmerr.KindConflict))

	got, err = r.Update(context.Background(), x.ID, func(tx *Txn) error { return tx.DetachVolume(vol.ID) })
	require.NoError(t, err)
	assert.Empty(t, got.Volumes)

	_, err = r.DeleteVolume(vol.ID)
	assert.NoError(t, err)
}

func TestConcurrentAttachSameVolume(t *testing.T) {
	r, _ := openTemp(t)
	vol, _ := r.CreateVolume(&models.Volume{ID: models.NewID(), Name: "v", SizeGB: 1, Format: models.FormatRaw})

	var ids []string
	for _, n := range []string{"a", "b", "c", "d"} {
		vm, _ := r.Create(newVM(n))
		ids = append(ids, vm.ID)
	}

	var wg sync.WaitGroup
	results := make(chan error, len(ids))
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := r.Update(context.Background(), id, func(tx *Txn) error { return tx.AttachVolume(vol.ID) })
			results <- err
		}(id)
	}
	wg.Wait()
	close(results)

	ok := 0
	for err := range results {
		if err == nil {
			ok++
		} else {
			assert.True(t, vmerr.Is(err, vmerr.KindConflict))
		}
	}
	assert.Equal(t, 1, ok)
}

func TestDeleteKeepsOrReclaims(t *testing.T) {
	r, _ := openTemp(t)
	ctx := context.Background()

	setup := func(name string) (*models.VM, *models.Volume) {
		vm, _ := r.Create(newVM(name))
		vol, _ := r.CreateVolume(&models.Volume{ID: models.NewID(), Name: name + "-vol", SizeGB: 1, Format: models.FormatRaw})
		_, err := r.Update(ctx, vm.ID, func(tx *Txn) error {
			tx.AddSnapshot(&models.Snapshot{ID: models.NewID(), VMID: vm.ID, Name: "s1", CreatedAt: time.Now()})
			return tx.AttachVolume(vol.ID)
		})
		require.NoError(t, err)
		return vm, vol
	}

	keep, keepVol := setup("keep")
	out, err := r.Update(ctx, keep.ID, func(tx *Txn) error { tx.Delete(false, false); return nil })
	require.NoError(t, err)
	assert.Nil(t, out)
	_, err = r.Get(keep.ID)
	assert.True(t, vmerr.Is(err, vmerr.KindNotFound))
	v, err := r.GetVolume(keepVol.ID)
	require.NoError(t, err)
	assert.False(t, v.Attached())
	assert.Len(t, r.ListSnapshots(keep.ID), 1)

	drop, dropVol := setup("drop")
	_, err = r.Update(ctx, drop.ID, func(tx *Txn) error { tx.Delete(true, true); return nil })
	require.NoError(t, err)
	_, err = r.GetVolume(dropVol.ID)
	assert.True(t, vmerr.Is(err, vmerr.KindNotFound))
	assert.Empty(t, r.ListSnapshots(drop.ID))
}

func TestDeleteSnapshotOfDeletedVM(t *testing.T) {
	r, _ := openTemp(t)
	ctx := context.Background()
	vm, _ := r.Create(newVM("a"))
	snap := &models.Snapshot{ID: models.NewID(), VMID: vm.ID, Name: "s", CreatedAt: time.Now()}
	_, err := r.Update(ctx, vm.ID, func(tx *Txn) error { tx.AddSnapshot(snap); return nil })
	require.NoError(t, err)
	_, err = r.Update(ctx, vm.ID, func(tx *Txn) error { tx.Delete(false, false); return nil })
	require.NoError(t, err)

	got, err := r.DeleteSnapshot(ctx, vm.ID, snap.ID)
	require.NoError(t, err)
	assert.Equal(t, "s", got.Name)

	_, err = r.DeleteSnapshot(ctx, vm.ID, snap.ID)
	assert.True(t, vmerr.Is(err, vmerr.KindNotFound))
}

func TestCloneCommitAndPruneImages(t *testing.T) {
	r, _ := openTemp(t)
	ctx := context.Background()
	src, _ := r.Create(newVM("src"))

	base := &models.BaseImage{ID: models.NewID(), Path: "/images/base.qcow2", CreatedAt: time.Now()}
	clone := newVM("clone")
	clone.Networks[0].MAC = "52:54:00:11:22:33"
	clone.BaseImage = base.ID

	_, err := r.Update(ctx, src.ID, func(tx *Txn) error {
		tx.AddImage(base)
		tx.VM().BaseImage = base.ID
		tx.CreateVM(clone)
		return nil
	})
	require.NoError(t, err)

	_, err = r.Get(clone.ID)
	require.NoError(t, err)
	macs := r.MACs()
	assert.Equal(t, src.ID, macs["52:54:00:aa:bb:cc"])
	assert.Equal(t, clone.ID, macs["52:54:00:11:22:33"])

	assert.Empty(t, r.PruneImages())

	_, err = r.Update(ctx, src.ID, func(tx *Txn) error { tx.Delete(false, false); return nil })
	require.NoError(t, err)
	assert.Empty(t, r.PruneImages())

	_, err = r.Update(ctx, clone.ID, func(tx *Txn) error { tx.Delete(false, false); return nil })
	require.NoError(t, err)
	pruned := r.PruneImages()
	require.Len(t, pruned, 1)
	assert.Equal(t, base.ID, pruned[0].ID)
}

func TestCloneNameConflictRollsBack(t *testing.T) {
	r, _ := openTemp(t)
	src, _ := r.Create(newVM("src"))
	_, _ = r.Create(newVM("taken"))

	_, err := r.Update(context.Background(), src.ID, func(tx *Txn) error {
		tx.VM().BaseImage = "img"
		tx.CreateVM(newVM("taken"))
		return nil
	})
	assert.True(t, vmerr.Is(err, vmerr.KindConflict))

	got, _ := r.Get(src.ID)
	assert.Empty(t, got.BaseImage)
}

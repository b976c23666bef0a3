package engine

import (
	"bufio"
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"evalgo.org/fastvm/internal/allocator"
	"evalgo.org/fastvm/internal/diskimg"
	"evalgo.org/fastvm/internal/registry"
	"evalgo.org/fastvm/internal/vmerr"
	"evalgo.org/fastvm/models"
)

// CreateVM records a new stopped VM and creates its empty disk.
func (e *Engine) CreateVM(ctx context.Context, req *models.VMCreate) (*models.VM, error) {
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	e.macMu.Lock()
	defer e.macMu.Unlock()

	vm, err := e.alloc.NewVM(req, e.reg.MACs())
	if err != nil {
		return nil, err
	}
	if err := e.images.Create(ctx, vm.DiskPath, "qcow2", vm.DiskSizeGB); err != nil {
		os.RemoveAll(e.alloc.VMDir(vm.ID))
		return nil, err
	}
	created, err := e.reg.Create(vm)
	if err != nil {
		os.RemoveAll(e.alloc.VMDir(vm.ID))
		return nil, err
	}
	e.log.WithFields(logrus.Fields{"vm": created.ID, "name": created.Name}).Info("vm created")
	return created, nil
}

func (e *Engine) GetVM(id string) (*models.VM, error) {
	return e.reg.Get(id)
}

// ListVMs returns every VM, oldest first.
func (e *Engine) ListVMs() []*models.VM {
	return e.reg.List()
}

// UpdateVM changes the description of a stopped VM.
func (e *Engine) UpdateVM(ctx context.Context, id string, req *models.VMUpdate) (*models.VM, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	e.macMu.Lock()
	defer e.macMu.Unlock()

	return e.reg.Update(ctx, id, func(tx *registry.Txn) error {
		vm := tx.VM()
		if vm.IsRunning() {
			return vmerr.Conflict("vm %s must be stopped to be updated", id)
		}
		if req.Name != nil {
			vm.Name = *req.Name
		}
		if req.MemoryMB != nil {
			vm.MemoryMB = *req.MemoryMB
		}
		if req.VCPUs != nil {
			vm.VCPUs = *req.VCPUs
		}
		if req.CPUModel != nil {
			vm.CPUModel = *req.CPUModel
		}
		if req.Display != nil {
			vm.Display = *req.Display
		}
		if req.OSType != nil {
			vm.OSType = *req.OSType
		}
		if req.ISOPath != nil {
			vm.ISOPath = *req.ISOPath
		}
		if req.SecondaryISOPath != nil {
			vm.SecondaryISOPath = *req.SecondaryISOPath
		}
		if req.BootOrder != nil {
			vm.BootOrder = append([]models.BootDevice(nil), req.BootOrder...)
		}
		if req.Networks != nil {
			networks := make([]models.Network, len(req.Networks))
			for i, n := range req.Networks {
				networks[i] = n.Copy()
				if networks[i].Model == "" {
					networks[i].Model = models.NICVirtio
				}
			}
			if err := allocator.AssignMACs(networks, id, e.reg.MACs()); err != nil {
				return err
			}
			vm.Networks = networks
		}
		return nil
	})
}

// DeleteVM removes a stopped VM, its disk and private artifacts. Volumes
// are detached and snapshots kept unless opts reclaims them.
func (e *Engine) DeleteVM(ctx context.Context, id string, opts models.VMDelete) error {
	var (
		volumes   []*models.Volume
		snapshots []*models.Snapshot
	)
	_, err := e.reg.Update(ctx, id, func(tx *registry.Txn) error {
		vm := tx.VM()
		if vm.IsRunning() {
			return vmerr.Conflict("vm %s must be stopped to be deleted", id)
		}
		if opts.ReclaimVolumes {
			for _, volID := range vm.Volumes {
				if vol, err := tx.Volume(volID); err == nil {
					volumes = append(volumes, vol)
				}
			}
		}
		if opts.ReclaimSnapshots {
			snapshots = e.reg.ListSnapshots(id)
		}
		tx.Delete(opts.ReclaimVolumes, opts.ReclaimSnapshots)
		return nil
	})
	if err != nil {
		return err
	}

	log := e.log.WithField("vm", id)
	remove := func(path string) {
		if err := diskimg.Remove(path); err != nil {
			log.WithError(err).Warn("failed to remove file of deleted vm")
		}
	}
	if err := os.RemoveAll(e.alloc.VMDir(id)); err != nil {
		log.WithError(err).Warn("failed to remove vm directory")
	}
	remove(e.alloc.LogPath(id))
	for _, vol := range volumes {
		remove(vol.Path)
	}
	for _, s := range snapshots {
		remove(s.Path)
	}
	e.pruneImages()
	e.pipeline.Forget(id)

	log.WithFields(logrus.Fields{"volumes": len(volumes), "snapshots": len(snapshots)}).Info("vm deleted")
	return nil
}

// pruneImages removes base images nothing layers on any more.
func (e *Engine) pruneImages() {
	for _, img := range e.reg.PruneImages() {
		if err := diskimg.Remove(img.Path); err != nil {
			e.log.WithError(err).WithField("image", img.ID).Warn("failed to remove base image")
		}
	}
}

// StartVM launches a stopped VM.
func (e *Engine) StartVM(ctx context.Context, id string) (*models.VM, error) {
	return e.sup.Start(ctx, id)
}

// StopVM shuts a running VM down, closing its console sessions first.
func (e *Engine) StopVM(ctx context.Context, id string) (*models.VM, error) {
	return e.sup.Stop(ctx, id)
}

// RestartVM stops and starts a VM without committing the stopped state.
func (e *Engine) RestartVM(ctx context.Context, id string) (*models.VM, error) {
	return e.sup.Restart(ctx, id)
}

// CloneVM copies a stopped VM. The source's current disk is frozen into a
// read-only base image; source and clone each continue on their own
// copy-on-write layer over it, so neither sees the other's writes. Every
// interface of the clone gets a fresh address.
func (e *Engine) CloneVM(ctx context.Context, srcID string, req *models.VMClone) (*models.VM, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	e.macMu.Lock()
	defer e.macMu.Unlock()

	var (
		clone *models.VM
		undo  func()
	)
	_, err := e.reg.Update(ctx, srcID, func(tx *registry.Txn) error {
		src := tx.VM()
		if src.IsRunning() {
			return vmerr.Conflict("vm %s must be stopped to be cloned", srcID)
		}
		for _, vm := range e.reg.List() {
			if strings.EqualFold(vm.Name, req.Name) {
				return vmerr.Conflict("a vm named %q already exists", req.Name)
			}
		}

		var err error
		clone, err = e.alloc.DeriveClone(src, req, e.reg.MACs())
		if err != nil {
			return err
		}

		img := &models.BaseImage{ID: models.NewID(), Backing: src.BaseImage, CreatedAt: time.Now().UTC()}
		img.Path = e.alloc.ImagePath(img.ID)
		undo, err = e.layer(ctx, src, clone, img.Path)
		if err != nil {
			return err
		}

		tx.AddImage(img)
		src.BaseImage = img.ID
		clone.BaseImage = img.ID
		tx.CreateVM(clone)
		return nil
	})
	if err != nil {
		if undo != nil {
			undo()
		}
		return nil, err
	}

	e.log.WithFields(logrus.Fields{"vm": clone.ID, "source": srcID, "name": clone.Name}).Info("vm cloned")
	return e.reg.Get(clone.ID)
}

// layer moves src's disk to imgPath and puts an overlay for src and one for
// clone on top of it. The returned func reverts the files.
func (e *Engine) layer(ctx context.Context, src, clone *models.VM, imgPath string) (func(), error) {
	if err := os.MkdirAll(e.cfg.Storage.ImagesDir, 0o755); err != nil {
		return nil, vmerr.Wrap(vmerr.KindInternal, err, "create image directory")
	}
	if _, err := os.Stat(src.DiskPath); err != nil {
		return nil, vmerr.Invalid("vm cannot be cloned", map[string]string{"disk_path": "primary disk is missing"})
	}
	if err := os.Rename(src.DiskPath, imgPath); err != nil {
		return nil, vmerr.Wrap(vmerr.KindInternal, err, "freeze disk of vm %s", src.ID)
	}
	restore := func() {
		os.Remove(src.DiskPath)
		if err := os.Rename(imgPath, src.DiskPath); err != nil {
			e.log.WithError(err).WithField("vm", src.ID).Error("failed to restore disk after clone failure")
		}
	}
	if err := e.images.CreateOverlay(ctx, src.DiskPath, imgPath); err != nil {
		restore()
		return nil, err
	}
	if err := e.images.CreateOverlay(ctx, clone.DiskPath, imgPath); err != nil {
		restore()
		return nil, err
	}
	return func() {
		os.RemoveAll(e.alloc.VMDir(clone.ID))
		restore()
	}, nil
}

// Logs returns up to lines of the end of a VM's hypervisor log. A VM that
// never ran has an empty log.
func (e *Engine) Logs(id string, lines int) ([]string, error) {
	if _, err := e.reg.Get(id); err != nil {
		return nil, err
	}
	if lines <= 0 {
		lines = 100
	}
	f, err := os.Open(e.alloc.LogPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, vmerr.Wrap(vmerr.KindInternal, err, "open log of vm %s", id)
	}
	defer f.Close()

	tail := make([]string, 0, lines)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(tail) == lines {
			tail = tail[1:]
		}
		tail = append(tail, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, vmerr.Wrap(vmerr.KindInternal, err, "read log of vm %s", id)
	}
	return tail, nil
}

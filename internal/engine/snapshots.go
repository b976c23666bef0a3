package engine

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"evalgo.org/fastvm/internal/diskimg"
	"evalgo.org/fastvm/internal/registry"
	"evalgo.org/fastvm/internal/vmerr"
	"evalgo.org/fastvm/models"
)

// CreateSnapshot captures the primary disk of a stopped VM into a
// standalone image.
func (e *Engine) CreateSnapshot(ctx context.Context, vmID string, req *models.SnapshotCreate) (*models.Snapshot, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var snap *models.Snapshot
	_, err := e.reg.Update(ctx, vmID, func(tx *registry.Txn) error {
		vm := tx.VM()
		if vm.IsRunning() {
			return vmerr.Conflict("vm %s must be stopped to take a snapshot", vmID)
		}
		for _, s := range e.reg.ListSnapshots(vmID) {
			if strings.EqualFold(s.Name, req.Name) {
				return vmerr.Conflict("vm %s already has a snapshot named %q", vmID, req.Name)
			}
		}

		id := models.NewID()
		snap = &models.Snapshot{
			ID:          id,
			VMID:        vmID,
			Name:        req.Name,
			Description: req.Description,
			CreatedAt:   time.Now().UTC(),
			Path:        e.alloc.SnapshotPath(vmID, id),
		}
		if err := e.images.Convert(ctx, vm.DiskPath, snap.Path); err != nil {
			return err
		}
		tx.AddSnapshot(snap)
		return nil
	})
	if err != nil {
		if snap != nil {
			diskimg.Remove(snap.Path)
		}
		return nil, err
	}
	e.log.WithFields(logrus.Fields{"vm": vmID, "snapshot": snap.ID, "name": snap.Name}).Info("snapshot created")
	return snap, nil
}

// ListSnapshots returns the snapshots of a VM, including those kept after
// the VM was deleted.
func (e *Engine) ListSnapshots(vmID string) []*models.Snapshot {
	out := e.reg.ListSnapshots(vmID)
	if out == nil {
		return []*models.Snapshot{}
	}
	return out
}

// RestoreSnapshot overwrites the primary disk of a stopped VM with the
// snapshot. The previous disk state is lost.
func (e *Engine) RestoreSnapshot(ctx context.Context, vmID, snapID string) (*models.VM, error) {
	vm, err := e.reg.Update(ctx, vmID, func(tx *registry.Txn) error {
		vm := tx.VM()
		if vm.IsRunning() {
			return vmerr.Conflict("vm %s must be stopped to restore a snapshot", vmID)
		}
		snap, err := e.reg.GetSnapshot(vmID, snapID)
		if err != nil {
			return err
		}
		if _, err := os.Stat(snap.Path); err != nil {
			return vmerr.Wrap(vmerr.KindInternal, err, "snapshot image %s is missing", snapID)
		}
		if err := e.images.Convert(ctx, snap.Path, vm.DiskPath); err != nil {
			return err
		}
		// the restored disk is standalone
		vm.BaseImage = ""
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.pruneImages()
	e.log.WithFields(logrus.Fields{"vm": vmID, "snapshot": snapID}).Info("snapshot restored")
	return vm, nil
}

// DeleteSnapshot removes a snapshot and its image. It works for snapshots
// whose VM is already gone.
func (e *Engine) DeleteSnapshot(ctx context.Context, vmID, snapID string) error {
	snap, err := e.reg.DeleteSnapshot(ctx, vmID, snapID)
	if err != nil {
		return err
	}
	if err := diskimg.Remove(snap.Path); err != nil {
		e.log.WithError(err).WithField("snapshot", snapID).Warn("failed to remove snapshot image")
	}
	return nil
}

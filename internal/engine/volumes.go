package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"evalgo.org/fastvm/internal/diskimg"
	"evalgo.org/fastvm/internal/registry"
	"evalgo.org/fastvm/internal/vmerr"
	"evalgo.org/fastvm/models"
)

// CreateVolume creates a detached volume and its backing file.
func (e *Engine) CreateVolume(ctx context.Context, req *models.VolumeCreate) (*models.Volume, error) {
	if req.Format == "" {
		req.Format = models.FormatQcow2
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id := models.NewID()
	vol := &models.Volume{
		ID:        id,
		Name:      req.Name,
		SizeGB:    req.SizeGB,
		Format:    req.Format,
		Path:      e.alloc.VolumePath(id, req.Format),
		CreatedAt: time.Now().UTC(),
	}
	if err := e.images.Create(ctx, vol.Path, string(vol.Format), vol.SizeGB); err != nil {
		return nil, err
	}
	created, err := e.reg.CreateVolume(vol)
	if err != nil {
		diskimg.Remove(vol.Path)
		return nil, err
	}
	e.log.WithFields(logrus.Fields{"volume": id, "name": vol.Name, "size_gb": vol.SizeGB}).Info("volume created")
	return created, nil
}

func (e *Engine) GetVolume(id string) (*models.Volume, error) {
	return e.reg.GetVolume(id)
}

func (e *Engine) ListVolumes() []*models.Volume {
	return e.reg.ListVolumes()
}

// DeleteVolume removes a detached volume and its file.
func (e *Engine) DeleteVolume(id string) error {
	vol, err := e.reg.DeleteVolume(id)
	if err != nil {
		return err
	}
	if err := diskimg.Remove(vol.Path); err != nil {
		e.log.WithError(err).WithField("volume", id).Warn("failed to remove volume file")
	}
	e.log.WithField("volume", id).Info("volume deleted")
	return nil
}

// AttachVolume attaches a detached volume to a stopped VM.
func (e *Engine) AttachVolume(ctx context.Context, vmID, volID string) (*models.VM, error) {
	return e.reg.Update(ctx, vmID, func(tx *registry.Txn) error {
		if tx.VM().IsRunning() {
			return vmerr.Conflict("vm %s must be stopped to attach volumes", vmID)
		}
		return tx.AttachVolume(volID)
	})
}

// DetachVolume detaches a volume from a stopped VM.
func (e *Engine) DetachVolume(ctx context.Context, vmID, volID string) (*models.VM, error) {
	return e.reg.Update(ctx, vmID, func(tx *registry.Txn) error {
		if tx.VM().IsRunning() {
			return vmerr.Conflict("vm %s must be stopped to detach volumes", vmID)
		}
		return tx.DetachVolume(volID)
	})
}

package allocator

import (
	"crypto/rand"
	"fmt"
	"net"
	"strings"
	"time"

	"evalgo.org/fastvm/internal/vmerr"
	"evalgo.org/fastvm/models"
)

// macPrefix is the locally administered QEMU/KVM OUI.
const macPrefix = "52:54:00"

const macAttempts = 64

// GenerateMAC returns an address with the 52:54:00 prefix that is not in
// taken. Keys of taken are lower-case addresses.
func GenerateMAC(taken map[string]string) (string, error) {
	buf := make([]byte, 3)
	for i := 0; i < macAttempts; i++ {
		if _, err := rand.Read(buf); err != nil {
			return "", vmerr.Wrap(vmerr.KindInternal, err, "read random bytes")
		}
		mac := fmt.Sprintf("%s:%02x:%02x:%02x", macPrefix, buf[0], buf[1], buf[2])
		if _, used := taken[mac]; !used {
			return mac, nil
		}
	}
	return "", vmerr.New(vmerr.KindResourceExhausted, "no unused hardware address after %d attempts", macAttempts)
}

// AssignMACs gives every interface without an address a fresh one and
// rejects addresses already used elsewhere, including by another interface
// of owner. taken may list owner's current addresses; they stay usable.
// New addresses are added to taken.
func AssignMACs(networks []models.Network, owner string, taken map[string]string) error {
	seen := make(map[string]bool, len(networks))
	for i := range networks {
		mac := normalizeMAC(networks[i].MAC)
		if mac != "" {
			if seen[mac] {
				return vmerr.Conflict("hardware address %s is given to two interfaces", mac)
			}
			if other, used := taken[mac]; used && other != owner {
				return vmerr.Conflict("hardware address %s is used by vm %s", mac, other)
			}
			seen[mac] = true
			networks[i].MAC = mac
			taken[mac] = owner
			continue
		}
		fresh, err := GenerateMAC(taken)
		if err != nil {
			return err
		}
		seen[fresh] = true
		networks[i].MAC = fresh
		taken[fresh] = owner
	}
	return nil
}

func normalizeMAC(mac string) string {
	if hw, err := net.ParseMAC(mac); err == nil {
		return hw.String()
	}
	return strings.ToLower(mac)
}

// NewVM builds the record for a create request. The request must already be
// validated and defaulted.
func (a *Allocator) NewVM(req *models.VMCreate, taken map[string]string) (*models.VM, error) {
	id := models.NewID()
	networks := make([]models.Network, len(req.Networks))
	for i, n := range req.Networks {
		networks[i] = n.Copy()
	}
	if err := AssignMACs(networks, id, taken); err != nil {
		return nil, err
	}
	ts := time.Now().UTC()
	return &models.VM{
		ID:               id,
		Name:             req.Name,
		MemoryMB:         req.MemoryMB,
		VCPUs:            req.VCPUs,
		DiskSizeGB:       req.DiskSizeGB,
		CPUModel:         req.CPUModel,
		Display:          req.Display,
		OSType:           req.OSType,
		ISOPath:          req.ISOPath,
		SecondaryISOPath: req.SecondaryISOPath,
		Networks:         networks,
		BootOrder:        append([]models.BootDevice(nil), req.BootOrder...),
		Volumes:          []string{},
		DiskPath:         a.DiskPath(id),
		Status:           models.StatusStopped,
		CreatedAt:        ts,
		UpdatedAt:        ts,
	}, nil
}

// DeriveClone builds the record of a copy of src. Every interface gets a
// fresh address, never one of src's. Volumes stay with src; the disk and
// base image are filled in by the caller once the copy-on-write layer exists.
func (a *Allocator) DeriveClone(src *models.VM, req *models.VMClone, taken map[string]string) (*models.VM, error) {
	id := models.NewID()
	networks := make([]models.Network, len(src.Networks))
	for i, n := range src.Networks {
		networks[i] = n.Copy()
		networks[i].MAC = ""
	}
	if err := AssignMACs(networks, id, taken); err != nil {
		return nil, err
	}

	clone := src.Copy()
	clone.ID = id
	clone.Name = req.Name
	clone.Networks = networks
	clone.Volumes = []string{}
	clone.DiskPath = a.DiskPath(id)
	clone.BaseImage = ""
	clone.Status = models.StatusStopped
	clone.Runtime = nil
	if req.MemoryMB != nil {
		clone.MemoryMB = *req.MemoryMB
	}
	if req.VCPUs != nil {
		clone.VCPUs = *req.VCPUs
	}
	ts := time.Now().UTC()
	clone.CreatedAt = ts
	clone.UpdatedAt = ts
	return clone, nil
}

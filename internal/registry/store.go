package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"evalgo.org/fastvm/models"
)

const (
	vmsFile       = "vms.json"
	volumesFile   = "volumes.json"
	snapshotsFile = "snapshots.json"
	imagesFile    = "images.json"
)

// catalog is the serialized form of every record set, each keyed by id.
type catalog struct {
	VMs       map[string]*models.VM
	Volumes   map[string]*models.Volume
	Snapshots map[string]*models.Snapshot
	Images    map[string]*models.BaseImage
}

type encodedCatalog map[string][]byte

func loadCatalog(dir string) (*catalog, error) {
	c := &catalog{
		VMs:       map[string]*models.VM{},
		Volumes:   map[string]*models.Volume{},
		Snapshots: map[string]*models.Snapshot{},
		Images:    map[string]*models.BaseImage{},
	}
	files := []struct {
		name string
		dst  interface{}
	}{
		{vmsFile, &c.VMs},
		{volumesFile, &c.Volumes},
		{snapshotsFile, &c.Snapshots},
		{imagesFile, &c.Images},
	}
	for _, f := range files {
		if err := readJSON(filepath.Join(dir, f.name), f.dst); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func readJSON(path string, dst interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read catalog: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse catalog %s: %w", filepath.Base(path), err)
	}
	return nil
}

// encode marshals every record set. It runs under the catalog lock so the
// files always describe one committed state.
func (c *catalog) encode() (encodedCatalog, error) {
	out := encodedCatalog{}
	sets := map[string]interface{}{
		vmsFile:       c.VMs,
		volumesFile:   c.Volumes,
		snapshotsFile: c.Snapshots,
		imagesFile:    c.Images,
	}
	for name, set := range sets {
		data, err := json.MarshalIndent(set, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", name, err)
		}
		out[name] = data
	}
	return out, nil
}

func (e encodedCatalog) write(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create catalog directory: %w", err)
	}
	for name, data := range e {
		if err := writeAtomic(filepath.Join(dir, name), data); err != nil {
			return err
		}
	}
	return nil
}

// writeAtomic replaces path through a temporary file and a rename.
func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

package integrity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"evalgo.org/fastvm/internal/config"
	"evalgo.org/fastvm/internal/diskimg"
	"evalgo.org/fastvm/internal/logging"
	"evalgo.org/fastvm/models"
)

// Catalog is the read side of the VM registry.
type Catalog interface {
	List() []*models.VM
	ListVolumes() []*models.Volume
	Snapshots() []*models.Snapshot
	Images() []*models.BaseImage
}

// Inspector reads image headers.
type Inspector interface {
	Info(ctx context.Context, path string) (*diskimg.Info, error)
}

// Service scans a catalog and its storage directories.
type Service struct {
	cat     Catalog
	storage config.StorageConfig
	log     *logrus.Entry

	// MinOrphanAge keeps files younger than this out of the orphan check,
	// so an image written just before its record is committed is not
	// reported.
	MinOrphanAge time.Duration

	// Images, when set, follows the backing chain of every disk and base
	// image that exists on disk.
	Images Inspector

	now func() time.Time
}

// NewService creates a Service over cat and the directories of storage.
func NewService(cat Catalog, storage config.StorageConfig) *Service {
	return &Service{
		cat:          cat,
		storage:      storage,
		log:          logging.For("integrity"),
		MinOrphanAge: 10 * time.Minute,
		now:          time.Now,
	}
}

// scan is the state of one Scan call.
type scan struct {
	now    time.Time
	issues []Issue

	// owned holds every path a record refers to
	owned map[string]bool
}

func (sc *scan) add(issue Issue) {
	issue.ID = uuid.New().String()
	issue.DetectedAt = sc.now
	sc.issues = append(sc.issues, issue)
}

// Scan checks every record and storage directory. It only reads.
func (s *Service) Scan(ctx context.Context) (*ScanReport, error) {
	start := s.now()
	vms := s.cat.List()
	volumes := s.cat.ListVolumes()
	snapshots := s.cat.Snapshots()
	images := s.cat.Images()

	sc := &scan{now: start, owned: make(map[string]bool)}
	s.checkVMs(sc, vms, volumes, images)
	s.checkVolumes(sc, vms, volumes)
	s.checkSnapshots(sc, snapshots)
	s.checkImages(sc, images)
	if s.Images != nil {
		s.checkChains(ctx, sc, vms, images)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.checkOrphans(sc); err != nil {
		return nil, err
	}

	report := &ScanReport{
		ID:               uuid.New().String(),
		Timestamp:        start,
		ResourcesScanned: len(vms) + len(volumes) + len(snapshots) + len(images),
		IssuesFound:      sc.issues,
		Summary: ScanSummary{
			TotalIssues: len(sc.issues),
			ByType:      make(map[IssueType]int),
			BySeverity:  make(map[Severity]int),
		},
	}
	if report.IssuesFound == nil {
		report.IssuesFound = []Issue{}
	}
	for _, issue := range report.IssuesFound {
		report.Summary.ByType[issue.Type]++
		report.Summary.BySeverity[issue.Severity]++
	}
	report.Summary.HealthScore = healthScore(report.Summary.BySeverity)
	report.Duration = s.now().Sub(start)

	s.log.WithFields(logrus.Fields{
		"scan":      report.ID,
		"issues":    report.Summary.TotalIssues,
		"resources": report.ResourcesScanned,
	}).Info("integrity scan completed")
	return report, nil
}

func (s *Service) checkVMs(sc *scan, vms []*models.VM, volumes []*models.Volume, images []*models.BaseImage) {
	volByID := make(map[string]*models.Volume, len(volumes))
	for _, v := range volumes {
		volByID[v.ID] = v
	}
	imageIDs := make(map[string]bool, len(images))
	for _, img := range images {
		imageIDs[img.ID] = true
	}

	macs := make(map[string]string)
	ports := make(map[int]string)

	for _, vm := range vms {
		sc.owned[filepath.Join(s.storage.VMsDir, vm.ID)] = true
		sc.owned[filepath.Join(s.storage.LogsDir, vm.ID+".log")] = true

		if !exists(vm.DiskPath) {
			sc.add(Issue{
				Type:         IssueTypeMissingFile,
				Severity:     SeverityHigh,
				ResourceType: "vm",
				ResourceID:   vm.ID,
				Path:         vm.DiskPath,
				Description:  fmt.Sprintf("disk image of vm %s is missing", vm.Name),
			})
		}

		if vm.BaseImage != "" && !imageIDs[vm.BaseImage] {
			sc.add(Issue{
				Type:         IssueTypeInvalidReference,
				Severity:     SeverityHigh,
				ResourceType: "vm",
				ResourceID:   vm.ID,
				Description:  fmt.Sprintf("vm %s layers on unknown base image %s", vm.Name, vm.BaseImage),
			})
		}

		for _, volID := range vm.Volumes {
			vol, ok := volByID[volID]
			switch {
			case !ok:
				sc.add(Issue{
					Type:         IssueTypeInvalidReference,
					Severity:     SeverityHigh,
					ResourceType: "vm",
					ResourceID:   vm.ID,
					Description:  fmt.Sprintf("vm %s lists unknown volume %s", vm.Name, volID),
				})
			case vol.AttachedTo == nil || *vol.AttachedTo != vm.ID:
				sc.add(Issue{
					Type:         IssueTypeInvalidReference,
					Severity:     SeverityMedium,
					ResourceType: "vm",
					ResourceID:   vm.ID,
					Description:  fmt.Sprintf("vm %s lists volume %s which is not attached to it", vm.Name, volID),
				})
			}
		}

		for _, mac := range vm.MACs() {
			if owner, dup := macs[mac]; dup {
				desc := fmt.Sprintf("mac %s is also used by vm %s", mac, owner)
				if owner == vm.ID {
					desc = fmt.Sprintf("mac %s is used by two interfaces of vm %s", mac, vm.Name)
				}
				sc.add(Issue{
					Type:         IssueTypeDuplicate,
					Severity:     SeverityHigh,
					ResourceType: "vm",
					ResourceID:   vm.ID,
					Description:  desc,
					Details:      map[string]interface{}{"mac": mac, "other_vm": owner},
				})
				continue
			}
			macs[mac] = vm.ID
		}

		if vm.IsRunning() {
			port := vm.Runtime.ConsolePort
			if owner, dup := ports[port]; dup {
				sc.add(Issue{
					Type:         IssueTypeDuplicate,
					Severity:     SeverityHigh,
					ResourceType: "vm",
					ResourceID:   vm.ID,
					Description:  fmt.Sprintf("console port %d is also held by vm %s", port, owner),
					Details:      map[string]interface{}{"port": port, "other_vm": owner},
				})
				continue
			}
			ports[port] = vm.ID
		}
	}
}

func (s *Service) checkVolumes(sc *scan, vms []*models.VM, volumes []*models.Volume) {
	vmByID := make(map[string]*models.VM, len(vms))
	for _, vm := range vms {
		vmByID[vm.ID] = vm
	}

	for _, vol := range volumes {
		sc.owned[vol.Path] = true
		if !exists(vol.Path) {
			sc.add(Issue{
				Type:         IssueTypeMissingFile,
				Severity:     SeverityHigh,
				ResourceType: "volume",
				ResourceID:   vol.ID,
				Path:         vol.Path,
				Description:  fmt.Sprintf("image of volume %s is missing", vol.Name),
			})
		}
		if vol.AttachedTo == nil {
			continue
		}
		vm, ok := vmByID[*vol.AttachedTo]
		if !ok {
			sc.add(Issue{
				Type:         IssueTypeInvalidReference,
				Severity:     SeverityMedium,
				ResourceType: "volume",
				ResourceID:   vol.ID,
				Description:  fmt.Sprintf("volume %s is attached to unknown vm %s", vol.Name, *vol.AttachedTo),
			})
			continue
		}
		if !vm.HasVolume(vol.ID) {
			sc.add(Issue{
				Type:         IssueTypeInvalidReference,
				Severity:     SeverityMedium,
				ResourceType: "volume",
				ResourceID:   vol.ID,
				Description:  fmt.Sprintf("volume %s claims vm %s which does not list it", vol.Name, vm.Name),
			})
		}
	}
}

func (s *Service) checkSnapshots(sc *scan, snapshots []*models.Snapshot) {
	for _, snap := range snapshots {
		sc.owned[snap.Path] = true
		if !exists(snap.Path) {
			sc.add(Issue{
				Type:         IssueTypeMissingFile,
				Severity:     SeverityMedium,
				ResourceType: "snapshot",
				ResourceID:   snap.ID,
				Path:         snap.Path,
				Description:  fmt.Sprintf("image of snapshot %s is missing", snap.Name),
				Details:      map[string]interface{}{"vm_id": snap.VMID},
			})
		}
	}
}

func (s *Service) checkImages(sc *scan, images []*models.BaseImage) {
	ids := make(map[string]bool, len(images))
	for _, img := range images {
		ids[img.ID] = true
	}
	for _, img := range images {
		sc.owned[img.Path] = true
		if !exists(img.Path) {
			sc.add(Issue{
				Type:         IssueTypeMissingFile,
				Severity:     SeverityHigh,
				ResourceType: "image",
				ResourceID:   img.ID,
				Path:         img.Path,
				Description:  fmt.Sprintf("base image %s is missing", img.ID),
			})
		}
		if img.Backing != "" && !ids[img.Backing] {
			sc.add(Issue{
				Type:         IssueTypeInvalidReference,
				Severity:     SeverityHigh,
				ResourceType: "image",
				ResourceID:   img.ID,
				Description:  fmt.Sprintf("base image %s layers on unknown image %s", img.ID, img.Backing),
			})
		}
	}
}

// checkChains inspects every image file present on disk and reports the
// ones the image tool cannot read or whose backing file is missing.
func (s *Service) checkChains(ctx context.Context, sc *scan, vms []*models.VM, images []*models.BaseImage) {
	type target struct {
		kind, id, path string
	}
	var targets []target
	for _, vm := range vms {
		targets = append(targets, target{"vm", vm.ID, vm.DiskPath})
	}
	for _, img := range images {
		targets = append(targets, target{"image", img.ID, img.Path})
	}

	for _, t := range targets {
		if ctx.Err() != nil {
			return
		}
		if !exists(t.path) {
			continue
		}
		info, err := s.Images.Info(ctx, t.path)
		if err != nil {
			sc.add(Issue{
				Type:         IssueTypeBrokenChain,
				Severity:     SeverityMedium,
				ResourceType: t.kind,
				ResourceID:   t.id,
				Path:         t.path,
				Description:  fmt.Sprintf("image of %s %s cannot be inspected", t.kind, t.id),
				Details:      map[string]interface{}{"error": err.Error()},
			})
			continue
		}
		backing := info.BackingFilename
		if backing == "" {
			continue
		}
		if !filepath.IsAbs(backing) {
			backing = filepath.Join(filepath.Dir(t.path), backing)
		}
		if !exists(backing) {
			sc.add(Issue{
				Type:         IssueTypeBrokenChain,
				Severity:     SeverityHigh,
				ResourceType: t.kind,
				ResourceID:   t.id,
				Path:         t.path,
				Description:  fmt.Sprintf("backing file %s of %s %s is missing", backing, t.kind, t.id),
				Details:      map[string]interface{}{"backing": backing},
			})
		}
	}
}

// checkOrphans reports entries of the storage directories that no record
// owns. VM directories are compared as a whole, the others per file.
func (s *Service) checkOrphans(sc *scan) error {
	var candidates []string
	for _, dir := range []string{s.storage.VMsDir, s.storage.VolumesDir, s.storage.ImagesDir, s.storage.LogsDir} {
		entries, err := readDir(dir)
		if err != nil {
			return err
		}
		candidates = append(candidates, entries...)
	}

	// snapshots live in one directory per VM
	snapDirs, err := readDir(s.storage.SnapshotsDir)
	if err != nil {
		return err
	}
	for _, dir := range snapDirs {
		entries, err := readDir(dir)
		if err != nil {
			return err
		}
		candidates = append(candidates, entries...)
	}

	sort.Strings(candidates)
	for _, path := range candidates {
		if sc.owned[path] {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if sc.now.Sub(info.ModTime()) < s.MinOrphanAge {
			continue
		}
		sc.add(Issue{
			Type:         IssueTypeOrphaned,
			Severity:     SeverityLow,
			ResourceType: "file",
			Path:         path,
			Description:  fmt.Sprintf("%s is not referenced by any record", filepath.Base(path)),
			Details:      map[string]interface{}{"size_bytes": info.Size(), "dir": info.IsDir()},
			Repairable:   true,
		})
	}
	return nil
}

// readDir returns the full paths of the entries of dir. A missing
// directory has no entries.
func readDir(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}

func exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// healthScore computes a 0-100 score from the issue counts.
func healthScore(bySeverity map[Severity]int) int {
	score := 100
	score -= bySeverity[SeverityHigh] * 10
	score -= bySeverity[SeverityMedium] * 3
	score -= bySeverity[SeverityLow]
	if score < 0 {
		score = 0
	}
	return score
}

package integrity

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

// Repair removes the orphaned files found by report. Other issues are
// counted as skipped, as are files a record has claimed since the scan.
// With dryRun nothing is deleted and Removed lists what
// would be.
func (s *Service) Repair(ctx context.Context, report *ScanReport, dryRun bool) (*RepairResult, error) {
	start := s.now()
	result := &RepairResult{
		ScanID:    report.ID,
		StartTime: start,
		DryRun:    dryRun,
		Removed:   []string{},
		Failed:    make(map[string]string),
	}

	// a fresh view of what the catalog owns now
	current, err := s.Scan(ctx)
	if err != nil {
		return nil, err
	}
	stillOrphaned := make(map[string]bool)
	for _, issue := range current.IssuesFound {
		if issue.Type == IssueTypeOrphaned {
			stillOrphaned[issue.Path] = true
		}
	}

	for _, issue := range report.IssuesFound {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !issue.Repairable || issue.Type != IssueTypeOrphaned {
			result.Skipped++
			continue
		}
		if !stillOrphaned[issue.Path] {
			result.Skipped++
			continue
		}
		if dryRun {
			result.Removed = append(result.Removed, issue.Path)
			continue
		}
		if err := os.RemoveAll(issue.Path); err != nil {
			result.Failed[issue.Path] = err.Error()
			continue
		}
		result.Removed = append(result.Removed, issue.Path)
	}

	result.Duration = s.now().Sub(start)
	s.log.WithFields(logrus.Fields{
		"scan":    report.ID,
		"removed": len(result.Removed),
		"failed":  len(result.Failed),
		"dry_run": dryRun,
	}).Info("integrity repair completed")
	return result, nil
}

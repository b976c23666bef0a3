package engine

import (
	"context"

	"github.com/sirupsen/logrus"

	"evalgo.org/fastvm/internal/integrity"
	"evalgo.org/fastvm/internal/scheduler"
)

// ScanIntegrity audits the catalog against the storage directories.
func (e *Engine) ScanIntegrity(ctx context.Context) (*integrity.ScanReport, error) {
	return e.audit.Scan(ctx)
}

// RepairIntegrity scans and removes the orphaned files found. The scan is
// returned with the result so callers can show what was left for review.
func (e *Engine) RepairIntegrity(ctx context.Context, dryRun bool) (*integrity.ScanReport, *integrity.RepairResult, error) {
	report, err := e.audit.Scan(ctx)
	if err != nil {
		return nil, nil, err
	}
	result, err := e.audit.Repair(ctx, report, dryRun)
	if err != nil {
		return nil, nil, err
	}
	return report, result, nil
}

// MaintenanceJobs reports the background jobs and their last runs.
func (e *Engine) MaintenanceJobs() []scheduler.JobStatus {
	return e.sched.Status()
}

func (e *Engine) scheduleMaintenance() error {
	m := e.cfg.Maintenance
	if m.IntegrityInterval <= 0 {
		return nil
	}
	return e.sched.Add(scheduler.Job{
		Name:     "integrity-scan",
		Interval: m.IntegrityInterval,
		Run: func(ctx context.Context) error {
			return e.periodicAudit(ctx, m.AutoRepair)
		},
	})
}

func (e *Engine) periodicAudit(ctx context.Context, repair bool) error {
	report, err := e.audit.Scan(ctx)
	if err != nil {
		return err
	}

	log := e.log.WithFields(logrus.Fields{
		"scan":         report.ID,
		"issues":       report.Summary.TotalIssues,
		"health_score": report.Summary.HealthScore,
	})
	if report.Summary.TotalIssues == 0 {
		log.Debug("integrity scan clean")
		return nil
	}
	log.Warn("integrity scan found issues")

	if !repair {
		return nil
	}
	result, err := e.audit.Repair(ctx, report, false)
	if err != nil {
		return err
	}
	e.log.WithFields(logrus.Fields{
		"scan":    report.ID,
		"removed": len(result.Removed),
		"failed":  len(result.Failed),
		"skipped": result.Skipped,
	}).Info("orphaned files repaired")
	return nil
}

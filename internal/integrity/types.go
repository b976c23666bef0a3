// Package integrity audits the VM catalog against the image files on disk.
//
// A scan detects missing disk, volume, snapshot and base image files,
// broken references between records, duplicate hardware addresses and
// console ports, and files in the storage directories no record owns. Only
// orphaned files are repaired automatically; everything else is reported for
// manual review.
package integrity

import (
	"time"
)

// IssueType represents the type of integrity issue detected.
type IssueType string

const (
	// IssueTypeMissingFile is a record whose image file is gone
	IssueTypeMissingFile IssueType = "missing_file"

	// IssueTypeInvalidReference is a record pointing at a missing or
	// disagreeing record
	IssueTypeInvalidReference IssueType = "invalid_reference"

	// IssueTypeDuplicate is a MAC address or console port held twice
	IssueTypeDuplicate IssueType = "duplicate"

	// IssueTypeOrphaned is a file in a storage directory that no record owns
	IssueTypeOrphaned IssueType = "orphaned"

	// IssueTypeBrokenChain is an image that cannot be read or whose backing
	// file is gone
	IssueTypeBrokenChain IssueType = "broken_chain"
)

// Severity represents how critical an issue is.
type Severity string

const (
	// SeverityLow wastes disk space but affects no VM
	SeverityLow Severity = "low"

	// SeverityMedium may make an operation fail
	SeverityMedium Severity = "medium"

	// SeverityHigh keeps a VM from starting or breaks its network
	SeverityHigh Severity = "high"
)

// ScanReport contains the results of an integrity scan.
type ScanReport struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`

	// ResourcesScanned counts the VM, volume, snapshot and image records
	ResourcesScanned int `json:"resources_scanned"`

	IssuesFound []Issue     `json:"issues_found"`
	Summary     ScanSummary `json:"summary"`
}

// ScanSummary provides aggregated scan statistics.
type ScanSummary struct {
	TotalIssues int               `json:"total_issues"`
	ByType      map[IssueType]int `json:"by_type"`
	BySeverity  map[Severity]int  `json:"by_severity"`

	// HealthScore is 100 for a clean catalog and drops with every issue
	HealthScore int `json:"health_score"`
}

// Issue represents a single integrity problem.
type Issue struct {
	ID       string    `json:"id"`
	Type     IssueType `json:"type"`
	Severity Severity  `json:"severity"`

	// ResourceType is vm, volume, snapshot, image or file
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id,omitempty"`
	Path         string `json:"path,omitempty"`

	Description string                 `json:"description"`
	Details     map[string]interface{} `json:"details,omitempty"`
	DetectedAt  time.Time              `json:"detected_at"`

	// Repairable issues are fixed by Repair
	Repairable bool `json:"repairable"`
}

// RepairResult contains the outcome of a repair run.
type RepairResult struct {
	ScanID    string        `json:"scan_id"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	DryRun    bool          `json:"dry_run"`

	// Removed lists the paths deleted, or that would be deleted on a dry run
	Removed []string `json:"removed"`

	// Failed maps a path to the reason it could not be removed
	Failed map[string]string `json:"failed,omitempty"`

	// Skipped counts issues left for manual review
	Skipped int `json:"skipped"`
}

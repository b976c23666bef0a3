package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"evalgo.org/fastvm/internal/api"
	"evalgo.org/fastvm/internal/integrity"
)

var (
	integrityURL    string
	integrityDryRun bool
	integrityJSON   bool
)

var integrityCmd = &cobra.Command{
	Use:   "integrity",
	Short: "Audit the VM catalog against the storage directories",
	Long: `Audit the catalog of a running server.

scan reports missing images, broken references, duplicate addresses and
orphaned files. repair removes orphaned files; everything else is left for
manual review.`,
}

var integrityScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the catalog for integrity issues",
	RunE:  runIntegrityScan,
}

var integrityRepairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Remove orphaned files",
	RunE:  runIntegrityRepair,
}

func init() {
	integrityCmd.PersistentFlags().StringVar(&integrityURL, "url", "", "API server URL (default: from server config)")
	integrityCmd.PersistentFlags().BoolVar(&integrityJSON, "json", false, "print the raw JSON report")
	integrityRepairCmd.Flags().BoolVar(&integrityDryRun, "dry-run", false, "list what would be removed without removing it")

	integrityCmd.AddCommand(integrityScanCmd)
	integrityCmd.AddCommand(integrityRepairCmd)
	rootCmd.AddCommand(integrityCmd)
}

func integrityBase() string {
	if integrityURL != "" {
		return integrityURL
	}
	return serverURL()
}

func runIntegrityScan(cmd *cobra.Command, args []string) error {
	var report integrity.ScanReport
	if err := callAPI(http.MethodGet, integrityBase()+"/api/v1/integrity/scan", &report); err != nil {
		return err
	}
	if integrityJSON {
		return printJSON(cmd.OutOrStdout(), report)
	}
	printReport(cmd.OutOrStdout(), &report)
	return nil
}

func runIntegrityRepair(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/api/v1/integrity/repair?dry_run=%t", integrityBase(), integrityDryRun)

	var resp api.IntegrityRepairResponse
	if err := callAPI(http.MethodPost, url, &resp); err != nil {
		return err
	}
	if integrityJSON {
		return printJSON(cmd.OutOrStdout(), resp)
	}

	out := cmd.OutOrStdout()
	verb := "Removed"
	if resp.Repair.DryRun {
		verb = "Would remove"
	}
	fmt.Fprintf(out, "%s %d orphaned file(s)\n", verb, len(resp.Repair.Removed))
	for _, path := range resp.Repair.Removed {
		fmt.Fprintf(out, "  - %s\n", path)
	}
	for path, reason := range resp.Repair.Failed {
		fmt.Fprintf(out, "  ✗ %s: %s\n", path, reason)
	}
	if resp.Repair.Skipped > 0 {
		fmt.Fprintf(out, "%d issue(s) need manual review (run 'fastvm integrity scan')\n", resp.Repair.Skipped)
	}
	if len(resp.Repair.Failed) > 0 {
		return fmt.Errorf("%d file(s) could not be removed", len(resp.Repair.Failed))
	}
	return nil
}

func printReport(w io.Writer, report *integrity.ScanReport) {
	fmt.Fprintf(w, "Scanned %d resources in %s\n", report.ResourcesScanned, report.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Health score: %d/100\n", report.Summary.HealthScore)
	if report.Summary.TotalIssues == 0 {
		fmt.Fprintln(w, "✓ No issues found")
		return
	}

	issues := append([]integrity.Issue(nil), report.IssuesFound...)
	rank := map[integrity.Severity]int{integrity.SeverityHigh: 0, integrity.SeverityMedium: 1, integrity.SeverityLow: 2}
	sort.SliceStable(issues, func(i, j int) bool { return rank[issues[i].Severity] < rank[issues[j].Severity] })

	fmt.Fprintf(w, "Found %d issue(s):\n", report.Summary.TotalIssues)
	for _, issue := range issues {
		fmt.Fprintf(w, "  [%s] %s: %s\n", issue.Severity, issue.Type, issue.Description)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// callAPI sends a body-less request and decodes the JSON answer into out.
func callAPI(method, url string, out interface{}) error {
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr api.APIError
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s: %s", resp.Status, apiErr.Message)
		}
		return fmt.Errorf("request failed: %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"evalgo.org/fastvm/internal/validation"
)

var validateRemote string

var validateCmd = &cobra.Command{
	Use:   "validate [file...]",
	Short: "Validate VM descriptor files",
	Long: `Validate VM descriptors written in YAML or JSON.

Defaults are applied before checking, exactly as on create.

Examples:
  fastvm validate web.yaml
  fastvm validate web.yaml db.json
  fastvm validate web.yaml --remote http://127.0.0.1:8000`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateRemote, "remote", "", "validate through the API server at this URL")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	failed := 0

	for _, filename := range args {
		data, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}

		var result *validation.ValidationResult
		if validateRemote != "" {
			result, err = remoteValidation(validateRemote, data)
			if err != nil {
				return err
			}
		} else {
			result = validation.New().Validate(data)
		}

		printResult(out, filename, result)
		if !result.Valid {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d descriptors failed validation", failed, len(args))
	}
	return nil
}

func printResult(w io.Writer, filename string, result *validation.ValidationResult) {
	if result.Valid {
		fmt.Fprintf(w, "✓ %s is valid\n", filename)
	} else {
		fmt.Fprintf(w, "✗ %s failed validation:\n", filename)
	}
	for _, e := range result.Errors {
		if e.Value != nil {
			fmt.Fprintf(w, "  - %s: %s (value: %v)\n", e.Field, e.Message, e.Value)
		} else {
			fmt.Fprintf(w, "  - %s: %s\n", e.Field, e.Message)
		}
	}
	for _, e := range result.Warnings {
		fmt.Fprintf(w, "  ! %s: %s\n", e.Field, e.Message)
	}
}

// remoteValidation posts the descriptor to the validate endpoint.
func remoteValidation(baseURL string, data []byte) (*validation.ValidationResult, error) {
	contentType := "application/yaml"
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		contentType = "application/json"
	}

	resp, err := http.Post(baseURL+"/api/v1/validate/vm", contentType, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadRequest {
		return nil, fmt.Errorf("validate request failed: %s", resp.Status)
	}

	var result validation.ValidationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if !result.Valid && len(result.Errors) == 0 {
		return nil, errors.New("server rejected the request")
	}
	return &result, nil
}

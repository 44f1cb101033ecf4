package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pandaura/pandaura/internal/st"
)

var validateVendor string

var validateCmd = &cobra.Command{
	Use:   "validate <file.st> [file.st...]",
	Short: "Check ST source files for compile errors",
	Long: `Compile each file and report errors with line and column positions.
Advisory findings (emergency-system references, oversized programs,
unfinished-work markers) are reported as warnings and do not fail the
check.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVar(&validateVendor, "vendor", "", "vendor flavour (rockwell, siemens, beckhoff)")
}

// fileReport is the per-file JSON output of validate.
type fileReport struct {
	File       string     `json:"file"`
	IsValid    bool       `json:"isValid"`
	Issues     []st.Issue `json:"issues,omitempty"`
	Advisories []st.Issue `json:"advisories,omitempty"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	reports := make([]fileReport, 0, len(args))
	failed := 0

	for _, path := range args {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		result := st.Validate(string(content), validateVendor)
		report := fileReport{
			File:       path,
			IsValid:    result.IsValid,
			Issues:     result.Issues,
			Advisories: st.Advisories(string(content)),
		}
		reports = append(reports, report)
		if !result.IsValid {
			failed++
		}
	}

	if cfg.Output.JSON {
		out, err := json.MarshalIndent(reports, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	} else {
		for _, r := range reports {
			if r.IsValid {
				printSuccess(r.File)
			} else {
				printError(r.File)
			}
			for _, issue := range r.Issues {
				printSubtle(fmt.Sprintf("  %d:%d %s", issue.Line, issue.Column, issue.Message))
			}
			for _, adv := range r.Advisories {
				printWarning("  " + adv.Message)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed validation", failed, len(args))
	}
	return nil
}

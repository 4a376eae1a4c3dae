package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lakeloader/internal/common"
	"lakeloader/internal/config"
	"lakeloader/internal/ui"
	"lakeloader/internal/validate"
)

var (
	validateTable  string
	validateSource string
	validateTarget string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Compare a source extract against loaded target rows",
	Long: "Runs the post-load checks for one table: row counts, keyed " +
		"checksums, schema conformance and nulls in critical columns. Both " +
		"inputs are newline-delimited JSON extracts.",
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateTable, "table", "", "registered table to validate")
	validateCmd.Flags().StringVar(&validateSource, "source-file", "", "NDJSON extract from the source system")
	validateCmd.Flags().StringVar(&validateTarget, "target-file", "", "NDJSON extract from the gold table")
	_ = validateCmd.MarkFlagRequired("table")
	_ = validateCmd.MarkFlagRequired("source-file")
	_ = validateCmd.MarkFlagRequired("target-file")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		ui.ShowError(err)
		return err
	}

	reg, err := buildRegistry(cmd.Context(), cfg)
	if err != nil {
		ui.ShowError(err)
		return err
	}

	desc, err := reg.Describe(validateTable)
	if err != nil {
		ui.ShowError(err)
		return err
	}

	source, err := readExtract(validateSource)
	if err != nil {
		ui.ShowError(err)
		return err
	}
	target, err := readExtract(validateTarget)
	if err != nil {
		ui.ShowError(err)
		return err
	}

	report := validate.NewValidator(desc, nil).Run(source, target)
	fmt.Println(report.Render())

	if !report.Passed() {
		ui.ShowWarning(fmt.Sprintf("%d checks failed", report.FailedCount()))
		os.Exit(1)
	}
	ui.ShowSuccess("all checks passed")
	return nil
}

func readExtract(path string) ([]map[string]interface{}, error) {
	cleaned, err := common.CleanPath(path)
	if err != nil {
		return nil, fmt.Errorf("invalid extract path: %w", err)
	}

	f, err := os.Open(cleaned) // #nosec G304 - path is validated
	if err != nil {
		return nil, fmt.Errorf("failed to open extract: %w", err)
	}
	defer f.Close()

	var rows []map[string]interface{}
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var row map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
			return nil, fmt.Errorf("malformed extract line %d in %s: %w", line, path, err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed reading extract: %w", err)
	}
	return rows, nil
}

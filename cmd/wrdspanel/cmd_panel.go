package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"wrdspanel/internal/config"
	"wrdspanel/internal/diagnostics"
	"wrdspanel/internal/exporter"
	"wrdspanel/internal/frame"
	"wrdspanel/internal/operations"
	"wrdspanel/internal/validation"
)

// Columns kept as text when a panel is read back from CSV.
var identifierColumns = []string{"gvkey", "cusip", "cusip8", "tic", "cik", "conm", "datacqtr", "datafqtr", "year_quarter"}

func readPanel(v *validation.FileValidator, path string, keys ...string) (*frame.Frame, error) {
	format, err := v.ValidatePanelFile(path)
	if err != nil {
		return nil, err
	}
	if format == validation.FormatBinary {
		return exporter.ReadBinary(path)
	}
	return frame.ReadCSVFile(path, frame.ReadOptions{
		StringColumns: append(append([]string{}, identifierColumns...), keys...),
	})
}

func quietValidator(cmd *cobra.Command) *validation.FileValidator {
	return validation.NewFileValidator(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn})))
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	var input, unitID, timeID, output string
	var threshold float64
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a panel for balance, duplicates and coverage",
		Long: `Reads a panel from CSV or a binary snapshot and reports panel
balance, duplicate unit-time keys, columns with too much missing data and
known data issues. With --output the report is also written as JSON
(.json) or text (any other extension).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := quietValidator(cmd)
			if output != "" {
				if err := v.ValidateOutputPath(output); err != nil {
					return err
				}
			}
			f, err := readPanel(v, input, unitID, timeID)
			if err != nil {
				return err
			}
			var vopts diagnostics.Options
			if cmd.Flags().Changed("threshold") {
				vopts = diagnostics.Threshold(threshold)
			} else if cfg, err := config.Load(opts.configFile); err == nil {
				vopts = diagnostics.Threshold(cfg.Pipeline.CoverageThreshold)
			}
			report, err := diagnostics.ValidatePanel(f, unitID, timeID, vopts)
			if err != nil {
				return err
			}
			if err := diagnostics.WriteText(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if output == "" {
				return nil
			}
			return writeReport(output, report)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "panel file (.csv or .gob)")
	cmd.Flags().StringVar(&unitID, "unit-id", operations.PanelUnitID, "panel unit column")
	cmd.Flags().StringVar(&timeID, "time-id", operations.PanelTimeID, "panel time column")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "missing-data threshold in [0, 1); 0 flags any missing value (default from config)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "also write the report here")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func writeReport(path string, report *diagnostics.Report) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		err = enc.Encode(report)
	} else {
		err = diagnostics.WriteText(out, report)
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

func newCoverageCmd() *cobra.Command {
	var input, output, xlsx, caption string
	cmd := &cobra.Command{
		Use:   "coverage",
		Short: "Write the variable coverage table as LaTeX",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := quietValidator(cmd)
			for _, out := range []string{output, xlsx} {
				if out == "" {
					continue
				}
				if err := v.ValidateOutputPath(out); err != nil {
					return err
				}
			}
			f, err := readPanel(v, input)
			if err != nil {
				return err
			}
			rows := diagnostics.CoverageTable(f)
			if err := os.WriteFile(output, []byte(diagnostics.FormatLaTeX(rows, caption)), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d variables)\n", output, len(rows))

			if xlsx == "" {
				return nil
			}
			if err := exporter.WriteExcel(xlsx, exporter.Sheet{Name: "Coverage", Frame: coverageFrame(rows)}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", xlsx)
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "panel file (.csv or .gob)")
	cmd.Flags().StringVarP(&output, "output", "o", "coverage_table.tex", "LaTeX output file")
	cmd.Flags().StringVar(&xlsx, "xlsx", "", "also write the table to this Excel workbook")
	cmd.Flags().StringVar(&caption, "caption", "Variable Coverage", "table caption")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func coverageFrame(rows []diagnostics.CoverageRow) *frame.Frame {
	names := make([]string, len(rows))
	obs := make([]float64, len(rows))
	nonMissing := make([]float64, len(rows))
	pct := make([]float64, len(rows))
	for i, r := range rows {
		names[i] = r.Variable
		obs[i] = float64(r.Obs)
		nonMissing[i] = float64(r.NonMissing)
		pct[i] = r.Pct
	}
	return frame.MustNew(
		frame.NewString("variable", names),
		frame.NewFloat("obs", obs),
		frame.NewFloat("non_missing", nonMissing),
		frame.NewFloat("pct", pct),
	)
}

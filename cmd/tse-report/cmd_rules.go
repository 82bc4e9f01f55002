package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tse-report-engine/internal/rules"
)

var rulesFlags struct {
	sheet string
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and convert default result rule tables",
}

var rulesExportCmd = &cobra.Command{
	Use:   "export <source> <out.xlsx>",
	Short: "Write a rule table as an xlsx workbook",
	Long: "Export reads a rule table from a .yaml or .xlsx file and writes it\n" +
		"to a workbook in the layout the engine loads.",
	Args: cobra.ExactArgs(2),
	RunE: runRulesExport,
}

func init() {
	rulesExportCmd.Flags().StringVar(&rulesFlags.sheet, "sheet", "Rules", "worksheet name of the workbook")
	rulesCmd.AddCommand(rulesExportCmd)
}

func runRulesExport(cmd *cobra.Command, args []string) error {
	table, err := rules.LoadFile(args[0], "")
	if err != nil {
		return err
	}

	out, err := os.Create(args[1])
	if err != nil {
		return fmt.Errorf("creating %s: %w", args[1], err)
	}
	if err := rules.WriteXLSX(out, rulesFlags.sheet, table); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", args[1], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d rules written to %s\n", len(table), args[1])
	return nil
}

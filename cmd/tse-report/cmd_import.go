package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tse-report-engine/internal/domain"
)

var importCmd = &cobra.Command{
	Use:   "import <dataset.json>",
	Short: "Import a collection system dataset as a new report",
	Long:  "Import reads a dataset (metadata and flat rows) from a JSON file,\nor from stdin when the file is -, and rebuilds its report tree.",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	dataset, err := readDataset(cmd, args[0])
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.services.Importer.ImportDataset(cmd.Context(), dataset)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func readDataset(cmd *cobra.Command, path string) (*domain.Dataset, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open dataset: %w", err)
		}
		defer f.Close()
		r = f
	}

	var dataset domain.Dataset
	if err := json.NewDecoder(r).Decode(&dataset); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	if dataset.SenderDatasetID == "" {
		return nil, fmt.Errorf("dataset %s has no senderDatasetId", path)
	}
	return &dataset, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package rules

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/tse-report-engine/internal/domain"
)

var aims = []domain.TestAim{
	domain.AimScreening,
	domain.AimConfirmatory,
	domain.AimDiscriminatory,
	domain.AimGenotyping,
}

// LoadFile reads the reference table from an .xlsx or .yaml file, picking
// the format from the extension.
func LoadFile(path, sheet string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule table %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return LoadXLSX(bytes.NewReader(data), sheet)
	case ".yaml", ".yml":
		return LoadYAML(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("unsupported rule table format %q", filepath.Ext(path))
	}
}

// LoadXLSX reads the rules from a worksheet whose first row names the
// columns. An empty sheet name selects the first sheet.
func LoadXLSX(r io.Reader, sheet string) (Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rule workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	if sheet == "" {
		return nil, fmt.Errorf("rule workbook has no sheets")
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows of sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return Table{}, nil
	}

	headerMap := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		headerMap[strings.TrimSpace(h)] = i
	}
	cell := func(row []string, header string) string {
		idx, ok := headerMap[header]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	table := make(Table, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) == 0 {
			continue
		}
		rule := Rule{
			RecordType:           cell(row, HeaderRecordType),
			Source:               cell(row, HeaderSource),
			ConfirmatoryExecuted: cell(row, HeaderConfirmatory),
			SampEventAsses:       cell(row, HeaderSampEvent),
			Codes:                make(map[domain.TestAim]string, len(aims)),
		}
		for _, aim := range aims {
			if code := cell(row, string(aim)); code != "" {
				rule.Codes[aim] = code
			}
		}
		table = append(table, rule)
	}
	return table, nil
}

type yamlTable struct {
	Rules []Rule `yaml:"rules"`
}

// LoadYAML reads the rules from a YAML document with a top-level rules list.
func LoadYAML(r io.Reader) (Table, error) {
	var doc yamlTable
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return Table{}, nil
		}
		return nil, fmt.Errorf("failed to decode rule table: %w", err)
	}
	return Table(doc.Rules), nil
}

// WriteXLSX writes the table to a workbook laid out the way LoadXLSX reads it.
func WriteXLSX(w io.Writer, sheet string, table Table) error {
	f := excelize.NewFile()
	defer f.Close()

	if sheet == "" {
		sheet = "Sheet1"
	}
	index, err := f.NewSheet(sheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if sheet != "Sheet1" {
		if err := f.DeleteSheet("Sheet1"); err != nil {
			return fmt.Errorf("failed to delete default sheet: %w", err)
		}
	}

	headers := []string{HeaderRecordType, HeaderSource, HeaderConfirmatory, HeaderSampEvent}
	for _, aim := range aims {
		headers = append(headers, string(aim))
	}

	set := func(col, row int, value string) error {
		name, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		return f.SetCellValue(sheet, name, value)
	}

	for i, h := range headers {
		if err := set(i+1, 1, h); err != nil {
			return err
		}
	}
	for r, rule := range table {
		values := []string{rule.RecordType, rule.Source, rule.ConfirmatoryExecuted, rule.SampEventAsses}
		for _, aim := range aims {
			values = append(values, rule.Code(aim))
		}
		for c, v := range values {
			if err := set(c+1, r+2, v); err != nil {
				return err
			}
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

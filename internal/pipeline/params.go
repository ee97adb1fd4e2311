package pipeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// ParamTable is a table-like parameter set driving branch expansion.
// Column order is preserved; every row holds one value per column.
type ParamTable struct {
	Columns []string
	Rows    []map[string]any
}

// NewParamTable builds a table from explicit columns and rows.
// Rows missing a column get nil for it; unknown row keys are an error.
func NewParamTable(columns []string, rows []map[string]any) (*ParamTable, error) {
	colSet := make(map[string]bool, len(columns))
	for _, c := range columns {
		if c == "" {
			return nil, fmt.Errorf("param table: empty column name")
		}
		if colSet[c] {
			return nil, fmt.Errorf("param table: duplicate column %q", c)
		}
		colSet[c] = true
	}

	for i, row := range rows {
		for k := range row {
			if !colSet[k] {
				return nil, fmt.Errorf("param table: row %d has unknown column %q", i, k)
			}
		}
	}

	return &ParamTable{Columns: columns, Rows: rows}, nil
}

// LoadParamCSV reads a parameter table from a CSV file. The first
// record is the header; all values are strings.
func LoadParamCSV(path string) (*ParamTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open param table: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("param table %s is empty", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read param table header: %w", err)
	}

	var rows []map[string]any
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read param table row: %w", err)
		}
		row := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}

	return NewParamTable(header, rows)
}

// Len returns the number of rows.
func (t *ParamTable) Len() int {
	return len(t.Rows)
}

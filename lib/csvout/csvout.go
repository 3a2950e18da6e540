// Package csvout saves measured series as CSV: a row of column names, a
// row of units, then one row per sample.
package csvout

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/multierr"
)

type Column struct {
	Name   string
	Unit   string
	Values []float64
}

// Write writes the columns to w. All columns must have the same length.
func Write(w io.Writer, cols ...Column) error {
	if len(cols) == 0 {
		return fmt.Errorf("no columns")
	}
	n := len(cols[0].Values)
	names := make([]string, len(cols))
	units := make([]string, len(cols))
	for i, c := range cols {
		if len(c.Values) != n {
			return fmt.Errorf("column %s has %d values, want %d", c.Name, len(c.Values), n)
		}
		names[i], units[i] = c.Name, c.Unit
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(names); err != nil {
		return err
	}
	if err := cw.Write(units); err != nil {
		return err
	}
	row := make([]string, len(cols))
	for j := 0; j < n; j++ {
		for i, c := range cols {
			row[i] = strconv.FormatFloat(c.Values[j], 'g', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Save writes the columns to dir/name.csv, creating dir if needed, and
// returns the path of the file.
func Save(dir, name string, cols ...Column) (path string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path = filepath.Join(dir, name+".csv")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer func() { err = multierr.Append(err, f.Close()) }()
	return path, Write(f, cols...)
}

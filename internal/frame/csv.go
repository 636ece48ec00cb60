package frame

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WriteCSV writes the frame as comma-separated values with a header row.
// Null cells are written as empty fields. A row made of one empty field is
// written as "" so readers do not take it for a blank line.
func WriteCSV(w io.Writer, f *Frame) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(f.Columns()); err != nil {
		return fmt.Errorf("frame: write header: %w", err)
	}
	record := make([]string, f.Width())
	for i := 0; i < f.Len(); i++ {
		for j, n := range f.names {
			record[j] = f.cols[n][i].Text()
		}
		if len(record) == 1 && record[0] == "" {
			cw.Flush()
			if err := cw.Error(); err != nil {
				return fmt.Errorf("frame: write row %d: %w", i, err)
			}
			if _, err := io.WriteString(w, "\"\"\n"); err != nil {
				return fmt.Errorf("frame: write row %d: %w", i, err)
			}
			continue
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("frame: write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads a frame written by WriteCSV. A column whose non-empty fields
// all parse as numbers becomes numeric; everything else stays as strings.
// Empty fields are null.
func ReadCSV(r io.Reader) (*Frame, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("frame: read csv: %w", err)
	}
	if len(records) == 0 {
		return New(), nil
	}
	header := records[0]
	body := records[1:]

	out := New()
	for j, name := range header {
		raw := make([]string, len(body))
		for i, rec := range body {
			if j < len(rec) {
				raw[i] = rec[j]
			}
		}
		if err := out.AddColumn(uniqueName(out, name), inferColumn(raw)); err != nil {
			return nil, err
		}
	}
	if len(header) == 0 {
		return out, nil
	}
	out.rows = len(body)
	return out, nil
}

// inferColumn converts raw fields to cells, choosing numeric cells only when
// every non-empty field parses.
func inferColumn(raw []string) []Cell {
	numeric := true
	for _, s := range raw {
		if s == "" {
			continue
		}
		if _, err := strconv.ParseFloat(s, 64); err != nil || isSpecialFloat(s) {
			numeric = false
			break
		}
	}
	cells := make([]Cell, len(raw))
	for i, s := range raw {
		switch {
		case s == "":
			cells[i] = Null()
		case numeric:
			v, _ := strconv.ParseFloat(s, 64)
			cells[i] = Num(v)
		default:
			cells[i] = Str(s)
		}
	}
	return cells
}

// isSpecialFloat rejects words strconv accepts but that are text in a table,
// like "Infinity" or "nan".
func isSpecialFloat(s string) bool {
	l := strings.ToLower(strings.TrimLeft(s, "+-"))
	return strings.HasPrefix(l, "inf") || l == "nan"
}

func uniqueName(f *Frame, name string) string {
	if !f.Has(name) {
		return name
	}
	for k := 1; ; k++ {
		n := fmt.Sprintf("%s.%d", name, k)
		if !f.Has(n) {
			return n
		}
	}
}

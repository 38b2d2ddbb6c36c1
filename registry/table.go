package registry

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// Table is an in-memory tabular export with rows addressable by the named
// columns of the source header. Column lookup is exact-match on the header
// text after whitespace trimming.
type Table struct {
	header []string
	index  map[string]int
	rows   [][]string
}

// ParseTable reads delimited text into a Table. The first record is the
// header; a missing or empty header is a parse failure. Short rows are padded
// so column access never panics.
func ParseTable(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("table header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
		header[i] = h
		if h != "" {
			index[h] = i
		}
	}
	if len(index) == 0 {
		return nil, fmt.Errorf("table header: no named columns")
	}

	var rows [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("table row %d: %w", len(rows)+1, err)
		}
		if len(rec) < len(header) {
			padded := make([]string, len(header))
			copy(padded, rec)
			rec = padded
		}
		rows = append(rows, rec)
	}
	return &Table{header: header, index: index, rows: rows}, nil
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.rows) }

// HasColumn reports whether the header names col.
func (t *Table) HasColumn(col string) bool {
	_, ok := t.index[col]
	return ok
}

// Columns returns the header in source order.
func (t *Table) Columns() []string { return t.header }

// Row returns a named-column view of row i.
func (t *Table) Row(i int) Row { return Row{t: t, i: i} }

// WriteCSV re-serializes the table, header first. Used for the advisory
// raw-export cache.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.header); err != nil {
		return err
	}
	for _, rec := range t.rows {
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Row is one table row addressed by column name.
type Row struct {
	t *Table
	i int
}

// Get returns the trimmed cell under col, or "" when the column does not
// exist or the row is short.
func (r Row) Get(col string) string {
	idx, ok := r.t.index[col]
	if !ok {
		return ""
	}
	rec := r.t.rows[r.i]
	if idx >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[idx])
}

// Has reports whether the row carries a non-empty value under col.
func (r Row) Has(col string) bool { return r.Get(col) != "" }

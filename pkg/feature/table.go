package feature

import "fmt"

// Table is a data table argument. The first row is the header.
type Table struct {
	Header []string
	Rows   [][]string
}

// NewTable builds a table from a header row and data rows.
func NewTable(header []string, rows ...[]string) *Table {
	return &Table{Header: header, Rows: rows}
}

// RowCount returns the number of data rows.
func (t *Table) RowCount() int {
	return len(t.Rows)
}

// Row returns data row i keyed by header.
func (t *Table) Row(i int) map[string]string {
	row := make(map[string]string, len(t.Header))
	for c, h := range t.Header {
		if c < len(t.Rows[i]) {
			row[h] = t.Rows[i][c]
		}
	}
	return row
}

// Column returns every value of the named column.
func (t *Table) Column(name string) ([]string, error) {
	idx := -1
	for i, h := range t.Header {
		if h == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("table has no column %q", name)
	}
	values := make([]string, 0, len(t.Rows))
	for _, r := range t.Rows {
		if idx < len(r) {
			values = append(values, r[idx])
		} else {
			values = append(values, "")
		}
	}
	return values, nil
}

// Validate checks that every row has as many cells as the header.
func (t *Table) Validate() error {
	if len(t.Header) == 0 {
		return fmt.Errorf("table has no header row")
	}
	for i, r := range t.Rows {
		if len(r) != len(t.Header) {
			return fmt.Errorf("table row %d has %d cells, header has %d", i+1, len(r), len(t.Header))
		}
	}
	return nil
}

// DocString is a multi-line string argument.
type DocString struct {
	Content   string
	MediaType string
}

// String returns the content.
func (d DocString) String() string {
	return d.Content
}

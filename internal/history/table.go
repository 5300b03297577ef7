package history

import (
	"database/sql"
	"slices"
)

// DateColumn is the key column of every history table.
const DateColumn = "Date"

// ColumnFor returns the column an identifier's AUM is stored under.
func ColumnFor(identifier string) string {
	return "AUM_" + identifier
}

// Row is a single day of observations, values are keyed by column name.
type Row struct {
	Date   string
	Values map[string]sql.NullFloat64
}

// NewRow creates an empty row for the given date.
func NewRow(date string) Row {
	return Row{Date: date, Values: map[string]sql.NullFloat64{}}
}

// Value returns the value of `column`, missing columns are treated as missing values.
func (r Row) Value(column string) sql.NullFloat64 {
	return r.Values[column]
}

// Table is an in-memory history table, Columns does not include DateColumn.
type Table struct {
	Columns []string
	Rows    []Row
}

// LastValue returns the last non-missing value of `column` in row order.
func (t Table) LastValue(column string) sql.NullFloat64 {
	for i := len(t.Rows) - 1; i >= 0; i-- {
		value := t.Rows[i].Value(column)
		if value.Valid {
			return value
		}
	}
	return sql.NullFloat64{}
}

// Append adds `row` to the table, columns unknown to the table are appended to
// Columns in the order they are given, then rows are deduplicated by date.
func (t *Table) Append(row Row, columns []string) {
	for _, column := range columns {
		if !slices.Contains(t.Columns, column) {
			t.Columns = append(t.Columns, column)
		}
	}
	t.Rows = append(t.Rows, row)
	t.Rows = Dedup(t.Rows)
}

// Dedup keeps one row per date, the later occurrence of a date wins and takes
// the position of that later occurrence.
func Dedup(rows []Row) []Row {
	last := make(map[string]int, len(rows))
	for i, row := range rows {
		last[row.Date] = i
	}
	out := make([]Row, 0, len(last))
	for i, row := range rows {
		if last[row.Date] == i {
			out = append(out, row)
		}
	}
	return out
}

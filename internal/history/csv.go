package history

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"aumtracker/internal/components/assert"
	"aumtracker/internal/components/telemetry"
)

const (
	report_csv_parse_cell = "csv.parse-cell"
	report_csv_write      = "csv.write"
)

// cells that are read back as missing values
var missingCells = []string{"", "N/A", "NA", "NaN", "nan"}

// CSVStore keeps the history in a single csv file which is rewritten as a whole on
// every append. It is not safe to use from multiple processes at once.
type CSVStore struct {
	path string
	tel  telemetry.API
}

func NewCSVStore(path string, tel telemetry.API) CSVStore {
	assert.NotEmptyStr(path)
	assert.NotNil(tel)
	return CSVStore{
		path: path,
		tel:  telemetry.NewScopedAPI("history", tel),
	}
}

func (s CSVStore) Path() string {
	return s.path
}

func (s CSVStore) LastValue(ctx context.Context, column string) (sql.NullFloat64, error) {
	table, err := s.Table(ctx)
	if err != nil {
		return sql.NullFloat64{}, err
	}
	return table.LastValue(column), nil
}

func (s CSVStore) Append(ctx context.Context, row Row, columns []string) error {
	table, err := s.Table(ctx)
	if err != nil {
		return err
	}
	table.Append(row, columns)
	err = s.write(table)
	if err != nil {
		s.tel.ReportBroken(report_csv_write, err, s.path)
		return err
	}
	return nil
}

// Table reads the file, a nonexistent or empty file is an empty table.
func (s CSVStore) Table(ctx context.Context) (Table, error) {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return Table{}, nil
	}
	if err != nil {
		return Table{}, err
	}
	defer f.Close()

	return s.read(f)
}

func (s CSVStore) read(r io.Reader) (Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return Table{}, nil
	}
	if err != nil {
		return Table{}, fmt.Errorf("read header of %s: %w", s.path, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	dateIdx := slices.Index(header, DateColumn)
	if dateIdx < 0 {
		return Table{}, fmt.Errorf("%s has no %s column", s.path, DateColumn)
	}

	table := Table{}
	for i, column := range header {
		if i != dateIdx {
			table.Columns = append(table.Columns, column)
		}
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("read %s: %w", s.path, err)
		}
		if dateIdx >= len(record) || strings.TrimSpace(record[dateIdx]) == "" {
			continue
		}

		row := NewRow(strings.TrimSpace(record[dateIdx]))
		for i, column := range header {
			if i == dateIdx || i >= len(record) {
				continue
			}
			row.Values[column] = s.parseCell(record[i], row.Date, column)
		}
		table.Rows = append(table.Rows, row)
	}

	return table, nil
}

func (s CSVStore) parseCell(cell, date, column string) sql.NullFloat64 {
	cell = strings.TrimSpace(cell)
	if slices.Contains(missingCells, cell) {
		return sql.NullFloat64{}
	}
	value, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		s.tel.ReportWarning(
			report_csv_parse_cell,
			err,
			telemetry.KV{Key: "date", Value: date},
			telemetry.KV{Key: "column", Value: column},
		)
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: value, Valid: true}
}

func formatCell(value sql.NullFloat64) string {
	if !value.Valid {
		return ""
	}
	return strconv.FormatFloat(value.Float64, 'f', -1, 64)
}

// write replaces the file with `table` through a temporary file in the same
// directory so a failed write never leaves a truncated history behind.
func (s CSVStore) write(table Table) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	err = tmp.Chmod(0644)
	if err != nil {
		tmp.Close()
		return err
	}

	writer := csv.NewWriter(tmp)
	err = writer.Write(append([]string{DateColumn}, table.Columns...))
	if err != nil {
		tmp.Close()
		return err
	}
	for _, row := range table.Rows {
		record := make([]string, 0, len(table.Columns)+1)
		record = append(record, row.Date)
		for _, column := range table.Columns {
			record = append(record, formatCell(row.Value(column)))
		}
		err = writer.Write(record)
		if err != nil {
			tmp.Close()
			return err
		}
	}
	writer.Flush()
	err = writer.Error()
	if err != nil {
		tmp.Close()
		return err
	}
	err = tmp.Close()
	if err != nil {
		return err
	}

	return os.Rename(tmp.Name(), s.path)
}

func (s CSVStore) Close() error {
	return nil
}

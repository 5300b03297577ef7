package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"aumtracker/internal/components/assert"
	"aumtracker/internal/components/telemetry"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

const (
	report_db_query = "db.query"
)

// SQLStore keeps the history in sqlite (a local file) or libsql (a remote database).
type SQLStore struct {
	db  *sql.DB
	tel telemetry.API
}

func isRemote(dsn string) bool {
	for _, scheme := range []string{"libsql://", "https://", "http://", "wss://", "ws://"} {
		if strings.HasPrefix(dsn, scheme) {
			return true
		}
	}
	return false
}

// OpenDB opens `dsn` and makes sure the schema exists. `dsn` is either a path to a
// local sqlite file (created if it does not exist), `:memory:` or a libsql url.
func OpenDB(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("a database was not specified")
	}

	var db *sql.DB
	var err error
	if isRemote(dsn) {
		db, err = sql.Open("libsql", dsn)
		if err != nil {
			return nil, err
		}
	} else {
		if dsn != ":memory:" {
			err = os.MkdirAll(filepath.Dir(dsn), 0777)
			if err != nil {
				return nil, err
			}
		}
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		// sqlite does not handle concurrent writers, it also keeps `:memory:`
		// databases alive across calls since there is only ever one connection.
		db.SetMaxOpenConns(1)
		if dsn != ":memory:" {
			_, err = db.Exec("PRAGMA journal_mode=WAL")
			if err != nil {
				db.Close()
				return nil, err
			}
		}
	}

	_, err = db.Exec(Schema)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}

func NewSQLStore(db *sql.DB, tel telemetry.API) SQLStore {
	assert.NotNil(db)
	assert.NotNil(tel)
	return SQLStore{
		db:  db,
		tel: telemetry.NewScopedAPI("history", tel),
	}
}

func (s SQLStore) LastValue(ctx context.Context, column string) (sql.NullFloat64, error) {
	var value sql.NullFloat64
	err := s.db.QueryRowContext(
		ctx,
		`select value from aum_observation
		where column_name = ? and value is not null
		order by seq desc limit 1`,
		column,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return sql.NullFloat64{}, nil
	}
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "LastValue", column)
		return sql.NullFloat64{}, err
	}
	return value, nil
}

func (s SQLStore) Append(ctx context.Context, row Row, columns []string) error {
	ordered := orderedColumns(row, columns)
	if len(ordered) == 0 {
		return fmt.Errorf("append %s: %w", row.Date, ErrNoColumns)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.tel.ReportBroken(report_db_query, fmt.Errorf("make tx: %w", err))
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, "delete from aum_observation where date = ?", row.Date)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "DeleteObservations", row.Date)
		return err
	}

	for _, column := range columns {
		_, err = tx.ExecContext(ctx, "insert or ignore into aum_column (name) values (?)", column)
		if err != nil {
			s.tel.ReportBroken(report_db_query, err, "CreateColumn", column)
			return err
		}
	}

	for _, column := range ordered {
		var value any
		if v := row.Value(column); v.Valid {
			value = v.Float64
		}
		_, err = tx.ExecContext(
			ctx,
			"insert into aum_observation (date, column_name, value) values (?, ?, ?)",
			row.Date, column, value,
		)
		if err != nil {
			s.tel.ReportBroken(report_db_query, err, "CreateObservation", row.Date, column)
			return err
		}
	}

	return tx.Commit()
}

// orderedColumns returns `columns` followed by any column of `row` that is not in it.
func orderedColumns(row Row, columns []string) []string {
	out := append([]string{}, columns...)
	var extra []string
	for c := range row.Values {
		if !slices.Contains(columns, c) {
			extra = append(extra, c)
		}
	}
	slices.Sort(extra)
	return append(out, extra...)
}

func (s SQLStore) columns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "select name from aum_column order by position")
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "GetColumns")
		return nil, err
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		err = rows.Scan(&name)
		if err != nil {
			return nil, err
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

func (s SQLStore) Table(ctx context.Context) (Table, error) {
	columns, err := s.columns(ctx)
	if err != nil {
		return Table{}, err
	}
	table := Table{Columns: columns}

	rows, err := s.db.QueryContext(
		ctx,
		"select date, column_name, value from aum_observation order by seq",
	)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "GetObservations")
		return Table{}, err
	}
	defer rows.Close()

	// all observations of a date are written in one transaction, so they are
	// next to each other when sorted by seq.
	for rows.Next() {
		var date, column string
		var value sql.NullFloat64
		err = rows.Scan(&date, &column, &value)
		if err != nil {
			return Table{}, err
		}
		if len(table.Rows) == 0 || table.Rows[len(table.Rows)-1].Date != date {
			table.Rows = append(table.Rows, NewRow(date))
		}
		table.Rows[len(table.Rows)-1].Values[column] = value
	}
	return table, rows.Err()
}

func (s SQLStore) Close() error {
	return s.db.Close()
}

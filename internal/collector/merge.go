package collector

import (
	"context"
	"database/sql"

	"aumtracker/internal/extract"
	"aumtracker/internal/history"
)

const (
	report_collector_fallback    = "collector.fallback"
	report_collector_read_store  = "collector.read-store"
	report_collector_fallbacks   = "collector.fallbacks"
	report_collector_missing_aum = "collector.missing-aum"
)

// Fallback returns `current` unless it is missing, in which case the last
// observed value is carried forward. Both can be missing.
func Fallback(current, previous sql.NullFloat64) sql.NullFloat64 {
	if current.Valid {
		return current
	}
	return previous
}

// merge builds the row of a run, missing values are replaced with the last
// non-missing value found in the store.
func (c Collector) merge(ctx context.Context, date string, observations []extract.Observation) history.Row {
	row := history.NewRow(date)

	var fallbacks int64
	for _, obs := range observations {
		column := history.ColumnFor(obs.Identifier)
		if obs.AUM.Valid {
			row.Values[column] = obs.AUM
			continue
		}

		previous, err := c.store.LastValue(ctx, column)
		if err != nil {
			c.tel.ReportWarning(report_collector_read_store, err, column)
			previous = sql.NullFloat64{}
		}
		value := Fallback(obs.AUM, previous)
		if value.Valid {
			fallbacks++
			c.tel.ReportWarning(report_collector_fallback, obs.Identifier, value.Float64)
		} else {
			c.tel.ReportWarning(report_collector_missing_aum, obs.Identifier)
		}
		row.Values[column] = value
	}
	c.tel.ReportCount(report_collector_fallbacks, fallbacks)

	return row
}

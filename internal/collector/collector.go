// Package collector runs a single collection: it fetches every identifier's quote
// page, extracts the AUM, fills the gaps from history and appends one row.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"aumtracker/internal/components/assert"
	"aumtracker/internal/components/chrono"
	"aumtracker/internal/components/telemetry"
	"aumtracker/internal/extract"
	"aumtracker/internal/history"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("aumtracker/collector")
var meter = otel.Meter("aumtracker/collector")

const (
	report_collector_open_fetcher = "collector.open-fetcher"
	report_collector_fetch        = "collector.fetch"
	report_collector_date         = "collector.date"
	report_collector_write_store  = "collector.write-store"
	report_collector_run_id       = "collector.run-id"
)

// DateLayout is the layout of the Date column.
const DateLayout = time.DateOnly

// Result is the outcome of a run, Row is what was (or was attempted to be) persisted.
type Result struct {
	RunID        string
	Row          history.Row
	Observations []extract.Observation
}

type Collector struct {
	config      Config
	openFetcher FetcherOpener
	store       history.Store
	extractor   extract.Extractor
	time        chrono.TimeAPI
	tel         telemetry.API
	aumGauge    metric.Float64Gauge
}

func NewCollector(
	config Config,
	openFetcher FetcherOpener,
	store history.Store,
	time chrono.TimeAPI,
	tel telemetry.API,
) (Collector, error) {
	assert.NotNil(openFetcher)
	assert.NotNil(store)
	assert.NotNil(time)
	assert.NotNil(tel)

	err := config.Validate()
	if err != nil {
		return Collector{}, err
	}

	aumGauge, err := meter.Float64Gauge(
		"aum.value",
		metric.WithDescription("The last observed assets under management of an identifier."),
		metric.WithUnit("USD"),
	)
	if err != nil {
		return Collector{}, err
	}

	return Collector{
		config:      config,
		openFetcher: openFetcher,
		store:       store,
		extractor:   extract.NewExtractor(tel),
		time:        time,
		tel:         tel,
		aumGauge:    aumGauge,
	}, nil
}

// Run performs one collection. Per identifier failures are reported and folded
// into the row, the only error returned is a failure to persist the row.
func (c Collector) Run(ctx context.Context) (Result, error) {
	ctx, span := tracer.Start(ctx, "collector:Run")
	defer span.End()

	runID, err := random.String(8)
	if err != nil {
		c.tel.ReportWarning(report_collector_run_id, err)
	}
	span.SetAttributes(attribute.String("run_id", runID))

	// every report of this run carries its id
	c.tel = telemetry.NewAttrsAPI(c.tel, telemetry.KV{Key: "run", Value: runID})
	c.extractor = extract.NewExtractor(c.tel)

	slog.Info("starting AUM scraper", "run", runID, "identifiers", c.config.Identifiers)
	start := time.Now()

	observations := c.fetchAll(ctx)
	date := c.rowDate(observations)
	row := c.merge(ctx, date, observations)

	result := Result{
		RunID:        runID,
		Row:          row,
		Observations: observations,
	}

	err = c.store.Append(ctx, row, c.config.Columns())
	if err != nil {
		err = fmt.Errorf("persist row %s: %w", date, err)
		c.tel.ReportBroken(report_collector_write_store, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist row")
		return result, err
	}

	slog.Info(
		"AUM scraper completed",
		"run", runID,
		"date", date,
		"seconds", time.Since(start).Seconds(),
	)
	return result, nil
}

// fetchAll acquires the fetcher, extracts every identifier sequentially and
// releases the fetcher before returning.
func (c Collector) fetchAll(ctx context.Context) []extract.Observation {
	observations := make([]extract.Observation, len(c.config.Identifiers))

	fetcher, err := c.openFetcher(ctx)
	if err != nil {
		c.tel.ReportBroken(report_collector_open_fetcher, err)
		for i, id := range c.config.Identifiers {
			observations[i] = extract.Failure(id, err)
		}
		return observations
	}
	defer func() {
		err := fetcher.Close()
		if err != nil {
			c.tel.ReportWarning(report_collector_open_fetcher, fmt.Errorf("release: %w", err))
		}
	}()

	for i, id := range c.config.Identifiers {
		observations[i] = c.fetchOne(ctx, fetcher.Fetch, id)
	}
	return observations
}

func (c Collector) fetchOne(
	ctx context.Context,
	fetch func(ctx context.Context, url string) (string, error),
	identifier string,
) extract.Observation {
	ctx, span := tracer.Start(ctx, "collector:fetchOne")
	defer span.End()
	span.SetAttributes(attribute.String("identifier", identifier))

	page, err := fetch(ctx, c.config.PageURL(identifier))
	if err != nil {
		c.tel.ReportBroken(report_collector_fetch, err, identifier)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch page")
		return extract.Failure(identifier, err)
	}

	obs := c.extractor.Extract(identifier, page)
	if obs.Failed() {
		span.RecordError(obs.Err)
		span.SetStatus(codes.Error, "failed to extract page")
	}
	if obs.AUM.Valid {
		c.aumGauge.Record(ctx, obs.AUM.Float64, metric.WithAttributes(
			attribute.String("identifier", identifier),
		))
	}
	return obs
}

// rowDate is the as-of date of the first identifier, or today when it is
// unavailable or cannot be parsed.
func (c Collector) rowDate(observations []extract.Observation) string {
	today := c.time.Now().In(c.time.Location()).Format(DateLayout)
	if len(observations) == 0 || observations[0].AsOf == "" {
		c.tel.ReportDebug("no as-of date, using today", today)
		return today
	}

	asOf, err := extract.ParseAsOf(observations[0].AsOf, c.time.Location())
	if err != nil {
		c.tel.ReportWarning(report_collector_date, err, observations[0].AsOf)
		return today
	}
	return asOf.Format(DateLayout)
}

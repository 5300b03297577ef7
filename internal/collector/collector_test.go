package collector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"aumtracker/internal/browser"
	"aumtracker/internal/components/chrono"
	"aumtracker/internal/components/telemetry"
	"aumtracker/internal/history"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	pages  map[string]string
	errs   map[string]error
	calls  []string
	closed bool
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if f.closed {
		return "", browser.ErrClosed
	}
	f.calls = append(f.calls, url)
	if err, ok := f.errs[url]; ok {
		return "", err
	}
	return f.pages[url], nil
}

func (f *fakeFetcher) Close() error {
	f.closed = true
	return nil
}

func quotePage(aum, asOf string) string {
	return fmt.Sprintf(`<html><body><dl>
		<dt class="ico_data col_aum">%s</dt>
		<dt class="ico_data col_aum_date">%s</dt>
	</dl></body></html>`, aum, asOf)
}

func testConfig(t testing.TB) Config {
	config := DefaultConfig()
	config.UrlTemplate = "https://quotes.test/quote?sym=%s"
	config.History.Path = filepath.Join(t.TempDir(), "aum_data.csv")
	return config
}

func fixedTime(t testing.TB) chrono.FixedTime {
	hk, err := time.LoadLocation("Asia/Hong_Kong")
	require.NoError(t, err)
	return chrono.FixedTime{Time: time.Date(2026, time.October, 18, 10, 0, 0, 0, hk)}
}

func value(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

func opener(f *fakeFetcher) FetcherOpener {
	return func(ctx context.Context) (browser.Fetcher, error) {
		f.closed = false
		return f, nil
	}
}

type harness struct {
	config Config
	store  history.Store
	rec    *telemetry.Recorder
}

func newHarness(t testing.TB) harness {
	config := testConfig(t)
	rec := telemetry.NewRecorder()
	store, err := config.OpenStore(rec)
	require.NoError(t, err)
	return harness{config: config, store: store, rec: rec}
}

func (h harness) run(t testing.TB, open FetcherOpener) (Result, error) {
	c, err := NewCollector(h.config, open, h.store, fixedTime(t), h.rec)
	require.NoError(t, err)
	return c.Run(context.Background())
}

func (h harness) table(t testing.TB) history.Table {
	table, err := h.store.Table(context.Background())
	require.NoError(t, err)
	return table
}

func TestRunEndToEnd(t *testing.T) {
	h := newHarness(t)
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://quotes.test/quote?sym=9008": quotePage("US$123.4M", "as at 17 Oct 2026"),
		"https://quotes.test/quote?sym=9042": quotePage("US$55M", "as at 16 Oct 2026"),
		"https://quotes.test/quote?sym=9439": quotePage("US$0.75M", "as at 17 Oct 2026"),
	}}

	result, err := h.run(t, opener(fetcher))
	require.NoError(t, err)
	require.True(t, fetcher.closed)
	require.Len(t, fetcher.calls, 3)
	require.Len(t, result.RunID, 8)

	expected := history.Table{
		Columns: []string{"AUM_9008", "AUM_9042", "AUM_9439"},
		Rows: []history.Row{{
			Date: "2026-10-17",
			Values: map[string]sql.NullFloat64{
				"AUM_9008": value(123_400_000),
				"AUM_9042": value(55_000_000),
				"AUM_9439": value(750_000),
			},
		}},
	}
	if diff := cmp.Diff(expected, h.table(t)); diff != "" {
		t.Fatalf("unexpected history (-want +got):\n%s", diff)
	}
	require.Empty(t, h.rec.Reports(telemetry.KindBroken))

	// same as-of date again overwrites the row
	fetcher.pages["https://quotes.test/quote?sym=9008"] = quotePage("US$200M", "as at 17 Oct 2026")
	_, err = h.run(t, opener(fetcher))
	require.NoError(t, err)

	table := h.table(t)
	require.Len(t, table.Rows, 1)
	require.Equal(t, value(200_000_000), table.Rows[0].Value("AUM_9008"))
}

func TestRunFallback(t *testing.T) {
	h := newHarness(t)
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://quotes.test/quote?sym=9008": quotePage("US$100M", "as at 16 Oct 2026"),
		"https://quotes.test/quote?sym=9042": quotePage("US$50M", "as at 16 Oct 2026"),
		"https://quotes.test/quote?sym=9439": quotePage("US$1.2B", "as at 16 Oct 2026"),
	}}
	_, err := h.run(t, opener(fetcher))
	require.NoError(t, err)

	fetcher.pages["https://quotes.test/quote?sym=9008"] = quotePage("US$101M", "as at 17 Oct 2026")
	fetcher.errs = map[string]error{
		"https://quotes.test/quote?sym=9042": errors.New("navigation timed out"),
	}
	result, err := h.run(t, opener(fetcher))
	require.NoError(t, err)
	require.True(t, result.Observations[1].Failed())

	expected := []history.Row{
		{
			Date: "2026-10-16",
			Values: map[string]sql.NullFloat64{
				"AUM_9008": value(100_000_000),
				"AUM_9042": value(50_000_000),
				"AUM_9439": {},
			},
		},
		{
			Date: "2026-10-17",
			Values: map[string]sql.NullFloat64{
				"AUM_9008": value(101_000_000),
				"AUM_9042": value(50_000_000),
				"AUM_9439": {},
			},
		},
	}
	if diff := cmp.Diff(expected, h.table(t).Rows); diff != "" {
		t.Fatalf("unexpected rows (-want +got):\n%s", diff)
	}
	require.True(t, h.rec.Has(telemetry.KindBroken, report_collector_fetch))
	require.True(t, h.rec.Has(telemetry.KindWarning, report_collector_fallback))
	require.True(t, h.rec.Has(telemetry.KindWarning, report_collector_missing_aum))
}

func TestRunWithoutFetcher(t *testing.T) {
	h := newHarness(t)
	row := history.NewRow("2026-10-15")
	row.Values["AUM_9008"] = value(42)
	require.NoError(t, h.store.Append(context.Background(), row, h.config.Columns()))

	result, err := h.run(t, func(ctx context.Context) (browser.Fetcher, error) {
		return nil, errors.New("chrome not found")
	})
	require.NoError(t, err)
	require.Equal(t, "2026-10-18", result.Row.Date)
	for _, obs := range result.Observations {
		require.True(t, obs.Failed())
	}

	table := h.table(t)
	require.Len(t, table.Rows, 2)
	require.Equal(t, value(42), table.Rows[1].Value("AUM_9008"))
	require.False(t, table.Rows[1].Value("AUM_9042").Valid)
	require.True(t, h.rec.Has(telemetry.KindBroken, report_collector_open_fetcher))
}

func TestRunUnparseableDate(t *testing.T) {
	h := newHarness(t)
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://quotes.test/quote?sym=9008": quotePage("US$1M", "as at the close"),
	}}

	result, err := h.run(t, opener(fetcher))
	require.NoError(t, err)
	require.Equal(t, "2026-10-18", result.Row.Date)
	require.True(t, h.rec.Has(telemetry.KindWarning, report_collector_date))
}

type brokenStore struct {
	history.Store
}

func (brokenStore) Append(ctx context.Context, row history.Row, columns []string) error {
	return errors.New("disk full")
}

func TestRunPersistFailure(t *testing.T) {
	h := newHarness(t)
	h.store = brokenStore{Store: h.store}
	fetcher := &fakeFetcher{pages: map[string]string{}}

	_, err := h.run(t, opener(fetcher))
	require.ErrorContains(t, err, "disk full")
	require.True(t, fetcher.closed)
	require.True(t, h.rec.Has(telemetry.KindBroken, report_collector_write_store))
}

type unreadableStore struct {
	history.Store
}

func (unreadableStore) LastValue(ctx context.Context, column string) (sql.NullFloat64, error) {
	return sql.NullFloat64{}, errors.New("database is locked")
}

func TestRunFallbackReadFailure(t *testing.T) {
	h := newHarness(t)
	prior := history.NewRow("2026-10-16")
	prior.Values["AUM_9042"] = value(50_000_000)
	require.NoError(t, h.store.Append(context.Background(), prior, h.config.Columns()))
	h.store = unreadableStore{Store: h.store}

	fetcher := &fakeFetcher{
		pages: map[string]string{
			"https://quotes.test/quote?sym=9008": quotePage("US$101M", "as at 17 Oct 2026"),
			"https://quotes.test/quote?sym=9439": quotePage("US$2M", "as at 17 Oct 2026"),
		},
		errs: map[string]error{
			"https://quotes.test/quote?sym=9042": errors.New("navigation timed out"),
		},
	}
	result, err := h.run(t, opener(fetcher))
	require.NoError(t, err)
	require.False(t, result.Row.Value("AUM_9042").Valid)

	rows := h.table(t).Rows
	require.Len(t, rows, 2)
	require.Equal(t, "2026-10-17", rows[1].Date)
	require.Equal(t, value(101_000_000), rows[1].Value("AUM_9008"))
	require.False(t, rows[1].Value("AUM_9042").Valid)
	require.Equal(t, value(2_000_000), rows[1].Value("AUM_9439"))

	require.True(t, h.rec.Has(telemetry.KindWarning, report_collector_read_store))
	require.False(t, h.rec.Has(telemetry.KindWarning, report_collector_fallback))
}

func TestRunReportsCarryRunID(t *testing.T) {
	h := newHarness(t)
	fetcher := &fakeFetcher{
		pages: map[string]string{
			"https://quotes.test/quote?sym=9008": quotePage("US$1M", "as at 17 Oct 2026"),
			"https://quotes.test/quote?sym=9439": "<html></html>",
		},
		errs: map[string]error{
			"https://quotes.test/quote?sym=9042": errors.New("navigation timed out"),
		},
	}
	result, err := h.run(t, opener(fetcher))
	require.NoError(t, err)

	runAttr := telemetry.KV{Key: "run", Value: result.RunID}
	reports := append(h.rec.Reports(telemetry.KindBroken), h.rec.Reports(telemetry.KindWarning)...)
	require.NotEmpty(t, reports)
	for _, report := range reports {
		require.Contains(t, report.Params, runAttr, report.ID)
	}
}

func TestFallback(t *testing.T) {
	require.Equal(t, value(1), Fallback(value(1), value(2)))
	require.Equal(t, value(2), Fallback(sql.NullFloat64{}, value(2)))
	require.False(t, Fallback(sql.NullFloat64{}, sql.NullFloat64{}).Valid)
}

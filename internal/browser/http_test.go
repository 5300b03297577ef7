package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"aumtracker/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

const quotePage = `<html><body>
<dt class="ico_data col_aum">US$123.4M</dt>
<dt class="ico_data col_aum_date">as at 17 Oct 2026</dt>
</body></html>`

func TestHttpFetcher(t *testing.T) {
	var userAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("user-agent")
		if r.URL.Query().Get("sym") != "9008" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("content-type", "text/html")
		w.Write([]byte(quotePage))
	}))
	defer server.Close()

	rec := telemetry.NewRecorder()
	fetcher, err := NewHttpFetcher(HttpOptions{UserAgent: "aumtracker-test"}, rec)
	require.NoError(t, err)
	defer fetcher.Close()

	page, err := fetcher.Fetch(context.Background(), server.URL+"/quote?sym=9008")
	require.NoError(t, err)
	require.Equal(t, quotePage, page)
	require.Equal(t, "aumtracker-test", userAgent)
	require.True(t, rec.Has(telemetry.KindDebug, "resty.response"))

	_, err = fetcher.Fetch(context.Background(), server.URL+"/quote?sym=0000")
	require.Error(t, err)
	require.True(t, rec.Has(telemetry.KindBroken, report_http_fetch))
}

func TestHttpFetcherCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(quotePage))
	}))
	defer server.Close()

	fetcher, err := NewHttpFetcher(HttpOptions{}, telemetry.NewRecorder())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = fetcher.Fetch(ctx, server.URL)
	require.Error(t, err)
}

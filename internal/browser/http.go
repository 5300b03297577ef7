package browser

import (
	"context"
	"fmt"
	"net/http/cookiejar"
	"time"

	"aumtracker/internal/components/assert"
	"aumtracker/internal/components/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	report_http_fetch = "http.fetch"
)

type HttpOptions struct {
	UserAgent string
	// RequestsPerSecond limits how fast pages are requested, 0 uses the default.
	RequestsPerSecond float64
	Timeout           time.Duration
}

// HttpFetcher reads pages that are served pre-rendered.
type HttpFetcher struct {
	http *resty.Client
	tel  telemetry.API
}

func NewHttpFetcher(opts HttpOptions, tel telemetry.API) (HttpFetcher, error) {
	assert.NotNil(tel)
	tel = telemetry.NewScopedAPI("browser", tel)

	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second * 30
	}

	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return HttpFetcher{}, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("user-agent", opts.UserAgent)
	client.SetTimeout(opts.Timeout)

	// max burst >= 1 just means that no requests will be dropped
	burst := max(int(opts.RequestsPerSecond), 1)
	rateLimiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(client, tel)

	return HttpFetcher{http: client, tel: tel}, nil
}

func (f HttpFetcher) Fetch(ctx context.Context, url string) (string, error) {
	res, err := f.http.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return "", fmt.Errorf("get %s: %w", url, err)
	}
	if res.IsError() {
		err = fmt.Errorf("get %s: unexpected status %s", url, res.Status())
		f.tel.ReportBroken(report_http_fetch, err)
		return "", err
	}
	return res.String(), nil
}

func (f HttpFetcher) Close() error {
	return nil
}

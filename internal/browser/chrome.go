package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"aumtracker/internal/components/assert"
	"aumtracker/internal/components/telemetry"

	"github.com/chromedp/chromedp"
)

const (
	report_chrome_start = "chrome.start"
	report_chrome_fetch = "chrome.fetch"
	report_chrome_ready = "chrome.ready"
	report_chrome_close = "chrome.close"
	report_chrome_cdp   = "chrome.cdp"
)

// DefaultReadyWait is how long a page is given to render the ready selector.
const DefaultReadyWait = 5 * time.Second

type ChromeOptions struct {
	// RemoteURL connects to an already running browser (ex. ws://127.0.0.1:9222)
	// instead of launching one.
	RemoteURL string
	// ExecPath overrides the chrome binary that is launched.
	ExecPath   string
	ShowWindow bool
	UserAgent  string
	// Flags are passed to chrome on top of the default flags.
	Flags []string
	// ReadySelector is waited on after navigation, the page is read regardless
	// once ReadyWait has passed.
	ReadySelector string
	ReadyWait     time.Duration
}

// ChromeSession is a single chrome instance, every Fetch opens its own tab.
type ChromeSession struct {
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	opts          ChromeOptions
	tel           telemetry.API

	mutex  sync.Mutex
	closed bool
}

func (o ChromeOptions) allocatorOptions() []chromedp.ExecAllocatorOption {
	allocOpts := append(
		[]chromedp.ExecAllocatorOption{},
		chromedp.DefaultExecAllocatorOptions[:]...,
	)
	allocOpts = append(
		allocOpts,
		chromedp.Flag("headless", !o.ShowWindow),
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if o.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(o.UserAgent))
	}
	if o.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(o.ExecPath))
	}
	for _, flag := range o.Flags {
		allocOpts = append(allocOpts, chromedp.Flag(trimFlag(flag), true))
	}
	return allocOpts
}

func trimFlag(flag string) string {
	for len(flag) > 0 && flag[0] == '-' {
		flag = flag[1:]
	}
	return flag
}

// StartChrome launches (or connects to) chrome, the returned session must be closed.
func StartChrome(ctx context.Context, opts ChromeOptions, tel telemetry.API) (*ChromeSession, error) {
	assert.NotNil(tel)
	tel = telemetry.NewScopedAPI("browser", tel)

	if opts.ReadyWait <= 0 {
		opts.ReadyWait = DefaultReadyWait
	}

	// the browser outlives the ctx of any single call, it is bound to Close instead.
	base := context.WithoutCancel(ctx)

	var allocCtx context.Context
	var cancelAlloc context.CancelFunc
	if opts.RemoteURL != "" {
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(base, opts.RemoteURL)
	} else {
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(base, opts.allocatorOptions()...)
	}
	browserCtx, cancelBrowser := chromedp.NewContext(
		allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			tel.ReportDebug(report_chrome_cdp, fmt.Sprintf(format, args...))
		}),
	)

	// the first Run allocates the browser and must use the chromedp context itself,
	// cancelling a derived context there would take the browser down with it.
	stop := context.AfterFunc(ctx, cancelBrowser)
	err := chromedp.Run(browserCtx)
	interrupted := !stop()
	if err == nil && interrupted {
		err = ctx.Err()
	}
	if err != nil {
		cancelBrowser()
		cancelAlloc()
		err = fmt.Errorf("start chrome: %w", err)
		tel.ReportBroken(report_chrome_start, err)
		return nil, err
	}

	return &ChromeSession{
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
		opts:          opts,
		tel:           tel,
	}, nil
}

func (s *ChromeSession) Fetch(ctx context.Context, url string) (string, error) {
	s.mutex.Lock()
	closed := s.closed
	s.mutex.Unlock()
	if closed {
		return "", ErrClosed
	}

	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	fail := func(err error) (string, error) {
		if ctx.Err() != nil {
			return "", errors.Join(ctx.Err(), err)
		}
		s.tel.ReportBroken(report_chrome_fetch, err)
		return "", err
	}

	err := chromedp.Run(tabCtx, chromedp.Navigate(url))
	if err != nil {
		return fail(fmt.Errorf("navigate to %s: %w", url, err))
	}

	if s.opts.ReadySelector != "" {
		readyCtx, cancelReady := context.WithTimeout(tabCtx, s.opts.ReadyWait)
		err = chromedp.Run(readyCtx, chromedp.WaitReady(s.opts.ReadySelector, chromedp.ByQuery))
		cancelReady()
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if err != nil {
			// the page is still read, the extractor decides what is missing
			s.tel.ReportWarning(report_chrome_ready, err, url, s.opts.ReadySelector)
		}
	}

	var html string
	err = chromedp.Run(tabCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	if err != nil {
		return fail(fmt.Errorf("read html of %s: %w", url, err))
	}
	return html, nil
}

// Close shuts the browser down, it is safe to call more than once.
func (s *ChromeSession) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	err := chromedp.Cancel(s.browserCtx)
	s.cancelBrowser()
	s.cancelAlloc()
	if err != nil && !errors.Is(err, context.Canceled) {
		s.tel.ReportWarning(report_chrome_close, err)
		return err
	}
	return nil
}

// Package browser fetches the rendered html of a page, either through a headless
// chrome session or a plain http client.
package browser

import (
	"context"
	"errors"
)

// ErrClosed is returned by Fetch after the fetcher has been released.
var ErrClosed = errors.New("fetcher is closed")

// Fetcher is a handle on a page fetching session. It is acquired once per run,
// used sequentially and released with Close.
type Fetcher interface {
	// Fetch returns the html of `url` once it has rendered.
	Fetch(ctx context.Context, url string) (string, error)
	Close() error
}

const (
	EngineChrome = "chrome"
	EngineHttp   = "http"
)

// DefaultUserAgent is sent by both engines unless configured otherwise.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

package collector

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"aumtracker/internal/browser"
	"aumtracker/internal/components/configutil"
	"aumtracker/internal/components/telemetry"
	"aumtracker/internal/extract"
	"aumtracker/internal/history"
)

const (
	DriverCSV    = "csv"
	DriverSQLite = "sqlite"
)

type ChromeConfig struct {
	RemoteURL        string   `json:"remote_url"`
	ExecPath         string   `json:"exec_path"`
	ShowWindow       bool     `json:"show_window"`
	UserAgent        string   `json:"user_agent"`
	Flags            []string `json:"flags"`
	ReadyWaitSeconds float64  `json:"ready_wait_seconds"`
}

type HttpConfig struct {
	UserAgent         string  `json:"user_agent"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	TimeoutSeconds    float64 `json:"timeout_seconds"`
}

type HistoryConfig struct {
	// Driver is either "csv" or "sqlite".
	Driver string `json:"driver"`
	// Path is the csv file, or the sqlite file / libsql url.
	Path string `json:"path"`
}

type Config struct {
	Identifiers []string `json:"identifiers"`
	// UrlTemplate is formatted with the identifier, ex. "https://host/quote?sym=%s".
	UrlTemplate string        `json:"url_template"`
	Engine      string        `json:"engine"`
	Chrome      ChromeConfig  `json:"chrome"`
	Http        HttpConfig    `json:"http"`
	History     HistoryConfig `json:"history"`
	Timezone    string        `json:"timezone"`
	// Schedule is a standard 5 field cron expression used by the scheduler.
	Schedule string `json:"schedule"`
	// DumpDir, when set, receives a copy of every fetched page.
	DumpDir string `json:"dump_dir"`
}

const DefaultUrlTemplate = "https://www.hkex.com.hk/Market-Data/Securities-Prices/Exchange-Traded-Products/Exchange-Traded-Products-Quote?sym=%s&sc_lang=en"

func DefaultConfig() Config {
	return Config{
		Identifiers: []string{"9008", "9042", "9439"},
		UrlTemplate: DefaultUrlTemplate,
		Engine:      browser.EngineChrome,
		Chrome: ChromeConfig{
			UserAgent:        browser.DefaultUserAgent,
			ReadyWaitSeconds: browser.DefaultReadyWait.Seconds(),
		},
		Http: HttpConfig{
			UserAgent:         browser.DefaultUserAgent,
			RequestsPerSecond: 2,
			TimeoutSeconds:    30,
		},
		History: HistoryConfig{
			Driver: DriverCSV,
			Path:   "aum_data.csv",
		},
		Timezone: "Asia/Hong_Kong",
		// weekdays after the exchange closes
		Schedule: "30 18 * * 1-5",
	}
}

// LoadConfig reads `path` (and its .local override) over top of DefaultConfig,
// a missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	config, err := configutil.ReadWithDefaults(path, DefaultConfig())
	if err != nil {
		return Config{}, err
	}
	err = config.Validate()
	if err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

func (c Config) Validate() error {
	if len(c.Identifiers) == 0 {
		return fmt.Errorf("no identifiers configured")
	}
	for i, id := range c.Identifiers {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("identifier %d is empty", i)
		}
		if slices.Index(c.Identifiers, id) != i {
			return fmt.Errorf("identifier %s is listed twice", id)
		}
	}
	if strings.Count(c.UrlTemplate, "%s") != 1 {
		return fmt.Errorf("url template must contain exactly one %%s: %q", c.UrlTemplate)
	}
	switch c.Engine {
	case browser.EngineChrome, browser.EngineHttp:
	default:
		return fmt.Errorf("unknown engine %q", c.Engine)
	}
	switch c.History.Driver {
	case DriverCSV, DriverSQLite:
	default:
		return fmt.Errorf("unknown history driver %q", c.History.Driver)
	}
	if c.History.Path == "" {
		return fmt.Errorf("history path is empty")
	}
	return c.validateDumpDir()
}

// validateDumpDir refuses a dump dir that holds the history.
func (c Config) validateDumpDir() error {
	if c.DumpDir == "" || c.History.Path == ":memory:" || strings.Contains(c.History.Path, "://") {
		return nil
	}
	dump, err := filepath.Abs(c.DumpDir)
	if err != nil {
		return err
	}
	hist, err := filepath.Abs(c.History.Path)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(dump, hist)
	if err != nil {
		return nil
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil
	}
	return fmt.Errorf("dump dir %s contains the history %s", c.DumpDir, c.History.Path)
}

// PageURL returns the quote page of `identifier`.
func (c Config) PageURL(identifier string) string {
	return fmt.Sprintf(c.UrlTemplate, identifier)
}

// Columns returns the history columns in identifier order.
func (c Config) Columns() []string {
	columns := make([]string, len(c.Identifiers))
	for i, id := range c.Identifiers {
		columns[i] = history.ColumnFor(id)
	}
	return columns
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// FetcherOpener acquires the fetching session of a single run.
type FetcherOpener func(ctx context.Context) (browser.Fetcher, error)

// NewFetcherOpener returns the opener of the configured engine.
func (c Config) NewFetcherOpener(tel telemetry.API) FetcherOpener {
	open := c.engineOpener(tel)
	if c.DumpDir == "" {
		return open
	}
	return func(ctx context.Context) (browser.Fetcher, error) {
		err := c.validateDumpDir()
		if err != nil {
			return nil, err
		}
		output, err := browser.NewFilesystemOutput(c.DumpDir)
		if err != nil {
			return nil, fmt.Errorf("prepare dump dir: %w", err)
		}
		fetcher, err := open(ctx)
		if err != nil {
			return nil, err
		}
		return browser.WithDump(fetcher, output), nil
	}
}

func (c Config) engineOpener(tel telemetry.API) FetcherOpener {
	switch c.Engine {
	case browser.EngineHttp:
		return func(ctx context.Context) (browser.Fetcher, error) {
			fetcher, err := browser.NewHttpFetcher(browser.HttpOptions{
				UserAgent:         c.Http.UserAgent,
				RequestsPerSecond: c.Http.RequestsPerSecond,
				Timeout:           seconds(c.Http.TimeoutSeconds),
			}, tel)
			if err != nil {
				return nil, err
			}
			return fetcher, nil
		}
	default:
		return func(ctx context.Context) (browser.Fetcher, error) {
			session, err := browser.StartChrome(ctx, browser.ChromeOptions{
				RemoteURL:     c.Chrome.RemoteURL,
				ExecPath:      c.Chrome.ExecPath,
				ShowWindow:    c.Chrome.ShowWindow,
				UserAgent:     c.Chrome.UserAgent,
				Flags:         c.Chrome.Flags,
				ReadySelector: extract.AUMSelector,
				ReadyWait:     seconds(c.Chrome.ReadyWaitSeconds),
			}, tel)
			if err != nil {
				return nil, err
			}
			return session, nil
		}
	}
}

// OpenStore opens the configured history store, it must be closed.
func (c Config) OpenStore(tel telemetry.API) (history.Store, error) {
	switch c.History.Driver {
	case DriverSQLite:
		db, err := history.OpenDB(c.History.Path)
		if err != nil {
			return nil, err
		}
		return history.NewSQLStore(db, tel), nil
	default:
		return history.NewCSVStore(c.History.Path, tel), nil
	}
}

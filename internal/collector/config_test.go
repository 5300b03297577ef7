package collector

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"aumtracker/internal/browser"
	"aumtracker/internal/components/telemetry"
	"aumtracker/internal/history"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig(filepath.Join(t.TempDir(), "config.json5"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), config)
	require.Equal(t, []string{"AUM_9008", "AUM_9042", "AUM_9439"}, config.Columns())
	require.Equal(
		t,
		"https://www.hkex.com.hk/Market-Data/Securities-Prices/Exchange-Traded-Products/Exchange-Traded-Products-Quote?sym=9008&sc_lang=en",
		config.PageURL("9008"),
	)
}

func TestLoadConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "config.json5"), []byte(`{
		// only the engine and the store change
		engine: "http",
		history: { driver: "sqlite", path: "aum.db" },
	}`), 0644)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(dir, "config.local.json5"), []byte(`{
		identifiers: ["9008"],
	}`), 0644)
	require.NoError(t, err)

	config, err := LoadConfig(filepath.Join(dir, "config.json5"))
	require.NoError(t, err)
	require.Equal(t, browser.EngineHttp, config.Engine)
	require.Equal(t, HistoryConfig{Driver: DriverSQLite, Path: "aum.db"}, config.History)
	require.Equal(t, []string{"9008"}, config.Identifiers)
	require.Equal(t, DefaultUrlTemplate, config.UrlTemplate)
	require.Equal(t, "Asia/Hong_Kong", config.Timezone)
}

func TestConfigValidate(t *testing.T) {
	mutations := map[string]func(c *Config){
		"no identifiers":  func(c *Config) { c.Identifiers = nil },
		"duplicate":       func(c *Config) { c.Identifiers = []string{"9008", "9008"} },
		"blank":           func(c *Config) { c.Identifiers = []string{" "} },
		"template":        func(c *Config) { c.UrlTemplate = "https://quotes.test/" },
		"engine":          func(c *Config) { c.Engine = "firefox" },
		"driver":          func(c *Config) { c.History.Driver = "parquet" },
		"no history path": func(c *Config) { c.History.Path = "" },
		"dump history":    func(c *Config) { c.DumpDir = "." },
		"dump parent":     func(c *Config) { c.DumpDir = "/"; c.History.Path = "/var/lib/aum/aum_data.csv" },
	}
	for name, mutate := range mutations {
		config := DefaultConfig()
		mutate(&config)
		require.Error(t, config.Validate(), name)
	}
	require.NoError(t, DefaultConfig().Validate())
}

func TestOpenStore(t *testing.T) {
	config := DefaultConfig()
	config.History = HistoryConfig{Driver: DriverSQLite, Path: ":memory:"}
	store, err := config.OpenStore(telemetry.NewRecorder())
	require.NoError(t, err)
	require.IsType(t, history.SQLStore{}, store)
	require.NoError(t, store.Close())

	config.History = HistoryConfig{Driver: DriverCSV, Path: filepath.Join(t.TempDir(), "aum.csv")}
	store, err = config.OpenStore(telemetry.NewRecorder())
	require.NoError(t, err)
	require.IsType(t, history.CSVStore{}, store)
}

func TestFetcherOpenerRefusesDumpOverHistory(t *testing.T) {
	dir := t.TempDir()
	historyPath := filepath.Join(dir, "aum_data.csv")
	configPath := filepath.Join(dir, "config.json5")
	require.NoError(t, os.WriteFile(historyPath, []byte("Date,AUM_9008\n2026-10-16,1\n"), 0644))
	require.NoError(t, os.WriteFile(configPath, []byte("{}"), 0644))

	config := DefaultConfig()
	config.Engine = browser.EngineHttp
	config.History.Path = historyPath
	config.DumpDir = dir

	_, err := config.NewFetcherOpener(telemetry.NewRecorder())(context.Background())
	require.Error(t, err)
	require.FileExists(t, historyPath)
	require.FileExists(t, configPath)
}

func TestFetcherOpenerDumpKeepsOtherFiles(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json5")
	require.NoError(t, os.WriteFile(configPath, []byte("{}"), 0644))

	config := DefaultConfig()
	config.Engine = browser.EngineHttp
	config.History.Path = filepath.Join(t.TempDir(), "aum_data.csv")
	config.DumpDir = dir
	require.NoError(t, config.Validate())

	fetcher, err := config.NewFetcherOpener(telemetry.NewRecorder())(context.Background())
	require.NoError(t, err)
	require.NoError(t, fetcher.Close())
	require.FileExists(t, configPath)
}

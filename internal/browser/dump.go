package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"
)

// FilesystemOutput writes fetched pages into a directory, it is meant for
// inspecting what a fetcher actually saw when extraction breaks.
type FilesystemOutput struct {
	directory string
}

// dumpFile matches the names given out by dumpName.
var dumpFile = regexp.MustCompile(`^\d{3}_[\w\-.]*\.html$`)

// NewFilesystemOutput creates `dir` if needed and removes the dumps of a previous
// run from it, any other file in `dir` is left alone.
func NewFilesystemOutput(dir string) (FilesystemOutput, error) {
	err := os.MkdirAll(dir, 0777)
	if err != nil {
		return FilesystemOutput{}, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return FilesystemOutput{}, err
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !dumpFile.MatchString(entry.Name()) {
			continue
		}
		err = os.Remove(filepath.Join(dir, entry.Name()))
		if err != nil {
			return FilesystemOutput{}, err
		}
	}
	return FilesystemOutput{directory: dir}, nil
}

func (o FilesystemOutput) Write(id string, contents string) {
	err := os.WriteFile(filepath.Join(o.directory, id), []byte(contents), 0600)
	if err != nil {
		slog.Warn("failed to write page dump", "id", id, "err", err)
	}
}

var unsafeFilename = regexp.MustCompile(`[^\w\-.]+`)

// dumpName names a dump after its sequence number and the query of the url,
// the query is what tells quote pages apart.
func dumpName(seq uint64, rawUrl string) string {
	name := rawUrl
	parsed, err := url.Parse(rawUrl)
	if err == nil && parsed.RawQuery != "" {
		name = parsed.RawQuery
	}
	name = unsafeFilename.ReplaceAllString(name, "_")
	if len(name) > 64 {
		name = name[:64]
	}
	return fmt.Sprintf("%03d_%s.html", seq, name)
}

type dumpFetcher struct {
	inner  Fetcher
	output FilesystemOutput
	seq    *uint64
}

// WithDump returns a Fetcher that writes every page `inner` fetches to `output`.
func WithDump(inner Fetcher, output FilesystemOutput) Fetcher {
	var seq uint64
	return dumpFetcher{inner: inner, output: output, seq: &seq}
}

func (d dumpFetcher) Fetch(ctx context.Context, url string) (string, error) {
	page, err := d.inner.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	d.output.Write(dumpName(atomic.AddUint64(d.seq, 1), url), page)
	return page, nil
}

func (d dumpFetcher) Close() error {
	return d.inner.Close()
}

// Package sources parses the server manifest and mirrors logfiles into
// the local log directory. Downloads resume with HTTP range requests;
// a URL that 404s gets a zero-byte marker file so it is never fetched
// again.
package sources

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v2"
)

const (
	// SimultaneousDownloads bounds fetch parallelism across all sources.
	SimultaneousDownloads = 10

	requestTimeout = 10 * time.Minute
)

// Sprint and zotdef logs plus long-dead servers are never fetched.
var ignoredURLRegex = regexp.MustCompile(`(sprint|zotdef|rl\.heh\.fi|crawlus\.somatika\.net)`)

var logfileURLRegex = regexp.MustCompile(`(logfile|allgames)`)

// Source is one server's manifest entry after URL expansion.
type Source struct {
	Name string
	URLs []string
}

type manifest struct {
	Sources []manifestSource `yaml:"sources"`
}

type manifestSource struct {
	Name string `yaml:"name"`
	Base string `yaml:"base"`
	// Logs entries are usually strings; map entries describe
	// experimental branches and are skipped.
	Logs []any `yaml:"logs"`
}

// Load reads the manifest file and returns each source with its log
// URLs fully expanded and filtered.
func Load(path string) ([]Source, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sources: read manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("sources: parse manifest: %w", err)
	}

	var out []Source
	for _, ms := range m.Sources {
		base := ms.Base
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		src := Source{Name: ms.Name}
		for _, entry := range ms.Logs {
			pattern, ok := entry.(string)
			if !ok {
				continue
			}
			pattern = strings.ReplaceAll(pattern, "*", "")
			for _, expanded := range braceExpand(pattern) {
				u := base + expanded
				if ignoredURLRegex.MatchString(u) {
					continue
				}
				if !logfileURLRegex.MatchString(u) {
					continue
				}
				src.URLs = append(src.URLs, u)
			}
		}
		if len(src.URLs) > 0 {
			out = append(out, src)
		}
	}
	return out, nil
}

// braceExpand expands bash-style {a,b} alternation, including nesting,
// e.g. "meta/{0.10,0.11}/logfile" into both versioned paths.
func braceExpand(s string) []string {
	open := strings.IndexByte(s, '{')
	if open < 0 {
		return []string{s}
	}
	depth := 0
	var alts []string
	last := open + 1
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				alts = append(alts, s[last:i])
				var out []string
				for _, alt := range alts {
					for _, exp := range braceExpand(s[:open] + alt + s[i+1:]) {
						out = append(out, exp)
					}
				}
				return out
			}
		case ',':
			if depth == 1 {
				alts = append(alts, s[last:i])
				last = i + 1
			}
		}
	}
	// Unbalanced brace, treat literally.
	return []string{s}
}

// Filename maps a log URL to its local filename: the URL path with
// slashes folded to dashes, e.g. "meta/crawl-0.12/logfile" to
// "meta-crawl-0.12-logfile".
func Filename(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("sources: bad url %q: %w", rawURL, err)
	}
	return strings.ReplaceAll(strings.TrimPrefix(u.Path, "/"), "/", "-"), nil
}

// Downloader mirrors manifest sources into a directory tree laid out
// as destDir/{source}/{file}.
type Downloader struct {
	client *http.Client
}

func NewDownloader() *Downloader {
	return &Downloader{client: &http.Client{Timeout: requestTimeout}}
}

// FetchAll downloads every source's logs. only, when non-empty,
// whitelists source names. Individual fetch failures are logged and
// skipped; the other files still download.
func (d *Downloader) FetchAll(ctx context.Context, srcs []Source, destDir string, only []string) error {
	whitelist := make(map[string]bool, len(only))
	for _, name := range only {
		whitelist[name] = true
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(SimultaneousDownloads)
	for _, src := range srcs {
		if len(whitelist) > 0 && !whitelist[src.Name] {
			continue
		}
		dir := filepath.Join(destDir, src.Name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("sources: mkdir %s: %w", dir, err)
		}
		log.Printf("[Sources] Downloading %d files for %s", len(src.URLs), src.Name)
		for _, u := range src.URLs {
			u := u
			g.Go(func() error {
				if err := d.fetch(ctx, u, dir); err != nil {
					log.Printf("[Sources] %v", err)
				}
				return nil
			})
		}
	}
	return g.Wait()
}

// fetch appends new bytes of one log URL to its local mirror.
func (d *Downloader) fetch(ctx context.Context, rawURL, dir string) error {
	name, err := Filename(rawURL)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, name)

	var offset int64
	if info, err := os.Stat(path); err == nil {
		// A zero-byte file marks a URL that 404ed before.
		if info.Size() == 0 {
			return nil
		}
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("sources: request %s: %w", rawURL, err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("sources: fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
	case http.StatusRequestedRangeNotSatisfiable:
		return nil // already have the whole file
	case http.StatusNotFound, http.StatusForbidden:
		// Poison the URL so future runs skip it.
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return fmt.Errorf("sources: mark %s: %w", path, err)
		}
		return fmt.Errorf("sources: %s: %s (marked dead)", rawURL, resp.Status)
	default:
		return fmt.Errorf("sources: %s: unexpected status %s", rawURL, resp.Status)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if resp.StatusCode == http.StatusPartialContent {
		flags |= os.O_APPEND
	} else {
		// Server ignored the range; take the full body.
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("sources: open %s: %w", path, err)
	}
	defer f.Close()

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return fmt.Errorf("sources: write %s: %w", path, err)
	}
	if n > 0 {
		log.Printf("[Sources] %s: +%d bytes", name, n)
	}
	return nil
}

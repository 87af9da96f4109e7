// Package firmware mirrors the vendor firmware catalog into a dated
// directory.
package firmware

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultCatalogURL is the vendor firmware catalog.
const DefaultCatalogURL = "https://www.shearwater.com/updates/firmwareupdate.xml"

// ErrCatalogUnavailable is returned when the catalog cannot be fetched.
var ErrCatalogUnavailable = errors.New("firmware catalog unavailable")

// Options configures a Downloader
type Options struct {
	CatalogURL string
	// Dir is the parent of the dated download directory
	Dir     string
	Timeout time.Duration
	Client  *http.Client
	// Now picks the download directory name
	Now func() time.Time
	// Out receives progress lines; nil discards them
	Out io.Writer
}

// Result summarizes a download run.
type Result struct {
	Dir        string
	Downloaded []string
	Skipped    []string
	Failed     []string
}

// Downloader fetches the catalog and every firmware file it lists.
type Downloader struct {
	opts   Options
	logger *logrus.Logger
}

// New creates a downloader. Zero option values use the defaults.
func New(opts *Options, logger *logrus.Logger) *Downloader {
	if logger == nil {
		logger = logrus.New()
	}
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.CatalogURL == "" {
		o.CatalogURL = DefaultCatalogURL
	}
	if o.Dir == "" {
		o.Dir = "."
	}
	if o.Timeout <= 0 {
		o.Timeout = 100 * time.Second
	}
	if o.Client == nil {
		o.Client = &http.Client{Timeout: o.Timeout}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Downloader{opts: o, logger: logger}
}

// catalog matches <root><computer><firmware><url>..</url></firmware></computer></root>
// whatever the element names of the first two levels are.
type catalog struct {
	Computers []struct {
		Firmware []struct {
			URLs []string `xml:"url"`
		} `xml:",any"`
	} `xml:",any"`
}

// Catalog returns every firmware URL listed in the catalog, in document order.
func (d *Downloader) Catalog(ctx context.Context) ([]string, error) {
	resp, err := d.get(ctx, d.opts.CatalogURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalogUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned HTTP %d", ErrCatalogUnavailable, d.opts.CatalogURL, resp.StatusCode)
	}

	var c catalog
	if err := xml.NewDecoder(resp.Body).Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to parse firmware catalog: %w", err)
	}

	var urls []string
	for _, computer := range c.Computers {
		for _, fw := range computer.Firmware {
			for _, u := range fw.URLs {
				if u = strings.TrimSpace(u); u != "" {
					urls = append(urls, u)
				}
			}
		}
	}
	d.logger.WithField("count", len(urls)).Debug("Firmware catalog parsed")
	return urls, nil
}

// DirName returns the DDMMYYYY directory name for t.
func DirName(t time.Time) string {
	return t.Format("02012006")
}

// Run downloads every catalog entry that is not already present. A failed
// file is reported and skipped; only catalog and directory errors abort.
func (d *Downloader) Run(ctx context.Context) (*Result, error) {
	urls, err := d.Catalog(ctx)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(d.opts.Dir, DirName(d.opts.Now()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	res := &Result{Dir: dir}
	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		name, err := fileName(u)
		if err != nil {
			d.logger.WithError(err).WithField("url", u).Warn("Skipping firmware entry")
			res.Failed = append(res.Failed, u)
			continue
		}
		target := filepath.Join(dir, name)
		if _, err := os.Stat(target); err == nil {
			res.Skipped = append(res.Skipped, u)
			continue
		}

		d.printf("Downloading %s\n", u)
		if err := d.download(ctx, u, target); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			d.logger.WithError(err).WithField("url", u).Error("Firmware download failed")
			d.printf("failed to download %s\n", u)
			res.Failed = append(res.Failed, u)
			continue
		}
		res.Downloaded = append(res.Downloaded, u)
	}

	d.printf("Done, %d firmware files were downloaded\n", len(res.Downloaded))
	return res, nil
}

// download writes to a temporary file first so an interrupted transfer never
// leaves a file that a later run would skip.
func (d *Downloader) download(ctx context.Context, u, target string) error {
	resp, err := d.get(ctx, u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}

func (d *Downloader) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return d.opts.Client.Do(req)
}

func (d *Downloader) printf(format string, args ...any) {
	if d.opts.Out != nil {
		_, _ = fmt.Fprintf(d.opts.Out, format, args...)
	}
}

func fileName(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("no file name in %q", raw)
	}
	return name, nil
}

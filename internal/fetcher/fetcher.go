// Package fetcher opens source tables from local paths, HTTP(S) and FTP and
// streams their rows from CSV or XLSX.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// Fetcher downloads a remote location.
type Fetcher interface {
	Download(ctx context.Context, location string) (io.ReadCloser, error)
}

// Options configures an Opener.
type Options struct {
	HTTP HTTPOptions
	FTP  FTPOptions
}

// Opener resolves a source location to a reader, dispatching on its scheme.
type Opener struct {
	http Fetcher
	ftp  Fetcher
}

// NewOpener creates an Opener with HTTP and FTP fetchers.
func NewOpener(opts Options) *Opener {
	return &Opener{
		http: NewHTTPFetcher(opts.HTTP),
		ftp:  NewFTPFetcher(opts.FTP),
	}
}

// NewOpenerWith uses the given fetchers; nil disables that scheme.
func NewOpenerWith(httpFetcher, ftpFetcher Fetcher) *Opener {
	return &Opener{http: httpFetcher, ftp: ftpFetcher}
}

// Open returns a reader for location: an http(s):// or ftp:// URL, a
// file:// URL or a local path. The caller closes it.
func (o *Opener) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	switch Scheme(location) {
	case "http", "https":
		if o.http == nil {
			return nil, eris.Errorf("fetcher: http disabled for %s", location)
		}
		return o.http.Download(ctx, location)
	case "ftp":
		if o.ftp == nil {
			return nil, eris.Errorf("fetcher: ftp disabled for %s", location)
		}
		return o.ftp.Download(ctx, location)
	case "file":
		u, err := url.Parse(location)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: parse %s", location)
		}
		return openFile(u.Path)
	default:
		return openFile(location)
	}
}

func openFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open %s", path)
	}
	return f, nil
}

// Scheme returns the lowercase URL scheme of location, or "" for local paths.
func Scheme(location string) string {
	i := strings.Index(location, "://")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(location[:i])
}

// Ext returns the lowercase file extension of location without query string.
func Ext(location string) string {
	p := location
	if Scheme(location) != "" {
		if u, err := url.Parse(location); err == nil {
			p = u.Path
		}
	}
	i := strings.LastIndex(p, ".")
	if i < 0 || strings.ContainsRune(p[i:], '/') {
		return ""
	}
	return strings.ToLower(p[i+1:])
}

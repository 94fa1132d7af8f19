// Package fetcher opens dataset sources from local paths, HTTP and FTP,
// extracts ZIP archives, and streams JSONL and delimited records.
package fetcher

import (
	"compress/gzip"
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Opener resolves a source URI to a reader. Plain paths and file:// URIs are
// read from disk; http(s):// and ftp:// go through the matching Fetcher.
type Opener struct {
	HTTP Fetcher
	FTP  Fetcher
}

// NewOpener creates an Opener with default HTTP and FTP fetchers.
func NewOpener() *Opener {
	return &Opener{
		HTTP: NewHTTPFetcher(HTTPOptions{}),
		FTP:  NewFTPFetcher(FTPOptions{}),
	}
}

func (o *Opener) remote(scheme string) (Fetcher, error) {
	switch scheme {
	case "http", "https":
		return o.HTTP, nil
	case "ftp":
		return o.FTP, nil
	default:
		return nil, eris.Errorf("fetcher: unsupported scheme %q", scheme)
	}
}

// Open returns a reader for uri. Sources ending in .gz are decompressed.
func (o *Opener) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	scheme, p := splitURI(uri)

	var rc io.ReadCloser
	if scheme == "" {
		f, err := os.Open(p)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: open %s", p)
		}
		rc = f
	} else {
		f, err := o.remote(scheme)
		if err != nil {
			return nil, err
		}
		body, err := f.Download(ctx, uri)
		if err != nil {
			return nil, err
		}
		rc = body
	}

	if strings.HasSuffix(strings.ToLower(p), ".gz") {
		gz, err := gzip.NewReader(rc)
		if err != nil {
			rc.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "fetcher: gunzip %s", uri)
		}
		return &gzipReadCloser{Reader: gz, under: rc}, nil
	}
	return rc, nil
}

// Fetch makes uri available on local disk and returns its path. Remote files
// are downloaded into destDir once and reused on later calls.
func (o *Opener) Fetch(ctx context.Context, uri, destDir string) (string, error) {
	scheme, p := splitURI(uri)
	if scheme == "" {
		if _, err := os.Stat(p); err != nil {
			return "", eris.Wrapf(err, "fetcher: stat %s", p)
		}
		return p, nil
	}

	f, err := o.remote(scheme)
	if err != nil {
		return "", err
	}

	name := path.Base(p)
	if name == "" || name == "/" || name == "." {
		return "", eris.Errorf("fetcher: cannot derive file name from %s", uri)
	}
	dest := filepath.Join(destDir, name)
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		zap.L().Info("fetcher: using cached download", zap.String("path", dest))
		return dest, nil
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", eris.Wrapf(err, "fetcher: create %s", destDir)
	}

	// Download to a temp name so an interrupted transfer is never mistaken
	// for a cached file.
	tmp := dest + ".part"
	n, err := f.DownloadToFile(ctx, uri, tmp)
	if err != nil {
		os.Remove(tmp) //nolint:errcheck
		return "", err
	}
	if err := os.Rename(tmp, dest); err != nil {
		return "", eris.Wrapf(err, "fetcher: rename %s", tmp)
	}

	zap.L().Info("fetcher: downloaded",
		zap.String("url", uri),
		zap.String("path", dest),
		zap.Int64("bytes", n),
	)
	return dest, nil
}

// splitURI returns the lowercase scheme ("" for local paths) and the path.
func splitURI(uri string) (string, string) {
	u, err := url.Parse(uri)
	if err != nil || len(u.Scheme) <= 1 {
		// Bare paths and Windows drive letters.
		return "", uri
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "file" {
		return "", u.Path
	}
	return scheme, u.Path
}

type gzipReadCloser struct {
	*gzip.Reader
	under io.Closer
}

func (g *gzipReadCloser) Close() error {
	gzErr := g.Reader.Close()
	if err := g.under.Close(); err != nil {
		return eris.Wrap(err, "fetcher: close source")
	}
	return eris.Wrap(gzErr, "fetcher: close gzip")
}

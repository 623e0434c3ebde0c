/*
Copyright 2025 Pacewatch Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package assets downloads certificate images to local disk. Files are
// written through a temp name and renamed atomically so a crashed
// download never leaves a half image behind, and undersized responses
// (provider error pages) are rejected.
package assets

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gravitational/trace"

	"github.com/pacewatch/pacewatch/lib/defaults"
	"github.com/pacewatch/pacewatch/lib/httpclient"
	"github.com/pacewatch/pacewatch/lib/utils"
)

// Config holds downloader parameters.
type Config struct {
	// HTTP is the transport used for downloads.
	HTTP *httpclient.Client
	// CertDir is the root directory certificates are saved under.
	CertDir string
	// MinSize is the smallest byte count accepted as a real image.
	MinSize int
	// Timeout bounds one download.
	Timeout time.Duration
	// Logger is the downloader logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config.
func (c *Config) CheckAndSetDefaults() error {
	if c.HTTP == nil {
		return trace.BadParameter("missing HTTP client")
	}
	if c.CertDir == "" {
		return trace.BadParameter("missing certificate directory")
	}
	if c.MinSize <= 0 {
		c.MinSize = defaults.ImageMinSize
	}
	if c.Timeout <= 0 {
		c.Timeout = defaults.ImageDownloadTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.With("component", "assets")
	}
	return nil
}

// Downloader saves certificate images. Safe for concurrent use.
type Downloader struct {
	cfg Config
	seq atomic.Int64
}

// NewDownloader creates a downloader.
func NewDownloader(cfg Config) (*Downloader, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Downloader{cfg: cfg}, nil
}

// SaveCertificate downloads a certificate image to
// CertDir/{usedata}/{usedata}-{bib6}.{ext} and returns the saved path
// with forward slashes.
func (d *Downloader) SaveCertificate(ctx context.Context, host, usedata, bib, imageURL, referer string) (string, error) {
	usedata = strings.TrimSpace(usedata)
	bib = strings.TrimSpace(bib)
	if usedata == "" || bib == "" || imageURL == "" {
		return "", trace.BadParameter("certificate download needs usedata, bib and url")
	}
	bib6 := utils.PadBib6(bib)
	dest := filepath.Join(d.cfg.CertDir, safeFilePart(usedata),
		safeFilePart(usedata+"-"+bib6))
	return d.downloadTo(ctx, dest, imageURL, host, referer)
}

// downloadTo fetches url into destPath, appending an extension
// inferred from the response when destPath has none. A TLS
// verification failure is retried once with verification disabled.
func (d *Downloader) downloadTo(ctx context.Context, destPath, rawurl, host, referer string) (string, error) {
	params := httpclient.GetParams{Timeout: d.cfg.Timeout, Referer: referer}
	resp, err := d.cfg.HTTP.Get(ctx, rawurl, params)
	if err != nil {
		if !isTLSError(err) {
			return "", trace.Wrap(err)
		}
		d.cfg.Logger.WarnContext(ctx, "TLS failure, retrying unverified",
			"host", host, "url", rawurl)
		insecure := false
		params.Verify = &insecure
		if resp, err = d.cfg.HTTP.Get(ctx, rawurl, params); err != nil {
			return "", trace.Wrap(err)
		}
	}
	if resp.StatusCode != 200 {
		return "", trace.ConnectionProblem(nil, "image fetch returned status %v for %v",
			resp.StatusCode, rawurl)
	}
	if len(resp.Body) < d.cfg.MinSize {
		return "", trace.BadParameter("image too small (%v bytes) for %v",
			len(resp.Body), rawurl)
	}

	if filepath.Ext(destPath) == "" {
		destPath += guessExt(rawurl, resp.ContentType())
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", trace.ConvertSystemError(err)
	}

	tmp := fmt.Sprintf("%s.part.%d.%d", destPath, os.Getpid(), d.seq.Add(1))
	if err := os.WriteFile(tmp, resp.Body, 0o644); err != nil {
		return "", trace.ConvertSystemError(err)
	}
	if err := os.Rename(tmp, destPath); err != nil {
		os.Remove(tmp)
		return "", trace.ConvertSystemError(err)
	}
	return filepath.ToSlash(destPath), nil
}

// guessExt infers an image extension from the content type, then the
// URL path, defaulting to .jpg.
func guessExt(rawurl, contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "image/jpeg"), strings.Contains(ct, "image/jpg"):
		return ".jpg"
	case strings.Contains(ct, "image/png"):
		return ".png"
	case strings.Contains(ct, "image/webp"):
		return ".webp"
	}
	if u, err := url.Parse(rawurl); err == nil {
		switch ext := strings.ToLower(path.Ext(u.Path)); ext {
		case ".jpg", ".jpeg", ".png", ".webp":
			return ext
		}
	}
	return ".jpg"
}

func isTLSError(err error) bool {
	var certErr *x509.CertificateInvalidError
	var unknownErr x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	if errors.As(err, &certErr) || errors.As(err, &unknownErr) || errors.As(err, &hostErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "certificate") || strings.Contains(msg, "tls")
}

// safeFilePart strips characters unsafe in file names; everything else
// (Korean included) passes through.
func safeFilePart(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		switch r {
		case '\\', '/', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, s))
}

// ToWebStaticPath converts a stored local path into the /static/...
// URL the admin UI serves, or "" when the path lies outside the static
// tree.
func ToWebStaticPath(localPath, staticRoot string) string {
	if localPath == "" {
		return ""
	}
	p := filepath.ToSlash(localPath)
	if idx := strings.LastIndex(strings.ToLower(p), "/static/"); idx != -1 {
		return p[idx:]
	}
	root := filepath.ToSlash(staticRoot)
	if root != "" && strings.HasPrefix(p, root) {
		rel := strings.TrimPrefix(p, root)
		if !strings.HasPrefix(rel, "/") {
			rel = "/" + rel
		}
		return "/static" + rel
	}
	return ""
}

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

package assets

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pacewatch/pacewatch/lib/httpclient"
)

func newTestDownloader(t *testing.T, certDir string) *Downloader {
	t.Helper()
	client, err := httpclient.New(httpclient.Config{MaxWorkers: 2})
	require.NoError(t, err)
	d, err := NewDownloader(Config{HTTP: client, CertDir: certDir})
	require.NoError(t, err)
	return d
}

func TestSaveCertificate(t *testing.T) {
	img := bytes.Repeat([]byte{0xff}, 2048)
	var gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("Referer")
		w.Header().Set("Content-Type", "image/png")
		w.Write(img)
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := newTestDownloader(t, dir)
	saved, err := d.SaveCertificate(context.Background(),
		"img.spct.kr", "2025092102", "123", srv.URL+"/cert", "https://spct.co.kr/record?bib=123")
	require.NoError(t, err)
	require.Equal(t, "https://spct.co.kr/record?bib=123", gotReferer)

	// bib padded to 6 digits, extension from content type
	require.True(t, strings.HasSuffix(saved, "/2025092102/2025092102-000123.png"), saved)
	data, err := os.ReadFile(filepath.FromSlash(saved))
	require.NoError(t, err)
	require.Equal(t, img, data)

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Join(dir, "2025092102"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestSaveCertificateRejectsSmall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not found"))
	}))
	defer srv.Close()

	d := newTestDownloader(t, t.TempDir())
	_, err := d.SaveCertificate(context.Background(), "", "202504m", "1", srv.URL, "")
	require.Error(t, err)
}

func TestSaveCertificateBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	d := newTestDownloader(t, t.TempDir())
	_, err := d.SaveCertificate(context.Background(), "", "202504m", "1", srv.URL, "")
	require.Error(t, err)
}

func TestSaveCertificateTLSDowngrade(t *testing.T) {
	img := bytes.Repeat([]byte{0x01}, 1024)
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(img)
	}))
	defer srv.Close()

	// the self-signed server fails verification; the downloader
	// retries unverified once
	d := newTestDownloader(t, t.TempDir())
	saved, err := d.SaveCertificate(context.Background(), "127.0.0.1", "ev1", "42", srv.URL, "")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(saved, "/ev1/ev1-000042.jpg"), saved)
}

func TestSaveCertificateBadArgs(t *testing.T) {
	d := newTestDownloader(t, t.TempDir())
	_, err := d.SaveCertificate(context.Background(), "", "", "1", "http://x/y", "")
	require.Error(t, err)
	_, err = d.SaveCertificate(context.Background(), "", "ev", "", "http://x/y", "")
	require.Error(t, err)
}

func TestGuessExt(t *testing.T) {
	require.Equal(t, ".png", guessExt("http://x/a", "image/png"))
	require.Equal(t, ".jpg", guessExt("http://x/a", "image/jpeg; charset=binary"))
	require.Equal(t, ".webp", guessExt("http://x/a.webp", ""))
	require.Equal(t, ".jpg", guessExt("http://x/a.gif", "text/html"))
}

func TestToWebStaticPath(t *testing.T) {
	require.Equal(t, "/static/certs/ev/ev-000001.jpg",
		ToWebStaticPath("/srv/app/static/certs/ev/ev-000001.jpg", ""))
	require.Equal(t, "/static/certs/ev/x.jpg",
		ToWebStaticPath("/data/certs/ev/x.jpg", "/data"))
	require.Empty(t, ToWebStaticPath("/elsewhere/x.jpg", "/data"))
	require.Empty(t, ToWebStaticPath("", "/data"))
}

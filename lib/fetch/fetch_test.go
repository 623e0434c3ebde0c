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

package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/pacewatch/pacewatch/lib/browser"
	"github.com/pacewatch/pacewatch/lib/httpclient"
)

func newHTTP(t *testing.T) *httpclient.Client {
	t.Helper()
	c, err := httpclient.New(httpclient.Config{RetryBackoff: time.Millisecond})
	require.NoError(t, err)
	return c
}

type fakeRenderer struct {
	body  string
	err   error
	calls atomic.Int32
}

func (r *fakeRenderer) Fetch(ctx context.Context, req browser.Request) (string, error) {
	r.calls.Add(1)
	return r.body, r.err
}

func TestFetchCachesByKey(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte("body"))
	}))
	defer srv.Close()

	clock := clockwork.NewFakeClock()
	f, err := New(Config{HTTP: newHTTP(t), CacheTTL: 30 * time.Second, Clock: clock})
	require.NoError(t, err)

	ctx := context.Background()
	body, err := f.Fetch(ctx, srv.URL, 0, nil)
	require.NoError(t, err)
	require.Equal(t, "body", body)

	_, err = f.Fetch(ctx, srv.URL, 0, nil)
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load(), "second fetch must be served from cache")

	// a different timeout is a different cache key
	_, err = f.Fetch(ctx, srv.URL, 5*time.Second, nil)
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())

	// TTL expiry refetches
	clock.Advance(31 * time.Second)
	_, err = f.Fetch(ctx, srv.URL, 0, nil)
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
}

func TestFetchBrowserFirstWithHTTPFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("http body"))
	}))
	defer srv.Close()

	rend := &fakeRenderer{body: "<html>rendered</html>"}
	f, err := New(Config{HTTP: newHTTP(t), Browser: rend})
	require.NoError(t, err)

	// non-provider host never touches the browser
	body, err := f.Fetch(context.Background(), srv.URL, 0, nil)
	require.NoError(t, err)
	require.Equal(t, "http body", body)
	require.Equal(t, int32(0), rend.calls.Load())
}

func TestFetchUpstreamErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f, err := New(Config{HTTP: newHTTP(t)})
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), srv.URL, 0, nil)
	require.Error(t, err)
}

func TestSelectorFor(t *testing.T) {
	_, ok := selectorFor("www.myresult.co.kr")
	require.True(t, ok)
	_, ok = selectorFor("time.spct.co.kr")
	require.True(t, ok)
	_, ok = selectorFor("smartchip.co.kr")
	require.True(t, ok)
	_, ok = selectorFor("example.com")
	require.False(t, ok)
}

func TestDecodeBodyEUCKR(t *testing.T) {
	// "도착" in EUC-KR
	raw := []byte{0xb5, 0xb5, 0xc2, 0xf8}
	require.Equal(t, "도착", DecodeBody(raw, "text/html; charset=euc-kr"))
	require.Equal(t, "plain", DecodeBody([]byte("plain"), "text/html"))
}

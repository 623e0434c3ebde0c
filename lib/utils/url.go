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

package utils

import (
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"time"
)

// AddCacheBuster rewrites a URL with `_ts` (unix seconds) and `rand`
// (6-digit) query parameters so intermediate caches never serve a stale
// result page. The smartchip livephoto endpoint additionally expects the
// image-submit coordinates a real browser would send.
func AddCacheBuster(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return rawurl
	}
	q := u.Query()
	q.Set("_ts", fmt.Sprintf("%d", time.Now().Unix()))
	q.Set("rand", fmt.Sprintf("%06d", rand.Intn(900000)+100000))
	if strings.HasSuffix(u.Path, "/return_data_livephoto.asp") {
		if q.Get("Submit.x") == "" {
			q.Set("Submit.x", fmt.Sprintf("%d", rand.Intn(71)+10))
		}
		if q.Get("Submit.y") == "" {
			q.Set("Submit.y", fmt.Sprintf("%d", rand.Intn(26)+5))
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// NormalizeURL promotes scheme-less URLs to https.
func NormalizeURL(rawurl string) string {
	if strings.HasPrefix(rawurl, "http://") || strings.HasPrefix(rawurl, "https://") {
		return rawurl
	}
	return "https://" + strings.TrimLeft(rawurl, "/")
}

// AbsURL resolves a possibly relative URL against a provider host.
// myresult serves assets from its www subdomain only.
func AbsURL(baseHost, rawurl string) string {
	if rawurl == "" || strings.HasPrefix(rawurl, "http://") || strings.HasPrefix(rawurl, "https://") {
		return rawurl
	}
	host := baseHost
	if strings.Contains(baseHost, "myresult.co.kr") && !strings.HasPrefix(baseHost, "www.") {
		host = "www.myresult.co.kr"
	}
	u := url.URL{Scheme: "https", Host: host, Path: rawurl}
	return u.String()
}

// HostOf returns the lowercased hostname of a URL, or "" when it does
// not parse.
func HostOf(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

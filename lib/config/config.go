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

// Package config loads crawler configuration from the environment.
// Every variable is optional; defaults match production behavior.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gravitational/trace"

	"github.com/pacewatch/pacewatch/lib/defaults"
)

// Config carries the runtime configuration shared by the crawler engine
// and its collaborators.
type Config struct {
	// DBPath is the sqlite database file.
	DBPath string
	// StaticDir is the root for served static assets; certificate images
	// are written below it under certs/.
	StaticDir string
	// MaxWorkers bounds the per-marathon fetch pool.
	MaxWorkers int
	// CacheTTL is the fetch cache lifetime.
	CacheTTL time.Duration
	// VerifySSLDefault is the TLS verification policy for hosts not
	// listed in InsecureHosts.
	VerifySSLDefault bool
	// InsecureHosts are hosts fetched without TLS verification.
	InsecureHosts map[string]struct{}
	// ChromePath overrides the browser binary used by the headless
	// worker; empty means autodetect.
	ChromePath string
	// WebAppHost and WebAppPort locate the collaborating admin UI;
	// carried here so the crawler can derive referer URLs for it.
	WebAppHost string
	WebAppPort int
}

// FromEnv builds a Config from the process environment.
func FromEnv() (*Config, error) {
	cfg := &Config{
		DBPath:           getenv("CRAWLER_DB_PATH", "pacewatch.db"),
		StaticDir:        getenv("CRAWLER_STATIC_DIR", "static"),
		MaxWorkers:       defaults.MaxWorkers,
		CacheTTL:         defaults.FetchCacheTTL,
		VerifySSLDefault: os.Getenv("INSECURE_SSL") != "1",
		ChromePath:       os.Getenv("CHROME_PATH"),
		WebAppHost:       getenv("WEBAPP_HOST", "0.0.0.0"),
		WebAppPort:       5010,
	}

	if v := os.Getenv("CRAWLER_MAX_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, trace.BadParameter("CRAWLER_MAX_WORKERS: %q is not a number", v)
		}
		cfg.MaxWorkers = n
	}
	if v := os.Getenv("CRAWLER_CACHE_TTL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, trace.BadParameter("CRAWLER_CACHE_TTL: %q is not a number", v)
		}
		cfg.CacheTTL = time.Duration(n) * time.Second
	}
	if v := os.Getenv("WEBAPP_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, trace.BadParameter("WEBAPP_PORT: %q is not a number", v)
		}
		cfg.WebAppPort = n
	}

	cfg.InsecureHosts = make(map[string]struct{})
	hosts := defaults.InsecureHosts
	if v := os.Getenv("INSECURE_HOSTS"); v != "" {
		hosts = strings.Split(v, ",")
	}
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			cfg.InsecureHosts[h] = struct{}{}
		}
	}

	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return cfg, nil
}

// CheckAndSetDefaults validates the configuration and fills defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = defaults.MaxWorkers
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaults.FetchCacheTTL
	}
	if c.DBPath == "" {
		return trace.BadParameter("missing parameter DBPath")
	}
	if c.StaticDir == "" {
		return trace.BadParameter("missing parameter StaticDir")
	}
	if c.InsecureHosts == nil {
		c.InsecureHosts = make(map[string]struct{})
	}
	return nil
}

// CertDir is where certificate images are stored.
func (c *Config) CertDir() string {
	return filepath.Join(c.StaticDir, "certs")
}

// VerifyForHost decides whether TLS verification applies to a host.
func (c *Config) VerifyForHost(host string) bool {
	if !c.VerifySSLDefault {
		return false
	}
	_, insecure := c.InsecureHosts[strings.ToLower(host)]
	return !insecure
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

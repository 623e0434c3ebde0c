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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pacewatch/pacewatch/lib/defaults"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, defaults.MaxWorkers, cfg.MaxWorkers)
	require.Equal(t, defaults.FetchCacheTTL, cfg.CacheTTL)
	require.True(t, cfg.VerifySSLDefault)
	// built-in insecure hosts are honored out of the box
	require.False(t, cfg.VerifyForHost("smartchip.co.kr"))
	require.True(t, cfg.VerifyForHost("example.com"))
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("CRAWLER_MAX_WORKERS", "8")
	t.Setenv("CRAWLER_CACHE_TTL", "7")
	t.Setenv("INSECURE_HOSTS", "a.example.com, B.example.com")
	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, 8, cfg.MaxWorkers)
	require.Equal(t, 7*time.Second, cfg.CacheTTL)
	require.False(t, cfg.VerifyForHost("a.example.com"))
	require.False(t, cfg.VerifyForHost("b.example.com"))
	// explicit list replaces the built-ins
	require.True(t, cfg.VerifyForHost("smartchip.co.kr"))
}

func TestFromEnvGlobalInsecure(t *testing.T) {
	t.Setenv("INSECURE_SSL", "1")
	cfg, err := FromEnv()
	require.NoError(t, err)
	require.False(t, cfg.VerifyForHost("example.com"))
}

func TestFromEnvBadNumber(t *testing.T) {
	t.Setenv("CRAWLER_MAX_WORKERS", "many")
	_, err := FromEnv()
	require.Error(t, err)
}

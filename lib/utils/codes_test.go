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
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pacewatch/pacewatch/lib/defaults"
)

func TestGenJoinCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 64; i++ {
		code, err := GenJoinCode(defaults.JoinCodeLength)
		require.NoError(t, err)
		require.Len(t, code, defaults.JoinCodeLength)
		for _, r := range code {
			require.Contains(t, defaults.JoinCodeAlphabet, string(r))
		}
		// no confusable characters, ever
		require.NotContains(t, code, "I")
		require.NotContains(t, code, "O")
		require.NotContains(t, code, "0")
		require.NotContains(t, code, "1")
		seen[code] = true
	}
	require.Greater(t, len(seen), 60, "codes should be effectively unique")
}

func TestNormalizeBibForHost(t *testing.T) {
	tests := []struct {
		host, bib, want string
	}{
		{"time.spct.co.kr", "123", "000123"},
		{"time.spct.co.kr", "ABC123", "ABC123"},
		{"time.spct.co.kr", "000123", "000123"},
		{"smartchip.co.kr", "123", "123"},
		{"", "123", "123"},
	}
	for _, tt := range tests {
		got := NormalizeBibForHost(tt.host, tt.bib)
		require.Equal(t, tt.want, got)
		// idempotent
		require.Equal(t, tt.want, NormalizeBibForHost(tt.host, got))
	}
}

func TestPadBib6(t *testing.T) {
	require.Equal(t, "000007", PadBib6("7"))
	require.Equal(t, "1234567", PadBib6("1234567"))
	require.Equal(t, "no-pad", PadBib6("no-pad"))
	require.Equal(t, "", PadBib6(""))
	require.False(t, strings.Contains(PadBib6("42"), " "))
}

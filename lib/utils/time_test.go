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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDurationSec(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"00:25:30", 1530, true},
		{"05:06", 306, true},
		{"1:02:03", 3723, true},
		{"01:02:03.499", 3723, true},
		{"01:02:03.5", 3724, true},
		{"25:30.75", 1531, true},
		{"", 0, false},
		{"abc", 0, false},
		{"12", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDurationSec(tt.in)
			require.Equal(t, tt.ok, ok)
			if ok {
				require.Equal(t, tt.want, got)
			}
		})
	}
}

func TestFormatDurationRoundTrip(t *testing.T) {
	// format(parse(s)) == s for durations in H:MM:SS or MM:SS shape.
	for _, s := range []string{"1:45:00", "3:53:41", "05:06", "51:00", "00:30", "10:59:59"} {
		sec, ok := ParseDurationSec(s)
		require.True(t, ok, s)
		require.Equal(t, s, FormatDuration(sec))
	}
}

func TestLooksTime(t *testing.T) {
	require.True(t, LooksTime("finish at 01:45:00 today"))
	require.True(t, LooksTime("05:06"))
	require.True(t, LooksTime("09:27:56.78"))
	require.False(t, LooksTime(""))
	require.False(t, LooksTime("no time here"))
	require.False(t, LooksTime("123456"))
}

func TestAllTimes(t *testing.T) {
	got := AllTimes("09:27:56.78 (00:26:16.51)")
	require.Equal(t, []string{"09:27:56.78", "00:26:16.51"}, got)
	require.Empty(t, AllTimes("plain text"))
}

func TestETAFromClock(t *testing.T) {
	eta, ok := ETAFromClock("10:45:00", 600)
	require.True(t, ok)
	require.Equal(t, "10:55:00", eta)

	// Midnight wrap is preserved, no date carried.
	eta, ok = ETAFromClock("23:58:00", 300)
	require.True(t, ok)
	require.Equal(t, "00:03:00", eta)

	_, ok = ETAFromClock("bogus", 60)
	require.False(t, ok)
}

func TestClockToSec(t *testing.T) {
	sec, ok := ClockToSec("09:25:30")
	require.True(t, ok)
	require.Equal(t, 9*3600+25*60+30, sec)

	sec, ok = ClockToSec("09:27:56.78")
	require.True(t, ok)
	require.Equal(t, 9*3600+27*60+56, sec)

	_, ok = ClockToSec("25:30")
	require.False(t, ok)
}

func TestFormatHMS(t *testing.T) {
	require.Equal(t, "00:12:00", FormatHMS(720))
	require.Equal(t, "01:00:05", FormatHMS(3605))
}
